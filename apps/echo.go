// Copyright 2015 Matthew Holt and The Caddy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package apps collects the built-in applications mountable via the "app"
// handler (spec §4.I), demonstrating the Execution Context surface a
// real app uses: mount-relative Get routes, which the Mount resolves
// against its base path.
package apps

import (
	"encoding/json"
	"net/http"

	"github.com/cloudwindy/misaka/edgehttp"
)

// Echo registers a tiny diagnostic app under its mount: GET / reports the
// request as the Mount rebased it, and GET /headers dumps request headers.
// It exists chiefly to exercise addModule/Mount end-to-end in tests.
func Echo(m *edgehttp.Mount, opts map[string]any) error {
	m.Get("/", edgehttp.MiddlewareFunc(func(ctx *edgehttp.Context, next edgehttp.Next) error {
		body, err := json.Marshal(map[string]any{
			"method": ctx.Method,
			"path":   ctx.Path,
			"host":   ctx.Hostname,
		})
		if err != nil {
			return edgehttp.Error(http.StatusInternalServerError, err)
		}
		ctx.Reply.Header().Set("Content-Type", "application/json")
		ctx.SetStatus(http.StatusOK)
		_, err = ctx.Reply.Write(body)
		return err
	}))

	m.Get("/headers", edgehttp.MiddlewareFunc(func(ctx *edgehttp.Context, next edgehttp.Next) error {
		body, err := json.Marshal(ctx.Req.Header)
		if err != nil {
			return edgehttp.Error(http.StatusInternalServerError, err)
		}
		ctx.Reply.Header().Set("Content-Type", "application/json")
		ctx.SetStatus(http.StatusOK)
		_, err = ctx.Reply.Write(body)
		return err
	}))

	return nil
}
