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

package edgehttp

import (
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// Server is the net/http-facing entry point: one HostRouter plus the
// request-lifecycle glue (Context construction, panic recovery, and
// handler-error-to-status translation described in spec §7).
type Server struct {
	Hosts  *HostRouter
	Logger *zap.Logger
}

// NewServer returns a Server backed by hosts. logger may be nil, in which
// case request logging is disabled (Context.LogEnabled stays true but
// writes are silently dropped).
func NewServer(hosts *HostRouter, logger *zap.Logger) *Server {
	return &Server{Hosts: hosts, Logger: logger}
}

// ServeHTTP implements http.Handler: it is the single entry point for
// every inbound connection this process accepts.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := NewContext(w, r, s.Logger)

	defer func() {
		if rec := recover(); rec != nil {
			ctx.Log("Panic", zap.Any("recover", rec))
			writeFallbackError(w, http.StatusInternalServerError)
		}
	}()

	err := s.Hosts.Process(ctx, nil)
	s.finish(ctx, err)
}

// finish translates whatever the router chain returned into a response, if
// one hasn't already been sent, and emits the access log line (spec §7:
// "an escaping error ... is mapped to its status and a body is written, if
// none has been written yet").
func (s *Server) finish(ctx *Context, err error) {
	if err != nil {
		var he HandlerError
		if !errors.As(err, &he) {
			he = Error(http.StatusInternalServerError, err)
		}
		ctx.Err = he
		status := he.StatusCode
		if status == 0 {
			status = http.StatusInternalServerError
		}
		if ctx.Reply.State() == StateBuffering {
			ctx.SetStatus(status)
			ctx.Reply.SetHeader("Content-Type", "text/plain; charset=utf-8")
			ctx.Reply.Write([]byte(he.Error()))
		}
		ctx.Log("RequestError", zap.Int("status", status), zap.String("error_id", he.ID), zap.Error(he))
		return
	}

	if ctx.Reply.State() == StateBuffering {
		// Nothing in the chain produced a response or fell through with an
		// error: escape with a plain 404, the same default the host/path
		// routers fall back to when nothing matches.
		ctx.SetStatus(http.StatusNotFound)
		ctx.Reply.Write(nil)
	}

	ctx.Log("Request",
		zap.String("method", ctx.Method),
		zap.String("host", ctx.Hostname),
		zap.String("path", ctx.OrigPath()),
		zap.Int("status", ctx.Status()),
		zap.Duration("elapsed", ctx.Elapsed()),
		zap.Int64("bytes", ctx.Bytes),
	)
}

// writeFallbackError is used only from the top-level panic recovery, where
// no Context/Response may be safely trusted anymore.
func writeFallbackError(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(http.StatusText(status)))
}
