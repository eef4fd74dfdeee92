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

package config

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cloudwindy/misaka/edgehttp"
	"github.com/cloudwindy/misaka/reverseproxy"
	"github.com/cloudwindy/misaka/static"
)

// App is the signature a §4.I application's entry point must satisfy: given
// its declared options and the Execution Context bound to its mount point,
// it registers its own sub-routes.
type App func(m *edgehttp.Mount, opts map[string]any) error

// RegisterBuiltins installs the minimum handler set spec §6 requires
// ("static", "proxy", "redirect"/"rewrite" are route-level fields rather
// than handler names, and "app") plus any additional named apps the caller
// supplies, into reg.
func RegisterBuiltins(reg *edgehttp.Registry, apps map[string]App, logger *zap.Logger) {
	reg.Register("static", staticFactory(logger))
	reg.Register("proxy", proxyFactory(logger))
	reg.Register("app", appFactory(apps))
}

func stringArg(args map[string]any, key string) string {
	if bare, ok := args["_"]; ok {
		if s, ok := bare.(string); ok {
			return s
		}
	}
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func boolArg(args map[string]any, key string, def bool) bool {
	if v, ok := args[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

func intArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func stringSliceArg(args map[string]any, key string) []string {
	v, ok := args[key]
	if !ok {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// staticFactory builds the "static" handler: a bare string names the root
// directory, otherwise the full Options set (spec §6).
func staticFactory(logger *zap.Logger) edgehttp.HandlerFactory {
	return func(m *edgehttp.Mount, args map[string]any) (edgehttp.Middleware, error) {
		opts := static.Options{
			Root:          stringArg(args, "root"),
			Base:          stringArg(args, "base"),
			Index:         stringArg(args, "index"),
			Hidden:        boolArg(args, "hidden", false),
			Format:        boolArg(args, "format", false),
			Browse:        boolArg(args, "browse", false),
			Immutable:     boolArg(args, "immutable", false),
			DisableBrotli: !boolArg(args, "brotli", true),
			DisableGzip:   !boolArg(args, "gzip", true),
			NoLog:         boolArg(args, "nolog", false),
			Extensions:    stringSliceArg(args, "extensions"),
		}
		if _, bare := args["_"]; bare {
			opts.Base, opts.Index = "", ""
		}
		if opts.Root == "" {
			opts.Root = m.ResolveFsPath(".")
		}
		if ms, ok := intArg(args, "maxage"); ok {
			opts.MaxAge = time.Duration(ms) * time.Millisecond
		}
		return static.New(opts, logger)
	}
}

// proxyFactory builds the "proxy" handler: a bare string names the
// upstream URL, otherwise the full Options set (spec §6).
func proxyFactory(logger *zap.Logger) edgehttp.HandlerFactory {
	return func(m *edgehttp.Mount, args map[string]any) (edgehttp.Middleware, error) {
		opts := reverseproxy.Options{
			Upstream:             stringArg(args, "upstream"),
			WebSocket:            boolArg(args, "websocket", false),
			NoLog:                boolArg(args, "nolog", false),
			RequestHeaderFilter:  stringSliceArg(args, "reqHeadersFilter"),
			ResponseHeaderFilter: stringSliceArg(args, "resHeadersFilter"),
			Logger:               logger,
		}
		if ms, ok := intArg(args, "timeout"); ok {
			opts.Timeout = time.Duration(ms) * time.Millisecond
		}
		return reverseproxy.New(opts)
	}
}

// appFactory builds the "app" handler of spec §4.I: it resolves the named
// app and calls its entry point with the mount bound to the route's base,
// returning a nil middleware since the app's own calls to m.Use/Get/Post
// register everything it needs.
func appFactory(apps map[string]App) edgehttp.HandlerFactory {
	return func(m *edgehttp.Mount, args map[string]any) (edgehttp.Middleware, error) {
		name := stringArg(args, "name")
		if name == "" {
			return nil, edgehttp.Error(0, fmt.Errorf("config: app handler requires a name"))
		}
		app, ok := apps[name]
		if !ok {
			return nil, edgehttp.Error(0, fmt.Errorf("config: unknown app %q", name))
		}
		if err := app(m, args); err != nil {
			return nil, err
		}
		return nil, nil
	}
}
