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
	"context"
	"net/http"
	"path"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// PathRouter owns an ordered list of (path pattern, middleware stack)
// entries for one virtual host (spec §4.D). It is backed by a conventional
// parameterised router (chi.Mux) supporting all HTTP methods; the spec's
// colon-prefixed parameter grammar (":id") and wildcard-prefix convention
// ("^/assets") are translated to chi's own "{id}" / "/assets/*" grammar at
// bind time in translatePattern.
type PathRouter struct {
	mux       *chi.Mux
	logger    *zap.Logger
	stacks    map[stackKey][]Middleware
	order     []stackKey // preserves first-seen order, for diagnostics/logging
	finalized bool
}

type stackKey struct {
	method  string // "" means any method
	pattern string // original, untranslated pattern; the stack's identity
}

type ctxKeyType struct{}

var reqCtxKey = ctxKeyType{}

// NewPathRouter returns an empty path router.
func NewPathRouter(logger *zap.Logger) *PathRouter {
	return &PathRouter{
		mux:    chi.NewMux(),
		logger: logger,
		stacks: make(map[stackKey][]Middleware),
	}
}

// translatePattern converts the spec's path grammar into chi's. A leading
// "^/" marks a wildcard-anchored prefix and expands to a trailing chi
// wildcard; colon-prefixed parameters ("/users/:id") become brace params
// ("/users/{id}"), and an explicit trailing "*" passes through untouched.
func translatePattern(p string) string {
	if strings.HasPrefix(p, "^/") {
		prefix := strings.TrimSuffix(p[1:], "/")
		if prefix == "" {
			return "/*"
		}
		return prefix + "/*"
	}
	return paramSyntax.ReplaceAllString(p, "{$1}")
}

var paramSyntax = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)`)

// Use registers mw for any HTTP method at pattern, pushing it onto that
// pattern's accumulated stack (spec §4.D: "Repeated calls with the same
// path extend the same stack").
func (pr *PathRouter) Use(pattern string, mw Middleware) {
	pr.push(stackKey{method: "", pattern: pattern}, mw)
}

// Get registers mw for GET requests only at pattern.
func (pr *PathRouter) Get(pattern string, mw Middleware) {
	pr.push(stackKey{method: http.MethodGet, pattern: pattern}, mw)
}

// Post registers mw for POST requests only at pattern.
func (pr *PathRouter) Post(pattern string, mw Middleware) {
	pr.push(stackKey{method: http.MethodPost, pattern: pattern}, mw)
}

func (pr *PathRouter) push(key stackKey, mw Middleware) {
	if _, ok := pr.stacks[key]; !ok {
		pr.order = append(pr.order, key)
	}
	pr.stacks[key] = append(pr.stacks[key], mw)
}

// AddRewrite installs a pre-routing transform: when pattern matches, the
// first occurrence of src in ctx.Path is replaced with dest, the result is
// path-normalized, and the chain continues (spec §4.E). Rewrite does not
// re-run routing; the compiled chain has already matched the rewrite's own
// path pattern.
func (pr *PathRouter) AddRewrite(pattern, src, dest string) {
	pr.Use(pattern, MiddlewareFunc(func(ctx *Context, next Next) error {
		if strings.Contains(ctx.Path, src) {
			rewritten := strings.Replace(ctx.Path, src, dest, 1)
			ctx.Path = path.Clean(rewritten)
			if strings.HasSuffix(rewritten, "/") && !strings.HasSuffix(ctx.Path, "/") {
				ctx.Path += "/"
			}
			ctx.Log("Rewrite", zap.String("from", src), zap.String("to", ctx.Path))
		}
		return next(ctx)
	}))
}

// AddRedirect installs a terminal middleware: sets Location and the given
// status (default 301) and does not call next (spec §4.E).
func (pr *PathRouter) AddRedirect(pattern, dest string, code int) {
	if code == 0 {
		code = http.StatusMovedPermanently
	}
	pr.Use(pattern, MiddlewareFunc(func(ctx *Context, next Next) error {
		return ctx.Redirect(dest, code)
	}))
}

// AddModule resolves name in reg, instantiates it with args under a fresh
// Execution Context bound to this router and pattern, and pushes the
// resulting middleware onto pattern's stack (spec §4.D). A factory that
// returns a nil middleware (an "app" that only registers sub-routes via its
// Mount, installing nothing at pattern itself) is not pushed.
func (pr *PathRouter) AddModule(pattern, name string, args map[string]any, reg *Registry) error {
	factory, err := reg.MustResolve(name)
	if err != nil {
		return err
	}
	mount := NewMount(pr, pattern, name, "")
	mw, err := factory(mount, args)
	if err != nil {
		return err
	}
	if mw != nil {
		pr.Use(pattern, mw)
	}
	return nil
}

// Finalize composes every accumulated stack into a single Middleware and
// installs it into the underlying chi router. It must be called exactly
// once, after all routes for this router have been registered; per spec §3
// ("Lifecycles"), routers are built once at startup and immutable
// thereafter.
func (pr *PathRouter) Finalize() {
	if pr.finalized {
		return
	}
	pr.finalized = true
	for _, key := range pr.order {
		composed := Compose(pr.stacks[key])
		chiPattern := translatePattern(key.pattern)
		handler := pr.chiHandler(composed)
		if key.method == "" {
			pr.mux.Handle(chiPattern, handler)
		} else {
			pr.mux.Method(key.method, chiPattern, handler)
		}
	}
	pr.mux.NotFound(pr.chiNotFound())
	pr.mux.MethodNotAllowed(pr.chiNotFound())
}

// chiHandler bridges a composed Middleware into chi's http.Handler world.
// The active *Context travels through the request's context.Context (it
// was created once by Server before host/path routing began); chi's job
// here is purely path/method matching, not context construction.
func (pr *PathRouter) chiHandler(mw Middleware) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := requestContext(r)
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			for i, key := range rctx.URLParams.Keys {
				ctx.Set("param."+key, rctx.URLParams.Values[i])
			}
		}
		ctx.chainErr = mw.Serve(ctx, func(c *Context) error {
			// Rewrite locality: the outer caller must see the pre-rewrite
			// path, never whatever the matched stack rewrote it to.
			c.ResetPath()
			if c.outer == nil {
				return nil
			}
			return c.outer(c)
		})
	}
}

func (pr *PathRouter) chiNotFound() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := requestContext(r)
		ctx.ResetPath()
		if ctx.outer != nil {
			ctx.chainErr = ctx.outer(ctx)
		}
	}
}

// Process matches ctx against this router's registered patterns and runs
// the matched stack. If nothing matches (including a router with no routes
// at all), the NotFound/MethodNotAllowed handler installed by Finalize
// restores the pre-rewrite path and invokes outer.
func (pr *PathRouter) Process(ctx *Context, outer Next) error {
	if !pr.finalized {
		pr.Finalize()
	}
	ctx.outer = outer
	req := ctx.Req.WithContext(context.WithValue(ctx.Req.Context(), reqCtxKey, ctx))
	pr.mux.ServeHTTP(ctx.Reply, req)
	err := ctx.chainErr
	ctx.chainErr = nil
	return err
}

// requestContext recovers the active *Context stashed by PathRouter.Process.
func requestContext(r *http.Request) *Context {
	c, _ := r.Context().Value(reqCtxKey).(*Context)
	return c
}
