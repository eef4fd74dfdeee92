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

// Next is the continuation passed to a Middleware. Calling it delegates to
// whatever comes after the current frame in the composed stack.
type Next func(ctx *Context) error

// Middleware is a polymorphic value exposing one operation: invoke with a
// context and a continuation. It may mutate ctx, call next zero or one
// time, and/or produce a response (spec §3, "Middleware").
type Middleware interface {
	Serve(ctx *Context, next Next) error
}

// MiddlewareFunc adapts a plain function to Middleware, the way
// http.HandlerFunc adapts a function to http.Handler.
type MiddlewareFunc func(ctx *Context, next Next) error

// Serve implements Middleware.
func (f MiddlewareFunc) Serve(ctx *Context, next Next) error { return f(ctx, next) }

// noop is the terminal continuation used when a composed stack has no
// outer handler to fall through to.
var noop Next = func(*Context) error { return nil }

// Compose takes an ordered list of middlewares and returns one Middleware
// that runs them in declaration order, each one's next() delegating to the
// following entry. The returned value's execution is reentrant-safe: each
// invocation tracks its own "deepest frame entered" index, so concurrent
// calls to the composed middleware do not share state (spec §4.B).
//
// Calling next() more than once from the same frame is a programming
// error: the second call does not advance past the already-visited frame
// and instead resolves to ErrInvalidChainUsage, without invoking any later
// middleware a second time.
func Compose(mws []Middleware) Middleware {
	stack := append([]Middleware(nil), mws...) // defensive copy; stacks are immutable post-bind
	return MiddlewareFunc(func(ctx *Context, final Next) error {
		if final == nil {
			final = noop
		}
		index := -1
		var run func(i int) error
		run = func(i int) error {
			if i <= index {
				return ErrInvalidChainUsage
			}
			index = i
			if i >= len(stack) {
				return final(ctx)
			}
			return stack[i].Serve(ctx, func(ctx *Context) error {
				return run(i + 1)
			})
		}
		return run(0)
	})
}

// ServeHTTPChain runs a single Middleware (typically the output of Compose)
// against ctx, falling through to outer when the stack doesn't produce a
// terminal response itself.
func ServeHTTPChain(mw Middleware, ctx *Context, outer Next) error {
	if mw == nil {
		if outer != nil {
			return outer(ctx)
		}
		return nil
	}
	return mw.Serve(ctx, outer)
}
