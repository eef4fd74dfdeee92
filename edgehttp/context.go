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

// Package edgehttp implements the request-routing and handler-composition
// engine of the edge server: per-request context, the middleware chain,
// the host and path routers, rewrite/redirect, the upgradable response,
// and application mounting.
package edgehttp

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/net/idna"
)

// Context carries a request, its response builder, and scratch attributes
// through the middleware chain. It is owned by exactly one request and is
// never shared across goroutines without explicit hand-off.
type Context struct {
	Req   *http.Request
	Reply *Response

	Method   string
	Host     string // raw Host header, including port if present
	Hostname string // IDN-unicode, port stripped
	Path     string // mutable "current path"; rewrites edit this in place
	origPath string // snapshot for the fall-through invariant
	Query    url.Values
	IP       string
	Secure   bool

	WS      bool
	upgrade func() (any, error)

	Site    string // the host pattern that matched this request
	Handler string // name of the handler currently serving

	LogEnabled bool
	logger     *zap.Logger

	Session any
	Bytes   int64
	Err     error

	outer    Next  // the fall-through continuation for the router currently dispatching this request
	chainErr error // set by the chi-bridged handler, picked up by PathRouter.Process

	id      string
	started time.Time
	attrs   map[string]any
}

// NewContext builds a per-request Context from an inbound HTTP request.
func NewContext(w http.ResponseWriter, r *http.Request, logger *zap.Logger) *Context {
	host := r.Host
	hostname := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		hostname = h
	}
	if u, err := idna.ToUnicode(hostname); err == nil {
		hostname = u
	}

	ip := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = h
	}

	ctx := &Context{
		Reply:      NewResponse(w, r),
		Req:        r,
		Method:     r.Method,
		Host:       host,
		Hostname:   strings.ToLower(hostname),
		Path:       r.URL.Path,
		Query:      r.URL.Query(),
		IP:         ip,
		Secure:     r.TLS != nil,
		LogEnabled: true,
		logger:     logger,
		id:         uuid.NewString(),
		started:    time.Now(),
		attrs:      make(map[string]any),
	}
	ctx.origPath = ctx.Path

	if websocket.IsWebSocketUpgrade(r) {
		ctx.WS = true
		reply := ctx.Reply
		ctx.SetUpgradeFunc(func() (any, error) {
			conn, err := reply.Upgrade(nil)
			if err != nil {
				return nil, err
			}
			return conn, nil
		})
	}

	return ctx
}

// OrigPath returns the request path as it was before any rewrite observed
// it, satisfying the rewrite-locality invariant (spec §8): on fall-through,
// the outer caller must see the pre-rewrite path.
func (ctx *Context) OrigPath() string { return ctx.origPath }

// ResetPath restores Path to its pre-rewrite value. Called when a stack
// falls through without a terminal response, so that sibling routes and
// the outer caller observe the original request path.
func (ctx *Context) ResetPath() { ctx.Path = ctx.origPath }

// Elapsed returns how long this request has been in flight.
func (ctx *Context) Elapsed() time.Duration { return time.Since(ctx.started) }

// Set stores a scratch attribute visible to downstream handlers.
func (ctx *Context) Set(name string, val any) { ctx.attrs[name] = val }

// Get retrieves a scratch attribute, or nil if unset.
func (ctx *Context) Get(name string) any { return ctx.attrs[name] }

// Status returns the status code that will be (or has been) written.
func (ctx *Context) Status() int { return ctx.Reply.status }

// SetStatus records the status to write, without writing headers yet.
func (ctx *Context) SetStatus(code int) { ctx.Reply.status = code }

// SetHeader sets a response header, failing with HeadersAlreadySent once
// the response has left the buffering state.
func (ctx *Context) SetHeader(name, val string) error {
	return ctx.Reply.SetHeader(name, val)
}

// Redirect is a convenience that sets Location and a redirect status.
func (ctx *Context) Redirect(location string, code int) error {
	if code == 0 {
		code = http.StatusMovedPermanently
	}
	if err := ctx.Reply.SetHeader("Location", location); err != nil {
		return err
	}
	ctx.SetStatus(code)
	return nil
}

// Throw builds a HandlerError carrying the given status, to be returned by
// a handler and propagated up the chain per spec §7.
func (ctx *Context) Throw(status int, msg string) error {
	return Error(status, errString(msg))
}

// Log writes a structured log line if logging hasn't been disabled for this
// request (e.g. by a `nolog` handler option).
func (ctx *Context) Log(name string, fields ...zap.Field) {
	if !ctx.LogEnabled || ctx.logger == nil {
		return
	}
	all := append([]zap.Field{
		zap.String("request_id", ctx.id),
		zap.String("handler", ctx.Handler),
		zap.String("site", ctx.Site),
	}, fields...)
	ctx.logger.Info(name, all...)
}

// Loggers exposes the underlying logger for handlers that need direct
// access (e.g. to build a named sub-logger).
func (ctx *Context) Loggers() *zap.Logger { return ctx.logger }

// Upgrade hands the connection to a WebSocket handshake, per spec §4.H. It
// is only valid while the response is still buffering; the concrete
// upgrade function is installed by NewContext when the request is a
// WebSocket upgrade (or by SetUpgradeFunc), and the reverse proxy's WS
// bridge calls Upgrade once its upstream connection is open.
func (ctx *Context) Upgrade() (any, error) {
	if ctx.upgrade == nil {
		return nil, Error(http.StatusInternalServerError, errString("no upgrade handshake registered for this request"))
	}
	return ctx.upgrade()
}

// SetUpgradeFunc installs the handshake closure that Upgrade will invoke.
func (ctx *Context) SetUpgradeFunc(fn func() (any, error)) { ctx.upgrade = fn }

type errString string

func (e errString) Error() string { return string(e) }
