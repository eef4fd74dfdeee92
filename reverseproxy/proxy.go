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

// Package reverseproxy implements the two reverse-proxy modes of spec §4.G:
// a buffering HTTP proxy and a WebSocket-bridging proxy, both built around
// an upstream URL overlay in the style of the ReverseProxy this was
// distilled from (an adaptation of net/http/httputil for a Director-style
// upstream rewrite).
package reverseproxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cloudwindy/misaka/edgehttp"
)

// defaultTimeout is the upstream round-trip budget when Options.Timeout is
// zero (spec §4.G: "Timeout defaults to 3000 ms").
const defaultTimeout = 3000 * time.Millisecond

var defaultRequestHeaderFilter = []string{"host"}
var defaultResponseHeaderFilter = []string{"connection", "transfer-encoding"}

// Options configures a Handler.
type Options struct {
	Upstream             string // e.g. "http://127.0.0.1:8080"
	Timeout              time.Duration
	RequestHeaderFilter  []string // additional request headers to drop
	ResponseHeaderFilter []string // additional response headers to drop
	WebSocket            bool     // enable the WebSocket bridging mode for upgrade requests
	NoLog                bool     // clear ctx.LogEnabled for requests this handler serves
	Logger               *zap.Logger
}

// Handler implements edgehttp.Middleware for both proxy modes.
type Handler struct {
	opts     Options
	upstream *url.URL
	client   *http.Client
	reqDrop  map[string]bool
	respDrop map[string]bool
}

// New validates opts and returns a Handler.
func New(opts Options) (*Handler, error) {
	u, err := url.Parse(opts.Upstream)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, edgehttp.Error(0, errBadUpstream(opts.Upstream))
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	h := &Handler{
		opts:     opts,
		upstream: u,
		client:   &http.Client{},
		reqDrop:  toSet(defaultRequestHeaderFilter, opts.RequestHeaderFilter),
		respDrop: toSet(defaultResponseHeaderFilter, opts.ResponseHeaderFilter),
	}
	return h, nil
}

type errBadUpstream string

func (e errBadUpstream) Error() string { return "reverseproxy: invalid upstream " + string(e) }

func toSet(base, extra []string) map[string]bool {
	set := make(map[string]bool, len(base)+len(extra))
	for _, h := range base {
		set[strings.ToLower(h)] = true
	}
	for _, h := range extra {
		set[strings.ToLower(h)] = true
	}
	return set
}

// Serve implements edgehttp.Middleware, dispatching to the WebSocket bridge
// when this route has it enabled and the request is an upgrade, and to the
// buffering HTTP proxy otherwise.
func (h *Handler) Serve(ctx *edgehttp.Context, next edgehttp.Next) error {
	if h.opts.NoLog {
		ctx.LogEnabled = false
	}
	if h.opts.WebSocket && ctx.WS {
		return h.serveWebSocket(ctx, next)
	}
	return h.serveHTTP(ctx, next)
}

// overlayURL builds the upstream request URL by taking the upstream's
// scheme and host and the live request's (possibly rewritten) path and
// query (spec §4.G: "preserving rewritten path and query").
func (h *Handler) overlayURL(ctx *edgehttp.Context, scheme string) *url.URL {
	out := *h.upstream
	if scheme != "" {
		out.Scheme = scheme
	}
	out.Path = ctx.Path
	out.RawQuery = ctx.Req.URL.RawQuery
	return &out
}

func filterHeaders(dst, src http.Header, drop map[string]bool) {
	for name, vals := range src {
		lower := strings.ToLower(name)
		if drop[lower] || strings.HasPrefix(lower, ":") {
			continue
		}
		for _, v := range vals {
			dst.Add(name, v)
		}
	}
}

// serveHTTP implements spec §4.G's HTTP mode: single upstream request with
// the client's method, filtered headers, and body; the entire response
// body is read into memory before continuing the chain.
func (h *Handler) serveHTTP(ctx *edgehttp.Context, next edgehttp.Next) error {
	reqCtx, cancel := context.WithTimeout(ctx.Req.Context(), h.opts.Timeout)
	defer cancel()

	target := h.overlayURL(ctx, h.upstream.Scheme)
	outReq, err := http.NewRequestWithContext(reqCtx, ctx.Method, target.String(), ctx.Req.Body)
	if err != nil {
		return edgehttp.Error(http.StatusInternalServerError, err)
	}
	filterHeaders(outReq.Header, ctx.Req.Header, h.reqDrop)
	outReq.Host = target.Host

	resp, err := h.client.Do(outReq)
	if err != nil {
		ctx.Log("Proxy-Failed", zap.Error(err), zap.String("upstream", h.upstream.String()))
		kind := edgehttp.KindUpstreamUnavailable
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		he := edgehttp.Error(status, err)
		he.Kind = kind
		return he
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return edgehttp.Error(http.StatusBadGateway, err)
	}

	filterHeaders(ctx.Reply.Header(), resp.Header, h.respDrop)
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusServiceUnavailable
	}
	ctx.SetStatus(status)
	ctx.Reply.Write(body)
	ctx.Bytes += int64(len(body))

	return next(ctx)
}
