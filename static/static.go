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

// Package static implements the static file handler of spec §4.F: resolve
// a request path against a root directory, with containment guarantees,
// precompressed-asset negotiation, extension fallback, and an optional
// directory listing, adapted from net/http's file server by way of the
// FileServer this was distilled from.
package static

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"go.uber.org/zap"

	"github.com/cloudwindy/misaka/edgehttp"
)

// encodingPriority lists precompressed-asset suffixes in negotiation order:
// br is preferred over gzip whenever the client accepts both (spec §4.F.6).
var encodingPriority = []struct {
	name, suffix string
}{
	{"br", ".br"},
	{"gzip", ".gz"},
}

// Options configures a static Handler.
type Options struct {
	Root          string        // filesystem directory files are served from
	Base          string        // request-path prefix stripped before resolution
	Index         string        // appended when a request path ends in "/"
	Hidden        bool          // if false, dot-prefixed path segments fall through
	Extensions    []string      // tried in order when the basename has no extension
	Format        bool          // synthesize a directory index from Index when set
	Browse        bool          // render a directory listing when nothing else resolves a directory
	MaxAge        time.Duration // Cache-Control max-age; zero disables the header
	Immutable     bool          // append ", immutable" to Cache-Control
	DisableBrotli bool          // skip the .br negotiation step
	DisableGzip   bool          // skip the .gz negotiation step
	NoLog         bool          // clear ctx.LogEnabled for requests this handler serves
	SetHeaders    func(w http.ResponseWriter, path string, info os.FileInfo)
}

// Handler serves files out of Options.Root, implementing edgehttp.Middleware.
type Handler struct {
	opts   Options
	logger *zap.Logger
}

// New validates opts and returns a Handler.
func New(opts Options, logger *zap.Logger) (*Handler, error) {
	if opts.Root == "" {
		return nil, edgehttp.Error(0, errConfig("static: root is required"))
	}
	opts.Base = strings.TrimSuffix(opts.Base, "/")
	return &Handler{opts: opts, logger: logger}, nil
}

type errConfig string

func (e errConfig) Error() string { return string(e) }

// Serve implements edgehttp.Middleware.
func (h *Handler) Serve(ctx *edgehttp.Context, next edgehttp.Next) error {
	if h.opts.NoLog {
		ctx.LogEnabled = false
	}
	if ctx.Method != http.MethodGet && ctx.Method != http.MethodHead {
		return next(ctx)
	}

	origPath := ctx.Path
	reqPath := ctx.Path
	if h.opts.Base != "" {
		if !strings.HasPrefix(reqPath, h.opts.Base) {
			return next(ctx)
		}
		reqPath = strings.TrimPrefix(reqPath, h.opts.Base)
		if reqPath == "" {
			reqPath = "/"
		}
	}

	decoded, err := url.PathUnescape(reqPath)
	if err != nil {
		return ctx.Throw(http.StatusBadRequest, "malformed path escape")
	}
	reqPath = decoded

	if strings.HasSuffix(reqPath, "/") && h.opts.Index != "" {
		reqPath += h.opts.Index
	}

	// A path that climbs above the root is refused with 403 rather than
	// clamped into the root.
	if rel := path.Clean(strings.TrimPrefix(reqPath, "/")); rel == ".." || strings.HasPrefix(rel, "../") {
		ctx.Path = origPath
		return edgehttp.Error(http.StatusForbidden, fmt.Errorf("static: path %q escapes root", reqPath))
	}

	if !h.opts.Hidden && hasHiddenSegment(reqPath) {
		ctx.Path = origPath
		return next(ctx)
	}

	fsPath, err := securejoin.SecureJoin(h.opts.Root, reqPath)
	if err != nil {
		ctx.Path = origPath
		return edgehttp.Error(http.StatusForbidden, err)
	}

	servePath, encoding := h.negotiateEncoding(ctx, fsPath)
	servePath = h.applyExtensionFallback(servePath)

	info, err := os.Stat(servePath)
	if err != nil {
		ctx.Path = origPath
		if os.IsNotExist(err) {
			ctx.SetStatus(http.StatusNotFound)
			return nil
		}
		return edgehttp.Error(http.StatusInternalServerError, err)
	}

	if info.IsDir() {
		resolved := false
		if h.opts.Format && h.opts.Index != "" {
			indexPath := path.Join(servePath, h.opts.Index)
			if indexInfo, err := os.Stat(indexPath); err == nil && !indexInfo.IsDir() {
				servePath, info = indexPath, indexInfo
				resolved = true
			}
		}
		if !resolved {
			// Per spec §4.F step 8, an unresolved directory is only a
			// listing when the operator opted in via `browse`; otherwise
			// it's unhandled here and falls through like any other miss.
			if !h.opts.Browse {
				ctx.Path = origPath
				return next(ctx)
			}
			return h.browse(ctx, servePath, reqPath)
		}
	}

	h.setCommonHeaders(ctx, info, servePath, encoding)
	if h.opts.SetHeaders != nil {
		h.opts.SetHeaders(ctx.Reply, servePath, info)
	}

	f, err := os.Open(servePath)
	if err != nil {
		return edgehttp.Error(http.StatusInternalServerError, err)
	}
	defer f.Close()

	// Content-Type is derived from nameForType's extension, which is the
	// logical (pre-encoding) name when a precompressed variant was served,
	// so ".js.br" still resolves to "application/javascript".
	nameForType := servePath
	if encoding != "" {
		nameForType = fsPath
	}

	// http.ServeContent handles a syntactically valid Range (in or out of
	// bounds) correctly on its own, but a malformed Range header makes it
	// write a plain-text error with no Content-Range at all. Spec §4.F step
	// 10 requires 416 + "Content-Range: bytes */total" plus the whole file
	// as a courtesy body in that case, so it's intercepted before reaching
	// ServeContent.
	if rangeHeader := ctx.Req.Header.Get("Range"); rangeHeader != "" && malformedRange(rangeHeader) {
		ctx.Reply.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", info.Size()))
		ctx.SetStatus(http.StatusRequestedRangeNotSatisfiable)
		ctx.Reply.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		n, err := io.Copy(ctx.Reply, f)
		ctx.Bytes += n
		return err
	}

	// http.ServeContent owns Range/If-Range/conditional-GET handling
	// (206/416, Last-Modified negotiation) rather than this package
	// re-implementing byte-range parsing by hand.
	http.ServeContent(ctx.Reply, ctx.Req, nameForType, info.ModTime(), f)
	ctx.Bytes += info.Size()
	return nil
}

// malformedRange reports whether header is not well-formed "bytes=" range
// syntax (e.g. non-numeric bounds, missing "bytes=" prefix). It does not
// flag syntactically valid ranges that happen to fall outside the file,
// since http.ServeContent already answers those with its own 416.
func malformedRange(header string) bool {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return true
	}
	for _, spec := range strings.Split(header[len(prefix):], ",") {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			return true
		}
		i := strings.Index(spec, "-")
		if i < 0 {
			return true
		}
		start, end := strings.TrimSpace(spec[:i]), strings.TrimSpace(spec[i+1:])
		if start == "" {
			if end == "" || !isDigits(end) {
				return true
			}
			continue
		}
		if !isDigits(start) {
			return true
		}
		if end != "" && !isDigits(end) {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (h *Handler) negotiateEncoding(ctx *edgehttp.Context, fsPath string) (string, string) {
	accept := ctx.Req.Header.Get("Accept-Encoding")
	for _, enc := range encodingPriority {
		if enc.name == "br" && h.opts.DisableBrotli {
			continue
		}
		if enc.name == "gzip" && h.opts.DisableGzip {
			continue
		}
		if !acceptsEncoding(accept, enc.name) {
			continue
		}
		candidate := fsPath + enc.suffix
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, enc.name
		}
	}
	return fsPath, ""
}

func acceptsEncoding(header, encoding string) bool {
	for _, part := range strings.Split(header, ",") {
		name := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if name == encoding || name == "*" {
			return true
		}
	}
	return false
}

func (h *Handler) applyExtensionFallback(fsPath string) string {
	if filepath.Ext(fsPath) != "" || len(h.opts.Extensions) == 0 {
		return fsPath
	}
	for _, ext := range h.opts.Extensions {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if info, err := os.Stat(fsPath + ext); err == nil && !info.IsDir() {
			return fsPath + ext
		}
	}
	return fsPath
}

func (h *Handler) setCommonHeaders(ctx *edgehttp.Context, info os.FileInfo, servePath, encoding string) {
	if encoding != "" {
		ctx.Reply.Header().Set("Content-Encoding", encoding)
		ctx.Reply.Header().Del("Content-Length")
		ctx.Reply.Header().Add("Vary", "Accept-Encoding")
	}
	ctx.Reply.Header().Set("Accept-Ranges", "bytes")
	if ctx.Reply.Header().Get("Cache-Control") == "" && h.opts.MaxAge > 0 {
		cc := "max-age=" + strconv.FormatFloat(h.opts.MaxAge.Seconds(), 'f', 0, 64)
		if h.opts.Immutable {
			cc += ", immutable"
		}
		ctx.Reply.Header().Set("Cache-Control", cc)
	}
	// Content-Type is left to http.ServeContent, which derives it from the
	// extension of the name Serve passes it (the pre-encoding fsPath when a
	// .br/.gz variant is served, so the suffix is ignored) or by sniffing.
}

func hasHiddenSegment(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if strings.HasPrefix(seg, ".") && seg != "." && seg != "" {
			return true
		}
	}
	return false
}
