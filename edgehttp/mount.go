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
	"path"
	"strings"
)

// Mount is the Execution Context of spec §4.I: a narrowed view of a path
// router bound to a base path and a handler name, handed to an "app"
// handler (or any module installed via addModule) so it can register its
// own sub-routes without knowing anything about the router it lives under.
//
// Every middleware registered through a Mount is wrapped so that, while it
// runs, ctx.Handler names this mount and ctx.Path is rebased relative to
// base; both are restored before the request falls through to whatever
// comes after this mount (spec §4.I, "the mount helper").
type Mount struct {
	router *PathRouter
	base   string
	name   string
	fsRoot string
}

// NewMount returns an Execution Context bound to router, rooted at base,
// and labelled name for logging. fsRoot is the filesystem directory
// resolveFsPath resolves against; it may be empty if the mount has no
// filesystem-backed resources.
func NewMount(router *PathRouter, base, name, fsRoot string) *Mount {
	base = strings.TrimSuffix(base, "/")
	return &Mount{router: router, base: base, name: name, fsRoot: fsRoot}
}

// Name returns the handler name this mount is labelled with.
func (m *Mount) Name() string { return m.name }

// Base returns the mount's base path.
func (m *Mount) Base() string { return m.base }

// resolveReqPath resolves a mount-relative route path to an absolute one,
// e.g. base "/admin" + relative "/users/:id" -> "/admin/users/:id".
func (m *Mount) resolveReqPath(relative string) string {
	if relative == "" || relative == "/" {
		if m.base == "" {
			return "/"
		}
		return m.base
	}
	return m.base + path.Clean("/"+relative)
}

// ResolveReqPath is the public form of resolveReqPath, exposed so handlers
// can compute absolute route paths (e.g. to build Location headers) without
// duplicating the base-join logic.
func (m *Mount) ResolveReqPath(relative string) string { return m.resolveReqPath(relative) }

// ResolveFsPath resolves a mount-relative path against this mount's
// filesystem root.
func (m *Mount) ResolveFsPath(relative string) string {
	if m.fsRoot == "" {
		return relative
	}
	return path.Join(m.fsRoot, relative)
}

// Use registers mw for any method at a mount-relative path.
func (m *Mount) Use(relative string, mw Middleware) {
	m.router.Use(m.resolveReqPath(relative), m.wrap(mw))
}

// Get registers mw for GET only at a mount-relative path.
func (m *Mount) Get(relative string, mw Middleware) {
	m.router.Get(m.resolveReqPath(relative), m.wrap(mw))
}

// Post registers mw for POST only at a mount-relative path.
func (m *Mount) Post(relative string, mw Middleware) {
	m.router.Post(m.resolveReqPath(relative), m.wrap(mw))
}

// AddRewrite installs a rewrite at a mount-relative path; src/dest are
// matched against the full (not rebased) ctx.Path, consistent with
// PathRouter.AddRewrite.
func (m *Mount) AddRewrite(relative, src, dest string) {
	m.router.AddRewrite(m.resolveReqPath(relative), src, dest)
}

// AddRedirect installs a redirect at a mount-relative path.
func (m *Mount) AddRedirect(relative, dest string, code int) {
	m.router.AddRedirect(m.resolveReqPath(relative), dest, code)
}

// AddModule resolves name in reg and pushes it onto the mount-relative
// path's stack, the same way PathRouter.AddModule does for a top-level
// route, letting an app nest further named handlers under its own base.
func (m *Mount) AddModule(relative, name string, args map[string]any, reg *Registry) error {
	return m.router.AddModule(m.resolveReqPath(relative), name, args, reg)
}

// wrap rebases ctx.Path and sets ctx.Handler for the duration of mw's call,
// restoring both before delegating to whatever the caller's own next was
// (spec §4.I: "base prefix stripped on entry, restored on fall-through").
func (m *Mount) wrap(mw Middleware) Middleware {
	return MiddlewareFunc(func(ctx *Context, next Next) error {
		prevHandler := ctx.Handler
		prevPath := ctx.Path
		ctx.Handler = m.name
		if m.base != "" && strings.HasPrefix(ctx.Path, m.base) {
			rel := strings.TrimPrefix(ctx.Path, m.base)
			if rel == "" {
				rel = "/"
			}
			ctx.Path = rel
		}
		return mw.Serve(ctx, func(ctx *Context) error {
			ctx.Path = prevPath
			ctx.Handler = prevHandler
			return next(ctx)
		})
	})
}
