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

// HostRouter performs the first-level match of spec §4.C: hostname ->
// path router, evaluated in declaration order, first hit wins.
type HostRouter struct {
	entries []hostEntry
}

type hostEntry struct {
	pattern HostPattern
	router  *PathRouter
}

// NewHostRouter returns an empty host router.
func NewHostRouter() *HostRouter {
	return &HostRouter{}
}

// Add appends a (pattern, path router) entry. Declaration order is
// preserved and is significant: the first matching pattern wins.
func (hr *HostRouter) Add(pattern HostPattern, pr *PathRouter) {
	hr.entries = append(hr.entries, hostEntry{pattern: pattern, router: pr})
}

// PathRouterFor returns the path router already registered for an
// equivalent pattern, if any, so config binding can extend it instead of
// shadowing it with a second entry for the same host.
func (hr *HostRouter) PathRouterFor(raw string) *PathRouter {
	for _, e := range hr.entries {
		if e.pattern.raw == raw {
			return e.router
		}
	}
	return nil
}

// Process matches ctx.Hostname against the ordered entries. On the first
// match it records the pattern as ctx.Site and delegates to that path
// router's Process. If nothing matches, it invokes outer: the request
// escapes the routing layer entirely (spec §4.C).
func (hr *HostRouter) Process(ctx *Context, outer Next) error {
	for _, e := range hr.entries {
		if e.pattern.Match(ctx.Hostname) {
			ctx.Site = e.pattern.String()
			return e.router.Process(ctx, outer)
		}
	}
	if outer != nil {
		return outer(ctx)
	}
	return nil
}
