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
	"fmt"
	"regexp"
	"strings"
)

// hostKind discriminates the closed variant of host patterns described in
// spec §9: "implement as a tagged union {Exact(string), List([string]),
// Regex(compiled), Any}".
type hostKind int

const (
	hostExact hostKind = iota
	hostList
	hostRegex
	hostAny
)

// HostPattern is one entry in the host router's ordered pattern list.
type HostPattern struct {
	kind  hostKind
	exact string
	list  []string
	re    *regexp.Regexp
	raw   string // original source text, used as ctx.Site on match
}

// NewExactHostPattern matches a single literal hostname.
func NewExactHostPattern(host string) HostPattern {
	return HostPattern{kind: hostExact, exact: strings.ToLower(host), raw: host}
}

// NewListHostPattern matches any of several literal hostnames.
func NewListHostPattern(hosts []string) HostPattern {
	lowered := make([]string, len(hosts))
	for i, h := range hosts {
		lowered[i] = strings.ToLower(h)
	}
	return HostPattern{kind: hostList, list: lowered, raw: strings.Join(hosts, ",")}
}

// NewRegexHostPattern matches hostnames against a compiled regular
// expression. raw is the pattern's displayable source form (e.g. the
// original "/.../flags" config string); Per spec §6, config strings of the
// form "/pattern/flags" are regex literals; ParseHostPattern performs that
// parsing.
func NewRegexHostPattern(re *regexp.Regexp, raw string) HostPattern {
	if raw == "" {
		raw = re.String()
	}
	return HostPattern{kind: hostRegex, re: re, raw: raw}
}

// AnyHostPattern matches every hostname; by convention it is declared last
// to act as a default (spec §3 invariant: "`*` placed last acts as
// default").
func AnyHostPattern() HostPattern {
	return HostPattern{kind: hostAny, raw: "*"}
}

// ParseHostPattern interprets a config string per spec §6: strings
// surrounded by "/" (with optional trailing flags) are regex literals,
// "*" is the wildcard default, a comma-separated string is the List
// variant (the declarative document's only way to express "list of exact
// strings" as a single mapping-key scalar), and anything else is a literal
// exact match.
func ParseHostPattern(s string) (HostPattern, error) {
	if s == "*" || s == "" {
		return AnyHostPattern(), nil
	}
	if len(s) >= 2 && s[0] == '/' {
		end := strings.LastIndexByte(s, '/')
		if end > 0 {
			body := s[1:end]
			flags := s[end+1:]
			expr := body
			if strings.Contains(flags, "i") {
				expr = "(?i)" + expr
			}
			re, err := regexp.Compile(expr)
			if err != nil {
				return HostPattern{}, Error(0, fmt.Errorf("invalid host regex %q: %w", s, err))
			}
			return NewRegexHostPattern(re, s), nil
		}
	}
	if strings.Contains(s, ",") {
		parts := strings.Split(s, ",")
		hosts := make([]string, 0, len(parts))
		for _, p := range parts {
			hosts = append(hosts, strings.TrimSpace(p))
		}
		pattern := NewListHostPattern(hosts)
		pattern.raw = s
		return pattern, nil
	}
	return NewExactHostPattern(s), nil
}

// Match reports whether hostname (lowercased, IDN-unicode, port stripped)
// matches this pattern.
func (p HostPattern) Match(hostname string) bool {
	hostname = strings.ToLower(hostname)
	switch p.kind {
	case hostExact:
		return hostname == p.exact
	case hostList:
		for _, h := range p.list {
			if hostname == h {
				return true
			}
		}
		return false
	case hostRegex:
		return p.re.MatchString(hostname)
	case hostAny:
		return true
	default:
		return false
	}
}

// String returns the pattern's displayable source form, used as ctx.Site.
func (p HostPattern) String() string { return p.raw }
