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

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/cloudwindy/misaka/edgehttp"
)

// BindResult summarises what Bind installed, for operator feedback (spec
// §4.J: "a counter and a verbose log of every installed route are
// accumulated").
type BindResult struct {
	RouteCount int
}

// Bind walks doc's routes in declared order and installs them into hosts,
// resolving handler names against reg. An unknown handler name is a
// startup error (spec §4.J, §7 ConfigurationError).
func Bind(doc *Document, hosts *edgehttp.HostRouter, reg *edgehttp.Registry, logger *zap.Logger) (*BindResult, error) {
	result := &BindResult{}
	var routers []*edgehttp.PathRouter

	for _, hostPair := range orderedPairs(doc.Router.Routes) {
		if hostPair.key.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("config: host key must be a string, got %v", hostPair.key.Kind)
		}
		hostKey := hostPair.key.Value
		hostPattern, err := edgehttp.ParseHostPattern(hostKey)
		if err != nil {
			return nil, err
		}

		pr := hosts.PathRouterFor(hostKey)
		if pr == nil {
			pr = edgehttp.NewPathRouter(logger)
			hosts.Add(hostPattern, pr)
			routers = append(routers, pr)
		}

		for _, pathPair := range orderedPairs(*hostPair.value) {
			if pathPair.key.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("config: host %q: path key must be a string, got %v", hostKey, pathPair.key.Kind)
			}
			pathPattern := pathPair.key.Value
			entry, err := parseRouteEntry(pathPair.value)
			if err != nil {
				return nil, fmt.Errorf("config: host %q path %q: %w", hostKey, pathPattern, err)
			}

			for _, rw := range entry.rewrites {
				pr.AddRewrite(pathPattern, rw[0], rw[1])
			}

			switch {
			case entry.redirect != "":
				code := entry.code
				pr.AddRedirect(pathPattern, entry.redirect, code)
				result.RouteCount++
				if doc.Router.Verbose {
					logger.Info("route bound", zap.String("host", hostKey), zap.String("path", pathPattern), zap.String("kind", "redirect"), zap.String("to", entry.redirect))
				}
			case entry.bareHandler != "":
				if err := pr.AddModule(pathPattern, entry.bareHandler, nil, reg); err != nil {
					return nil, fmt.Errorf("config: host %q path %q: %w", hostKey, pathPattern, err)
				}
				result.RouteCount++
				if doc.Router.Verbose {
					logger.Info("route bound", zap.String("host", hostKey), zap.String("path", pathPattern), zap.String("handler", entry.bareHandler))
				}
			default:
				for _, hc := range entry.handlers {
					if err := pr.AddModule(pathPattern, hc.name, hc.args, reg); err != nil {
						return nil, fmt.Errorf("config: host %q path %q: %w", hostKey, pathPattern, err)
					}
					result.RouteCount++
					if doc.Router.Verbose {
						logger.Info("route bound", zap.String("host", hostKey), zap.String("path", pathPattern), zap.String("handler", hc.name))
					}
				}
			}
		}
	}

	for _, pr := range routers {
		pr.Finalize()
	}

	return result, nil
}
