// Package config decodes the declarative route document and binds it into
// an edgehttp.HostRouter tree. Routes are order-sensitive (first host
// pattern wins, handler stacks install in declared order), so the routes
// mapping is decoded via yaml.Node and walked in declaration order rather
// than decoded into a plain Go map, which would discard that order.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Document is the top-level "router:" document.
type Document struct {
	Router struct {
		Verbose bool      `yaml:"verbose"`
		Routes  yaml.Node `yaml:"routes"`
	} `yaml:"router"`
}

// Load reads and parses a route document from path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &doc, nil
}

// orderedPairs walks a YAML mapping node's Content in declaration order,
// yielding (key, value) node pairs. Returns nil for a zero-value/null node
// (an absent or empty "routes:" section).
func orderedPairs(n yaml.Node) []pair {
	if n.Kind != yaml.MappingNode {
		return nil
	}
	pairs := make([]pair, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		pairs = append(pairs, pair{key: n.Content[i], value: n.Content[i+1]})
	}
	return pairs
}

type pair struct {
	key   *yaml.Node
	value *yaml.Node
}

// weakInt decodes a scalar YAML node as an int regardless of whether the
// operator quoted it, so `code: 301` and `code: "301"` both work. A
// yaml.Node's Value holds the literal scalar text irrespective of its
// resolved tag, so parsing it directly sidesteps yaml.v3's normal
// strict-typed Decode (which rejects a !!str-tagged node against an int).
func weakInt(n *yaml.Node) (int, error) {
	if n.Kind != yaml.ScalarNode {
		return 0, fmt.Errorf("expected a scalar, got %v", n.Kind)
	}
	v, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", n.Value)
	}
	return v, nil
}

// routeEntry is one path's parsed route configuration: the fields with
// dedicated meaning (redirect/code/rewrite) plus the remaining keys taken
// as handler names in declared order.
type routeEntry struct {
	bareHandler string // set when the whole entry was a scalar handler name
	redirect    string
	code        int
	rewrites    [][2]string
	handlers    []handlerConfig
}

type handlerConfig struct {
	name string
	args map[string]any
}

// parseRouteEntry interprets one path-pattern's value node per spec §4.J:
// a bare string names a single handler with no config; a mapping's
// "redirect"/"code"/"rewrite" keys are consumed first, and any remaining
// keys are handler names with their config values.
func parseRouteEntry(n *yaml.Node) (routeEntry, error) {
	var e routeEntry
	if n.Kind == yaml.ScalarNode {
		e.bareHandler = n.Value
		return e, nil
	}
	if n.Kind != yaml.MappingNode {
		return e, fmt.Errorf("config: route entry must be a string or mapping, got %v", n.Kind)
	}
	for _, p := range orderedPairs(*n) {
		switch p.key.Value {
		case "redirect":
			if err := p.value.Decode(&e.redirect); err != nil {
				return e, fmt.Errorf("config: redirect: %w", err)
			}
		case "code":
			code, err := weakInt(p.value)
			if err != nil {
				return e, fmt.Errorf("config: code: %w", err)
			}
			e.code = code
		case "rewrite":
			var pairs [][]string
			if err := p.value.Decode(&pairs); err != nil {
				return e, fmt.Errorf("config: rewrite: %w", err)
			}
			for _, rw := range pairs {
				if len(rw) != 2 {
					return e, fmt.Errorf("config: rewrite entries must be [src, dst] pairs")
				}
				e.rewrites = append(e.rewrites, [2]string{rw[0], rw[1]})
			}
		default:
			hc := handlerConfig{name: p.key.Value}
			switch p.value.Kind {
			case yaml.ScalarNode:
				hc.args = map[string]any{"_": p.value.Value}
			case yaml.MappingNode:
				var args map[string]any
				if err := p.value.Decode(&args); err != nil {
					return e, fmt.Errorf("config: handler %q config: %w", p.key.Value, err)
				}
				hc.args = args
			default:
				return e, fmt.Errorf("config: handler %q config must be a string or mapping", p.key.Value)
			}
			e.handlers = append(e.handlers, hc)
		}
	}
	return e, nil
}
