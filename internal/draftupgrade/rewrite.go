package draftupgrade

import (
	"strconv"
	"strings"
)

// Path segments with a special meaning. Any other segment is a map key, or a
// list index when it parses as an integer.
const (
	// AnyElement matches every element of a list.
	AnyElement = "*"
	// AnyValue matches every value of a map.
	AnyValue = "{}"
)

// Path addresses a nested value of a JSON shaped payload.
type Path []string

// ParsePath splits a dotted path. The empty string addresses the value itself.
func ParsePath(s string) Path {
	if s == "" {
		return Path{}
	}
	return Path(strings.Split(s, "."))
}

func parsePaths(ss ...string) []Path {
	paths := make([]Path, len(ss))
	for i, s := range ss {
		paths[i] = ParsePath(s)
	}
	return paths
}

func (p Path) String() string {
	return strings.Join(p, ".")
}

// Rewrite returns v with fn applied to every value addressed by p. Only the
// maps and lists along the path are copied; v itself is never modified. Parts
// of the path that do not exist or have another shape are skipped.
func Rewrite(v any, p Path, fn func(any) any) any {
	if len(p) == 0 {
		return fn(v)
	}
	seg, rest := p[0], p[1:]
	switch node := v.(type) {
	case map[string]any:
		if seg == AnyValue {
			out := make(map[string]any, len(node))
			for k, child := range node {
				out[k] = Rewrite(child, rest, fn)
			}
			return out
		}
		child, ok := node[seg]
		if !ok {
			return v
		}
		out := copyMap(node)
		out[seg] = Rewrite(child, rest, fn)
		return out
	case []any:
		if seg == AnyElement {
			out := make([]any, len(node))
			for i, child := range node {
				out[i] = Rewrite(child, rest, fn)
			}
			return out
		}
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(node) {
			return v
		}
		out := make([]any, len(node))
		copy(out, node)
		out[i] = Rewrite(node[i], rest, fn)
		return out
	default:
		return v
	}
}

// RewriteStrings applies fn to every string addressed by any of the paths.
// Addressed values that are not strings are left as they are.
func RewriteStrings(v any, paths []Path, fn func(string) string) any {
	for _, p := range paths {
		v = Rewrite(v, p, func(leaf any) any {
			if s, ok := leaf.(string); ok {
				return fn(s)
			}
			return leaf
		})
	}
	return v
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
