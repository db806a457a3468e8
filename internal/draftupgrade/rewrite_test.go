package draftupgrade

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRewrite(t *testing.T) {
	double := func(v any) any {
		if f, ok := v.(float64); ok {
			return f * 2
		}
		return v
	}
	doc := map[string]any{
		"a": []any{1.0, 2.0, map[string]any{"b": 3.0}},
		"m": map[string]any{"x": 4.0, "y": 5.0},
		"s": "str",
	}

	cases := map[string]struct {
		path string
		want any
	}{
		"string leaf": {path: "s", want: doc},
		"every element": {path: "a.*", want: map[string]any{
			"a": []any{2.0, 4.0, map[string]any{"b": 3.0}},
			"m": doc["m"],
			"s": "str",
		}},
		"index then key": {path: "a.2.b", want: map[string]any{
			"a": []any{1.0, 2.0, map[string]any{"b": 6.0}},
			"m": doc["m"],
			"s": "str",
		}},
		"every map value": {path: "m.{}", want: map[string]any{
			"a": doc["a"],
			"m": map[string]any{"x": 8.0, "y": 10.0},
			"s": "str",
		}},
		"missing key":        {path: "nope.x", want: doc},
		"index out of range": {path: "a.7", want: doc},
		"shape mismatch":     {path: "s.*", want: doc},
		"wildcard on a map":  {path: "m.*", want: doc},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.want, Rewrite(doc, ParsePath(tc.path), double))
		})
	}
	require.Equal(t, 1.0, doc["a"].([]any)[0])
	require.Equal(t, 4.0, doc["m"].(map[string]any)["x"])
}

func TestRewriteStringsSkipsNonStrings(t *testing.T) {
	v := map[string]any{"x": "a", "y": 1.0}
	got := RewriteStrings(v, parsePaths("x", "y", "z"), func(s string) string { return s + s })
	require.Equal(t, map[string]any{"x": "aa", "y": 1.0}, got)
	require.Equal(t, "a", v["x"])
}

func TestParsePath(t *testing.T) {
	require.Equal(t, Path{}, ParsePath(""))
	p := ParsePath("rule_specs.*.inputs.x")
	require.Equal(t, Path{"rule_specs", AnyElement, "inputs", "x"}, p)
	require.Equal(t, "rule_specs.*.inputs.x", p.String())
}
