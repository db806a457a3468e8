// Package rte inspects and rewrites rich text html.
package rte

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	MathTag = "oppia-noninteractive-math"

	rawLatexAttr    = "raw_latex-with-value"
	mathContentAttr = "math_content-with-value"
)

// ErrInvalidMath is wrapped by every error of ValidateMathContent.
var ErrInvalidMath = errors.New("invalid math component")

// MathContent is the value of the math_content attribute.
type MathContent struct {
	RawLatex    string `json:"raw_latex"`
	SVGFilename string `json:"svg_filename"`
}

// AddMathContent moves the legacy raw_latex attribute of every math component
// into math_content. Html without legacy math components, or that cannot be
// parsed, is returned unchanged.
func AddMathContent(s string) string {
	if !strings.Contains(s, MathTag) {
		return s
	}
	nodes, err := parse(s)
	if err != nil {
		return s
	}
	changed := false
	for _, n := range mathTags(nodes) {
		if _, ok := attr(n, mathContentAttr); ok {
			continue
		}
		raw, ok := attr(n, rawLatexAttr)
		if !ok {
			continue
		}
		var latex string
		if err := decodeAttr(raw, &latex); err != nil {
			latex = html.UnescapeString(raw)
		}
		data, err := json.Marshal(MathContent{RawLatex: latex})
		if err != nil {
			return s
		}
		removeAttr(n, rawLatexAttr)
		n.Attr = append(n.Attr, html.Attribute{Key: mathContentAttr, Val: html.EscapeString(string(data))})
		changed = true
	}
	if !changed {
		return s
	}
	out, err := render(nodes)
	if err != nil {
		return s
	}
	return out
}

// HasMathComponent reports whether s contains a math component.
func HasMathComponent(s string) bool {
	if !strings.Contains(s, MathTag) {
		return false
	}
	nodes, err := parse(s)
	if err != nil {
		return true
	}
	return len(mathTags(nodes)) > 0
}

// ValidateMathContent returns one error per math component that lacks a well
// formed math_content attribute.
func ValidateMathContent(s string) []error {
	if !strings.Contains(s, MathTag) {
		return nil
	}
	nodes, err := parse(s)
	if err != nil {
		return []error{fmt.Errorf("%w: unparsable html: %v", ErrInvalidMath, err)}
	}
	var errs []error
	for i, n := range mathTags(nodes) {
		raw, ok := attr(n, mathContentAttr)
		if !ok {
			errs = append(errs, fmt.Errorf("%w: component %d has no %s", ErrInvalidMath, i, mathContentAttr))
			continue
		}
		var fields map[string]any
		if err := decodeAttr(raw, &fields); err != nil {
			errs = append(errs, fmt.Errorf("%w: component %d: %v", ErrInvalidMath, i, err))
			continue
		}
		for _, key := range []string{"raw_latex", "svg_filename"} {
			if _, ok := fields[key].(string); !ok {
				errs = append(errs, fmt.Errorf("%w: component %d: %s is missing", ErrInvalidMath, i, key))
			}
		}
	}
	return errs
}

// MathContents returns the decoded math_content of every math component that
// has one.
func MathContents(s string) []MathContent {
	if !strings.Contains(s, MathTag) {
		return nil
	}
	nodes, err := parse(s)
	if err != nil {
		return nil
	}
	var res []MathContent
	for _, n := range mathTags(nodes) {
		raw, ok := attr(n, mathContentAttr)
		if !ok {
			continue
		}
		var c MathContent
		if err := decodeAttr(raw, &c); err == nil {
			res = append(res, c)
		}
	}
	return res
}

// MissingSVGs returns the latex of math components that have no svg file.
func MissingSVGs(s string) []string {
	var res []string
	for _, c := range MathContents(s) {
		if !strings.HasSuffix(c.SVGFilename, ".svg") {
			res = append(res, c.RawLatex)
		}
	}
	return res
}

// decodeAttr decodes a customization arg value. Values are html escaped JSON.
func decodeAttr(v string, out any) error {
	return json.Unmarshal([]byte(html.UnescapeString(v)), out)
}

func parse(s string) ([]*html.Node, error) {
	return html.ParseFragment(strings.NewReader(s), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
}

func render(nodes []*html.Node) (string, error) {
	var b strings.Builder
	for _, n := range nodes {
		if err := html.Render(&b, n); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

func mathTags(nodes []*html.Node) []*html.Node {
	var res []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == MathTag {
			res = append(res, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return res
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func removeAttr(n *html.Node, key string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			kept = append(kept, a)
		}
	}
	n.Attr = kept
}
