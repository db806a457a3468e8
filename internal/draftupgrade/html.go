package draftupgrade

import (
	"draftline/internal/domain"
)

// Rich text locations inside state property values.
var (
	feedbackHTMLPaths = parsePaths("outcome.feedback.html")
	choicesHTMLPaths  = parsePaths("choices.value.*")
	contentHTMLPaths  = parsePaths("html")
	ruleSpecsPath     = ParsePath("rule_specs.*")
)

// ruleInputHTMLPaths lists where rule inputs hold rich text, per rule type.
var ruleInputHTMLPaths = map[string][]Path{
	"HasElementXAtPositionY":                          parsePaths("inputs.x"),
	"HasElementXBeforeElementY":                       parsePaths("inputs.x", "inputs.y"),
	"IsEqualToOrdering":                               parsePaths("inputs.x.*.0"),
	"IsEqualToOrderingWithOneItemAtIncorrectPosition": parsePaths("inputs.x.*.0"),
	"Equals": parsePaths("inputs.x.*"),
}

// ConvertHTMLInChange applies fn to the rich text held by an answer groups,
// customization args or content edit. Other changes are returned unchanged.
func ConvertHTMLInChange(c domain.ExplorationChange, fn ContentFunc) domain.ExplorationChange {
	if c.Cmd != domain.CmdEditStateProperty {
		return c
	}
	switch c.PropertyName {
	case domain.StatePropertyInteractionAnswerGroups:
		return mapValues(c, func(v any) any { return convertAnswerGroupsHTML(v, fn) })
	case domain.StatePropertyInteractionCustArgs:
		return mapValues(c, func(v any) any { return RewriteStrings(v, choicesHTMLPaths, fn) })
	case domain.StatePropertyContent:
		return mapValues(c, func(v any) any {
			if s, ok := v.(string); ok {
				return fn(s)
			}
			return RewriteStrings(v, contentHTMLPaths, fn)
		})
	}
	return c
}

func convertAnswerGroupsHTML(v any, fn ContentFunc) any {
	return Rewrite(v, Path{AnyElement}, func(group any) any {
		group = RewriteStrings(group, feedbackHTMLPaths, fn)
		return Rewrite(group, ruleSpecsPath, func(spec any) any {
			return convertRuleSpecHTML(spec, fn)
		})
	})
}

func convertRuleSpecHTML(v any, fn ContentFunc) any {
	spec, ok := v.(map[string]any)
	if !ok {
		return v
	}
	ruleType, _ := spec["rule_type"].(string)
	paths, ok := ruleInputHTMLPaths[ruleType]
	if !ok {
		return v
	}
	return RewriteStrings(spec, paths, fn)
}
