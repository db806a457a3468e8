package draftupgrade

import (
	"draftline/internal/domain"
)

// ContentFunc normalizes one rich text html string. It must not fail on well
// formed input.
type ContentFunc func(string) string

// DefaultRegistry returns the converters for every states schema bump the
// platform has shipped. normalize is used by steps that rewrite embedded rich
// text; a nil normalize leaves such text unchanged.
func DefaultRegistry(normalize ContentFunc) *Registry {
	if normalize == nil {
		normalize = func(s string) string { return s }
	}
	r := NewRegistry()
	r.MustRegister(Step{From: 27, To: 28}, convertV27ToV28)
	r.MustRegister(Step{From: 28, To: 29}, NoModification)
	r.MustRegister(Step{From: 29, To: 30}, convertV29ToV30)
	r.MustRegister(Step{From: 30, To: 31}, convertV30ToV31)
	r.MustRegister(Step{From: 31, To: 32}, NoModification)
	r.MustRegister(Step{From: 32, To: 33}, convertV32ToV33)
	r.MustRegister(Step{From: 33, To: 34}, convertV33ToV34(normalize))
	return r
}

// mapChanges returns a new list with fn applied to every change.
func mapChanges(changes domain.ChangeList, fn func(domain.ExplorationChange) domain.ExplorationChange) domain.ChangeList {
	if changes == nil {
		return nil
	}
	out := make(domain.ChangeList, len(changes))
	for i, c := range changes {
		out[i] = fn(c)
	}
	return out
}

// mapValues applies fn to both the old and the new value of a change.
func mapValues(c domain.ExplorationChange, fn func(any) any) domain.ExplorationChange {
	if c.OldValue != nil {
		c.OldValue = fn(c.OldValue)
	}
	if c.NewValue != nil {
		c.NewValue = fn(c.NewValue)
	}
	return c
}

// convertV27ToV28 renames content_ids_to_audio_translations to
// recorded_voiceovers. The old mapping becomes the voiceovers_mapping.
func convertV27ToV28(changes domain.ChangeList) domain.ChangeList {
	return mapChanges(changes, func(c domain.ExplorationChange) domain.ExplorationChange {
		if !c.EditsStateProperty(domain.StatePropertyAudioTranslationsDeprecated) {
			return c
		}
		c.PropertyName = domain.StatePropertyRecordedVoiceovers
		return mapValues(c, func(v any) any {
			return map[string]any{"voiceovers_mapping": v}
		})
	})
}

// convertV29ToV30 replaces tagged_misconception_id of answer groups with
// tagged_skill_misconception_id.
func convertV29ToV30(changes domain.ChangeList) domain.ChangeList {
	return mapChanges(changes, func(c domain.ExplorationChange) domain.ExplorationChange {
		if !c.EditsStateProperty(domain.StatePropertyInteractionAnswerGroups) {
			return c
		}
		return mapValues(c, func(v any) any {
			switch groups := v.(type) {
			case []any:
				return Rewrite(groups, Path{AnyElement}, restructureAnswerGroup)
			case map[string]any:
				return restructureAnswerGroup(groups)
			}
			return v
		})
	})
}

func restructureAnswerGroup(v any) any {
	group, ok := v.(map[string]any)
	if !ok {
		return v
	}
	ruleSpecs, ok := group["rule_specs"]
	if !ok {
		return v
	}
	outcome, ok := group["outcome"]
	if !ok {
		return v
	}
	trainingData, ok := group["training_data"]
	if !ok {
		return v
	}
	return map[string]any{
		"rule_specs":                    ruleSpecs,
		"outcome":                       outcome,
		"training_data":                 trainingData,
		"tagged_skill_misconception_id": nil,
	}
}

var voiceoverPath = ParsePath("voiceovers_mapping.{}.{}")

// convertV30ToV31 adds duration_secs to every voiceover.
func convertV30ToV31(changes domain.ChangeList) domain.ChangeList {
	return mapChanges(changes, func(c domain.ExplorationChange) domain.ExplorationChange {
		if !c.EditsStateProperty(domain.StatePropertyRecordedVoiceovers) {
			return c
		}
		return mapValues(c, func(v any) any {
			return Rewrite(v, voiceoverPath, func(leaf any) any {
				return withDefault(leaf, "duration_secs", 0.0)
			})
		})
	})
}

// convertV32ToV33 adds showChoicesInShuffledOrder to MultipleChoiceInput
// customization args, recognized by choices being their only key.
func convertV32ToV33(changes domain.ChangeList) domain.ChangeList {
	return mapChanges(changes, func(c domain.ExplorationChange) domain.ExplorationChange {
		if !c.EditsStateProperty(domain.StatePropertyInteractionCustArgs) {
			return c
		}
		return mapValues(c, func(v any) any {
			args, ok := v.(map[string]any)
			if !ok || len(args) != 1 {
				return v
			}
			if _, ok := args["choices"]; !ok {
				return v
			}
			return withDefault(args, "showChoicesInShuffledOrder", map[string]any{"value": false})
		})
	})
}

// withDefault returns a copy of the map v with key set, unless v is not a map
// or already has key.
func withDefault(v any, key string, value any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	if _, ok := m[key]; ok {
		return v
	}
	out := copyMap(m)
	out[key] = value
	return out
}

// convertV33ToV34 moves math rich text components to the math_content
// attribute.
func convertV33ToV34(normalize ContentFunc) Converter {
	return func(changes domain.ChangeList) domain.ChangeList {
		return mapChanges(changes, func(c domain.ExplorationChange) domain.ExplorationChange {
			return ConvertHTMLInChange(c, normalize)
		})
	}
}
