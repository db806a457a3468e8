// Package jobs runs batch passes over stored drafts and suggestions. Records
// are processed by a bounded worker pool; a failing record is reported and
// does not stop the run.
package jobs

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"draftline/internal/domain"
	"draftline/internal/draftupgrade"
	"draftline/internal/engine"
	"draftline/internal/events"
	"draftline/internal/rte"
)

type Runner struct {
	Engine  engine.Engine
	Workers int
	Log     zerolog.Logger
}

// RecordError is the failure of one record.
type RecordError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

func (r Runner) workers() int {
	if r.Workers < 1 {
		return 1
	}
	return r.Workers
}

// forEach applies fn to every item on the worker pool. Only a cancelled
// context makes it return an error.
func forEach[T, R any](ctx context.Context, workers int, items []T, fn func(context.Context, T) R) ([]R, error) {
	p := pool.NewWithResults[R]().WithContext(ctx).WithMaxGoroutines(workers)
	for _, item := range items {
		item := item
		p.Go(func(ctx context.Context) (R, error) {
			if err := ctx.Err(); err != nil {
				var zero R
				return zero, err
			}
			return fn(ctx, item), nil
		})
	}
	return p.Wait()
}

func sortErrors(errs []RecordError) {
	sort.Slice(errs, func(i, j int) bool { return errs[i].ID < errs[j].ID })
}

// DraftReport summarizes an UpgradeDrafts run.
type DraftReport struct {
	RunID     string                      `json:"run_id"`
	Total     int                         `json:"total"`
	Current   int                         `json:"current"`
	Upgraded  int                         `json:"upgraded"`
	Discarded int                         `json:"discarded"`
	Skipped   int                         `json:"skipped"`
	Reasons   map[draftupgrade.Reason]int `json:"reasons,omitempty"`
	Errors    []RecordError               `json:"errors,omitempty"`
}

type draftOutcome struct {
	id     string
	status draftupgrade.Status
	reason draftupgrade.Reason
	err    error
}

// UpgradeDrafts brings every stored draft up to date, discarding those that
// cannot be upgraded. An empty explorationID covers all explorations.
func (r Runner) UpgradeDrafts(ctx context.Context, explorationID string) (DraftReport, error) {
	report := DraftReport{RunID: uuid.NewString(), Reasons: map[draftupgrade.Reason]int{}}
	drafts, err := r.Engine.Repo.ListDrafts(ctx, explorationID)
	if err != nil {
		return report, err
	}
	log := r.Log.With().Str("run_id", report.RunID).Str("job", "upgrade_drafts").Logger()
	log.Info().Int("drafts", len(drafts)).Msg("job started")

	outcomes, err := forEach(ctx, r.workers(), drafts, func(ctx context.Context, d domain.UserDraft) draftOutcome {
		out := draftOutcome{id: d.ExplorationID + "/" + d.UserID}
		loaded, err := r.Engine.LoadDraft(ctx, d.UserID, d.ExplorationID)
		if err != nil {
			out.err = err
			return out
		}
		out.status = loaded.Upgrade.Status
		out.reason = loaded.Upgrade.Reason
		return out
	})
	if err != nil {
		return report, err
	}
	for _, o := range outcomes {
		report.Total++
		if errors.Is(o.err, engine.ErrVersionConflict) {
			// saved while the job ran; the newer draft is left alone
			report.Skipped++
			continue
		}
		if o.err != nil {
			report.Errors = append(report.Errors, RecordError{ID: o.id, Error: o.err.Error()})
			continue
		}
		switch o.status {
		case draftupgrade.StatusCurrent:
			report.Current++
		case draftupgrade.StatusUpgraded:
			report.Upgraded++
		default:
			report.Discarded++
			report.Reasons[o.reason]++
		}
	}
	sortErrors(report.Errors)
	log.Info().Int("upgraded", report.Upgraded).Int("discarded", report.Discarded).
		Int("errors", len(report.Errors)).Msg("job finished")
	return report, nil
}

// htmlOf returns the rich text of a change, concatenated.
func htmlOf(c domain.ExplorationChange) string {
	var b strings.Builder
	draftupgrade.ConvertHTMLInChange(c, func(s string) string {
		b.WriteString(s)
		return s
	})
	return b.String()
}

// MathAuditReport lists the suggestions whose change contains math.
type MathAuditReport struct {
	RunID         string   `json:"run_id"`
	Total         int      `json:"total"`
	SuggestionIDs []string `json:"suggestion_ids"`
}

func (r Runner) AuditSuggestionMath(ctx context.Context) (MathAuditReport, error) {
	report := MathAuditReport{RunID: uuid.NewString(), SuggestionIDs: []string{}}
	suggestions, err := r.Engine.ListSuggestions(ctx, "", "")
	if err != nil {
		return report, err
	}
	hits, err := forEach(ctx, r.workers(), suggestions, func(_ context.Context, s domain.Suggestion) string {
		if rte.HasMathComponent(htmlOf(s.Change)) {
			return s.ID
		}
		return ""
	})
	if err != nil {
		return report, err
	}
	report.Total = len(suggestions)
	for _, id := range hits {
		if id != "" {
			report.SuggestionIDs = append(report.SuggestionIDs, id)
		}
	}
	sort.Strings(report.SuggestionIDs)
	return report, nil
}

// SVGReport lists math components of suggestions that have no svg file.
type SVGReport struct {
	RunID   string              `json:"run_id"`
	Missing map[string][]string `json:"missing"`
	Tags    int                 `json:"tags"`
	Invalid []RecordError       `json:"invalid,omitempty"`
}

type svgOutcome struct {
	id      string
	missing []string
	err     string
}

// ValidateSuggestionSVGs reports math components without an svg file.
// Suggestions whose math is not in the current format are reported as
// invalid instead.
func (r Runner) ValidateSuggestionSVGs(ctx context.Context) (SVGReport, error) {
	report := SVGReport{RunID: uuid.NewString(), Missing: map[string][]string{}}
	suggestions, err := r.Engine.ListSuggestions(ctx, "", "")
	if err != nil {
		return report, err
	}
	outcomes, err := forEach(ctx, r.workers(), suggestions, func(_ context.Context, s domain.Suggestion) svgOutcome {
		html := htmlOf(s.Change)
		if errs := rte.ValidateMathContent(html); len(errs) > 0 {
			return svgOutcome{id: s.ID, err: errs[0].Error()}
		}
		return svgOutcome{id: s.ID, missing: rte.MissingSVGs(html)}
	})
	if err != nil {
		return report, err
	}
	for _, o := range outcomes {
		if o.err != "" {
			report.Invalid = append(report.Invalid, RecordError{ID: o.id, Error: o.err})
			continue
		}
		if len(o.missing) > 0 {
			report.Missing[o.id] = o.missing
			report.Tags += len(o.missing)
		}
	}
	sortErrors(report.Invalid)
	return report, nil
}

// MathMigrationReport summarizes a MigrateSuggestionMath run. Failures before
// and after the rewrite are kept apart.
type MathMigrationReport struct {
	RunID         string        `json:"run_id"`
	Migrated      int           `json:"migrated"`
	Unchanged     int           `json:"unchanged"`
	InvalidBefore []RecordError `json:"invalid_before,omitempty"`
	InvalidAfter  []RecordError `json:"invalid_after,omitempty"`
	Errors        []RecordError `json:"errors,omitempty"`
}

type mathOutcome struct {
	id       string
	migrated bool
	before   string
	after    string
	err      error
}

// MigrateSuggestionMath rewrites suggestions that still carry legacy math
// components.
func (r Runner) MigrateSuggestionMath(ctx context.Context, actorID string) (MathMigrationReport, error) {
	report := MathMigrationReport{RunID: uuid.NewString()}
	suggestions, err := r.Engine.ListSuggestions(ctx, "", "")
	if err != nil {
		return report, err
	}
	log := r.Log.With().Str("run_id", report.RunID).Str("job", "migrate_suggestion_math").Logger()

	outcomes, err := forEach(ctx, r.workers(), suggestions, func(ctx context.Context, s domain.Suggestion) mathOutcome {
		out := mathOutcome{id: s.ID}
		if err := engine.ValidateChange(s.Change); err != nil {
			out.before = err.Error()
			log.Error().Str("suggestion_id", s.ID).Err(err).Msg("suggestion failed validation")
			return out
		}
		if len(rte.ValidateMathContent(htmlOf(s.Change))) == 0 {
			return out
		}
		migrated := draftupgrade.ConvertHTMLInChange(s.Change, rte.AddMathContent)
		if errs := rte.ValidateMathContent(htmlOf(migrated)); len(errs) > 0 {
			out.after = errs[0].Error()
			log.Error().Str("suggestion_id", s.ID).Err(errs[0]).Msg("suggestion failed validation after migration")
			return out
		}
		out.err = r.Engine.ReplaceSuggestionChange(ctx, s, migrated, actorID, events.EventPayload{"run_id": report.RunID})
		out.migrated = out.err == nil
		return out
	})
	if err != nil {
		return report, err
	}
	for _, o := range outcomes {
		switch {
		case o.before != "":
			report.InvalidBefore = append(report.InvalidBefore, RecordError{ID: o.id, Error: o.before})
		case o.after != "":
			report.InvalidAfter = append(report.InvalidAfter, RecordError{ID: o.id, Error: o.after})
		case o.err != nil:
			report.Errors = append(report.Errors, RecordError{ID: o.id, Error: o.err.Error()})
		case o.migrated:
			report.Migrated++
		default:
			report.Unchanged++
		}
	}
	sortErrors(report.InvalidBefore)
	sortErrors(report.InvalidAfter)
	sortErrors(report.Errors)
	log.Info().Int("migrated", report.Migrated).Msg("job finished")
	return report, nil
}
