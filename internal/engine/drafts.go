package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"

	"github.com/google/uuid"

	"draftline/internal/domain"
	"draftline/internal/draftupgrade"
	"draftline/internal/events"
	"draftline/internal/repo"
)

// SaveDraft stores the unsaved changes of a user, written against
// draftVersion of the exploration.
func (e Engine) SaveDraft(ctx context.Context, userID, explorationID string, changes domain.ChangeList, draftVersion int) (domain.UserDraft, error) {
	if userID == "" {
		return domain.UserDraft{}, invalid("user is required")
	}
	if err := validateChanges(changes); err != nil {
		return domain.UserDraft{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.UserDraft{}, err
	}
	defer tx.Rollback()
	exp, err := e.Repo.GetExplorationTx(ctx, tx, explorationID)
	if err != nil {
		return domain.UserDraft{}, err
	}
	if draftVersion < 1 || draftVersion > exp.Version {
		return domain.UserDraft{}, invalid("draft version %d is outside 1..%d", draftVersion, exp.Version)
	}
	d := domain.UserDraft{
		UserID:        userID,
		ExplorationID: exp.ID,
		Changes:       changes,
		DraftVersion:  draftVersion,
		UpdatedAt:     e.timestamp(),
	}
	if d.Changes == nil {
		d.Changes = domain.ChangeList{}
	}
	if err := e.Repo.UpsertDraft(ctx, tx, d); err != nil {
		return domain.UserDraft{}, fmt.Errorf("save draft: %w", err)
	}
	if err := e.appendEvent(ctx, tx, events.DraftSaved, exp.ID, "draft", userID, userID,
		events.EventPayload{"draft_version": draftVersion, "changes": len(d.Changes)}); err != nil {
		return domain.UserDraft{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.UserDraft{}, err
	}
	return d, nil
}

// LoadedDraft is the draft of a user after it was brought up to date.
type LoadedDraft struct {
	// Draft is the zero value when the draft was discarded.
	Draft   domain.UserDraft    `json:"draft"`
	Upgrade draftupgrade.Result `json:"upgrade"`
}

// Discarded reports whether the stale draft could not be carried forward and
// was deleted.
func (l LoadedDraft) Discarded() bool {
	return !l.Upgrade.Migratable()
}

// LoadDraft returns the draft of a user at the current exploration version. A
// stale draft is upgraded and stored again; one that cannot be upgraded is
// discarded. A stale draft is never returned as is.
func (e Engine) LoadDraft(ctx context.Context, userID, explorationID string) (LoadedDraft, error) {
	d, err := e.Repo.GetDraft(ctx, userID, explorationID)
	if err != nil {
		return LoadedDraft{}, err
	}
	exp, err := e.Repo.GetExploration(ctx, explorationID)
	if err != nil {
		return LoadedDraft{}, err
	}
	res, err := e.Upgrader.Upgrade(ctx, d.Changes, d.DraftVersion, exp.Version, exp.ID)
	if err != nil {
		return LoadedDraft{}, fmt.Errorf("upgrade draft of %s: %w", userID, err)
	}
	switch res.Status {
	case draftupgrade.StatusCurrent:
		return LoadedDraft{Draft: d, Upgrade: res}, nil
	case draftupgrade.StatusUpgraded:
		upgraded := d
		upgraded.Changes = res.Changes
		upgraded.DraftVersion = exp.Version
		upgraded.UpdatedAt = e.timestamp()
		if err := e.replaceDraft(ctx, d, upgraded); err != nil {
			return LoadedDraft{}, err
		}
		e.Log.Debug().Str("exploration_id", exp.ID).Str("user_id", userID).
			Int("from_version", d.DraftVersion).Int("to_version", exp.Version).Msg("draft upgraded")
		return LoadedDraft{Draft: upgraded, Upgrade: res}, nil
	default:
		if err := e.discardDraft(ctx, d, exp.Version, res); err != nil {
			return LoadedDraft{}, err
		}
		e.Log.Info().Str("exploration_id", exp.ID).Str("user_id", userID).
			Str("reason", string(res.Reason)).Msg("stale draft discarded")
		return LoadedDraft{Upgrade: res}, nil
	}
}

// replaceDraft stores upgraded unless the stored draft changed since old was
// read, in which case the newer draft wins.
func (e Engine) replaceDraft(ctx context.Context, old, upgraded domain.UserDraft) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.ensureDraftUnchanged(ctx, tx, old); err != nil {
		return err
	}
	if err := e.Repo.UpsertDraft(ctx, tx, upgraded); err != nil {
		return err
	}
	if err := e.appendEvent(ctx, tx, events.DraftUpgraded, old.ExplorationID, "draft", old.UserID, old.UserID, events.EventPayload{
		"from_version": old.DraftVersion,
		"to_version":   upgraded.DraftVersion,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// ensureDraftUnchanged fails with ErrVersionConflict when the stored draft is
// no longer the one that was read.
func (e Engine) ensureDraftUnchanged(ctx context.Context, tx *sql.Tx, read domain.UserDraft) error {
	current, err := e.Repo.GetDraftTx(ctx, tx, read.UserID, read.ExplorationID)
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%w: draft of %s was removed while upgrading", ErrVersionConflict, read.UserID)
	}
	if err != nil {
		return err
	}
	if current.UpdatedAt != read.UpdatedAt || current.DraftVersion != read.DraftVersion ||
		!reflect.DeepEqual(current.Changes, read.Changes) {
		return fmt.Errorf("%w: draft of %s changed while upgrading", ErrVersionConflict, read.UserID)
	}
	return nil
}

// discardDraft deletes d unless the stored draft changed since d was read, in
// which case the newer draft is kept.
func (e Engine) discardDraft(ctx context.Context, d domain.UserDraft, explorationVersion int, res draftupgrade.Result) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.ensureDraftUnchanged(ctx, tx, d); err != nil {
		return err
	}
	if err := e.Repo.DeleteDraft(ctx, tx, d.UserID, d.ExplorationID); err != nil {
		return err
	}
	payload := events.EventPayload{
		"draft_version":       d.DraftVersion,
		"exploration_version": explorationVersion,
		"reason":              string(res.Reason),
		"failed_version":      res.Version,
	}
	if res.Step != nil {
		payload["step"] = res.Step.String()
	}
	if err := e.appendEvent(ctx, tx, events.DraftDiscarded, d.ExplorationID, "draft", d.UserID, d.UserID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

// DiscardDraft deletes the draft of a user.
func (e Engine) DiscardDraft(ctx context.Context, userID, explorationID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteDraft(ctx, tx, userID, explorationID); err != nil {
		return err
	}
	if err := e.appendEvent(ctx, tx, events.DraftDiscarded, explorationID, "draft", userID, userID,
		events.EventPayload{"reason": "user"}); err != nil {
		return err
	}
	return tx.Commit()
}

// UpgradeDraft upgrades a change list without storing anything. A zero
// toVersion means the current exploration version.
func (e Engine) UpgradeDraft(ctx context.Context, changes domain.ChangeList, fromVersion, toVersion int, explorationID string) (draftupgrade.Result, error) {
	exp, err := e.Repo.GetExploration(ctx, explorationID)
	if err != nil {
		return draftupgrade.Result{}, err
	}
	if toVersion == 0 {
		toVersion = exp.Version
	}
	if toVersion > exp.Version {
		return draftupgrade.Result{}, fmt.Errorf("%w: exploration %s has no version %d", draftupgrade.ErrInvalidInput, exp.ID, toVersion)
	}
	return e.Upgrader.Upgrade(ctx, changes, fromVersion, toVersion, exp.ID)
}

// CreateSuggestion stores a suggested change for review.
func (e Engine) CreateSuggestion(ctx context.Context, explorationID, authorID string, change domain.ExplorationChange) (domain.Suggestion, error) {
	if err := validateChanges(domain.ChangeList{change}); err != nil {
		return domain.Suggestion{}, err
	}
	exp, err := e.Repo.GetExploration(ctx, explorationID)
	if err != nil {
		return domain.Suggestion{}, err
	}
	now := e.timestamp()
	s := domain.Suggestion{
		ID:            uuid.NewString(),
		ExplorationID: exp.ID,
		TargetVersion: exp.Version,
		Status:        domain.SuggestionInReview,
		AuthorID:      authorID,
		Change:        change,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.Repo.InsertSuggestion(ctx, nil, s); err != nil {
		return domain.Suggestion{}, fmt.Errorf("insert suggestion: %w", err)
	}
	return s, nil
}

func (e Engine) ListSuggestions(ctx context.Context, explorationID, status string) ([]domain.Suggestion, error) {
	return e.Repo.ListSuggestions(ctx, explorationID, status)
}

// ReplaceSuggestionChange stores a migrated suggestion change.
func (e Engine) ReplaceSuggestionChange(ctx context.Context, s domain.Suggestion, change domain.ExplorationChange, actorID string, payload events.EventPayload) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateSuggestionChange(ctx, tx, s.ID, change, e.timestamp()); err != nil {
		return err
	}
	if err := e.appendEvent(ctx, tx, events.SuggestionMigrated, s.ExplorationID, "suggestion", s.ID, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}
