package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"draftline/internal/domain"
)

const draftColumns = `user_id,exploration_id,draft_change_list_json,draft_version,updated_at`

func scanDraft(row interface{ Scan(...any) error }) (domain.UserDraft, error) {
	var d domain.UserDraft
	var changes string
	if err := row.Scan(&d.UserID, &d.ExplorationID, &changes, &d.DraftVersion, &d.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return d, ErrNotFound
		}
		return d, err
	}
	if err := json.Unmarshal([]byte(changes), &d.Changes); err != nil {
		return d, fmt.Errorf("decode draft of %s on %s: %w", d.UserID, d.ExplorationID, err)
	}
	return d, nil
}

// UpsertDraft stores the draft of a user, replacing any previous one.
func (r Repo) UpsertDraft(ctx context.Context, tx *sql.Tx, d domain.UserDraft) error {
	if d.Changes == nil {
		d.Changes = domain.ChangeList{}
	}
	data, err := json.Marshal(d.Changes)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO user_drafts(`+draftColumns+`) VALUES (?,?,?,?,?)
ON CONFLICT(user_id, exploration_id) DO UPDATE SET draft_change_list_json=excluded.draft_change_list_json, draft_version=excluded.draft_version, updated_at=excluded.updated_at`,
		d.UserID, d.ExplorationID, string(data), d.DraftVersion, d.UpdatedAt)
	return err
}

func (r Repo) GetDraft(ctx context.Context, userID, explorationID string) (domain.UserDraft, error) {
	return r.GetDraftTx(ctx, nil, userID, explorationID)
}

func (r Repo) GetDraftTx(ctx context.Context, tx *sql.Tx, userID, explorationID string) (domain.UserDraft, error) {
	return scanDraft(r.q(tx).QueryRowContext(ctx, `SELECT `+draftColumns+` FROM user_drafts WHERE user_id=? AND exploration_id=?`,
		userID, explorationID))
}

func (r Repo) DeleteDraft(ctx context.Context, tx *sql.Tx, userID, explorationID string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM user_drafts WHERE user_id=? AND exploration_id=?`, userID, explorationID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDrafts returns stored drafts, optionally filtered by exploration.
func (r Repo) ListDrafts(ctx context.Context, explorationID string) ([]domain.UserDraft, error) {
	query := `SELECT ` + draftColumns + ` FROM user_drafts`
	var args []any
	if explorationID != "" {
		query += ` WHERE exploration_id=?`
		args = append(args, explorationID)
	}
	query += ` ORDER BY exploration_id, user_id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.UserDraft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}
