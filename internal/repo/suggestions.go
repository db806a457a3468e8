package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"draftline/internal/domain"
)

const suggestionColumns = `id,exploration_id,target_version,status,author_id,change_json,created_at,updated_at`

func scanSuggestion(row interface{ Scan(...any) error }) (domain.Suggestion, error) {
	var s domain.Suggestion
	var change string
	if err := row.Scan(&s.ID, &s.ExplorationID, &s.TargetVersion, &s.Status, &s.AuthorID, &change, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return s, ErrNotFound
		}
		return s, err
	}
	if err := json.Unmarshal([]byte(change), &s.Change); err != nil {
		return s, fmt.Errorf("decode suggestion %s: %w", s.ID, err)
	}
	return s, nil
}

func (r Repo) InsertSuggestion(ctx context.Context, tx *sql.Tx, s domain.Suggestion) error {
	data, err := json.Marshal(s.Change)
	if err != nil {
		return fmt.Errorf("encode suggestion change: %w", err)
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO suggestions(`+suggestionColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		s.ID, s.ExplorationID, s.TargetVersion, s.Status, s.AuthorID, string(data), s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) GetSuggestion(ctx context.Context, id string) (domain.Suggestion, error) {
	return scanSuggestion(r.DB.QueryRowContext(ctx, `SELECT `+suggestionColumns+` FROM suggestions WHERE id=?`, id))
}

// ListSuggestions filters by exploration and status when they are set.
func (r Repo) ListSuggestions(ctx context.Context, explorationID, status string) ([]domain.Suggestion, error) {
	query := `SELECT ` + suggestionColumns + ` FROM suggestions WHERE 1=1`
	var args []any
	if explorationID != "" {
		query += ` AND exploration_id=?`
		args = append(args, explorationID)
	}
	if status != "" {
		query += ` AND status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Suggestion
	for rows.Next() {
		s, err := scanSuggestion(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) UpdateSuggestionChange(ctx context.Context, tx *sql.Tx, id string, change domain.ExplorationChange, updatedAt string) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encode suggestion change: %w", err)
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE suggestions SET change_json=?, updated_at=? WHERE id=?`, string(data), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
