package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"draftline/internal/domain"
)

const commitColumns = `exploration_id,version,commit_type,COALESCE(message,''),author_id,commit_cmds_json,created_at`

func scanCommit(row interface{ Scan(...any) error }) (domain.CommitLogEntry, error) {
	var c domain.CommitLogEntry
	var cmds string
	if err := row.Scan(&c.ExplorationID, &c.Version, &c.CommitType, &c.Message, &c.AuthorID, &cmds, &c.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return c, ErrNotFound
		}
		return c, err
	}
	if err := json.Unmarshal([]byte(cmds), &c.Cmds); err != nil {
		return c, fmt.Errorf("decode commit_cmds of %s v%d: %w", c.ExplorationID, c.Version, err)
	}
	return c, nil
}

func (r Repo) InsertCommit(ctx context.Context, tx *sql.Tx, c domain.CommitLogEntry) error {
	if c.Cmds == nil {
		c.Cmds = []domain.CommitCmd{}
	}
	cmds, err := json.Marshal(c.Cmds)
	if err != nil {
		return fmt.Errorf("encode commit_cmds: %w", err)
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO exploration_commits(exploration_id,version,commit_type,message,author_id,commit_cmds_json,created_at) VALUES (?,?,?,?,?,?,?)`,
		c.ExplorationID, c.Version, c.CommitType, nullable(c.Message), c.AuthorID, string(cmds), c.CreatedAt)
	return err
}

func (r Repo) GetCommit(ctx context.Context, explorationID string, version int) (domain.CommitLogEntry, error) {
	return scanCommit(r.DB.QueryRowContext(ctx, `SELECT `+commitColumns+` FROM exploration_commits WHERE exploration_id=? AND version=?`,
		explorationID, version))
}

// GetCommits returns the commits of an exploration for the given versions, in
// the requested order. A missing version is reported as ErrNotFound.
func (r Repo) GetCommits(ctx context.Context, explorationID string, versions []int) ([]domain.CommitLogEntry, error) {
	if len(versions) == 0 {
		return []domain.CommitLogEntry{}, nil
	}
	args := make([]any, 0, len(versions)+1)
	args = append(args, explorationID)
	for _, v := range versions {
		args = append(args, v)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+commitColumns+` FROM exploration_commits WHERE exploration_id=? AND version IN (`+placeholders(len(versions))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	byVersion := make(map[int]domain.CommitLogEntry, len(versions))
	for rows.Next() {
		c, err := scanCommit(rows)
		if err != nil {
			return nil, err
		}
		byVersion[c.Version] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	res := make([]domain.CommitLogEntry, len(versions))
	for i, v := range versions {
		c, ok := byVersion[v]
		if !ok {
			return nil, fmt.Errorf("%w: commit %d of exploration %s", ErrNotFound, v, explorationID)
		}
		res[i] = c
	}
	return res, nil
}

// ListCommits returns commits newer than afterVersion in ascending order.
func (r Repo) ListCommits(ctx context.Context, explorationID string, afterVersion, limit int) ([]domain.CommitLogEntry, error) {
	query := `SELECT ` + commitColumns + ` FROM exploration_commits WHERE exploration_id=? AND version>? ORDER BY version ASC`
	args := []any{explorationID, afterVersion}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CommitLogEntry
	for rows.Next() {
		c, err := scanCommit(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
