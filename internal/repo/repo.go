package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"draftline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a row changed since the caller read it.
	ErrConflict = errors.New("conflict")
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q runs against tx when one is given.
func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

const explorationColumns = `id,title,version,states_schema_version,created_at,updated_at`

func scanExploration(row interface{ Scan(...any) error }) (domain.Exploration, error) {
	var e domain.Exploration
	err := row.Scan(&e.ID, &e.Title, &e.Version, &e.StatesSchemaVersion, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

func (r Repo) InsertExploration(ctx context.Context, tx *sql.Tx, e domain.Exploration) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO explorations(`+explorationColumns+`) VALUES (?,?,?,?,?,?)`,
		e.ID, e.Title, e.Version, e.StatesSchemaVersion, e.CreatedAt, e.UpdatedAt)
	return err
}

func (r Repo) GetExploration(ctx context.Context, id string) (domain.Exploration, error) {
	return r.GetExplorationTx(ctx, nil, id)
}

func (r Repo) GetExplorationTx(ctx context.Context, tx *sql.Tx, id string) (domain.Exploration, error) {
	return scanExploration(r.q(tx).QueryRowContext(ctx, `SELECT `+explorationColumns+` FROM explorations WHERE id=?`, id))
}

func (r Repo) ListExplorations(ctx context.Context) ([]domain.Exploration, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+explorationColumns+` FROM explorations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Exploration
	for rows.Next() {
		e, err := scanExploration(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// UpdateExplorationVersion moves an exploration from expectedVersion to
// e.Version. ErrConflict is returned if another writer got there first.
func (r Repo) UpdateExplorationVersion(ctx context.Context, tx *sql.Tx, e domain.Exploration, expectedVersion int) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE explorations SET version=?, states_schema_version=?, updated_at=? WHERE id=? AND version=?`,
		e.Version, e.StatesSchemaVersion, e.UpdatedAt, e.ID, expectedVersion)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetExplorationTx(ctx, tx, e.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: exploration %s is no longer at version %d", ErrConflict, e.ID, expectedVersion)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// placeholders returns "?,?,...,?" with n marks.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}
