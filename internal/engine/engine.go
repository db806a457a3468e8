package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"draftline/internal/config"
	"draftline/internal/domain"
	"draftline/internal/draftupgrade"
	"draftline/internal/events"
	"draftline/internal/repo"
	"draftline/internal/rte"
)

var (
	// ErrVersionConflict is returned when a commit is based on an outdated
	// exploration version.
	ErrVersionConflict = errors.New("version conflict")
	ErrInvalidArgument = errors.New("invalid argument")
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Upgrader draftupgrade.Upgrader
	Log      zerolog.Logger
	Now      func() time.Time
}

// New builds an engine whose upgrader reads commits straight from the
// database. Use WithCommitStore to put a cache in front.
func New(db *sql.DB, cfg *config.Config, log zerolog.Logger) Engine {
	r := repo.Repo{DB: db}
	e := Engine{
		DB:     db,
		Repo:   r,
		Config: cfg,
		Log:    log,
		Now:    time.Now,
	}
	e.Upgrader = draftupgrade.Upgrader{
		Commits:    r,
		Converters: draftupgrade.DefaultRegistry(rte.AddMathContent),
		Log:        &log,
	}
	return e
}

// WithCommitStore returns a copy of e whose upgrader reads commits from store.
func (e Engine) WithCommitStore(store draftupgrade.CommitStore) Engine {
	e.Upgrader.Commits = store
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// appendEvent writes through e.Events, stamped with the engine clock unless
// the writer has its own.
func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, evtType, explorationID, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w.Append(ctx, tx, evtType, explorationID, entityKind, entityID, actorID, payload)
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// CreateExploration stores version 1 of a new exploration. A zero
// schemaVersion means the latest states schema.
func (e Engine) CreateExploration(ctx context.Context, id, title string, schemaVersion int, actorID string) (domain.Exploration, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}
	if strings.TrimSpace(title) == "" {
		return domain.Exploration{}, invalid("title is required")
	}
	if schemaVersion == 0 {
		schemaVersion = domain.LatestStatesSchemaVersion
	}
	if schemaVersion < 1 || schemaVersion > domain.LatestStatesSchemaVersion {
		return domain.Exploration{}, invalid("states schema version %d is not supported", schemaVersion)
	}
	now := e.timestamp()
	exp := domain.Exploration{
		ID:                  id,
		Title:               title,
		Version:             1,
		StatesSchemaVersion: schemaVersion,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Exploration{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertExploration(ctx, tx, exp); err != nil {
		return domain.Exploration{}, fmt.Errorf("insert exploration: %w", err)
	}
	if err := e.Repo.InsertCommit(ctx, tx, domain.CommitLogEntry{
		ExplorationID: id,
		Version:       1,
		CommitType:    domain.CommitTypeCreate,
		Message:       "New exploration created with title '" + title + "'.",
		AuthorID:      actorID,
		Cmds:          []domain.CommitCmd{{"cmd": domain.CmdCreateNew, "title": title}},
		CreatedAt:     now,
	}); err != nil {
		return domain.Exploration{}, fmt.Errorf("insert commit: %w", err)
	}
	if err := e.appendEvent(ctx, tx, events.ExplorationCreated, id, "exploration", id, actorID,
		events.EventPayload{"title": title, "states_schema_version": schemaVersion}); err != nil {
		return domain.Exploration{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Exploration{}, err
	}
	return exp, nil
}

func (e Engine) GetExploration(ctx context.Context, id string) (domain.Exploration, error) {
	return e.Repo.GetExploration(ctx, id)
}

func (e Engine) ListExplorations(ctx context.Context) ([]domain.Exploration, error) {
	return e.Repo.ListExplorations(ctx)
}

func (e Engine) ListCommits(ctx context.Context, explorationID string, afterVersion, limit int) ([]domain.CommitLogEntry, error) {
	if _, err := e.Repo.GetExploration(ctx, explorationID); err != nil {
		return nil, err
	}
	return e.Repo.ListCommits(ctx, explorationID, afterVersion, limit)
}

// CommitOptions are parameters for a content commit.
type CommitOptions struct {
	ExplorationID   string
	ActorID         string
	ExpectedVersion int
	Changes         domain.ChangeList
	Message         string
}

var authoringCmds = map[string]bool{
	domain.CmdEditStateProperty:       true,
	domain.CmdAddState:                true,
	domain.CmdRenameState:             true,
	domain.CmdDeleteState:             true,
	domain.CmdEditExplorationProperty: true,
}

// ValidateChange checks that c is a change an author can commit.
func ValidateChange(c domain.ExplorationChange) error {
	return validateChanges(domain.ChangeList{c})
}

func validateChanges(changes domain.ChangeList) error {
	for i, c := range changes {
		if !authoringCmds[c.Cmd] {
			return invalid("change %d has unsupported cmd %q", i, c.Cmd)
		}
	}
	return nil
}

// CommitChanges applies an authored change list as the next exploration
// version.
func (e Engine) CommitChanges(ctx context.Context, opts CommitOptions) (domain.Exploration, error) {
	if len(opts.Changes) == 0 {
		return domain.Exploration{}, invalid("changes are required")
	}
	if err := validateChanges(opts.Changes); err != nil {
		return domain.Exploration{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Exploration{}, err
	}
	defer tx.Rollback()
	exp, err := e.Repo.GetExplorationTx(ctx, tx, opts.ExplorationID)
	if err != nil {
		return domain.Exploration{}, err
	}
	if exp.Version != opts.ExpectedVersion {
		return domain.Exploration{}, fmt.Errorf("%w: exploration %s is at version %d, not %d", ErrVersionConflict, exp.ID, exp.Version, opts.ExpectedVersion)
	}
	now := e.timestamp()
	cmds := make([]domain.CommitCmd, len(opts.Changes))
	for i, c := range opts.Changes {
		cmds[i] = domain.CommitCmdFromChange(c)
	}
	exp.Version++
	exp.UpdatedAt = now
	if err := e.Repo.InsertCommit(ctx, tx, domain.CommitLogEntry{
		ExplorationID: exp.ID,
		Version:       exp.Version,
		CommitType:    domain.CommitTypeEdit,
		Message:       opts.Message,
		AuthorID:      opts.ActorID,
		Cmds:          cmds,
		CreatedAt:     now,
	}); err != nil {
		return domain.Exploration{}, fmt.Errorf("insert commit: %w", err)
	}
	if err := e.updateVersion(ctx, tx, exp, opts.ExpectedVersion); err != nil {
		return domain.Exploration{}, err
	}
	if err := e.appendEvent(ctx, tx, events.ExplorationCommitted, exp.ID, "exploration", exp.ID, opts.ActorID,
		events.EventPayload{"version": exp.Version, "changes": len(opts.Changes)}); err != nil {
		return domain.Exploration{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Exploration{}, err
	}
	return exp, nil
}

func (e Engine) updateVersion(ctx context.Context, tx *sql.Tx, exp domain.Exploration, expectedVersion int) error {
	err := e.Repo.UpdateExplorationVersion(ctx, tx, exp, expectedVersion)
	if errors.Is(err, repo.ErrConflict) {
		return fmt.Errorf("%w: %v", ErrVersionConflict, err)
	}
	return err
}

// MigrateStatesSchema moves an exploration to targetSchema with one pure
// schema migration commit per schema step.
func (e Engine) MigrateStatesSchema(ctx context.Context, explorationID string, targetSchema int, actorID string) (domain.Exploration, error) {
	if targetSchema == 0 {
		targetSchema = domain.LatestStatesSchemaVersion
	}
	if targetSchema > domain.LatestStatesSchemaVersion {
		return domain.Exploration{}, invalid("states schema version %d is not supported", targetSchema)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Exploration{}, err
	}
	defer tx.Rollback()
	exp, err := e.Repo.GetExplorationTx(ctx, tx, explorationID)
	if err != nil {
		return domain.Exploration{}, err
	}
	if targetSchema < exp.StatesSchemaVersion {
		return domain.Exploration{}, invalid("exploration %s is already at states schema %d", exp.ID, exp.StatesSchemaVersion)
	}
	if targetSchema == exp.StatesSchemaVersion {
		return exp, nil
	}
	from := exp
	now := e.timestamp()
	for schema := exp.StatesSchemaVersion; schema < targetSchema; schema++ {
		exp.Version++
		err := e.Repo.InsertCommit(ctx, tx, domain.CommitLogEntry{
			ExplorationID: exp.ID,
			Version:       exp.Version,
			CommitType:    domain.CommitTypeEdit,
			Message:       fmt.Sprintf("Update exploration states from schema version %d to %d.", schema, schema+1),
			AuthorID:      actorID,
			Cmds:          []domain.CommitCmd{domain.NewMigrateStatesSchemaCmd(schema, schema+1)},
			CreatedAt:     now,
		})
		if err != nil {
			return domain.Exploration{}, fmt.Errorf("insert migration commit: %w", err)
		}
	}
	exp.StatesSchemaVersion = targetSchema
	exp.UpdatedAt = now
	if err := e.updateVersion(ctx, tx, exp, from.Version); err != nil {
		return domain.Exploration{}, err
	}
	if err := e.appendEvent(ctx, tx, events.ExplorationMigrated, exp.ID, "exploration", exp.ID, actorID, events.EventPayload{
		"from_schema":  from.StatesSchemaVersion,
		"to_schema":    exp.StatesSchemaVersion,
		"from_version": from.Version,
		"to_version":   exp.Version,
	}); err != nil {
		return domain.Exploration{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Exploration{}, err
	}
	e.Log.Info().Str("exploration_id", exp.ID).Int("from_schema", from.StatesSchemaVersion).
		Int("to_schema", exp.StatesSchemaVersion).Msg("exploration migrated")
	return exp, nil
}
