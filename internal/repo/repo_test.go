package repo_test

import (
	"context"
	"errors"
	"testing"

	"draftline/internal/db"
	"draftline/internal/domain"
	"draftline/internal/migrate"
	"draftline/internal/repo"
)

const ts = "2024-01-01T00:00:00Z"

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	if err := r.InsertExploration(context.Background(), nil, domain.Exploration{
		ID: "exp-1", Title: "Fractions", Version: 1, StatesSchemaVersion: 27, CreatedAt: ts, UpdatedAt: ts,
	}); err != nil {
		t.Fatalf("insert exploration: %v", err)
	}
	return r
}

func TestGetCommitsKeepsRequestedOrder(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	for v := 2; v <= 4; v++ {
		err := r.InsertCommit(ctx, nil, domain.CommitLogEntry{
			ExplorationID: "exp-1",
			Version:       v,
			CommitType:    domain.CommitTypeEdit,
			AuthorID:      "admin",
			Cmds:          []domain.CommitCmd{domain.NewMigrateStatesSchemaCmd(25+v, 26+v)},
			CreatedAt:     ts,
		})
		if err != nil {
			t.Fatalf("insert commit %d: %v", v, err)
		}
	}

	commits, err := r.GetCommits(ctx, "exp-1", []int{4, 2, 3})
	if err != nil {
		t.Fatalf("get commits: %v", err)
	}
	for i, want := range []int{4, 2, 3} {
		if commits[i].Version != want {
			t.Fatalf("position %d: expected version %d, got %d", i, want, commits[i].Version)
		}
	}
	if !commits[1].IsPureSchemaMigration() {
		t.Fatalf("expected decoded migration command, got %#v", commits[1].Cmds)
	}
	from, _ := commits[1].Cmds[0].Int("from_version")
	if from != 27 {
		t.Fatalf("expected from_version 27, got %d", from)
	}

	if _, err := r.GetCommits(ctx, "exp-1", []int{3, 5}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing version, got %v", err)
	}
	all, err := r.ListCommits(ctx, "exp-1", 2, 0)
	if err != nil || len(all) != 2 || all[0].Version != 3 {
		t.Fatalf("list commits: %v %#v", err, all)
	}
}

func TestDraftLifecycle(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	draft := domain.UserDraft{
		UserID:        "user-1",
		ExplorationID: "exp-1",
		DraftVersion:  1,
		UpdatedAt:     ts,
		Changes: domain.ChangeList{{
			Cmd:          domain.CmdEditStateProperty,
			StateName:    "Intro",
			PropertyName: domain.StatePropertyContent,
			NewValue:     map[string]any{"html": "<p>hi</p>"},
		}},
	}
	if err := r.UpsertDraft(ctx, nil, draft); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	draft.DraftVersion = 2
	draft.Changes = append(draft.Changes, domain.ExplorationChange{Cmd: domain.CmdAddState, StateName: "End"})
	if err := r.UpsertDraft(ctx, nil, draft); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := r.GetDraft(ctx, "user-1", "exp-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DraftVersion != 2 || len(got.Changes) != 2 || got.Changes[1].StateName != "End" {
		t.Fatalf("unexpected draft %#v", got)
	}
	if html := got.Changes[0].NewValue.(map[string]any)["html"]; html != "<p>hi</p>" {
		t.Fatalf("unexpected value %v", html)
	}
	list, err := r.ListDrafts(ctx, "")
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v %d", err, len(list))
	}
	if err := r.DeleteDraft(ctx, nil, "user-1", "exp-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.GetDraft(ctx, "user-1", "exp-1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := r.DeleteDraft(ctx, nil, "user-1", "exp-1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestUpdateExplorationVersionDetectsConflicts(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	exp, err := r.GetExploration(ctx, "exp-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	exp.Version = 2
	exp.StatesSchemaVersion = 28
	if err := r.UpdateExplorationVersion(ctx, nil, exp, 1); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := r.UpdateExplorationVersion(ctx, nil, exp, 1); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	exp.ID = "missing"
	if err := r.UpdateExplorationVersion(ctx, nil, exp, 1); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSuggestions(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	s := domain.Suggestion{
		ID: "sug-1", ExplorationID: "exp-1", TargetVersion: 1, Status: domain.SuggestionInReview, AuthorID: "user-2",
		Change:    domain.ExplorationChange{Cmd: domain.CmdEditStateProperty, StateName: "Intro", PropertyName: domain.StatePropertyContent, NewValue: map[string]any{"html": "a"}},
		CreatedAt: ts, UpdatedAt: ts,
	}
	if err := r.InsertSuggestion(ctx, nil, s); err != nil {
		t.Fatalf("insert: %v", err)
	}
	s.Change.NewValue = map[string]any{"html": "b"}
	if err := r.UpdateSuggestionChange(ctx, nil, s.ID, s.Change, ts); err != nil {
		t.Fatalf("update: %v", err)
	}
	list, err := r.ListSuggestions(ctx, "exp-1", domain.SuggestionInReview)
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v %d", err, len(list))
	}
	if html := list[0].Change.NewValue.(map[string]any)["html"]; html != "b" {
		t.Fatalf("change not updated: %v", html)
	}
	if list, _ := r.ListSuggestions(ctx, "", domain.SuggestionAccepted); len(list) != 0 {
		t.Fatalf("expected status filter, got %d", len(list))
	}
	if err := r.UpdateSuggestionChange(ctx, nil, "nope", s.Change, ts); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAPIKeys(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	hash := repo.HashAPIKey(" secret ")
	if hash != repo.HashAPIKey("secret") {
		t.Fatalf("hash should ignore surrounding space")
	}
	if err := r.InsertAPIKey(ctx, nil, domain.APIKey{ID: "k1", ActorID: "bot", KeyHash: hash}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	key, err := r.GetAPIKeyByHash(ctx, hash)
	if err != nil || key.ActorID != "bot" || key.CreatedAt == "" {
		t.Fatalf("get: %v %#v", err, key)
	}
	if err := r.InsertAPIKey(ctx, nil, domain.APIKey{ID: "k2", KeyHash: hash}); err == nil {
		t.Fatalf("expected actor_id error")
	}
	if err := r.DeleteAPIKey(ctx, "k1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.GetAPIKeyByHash(ctx, hash); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
