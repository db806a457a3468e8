package draftlinesdk_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"draftline/internal/config"
	"draftline/internal/db"
	"draftline/internal/domain"
	"draftline/internal/engine"
	"draftline/internal/migrate"
	"draftline/internal/repo"
	"draftline/internal/server"
	draftlinesdk "draftline/sdk/go"
)

func newClient(t *testing.T) *draftlinesdk.Client {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))
	e := engine.New(conn, config.Default(), zerolog.Nop())
	require.NoError(t, e.Repo.InsertAPIKey(context.Background(), nil, domain.APIKey{
		ID: "k1", ActorID: "author", KeyHash: repo.HashAPIKey("key-1"),
	}))
	handler, err := server.New(server.Config{Engine: e, BasePath: "/v0", Log: zerolog.Nop()})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		conn.Close()
	})
	c := draftlinesdk.New("http://" + ln.Addr().String())
	c.APIKey = "key-1"
	return c
}

func TestDraftRoundTrip(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	exp, err := c.CreateExploration(ctx, "exp-1", "Fractions", 31)
	require.NoError(t, err)
	require.Equal(t, 1, exp.Version)

	draft := []draftlinesdk.Change{{Cmd: domain.CmdAddState, StateName: "End"}}
	saved, err := c.SaveDraft(ctx, "exp-1", 1, draft)
	require.NoError(t, err)
	require.Equal(t, "author", saved.UserID)

	exp, err = c.Migrate(ctx, "exp-1", 33)
	require.NoError(t, err)
	require.Equal(t, 3, exp.Version)

	loaded, err := c.GetDraft(ctx, "exp-1")
	require.NoError(t, err)
	require.Equal(t, "upgraded", loaded.Upgrade.Status)
	require.NotNil(t, loaded.Draft)
	require.Equal(t, 3, loaded.Draft.DraftVersion)
	require.Equal(t, draft, loaded.Draft.Changes)

	page, err := c.Commits(ctx, "exp-1", 2, "1")
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.Equal(t, "migrate_states_schema_to_latest_version", page.Items[0].Cmds[0]["cmd"])

	events, err := c.Events(ctx, "exp-1", 10)
	require.NoError(t, err)
	require.Equal(t, "draft.upgraded", events[0].Type)

	require.NoError(t, c.DiscardDraft(ctx, "exp-1"))
	_, err = c.GetDraft(ctx, "exp-1")
	var apiErr *draftlinesdk.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	require.Equal(t, "not_found", apiErr.Code)
}

func TestCommitConflictAndStatelessUpgrade(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()
	_, err := c.CreateExploration(ctx, "exp-1", "Fractions", 29)
	require.NoError(t, err)

	edit := []draftlinesdk.Change{{
		Cmd:          domain.CmdEditStateProperty,
		StateName:    "Intro",
		PropertyName: domain.StatePropertyContent,
		NewValue:     map[string]any{"content_id": "content", "html": "<p>new</p>"},
	}}
	_, err = c.Commit(ctx, "exp-1", 1, "edit", edit)
	require.NoError(t, err)
	_, err = c.Commit(ctx, "exp-1", 1, "stale", edit)
	var apiErr *draftlinesdk.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "version_conflict", apiErr.Code)

	_, err = c.Migrate(ctx, "exp-1", 30)
	require.NoError(t, err)
	res, err := c.UpgradeDraft(ctx, "exp-1", edit, 1, 0)
	require.NoError(t, err)
	require.False(t, res.Migratable())
	require.Equal(t, "interleaved_edit", res.Reason)
	require.Equal(t, 2, res.Version)

	res, err = c.UpgradeDraft(ctx, "exp-1", edit, 2, 0)
	require.NoError(t, err)
	require.Equal(t, "upgraded", res.Status)
	require.Len(t, res.Changes, 1)
}
