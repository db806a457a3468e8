package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"draftline/internal/config"
	"draftline/internal/db"
	"draftline/internal/domain"
	"draftline/internal/draftupgrade"
	"draftline/internal/engine"
	"draftline/internal/jobs"
	"draftline/internal/migrate"
	"draftline/internal/rte"
)

const legacyMath = `<oppia-noninteractive-math raw_latex-with-value="&amp;quot;x&amp;quot;"></oppia-noninteractive-math>`

func newRunner(t *testing.T) (jobs.Runner, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	eng := engine.New(conn, config.Default(), zerolog.Nop())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return jobs.Runner{Engine: eng, Workers: 3, Log: zerolog.Nop()}, context.Background()
}

func contentChange(html string) domain.ExplorationChange {
	return domain.ExplorationChange{
		Cmd:          domain.CmdEditStateProperty,
		StateName:    "Intro",
		PropertyName: domain.StatePropertyContent,
		NewValue:     map[string]any{"content_id": "content", "html": html},
	}
}

func TestUpgradeDrafts(t *testing.T) {
	r, ctx := newRunner(t)
	eng := r.Engine
	for _, id := range []string{"exp-a", "exp-b"} {
		_, err := eng.CreateExploration(ctx, id, id, 29, "author")
		require.NoError(t, err)
	}
	_, err := eng.SaveDraft(ctx, "u1", "exp-a", domain.ChangeList{{Cmd: domain.CmdAddState, StateName: "S"}}, 1)
	require.NoError(t, err)
	_, err = eng.SaveDraft(ctx, "u2", "exp-a", domain.ChangeList{{Cmd: domain.CmdAddState, StateName: "T"}}, 1)
	require.NoError(t, err)
	_, err = eng.SaveDraft(ctx, "u1", "exp-b", domain.ChangeList{{Cmd: domain.CmdAddState, StateName: "U"}}, 1)
	require.NoError(t, err)

	_, err = eng.MigrateStatesSchema(ctx, "exp-a", 31, "admin")
	require.NoError(t, err)
	_, err = eng.CommitChanges(ctx, engine.CommitOptions{
		ExplorationID: "exp-b", ActorID: "author", ExpectedVersion: 1,
		Changes: domain.ChangeList{contentChange("<p>edit</p>")},
	})
	require.NoError(t, err)

	report, err := r.UpgradeDrafts(ctx, "")
	require.NoError(t, err)
	require.NotEmpty(t, report.RunID)
	require.Equal(t, 3, report.Total)
	require.Equal(t, 2, report.Upgraded)
	require.Equal(t, 1, report.Discarded)
	require.Equal(t, 1, report.Reasons[draftupgrade.ReasonInterleavedEdit])
	require.Empty(t, report.Errors)

	drafts, err := eng.Repo.ListDrafts(ctx, "")
	require.NoError(t, err)
	require.Len(t, drafts, 2)
	for _, d := range drafts {
		require.Equal(t, 3, d.DraftVersion)
	}

	again, err := r.UpgradeDrafts(ctx, "exp-a")
	require.NoError(t, err)
	require.Equal(t, 2, again.Current)
}

func TestSuggestionMathJobs(t *testing.T) {
	r, ctx := newRunner(t)
	eng := r.Engine
	_, err := eng.CreateExploration(ctx, "exp-1", "Algebra", 34, "author")
	require.NoError(t, err)

	legacy, err := eng.CreateSuggestion(ctx, "exp-1", "u1", contentChange("<p>Solve</p>"+legacyMath))
	require.NoError(t, err)
	plain, err := eng.CreateSuggestion(ctx, "exp-1", "u2", contentChange("<p>no math</p>"))
	require.NoError(t, err)
	broken, err := eng.CreateSuggestion(ctx, "exp-1", "u3", contentChange("<oppia-noninteractive-math></oppia-noninteractive-math>"))
	require.NoError(t, err)
	bad := domain.Suggestion{
		ID: "bad", ExplorationID: "exp-1", TargetVersion: 1, Status: domain.SuggestionInReview, AuthorID: "u4",
		Change: domain.ExplorationChange{Cmd: "bogus"}, CreatedAt: "2024-01-01T00:00:00Z", UpdatedAt: "2024-01-01T00:00:00Z",
	}
	require.NoError(t, eng.Repo.InsertSuggestion(ctx, nil, bad))

	audit, err := r.AuditSuggestionMath(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, audit.Total)
	require.ElementsMatch(t, []string{legacy.ID, broken.ID}, audit.SuggestionIDs)

	svgs, err := r.ValidateSuggestionSVGs(ctx)
	require.NoError(t, err)
	require.Len(t, svgs.Invalid, 2)

	report, err := r.MigrateSuggestionMath(ctx, "admin")
	require.NoError(t, err)
	require.Equal(t, 1, report.Migrated)
	require.Equal(t, 1, report.Unchanged)
	require.Len(t, report.InvalidBefore, 1)
	require.Equal(t, "bad", report.InvalidBefore[0].ID)
	require.Len(t, report.InvalidAfter, 1)
	require.Equal(t, broken.ID, report.InvalidAfter[0].ID)

	stored, err := eng.Repo.GetSuggestion(ctx, legacy.ID)
	require.NoError(t, err)
	html := stored.Change.NewValue.(map[string]any)["html"].(string)
	require.Empty(t, rte.ValidateMathContent(html))
	require.Equal(t, []rte.MathContent{{RawLatex: "x"}}, rte.MathContents(html))

	untouched, err := eng.Repo.GetSuggestion(ctx, plain.ID)
	require.NoError(t, err)
	require.Equal(t, "<p>no math</p>", untouched.Change.NewValue.(map[string]any)["html"])

	svgs, err = r.ValidateSuggestionSVGs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"x"}, svgs.Missing[legacy.ID])
	require.Equal(t, 1, svgs.Tags)
}

type saveOnFirstRead struct {
	next draftupgrade.CommitStore
	save func()
}

func (s *saveOnFirstRead) GetCommits(ctx context.Context, explorationID string, versions []int) ([]domain.CommitLogEntry, error) {
	if s.save != nil {
		save := s.save
		s.save = nil
		save()
	}
	return s.next.GetCommits(ctx, explorationID, versions)
}

func TestUpgradeDraftsSkipsDraftsSavedDuringTheRun(t *testing.T) {
	r, ctx := newRunner(t)
	eng := r.Engine
	_, err := eng.CreateExploration(ctx, "exp-a", "exp-a", 29, "author")
	require.NoError(t, err)
	_, err = eng.SaveDraft(ctx, "u1", "exp-a", domain.ChangeList{{Cmd: domain.CmdAddState, StateName: "S"}}, 1)
	require.NoError(t, err)
	_, err = eng.CommitChanges(ctx, engine.CommitOptions{
		ExplorationID: "exp-a", ActorID: "author", ExpectedVersion: 1,
		Changes: domain.ChangeList{contentChange("<p>edit</p>")},
	})
	require.NoError(t, err)

	fresh := domain.ChangeList{{Cmd: domain.CmdAddState, StateName: "Fresh"}}
	r.Workers = 1
	r.Engine = eng.WithCommitStore(&saveOnFirstRead{next: eng.Repo, save: func() {
		if _, err := eng.SaveDraft(ctx, "u1", "exp-a", fresh, 2); err != nil {
			t.Errorf("save: %v", err)
		}
	}})

	report, err := r.UpgradeDrafts(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 1, report.Total)
	require.Equal(t, 1, report.Skipped)
	require.Zero(t, report.Discarded)
	require.Empty(t, report.Errors)

	stored, err := eng.Repo.GetDraft(ctx, "u1", "exp-a")
	require.NoError(t, err)
	require.Equal(t, 2, stored.DraftVersion)
	require.Equal(t, fresh, stored.Changes)
}
