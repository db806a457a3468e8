package draftupgrade_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"draftline/internal/domain"
	"draftline/internal/draftupgrade"
)

type fakeCommits struct {
	commits map[int]domain.CommitLogEntry
	err     error
	calls   int
}

func (f *fakeCommits) GetCommits(_ context.Context, explorationID string, versions []int) ([]domain.CommitLogEntry, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.CommitLogEntry, 0, len(versions))
	for _, v := range versions {
		c, ok := f.commits[v]
		if !ok {
			return nil, fmt.Errorf("%s version %d not found", explorationID, v)
		}
		out = append(out, c)
	}
	return out, nil
}

func migrationCommit(version, fromSchema int) domain.CommitLogEntry {
	return domain.CommitLogEntry{
		ExplorationID: "exp-1",
		Version:       version,
		CommitType:    domain.CommitTypeEdit,
		Cmds:          []domain.CommitCmd{domain.NewMigrateStatesSchemaCmd(fromSchema, fromSchema+1)},
	}
}

func contentEdit() domain.CommitCmd {
	return domain.CommitCmdFromChange(domain.ExplorationChange{
		Cmd:          domain.CmdEditStateProperty,
		PropertyName: domain.StatePropertyContent,
		StateName:    "Intro",
		NewValue:     map[string]any{"content_id": "content", "html": "<p>edited</p>"},
	})
}

func newUpgrader(store draftupgrade.CommitStore, log *zerolog.Logger) draftupgrade.Upgrader {
	return draftupgrade.Upgrader{
		Commits:    store,
		Converters: draftupgrade.DefaultRegistry(strings.ToUpper),
		Log:        log,
	}
}

func audioTranslationsDraft() domain.ChangeList {
	return domain.ChangeList{
		{
			Cmd:          domain.CmdEditStateProperty,
			PropertyName: domain.StatePropertyAudioTranslationsDeprecated,
			StateName:    "Intro",
			NewValue: map[string]any{
				"content": map[string]any{
					"en": map[string]any{"filename": "intro.mp3", "file_size_bytes": 100.0, "needs_update": false},
				},
			},
		},
		{Cmd: domain.CmdAddState, StateName: "Second"},
	}
}

func clone(t *testing.T, changes domain.ChangeList) domain.ChangeList {
	t.Helper()
	data, err := json.Marshal(changes)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out domain.ChangeList
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestUpgradeSameVersionIsNoop(t *testing.T) {
	store := &fakeCommits{}
	draft := audioTranslationsDraft()
	res, err := newUpgrader(store, nil).Upgrade(context.Background(), draft, 5, 5, "exp-1")
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if res.Status != draftupgrade.StatusCurrent {
		t.Fatalf("expected current, got %s", res.Status)
	}
	if !reflect.DeepEqual(res.Changes, draft) {
		t.Fatalf("changes modified: %#v", res.Changes)
	}
	if store.calls != 0 {
		t.Fatalf("expected no storage access, got %d calls", store.calls)
	}
}

func TestUpgradeRejectsInvalidRange(t *testing.T) {
	cases := map[string]struct{ from, to int }{
		"draft newer than exploration": {from: 8, to: 7},
		"negative draft version":       {from: -1, to: 3},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			store := &fakeCommits{}
			_, err := newUpgrader(store, nil).Upgrade(context.Background(), audioTranslationsDraft(), tc.from, tc.to, "exp-1")
			if !errors.Is(err, draftupgrade.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			if store.calls != 0 {
				t.Fatalf("storage accessed before validation")
			}
		})
	}
}

func TestUpgradeRenamesAudioTranslations(t *testing.T) {
	store := &fakeCommits{commits: map[int]domain.CommitLogEntry{28: migrationCommit(28, 27)}}
	draft := audioTranslationsDraft()
	res, err := newUpgrader(store, nil).Upgrade(context.Background(), draft, 27, 28, "exp-1")
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if res.Status != draftupgrade.StatusUpgraded {
		t.Fatalf("expected upgraded, got %s (%s)", res.Status, res.Reason)
	}
	if len(res.Changes) != len(draft) {
		t.Fatalf("expected %d changes, got %d", len(draft), len(res.Changes))
	}
	got := res.Changes[0]
	if got.PropertyName != domain.StatePropertyRecordedVoiceovers || got.StateName != "Intro" {
		t.Fatalf("unexpected change %#v", got)
	}
	want := map[string]any{"voiceovers_mapping": draft[0].NewValue}
	if !reflect.DeepEqual(got.NewValue, want) {
		t.Fatalf("unexpected new value %#v", got.NewValue)
	}
	if !reflect.DeepEqual(res.Changes[1], draft[1]) {
		t.Fatalf("untargeted change modified: %#v", res.Changes[1])
	}
}

func TestUpgradeWithoutStructuralChange(t *testing.T) {
	store := &fakeCommits{commits: map[int]domain.CommitLogEntry{32: migrationCommit(32, 31)}}
	draft := audioTranslationsDraft()
	res, err := newUpgrader(store, nil).Upgrade(context.Background(), draft, 31, 32, "exp-1")
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if res.Status != draftupgrade.StatusUpgraded || !reflect.DeepEqual(res.Changes, draft) {
		t.Fatalf("expected unchanged upgrade, got %s %#v", res.Status, res.Changes)
	}
}

func TestUpgradeStopsAtContentEdits(t *testing.T) {
	migrate := domain.NewMigrateStatesSchemaCmd(29, 30)
	cases := map[string][]domain.CommitCmd{
		"content edit only":             {contentEdit()},
		"content edit with schema bump": {migrate, contentEdit()},
		"schema bump with content edit": {contentEdit(), migrate},
		"no commands":                   {},
	}
	for name, cmds := range cases {
		t.Run(name, func(t *testing.T) {
			store := &fakeCommits{commits: map[int]domain.CommitLogEntry{
				30: {ExplorationID: "exp-1", Version: 30, Cmds: cmds},
			}}
			res, err := newUpgrader(store, nil).Upgrade(context.Background(), audioTranslationsDraft(), 29, 30, "exp-1")
			if err != nil {
				t.Fatalf("upgrade: %v", err)
			}
			if res.Status != draftupgrade.StatusNotMigratable || res.Reason != draftupgrade.ReasonInterleavedEdit {
				t.Fatalf("expected interleaved edit rejection, got %s %s", res.Status, res.Reason)
			}
			if res.Changes != nil || res.Migratable() {
				t.Fatalf("not migratable result must not carry changes")
			}
			if res.Version != 30 {
				t.Fatalf("expected failing version 30, got %d", res.Version)
			}
		})
	}
}

func TestUpgradeRejectsWholeGapOnLastCommit(t *testing.T) {
	store := &fakeCommits{commits: map[int]domain.CommitLogEntry{
		11: migrationCommit(11, 27),
		12: migrationCommit(12, 28),
		13: {ExplorationID: "exp-1", Version: 13, Cmds: []domain.CommitCmd{contentEdit()}},
	}}
	res, err := newUpgrader(store, nil).Upgrade(context.Background(), audioTranslationsDraft(), 10, 13, "exp-1")
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if res.Status != draftupgrade.StatusNotMigratable || res.Version != 13 || res.Changes != nil {
		t.Fatalf("unexpected result %#v", res)
	}
	if store.calls != 1 {
		t.Fatalf("expected one storage read, got %d", store.calls)
	}
}

func TestUpgradeMissingConverterIsLogged(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	store := &fakeCommits{commits: map[int]domain.CommitLogEntry{
		4: migrationCommit(4, 25),
		5: migrationCommit(5, 26),
	}}
	res, err := newUpgrader(store, &log).Upgrade(context.Background(), audioTranslationsDraft(), 3, 5, "exp-1")
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if res.Status != draftupgrade.StatusNotMigratable || res.Reason != draftupgrade.ReasonMissingConverter {
		t.Fatalf("expected missing converter, got %s %s", res.Status, res.Reason)
	}
	if res.Step == nil || *res.Step != (draftupgrade.Step{From: 25, To: 26}) {
		t.Fatalf("unexpected step %v", res.Step)
	}
	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, `"step":"v25-`) {
		t.Fatalf("expected warning naming the step, got %q", out)
	}
}

func TestUpgradeMalformedMigrationCommit(t *testing.T) {
	cases := map[string]domain.CommitCmd{
		"skips a version":     {"cmd": domain.CmdMigrateStatesSchema, "from_version": "30", "to_version": "32"},
		"missing to_version":  {"cmd": domain.CmdMigrateStatesSchema, "from_version": 30.0},
		"non numeric version": {"cmd": domain.CmdMigrateStatesSchema, "from_version": "thirty", "to_version": "31"},
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			store := &fakeCommits{commits: map[int]domain.CommitLogEntry{
				8: {ExplorationID: "exp-1", Version: 8, Cmds: []domain.CommitCmd{cmd}},
			}}
			res, err := newUpgrader(store, nil).Upgrade(context.Background(), audioTranslationsDraft(), 7, 8, "exp-1")
			if err != nil {
				t.Fatalf("upgrade: %v", err)
			}
			if res.Reason != draftupgrade.ReasonMalformedCommit {
				t.Fatalf("expected malformed commit, got %s %s", res.Status, res.Reason)
			}
		})
	}
}

func TestUpgradeAcceptsNumericVersionAttributes(t *testing.T) {
	store := &fakeCommits{commits: map[int]domain.CommitLogEntry{
		2: {ExplorationID: "exp-1", Version: 2, Cmds: []domain.CommitCmd{
			{"cmd": domain.CmdMigrateStatesSchema, "from_version": 27.0, "to_version": 28.0},
		}},
	}}
	res, err := newUpgrader(store, nil).Upgrade(context.Background(), audioTranslationsDraft(), 1, 2, "exp-1")
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if res.Status != draftupgrade.StatusUpgraded {
		t.Fatalf("expected upgraded, got %s %s", res.Status, res.Reason)
	}
}

func TestUpgradeChainsEveryStep(t *testing.T) {
	commits := map[int]domain.CommitLogEntry{}
	for schema := 27; schema < 34; schema++ {
		version := schema + 1
		commits[version] = migrationCommit(version, schema)
	}
	store := &fakeCommits{commits: commits}
	draft := append(audioTranslationsDraft(),
		domain.ExplorationChange{
			Cmd:          domain.CmdEditStateProperty,
			PropertyName: domain.StatePropertyInteractionCustArgs,
			StateName:    "Second",
			NewValue:     map[string]any{"choices": map[string]any{"value": []any{"<p>a</p>", "<p>b</p>"}}},
		},
		domain.ExplorationChange{Cmd: domain.CmdRenameState, OldStateName: "Second", NewStateName: "Third"},
	)
	before := clone(t, draft)

	res, err := newUpgrader(store, nil).Upgrade(context.Background(), draft, 27, 34, "exp-1")
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if res.Status != draftupgrade.StatusUpgraded {
		t.Fatalf("expected upgraded, got %s %s", res.Status, res.Reason)
	}
	if len(res.Changes) != len(draft) {
		t.Fatalf("length changed: %d != %d", len(res.Changes), len(draft))
	}
	for i := range draft {
		if res.Changes[i].Cmd != draft[i].Cmd {
			t.Fatalf("order changed at %d: %s != %s", i, res.Changes[i].Cmd, draft[i].Cmd)
		}
	}

	voiceovers := res.Changes[0].NewValue.(map[string]any)["voiceovers_mapping"].(map[string]any)
	en := voiceovers["content"].(map[string]any)["en"].(map[string]any)
	if en["duration_secs"] != 0.0 {
		t.Fatalf("expected duration_secs injected after rename, got %#v", en)
	}

	args := res.Changes[2].NewValue.(map[string]any)
	if !reflect.DeepEqual(args["showChoicesInShuffledOrder"], map[string]any{"value": false}) {
		t.Fatalf("expected shuffle default, got %#v", args)
	}
	choices := args["choices"].(map[string]any)["value"].([]any)
	if choices[0] != "<P>A</P>" {
		t.Fatalf("expected normalized choices, got %#v", choices)
	}
	if !reflect.DeepEqual(draft, before) {
		t.Fatalf("input draft was modified")
	}
}

func TestUpgradeStoreFailure(t *testing.T) {
	boom := errors.New("boom")
	store := &fakeCommits{err: boom}
	_, err := newUpgrader(store, nil).Upgrade(context.Background(), audioTranslationsDraft(), 1, 3, "exp-1")
	if !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestUpgradeShortStoreResult(t *testing.T) {
	store := shortStore{}
	_, err := newUpgrader(store, nil).Upgrade(context.Background(), audioTranslationsDraft(), 1, 3, "exp-1")
	if err == nil {
		t.Fatalf("expected error for missing commits")
	}
}

type shortStore struct{}

func (shortStore) GetCommits(context.Context, string, []int) ([]domain.CommitLogEntry, error) {
	return []domain.CommitLogEntry{migrationCommit(2, 27)}, nil
}
