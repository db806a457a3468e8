package draftupgrade

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"draftline/internal/domain"
)

// CommitStore returns the commit log entries of an exploration for the given
// versions, in the requested order.
type CommitStore interface {
	GetCommits(ctx context.Context, explorationID string, versions []int) ([]domain.CommitLogEntry, error)
}

// Status is the outcome of an upgrade attempt.
type Status string

const (
	// StatusCurrent means the draft already matches the exploration version.
	StatusCurrent Status = "current"
	// StatusUpgraded means every step was converted.
	StatusUpgraded Status = "upgraded"
	// StatusNotMigratable means the draft cannot be carried forward and must
	// be discarded, never applied as is.
	StatusNotMigratable Status = "not_migratable"
)

// Reason explains a StatusNotMigratable result.
type Reason string

const (
	ReasonInterleavedEdit  Reason = "interleaved_edit"
	ReasonMalformedCommit  Reason = "malformed_migration_commit"
	ReasonMissingConverter Reason = "missing_converter"
)

// Result of Upgrader.Upgrade. Changes is nil unless the status is current or
// upgraded.
type Result struct {
	Status  Status            `json:"status" enum:"current,upgraded,not_migratable"`
	Changes domain.ChangeList `json:"changes,omitempty"`
	Reason  Reason            `json:"reason,omitempty"`
	// Version is the exploration version whose commit stopped the upgrade.
	Version int `json:"version,omitempty"`
	// Step is set for ReasonMissingConverter.
	Step *Step `json:"step,omitempty"`
}

// Migratable reports whether Changes can be applied at the target version.
func (r Result) Migratable() bool {
	return r.Status == StatusCurrent || r.Status == StatusUpgraded
}

// Upgrader carries drafts across pure schema migration commits. It holds no
// mutable state and can be shared by concurrent callers.
type Upgrader struct {
	Commits    CommitStore
	Converters *Registry
	Log        *zerolog.Logger
}

func (u Upgrader) logger() *zerolog.Logger {
	if u.Log != nil {
		return u.Log
	}
	nop := zerolog.Nop()
	return &nop
}

// Upgrade rewrites draft, written against exploration version fromVersion, so
// that it applies to toVersion.
//
// An error is returned only for invalid input (wrapping ErrInvalidInput) and
// for commit store failures. A draft that cannot be carried forward is
// reported through Result.Status.
func (u Upgrader) Upgrade(ctx context.Context, draft domain.ChangeList, fromVersion, toVersion int, explorationID string) (Result, error) {
	if fromVersion < 0 {
		return Result{}, fmt.Errorf("%w: draft version %d is negative", ErrInvalidInput, fromVersion)
	}
	if fromVersion > toVersion {
		return Result{}, fmt.Errorf("%w: draft version %d is greater than the exploration version %d", ErrInvalidInput, fromVersion, toVersion)
	}
	if fromVersion == toVersion {
		return Result{Status: StatusCurrent, Changes: draft}, nil
	}
	if u.Commits == nil {
		return Result{}, errors.New("upgrader has no commit store")
	}

	versions := make([]int, 0, toVersion-fromVersion)
	for v := fromVersion + 1; v <= toVersion; v++ {
		versions = append(versions, v)
	}
	commits, err := u.Commits.GetCommits(ctx, explorationID, versions)
	if err != nil {
		return Result{}, fmt.Errorf("get commits %d..%d of %s: %w", fromVersion+1, toVersion, explorationID, err)
	}
	if len(commits) != len(versions) {
		return Result{}, fmt.Errorf("commit store returned %d commits for %d versions", len(commits), len(versions))
	}

	log := u.logger().With().
		Str("exploration_id", explorationID).
		Int("draft_version", fromVersion).
		Int("exploration_version", toVersion).
		Logger()

	changes := draft
	for i, commit := range commits {
		version := versions[i]
		cmd, ok := commit.MigrationCmd()
		if !ok {
			log.Info().Int("version", version).Int("commit_cmds", len(commit.Cmds)).
				Msg("draft not upgradable: commit is not a pure schema migration")
			return Result{Status: StatusNotMigratable, Reason: ReasonInterleavedEdit, Version: version}, nil
		}
		from, to, ok := cmd.MigrationStep()
		if !ok {
			log.Warn().Int("version", version).Interface("commit_cmd", cmd).
				Msg("draft not upgradable: schema migration commit is malformed")
			return Result{Status: StatusNotMigratable, Reason: ReasonMalformedCommit, Version: version}, nil
		}
		step := Step{From: from, To: to}
		convert, ok := u.Converters.Lookup(step)
		if !ok {
			log.Warn().Int("version", version).Str("step", step.String()).
				Msg("draft converter is not implemented")
			return Result{Status: StatusNotMigratable, Reason: ReasonMissingConverter, Version: version, Step: &step}, nil
		}
		changes = convert(changes)
	}
	log.Debug().Int("changes", len(changes)).Msg("draft upgraded")
	return Result{Status: StatusUpgraded, Changes: changes}, nil
}
