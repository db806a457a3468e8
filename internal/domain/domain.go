package domain

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Change command tags.
const (
	CmdEditStateProperty       = "edit_state_property"
	CmdAddState                = "add_state"
	CmdRenameState             = "rename_state"
	CmdDeleteState             = "delete_state"
	CmdEditExplorationProperty = "edit_exploration_property"
	CmdCreateNew               = "create_new"

	// CmdMigrateStatesSchema marks a commit that only moves the states of an
	// exploration from one schema version to the next.
	CmdMigrateStatesSchema = "migrate_states_schema_to_latest_version"
)

// State property names.
const (
	StatePropertyContent                 = "content"
	StatePropertyRecordedVoiceovers      = "recorded_voiceovers"
	StatePropertyInteractionAnswerGroups = "answer_groups"
	StatePropertyInteractionCustArgs     = "widget_customization_args"
	StatePropertyInteractionID           = "widget_id"
	StatePropertySolicitAnswerDetails    = "solicit_answer_details"

	// StatePropertyAudioTranslationsDeprecated was replaced by
	// recorded_voiceovers in states schema 28.
	StatePropertyAudioTranslationsDeprecated = "content_ids_to_audio_translations"
)

// LatestStatesSchemaVersion is the newest states schema explorations can be
// migrated to.
const LatestStatesSchemaVersion = 34

// Commit types.
const (
	CommitTypeCreate = "create"
	CommitTypeEdit   = "edit"
)

// ExplorationChange is one edit command of a draft or commit. Values keep the
// JSON shape they were authored in.
type ExplorationChange struct {
	Cmd          string `json:"cmd"`
	PropertyName string `json:"property_name,omitempty"`
	StateName    string `json:"state_name,omitempty"`
	OldStateName string `json:"old_state_name,omitempty"`
	NewStateName string `json:"new_state_name,omitempty"`
	OldValue     any    `json:"old_value,omitempty"`
	NewValue     any    `json:"new_value,omitempty"`
}

// EditsStateProperty reports whether the change edits the named state property.
func (c ExplorationChange) EditsStateProperty(name string) bool {
	return c.Cmd == CmdEditStateProperty && c.PropertyName == name
}

// ChangeList is an ordered sequence of changes; order is replay order.
type ChangeList []ExplorationChange

// CommitCmd is one command stored with a commit. Historical commits store
// version attributes both as numbers and as numeric strings.
type CommitCmd map[string]any

// Name returns the cmd tag.
func (c CommitCmd) Name() string {
	s, _ := c["cmd"].(string)
	return s
}

// Int reads an integer attribute.
func (c CommitCmd) Int(key string) (int, bool) {
	switch v := c[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	case json.Number:
		n, err := strconv.Atoi(v.String())
		return n, err == nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	default:
		return 0, false
	}
}

// NewMigrateStatesSchemaCmd builds the single command of a schema migration commit.
func NewMigrateStatesSchemaCmd(from, to int) CommitCmd {
	return CommitCmd{
		"cmd":          CmdMigrateStatesSchema,
		"from_version": strconv.Itoa(from),
		"to_version":   strconv.Itoa(to),
	}
}

// CommitCmdFromChange records a change as a commit command.
func CommitCmdFromChange(c ExplorationChange) CommitCmd {
	cmd := CommitCmd{"cmd": c.Cmd}
	if c.PropertyName != "" {
		cmd["property_name"] = c.PropertyName
	}
	if c.StateName != "" {
		cmd["state_name"] = c.StateName
	}
	if c.OldStateName != "" {
		cmd["old_state_name"] = c.OldStateName
	}
	if c.NewStateName != "" {
		cmd["new_state_name"] = c.NewStateName
	}
	if c.OldValue != nil {
		cmd["old_value"] = c.OldValue
	}
	if c.NewValue != nil {
		cmd["new_value"] = c.NewValue
	}
	return cmd
}

// CommitLogEntry is the metadata stored for one exploration version.
type CommitLogEntry struct {
	ExplorationID string      `json:"exploration_id"`
	Version       int         `json:"version"`
	CommitType    string      `json:"commit_type"`
	Message       string      `json:"message,omitempty"`
	AuthorID      string      `json:"author_id"`
	Cmds          []CommitCmd `json:"commit_cmds"`
	CreatedAt     string      `json:"created_at" format:"date-time"`
}

// MigrationCmd returns the command of a commit made of a single states schema
// migration command.
func (e CommitLogEntry) MigrationCmd() (CommitCmd, bool) {
	if len(e.Cmds) != 1 || e.Cmds[0].Name() != CmdMigrateStatesSchema {
		return nil, false
	}
	return e.Cmds[0], true
}

// MigrationStep reads the schema versions of a migration command. ok is false
// unless they bump the schema by exactly one version.
func (c CommitCmd) MigrationStep() (from, to int, ok bool) {
	from, okFrom := c.Int("from_version")
	to, okTo := c.Int("to_version")
	return from, to, okFrom && okTo && to == from+1
}

// IsPureSchemaMigration reports whether the commit only migrates the states
// schema by exactly one version.
func (e CommitLogEntry) IsPureSchemaMigration() bool {
	cmd, ok := e.MigrationCmd()
	if !ok {
		return false
	}
	_, _, ok = cmd.MigrationStep()
	return ok
}

type Exploration struct {
	ID                  string `json:"id"`
	Title               string `json:"title"`
	Version             int    `json:"version"`
	StatesSchemaVersion int    `json:"states_schema_version"`
	CreatedAt           string `json:"created_at" format:"date-time"`
	UpdatedAt           string `json:"updated_at" format:"date-time"`
}

type UserDraft struct {
	UserID        string     `json:"user_id"`
	ExplorationID string     `json:"exploration_id"`
	Changes       ChangeList `json:"draft_change_list"`
	DraftVersion  int        `json:"draft_version"`
	UpdatedAt     string     `json:"updated_at" format:"date-time"`
}

// Suggestion statuses.
const (
	SuggestionInReview = "review"
	SuggestionAccepted = "accepted"
	SuggestionRejected = "rejected"
)

type Suggestion struct {
	ID            string            `json:"id"`
	ExplorationID string            `json:"exploration_id"`
	TargetVersion int               `json:"target_version"`
	Status        string            `json:"status" enum:"review,accepted,rejected"`
	AuthorID      string            `json:"author_id"`
	Change        ExplorationChange `json:"change"`
	CreatedAt     string            `json:"created_at" format:"date-time"`
	UpdatedAt     string            `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID            int64  `json:"id"`
	TS            string `json:"ts" format:"date-time"`
	Type          string `json:"type"`
	ExplorationID string `json:"exploration_id,omitempty"`
	EntityKind    string `json:"entity_kind"`
	EntityID      string `json:"entity_id,omitempty"`
	ActorID       string `json:"actor_id"`
	Payload       string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
