package server

import (
	"encoding/json"

	"draftline/internal/domain"
	"draftline/internal/draftupgrade"
	"draftline/internal/engine"
)

// Request payloads

type CreateExplorationRequest struct {
	ID                  string `json:"id,omitempty"`
	Title               string `json:"title"`
	StatesSchemaVersion int    `json:"states_schema_version,omitempty" minimum:"0"`
}

type CommitRequest struct {
	ExpectedVersion int               `json:"expected_version" minimum:"1"`
	Message         string            `json:"message,omitempty"`
	Changes         domain.ChangeList `json:"change_list"`
}

type MigrateRequest struct {
	// Zero means the latest states schema.
	TargetSchemaVersion int `json:"target_schema_version,omitempty" minimum:"0"`
}

type SaveDraftRequest struct {
	DraftVersion int               `json:"draft_version" minimum:"1"`
	Changes      domain.ChangeList `json:"draft_change_list"`
}

type UpgradeDraftRequest struct {
	Changes     domain.ChangeList `json:"draft_change_list"`
	FromVersion int               `json:"from_version"`
	ToVersion   int               `json:"to_version,omitempty"`
}

type CreateSuggestionRequest struct {
	Change domain.ExplorationChange `json:"change"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source"`
}

type ConverterResponse struct {
	FromVersion int    `json:"from_version"`
	ToVersion   int    `json:"to_version"`
	Name        string `json:"name"`
}

type DraftResponse struct {
	Draft   *domain.UserDraft   `json:"draft,omitempty"`
	Upgrade draftupgrade.Result `json:"upgrade"`
}

type EventResponse struct {
	ID            int64          `json:"id"`
	TS            string         `json:"ts" format:"date-time"`
	Type          string         `json:"type"`
	ExplorationID string         `json:"exploration_id,omitempty"`
	EntityKind    string         `json:"entity_kind"`
	EntityID      string         `json:"entity_id,omitempty"`
	ActorID       string         `json:"actor_id"`
	Payload       map[string]any `json:"payload"`
}

type paginatedCommits struct {
	Items      []domain.CommitLogEntry `json:"items"`
	NextCursor string                  `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func draftResponse(l engine.LoadedDraft) DraftResponse {
	res := DraftResponse{Upgrade: l.Upgrade}
	if !l.Discarded() {
		d := l.Draft
		d.Changes = nonNilSlice(d.Changes)
		res.Draft = &d
	}
	// The upgraded list is already on the draft.
	res.Upgrade.Changes = nil
	return res
}

func converterResponses(steps []draftupgrade.Step) []ConverterResponse {
	out := make([]ConverterResponse, 0, len(steps))
	for _, s := range steps {
		out = append(out, ConverterResponse{FromVersion: s.From, ToVersion: s.To, Name: s.String()})
	}
	return out
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:            e.ID,
		TS:            e.TS,
		Type:          e.Type,
		ExplorationID: e.ExplorationID,
		EntityKind:    e.EntityKind,
		EntityID:      e.EntityID,
		ActorID:       e.ActorID,
		Payload:       decodeJSONMap(e.Payload),
	}
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any, S ~[]T](in S) S {
	if in == nil {
		return S{}
	}
	return in
}
