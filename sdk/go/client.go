package draftlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Draftline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Change is one command of a change list. Values keep their JSON shape.
type Change struct {
	Cmd          string `json:"cmd"`
	PropertyName string `json:"property_name,omitempty"`
	StateName    string `json:"state_name,omitempty"`
	OldStateName string `json:"old_state_name,omitempty"`
	NewStateName string `json:"new_state_name,omitempty"`
	OldValue     any    `json:"old_value,omitempty"`
	NewValue     any    `json:"new_value,omitempty"`
}

type Exploration struct {
	ID                  string `json:"id"`
	Title               string `json:"title"`
	Version             int    `json:"version"`
	StatesSchemaVersion int    `json:"states_schema_version"`
	CreatedAt           string `json:"created_at"`
	UpdatedAt           string `json:"updated_at"`
}

type Commit struct {
	ExplorationID string           `json:"exploration_id"`
	Version       int              `json:"version"`
	CommitType    string           `json:"commit_type"`
	Message       string           `json:"message,omitempty"`
	AuthorID      string           `json:"author_id"`
	Cmds          []map[string]any `json:"commit_cmds"`
	CreatedAt     string           `json:"created_at"`
}

type Draft struct {
	UserID        string   `json:"user_id"`
	ExplorationID string   `json:"exploration_id"`
	Changes       []Change `json:"draft_change_list"`
	DraftVersion  int      `json:"draft_version"`
	UpdatedAt     string   `json:"updated_at"`
}

// UpgradeResult is the outcome of upgrading a change list.
type UpgradeResult struct {
	Status  string   `json:"status"`
	Changes []Change `json:"changes,omitempty"`
	Reason  string   `json:"reason,omitempty"`
	Version int      `json:"version,omitempty"`
	Step    *struct {
		From int `json:"from_version"`
		To   int `json:"to_version"`
	} `json:"step,omitempty"`
}

// Migratable reports whether the upgrade produced a usable change list.
func (r UpgradeResult) Migratable() bool {
	return r.Status != "not_migratable"
}

// LoadedDraft is the response of GetDraft. Draft is nil when the stale draft
// was discarded.
type LoadedDraft struct {
	Draft   *Draft        `json:"draft,omitempty"`
	Upgrade UpgradeResult `json:"upgrade"`
}

// Event represents a log entry.
type Event struct {
	ID            int64          `json:"id"`
	TS            string         `json:"ts"`
	Type          string         `json:"type"`
	ExplorationID string         `json:"exploration_id"`
	EntityID      string         `json:"entity_id"`
	EntityKind    string         `json:"entity_kind"`
	ActorID       string         `json:"actor_id"`
	Payload       map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

type PaginatedCommits struct {
	Items      []Commit `json:"items"`
	NextCursor string   `json:"next_cursor"`
}

// CreateExploration creates an exploration. A zero schema means the latest.
func (c *Client) CreateExploration(ctx context.Context, id, title string, schema int) (Exploration, error) {
	body := map[string]any{"id": id, "title": title, "states_schema_version": schema}
	var resp Exploration
	err := c.do(ctx, http.MethodPost, "explorations", body, &resp)
	return resp, err
}

func (c *Client) GetExploration(ctx context.Context, id string) (Exploration, error) {
	var resp Exploration
	err := c.do(ctx, http.MethodGet, explorationPath(id, ""), nil, &resp)
	return resp, err
}

// Commit commits changes written against expectedVersion.
func (c *Client) Commit(ctx context.Context, id string, expectedVersion int, message string, changes []Change) (Exploration, error) {
	body := map[string]any{"expected_version": expectedVersion, "message": message, "change_list": changes}
	var resp Exploration
	err := c.do(ctx, http.MethodPost, explorationPath(id, "commits"), body, &resp)
	return resp, err
}

// Commits returns one page of the commit log after the cursor version.
func (c *Client) Commits(ctx context.Context, id string, limit int, cursor string) (PaginatedCommits, error) {
	var resp PaginatedCommits
	err := c.do(ctx, http.MethodGet, withQuery(explorationPath(id, "commits"), limit, cursor, nil), nil, &resp)
	return resp, err
}

// Migrate moves the exploration to the target states schema.
func (c *Client) Migrate(ctx context.Context, id string, targetSchema int) (Exploration, error) {
	var resp Exploration
	err := c.do(ctx, http.MethodPost, explorationPath(id, "migrations"), map[string]any{"target_schema_version": targetSchema}, &resp)
	return resp, err
}

// SaveDraft stores the draft of the authenticated user.
func (c *Client) SaveDraft(ctx context.Context, id string, draftVersion int, changes []Change) (Draft, error) {
	if changes == nil {
		changes = []Change{}
	}
	var resp LoadedDraft
	err := c.do(ctx, http.MethodPut, explorationPath(id, "draft"), map[string]any{"draft_version": draftVersion, "draft_change_list": changes}, &resp)
	if err != nil || resp.Draft == nil {
		return Draft{}, err
	}
	return *resp.Draft, nil
}

// GetDraft loads the draft of the authenticated user, upgraded to the current
// exploration version.
func (c *Client) GetDraft(ctx context.Context, id string) (LoadedDraft, error) {
	var resp LoadedDraft
	err := c.do(ctx, http.MethodGet, explorationPath(id, "draft"), nil, &resp)
	return resp, err
}

func (c *Client) DiscardDraft(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, explorationPath(id, "draft"), nil, nil)
}

// UpgradeDraft upgrades changes without storing them. A zero to means the
// current version.
func (c *Client) UpgradeDraft(ctx context.Context, id string, changes []Change, from, to int) (UpgradeResult, error) {
	body := map[string]any{"draft_change_list": changes, "from_version": from, "to_version": to}
	var resp UpgradeResult
	err := c.do(ctx, http.MethodPost, explorationPath(id, "drafts/upgrade"), body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, explorationID string, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, explorationID, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, explorationID string, limit int, cursor string) (PaginatedEvents, error) {
	extra := url.Values{}
	if explorationID != "" {
		extra.Set("exploration_id", explorationID)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", limit, cursor, extra), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func explorationPath(id, sub string) string {
	p := "explorations/" + url.PathEscape(id)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func withQuery(endpoint string, limit int, cursor string, extra url.Values) string {
	q := url.Values{}
	for k, v := range extra {
		q[k] = v
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
