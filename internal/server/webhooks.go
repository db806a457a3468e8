package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"draftline/internal/config"
	"draftline/internal/domain"
	"draftline/internal/engine"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

type webhookDispatcher struct {
	engine   engine.Engine
	hook     config.WebhookConfig
	filter   eventFilter
	client   *http.Client
	log      zerolog.Logger
	interval time.Duration
	cursor   int64
	started  bool
}

// startWebhookDispatcher delivers new events to the configured webhook until
// ctx is done. It does nothing when webhooks are disabled.
func startWebhookDispatcher(ctx context.Context, e engine.Engine, log zerolog.Logger) {
	d, ok := newWebhookDispatcher(e, log)
	if !ok {
		return
	}
	go d.run(ctx)
}

func newWebhookDispatcher(e engine.Engine, log zerolog.Logger) (*webhookDispatcher, bool) {
	hook, ok := webhookConfig(e)
	if !ok {
		return nil, false
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	return &webhookDispatcher{
		engine:   e,
		hook:     hook,
		filter:   newEventFilter(hook.Events),
		client:   &http.Client{Timeout: timeout},
		log:      log.With().Str("component", "webhooks").Str("url", hook.URL).Logger(),
		interval: defaultWebhookInterval,
	}, true
}

func (d *webhookDispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.dispatch(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// dispatch delivers one batch. Delivery stops at the first failure so the
// same event is retried on the next tick.
func (d *webhookDispatcher) dispatch(ctx context.Context) {
	if !d.started {
		cur, err := d.engine.Repo.LatestEventID(ctx, "")
		if err != nil {
			d.log.Error().Err(err).Msg("init webhook cursor failed")
			return
		}
		d.cursor = cur
		d.started = true
	}
	events, err := d.engine.Repo.EventsAfter(ctx, defaultWebhookBatch, d.cursor, "")
	if err != nil {
		d.log.Error().Err(err).Msg("fetch events failed")
		return
	}
	for _, evt := range events {
		if d.filter.match(evt.Type) {
			if err := d.postEvent(ctx, evt); err != nil {
				d.log.Warn().Err(err).Int64("event_id", evt.ID).Msg("webhook delivery failed")
				return
			}
			d.log.Debug().Int64("event_id", evt.ID).Str("type", evt.Type).Msg("webhook delivered")
		}
		d.cursor = evt.ID
	}
}

type webhookEvent struct {
	ID            int64           `json:"id"`
	Type          string          `json:"type"`
	ExplorationID string          `json:"exploration_id,omitempty"`
	EntityKind    string          `json:"entity_kind"`
	EntityID      string          `json:"entity_id,omitempty"`
	ActorID       string          `json:"actor_id"`
	TS            string          `json:"ts"`
	Payload       json.RawMessage `json:"payload"`
	PayloadRaw    string          `json:"payload_raw,omitempty"`
}

func (d *webhookDispatcher) postEvent(ctx context.Context, evt domain.Event) error {
	payload := json.RawMessage([]byte("{}"))
	var raw string
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			payload = json.RawMessage([]byte(evt.Payload))
		} else {
			raw = evt.Payload
		}
	}
	data, err := json.Marshal(webhookEvent{
		ID:            evt.ID,
		Type:          evt.Type,
		ExplorationID: evt.ExplorationID,
		EntityKind:    evt.EntityKind,
		EntityID:      evt.EntityID,
		ActorID:       evt.ActorID,
		TS:            evt.TS,
		Payload:       payload,
		PayloadRaw:    raw,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Draftline-Event", evt.Type)
	req.Header.Set("X-Draftline-Delivery", fmt.Sprintf("%d", evt.ID))
	if evt.ExplorationID != "" {
		req.Header.Set("X-Draftline-Exploration", evt.ExplorationID)
	}
	if strings.TrimSpace(d.hook.Secret) != "" {
		req.Header.Set("X-Draftline-Secret", d.hook.Secret)
	}
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
