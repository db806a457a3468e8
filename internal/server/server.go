package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"draftline/internal/config"
	"draftline/internal/domain"
	"draftline/internal/draftupgrade"
	"draftline/internal/engine"
	"draftline/internal/repo"
)

const devTokenTTL = 12 * time.Hour

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Log      zerolog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"version_conflict"`
	Message string         `json:"message" example:"exploration exp-1 is at version 4, not 3"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Draftline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo, cfg.Log))
	hcfg := huma.DefaultConfig("Draftline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{engine: cfg.Engine}
	registerDocs(router, basePath)
	registerHealth(group)
	h.registerConverters(group)
	h.registerExplorations(group)
	h.registerCommits(group)
	h.registerDrafts(group)
	h.registerSuggestions(group)
	h.registerEvents(group)
	registerMe(group)
	if cfg.Auth.EnableDevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
}

// Serve runs the API on addr until ctx is cancelled. The webhook dispatcher
// runs alongside when enabled in the engine config.
func Serve(ctx context.Context, addr string, cfg Config) error {
	handler, err := New(cfg)
	if err != nil {
		return err
	}
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	startWebhookDispatcher(ctx, cfg.Engine, cfg.Log)
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	cfg.Log.Info().Str("addr", addr).Str("base_path", cfg.BasePath).Msg("serving")
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	msg := err.Error()
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, engine.ErrVersionConflict), errors.Is(err, repo.ErrConflict):
		return newAPIError(http.StatusConflict, "version_conflict", msg, nil)
	case errors.Is(err, engine.ErrInvalidArgument), errors.Is(err, draftupgrade.ErrInvalidInput):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	public := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Draftline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

type handlers struct {
	engine engine.Engine
}

type explorationPath struct {
	ID string `path:"id"`
}

type explorationBody struct {
	Body domain.Exploration `json:"body"`
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func (h handlers) registerConverters(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-converters",
		Method:      http.MethodGet,
		Path:        "/converters",
		Summary:     "Registered draft converters",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ConverterResponse `json:"body"`
	}, error) {
		return &struct {
			Body []ConverterResponse `json:"body"`
		}{Body: converterResponses(h.engine.Upgrader.Converters.Steps())}, nil
	})
}

func (h handlers) registerExplorations(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "create-exploration",
		Method:      http.MethodPost,
		Path:        "/explorations",
		Summary:     "Create an exploration",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateExplorationRequest `json:"body"`
	}) (*explorationBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		exp, err := h.engine.CreateExploration(ctx, input.Body.ID, input.Body.Title, input.Body.StatesSchemaVersion, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &explorationBody{Body: exp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-explorations",
		Method:      http.MethodGet,
		Path:        "/explorations",
		Summary:     "List explorations",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Exploration `json:"body"`
	}, error) {
		items, err := h.engine.ListExplorations(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Exploration `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-exploration",
		Method:      http.MethodGet,
		Path:        "/explorations/{id}",
		Summary:     "Get an exploration",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *explorationPath) (*explorationBody, error) {
		exp, err := h.engine.GetExploration(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &explorationBody{Body: exp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "migrate-exploration",
		Method:      http.MethodPost,
		Path:        "/explorations/{id}/migrations",
		Summary:     "Migrate the states schema",
		Description: "Appends one schema migration commit per step up to the target states schema.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body MigrateRequest `json:"body"`
	}) (*explorationBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		exp, err := h.engine.MigrateStatesSchema(ctx, input.ID, input.Body.TargetSchemaVersion, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &explorationBody{Body: exp}, nil
	})
}

func (h handlers) registerCommits(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-commits",
		Method:      http.MethodGet,
		Path:        "/explorations/{id}/commits",
		Summary:     "List commits in version order",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor" doc:"Return commits after this version"`
	}) (*struct {
		Body paginatedCommits `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		after := 0
		if input.Cursor != "" {
			parsed, err := strconv.Atoi(input.Cursor)
			if err != nil || parsed < 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			after = parsed
		}
		items, err := h.engine.ListCommits(ctx, input.ID, after, limit+1)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedCommits{Items: []domain.CommitLogEntry{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.Itoa(items[limit-1].Version)
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedCommits `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "commit-changes",
		Method:      http.MethodPost,
		Path:        "/explorations/{id}/commits",
		Summary:     "Commit a change list",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body CommitRequest `json:"body"`
	}) (*explorationBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		exp, err := h.engine.CommitChanges(ctx, engine.CommitOptions{
			ExplorationID:   input.ID,
			ActorID:         actorID,
			ExpectedVersion: input.Body.ExpectedVersion,
			Changes:         input.Body.Changes,
			Message:         input.Body.Message,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &explorationBody{Body: exp}, nil
	})
}

func (h handlers) registerDrafts(api huma.API) {
	type draftOutput struct {
		Body DraftResponse `json:"body"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "save-draft",
		Method:      http.MethodPut,
		Path:        "/explorations/{id}/draft",
		Summary:     "Save the draft of the current user",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body SaveDraftRequest `json:"body"`
	}) (*draftOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := h.engine.SaveDraft(ctx, actorID, input.ID, input.Body.Changes, input.Body.DraftVersion)
		if err != nil {
			return nil, handleError(err)
		}
		return &draftOutput{Body: DraftResponse{
			Draft:   &d,
			Upgrade: draftupgrade.Result{Status: draftupgrade.StatusCurrent},
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-draft",
		Method:      http.MethodGet,
		Path:        "/explorations/{id}/draft",
		Summary:     "Load the draft of the current user",
		Description: "A stale draft is upgraded to the current exploration version and stored again. " +
			"A draft that cannot be upgraded is discarded; the response then carries only the upgrade result.",
		Errors: []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *explorationPath) (*draftOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		loaded, err := h.engine.LoadDraft(ctx, actorID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &draftOutput{Body: draftResponse(loaded)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "discard-draft",
		Method:        http.MethodDelete,
		Path:          "/explorations/{id}/draft",
		Summary:       "Discard the draft of the current user",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *explorationPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := h.engine.DiscardDraft(ctx, actorID, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upgrade-draft",
		Method:      http.MethodPost,
		Path:        "/explorations/{id}/drafts/upgrade",
		Summary:     "Upgrade a change list without storing it",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body UpgradeDraftRequest `json:"body"`
	}) (*struct {
		Body draftupgrade.Result `json:"body"`
	}, error) {
		res, err := h.engine.UpgradeDraft(ctx, input.Body.Changes, input.Body.FromVersion, input.Body.ToVersion, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if res.Migratable() {
			res.Changes = nonNilSlice(res.Changes)
		}
		return &struct {
			Body draftupgrade.Result `json:"body"`
		}{Body: res}, nil
	})
}

func (h handlers) registerSuggestions(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "create-suggestion",
		Method:      http.MethodPost,
		Path:        "/explorations/{id}/suggestions",
		Summary:     "Suggest a change for review",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                  `path:"id"`
		Body CreateSuggestionRequest `json:"body"`
	}) (*struct {
		Body domain.Suggestion `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := h.engine.CreateSuggestion(ctx, input.ID, actorID, input.Body.Change)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Suggestion `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-suggestions",
		Method:      http.MethodGet,
		Path:        "/explorations/{id}/suggestions",
		Summary:     "List suggestions",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		Status string `query:"status" enum:"review,accepted,rejected"`
	}) (*struct {
		Body []domain.Suggestion `json:"body"`
	}, error) {
		if _, err := h.engine.GetExploration(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := h.engine.ListSuggestions(ctx, input.ID, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Suggestion `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

func (h handlers) registerEvents(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ExplorationID string `query:"exploration_id"`
		Type          string `query:"type"`
		EntityKind    string `query:"entity_kind" enum:"exploration,draft,suggestion"`
		EntityID      string `query:"entity_id"`
		Limit         int    `query:"limit" default:"50"`
		Cursor        string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := h.engine.Repo.LatestEventsFrom(ctx, limit+1, cursorID, input.ExplorationID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{ActorID: principal.ActorID, Source: principal.Source}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, devTokenTTL)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

// webhookConfig returns the webhook section of the engine config, if any.
func webhookConfig(e engine.Engine) (config.WebhookConfig, bool) {
	if e.Config == nil || !e.Config.Webhooks.Enabled || strings.TrimSpace(e.Config.Webhooks.URL) == "" {
		return config.WebhookConfig{}, false
	}
	return e.Config.Webhooks, true
}
