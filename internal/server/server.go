// Package server exposes a read-only HTTP view of a store: drafts, the
// current revision per identifier, the publish queue, and the activity log.
// It is meant for local dashboards; nothing here mutates the store.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/imattau/nostr-community-conventions/internal/audit"
	"github.com/imattau/nostr-community-conventions/internal/domain"
	"github.com/imattau/nostr-community-conventions/internal/engine"
	"github.com/imattau/nostr-community-conventions/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
}

type apiErrorBody struct {
	Code    string `json:"code" example:"not_found"`
	Message string `json:"message" example:"no draft for ncc-99"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the store API.
func New(cfg Config) http.Handler {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	// Override Huma errors to use the envelope above.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// Schema/request validation errors surface as 400 bad_request.
			status = http.StatusBadRequest
		}
		return newAPIError(status, "", msg)
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("NCC Steward API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group, cfg.Engine)
	registerDrafts(group, cfg.Engine)
	registerQueue(group, cfg.Engine)
	registerLog(group, cfg.Engine)

	return router
}

func newAPIError(status int, code, message string) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{status: status, Body: apiErrorBody{Code: code, Message: message}}
}

func handleError(err error) huma.StatusError {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error())
	case domain.IsValidation(err):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error())
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusServiceUnavailable:
		return "unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

type draftWithTags struct {
	domain.Draft
	Tags []domain.Tag `json:"tags,omitempty"`
}

func registerHealth(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/healthz",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if err := e.DB.PingContext(ctx); err != nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "unavailable", err.Error())
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerDrafts(api huma.API, e engine.Engine) {
	type listInput struct {
		Kind int `query:"kind" doc:"Restrict to one kind (30050 or 30051)"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-drafts",
		Method:      http.MethodGet,
		Path:        "/drafts",
		Summary:     "List drafts, newest first",
	}, func(ctx context.Context, input *listInput) (*struct {
		Body []domain.Draft `json:"body"`
	}, error) {
		kind := domain.Kind(input.Kind)
		if kind != 0 && !kind.Valid() {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown kind")
		}
		drafts, err := e.Drafts(ctx, kind)
		if err != nil {
			return nil, handleError(err)
		}
		if drafts == nil {
			drafts = []domain.Draft{}
		}
		return &struct {
			Body []domain.Draft `json:"body"`
		}{Body: drafts}, nil
	})

	type showInput struct {
		Kind int    `path:"kind"`
		D    string `path:"d"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "show-draft",
		Method:      http.MethodGet,
		Path:        "/drafts/{kind}/{d}",
		Summary:     "Current revision for an identifier",
	}, func(ctx context.Context, input *showInput) (*struct {
		Body draftWithTags `json:"body"`
	}, error) {
		kind := domain.Kind(input.Kind)
		if !kind.Valid() {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown kind")
		}
		draft, tags, err := e.Show(ctx, kind, input.D)
		if err != nil {
			if domain.IsValidation(err) || errors.Is(err, repo.ErrNotFound) {
				return nil, newAPIError(http.StatusNotFound, "not_found", err.Error())
			}
			return nil, handleError(err)
		}
		return &struct {
			Body draftWithTags `json:"body"`
		}{Body: draftWithTags{Draft: draft, Tags: tags}}, nil
	})
}

func registerQueue(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-queue",
		Method:      http.MethodGet,
		Path:        "/queue",
		Summary:     "Pending publish tasks, due-first",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.PublishTask `json:"body"`
	}, error) {
		tasks, err := e.Repo.ListTasks(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if tasks == nil {
			tasks = []domain.PublishTask{}
		}
		return &struct {
			Body []domain.PublishTask `json:"body"`
		}{Body: tasks}, nil
	})
}

func registerLog(api huma.API, e engine.Engine) {
	type tailInput struct {
		N int `query:"n" default:"20" minimum:"1" doc:"Number of entries"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "tail-log",
		Method:      http.MethodGet,
		Path:        "/log",
		Summary:     "Recent store activity, newest first",
	}, func(ctx context.Context, input *tailInput) (*struct {
		Body []audit.Entry `json:"body"`
	}, error) {
		entries, err := e.Audit().Tail(ctx, input.N)
		if err != nil {
			return nil, handleError(err)
		}
		if entries == nil {
			entries = []audit.Entry{}
		}
		return &struct {
			Body []audit.Entry `json:"body"`
		}{Body: entries}, nil
	})
}
