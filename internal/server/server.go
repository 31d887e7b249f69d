package server

import (
	"context"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"taskpulse/internal/engine"
	"taskpulse/internal/metrics"
	"taskpulse/internal/query"
	"taskpulse/internal/realtime"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Query    query.Service
	Hub      *realtime.Hub
	BasePath string
	Auth     AuthConfig
	Log      *logrus.Entry
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"already_escalated"`
	Message string         `json:"message" example:"task 7f1c is already escalated"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the taskpulse API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			msgs := make([]string, 0, len(errs))
			for _, e := range errs {
				msgs = append(msgs, e.Error())
			}
			details = map[string]any{"errors": msgs}
		}
		return newAPIError(status, "", msg, details)
	}

	authn := authenticator{cfg: cfg.Auth, engine: cfg.Engine}
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(log))
	router.Use(newAuthMiddleware(basePath, authn))
	router.Handle("/metrics", metrics.Handler())

	if cfg.Hub != nil {
		if cfg.Hub.Authenticate == nil {
			cfg.Hub.Authenticate = authn.subscriber
		}
		router.Handle(path.Join(basePath, "ws"), cfg.Hub)
	}

	hcfg := huma.DefaultConfig("taskpulse API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerTasks(group, cfg.Engine, cfg.Query)
	registerEscalations(group, cfg.Engine, cfg.Query)
	registerKPI(group, cfg.Query)
	registerEvents(group, cfg.Engine)
	registerMe(group, cfg.Engine)

	return router, nil
}

func requestLogger(log *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   ww.Status(),
				"duration": time.Since(start).String(),
			}).Debug("request")
		})
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

// handleError maps engine and query failures to the envelope. State-machine
// conflicts are reported as 400; only a lost version race is a 409.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, query.ErrInvalidQuery) {
		return newAPIError(http.StatusBadRequest, "invalid_query", err.Error(), nil)
	}
	var ee *engine.Error
	if !errors.As(err, &ee) {
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
	details := map[string]any{"kind": string(ee.Kind)}
	switch ee.Kind {
	case engine.KindValidation:
		return newAPIError(http.StatusBadRequest, ee.Code, ee.Message, details)
	case engine.KindNotFound:
		return newAPIError(http.StatusNotFound, ee.Code, ee.Message, details)
	case engine.KindForbidden:
		return newAPIError(http.StatusForbidden, ee.Code, ee.Message, details)
	case engine.KindConflict:
		if ee.Code == engine.CodeConcurrentUpdate {
			return newAPIError(http.StatusConflict, ee.Code, ee.Message, details)
		}
		return newAPIError(http.StatusBadRequest, ee.Code, ee.Message, details)
	default:
		return newAPIError(http.StatusInternalServerError, ee.Code, ee.Message, details)
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
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
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

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 500 {
		return 500
	}
	return in
}
