package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"usrtaskmgt/internal/engine"
	"usrtaskmgt/internal/engine/auth"
)

// TraceHeader carries the per-request trace id.
const TraceHeader = "X-Trace-Id"

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *zap.Logger
}

type apiErrorBody struct {
	TraceID          string         `json:"traceId,omitempty" example:"3f1c2a9e-6f7b-4f55-9d1e-3a2b1c0d9e8f"`
	Code             string         `json:"code" example:"task_not_found"`
	Message          string         `json:"message" example:"task 42 not found"`
	LocalizedMessage string         `json:"localizedMessage,omitempty" example:"Task with id 42 does not exist"`
	Details          map[string]any `json:"details,omitempty"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type traceKey struct{}

func traceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(TraceHeader))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(TraceHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), traceKey{}, id)))
	})
}

// New returns an HTTP handler exposing the user task API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(context.Background(), status, "", msg, "", errorDetails(errs))
	}
	huma.NewErrorWithContext = func(hctx huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// Request schema errors are 400; 422 is reserved for form and signature validation.
			status = http.StatusBadRequest
		}
		return newAPIError(hctx.Context(), status, "", msg, "", errorDetails(errs))
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(traceMiddleware)
	router.Use(newAuthMiddleware(basePath, cfg.Auth, logger))
	hcfg := huma.DefaultConfig("User Task Management API", "1.0.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{engine: cfg.Engine, logger: logger}
	registerHealth(group)
	registerTasks(group, h)
	registerSignForms(group, h)
	registerHistory(group, h)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func errorDetails(errs []error) map[string]any {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]map[string]string, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			msgs = append(msgs, map[string]string{"message": err.Error()})
		}
	}
	return map[string]any{"errors": msgs}
}

func newAPIError(ctx context.Context, status int, code, message, localized string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			TraceID:          traceID(ctx),
			Code:             code,
			Message:          message,
			LocalizedMessage: localized,
			Details:          details,
		},
	}
}

type handlers struct {
	engine engine.Engine
	logger *zap.Logger
}

func (h handlers) handleError(ctx context.Context, op string, err error) huma.StatusError {
	if err == nil {
		return nil
	}
	se := mapError(ctx, err)
	fields := []zap.Field{zap.String("op", op), zap.String("traceId", traceID(ctx)), zap.Int("status", se.GetStatus()), zap.Error(err)}
	if se.GetStatus() >= http.StatusInternalServerError {
		h.logger.Error("request failed", fields...)
	} else {
		h.logger.Info("request rejected", fields...)
	}
	return se
}

func mapError(ctx context.Context, err error) huma.StatusError {
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(ctx, http.StatusForbidden, "forbidden", err.Error(), "", map[string]any{"role": fe.Role})
	}
	var notExists engine.TaskNotExistsError
	if errors.As(err, &notExists) {
		return newAPIError(ctx, http.StatusNotFound, "task_not_found", err.Error(),
			localize(msgTaskNotExists, notExists.TaskID), nil)
	}
	var orCompleted engine.TaskNotExistsOrCompletedError
	if errors.As(err, &orCompleted) {
		return newAPIError(ctx, http.StatusNotFound, "task_not_exists_or_completed", err.Error(),
			localize(msgTaskNotExistsOrCompleted), nil)
	}
	var assigned engine.TaskAlreadyAssignedError
	if errors.As(err, &assigned) {
		return newAPIError(ctx, http.StatusConflict, "task_already_assigned", err.Error(),
			localize(msgTaskAlreadyAssigned, assigned.TaskName), nil)
	}
	var unauthorized engine.TaskAuthorizationError
	if errors.As(err, &unauthorized) {
		return newAPIError(ctx, http.StatusForbidden, "task_authorization_error", err.Error(),
			localize(msgTaskAuthorizationError, unauthorized.TaskID), nil)
	}
	var invalid engine.FormValidationError
	if errors.As(err, &invalid) {
		return newAPIError(ctx, http.StatusUnprocessableEntity, "validation_failed", err.Error(), "",
			map[string]any{"errors": invalid.Errors})
	}
	var badSig engine.SignatureValidationError
	if errors.As(err, &badSig) {
		code := badSig.Detail.Code
		if code == "" {
			code = "signature_invalid"
		}
		msg := badSig.Detail.Message
		if msg == "" {
			msg = err.Error()
		}
		return newAPIError(ctx, http.StatusUnprocessableEntity, code, msg, badSig.Detail.LocalizedMessage,
			map[string]any{"errors": []map[string]string{{"message": badSig.Detail.LocalizedMessage}}})
	}
	return newAPIError(ctx, http.StatusInternalServerError, "internal_error", "internal error", "", nil)
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
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, _ *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(spec)
	})
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
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
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
		}{Body: map[string]string{"status": "UP"}}, nil
	})
}
