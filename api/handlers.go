package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/oar-cd/moor/domain"
	"github.com/oar-cd/moor/provision"
)

const (
	HeaderUserID    = "X-User-ID"
	HeaderUserRoles = "X-User-Roles"
)

type handlers struct {
	s Services
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	// Step and Log are set when server configuration fails
	Step string   `json:"step,omitempty"`
	Log  []string `json:"configurationLog,omitempty"`
}

// callerFrom builds the caller identity from the request headers
func callerFrom(r *http.Request) domain.CallerMetadata {
	caller := domain.CallerMetadata{
		UserID:    strings.TrimSpace(r.Header.Get(HeaderUserID)),
		RequestID: middleware.GetReqID(r.Context()),
	}
	for _, role := range strings.Split(r.Header.Get(HeaderUserRoles), ",") {
		if role = strings.TrimSpace(role); role != "" {
			caller.Roles = append(caller.Roles, role)
		}
	}
	return caller
}

// parseID extracts and validates the id URL parameter
func parseID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	if raw == "" {
		return uuid.Nil, domain.Validation("parse_id", "id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domain.Validation("parse_id", "invalid id format")
	}
	return id, nil
}

// withID extracts and validates the id URL parameter, passing it to the next handler
func withID(next func(w http.ResponseWriter, r *http.Request, id uuid.UUID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, "parse_id", err)
			return
		}
		next(w, r, id)
	}
}

// decodeBody reads a JSON body into dst. An empty body leaves dst untouched.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domain.Validation("decode_body", "invalid request body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logOperationError("write_response", err)
	}
}

// statusFor maps an error kind to an HTTP status code
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindExternal:
		return http.StatusBadGateway
	case domain.KindInfrastructure:
		return http.StatusServiceUnavailable
	case domain.KindConfiguration:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, operation string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logOperationError(operation, err)
	} else {
		slog.Debug("Request rejected",
			"layer", "api",
			"operation", operation,
			"status", status,
			"error", err)
	}

	resp := errorResponse{Error: domain.FormatErrorForUser(err)}
	if kind := domain.KindOf(err); kind != domain.KindInternal {
		resp.Kind = kind.String()
	}
	var cfgErr *provision.ConfigurationError
	if errors.As(err, &cfgErr) {
		resp.Step = cfgErr.Step
		resp.Log = cfgErr.Log
	}
	writeJSON(w, status, resp)
}

// logOperationError logs errors with consistent structure
func logOperationError(operation string, err error, fields ...any) {
	args := []any{"layer", "api", "operation", operation, "error", err}
	args = append(args, fields...)
	slog.Error("Operation failed", args...)
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, "OK"); err != nil {
		logOperationError("health_check", err)
	}
}

func (h *handlers) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": h.s.Version})
}
