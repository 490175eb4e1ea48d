// Package api exposes HTTP handlers for the run service.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/runnerz/internal/domain"
	"example.com/runnerz/internal/observability"
)

const (
	runsPath     = "/api/runs"
	maxBodyBytes = 1 << 20
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
	logger  *slog.Logger
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	routes := []struct {
		pattern string
		handler http.HandlerFunc
	}{
		{"GET " + runsPath, h.listRuns},
		{"POST " + runsPath, h.createRun},
		{"GET " + runsPath + "/{id}", h.getRun},
		{"PUT " + runsPath + "/{id}", h.updateRun},
		{"DELETE " + runsPath + "/{id}", h.deleteRun},
		{"GET " + runsPath + "/location/{location}", h.listRunsByLocation},
		{"GET /healthz", healthz},
		{"GET /readyz", h.readyz},
	}
	for _, route := range routes {
		mux.Handle(route.pattern, observability.InstrumentRoute(route.pattern, route.handler))
	}
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ready(r.Context()); err != nil {
		h.logger.WarnContext(r.Context(), "readiness check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "unavailable", "store unreachable")
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.service.ListRuns(r.Context())
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunViews(runs))
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	run, err := h.service.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Run not found.")
			return
		}
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunView(*run))
}

func (h *Handler) createRun(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRunRequest(w, r)
	if !ok {
		return
	}
	in, err := req.toDomain()
	if err != nil {
		writeValidationError(w, err)
		return
	}

	run, err := h.service.CreateRun(r.Context(), in)
	if err != nil {
		if writeValidationError(w, err) {
			return
		}
		h.serverError(w, r, err)
		return
	}

	w.Header().Set("Location", runsPath+"/"+strconv.FormatInt(run.ID, 10))
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) updateRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req, ok := decodeRunRequest(w, r)
	if !ok {
		return
	}
	run, err := req.toDomain()
	if err != nil {
		writeValidationError(w, err)
		return
	}

	if err := h.service.UpdateRun(r.Context(), id, run); err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Run not found.")
			return
		}
		if writeValidationError(w, err) {
			return
		}
		h.serverError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteRun(r.Context(), id); err != nil {
		h.serverError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listRunsByLocation(w http.ResponseWriter, r *http.Request) {
	location, err := domain.ParseLocation(r.PathValue("location"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "location must be one of indoor, outdoor")
		return
	}

	runs, err := h.service.ListRunsByLocation(r.Context(), location)
	if err != nil {
		if writeValidationError(w, err) {
			return
		}
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunViews(runs))
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.ErrorContext(r.Context(), "run store failure", "method", r.Method, "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "server_error", "internal server error")
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "run id must be an integer")
		return 0, false
	}
	return id, true
}

func decodeRunRequest(w http.ResponseWriter, r *http.Request) (RunRequest, bool) {
	var req RunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return RunRequest{}, false
	}
	return req, true
}

// RunRequest is the payload for POST /api/runs and PUT /api/runs/{id}.
// Members stay raw so a badly typed field is reported against its own name.
// An "id" member is ignored: the path or the store decides it.
type RunRequest struct {
	Title       json.RawMessage `json:"title"`
	StartedOn   json.RawMessage `json:"startedOn"`
	CompletedOn json.RawMessage `json:"completedOn"`
	Miles       json.RawMessage `json:"miles"`
	Location    json.RawMessage `json:"location"`
}

// toDomain converts the payload, listing every violated constraint. A field
// that cannot be decoded is reported once, as a type violation.
func (r RunRequest) toDomain() (domain.Run, error) {
	var (
		run      domain.Run
		location string
		verr     domain.ValidationError
	)
	reported := make(map[string]bool)
	reject := func(field, message string) {
		verr.Add(field, message)
		reported[field] = true
	}

	if !decodeField(r.Title, &run.Title) {
		reject("title", "must be a string")
	}
	var ok bool
	if run.StartedOn, ok = decodeTimestamp(r.StartedOn); !ok {
		reject("startedOn", "must be an RFC 3339 timestamp")
	}
	if run.CompletedOn, ok = decodeTimestamp(r.CompletedOn); !ok {
		reject("completedOn", "must be an RFC 3339 timestamp")
	}
	switch {
	case isNull(r.Miles):
		reject("miles", "is required")
	case !decodeField(r.Miles, &run.Miles):
		reject("miles", "must be a number")
	}
	if !decodeField(r.Location, &location) {
		reject("location", "must be a string")
	}
	run.Location = domain.Location(strings.ToLower(strings.TrimSpace(location)))

	var domainErr *domain.ValidationError
	if errors.As(run.Validate(), &domainErr) {
		for _, v := range domainErr.Violations {
			if !reported[v.Field] {
				verr.Add(v.Field, v.Message)
			}
		}
	}
	return run, verr.OrNil()
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// decodeField leaves dst untouched for an absent or null member.
func decodeField(raw json.RawMessage, dst interface{}) bool {
	if isNull(raw) {
		return true
	}
	return json.Unmarshal(raw, dst) == nil
}

func decodeTimestamp(raw json.RawMessage) (time.Time, bool) {
	var text string
	if isNull(raw) {
		return time.Time{}, true
	}
	if err := json.Unmarshal(raw, &text); err != nil {
		return time.Time{}, false
	}
	ts, err := domain.ParseTimestamp(text)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// RunView is the JSON representation of a run.
type RunView struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	StartedOn   time.Time `json:"startedOn"`
	CompletedOn time.Time `json:"completedOn"`
	Miles       float64   `json:"miles"`
	Location    string    `json:"location"`
}

// ErrorResponse is the body written for every failed request.
type ErrorResponse struct {
	Type       string             `json:"type"`
	Detail     string             `json:"detail"`
	Violations []domain.Violation `json:"violations,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, ErrorResponse{Type: code, Detail: detail})
}

// writeValidationError writes a 400 when err carries field violations.
func writeValidationError(w http.ResponseWriter, err error) bool {
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		return false
	}
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Type:       "validation_failed",
		Detail:     verr.Error(),
		Violations: verr.Violations,
	})
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toRunView(run domain.Run) RunView {
	return RunView{
		ID:          run.ID,
		Title:       run.Title,
		StartedOn:   run.StartedOn,
		CompletedOn: run.CompletedOn,
		Miles:       run.Miles,
		Location:    string(run.Location),
	}
}

func toRunViews(runs []domain.Run) []RunView {
	views := make([]RunView, 0, len(runs))
	for _, run := range runs {
		views = append(views, toRunView(run))
	}
	return views
}
