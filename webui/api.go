package webui

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"go.uber.org/zap"

	"ai_workspace/backend"
	"ai_workspace/core"
	"ai_workspace/session"
)

const (
	defaultGenerationsLimit = 20
	maxGenerationsLimit     = 100
	maxJSONBody             = 1 << 20
)

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Uptime   string `json:"uptime"`
	Sessions int    `json:"sessions"`
	Pending  int    `json:"pending"`
	Database string `json:"database,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.engine.Status()
	resp := HealthResponse{
		Status:   "ok",
		Version:  core.Version,
		Uptime:   formatDuration(time.Since(s.startedAt)),
		Sessions: st.Sessions,
		Pending:  st.Pending,
	}
	code := http.StatusOK
	if st.Database {
		resp.Database = "ok"
		if err := s.engine.Ping(r.Context()); err != nil {
			resp.Status = "degraded"
			resp.Database = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	m := s.engine.Metrics()
	writeJSON(w, http.StatusOK, map[string]any{
		"engine":      s.engine.Status(),
		"generations": m.GetGenerationMetrics(),
		"gpu":         m.GetGPUMetrics(),
		"system":      m.GetSystemStatus(),
	})
}

func (s *Server) handleGenerations(w http.ResponseWriter, r *http.Request) {
	limit := defaultGenerationsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = min(n, maxGenerationsLimit)
	}
	writeJSON(w, http.StatusOK, s.engine.Metrics().GetRecentGenerations(limit))
}

// ModelsResponse lists selectable and current models per engine kind.
type ModelsResponse struct {
	Available map[backend.Kind][]string `json:"available"`
	Current   map[backend.Kind]string   `json:"current"`
	Backends  map[backend.Kind]string   `json:"backends"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	st := s.engine.Status()
	resp := ModelsResponse{
		Available: make(map[backend.Kind][]string),
		Current:   make(map[backend.Kind]string),
		Backends:  make(map[backend.Kind]string),
	}
	for _, kind := range backend.Kinds() {
		resp.Available[kind] = s.engine.AvailableModels(kind)
		if ks, ok := st.Kinds[kind]; ok {
			resp.Current[kind] = ks.Current
			resp.Backends[kind] = string(ks.Backend)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type switchModelRequest struct {
	Model string `json:"model"`
}

func (s *Server) handleSwitchModel(w http.ResponseWriter, r *http.Request) {
	kind := backend.Kind(r.PathValue("kind"))
	if !slices.Contains(backend.Kinds(), kind) {
		writeError(w, http.StatusNotFound, "unknown_kind", fmt.Sprintf("unknown engine kind %q", kind))
		return
	}
	var req switchModelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h, err := s.engine.SwitchModel(r.Context(), kind, req.Model)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"kind":    string(kind),
		"model":   h.Key().ModelID,
		"backend": string(h.Backend()),
	})
}

type createSessionRequest struct {
	Model    string            `json:"model"`
	Settings *session.Settings `json:"settings,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	store := s.engine.Sessions()
	sess, err := store.Create(r.Context(), req.Model)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if req.Settings != nil {
		if err := store.UpdateSettings(r.Context(), sess.ID, *req.Settings); err != nil {
			s.writeEngineError(w, err)
			return
		}
		if sess, err = store.Get(r.Context(), sess.ID); err != nil {
			s.writeEngineError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Sessions().List(r.Context()))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.engine.Sessions().Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var settings session.Settings
	if !decodeBody(w, r, &settings) {
		return
	}
	id := r.PathValue("id")
	if err := s.engine.Sessions().UpdateSettings(r.Context(), id, settings); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.handleGetSession(w, r)
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Sessions().Clear(r.Context(), r.PathValue("id")); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Sessions().Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// httpStatus maps the error taxonomy to HTTP status codes.
func httpStatus(err error) int {
	switch {
	case core.IsInvalidRequest(err):
		return http.StatusBadRequest
	case core.IsSessionNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, core.ErrBusy):
		return http.StatusTooManyRequests
	case core.IsResourceExhausted(err):
		return http.StatusServiceUnavailable
	case core.IsLoadError(err):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	if status >= 500 {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeError(w, status, errorCode(err), err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

// formatDuration renders d with its two most significant units, e.g.
// "2h 5m" or "45s".
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}
	days := int(d / (24 * time.Hour))
	hours := int(d/time.Hour) % 24
	minutes := int(d/time.Minute) % 60
	seconds := int(d/time.Second) % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
