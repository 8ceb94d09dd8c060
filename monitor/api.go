package monitor

import (
	"encoding/json"
	"net/http"
	"regexp"
	"time"
)

func (m *Monitor) setupRoutes() {
	// Health, no auth required
	m.mux.HandleFunc("GET /health", m.handleHealth)

	m.mux.HandleFunc("GET /api/v1/stats", m.requireAuth(m.handleStats))

	m.mux.HandleFunc("GET /api/v1/queues", m.requireAuth(m.handleListQueues))
	m.mux.HandleFunc("GET /api/v1/queues/{name}", m.requireAuth(m.handleGetQueue))

	m.mux.HandleFunc("GET /api/v1/workers", m.requireAuth(m.handleListWorkers))
	m.mux.HandleFunc("GET /api/v1/workers/{id}", m.requireAuth(m.handleGetWorker))

	m.mux.HandleFunc("GET /api/v1/failures/{id}", m.requireAuth(m.handleGetFailure))
}

// response is the JSON envelope for successful responses.
type response struct {
	Data any `json:"data"`
}

// errorResponse is the JSON envelope for errors.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// validPathParam matches worker identities (host:pid:queues), queue names
// and job ids. Max 512 chars.
var validPathParam = regexp.MustCompile(`^[a-zA-Z0-9._@:,*\-]{1,512}$`)

// validatePathParam writes a 400 and returns false when value is unsafe
// to use in a Redis key.
func validatePathParam(w http.ResponseWriter, name, value string) bool {
	if !validPathParam.MatchString(value) {
		writeError(w, http.StatusBadRequest, name+" contains invalid characters", "BAD_REQUEST")
		return false
	}
	return true
}

func (m *Monitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	redisOK := true
	if err := m.rc.Ping(r.Context()); err != nil {
		status = "degraded"
		redisOK = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": status,
		"redis":  redisOK,
		"uptime": time.Since(m.startedAt).Truncate(time.Second).String(),
	})
}

func (m *Monitor) handleStats(w http.ResponseWriter, r *http.Request) {
	rep, err := m.source.Snapshot(r.Context())
	if err != nil {
		m.logger.Error("taking snapshot", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read stats", "INTERNAL")
		return
	}
	writeJSON(w, http.StatusOK, response{Data: rep})
}

func (m *Monitor) handleGetFailure(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !validatePathParam(w, "job id", id) {
		return
	}

	rec, err := m.failures.Get(r.Context(), id)
	if err != nil {
		m.logger.Error("reading failure record", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read failure record", "INTERNAL")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "failure record not found", "NOT_FOUND")
		return
	}
	writeJSON(w, http.StatusOK, response{Data: rec})
}
