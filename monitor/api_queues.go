package monitor

import (
	"net/http"

	"github.com/benedict-erwin/resq"
	"github.com/benedict-erwin/resq/supervisor"
)

// handleListQueues returns the queues of the current snapshot.
func (m *Monitor) handleListQueues(w http.ResponseWriter, r *http.Request) {
	rep, err := m.source.Snapshot(r.Context())
	if err != nil {
		m.logger.Error("taking snapshot", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list queues", "INTERNAL")
		return
	}
	queues := rep.Queues
	if queues == nil {
		queues = []supervisor.QueueReport{}
	}
	writeJSON(w, http.StatusOK, response{Data: queues})
}

// handleGetQueue returns one queue. Unknown queues with pending jobs are
// still reported; a queue that was never used is a 404.
func (m *Monitor) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !resq.ValidQueueName(name) {
		writeError(w, http.StatusBadRequest, "queue name contains invalid characters", "BAD_REQUEST")
		return
	}

	rep, err := m.source.Snapshot(r.Context())
	if err != nil {
		m.logger.Error("taking snapshot", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read queue", "INTERNAL")
		return
	}
	for _, q := range rep.Queues {
		if q.Name == name {
			writeJSON(w, http.StatusOK, response{Data: q})
			return
		}
	}

	// Snapshots leave out idle unmonitored queues; check the known-queue set.
	known, err := m.rc.Unwrap().SIsMember(r.Context(), m.rc.Key("queues"), name).Result()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read queue", "INTERNAL")
		return
	}
	if !known {
		writeError(w, http.StatusNotFound, "queue not found", "NOT_FOUND")
		return
	}
	writeJSON(w, http.StatusOK, response{Data: supervisor.QueueReport{Name: name}})
}
