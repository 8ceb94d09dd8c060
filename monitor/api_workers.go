package monitor

import (
	"net/http"

	"github.com/benedict-erwin/resq"
	"github.com/benedict-erwin/resq/supervisor"
)

// workerDetail is a worker with the job it is performing, if any.
type workerDetail struct {
	supervisor.WorkerReport
	Host    string           `json:"host"`
	PID     int              `json:"pid"`
	Queues  []string         `json:"queues"`
	Current *resq.CurrentJob `json:"current,omitempty"`
}

// handleListWorkers returns every active worker.
func (m *Monitor) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	rep, err := m.source.Snapshot(r.Context())
	if err != nil {
		m.logger.Error("taking snapshot", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list workers", "INTERNAL")
		return
	}
	workers := rep.Workers
	if workers == nil {
		workers = []supervisor.WorkerReport{}
	}
	writeJSON(w, http.StatusOK, response{Data: workers})
}

// handleGetWorker returns one worker and its current job.
func (m *Monitor) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	if !validatePathParam(w, "worker id", id) {
		return
	}

	host, pid, queues, err := resq.ParseWorkerIdentity(id)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
		return
	}

	rep, err := m.source.Snapshot(ctx)
	if err != nil {
		m.logger.Error("taking snapshot", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read worker", "INTERNAL")
		return
	}

	for _, wr := range rep.Workers {
		if wr.ID != id {
			continue
		}
		cur, err := m.dir.Current(ctx, id)
		if err != nil {
			m.logger.Error("reading current job", "worker", id, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to read worker", "INTERNAL")
			return
		}
		writeJSON(w, http.StatusOK, response{Data: workerDetail{
			WorkerReport: wr,
			Host:         host,
			PID:          pid,
			Queues:       queues,
			Current:      cur,
		}})
		return
	}
	writeError(w, http.StatusNotFound, "worker not found", "NOT_FOUND")
}
