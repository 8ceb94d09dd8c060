package resq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// FailureTTL is how long a failure record is kept. Records are a
// diagnostic window, not an audit log.
const FailureTTL = 14 * time.Hour

// FailureRecord describes the last unhandled error of a job.
type FailureRecord struct {
	JobID     string          `json:"job_id"`
	FailedAt  time.Time       `json:"failed_at"`
	Payload   json.RawMessage `json:"payload"`
	Exception string          `json:"exception"`
	Error     string          `json:"error"`
	Backtrace []string        `json:"backtrace"`
	Worker    string          `json:"worker"`
	Queue     string          `json:"queue"`
}

// Failures persists FailureRecords under failed:<jobId>.
type Failures struct {
	rc  *RedisClient
	now func() time.Time
}

// NewFailures creates a failure backend on top of rc.
func NewFailures(rc *RedisClient) *Failures {
	return &Failures{rc: rc, now: time.Now}
}

// Save records the failure of job seen by workerID.
func (f *Failures) Save(ctx context.Context, job *Job, cause error, workerID string) (*FailureRecord, error) {
	payload, err := job.Encode()
	if err != nil {
		return nil, err
	}

	rec := &FailureRecord{
		JobID:     job.ID,
		FailedAt:  f.now().UTC(),
		Payload:   payload,
		Exception: fmt.Sprintf("%T", cause),
		Error:     cause.Error(),
		Worker:    workerID,
		Queue:     job.Queue,
	}

	var jf *JobFailure
	if errors.As(cause, &jf) {
		rec.Error = jf.Err.Error()
		rec.Exception = fmt.Sprintf("%T", jf.Err)
		if jf.Panic {
			rec.Exception = "panic"
		}
		rec.Backtrace = jf.Stack
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding failure record %s: %w", job.ID, err)
	}
	if err := f.rc.rdb.SetEx(ctx, f.rc.Key("failed", job.ID), data, FailureTTL).Err(); err != nil {
		return nil, fmt.Errorf("saving failure record %s: %w", job.ID, err)
	}
	return rec, nil
}

// Get returns the failure record for jobID, or nil when it is absent or expired.
func (f *Failures) Get(ctx context.Context, jobID string) (*FailureRecord, error) {
	data, err := f.rc.rdb.Get(ctx, f.rc.Key("failed", jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading failure record %s: %w", jobID, err)
	}

	var rec FailureRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding failure record %s: %w", jobID, err)
	}
	return &rec, nil
}
