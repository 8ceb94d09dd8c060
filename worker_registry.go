package resq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// WorkerIdentity returns the id a worker registers under: host:pid:q1,q2.
func WorkerIdentity(hostname string, pid int, queues []string) string {
	return hostname + ":" + strconv.Itoa(pid) + ":" + strings.Join(queues, ",")
}

// ParseWorkerIdentity splits an id built by WorkerIdentity.
func ParseWorkerIdentity(id string) (host string, pid int, queues []string, err error) {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) != 3 {
		return "", 0, nil, fmt.Errorf("resq: malformed worker id %q", id)
	}
	pid, err = strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, nil, fmt.Errorf("resq: malformed worker id %q: %w", id, err)
	}
	return parts[0], pid, ParseQueues(parts[2]), nil
}

// CurrentJob is what a worker publishes while it performs a job.
type CurrentJob struct {
	Queue   string          `json:"queue"`
	RunAt   time.Time       `json:"run_at"`
	Payload json.RawMessage `json:"payload"`
}

// Directory is the workers' own registration: the active worker set, and
// per worker its start time and current job.
type Directory struct {
	rc *RedisClient
}

// NewDirectory creates a worker directory on top of rc.
func NewDirectory(rc *RedisClient) *Directory {
	return &Directory{rc: rc}
}

// Register adds id to the active set.
func (d *Directory) Register(ctx context.Context, id string, startedAt time.Time) error {
	pipe := d.rc.rdb.TxPipeline()
	pipe.SAdd(ctx, d.rc.Key("workers"), id)
	pipe.Set(ctx, d.rc.Key("worker", id, "started"), startedAt.UTC().Format(time.RFC3339), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("registering worker %s: %w", id, err)
	}
	return nil
}

// Unregister removes id and everything stored for it, counters included.
func (d *Directory) Unregister(ctx context.Context, id string) error {
	pipe := d.rc.rdb.TxPipeline()
	pipe.SRem(ctx, d.rc.Key("workers"), id)
	pipe.Del(ctx,
		d.rc.Key("worker", id),
		d.rc.Key("worker", id, "started"),
		d.rc.Key("stat", WorkerStat(StatProcessed, id)),
		d.rc.Key("stat", WorkerStat(StatFailed, id)),
	)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("unregistering worker %s: %w", id, err)
	}
	return nil
}

// All returns every registered worker id, sorted.
func (d *Directory) All(ctx context.Context) ([]string, error) {
	ids, err := d.rc.rdb.SMembers(ctx, d.rc.Key("workers")).Result()
	if err != nil {
		return nil, fmt.Errorf("listing workers: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Exists reports whether id is registered.
func (d *Directory) Exists(ctx context.Context, id string) (bool, error) {
	return d.rc.rdb.SIsMember(ctx, d.rc.Key("workers"), id).Result()
}

// StartedAt returns when id registered. The zero time means unknown.
func (d *Directory) StartedAt(ctx context.Context, id string) (time.Time, error) {
	raw, err := d.rc.rdb.Get(ctx, d.rc.Key("worker", id, "started")).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("reading start time of %s: %w", id, err)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing start time of %s: %w", id, err)
	}
	return t, nil
}

// SetCurrent publishes job as the one id is performing.
func (d *Directory) SetCurrent(ctx context.Context, id string, job *Job) error {
	payload, err := job.Encode()
	if err != nil {
		return err
	}
	data, err := json.Marshal(CurrentJob{Queue: job.Queue, RunAt: time.Now().UTC(), Payload: payload})
	if err != nil {
		return fmt.Errorf("encoding current job of %s: %w", id, err)
	}
	if err := d.rc.rdb.Set(ctx, d.rc.Key("worker", id), data, 0).Err(); err != nil {
		return fmt.Errorf("setting current job of %s: %w", id, err)
	}
	return nil
}

// ClearCurrent marks id as no longer performing a job.
func (d *Directory) ClearCurrent(ctx context.Context, id string) error {
	if err := d.rc.rdb.Del(ctx, d.rc.Key("worker", id)).Err(); err != nil {
		return fmt.Errorf("clearing current job of %s: %w", id, err)
	}
	return nil
}

// Current returns the job id is performing, or nil when it is idle.
func (d *Directory) Current(ctx context.Context, id string) (*CurrentJob, error) {
	data, err := d.rc.rdb.Get(ctx, d.rc.Key("worker", id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading current job of %s: %w", id, err)
	}
	var cj CurrentJob
	if err := json.Unmarshal(data, &cj); err != nil {
		return nil, fmt.Errorf("decoding current job of %s: %w", id, err)
	}
	return &cj, nil
}
