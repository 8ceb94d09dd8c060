package resq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// WorkerRecord is what the supervisor remembers about a worker it spawned.
type WorkerRecord struct {
	PID       int              `json:"pid"`
	ID        string           `json:"id"`
	Queues    []string         `json:"queues"`
	StartedAt time.Time        `json:"started_at"`
	Config    SupervisorConfig `json:"config"`
}

// Status is the supervisor's persisted worker registry. It is independent
// from the queues and from the workers' own self-registration.
type Status struct {
	rc *RedisClient
}

// NewStatus creates a registry on top of rc.
func NewStatus(rc *RedisClient) *Status {
	return &Status{rc: rc}
}

func (s *Status) workersKey() string { return s.rc.Key("supervisor", "workers") }
func (s *Status) pausedKey() string  { return s.rc.Key("supervisor", "paused") }

// AddWorker stores rec under pid, replacing any previous entry.
func (s *Status) AddWorker(ctx context.Context, pid int, rec WorkerRecord) error {
	rec.PID = pid
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding worker %d: %w", pid, err)
	}
	if err := s.rc.rdb.HSet(ctx, s.workersKey(), strconv.Itoa(pid), data).Err(); err != nil {
		return fmt.Errorf("adding worker %d: %w", pid, err)
	}
	return nil
}

// RemoveWorker forgets pid. Its paused flag, if any, goes with it.
func (s *Status) RemoveWorker(ctx context.Context, pid int) error {
	field := strconv.Itoa(pid)
	raw, err := s.rc.rdb.HGet(ctx, s.workersKey(), field).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("reading worker %d: %w", pid, err)
	}
	var rec WorkerRecord
	if err == nil {
		_ = json.Unmarshal([]byte(raw), &rec) // an unreadable record is still dropped
	}

	pipe := s.rc.rdb.TxPipeline()
	if rec.ID != "" {
		pipe.SRem(ctx, s.pausedKey(), rec.ID)
	}
	pipe.HDel(ctx, s.workersKey(), field)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("removing worker %d: %w", pid, err)
	}
	return nil
}

// SetPausedWorker flags or unflags the worker identity as paused.
func (s *Status) SetPausedWorker(ctx context.Context, id string, paused bool) error {
	var err error
	if paused {
		err = s.rc.rdb.SAdd(ctx, s.pausedKey(), id).Err()
	} else {
		err = s.rc.rdb.SRem(ctx, s.pausedKey(), id).Err()
	}
	if err != nil {
		return fmt.Errorf("setting paused=%t for %s: %w", paused, id, err)
	}
	return nil
}

// GetWorkers returns every registered worker ordered by pid.
func (s *Status) GetWorkers(ctx context.Context) ([]WorkerRecord, error) {
	entries, err := s.rc.rdb.HGetAll(ctx, s.workersKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("listing workers: %w", err)
	}

	out := make([]WorkerRecord, 0, len(entries))
	for field, raw := range entries {
		var rec WorkerRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decoding worker %s: %w", field, err)
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out, nil
}

// GetPausedWorkers returns the paused worker identities, sorted.
func (s *Status) GetPausedWorkers(ctx context.Context) ([]string, error) {
	ids, err := s.rc.rdb.SMembers(ctx, s.pausedKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("listing paused workers: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// IsPaused reports whether id is flagged as paused.
func (s *Status) IsPaused(ctx context.Context, id string) (bool, error) {
	return s.rc.rdb.SIsMember(ctx, s.pausedKey(), id).Result()
}

// ClearWorkers wipes the registry. Queues and stats are left alone.
func (s *Status) ClearWorkers(ctx context.Context) error {
	if err := s.rc.rdb.Del(ctx, s.workersKey(), s.pausedKey()).Err(); err != nil {
		return fmt.Errorf("clearing workers: %w", err)
	}
	return nil
}
