package resq

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Counter names maintained by workers.
const (
	StatProcessed = "processed"
	StatFailed    = "failed"
)

// Stats maintains named integer counters under stat:<name>.
type Stats struct {
	rc *RedisClient
}

// NewStats creates a counter backend on top of rc.
func NewStats(rc *RedisClient) *Stats {
	return &Stats{rc: rc}
}

// WorkerStat returns the per-worker variant of a counter name.
func WorkerStat(name, workerID string) string {
	return name + ":" + workerID
}

// Get returns the counter value, or 0 when it was never set.
func (s *Stats) Get(ctx context.Context, name string) (int64, error) {
	v, err := s.rc.rdb.Get(ctx, s.rc.Key("stat", name)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading stat %s: %w", name, err)
	}
	return v, nil
}

// Incr adds by to the counter.
func (s *Stats) Incr(ctx context.Context, name string, by int64) error {
	if err := s.rc.rdb.IncrBy(ctx, s.rc.Key("stat", name), by).Err(); err != nil {
		return fmt.Errorf("incrementing stat %s: %w", name, err)
	}
	return nil
}

// Decr subtracts by from the counter.
func (s *Stats) Decr(ctx context.Context, name string, by int64) error {
	if err := s.rc.rdb.DecrBy(ctx, s.rc.Key("stat", name), by).Err(); err != nil {
		return fmt.Errorf("decrementing stat %s: %w", name, err)
	}
	return nil
}

// Clear deletes the counter. This is the only way a counter goes down
// outside of an explicit Decr.
func (s *Stats) Clear(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = s.rc.Key("stat", n)
	}
	if err := s.rc.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("clearing stats %v: %w", names, err)
	}
	return nil
}

// record bumps a global counter and its per-worker variant in one round trip.
func (s *Stats) record(ctx context.Context, name, workerID string) error {
	pipe := s.rc.rdb.Pipeline()
	pipe.Incr(ctx, s.rc.Key("stat", name))
	pipe.Incr(ctx, s.rc.Key("stat", WorkerStat(name, workerID)))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording %s for %s: %w", name, workerID, err)
	}
	return nil
}
