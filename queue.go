package resq

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue is the queue engine: producers enqueue through it and workers
// reserve from it. It is safe for concurrent use.
type Queue struct {
	rc          *RedisClient
	scripts     *scriptRegistry
	knownQueues sync.Map // tracks queues already registered via SADD
}

// NewQueue creates a queue engine on top of rc.
func NewQueue(rc *RedisClient) (*Queue, error) {
	sr, err := loadScripts()
	if err != nil {
		return nil, fmt.Errorf("loading lua scripts: %w", err)
	}
	return &Queue{rc: rc, scripts: sr}, nil
}

// Enqueue validates args, pushes a new job onto queue and returns its id.
// The queue is registered in the known-queue set on first use.
func (q *Queue) Enqueue(ctx context.Context, queue, class string, args ...any) (string, error) {
	if class == "" {
		return "", ErrInvalidJobType
	}
	if !ValidQueueName(queue) {
		return "", ErrInvalidQueueName
	}
	if err := validateArgs(args); err != nil {
		return "", err
	}

	job := &Job{Queue: queue, Class: class, Args: args, ID: NewJobID()}
	if err := q.push(ctx, job); err != nil {
		return "", err
	}
	return job.ID, nil
}

// Recreate enqueues a copy of job with a fresh id on the same queue.
func (q *Queue) Recreate(ctx context.Context, job *Job) (string, error) {
	return q.Enqueue(ctx, job.Queue, job.Class, job.Args...)
}

func (q *Queue) push(ctx context.Context, job *Job) error {
	data, err := job.Encode()
	if err != nil {
		return err
	}

	pipe := q.rc.rdb.Pipeline()
	if _, loaded := q.knownQueues.LoadOrStore(job.Queue, struct{}{}); !loaded {
		pipe.SAdd(ctx, q.rc.Key("queues"), job.Queue)
	}
	pipe.RPush(ctx, q.rc.Key("queue", job.Queue), data)
	if _, err := pipe.Exec(ctx); err != nil {
		q.knownQueues.Delete(job.Queue)
		return fmt.Errorf("enqueuing job %s: %w", job.ID, err)
	}
	return nil
}

// unshift returns a reserved job to the head of its queue so it is the next
// one reserved.
func (q *Queue) unshift(ctx context.Context, job *Job) error {
	data, err := job.Encode()
	if err != nil {
		return err
	}
	if err := q.rc.rdb.LPush(ctx, q.rc.Key("queue", job.Queue), data).Err(); err != nil {
		return fmt.Errorf("returning job %s to %s: %w", job.ID, job.Queue, err)
	}
	return nil
}

// Reserve pops the next job from queues, honouring their order as strict
// priority. When every queue is empty and timeout is positive it blocks up
// to timeout waiting for a push. A nil job with a nil error means nothing
// arrived.
//
// A job returned by Reserve has already been removed from the store.
func (q *Queue) Reserve(ctx context.Context, queues []string, timeout time.Duration) (*Job, error) {
	names, err := q.resolve(ctx, queues)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		if timeout > 0 {
			// Nothing to watch yet: behave like an empty blocking pop.
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(timeout):
			}
		}
		return nil, nil
	}

	keys := make([]string, len(names))
	argv := make([]any, len(names))
	for i, n := range names {
		keys[i] = q.rc.Key("queue", n)
		argv[i] = n
	}

	res, err := q.scripts.run(ctx, q.rc.rdb, "reserve", keys, argv...).StringSlice()
	switch {
	case err == nil && len(res) == 2:
		return DecodeJob(res[0], []byte(res[1]))
	case err != nil && !errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("reserving from %v: %w", names, err)
	}

	if timeout <= 0 {
		return nil, nil
	}

	popped, err := q.rc.rdb.BLPop(ctx, timeout, keys...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("blocking reserve from %v: %w", names, err)
	}
	// BLPOP replies with the full key; map it back to the queue name.
	for i, k := range keys {
		if k == popped[0] {
			return DecodeJob(names[i], []byte(popped[1]))
		}
	}
	return nil, fmt.Errorf("blocking reserve: unexpected key %q", popped[0])
}

// resolve expands the AllQueues wildcard into every known queue.
func (q *Queue) resolve(ctx context.Context, queues []string) ([]string, error) {
	for _, name := range queues {
		if name == AllQueues {
			return q.Queues(ctx)
		}
	}
	return queues, nil
}

// Size returns the number of pending jobs in queue.
func (q *Queue) Size(ctx context.Context, queue string) (int64, error) {
	n, err := q.rc.rdb.LLen(ctx, q.rc.Key("queue", queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("sizing queue %s: %w", queue, err)
	}
	return n, nil
}

// Queues returns every known queue name, sorted.
func (q *Queue) Queues(ctx context.Context) ([]string, error) {
	names, err := q.rc.rdb.SMembers(ctx, q.rc.Key("queues")).Result()
	if err != nil {
		return nil, fmt.Errorf("listing queues: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// RemoveQueue drops a queue and its pending jobs.
func (q *Queue) RemoveQueue(ctx context.Context, queue string) error {
	pipe := q.rc.rdb.TxPipeline()
	pipe.SRem(ctx, q.rc.Key("queues"), queue)
	pipe.Del(ctx, q.rc.Key("queue", queue))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("removing queue %s: %w", queue, err)
	}
	q.knownQueues.Delete(queue)
	return nil
}
