package resq

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"
)

func testQueue(t *testing.T) (*Queue, *RedisClient) {
	t.Helper()
	rc, _ := testRedisClient(t)
	q, err := NewQueue(rc)
	if err != nil {
		t.Fatalf("creating queue: %v", err)
	}
	return q, rc
}

func TestQueue_EnqueueReserveFIFO(t *testing.T) {
	q, rc := testQueue(t)
	ctx := context.Background()

	var ids []string
	for _, arg := range []string{"first", "second", "third"} {
		id, err := q.Enqueue(ctx, "mail", "SendMail", arg)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	if n, _ := q.Size(ctx, "mail"); n != 3 {
		t.Fatalf("Size = %d, want 3", n)
	}
	if ok, _ := rc.Unwrap().SIsMember(ctx, rc.Key("queues"), "mail").Result(); !ok {
		t.Error("queue was not registered in the queues set")
	}

	for i, want := range ids {
		job, err := q.Reserve(ctx, []string{"mail"}, 0)
		if err != nil {
			t.Fatal(err)
		}
		if job == nil {
			t.Fatalf("reserve %d returned nil", i)
		}
		if job.ID != want || job.Queue != "mail" || job.Class != "SendMail" {
			t.Errorf("reserve %d = %+v, want id %s", i, job, want)
		}
	}

	job, err := q.Reserve(ctx, []string{"mail"}, 0)
	if err != nil || job != nil {
		t.Errorf("empty reserve = %v, %v; want nil, nil", job, err)
	}
}

func TestQueue_ReservePriority(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, "low", "Job", "l1"); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue(ctx, "high", "Job", "h1"); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue(ctx, "high", "Job", "h2"); err != nil {
		t.Fatal(err)
	}

	want := []string{"h1", "h2", "l1"}
	for _, w := range want {
		job, err := q.Reserve(ctx, []string{"high", "low"}, 0)
		if err != nil {
			t.Fatal(err)
		}
		if job == nil || job.Arg(0) != w {
			t.Fatalf("reserved %+v, want arg %s", job, w)
		}
	}
}

func TestQueue_ReserveWildcard(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	job, err := q.Reserve(ctx, []string{AllQueues}, 0)
	if err != nil || job != nil {
		t.Fatalf("wildcard on empty store = %v, %v", job, err)
	}

	if _, err := q.Enqueue(ctx, "zeta", "Job"); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue(ctx, "alpha", "Job"); err != nil {
		t.Fatal(err)
	}

	// Known queues are taken in sorted order.
	for _, want := range []string{"alpha", "zeta"} {
		job, err := q.Reserve(ctx, []string{AllQueues}, 0)
		if err != nil {
			t.Fatal(err)
		}
		if job == nil || job.Queue != want {
			t.Fatalf("reserved %+v, want queue %s", job, want)
		}
	}
}

func TestQueue_ReserveBlocksUntilPush(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	go func() {
		time.Sleep(50 * time.Millisecond)
		q.Enqueue(ctx, "late", "Job", "x")
	}()

	job, err := q.Reserve(ctx, []string{"early", "late"}, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if job == nil || job.Queue != "late" {
		t.Fatalf("reserved %+v, want a job from late", job)
	}
}

func TestQueue_ReserveTimeout(t *testing.T) {
	q, _ := testQueue(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// No known queue: the wildcard waits on the context.
	_, err := q.Reserve(ctx, []string{AllQueues}, time.Second)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestQueue_EnqueueValidation(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		queue   string
		class   string
		args    []any
		wantErr error
	}{
		{"empty class", "mail", "", nil, ErrInvalidJobType},
		{"bad queue", "bad queue", "Job", nil, ErrInvalidQueueName},
		{"empty queue", "", "Job", nil, ErrInvalidQueueName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := q.Enqueue(ctx, tt.queue, tt.class, tt.args...)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	_, err := q.Enqueue(ctx, "mail", "Job", struct{}{})
	var se *SerializationError
	if !errors.As(err, &se) {
		t.Errorf("err = %v, want *SerializationError", err)
	}
	if n, _ := q.Size(ctx, "mail"); n != 0 {
		t.Errorf("rejected job was pushed: size %d", n)
	}
}

func TestQueue_EnqueueRefusesLossyArgs(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	for _, arg := range []any{[]byte("abc"), int64(1<<62 + 1), uint64(math.MaxUint64), math.NaN(), math.Inf(1)} {
		_, err := q.Enqueue(ctx, "mail", "Job", arg)
		var se *SerializationError
		if !errors.As(err, &se) {
			t.Errorf("Enqueue(%v) err = %v, want *SerializationError", arg, err)
		}
	}
	if n, _ := q.Size(ctx, "mail"); n != 0 {
		t.Errorf("rejected jobs were pushed: size %d", n)
	}
}

func TestQueue_ArgsRoundTripExactly(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, "mail", "Job", float64(1<<53), -2.5, "x", true, nil); err != nil {
		t.Fatal(err)
	}
	job, err := q.Reserve(ctx, []string{"mail"}, 0)
	if err != nil || job == nil {
		t.Fatalf("Reserve = %v, %v", job, err)
	}
	want := []any{float64(1 << 53), -2.5, "x", true, nil}
	if !reflect.DeepEqual(job.Args, want) {
		t.Errorf("Args = %#v, want %#v", job.Args, want)
	}
}

func TestQueue_UnshiftPutsJobAtHead(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, "mail", "Job", "second"); err != nil {
		t.Fatal(err)
	}
	first := &Job{Queue: "mail", Class: "Job", Args: []any{"first"}, ID: "j1"}
	if err := q.unshift(ctx, first); err != nil {
		t.Fatal(err)
	}
	job, err := q.Reserve(ctx, []string{"mail"}, 0)
	if err != nil || job == nil {
		t.Fatalf("Reserve = %v, %v", job, err)
	}
	if job.ID != "j1" || job.Arg(0) != "first" {
		t.Errorf("Reserve = %+v, want the unshifted job", job)
	}
}

func TestQueue_Recreate(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "mail", "SendMail", "bob")
	if err != nil {
		t.Fatal(err)
	}
	job, err := q.Reserve(ctx, []string{"mail"}, 0)
	if err != nil {
		t.Fatal(err)
	}

	newID, err := q.Recreate(ctx, job)
	if err != nil {
		t.Fatal(err)
	}
	if newID == id {
		t.Error("recreated job kept its id")
	}

	again, err := q.Reserve(ctx, []string{"mail"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if again == nil || again.ID != newID || again.Arg(0) != "bob" {
		t.Errorf("recreated job = %+v", again)
	}
}

func TestQueue_QueuesAndRemove(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	for _, name := range []string{"sms", "mail", "push"} {
		if _, err := q.Enqueue(ctx, name, "Job"); err != nil {
			t.Fatal(err)
		}
	}

	names, err := q.Queues(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 3 || names[0] != "mail" || names[2] != "sms" {
		t.Errorf("Queues = %v", names)
	}

	if err := q.RemoveQueue(ctx, "push"); err != nil {
		t.Fatal(err)
	}
	names, _ = q.Queues(ctx)
	if len(names) != 2 {
		t.Errorf("after remove Queues = %v", names)
	}
	if n, _ := q.Size(ctx, "push"); n != 0 {
		t.Errorf("removed queue still has %d jobs", n)
	}

	// A removed queue is registered again on the next push.
	if _, err := q.Enqueue(ctx, "push", "Job"); err != nil {
		t.Fatal(err)
	}
	names, _ = q.Queues(ctx)
	if len(names) != 3 {
		t.Errorf("re-enqueue did not register the queue: %v", names)
	}
}

func TestQueue_ReserveUndecodablePayload(t *testing.T) {
	q, rc := testQueue(t)
	ctx := context.Background()

	rc.Unwrap().RPush(ctx, rc.Key("queue", "mail"), "not json")
	if _, err := q.Reserve(ctx, []string{"mail"}, 0); err == nil {
		t.Error("expected a decode error")
	}
	if n, _ := q.Size(ctx, "mail"); n != 0 {
		t.Errorf("bad payload left in the queue: %d", n)
	}
}
