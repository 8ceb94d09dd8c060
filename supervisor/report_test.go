package supervisor

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benedict-erwin/resq"
)

func TestSnapshot(t *testing.T) {
	f := newFixture(t, testConfig(t))
	f.seed(t, 1)
	ctx := context.Background()

	q, err := resq.NewQueue(f.rc)
	require.NoError(t, err)
	for _, name := range []string{"mail", "orphan", "idle"} {
		_, err := q.Enqueue(ctx, name, "Echo")
		require.NoError(t, err)
	}
	_, err = q.Reserve(ctx, []string{"idle"}, 0)
	require.NoError(t, err)

	stats := resq.NewStats(f.rc)
	require.NoError(t, stats.Incr(ctx, resq.StatProcessed, 5))
	require.NoError(t, stats.Incr(ctx, resq.StatFailed, 1))
	require.NoError(t, stats.Incr(ctx, resq.WorkerStat(resq.StatProcessed, "box:4001:mail"), 2))
	require.NoError(t, resq.NewStatus(f.rc).SetPausedWorker(ctx, "box:4001:mail", true))

	rep, err := f.sup.Snapshot(ctx)
	require.NoError(t, err)

	assert.EqualValues(t, 5, rep.Processed)
	assert.EqualValues(t, 1, rep.Failed)
	assert.Equal(t, []QueueReport{
		{Name: "mail", Pending: 1, Monitored: true},
		{Name: "orphan", Pending: 1, Monitored: false},
	}, rep.Queues)

	require.Len(t, rep.Workers, 1)
	w := rep.Workers[0]
	assert.Equal(t, "box:4001:mail", w.ID)
	assert.True(t, w.Paused)
	assert.EqualValues(t, 2, w.Processed)
	assert.Zero(t, w.Failed)
	assert.True(t, w.StartedAt.Equal(f.launcher.startedAt))
}

func TestSnapshot_WildcardWorkerMonitorsEverything(t *testing.T) {
	f := newFixture(t, testConfig(t))
	ctx := context.Background()
	require.NoError(t, resq.NewDirectory(f.rc).Register(ctx, "box:9:*", time.Now()))

	q, err := resq.NewQueue(f.rc)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "idle", "Echo")
	require.NoError(t, err)
	_, err = q.Reserve(ctx, []string{"idle"}, 0)
	require.NoError(t, err)

	rep, err := f.sup.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []QueueReport{{Name: "idle", Pending: 0, Monitored: true}}, rep.Queues)
}

func TestPrintStats(t *testing.T) {
	f := newFixture(t, testConfig(t))
	f.seed(t, 1)
	ctx := context.Background()

	q, err := resq.NewQueue(f.rc)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "orphan", "Echo")
	require.NoError(t, err)
	require.NoError(t, resq.NewStatus(f.rc).SetPausedWorker(ctx, "box:4001:mail", true))

	require.NoError(t, f.sup.PrintStats(ctx))
	out := f.out.String()
	for _, want := range []string{
		"Resque statistics",
		"Queues count : 1",
		"(unmonitored queue)",
		"Active Workers : 1",
		"Worker : box:4001:mail",
		"(Paused)",
		"Uptime         : 1 hour and 30 minutes",
	} {
		assert.Contains(t, out, want)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "-"},
		{30 * time.Second, "less than a minute"},
		{time.Minute, "1 minute"},
		{2*time.Hour + 5*time.Minute, "2 hours and 5 minutes"},
		{27*time.Hour + 20*time.Minute, "1 day and 3 hours"},
		{3 * 24 * time.Hour, "3 days"},
		{-5 * time.Minute, "5 minutes"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatDuration(tt.d))
		})
	}
}

func TestLogFiles(t *testing.T) {
	cfg := testConfig(t)
	cfg.Log.Filename = "/var/log/resq/a.log"
	cfg.Log.Target = "/var/log/resq/a.json"
	f := newFixture(t, cfg)
	f.seed(t, 2)

	other := cfg.Clone()
	other.Log.Filename = "/var/log/resq/0.log"
	other.Log.Target = ""
	f.sup.Start(context.Background(), 1, other)

	logs, err := f.sup.LogFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"/var/log/resq/0.log", "/var/log/resq/a.json", "/var/log/resq/a.log"}, logs)
}

func TestFollow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.log")
	require.NoError(t, os.WriteFile(path, []byte("one\n"), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var buf bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- Follow(ctx, path, &buf, 10*time.Millisecond) }()

	time.Sleep(50 * time.Millisecond)
	fh, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = fh.WriteString("two\n")
	require.NoError(t, err)
	fh.Close()

	require.NoError(t, <-done)
	assert.Equal(t, "one\ntwo\n", buf.String())
}

func TestFollow_MissingFile(t *testing.T) {
	err := Follow(context.Background(), filepath.Join(t.TempDir(), "nope"), &bytes.Buffer{}, time.Millisecond)
	assert.Error(t, err)
}

func TestTail(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t)
	cfg.Log.Filename = filepath.Join(dir, "a.log")
	f := newFixture(t, cfg)
	f.seed(t, 1)

	other := cfg.Clone()
	other.Log.Filename = filepath.Join(dir, "b.log")
	f.sup.Start(context.Background(), 1, other)

	require.NoError(t, os.WriteFile(cfg.Log.Filename, []byte("from a\n"), 0o644))
	require.NoError(t, os.WriteFile(other.Log.Filename, []byte("from b\n"), 0o644))
	f.chooser.index = 1

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	var buf bytes.Buffer
	require.NoError(t, f.sup.Tail(ctx, &buf))

	assert.Equal(t, "from b\n", buf.String())
	require.Len(t, f.chooser.menus, 1)
	assert.Equal(t, []string{cfg.Log.Filename, other.Log.Filename}, f.chooser.menus[0].Items)
}

func TestTail_SelectionOutOfRange(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t)
	cfg.Log.Filename = filepath.Join(dir, "a.log")
	f := newFixture(t, cfg)
	f.seed(t, 1)
	other := cfg.Clone()
	other.Log.Filename = filepath.Join(dir, "b.log")
	f.sup.Start(context.Background(), 1, other)

	for _, idx := range []int{5, -1} {
		f.chooser.index = idx
		err := f.sup.Tail(context.Background(), &bytes.Buffer{})
		assert.ErrorContains(t, err, "out of range")
	}
}

func TestTail_NoLogs(t *testing.T) {
	f := newFixture(t, testConfig(t))
	require.NoError(t, f.sup.Tail(context.Background(), &bytes.Buffer{}))
	assert.Contains(t, f.out.String(), "No log file to tail")
}
