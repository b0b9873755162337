package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vdoc/internal/metrics"
	"github.com/roach88/vdoc/internal/oplog"
	"github.com/roach88/vdoc/internal/row"
	vtestutil "github.com/roach88/vdoc/internal/testutil"
)

// fakeWriter records bulk writes and fails the first failures calls.
type fakeWriter struct {
	mu       sync.Mutex
	failures int
	calls    int
	batches  [][]row.VersionedRow
}

func (w *fakeWriter) Write(_ context.Context, table string, rows []row.VersionedRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.failures > 0 {
		w.failures--
		return errors.New("remote unavailable")
	}
	w.batches = append(w.batches, append([]row.VersionedRow(nil), rows...))
	return nil
}

func (w *fakeWriter) written() [][]row.VersionedRow {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.batches
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func openLog(t *testing.T) (*oplog.Log, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	l, err := oplog.New(context.Background(), db, nil)
	require.NoError(t, err)
	return l, db
}

func logMutation(t *testing.T, l *oplog.Log, db *sql.DB, op oplog.Op, docID string, ts int64, data string) {
	t.Helper()
	var payload json.RawMessage
	if op != oplog.OpDelete {
		snap, err := oplog.SnapshotOf(row.VersionedRow{
			Namespace: "app", Type: "post", ID: docID, V: ts,
			Title: docID, Data: json.RawMessage(data), CreatedAt: 1, UpdatedAt: ts, UpdatedBy: "ann",
		})
		require.NoError(t, err)
		payload = snap
	}
	_, err := l.Append(context.Background(), db, oplog.Entry{
		Op: op, Collection: "post", DocID: docID, Data: payload, Timestamp: ts,
	})
	require.NoError(t, err)
}

func testConfig() Config {
	return Config{
		Table:        "documents",
		Namespace:    "app",
		BatchSize:    500,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     40 * time.Millisecond,
		MaxAttempts:  4,
	}
}

func newEngine(t *testing.T, cfg Config, l Log, w Writer, opts ...Option) *Engine {
	t.Helper()
	e, err := New(cfg, l, w, opts...)
	require.NoError(t, err)
	return e
}

func TestDedupe_KeepsHighestSeqPerDocument(t *testing.T) {
	entries := []oplog.Entry{
		{Seq: 1, Collection: "post", DocID: "a"},
		{Seq: 2, Collection: "post", DocID: "b"},
		{Seq: 3, Collection: "post", DocID: "a"},
		{Seq: 4, Collection: "page", DocID: "a"},
		{Seq: 5, Collection: "post", DocID: "b"},
	}
	got := Dedupe(entries)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{3, 4, 5}, []int64{got[0].Seq, got[1].Seq, got[2].Seq})
}

func TestDedupe_VersionRecordsStayDistinct(t *testing.T) {
	entries := []oplog.Entry{
		{Seq: 1, Collection: "post_versions", DocID: VersionDocID("p1", 100)},
		{Seq: 2, Collection: "post_versions", DocID: VersionDocID("p1", 200)},
	}
	assert.Len(t, Dedupe(entries), 2)
}

func TestTransform(t *testing.T) {
	cfg := testConfig()

	snap, err := oplog.SnapshotOf(row.VersionedRow{
		Title: "Hi", Data: json.RawMessage(`{"a":1}`), CreatedAt: 50, CreatedBy: "bob", UpdatedBy: "ann",
	})
	require.NoError(t, err)

	r, err := Transform(cfg, oplog.Entry{Seq: 1, Op: oplog.OpUpdate, Collection: "post", DocID: "p1", Data: snap, Timestamp: 900})
	require.NoError(t, err)
	assert.Equal(t, row.Key{Namespace: "app", Type: "post", ID: "p1"}, r.Key())
	assert.Equal(t, int64(900), r.V)
	assert.Equal(t, "Hi", r.Title)
	assert.Equal(t, int64(50), r.CreatedAt)
	assert.Equal(t, "bob", r.CreatedBy)
	assert.Equal(t, "ann", r.UpdatedBy)
	assert.False(t, r.IsDeleted())

	r, err = Transform(cfg, oplog.Entry{Seq: 2, Op: oplog.OpDelete, Collection: "post", DocID: "p1", Timestamp: 950})
	require.NoError(t, err)
	require.True(t, r.IsDeleted())
	assert.Equal(t, int64(950), *r.DeletedAt)
	assert.Equal(t, int64(950), r.V)
	assert.JSONEq(t, `{}`, string(r.Data))

	r, err = Transform(cfg, oplog.Entry{Seq: 3, Op: oplog.OpInsert, Collection: "post_versions", DocID: VersionDocID("p1", 700), Data: snap, Timestamp: 700})
	require.NoError(t, err)
	assert.Equal(t, "p1", r.ID)
	assert.Equal(t, int64(700), r.V)

	_, err = Transform(cfg, oplog.Entry{Seq: 4, Op: oplog.OpInsert, Collection: "post", DocID: "x", Data: json.RawMessage(`{`), Timestamp: 1})
	assert.Error(t, err)
}

func TestTransform_KeepsSnapshotUpdatedAt(t *testing.T) {
	// An edited version record keeps its v but records a later updatedAt.
	snap, err := oplog.SnapshotOf(row.VersionedRow{
		Data: json.RawMessage(`{"a":2}`), CreatedAt: 700, UpdatedAt: 1_250, UpdatedBy: "ann",
	})
	require.NoError(t, err)

	r, err := Transform(testConfig(), oplog.Entry{
		Seq: 1, Op: oplog.OpUpdate, Collection: "post_versions",
		DocID: VersionDocID("p1", 700), Data: snap, Timestamp: 700,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(700), r.V)
	assert.Equal(t, int64(700), r.CreatedAt)
	assert.Equal(t, int64(1_250), r.UpdatedAt)
}

func TestCycle_UntransformableEntriesAreCountedAndMarked(t *testing.T) {
	l, db := openLog(t)
	_, err := l.Append(context.Background(), db, oplog.Entry{
		Op: oplog.OpInsert, Collection: "post", DocID: "bad", Data: json.RawMessage(`{`), Timestamp: 10,
	})
	require.NoError(t, err)
	logMutation(t, l, db, oplog.OpInsert, "good", 20, `{"ok":true}`)

	m := metrics.New(nil)
	w := &fakeWriter{}
	e := newEngine(t, testConfig(), l, w, WithMetrics(m))

	res := e.Cycle(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, 1, res.Rows)
	assert.Equal(t, int64(2), res.Synced)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EntriesDropped))

	batches := w.written()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	assert.Equal(t, "good", batches[0][0].ID)
}

func TestBackoff_MonotonicAndCapped(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	want := []time.Duration{100, 200, 400, 800, 1000, 1000}
	prev := time.Duration(0)
	for i, w := range want {
		got := cfg.Backoff(i)
		assert.Equal(t, w*time.Millisecond, got, "attempt %d", i)
		assert.GreaterOrEqual(t, got, prev)
		prev = got
	}
	assert.Equal(t, time.Second, cfg.Backoff(200))
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, testConfig().Validate())

	cfg := testConfig()
	cfg.Table = "bad table"
	assert.True(t, row.IsValidation(cfg.Validate()))

	cfg = testConfig()
	cfg.PurgeProbability = 1.5
	assert.True(t, row.IsValidation(cfg.Validate()))

	_, err := New(Config{Namespace: "app"}, nil, nil)
	assert.True(t, row.IsValidation(err))
}

func TestCycle_CollapsesBurstToOneRowPerDocument(t *testing.T) {
	l, db := openLog(t)
	for i := 0; i < 250; i++ {
		logMutation(t, l, db, oplog.OpUpdate, fmt.Sprintf("doc-%d", i%10), int64(1000+i), fmt.Sprintf(`{"n":%d}`, i))
	}

	w := &fakeWriter{}
	e := newEngine(t, testConfig(), l, w)

	res := e.Cycle(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, 250, res.Read)
	assert.Equal(t, int64(250), res.Synced)
	assert.Zero(t, res.Backlog)

	batches := w.written()
	require.Len(t, batches, 1)
	require.LessOrEqual(t, len(batches[0]), 10)

	for _, r := range batches[0] {
		var n int
		_, err := fmt.Sscanf(r.ID, "doc-%d", &n)
		require.NoError(t, err)
		// Latest state: the last of the 250 mutations for this document.
		assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, 240+n), string(r.Data))
	}
}

func TestCycle_RetriesWithBackoffThenSucceeds(t *testing.T) {
	l, db := openLog(t)
	logMutation(t, l, db, oplog.OpInsert, "a", 100, `{}`)

	w := &fakeWriter{failures: 2}
	rec := &sleepRecorder{}
	m := metrics.New(nil)
	e := newEngine(t, testConfig(), l, w, WithSleep(rec.sleep), WithMetrics(m))

	res := e.Cycle(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, 3, w.calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, rec.delays)
	assert.Equal(t, int64(1), res.Synced)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.WriteAttempts))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.WriteFailures))
}

func TestCycle_ExhaustedAttemptsLeaveEntriesPending(t *testing.T) {
	l, db := openLog(t)
	logMutation(t, l, db, oplog.OpInsert, "a", 100, `{}`)

	w := &fakeWriter{failures: 100}
	rec := &sleepRecorder{}
	e := newEngine(t, testConfig(), l, w, WithSleep(rec.sleep))

	res := e.Cycle(context.Background())
	var se *SyncError
	require.ErrorAs(t, res.Err, &se)
	assert.Equal(t, 4, se.Attempts)
	assert.Equal(t, 4, w.calls)
	assert.Zero(t, res.Synced)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}, rec.delays)

	n, err := l.PendingCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCycle_CancelledDuringBackoff(t *testing.T) {
	l, db := openLog(t)
	logMutation(t, l, db, oplog.OpInsert, "a", 100, `{}`)

	ctx, cancel := context.WithCancel(context.Background())
	w := &fakeWriter{failures: 100}
	e := newEngine(t, testConfig(), l, w, WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	res := e.Cycle(ctx)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, 1, w.calls)

	n, err := l.PendingCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestForceSync_DrainsBacklogAcrossBatches(t *testing.T) {
	l, db := openLog(t)
	for i := 0; i < 25; i++ {
		logMutation(t, l, db, oplog.OpInsert, fmt.Sprintf("d%d", i), int64(100+i), `{}`)
	}

	cfg := testConfig()
	cfg.BatchSize = 10
	w := &fakeWriter{}
	e := newEngine(t, cfg, l, w)

	res, err := e.ForceSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Cycles) // 10 + 10 + 5 + empty
	assert.Equal(t, int64(25), res.Synced)
	assert.Equal(t, 25, res.Rows)
	assert.Len(t, w.written(), 3)
}

func TestForceSync_ReturnsSyncError(t *testing.T) {
	l, db := openLog(t)
	logMutation(t, l, db, oplog.OpInsert, "a", 100, `{}`)

	e := newEngine(t, testConfig(), l, &fakeWriter{failures: 100}, WithSleep((&sleepRecorder{}).sleep))
	_, err := e.ForceSync(context.Background())
	var se *SyncError
	assert.ErrorAs(t, err, &se)
}

func TestCycle_PurgesWhenSampled(t *testing.T) {
	l, db := openLog(t)
	clock := vtestutil.NewManualClockMillis(0)
	logMutation(t, l, db, oplog.OpInsert, "a", 1_000, `{}`)

	cfg := testConfig()
	cfg.RetentionDays = 1
	cfg.PurgeProbability = 0.5
	clock.Set(time.UnixMilli(1_000).Add(48 * time.Hour))

	e := newEngine(t, cfg, l, &fakeWriter{}, WithClock(clock), WithRandom(func() float64 { return 0.1 }))
	res := e.Cycle(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, int64(1), res.Purged)

	st, err := l.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.Synced)
}

func TestCycle_SkipsPurgeWhenNotSampled(t *testing.T) {
	l, db := openLog(t)
	logMutation(t, l, db, oplog.OpInsert, "a", 1, `{}`)

	cfg := testConfig()
	cfg.PurgeProbability = 0.5
	e := newEngine(t, cfg, l, &fakeWriter{}, WithRandom(func() float64 { return 0.9 }))
	res := e.Cycle(context.Background())
	require.NoError(t, res.Err)
	assert.Zero(t, res.Purged)
}

func TestNotify_CoalescesIntoOneCycle(t *testing.T) {
	l, db := openLog(t)
	cfg := testConfig()
	cfg.BatchWindow = 20 * time.Millisecond
	w := &fakeWriter{}
	e := newEngine(t, cfg, l, w)

	assert.False(t, e.Notify(), "notify before start is a no-op")

	e.Start(context.Background())
	defer e.Stop()

	for i := 0; i < 50; i++ {
		logMutation(t, l, db, oplog.OpUpdate, fmt.Sprintf("d%d", i%5), int64(100+i), `{}`)
	}
	armed := 0
	for i := 0; i < 50; i++ {
		if e.Notify() {
			armed++
		}
	}
	assert.Equal(t, 1, armed)

	require.Eventually(t, func() bool { return len(w.written()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, w.written()[0], 5)
}

func TestOnAlarm_FailureRearmsWithRetryDelay(t *testing.T) {
	l, db := openLog(t)
	logMutation(t, l, db, oplog.OpInsert, "a", 100, `{}`)

	cfg := testConfig()
	cfg.MaxAttempts = 1
	cfg.FailureRetryDelay = 30 * time.Millisecond
	w := &fakeWriter{failures: 1}
	e := newEngine(t, cfg, l, w)
	e.Start(context.Background())
	defer e.Stop()

	e.OnAlarm(context.Background())
	assert.True(t, e.Armed(), "failed cycle must re-arm")

	require.Eventually(t, func() bool { return len(w.written()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestOnAlarm_BacklogRearmsImmediately(t *testing.T) {
	l, db := openLog(t)
	for i := 0; i < 3; i++ {
		logMutation(t, l, db, oplog.OpInsert, fmt.Sprintf("d%d", i), int64(100+i), `{}`)
	}
	cfg := testConfig()
	cfg.BatchSize = 1
	w := &fakeWriter{}
	e := newEngine(t, cfg, l, w)
	e.Start(context.Background())
	defer e.Stop()

	e.OnAlarm(context.Background())
	require.Eventually(t, func() bool { return len(w.written()) == 3 }, 2*time.Second, 5*time.Millisecond)
}
