package txn

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vdoc/internal/row"
	"github.com/roach88/vdoc/internal/testutil"
)

type recordingTarget struct {
	applied []Staged
	err     error
}

func (r *recordingTarget) ApplyStaged(_ context.Context, rows []Staged) error {
	if r.err != nil {
		return r.err
	}
	r.applied = append(r.applied, rows...)
	return nil
}

func newStager(t *testing.T, clock *testutil.ManualClock) (*Stager, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "stage.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := New(context.Background(), db,
		WithClock(clock),
		WithTimeout(time.Minute),
		WithIDGenerator(testutil.NewSequenceIDs("tx").Generate),
	)
	require.NoError(t, err)
	return s, db
}

func stagedRow(id string) Staged {
	return Staged{
		Table: "documents",
		Op:    OpInsert,
		Row: row.VersionedRow{
			Namespace: "app", Type: "post", ID: id, V: 1000,
			Data: json.RawMessage(`{"id":"` + id + `"}`), CreatedAt: 1000, UpdatedAt: 1000,
		},
	}
}

func countStaged(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM tx_stage WHERE kind = 'row'`).Scan(&n))
	return n
}

func TestBegin_UsesGeneratorAndIsPending(t *testing.T) {
	s, _ := newStager(t, testutil.NewManualClockMillis(0))
	ctx := context.Background()

	id, err := s.Begin(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tx-1", id)

	st, err := s.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, st)
}

func TestStatus_UnknownIsNotFound(t *testing.T) {
	s, _ := newStager(t, testutil.NewManualClockMillis(0))
	_, err := s.Status(context.Background(), "nope")
	assert.True(t, row.IsNotFound(err))
}

func TestStage_ImplicitCreation(t *testing.T) {
	s, _ := newStager(t, testutil.NewManualClockMillis(0))
	ctx := context.Background()

	require.NoError(t, s.Stage(ctx, "fresh", stagedRow("a")))
	st, err := s.Status(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, st)
}

func TestCommit_CopiesPendingRowsInOrder(t *testing.T) {
	s, _ := newStager(t, testutil.NewManualClockMillis(0))
	ctx := context.Background()

	id, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Stage(ctx, id, stagedRow("a")))
	require.NoError(t, s.Stage(ctx, id, stagedRow("b")))

	target := &recordingTarget{}
	res, err := s.Commit(ctx, id, target)
	require.NoError(t, err)
	assert.Equal(t, CommitResult{Applied: 2}, res)
	require.Len(t, target.applied, 2)
	assert.Equal(t, "a", target.applied[0].Row.ID)
	assert.Equal(t, "b", target.applied[1].Row.ID)
	assert.JSONEq(t, `{"id":"a"}`, string(target.applied[0].Row.Data))

	st, err := s.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCommitted, st)
}

func TestCommit_TwiceIsNoOp(t *testing.T) {
	s, _ := newStager(t, testutil.NewManualClockMillis(0))
	ctx := context.Background()

	require.NoError(t, s.Stage(ctx, "t", stagedRow("a")))
	target := &recordingTarget{}
	_, err := s.Commit(ctx, "t", target)
	require.NoError(t, err)

	res, err := s.Commit(ctx, "t", target)
	require.NoError(t, err)
	assert.True(t, res.NoOp)
	assert.Len(t, target.applied, 1)
}

func TestCommit_FailedApplyLeavesPending(t *testing.T) {
	s, _ := newStager(t, testutil.NewManualClockMillis(0))
	ctx := context.Background()

	require.NoError(t, s.Stage(ctx, "t", stagedRow("a")))
	_, err := s.Commit(ctx, "t", &recordingTarget{err: errors.New("remote down")})
	require.Error(t, err)

	st, err := s.Status(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, st)

	// Retry succeeds and copies again.
	target := &recordingTarget{}
	res, err := s.Commit(ctx, "t", target)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
}

func TestTerminalStates(t *testing.T) {
	s, _ := newStager(t, testutil.NewManualClockMillis(0))
	ctx := context.Background()

	require.NoError(t, s.Stage(ctx, "c", stagedRow("a")))
	_, err := s.Commit(ctx, "c", &recordingTarget{})
	require.NoError(t, err)

	require.NoError(t, s.Stage(ctx, "r", stagedRow("b")))
	require.NoError(t, s.Rollback(ctx, "r"))

	assert.True(t, row.IsTxState(s.Stage(ctx, "c", stagedRow("x"))))
	assert.True(t, row.IsTxState(s.Stage(ctx, "r", stagedRow("x"))))
	assert.True(t, row.IsTxState(s.Rollback(ctx, "c")))
	assert.NoError(t, s.Rollback(ctx, "r"))

	_, err = s.Commit(ctx, "r", &recordingTarget{})
	assert.True(t, row.IsTxState(err))
}

func TestRollback_LeavesStagedRowsUntilCleanup(t *testing.T) {
	clock := testutil.NewManualClockMillis(10_000)
	s, db := newStager(t, clock)
	ctx := context.Background()

	require.NoError(t, s.Stage(ctx, "t", stagedRow("e")))
	require.NoError(t, s.Rollback(ctx, "t"))
	assert.Equal(t, 1, countStaged(t, db))

	clock.Advance(time.Minute + time.Millisecond)
	res, err := s.CleanupExpired(ctx, 0)
	require.NoError(t, err)
	assert.True(t, res.Cleaned)
	assert.Equal(t, 0, countStaged(t, db))

	st, err := s.Status(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, st)
}

func TestCleanupExpired_Boundary(t *testing.T) {
	clock := testutil.NewManualClockMillis(0)
	s, db := newStager(t, clock)
	ctx := context.Background()

	// tx_timeout = 60_000
	require.NoError(t, s.Stage(ctx, "t", stagedRow("a")))
	grace := 5 * time.Second

	// now - grace == timeout: not yet eligible.
	clock.Set(time.UnixMilli(65_000))
	res, err := s.CleanupExpired(ctx, grace)
	require.NoError(t, err)
	assert.Zero(t, res.Removed)
	assert.Equal(t, 1, countStaged(t, db))

	clock.Set(time.UnixMilli(65_001))
	res, err = s.CleanupExpired(ctx, grace)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Removed)
	assert.Equal(t, 0, countStaged(t, db))
}

func TestStage_Validates(t *testing.T) {
	s, _ := newStager(t, testutil.NewManualClockMillis(0))
	ctx := context.Background()

	bad := stagedRow("a")
	bad.Table = "x y"
	assert.True(t, row.IsValidation(s.Stage(ctx, "t", bad)))

	bad = stagedRow("a")
	bad.Op = "merge"
	assert.True(t, row.IsValidation(s.Stage(ctx, "t", bad)))

	assert.True(t, row.IsValidation(s.Stage(ctx, "", stagedRow("a"))))
}
