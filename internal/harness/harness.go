package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/vdoc/internal/config"
	"github.com/roach88/vdoc/internal/docstore"
	"github.com/roach88/vdoc/internal/engine"
	"github.com/roach88/vdoc/internal/row"
	"github.com/roach88/vdoc/internal/store"
	"github.com/roach88/vdoc/internal/testutil"
)

// Epoch is the manual clock reading every scenario starts at.
const Epoch = 1_700_000_000_000

// Harness is the scenario execution engine.
type Harness struct {
	client *docstore.Client
	remote *store.Store
	cfg    *config.Config
	clock  *testutil.ManualClock
	txs    map[string]*docstore.Tx
	result *Result
	step   int
}

// recordingWriter forwards bulk writes to the remote store and traces them.
type recordingWriter struct {
	h *Harness
}

func (w recordingWriter) Write(ctx context.Context, table string, rows []row.VersionedRow) error {
	if err := w.h.remote.Write(ctx, table, rows); err != nil {
		return err
	}
	if w.h.step > 0 {
		w.h.result.record(TraceEvent{Step: w.h.step, Kind: KindWrite, Rows: len(rows)})
	}
	return nil
}

// Run executes a scenario against fresh local and remote SQLite files.
//
// Execution flow:
// 1. Create a temp dir holding both databases
// 2. Connect a client with a manual clock and sequential ids
// 3. Execute flow steps, checking step expectations
// 4. Evaluate assertions against both stores
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "vdoc-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)

	cfg := config.Default()
	cfg.Local.Path = filepath.Join(dir, "local.db")
	cfg.Remote.DSN = filepath.Join(dir, "remote.db")
	cfg.Document.Namespace = "harness"
	noPurge := 0.0
	cfg.Sync.PurgeProbability = &noPurge
	if scenario.TxTimeout > 0 {
		cfg.Transactions.Timeout = scenario.TxTimeout
	}

	remote, err := store.Open(cfg.Remote.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote store: %w", err)
	}
	defer remote.Close()

	h := &Harness{
		remote: remote,
		cfg:    cfg,
		clock:  testutil.NewManualClockMillis(Epoch),
		txs:    make(map[string]*docstore.Tx),
		result: NewResult(),
	}

	client, err := docstore.Connect(ctx, cfg,
		docstore.WithClock(h.clock),
		docstore.WithIDGenerator(testutil.NewSequenceIDs("id")),
		docstore.WithRemoteWriter(recordingWriter{h: h}),
		docstore.WithoutAlarm(),
		docstore.WithEngineOptions(engine.WithSleep(func(context.Context, time.Duration) error { return nil })),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	h.client = client
	defer client.Close()

	for i, step := range scenario.Flow {
		h.step = i + 1
		if err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("flow step %d (%s): %w", h.step, step.Do, err)
		}
	}

	// writes made by the final sync in Close are not part of the flow
	h.step = 0

	for _, msg := range h.evaluate(ctx, scenario.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

// execute runs one step. Errors from the store are compared against the
// step's expectation; only harness failures are returned.
func (h *Harness) execute(ctx context.Context, step Step) error {
	ev := TraceEvent{Step: h.step, Kind: step.Do, Type: step.Type, ID: step.ID, Tx: step.Tx}
	var (
		opErr   error
		rows    *int
		synced  *int64
		removed *int64
	)

	switch step.Do {
	case StepCreate, StepUpdate, StepDelete:
		data, err := json.Marshal(step.Data)
		if err != nil {
			return fmt.Errorf("encode data: %w", err)
		}
		ev.V, opErr = h.mutate(ctx, step, data)

	case StepBegin:
		tx, err := h.client.BeginTransaction(ctx)
		opErr = err
		if err == nil {
			h.txs[step.Tx] = tx
		}

	case StepCommit:
		tx, err := h.tx(step.Tx)
		if err != nil {
			return err
		}
		res, err := tx.Commit(ctx)
		opErr = err
		ev.Rows = res.Applied
		rows = &ev.Rows

	case StepRollback:
		tx, err := h.tx(step.Tx)
		if err != nil {
			return err
		}
		opErr = tx.Rollback(ctx)

	case StepBurst:
		for i := 0; i < step.Count && opErr == nil; i++ {
			id := fmt.Sprintf("%s-%d", step.Type, i%step.Docs)
			_, opErr = h.client.Update(ctx, step.Type, id, docstore.UpdateInput{
				Patch:  json.RawMessage(`{"n":{"$inc":1}}`),
				Upsert: true,
			})
		}
		ev.Rows = step.Count

	case StepAdvance:
		h.clock.Advance(step.Duration)

	case StepCleanup:
		h.cfg.Transactions.CleanupGrace = step.Grace
		res, err := h.client.CleanupExpired(ctx)
		opErr = err
		removed = &res.Removed

	case StepDrain:
		res := h.client.Engine().Cycle(ctx)
		opErr = res.Err
		ev.Rows, ev.Synced = res.Rows, res.Synced
		rows, synced = &ev.Rows, &ev.Synced

	case StepSync:
		res, err := h.client.ForceSync(ctx)
		opErr = err
		ev.Rows, ev.Synced = res.Rows, res.Synced
		rows, synced = &ev.Rows, &ev.Synced
	}

	if opErr != nil {
		ev.Error = errorCode(opErr)
	}
	h.result.record(ev)
	h.check(step, ev, rows, synced, removed)
	return nil
}

// mutate applies a create, update or delete, staged when the step names a
// transaction. It returns the version written, or 0 for deletes.
func (h *Harness) mutate(ctx context.Context, step Step, data json.RawMessage) (int64, error) {
	if step.Tx != "" {
		tx, err := h.tx(step.Tx)
		if err != nil {
			return 0, err
		}
		switch step.Do {
		case StepCreate:
			r, err := tx.Create(ctx, step.Type, docstore.CreateInput{ID: step.ID, Data: data})
			return r.V, err
		case StepUpdate:
			r, err := tx.Update(ctx, step.Type, step.ID, docstore.UpdateInput{Patch: data})
			return r.V, err
		default:
			return 0, tx.Delete(ctx, step.Type, step.ID, "")
		}
	}
	switch step.Do {
	case StepCreate:
		r, err := h.client.Create(ctx, step.Type, docstore.CreateInput{ID: step.ID, Data: data})
		return r.V, err
	case StepUpdate:
		r, err := h.client.Update(ctx, step.Type, step.ID, docstore.UpdateInput{Patch: data})
		return r.V, err
	default:
		return 0, h.client.Delete(ctx, step.Type, step.ID, "")
	}
}

func (h *Harness) tx(name string) (*docstore.Tx, error) {
	tx, ok := h.txs[name]
	if !ok {
		return nil, fmt.Errorf("transaction %q was never begun", name)
	}
	return tx, nil
}

func (h *Harness) check(step Step, ev TraceEvent, rows *int, synced, removed *int64) {
	want := step.Expect
	if want == nil {
		want = &StepExpect{}
	}
	if ev.Error != want.Error {
		h.result.AddError(fmt.Sprintf("step %d (%s): expected error %q, got %q", ev.Step, step.Do, want.Error, ev.Error))
	}
	if want.Rows != nil && (rows == nil || *rows != *want.Rows) {
		h.result.AddError(fmt.Sprintf("step %d (%s): expected %d rows, got %v", ev.Step, step.Do, *want.Rows, deref(rows)))
	}
	if want.Synced != nil && (synced == nil || *synced != *want.Synced) {
		h.result.AddError(fmt.Sprintf("step %d (%s): expected %d synced, got %v", ev.Step, step.Do, *want.Synced, deref(synced)))
	}
	if want.Removed != nil && (removed == nil || *removed != *want.Removed) {
		h.result.AddError(fmt.Sprintf("step %d (%s): expected %d removed, got %v", ev.Step, step.Do, *want.Removed, deref(removed)))
	}
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// errorCode names err by its row.ErrorCode, or "SYNC" for an exhausted
// drain cycle, or "INTERNAL".
func errorCode(err error) string {
	var re *row.Error
	if errors.As(err, &re) {
		return string(re.Code)
	}
	var se *engine.SyncError
	if errors.As(err, &se) {
		return "SYNC"
	}
	return "INTERNAL"
}
