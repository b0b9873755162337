package engine

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/vdoc/internal/alarm"
	"github.com/roach88/vdoc/internal/metrics"
	"github.com/roach88/vdoc/internal/oplog"
	"github.com/roach88/vdoc/internal/row"
	"github.com/roach88/vdoc/internal/vclock"
)

// Writer is the remote side of the sync boundary: one bulk write per cycle.
// *store.Store implements it.
type Writer interface {
	Write(ctx context.Context, table string, rows []row.VersionedRow) error
}

// Log is the oplog surface the engine drains. *oplog.Log implements it.
type Log interface {
	Pending(ctx context.Context, limit int) ([]oplog.Entry, error)
	MarkSynced(ctx context.Context, maxSeq int64) (int64, error)
	PendingCount(ctx context.Context) (int64, error)
	Purge(ctx context.Context, olderThan int64) (int64, error)
}

// CycleResult reports one drain cycle.
type CycleResult struct {
	Read    int   // entries read from the oplog
	Rows    int   // rows sent after dedup
	Dropped int   // entries that could not be transformed
	Synced  int64 // entries marked synced
	MaxSeq  int64
	Backlog int64 // pending entries left after the cycle
	Purged  int64
	Err     error // *SyncError, a local failure, or a context error
}

// SyncResult reports a ForceSync run.
type SyncResult struct {
	Cycles int
	Rows   int
	Synced int64
}

// Engine drains the oplog into the remote store.
//
// Thread-safety model:
//   - Notify(): safe from any goroutine
//   - OnAlarm() / ForceSync(): safe from any goroutine; cycles never overlap
type Engine struct {
	cfg     Config
	log     Log
	writer  Writer
	clock   vclock.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics
	random  func() float64
	sleep   func(ctx context.Context, d time.Duration) error

	cycleMu sync.Mutex // serializes drain cycles

	alarmMu sync.Mutex
	alarm   *alarm.Alarm
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the metrics. Defaults to unregistered collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithClock sets the time source used for the retention cutoff.
func WithClock(c vclock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithRandom replaces the source deciding whether a cycle purges.
// It must return values in [0,1).
func WithRandom(fn func() float64) Option {
	return func(e *Engine) { e.random = fn }
}

// WithSleep replaces the backoff wait. Tests use it to record delays
// without waiting.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = fn }
}

// New creates an Engine. Zero config fields take their defaults.
func New(cfg Config, log Log, writer Writer, opts ...Option) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:    cfg,
		log:    log,
		writer: writer,
		clock:  vclock.System{},
		logger: zap.NewNop(),
		random: rand.Float64,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.New(nil)
	}
	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Start creates the alarm that drives OnAlarm with ctx. Until Start is
// called Notify is a no-op and draining happens only through ForceSync.
func (e *Engine) Start(ctx context.Context) {
	e.alarmMu.Lock()
	defer e.alarmMu.Unlock()
	if e.alarm == nil {
		e.alarm = alarm.New(ctx, e.OnAlarm)
	}
}

// Stop disarms the alarm and waits for a running cycle to finish.
func (e *Engine) Stop() {
	e.alarmMu.Lock()
	a := e.alarm
	e.alarm = nil
	e.alarmMu.Unlock()
	if a != nil {
		a.Stop()
	}
}

// Notify tells the engine a mutation was logged. It arms the alarm for
// BatchWindow unless a drain is already scheduled.
func (e *Engine) Notify() bool {
	a := e.currentAlarm()
	if a == nil {
		return false
	}
	return a.ScheduleIfNeeded(e.cfg.BatchWindow)
}

// Armed reports whether a drain is scheduled.
func (e *Engine) Armed() bool {
	a := e.currentAlarm()
	return a != nil && a.Armed()
}

func (e *Engine) currentAlarm() *alarm.Alarm {
	e.alarmMu.Lock()
	defer e.alarmMu.Unlock()
	return e.alarm
}

// OnAlarm runs one drain cycle and re-arms: immediately when backlog
// remains, after FailureRetryDelay when the cycle failed.
func (e *Engine) OnAlarm(ctx context.Context) {
	res := e.Cycle(ctx)
	a := e.currentAlarm()
	if a == nil || ctx.Err() != nil {
		return
	}
	switch {
	case res.Err != nil:
		a.Schedule(e.cfg.FailureRetryDelay)
	case res.Backlog > 0:
		a.Schedule(0)
	}
}

// ForceSync runs cycles until one syncs nothing. It returns the error of
// the last cycle when that cycle failed.
func (e *Engine) ForceSync(ctx context.Context) (SyncResult, error) {
	var total SyncResult
	for {
		res := e.Cycle(ctx)
		total.Cycles++
		total.Rows += res.Rows
		total.Synced += res.Synced
		if res.Err != nil {
			return total, res.Err
		}
		if res.Synced == 0 {
			return total, nil
		}
	}
}

// Cycle runs one drain cycle. Cycles are serialized.
func (e *Engine) Cycle(ctx context.Context) CycleResult {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	start := time.Now()
	res := e.drain(ctx)
	e.metrics.DrainDuration.Observe(time.Since(start).Seconds())

	switch {
	case res.Err != nil:
		e.metrics.DrainCycles.WithLabelValues("failed").Inc()
		var se *SyncError
		if errors.As(res.Err, &se) {
			e.logger.Error("drain cycle failed",
				zap.Int("attempts", se.Attempts),
				zap.Int("entries", se.Entries),
				zap.Int64("first_seq", se.FirstSeq),
				zap.Int64("last_seq", se.LastSeq),
				zap.Error(se.Err))
		} else {
			e.logger.Warn("drain cycle aborted", zap.Error(res.Err))
		}
	case res.Read == 0:
		e.metrics.DrainCycles.WithLabelValues("empty").Inc()
	default:
		e.metrics.DrainCycles.WithLabelValues("synced").Inc()
		e.logger.Debug("drain cycle synced",
			zap.Int("read", res.Read),
			zap.Int("rows", res.Rows),
			zap.Int64("max_seq", res.MaxSeq),
			zap.Int64("backlog", res.Backlog))
	}
	return res
}

func (e *Engine) drain(ctx context.Context) CycleResult {
	var res CycleResult

	entries, err := e.log.Pending(ctx, e.cfg.BatchSize)
	if err != nil {
		res.Err = err
		return res
	}
	res.Read = len(entries)
	if len(entries) == 0 {
		e.metrics.OplogBacklog.Set(0)
		return res
	}
	res.MaxSeq = entries[len(entries)-1].Seq

	survivors := Dedupe(entries)
	e.metrics.EntriesDeduped.Add(float64(len(entries) - len(survivors)))

	rows := make([]row.VersionedRow, 0, len(survivors))
	for _, entry := range survivors {
		r, err := Transform(e.cfg, entry)
		if err != nil {
			// A malformed entry can never be written; it is dropped and
			// marked synced with the rest of the batch.
			e.logger.Error("dropping untransformable oplog entry",
				zap.Int64("seq", entry.Seq),
				zap.String("collection", entry.Collection),
				zap.String("doc_id", entry.DocID),
				zap.Error(err))
			res.Dropped++
			continue
		}
		rows = append(rows, r)
	}
	res.Rows = len(rows)
	e.metrics.EntriesDropped.Add(float64(res.Dropped))

	if len(rows) > 0 {
		if err := e.writeWithBackoff(ctx, rows); err != nil {
			if ctx.Err() != nil {
				res.Err = ctx.Err()
			} else {
				res.Err = &SyncError{
					Attempts: e.cfg.MaxAttempts,
					Entries:  len(entries),
					FirstSeq: entries[0].Seq,
					LastSeq:  res.MaxSeq,
					Err:      err,
				}
			}
			res.Rows = 0
			return res
		}
		e.metrics.RowsSynced.Add(float64(len(rows)))
	}

	n, err := e.log.MarkSynced(ctx, res.MaxSeq)
	if err != nil {
		res.Err = err
		return res
	}
	res.Synced = n

	backlog, err := e.log.PendingCount(ctx)
	if err != nil {
		res.Err = err
		return res
	}
	res.Backlog = backlog
	e.metrics.OplogBacklog.Set(float64(backlog))

	res.Purged = e.maybePurge(ctx)
	return res
}

// writeWithBackoff makes up to MaxAttempts bulk writes, waiting Backoff(i)
// between attempts. It returns the last error, or the context error when
// the wait was abandoned.
func (e *Engine) writeWithBackoff(ctx context.Context, rows []row.VersionedRow) error {
	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := e.cfg.Backoff(attempt - 1)
			e.logger.Warn("remote write failed, backing off",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			if err := e.sleep(ctx, delay); err != nil {
				return err
			}
		}
		e.metrics.WriteAttempts.Inc()
		lastErr = e.writer.Write(ctx, e.cfg.Table, rows)
		if lastErr == nil {
			return nil
		}
		e.metrics.WriteFailures.Inc()
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}

func (e *Engine) maybePurge(ctx context.Context) int64 {
	if e.cfg.PurgeProbability <= 0 || e.random() >= e.cfg.PurgeProbability {
		return 0
	}
	cutoff := vclock.Millis(e.clock.Now().Add(-e.cfg.Retention()))
	n, err := e.log.Purge(ctx, cutoff)
	if err != nil {
		e.logger.Warn("oplog purge failed", zap.Error(err))
		return 0
	}
	e.metrics.OplogPurged.Add(float64(n))
	return n
}
