// Package docstore is the document client: the explicit context object that
// owns the local store, the oplog, the transaction stager and the sync
// engine, and exposes document operations over them.
//
// Every mutation appends a row to the local store and an entry to the oplog
// in one SQLite transaction before it returns. The sync engine later drains
// the oplog into the remote store. Reads are served from the local store.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/roach88/vdoc/internal/config"
	"github.com/roach88/vdoc/internal/engine"
	"github.com/roach88/vdoc/internal/metrics"
	"github.com/roach88/vdoc/internal/oplog"
	"github.com/roach88/vdoc/internal/store"
	"github.com/roach88/vdoc/internal/txn"
	"github.com/roach88/vdoc/internal/vclock"
)

// DefaultCloseTimeout bounds the final ForceSync run by Close.
const DefaultCloseTimeout = 10 * time.Second

// IDGenerator produces document ids for creates that do not name one.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-ordered UUIDv7 ids.
type UUIDv7Generator struct{}

// Generate returns a new UUIDv7, falling back to a random UUID when the
// system's entropy source fails.
func (UUIDv7Generator) Generate() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Client is a connected document store.
//
// Thread-safety: safe for concurrent use. Local writes serialize on the
// single SQLite connection.
type Client struct {
	cfg       *config.Config
	local     *store.Store
	remote    *store.Store // nil when a writer was injected
	log       *oplog.Log
	stager    *txn.Stager
	engine    *engine.Engine
	versioner *vclock.Versioner
	ids       IDGenerator
	logger    *zap.Logger
	metrics   *metrics.Metrics

	cancel       context.CancelFunc
	closeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

type options struct {
	logger       *zap.Logger
	metrics      *metrics.Metrics
	clock        vclock.Clock
	ids          IDGenerator
	writer       engine.Writer
	engineOpts   []engine.Option
	closeTimeout time.Duration
	noAlarm      bool
}

// Option configures Connect.
type Option func(*options)

// WithLogger sets the logger shared by every component.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics shared by the client and the engine.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock sets the time source for versions, timeouts and retention.
func WithClock(c vclock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithIDGenerator replaces the UUIDv7 document and transaction ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *options) { o.ids = g }
}

// WithRemoteWriter makes the engine write to w instead of opening the
// configured remote store.
func WithRemoteWriter(w engine.Writer) Option {
	return func(o *options) { o.writer = w }
}

// WithEngineOptions passes options through to the sync engine.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(o *options) { o.engineOpts = append(o.engineOpts, opts...) }
}

// WithCloseTimeout bounds the ForceSync run by Close.
func WithCloseTimeout(d time.Duration) Option {
	return func(o *options) { o.closeTimeout = d }
}

// WithoutAlarm leaves the engine's alarm unstarted, so the oplog drains
// only through ForceSync. One-shot commands use it.
func WithoutAlarm() Option {
	return func(o *options) { o.noAlarm = true }
}

// Connect opens the local and remote stores described by cfg, starts the
// sync engine and runs housekeeping: expired staged rows are cleaned and a
// backlog left by an earlier process arms the alarm.
func Connect(ctx context.Context, cfg *config.Config, opts ...Option) (*Client, error) {
	o := options{
		logger:       zap.NewNop(),
		clock:        vclock.System{},
		ids:          UUIDv7Generator{},
		closeTimeout: DefaultCloseTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.metrics == nil {
		o.metrics = metrics.New(nil)
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	c := &Client{
		cfg:          cfg,
		versioner:    vclock.NewVersioner(o.clock),
		ids:          o.ids,
		logger:       o.logger,
		metrics:      o.metrics,
		closeTimeout: o.closeTimeout,
	}
	if err := c.open(ctx, o); err != nil {
		c.closeStores()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	if !o.noAlarm {
		c.engine.Start(runCtx)
	}

	if err := c.housekeeping(ctx); err != nil {
		c.Close()
		return nil, err
	}
	c.logger.Info("document store connected",
		zap.String("local", cfg.Local.Path),
		zap.String("remote_driver", cfg.Remote.Driver),
		zap.String("namespace", cfg.Document.Namespace))
	return c, nil
}

func (c *Client) open(ctx context.Context, o options) error {
	var err error
	c.local, err = store.Open(c.cfg.Local.Path, store.WithLogger(c.logger.Named("local")))
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	if err := c.local.EnsureTable(ctx, c.cfg.Local.Table); err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	maxV, err := c.local.MaxVersion(ctx, c.cfg.Local.Table)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	c.versioner.Observe(maxV)

	c.log, err = oplog.New(ctx, c.local.DB(), c.logger.Named("oplog"))
	if err != nil {
		return err
	}
	c.stager, err = txn.New(ctx, c.local.DB(),
		txn.WithClock(o.clock),
		txn.WithTimeout(c.cfg.Transactions.Timeout),
		txn.WithIDGenerator(c.ids.Generate),
		txn.WithLogger(c.logger.Named("txn")))
	if err != nil {
		return err
	}

	writer := o.writer
	if writer == nil {
		c.remote, err = store.OpenDriver(ctx, c.cfg.Remote.Driver, c.cfg.Remote.DSN,
			store.WithLogger(c.logger.Named("remote")))
		if err != nil {
			return fmt.Errorf("open remote store: %w", err)
		}
		if err := c.remote.EnsureTable(ctx, c.cfg.Remote.Table); err != nil {
			return fmt.Errorf("open remote store: %w", err)
		}
		writer = c.remote
	}

	engineOpts := append([]engine.Option{
		engine.WithLogger(c.logger.Named("sync")),
		engine.WithMetrics(c.metrics),
		engine.WithClock(o.clock),
	}, o.engineOpts...)
	c.engine, err = engine.New(c.cfg.Engine(), c.log, writer, engineOpts...)
	return err
}

func (c *Client) housekeeping(ctx context.Context) error {
	if _, err := c.CleanupExpired(ctx); err != nil {
		return err
	}
	backlog, err := c.log.PendingCount(ctx)
	if err != nil {
		return err
	}
	c.metrics.OplogBacklog.Set(float64(backlog))
	if backlog > 0 {
		c.logger.Info("resuming oplog backlog", zap.Int64("pending", backlog))
		c.engine.Notify()
	}
	return nil
}

// Close stops the alarm, drains what it can within the close timeout and
// closes both stores. It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		// Cancelling first abandons a cycle waiting out its backoff, so
		// Stop does not block on it.
		if c.cancel != nil {
			c.cancel()
		}
		c.engine.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), c.closeTimeout)
		res, err := c.engine.ForceSync(ctx)
		cancel()
		if err != nil {
			c.logger.Warn("final sync incomplete", zap.Int64("synced", res.Synced), zap.Error(err))
		} else if res.Synced > 0 {
			c.logger.Info("final sync complete", zap.Int64("synced", res.Synced))
		}

		c.closeErr = c.closeStores()
	})
	return c.closeErr
}

func (c *Client) closeStores() error {
	var errs []error
	if c.remote != nil {
		errs = append(errs, c.remote.Close())
	}
	if c.local != nil {
		errs = append(errs, c.local.Close())
	}
	return errors.Join(errs...)
}

// Config returns the configuration the client was connected with.
func (c *Client) Config() *config.Config {
	return c.cfg
}

// Engine returns the sync engine.
func (c *Client) Engine() *engine.Engine {
	return c.engine
}

// ForceSync drains the oplog until a cycle syncs nothing.
func (c *Client) ForceSync(ctx context.Context) (engine.SyncResult, error) {
	return c.engine.ForceSync(ctx)
}

// OplogStats summarizes the local oplog.
func (c *Client) OplogStats(ctx context.Context) (oplog.Stats, error) {
	return c.log.Stats(ctx)
}

// CleanupExpired removes staged rows of transactions whose timeout passed
// more than the configured grace ago.
func (c *Client) CleanupExpired(ctx context.Context) (txn.CleanupResult, error) {
	res, err := c.stager.CleanupExpired(ctx, c.cfg.Transactions.CleanupGrace)
	if err != nil {
		return res, err
	}
	c.metrics.StagedRowsCleaned.Add(float64(res.Removed))
	return res, nil
}
