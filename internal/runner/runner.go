package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nholik/relay-sentinel/internal/healthcheck"
	"github.com/nholik/relay-sentinel/internal/metrics"
	"github.com/nholik/relay-sentinel/internal/state"
	"github.com/nholik/relay-sentinel/internal/watchdog"
	"github.com/rs/zerolog"
)

// Ticker is the minimal interface needed for driving the runner loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

// Passer runs one remediation pass. *watchdog.Engine satisfies it.
type Passer interface {
	RunPass(ctx context.Context) watchdog.Report
}

// Runner drives passes on a fixed interval and records their reports.
type Runner struct {
	logger        zerolog.Logger
	pollInterval  time.Duration
	tickerFactory func(time.Duration) Ticker
	runOnce       func(context.Context) error
	engine        Passer
	metrics       *metrics.Metrics
	tracker       *healthcheck.Tracker
	stateStore    state.Store
	stateMu       *sync.Mutex
	source        string
	fingerprint   string
	now           func() time.Time

	lastMu sync.RWMutex
	last   *watchdog.Report
}

// Option customizes runner behavior.
type Option func(*Runner)

// WithTickerFactory overrides how tickers are created.
func WithTickerFactory(factory func(time.Duration) Ticker) Option {
	return func(r *Runner) {
		r.tickerFactory = factory
	}
}

// WithRunOnce overrides the single-cycle execution step.
func WithRunOnce(runOnce func(context.Context) error) Option {
	return func(r *Runner) {
		r.runOnce = runOnce
	}
}

// WithEngine sets the pass engine used by the default RunOnce.
func WithEngine(engine Passer) Option {
	return func(r *Runner) {
		r.engine = engine
	}
}

// WithMetrics records pass-level metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithTracker feeds pass timing to the health endpoints.
func WithTracker(tracker *healthcheck.Tracker) Option {
	return func(r *Runner) {
		r.tracker = tracker
	}
}

// WithStateStore enables report persistence.
func WithStateStore(store state.Store, lock *sync.Mutex) Option {
	return func(r *Runner) {
		r.stateStore = store
		r.stateMu = lock
	}
}

// WithProvenance tags persisted state with where the service table came from.
func WithProvenance(source, fingerprint string) Option {
	return func(r *Runner) {
		r.source = source
		r.fingerprint = fingerprint
	}
}

// New constructs a Runner with the given logger and poll interval.
func New(logger zerolog.Logger, pollInterval time.Duration, opts ...Option) *Runner {
	r := &Runner{
		logger:       logger,
		pollInterval: pollInterval,
		tickerFactory: func(d time.Duration) Ticker {
			return timeTicker{ticker: time.NewTicker(d)}
		},
		now: time.Now,
	}
	r.runOnce = r.defaultRunOnce

	for _, opt := range opts {
		opt(r)
	}
	if r.stateStore != nil && r.stateMu == nil {
		r.stateMu = &sync.Mutex{}
	}

	return r
}

// Run starts the main loop and blocks until the context is canceled.
func (r *Runner) Run(ctx context.Context) error {
	if r.pollInterval <= 0 {
		return errors.New("poll interval must be greater than zero")
	}

	// Run immediately on startup
	r.logCycleError(r.RunOnce(ctx), "initial run cycle failed")

	ticker := r.tickerFactory(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("runner stopped")
			return nil
		case <-ticker.C():
			r.logCycleError(r.RunOnce(ctx), "run cycle failed")
		}
	}
}

// RunOnce executes a single cycle of the runner.
func (r *Runner) RunOnce(ctx context.Context) error {
	return r.runOnce(ctx)
}

// LastReport returns the most recent pass report, if any.
func (r *Runner) LastReport() (watchdog.Report, bool) {
	r.lastMu.RLock()
	defer r.lastMu.RUnlock()
	if r.last == nil {
		return watchdog.Report{}, false
	}
	return *r.last, true
}

// Pass runs one remediation pass and records it. The report is always
// returned; the error only reflects bookkeeping such as state persistence.
func (r *Runner) Pass(ctx context.Context) (watchdog.Report, error) {
	if r.engine == nil {
		return watchdog.Report{}, errors.New("runner has no engine")
	}

	report := r.engine.RunPass(ctx)
	r.logReport(report)
	r.record(report)

	if r.stateStore != nil {
		if err := r.persist(ctx, report); err != nil {
			return report, wrapRuntime("persist state", err)
		}
	}

	return report, nil
}

func (r *Runner) defaultRunOnce(ctx context.Context) error {
	_, err := r.Pass(ctx)
	return err
}

func (r *Runner) logCycleError(err error, msg string) {
	if err == nil {
		return
	}
	var runtimeErr *RuntimeError
	if errors.As(err, &runtimeErr) {
		r.logger.Warn().Err(err).Str("op", runtimeErr.Op).Msg(msg)
		return
	}
	r.logger.Error().Err(err).Msg(msg)
}

func (r *Runner) logReport(report watchdog.Report) {
	event := r.logger.Info()
	if report.Failed() {
		event = r.logger.Error()
	}
	event.
		Int("services", len(report.Outcomes)).
		Int("healthy", report.Count(watchdog.ResultHealthy)).
		Int("restarted", report.Count(watchdog.ResultRestarted)).
		Int("restart_failed", report.Count(watchdog.ResultRestartFailed)).
		Dur("duration", report.Duration).
		Msg("pass completed")
}

func (r *Runner) record(report watchdog.Report) {
	r.metrics.ObservePassDuration(report.Duration)
	r.metrics.SetLastPassTimestamp(report.StartedAt.Add(report.Duration))
	for _, outcome := range report.Outcomes {
		r.metrics.IncPassResult(outcome.Service.Name, string(outcome.Result))
		r.metrics.SetServiceUp(outcome.Service.Name, outcome.Result != watchdog.ResultRestartFailed)
	}

	r.tracker.RecordPass(report.Duration, len(report.Outcomes), report.Count(watchdog.ResultRestartFailed))

	copied := report
	r.lastMu.Lock()
	r.last = &copied
	r.lastMu.Unlock()
}

func (r *Runner) persist(ctx context.Context, report watchdog.Report) error {
	return r.withStateLock(func() error {
		loaded, err := r.stateStore.Load(ctx)
		if err != nil {
			return err
		}
		loaded.ServiceSource = r.source
		loaded.ComposeFingerprint = r.fingerprint
		loaded.Record(report, r.now())
		return r.stateStore.Save(ctx, loaded)
	})
}

func (r *Runner) withStateLock(fn func() error) error {
	if r.stateMu == nil {
		return fn()
	}
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return fn()
}
