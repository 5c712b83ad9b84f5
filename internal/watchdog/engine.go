// Package watchdog probes the relay's services, restarts unhealthy ones once
// per pass and reports what happened.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nholik/relay-sentinel/internal/metrics"
	"github.com/nholik/relay-sentinel/internal/notify"
	"github.com/nholik/relay-sentinel/internal/probe"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultProbeHost      = "127.0.0.1"
	DefaultProbeTimeout   = 3 * time.Second
	DefaultStatusTimeout  = 5 * time.Second
	DefaultRestartTimeout = 30 * time.Second
	DefaultSettleDelay    = 5 * time.Second
	DefaultNotifyTimeout  = 30 * time.Second
)

// Timeouts bounds every blocking step of a pass. All values must be positive.
type Timeouts struct {
	Probe   time.Duration
	Status  time.Duration
	Restart time.Duration
	Settle  time.Duration
	Notify  time.Duration
}

// DefaultTimeouts returns the stock probe, status, restart, settle and notify bounds.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Probe:   DefaultProbeTimeout,
		Status:  DefaultStatusTimeout,
		Restart: DefaultRestartTimeout,
		Settle:  DefaultSettleDelay,
		Notify:  DefaultNotifyTimeout,
	}
}

func (t Timeouts) validate() error {
	checks := []struct {
		name  string
		value time.Duration
	}{
		{"probe", t.Probe},
		{"status", t.Status},
		{"restart", t.Restart},
		{"settle", t.Settle},
		{"notify", t.Notify},
	}
	for _, check := range checks {
		if check.value <= 0 {
			return fmt.Errorf("%s timeout must be greater than zero", check.name)
		}
	}
	return nil
}

// serviceBudget is the longest one service can take in a pass: inspect,
// down alert, restart, settle, inspect again and restored alert.
func (t Timeouts) serviceBudget() time.Duration {
	inspect := t.Probe + t.Status
	return 2*inspect + 2*t.Notify + t.Restart + t.Settle
}

// Probes bundles the capabilities the engine depends on.
type Probes struct {
	Ports      probe.PortProber
	Containers probe.ContainerProber
	Restarter  probe.Restarter
}

// HealthState is the result of checking one service.
type HealthState struct {
	Service ServiceSpec
	Healthy bool
	// Reason lists the failing checks, joined by ", ". Empty when healthy.
	Reason string
}

// Message renders the state as a single log line.
func (h HealthState) Message() string {
	if h.Healthy {
		return fmt.Sprintf("%s is healthy (port %d listening, container running)", h.Service.Name, h.Service.Port)
	}
	return fmt.Sprintf("%s unhealthy: %s", h.Service.Name, h.Reason)
}

// Engine runs watchdog passes over a fixed set of services.
type Engine struct {
	logger   zerolog.Logger
	services []ServiceSpec
	index    map[string]int
	probes   Probes
	notifier notify.Notifier
	metrics  *metrics.Metrics
	host     string
	timeouts Timeouts
	parallel bool
	sleep    func(context.Context, time.Duration) bool
	now      func() time.Time
}

// Option customizes engine behavior.
type Option func(*Engine)

// WithNotifier sets the alert sink. A nil notifier keeps the no-op default.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithMetrics records probe failures, restarts and alerts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithTimeouts overrides the default step bounds.
func WithTimeouts(t Timeouts) Option {
	return func(e *Engine) {
		e.timeouts = t
	}
}

// WithProbeHost changes the host used for port probes.
func WithProbeHost(host string) Option {
	return func(e *Engine) {
		if host != "" {
			e.host = host
		}
	}
}

// WithParallel evaluates services concurrently within a pass.
func WithParallel(parallel bool) Option {
	return func(e *Engine) {
		e.parallel = parallel
	}
}

// New validates services and constructs an Engine.
func New(logger zerolog.Logger, services []ServiceSpec, probes Probes, opts ...Option) (*Engine, error) {
	if err := ValidateServices(services); err != nil {
		return nil, err
	}
	if probes.Ports == nil || probes.Containers == nil || probes.Restarter == nil {
		return nil, errors.New("port prober, container prober and restarter are required")
	}

	e := &Engine{
		logger:   logger,
		services: append([]ServiceSpec(nil), services...),
		index:    make(map[string]int, len(services)),
		probes:   probes,
		notifier: notify.NewNoop(logger, ""),
		host:     DefaultProbeHost,
		timeouts: DefaultTimeouts(),
		sleep:    sleepWithContext,
		now:      time.Now,
	}
	for i, spec := range e.services {
		e.index[spec.Name] = i
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.timeouts.validate(); err != nil {
		return nil, err
	}

	return e, nil
}

// Services returns a copy of the registered services in declaration order.
func (e *Engine) Services() []ServiceSpec {
	return append([]ServiceSpec(nil), e.services...)
}

// PassBudget is the worst-case duration of one RunPass under the configured
// timeouts. Parallel passes take as long as their slowest service.
func (e *Engine) PassBudget() time.Duration {
	budget := e.timeouts.serviceBudget()
	if e.parallel || len(e.services) == 0 {
		return budget
	}
	return time.Duration(len(e.services)) * budget
}

// Lookup returns the spec registered under name.
func (e *Engine) Lookup(name string) (ServiceSpec, error) {
	i, ok := e.index[name]
	if !ok {
		return ServiceSpec{}, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	return e.services[i], nil
}

// CheckService probes spec's port and container. It never fails: probe
// errors count as unhealthy and are listed in reason.
func (e *Engine) CheckService(ctx context.Context, spec ServiceSpec) (bool, string) {
	state := e.inspect(ctx, spec, false)
	return state.Healthy, state.Reason
}

// CheckByName checks a registered service by name. Unknown names return
// ErrUnknownService alongside an unhealthy state.
func (e *Engine) CheckByName(ctx context.Context, name string) (HealthState, error) {
	spec, err := e.Lookup(name)
	if err != nil {
		return HealthState{
			Service: ServiceSpec{Name: name},
			Reason:  "unknown service: " + name,
		}, err
	}
	return e.inspect(ctx, spec, false), nil
}

// Snapshot checks every service without remediation, in declaration order.
func (e *Engine) Snapshot(ctx context.Context) []HealthState {
	states := make([]HealthState, len(e.services))
	e.forEach(ctx, func(ctx context.Context, i int, spec ServiceSpec) {
		states[i] = e.inspect(ctx, spec, false)
	})
	return states
}

// CheckAll returns one health flag per registered service. No restart is attempted.
func (e *Engine) CheckAll(ctx context.Context) map[string]bool {
	results := make(map[string]bool, len(e.services))
	for _, state := range e.Snapshot(ctx) {
		results[state.Service.Name] = state.Healthy
	}
	return results
}

// RunPass evaluates every service and remediates unhealthy ones with at most
// one restart each. Failures are contained per service; the report is total.
func (e *Engine) RunPass(ctx context.Context) Report {
	start := e.now()
	outcomes := make([]Outcome, len(e.services))
	evaluated := make([]bool, len(e.services))

	e.forEach(ctx, func(ctx context.Context, i int, spec ServiceSpec) {
		outcomes[i] = e.evaluate(ctx, spec)
		evaluated[i] = true
	})

	for i, spec := range e.services {
		if !evaluated[i] {
			outcomes[i] = Outcome{
				Service: spec,
				Result:  ResultRestartFailed,
				Detail:  "pass canceled before evaluation",
			}
		}
	}

	return Report{
		StartedAt: start.UTC(),
		Duration:  e.now().Sub(start),
		Outcomes:  outcomes,
	}
}

// forEach runs fn for every service. Sequential mode stops early once ctx is
// done; parallel mode starts all services and waits for them.
func (e *Engine) forEach(ctx context.Context, fn func(context.Context, int, ServiceSpec)) {
	if !e.parallel {
		for i, spec := range e.services {
			if ctx.Err() != nil {
				return
			}
			fn(ctx, i, spec)
		}
		return
	}

	var g errgroup.Group
	for i, spec := range e.services {
		g.Go(func() error {
			fn(ctx, i, spec)
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Engine) evaluate(ctx context.Context, spec ServiceSpec) Outcome {
	start := e.now()
	out := Outcome{Service: spec}
	logger := e.logger.With().Str("service", spec.Name).Int("port", spec.Port).Str("container", spec.ProcessRef).Logger()

	finish := func(result Result, detail string) Outcome {
		out.Result = result
		out.Detail = detail
		out.Duration = e.now().Sub(start)
		return out
	}

	state := e.inspect(ctx, spec, true)
	if state.Healthy {
		logger.Debug().Msg(state.Message())
		return finish(ResultHealthy, "")
	}
	out.Reason = state.Reason

	logger.Warn().Str("reason", state.Reason).Msg(state.Message())
	logger.Info().Msg("attempting restart")
	e.notifyDown(ctx, logger, spec, state.Reason)

	if err := e.restart(ctx, spec); err != nil {
		e.metrics.IncRestart(spec.Name, "error")
		logger.Error().Err(err).Msg("restart failed")
		return finish(ResultRestartFailed, "restart failed: "+err.Error())
	}
	e.metrics.IncRestart(spec.Name, "ok")

	if !e.sleep(ctx, e.timeouts.Settle) {
		logger.Error().Err(ctx.Err()).Msg("settle delay interrupted; restart not verified")
		return finish(ResultRestartFailed, "settle delay interrupted")
	}

	after := e.inspect(ctx, spec, true)
	if !after.Healthy {
		logger.Error().Str("reason", after.Reason).Msg("restart failed verification")
		return finish(ResultRestartFailed, "still unhealthy after restart: "+after.Reason)
	}

	logger.Info().Msg("service successfully restarted")
	e.notifyRestored(ctx, logger, spec)
	return finish(ResultRestarted, "")
}

// inspect runs both probes. When record is set, probe failures are counted.
func (e *Engine) inspect(ctx context.Context, spec ServiceSpec, record bool) HealthState {
	portOK := e.probePort(ctx, spec)
	containerOK := e.probeContainer(ctx, spec)

	state := HealthState{Service: spec, Healthy: portOK && containerOK}
	if state.Healthy {
		return state
	}

	issues := make([]string, 0, 2)
	if !portOK {
		issues = append(issues, fmt.Sprintf("port %d not listening", spec.Port))
		if record {
			e.metrics.IncProbeFailure(spec.Name, "port")
		}
	}
	if !containerOK {
		issues = append(issues, fmt.Sprintf("container %s not running", spec.ProcessRef))
		if record {
			e.metrics.IncProbeFailure(spec.Name, "container")
		}
	}
	state.Reason = strings.Join(issues, ", ")
	return state
}

func (e *Engine) probePort(ctx context.Context, spec ServiceSpec) bool {
	ctx, cancel := context.WithTimeout(ctx, e.timeouts.Probe)
	defer cancel()
	return e.guard(spec, "port", func() bool {
		return e.probes.Ports.ProbeTCP(ctx, e.host, spec.Port, e.timeouts.Probe)
	})
}

func (e *Engine) probeContainer(ctx context.Context, spec ServiceSpec) bool {
	ctx, cancel := context.WithTimeout(ctx, e.timeouts.Status)
	defer cancel()
	return e.guard(spec, "container", func() bool {
		return e.probes.Containers.IsRunning(ctx, spec.ProcessRef, e.timeouts.Status)
	})
}

// guard turns a panicking probe into a failed check.
func (e *Engine) guard(spec ServiceSpec, check string, fn func() bool) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str("service", spec.Name).
				Str("check", check).
				Interface("panic", r).
				Msg("probe panicked")
			ok = false
		}
	}()
	return fn()
}

func (e *Engine) restart(ctx context.Context, spec ServiceSpec) (err error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeouts.Restart)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("restart panicked: %v", r)
		}
	}()
	return e.probes.Restarter.Restart(ctx, spec.ProcessRef, e.timeouts.Restart)
}

func (e *Engine) notifyDown(ctx context.Context, logger zerolog.Logger, spec ServiceSpec, reason string) {
	e.metrics.IncAlert(spec.Name, string(notify.KindDown))
	e.deliver(ctx, logger, notify.KindDown, func(ctx context.Context) error {
		return e.notifier.NotifyDown(ctx, spec.Name, spec.Port, reason)
	})
}

func (e *Engine) notifyRestored(ctx context.Context, logger zerolog.Logger, spec ServiceSpec) {
	e.metrics.IncAlert(spec.Name, string(notify.KindRestored))
	e.deliver(ctx, logger, notify.KindRestored, func(ctx context.Context) error {
		return e.notifier.NotifyRestored(ctx, spec.Name)
	})
}

// deliver sends an alert within the notify timeout. Errors and panics are
// logged and never affect the pass.
func (e *Engine) deliver(ctx context.Context, logger zerolog.Logger, kind notify.Kind, send func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeouts.Notify)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("notifier panicked: %v", r)
			}
		}()
		return send(ctx)
	}()
	if err != nil {
		e.metrics.IncNotifyErrors()
		logger.Warn().Err(err).Str("kind", string(kind)).Msg("alert delivery failed")
	}
}

func sleepWithContext(ctx context.Context, wait time.Duration) bool {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
