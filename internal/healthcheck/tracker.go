package healthcheck

import (
	"sync"
	"time"
)

// Snapshot describes the latest pass timing details.
type Snapshot struct {
	LastPassTime      *time.Time `json:"last_pass_time"`
	PassDurationMS    int64      `json:"pass_duration_ms"`
	ServicesEvaluated int        `json:"services_evaluated"`
	RestartFailures   int        `json:"restart_failures"`
	Passes            int64      `json:"passes"`
}

// Tracker records pass timing for health endpoints.
type Tracker struct {
	mu                sync.RWMutex
	lastPass          time.Time
	passDuration      time.Duration
	servicesEvaluated int
	restartFailures   int
	passes            int64
	ready             bool
	now               func() time.Time
}

// NewTracker constructs a new Tracker.
func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// RecordPass updates pass timing and readiness. Restart failures are reported
// but do not affect liveness: the watchdog itself is alive as long as it
// keeps completing passes.
func (t *Tracker) RecordPass(duration time.Duration, servicesEvaluated, restartFailures int) {
	if t == nil {
		return
	}
	now := t.now().UTC()
	t.mu.Lock()
	t.lastPass = now
	t.passDuration = duration
	t.servicesEvaluated = servicesEvaluated
	t.restartFailures = restartFailures
	t.passes++
	t.ready = true
	t.mu.Unlock()
}

// Snapshot returns the current tracker snapshot.
func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	var last *time.Time
	if !t.lastPass.IsZero() {
		value := t.lastPass
		last = &value
	}
	return Snapshot{
		LastPassTime:      last,
		PassDurationMS:    int64(t.passDuration / time.Millisecond),
		ServicesEvaluated: t.servicesEvaluated,
		RestartFailures:   t.restartFailures,
		Passes:            t.passes,
	}
}

// Ready reports whether at least one pass has completed.
func (t *Tracker) Ready() bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready
}

// Healthy reports whether the last pass completed within 2x the poll interval
// plus passBudget, the longest a single pass may legitimately run.
func (t *Tracker) Healthy(now time.Time, pollInterval, passBudget time.Duration) bool {
	if t == nil {
		return false
	}
	if pollInterval <= 0 {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.lastPass.IsZero() {
		return false
	}
	if passBudget < 0 {
		passBudget = 0
	}
	return now.Sub(t.lastPass) <= 2*pollInterval+passBudget
}
