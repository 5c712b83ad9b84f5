package state

import (
	"context"
	"time"

	"github.com/nholik/relay-sentinel/internal/watchdog"
)

// State is the operator-facing record of recent passes. The watchdog engine
// never reads it back; every pass decides from fresh probes.
type State struct {
	ComposeFingerprint string           `json:"compose_fingerprint,omitempty"`
	ServiceSource      string           `json:"service_source,omitempty"`
	Passes             int              `json:"passes"`
	LastReport         *watchdog.Report `json:"last_report,omitempty"`
	LastFailure        *watchdog.Report `json:"last_failure,omitempty"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// Record folds a finished pass into the state.
func (s *State) Record(report watchdog.Report, now time.Time) {
	copied := report
	s.Passes++
	s.LastReport = &copied
	if report.Failed() {
		failed := report
		s.LastFailure = &failed
	}
	s.UpdatedAt = now.UTC()
}

// Store defines the interface for persisting state.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, state State) error
}
