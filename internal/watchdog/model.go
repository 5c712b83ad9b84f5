package watchdog

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownService is returned when a lookup names a service that was not registered.
var ErrUnknownService = errors.New("unknown service")

// ServiceSpec declares a monitored service. Specs are fixed for the engine's lifetime.
type ServiceSpec struct {
	Name       string `json:"name" yaml:"name"`
	Port       int    `json:"port" yaml:"port"`
	ProcessRef string `json:"container" yaml:"container"`
}

// Result is the per-service outcome of a pass.
type Result string

const (
	ResultHealthy       Result = "healthy"
	ResultRestarted     Result = "restarted"
	ResultRestartFailed Result = "restart_failed"
)

// Outcome records what happened to one service during a pass.
type Outcome struct {
	Service ServiceSpec `json:"service"`
	Result  Result      `json:"result"`
	// Reason is the failing checks observed before remediation; empty when healthy.
	Reason string `json:"reason,omitempty"`
	// Detail explains a RestartFailed result.
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Report summarizes a single pass in service declaration order.
type Report struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Outcomes  []Outcome     `json:"outcomes"`
}

// Results returns the service name → result mapping.
func (r Report) Results() map[string]Result {
	results := make(map[string]Result, len(r.Outcomes))
	for _, outcome := range r.Outcomes {
		results[outcome.Service.Name] = outcome.Result
	}
	return results
}

// Failed reports whether any service ended the pass in RestartFailed.
func (r Report) Failed() bool {
	for _, outcome := range r.Outcomes {
		if outcome.Result == ResultRestartFailed {
			return true
		}
	}
	return false
}

// Count returns how many services ended the pass with result.
func (r Report) Count(result Result) int {
	count := 0
	for _, outcome := range r.Outcomes {
		if outcome.Result == result {
			count++
		}
	}
	return count
}

// ValidateServices checks names are present and unique, ports are valid TCP
// ports and every service has a process reference.
func ValidateServices(services []ServiceSpec) error {
	if len(services) == 0 {
		return errors.New("no services configured")
	}

	seen := make(map[string]bool, len(services))
	for i, spec := range services {
		if spec.Name == "" {
			return fmt.Errorf("service %d: name is required", i)
		}
		if seen[spec.Name] {
			return fmt.Errorf("service %q: duplicate name", spec.Name)
		}
		seen[spec.Name] = true

		if spec.Port <= 0 || spec.Port > 65535 {
			return fmt.Errorf("service %q: port %d out of range", spec.Name, spec.Port)
		}
		if spec.ProcessRef == "" {
			return fmt.Errorf("service %q: container is required", spec.Name)
		}
	}
	return nil
}

// DefaultServices is the stock relay deployment: Xray REALITY on 443 and the
// Shadowsocks fallback on 8388.
func DefaultServices() []ServiceSpec {
	return []ServiceSpec{
		{Name: "xray", Port: 443, ProcessRef: "xray-reality"},
		{Name: "shadowsocks", Port: 8388, ProcessRef: "shadowsocks-fallback"},
	}
}
