// Package probe holds the health checks and the restart capability used by
// the watchdog: a TCP connect probe and a Docker-backed container probe.
package probe

import (
	"context"
	"time"
)

// PortProber reports whether a TCP port accepts connections.
type PortProber interface {
	// ProbeTCP returns true iff a connection to host:port succeeds before timeout.
	// Any error (DNS, refused, timeout) yields false.
	ProbeTCP(ctx context.Context, host string, port int, timeout time.Duration) bool
}

// ContainerProber reports whether a container is in the running state.
type ContainerProber interface {
	// IsRunning returns true iff ref is running. Any error yields false.
	IsRunning(ctx context.Context, ref string, timeout time.Duration) bool
}

// Restarter asks the container manager to restart a unit.
type Restarter interface {
	// Restart returns nil iff the manager reported success before timeout.
	Restart(ctx context.Context, ref string, timeout time.Duration) error
}
