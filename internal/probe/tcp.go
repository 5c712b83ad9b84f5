package probe

import (
	"context"
	"net"
	"strconv"
	"time"
)

// TCPProber dials TCP endpoints.
type TCPProber struct{}

// NewTCPProber returns a PortProber backed by net.Dialer.
func NewTCPProber() *TCPProber {
	return &TCPProber{}
}

// ProbeTCP implements PortProber.
func (p *TCPProber) ProbeTCP(ctx context.Context, host string, port int, timeout time.Duration) bool {
	if port <= 0 || port > 65535 || timeout <= 0 {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
