package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	containertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

const (
	defaultAPITimeout = 5 * time.Second
	// defaultStopGrace is the SIGTERM grace period handed to the daemon on restart.
	defaultStopGrace = 10 * time.Second
)

// DockerClient implements ContainerProber and Restarter using the Docker Engine API.
type DockerClient struct {
	api       dockerAPI
	timeout   time.Duration
	stopGrace time.Duration
}

var (
	_ ContainerProber = (*DockerClient)(nil)
	_ Restarter       = (*DockerClient)(nil)
)

// NewDockerClient initializes a Docker client for the given API host.
// An empty host falls back to DOCKER_HOST and the platform default socket.
func NewDockerClient(host string, timeout time.Duration) (*DockerClient, error) {
	if timeout <= 0 {
		timeout = defaultAPITimeout
	}

	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	api, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	return &DockerClient{
		api:       api,
		timeout:   timeout,
		stopGrace: defaultStopGrace,
	}, nil
}

// Ping validates connectivity to the Docker daemon.
func (c *DockerClient) Ping(ctx context.Context) error {
	if c == nil || c.api == nil {
		return errors.New("docker client is not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.api.Ping(ctx)
	return err
}

// IsRunning implements ContainerProber.
func (c *DockerClient) IsRunning(ctx context.Context, ref string, timeout time.Duration) bool {
	running, err := c.State(ctx, ref, timeout)
	return err == nil && running
}

// State reports whether ref is running, surfacing inspection errors.
func (c *DockerClient) State(ctx context.Context, ref string, timeout time.Duration) (bool, error) {
	if c == nil || c.api == nil {
		return false, errors.New("docker client is not initialized")
	}
	if ref == "" {
		return false, errors.New("container reference is empty")
	}
	if timeout <= 0 {
		timeout = c.timeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	info, err := c.api.ContainerInspect(ctx, ref)
	if err != nil {
		return false, fmt.Errorf("inspect container %s: %w", ref, err)
	}
	if info.ContainerJSONBase == nil || info.State == nil {
		return false, fmt.Errorf("inspect container %s: state missing", ref)
	}
	return info.State.Running, nil
}

// Restart implements Restarter. The stop grace period is capped so that the
// daemon always finishes inside timeout.
func (c *DockerClient) Restart(ctx context.Context, ref string, timeout time.Duration) error {
	if c == nil || c.api == nil {
		return errors.New("docker client is not initialized")
	}
	if ref == "" {
		return errors.New("container reference is empty")
	}
	if timeout <= 0 {
		return errors.New("restart timeout must be greater than zero")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	grace := c.stopGrace
	if grace >= timeout {
		grace = timeout / 2
	}
	seconds := int(grace / time.Second)

	if err := c.api.ContainerRestart(ctx, ref, containertypes.StopOptions{Timeout: &seconds}); err != nil {
		return fmt.Errorf("restart container %s: %w", ref, err)
	}
	return nil
}

// Close releases resources associated with the client.
func (c *DockerClient) Close() error {
	if c == nil || c.api == nil {
		return nil
	}
	return c.api.Close()
}
