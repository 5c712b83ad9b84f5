package probe

import (
	"context"

	dockertypes "github.com/docker/docker/api/types"
	containertypes "github.com/docker/docker/api/types/container"
)

// dockerAPI is the subset of the Docker client used by DockerClient.
// Tests substitute an in-memory implementation.
type dockerAPI interface {
	Ping(ctx context.Context) (dockertypes.Ping, error)
	ContainerInspect(ctx context.Context, containerID string) (dockertypes.ContainerJSON, error)
	ContainerRestart(ctx context.Context, containerID string, options containertypes.StopOptions) error
	Close() error
}
