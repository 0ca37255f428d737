// Package docker reads the state of running compose projects from the Docker
// Engine API.
package docker

import (
	"context"

	"github.com/docker/docker/api/types/container"
)

// Labels set by docker compose on every container it creates.
const (
	LabelComposeProject = "com.docker.compose.project"
	LabelComposeService = "com.docker.compose.service"
)

// ContainerAPI is the subset of the Docker SDK used by this package.
type ContainerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
}

// PublishedPort is a container port bound on the host.
type PublishedPort struct {
	Service       string
	ContainerName string
	ContainerPort uint32
	HostPort      uint32
	Protocol      string // "tcp" or "udp"
	HostIP        string
}
