package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/artpar/stagehand/internal/core/compose"
)

// =============================================================================
// Docker Client Implementation
// =============================================================================

// Client looks up the containers of compose projects.
type Client struct {
	api    ContainerAPI
	closer io.Closer
	logger *slog.Logger
}

// NewClient creates a client for the Docker Engine API.
// If host is empty, it uses the default Docker host from environment.
// On macOS with Docker Desktop, it automatically detects the correct socket.
func NewClient(host string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "docker")

	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewDockerError("NewClient", "", "", err.Error(), ErrConnectionFailed)
	}

	ctx := context.Background()
	if _, pingErr := cli.Ping(ctx); pingErr != nil && host == "" {
		homeDir, _ := os.UserHomeDir()
		desktopSocket := "unix://" + homeDir + "/.docker/run/docker.sock"

		cli2, err2 := client.NewClientWithOpts(
			client.WithHost(desktopSocket),
			client.WithAPIVersionNegotiation(),
		)
		if err2 == nil {
			if _, pingErr2 := cli2.Ping(ctx); pingErr2 == nil {
				logger.Debug("using docker desktop socket", "host", desktopSocket)
				cli.Close()
				return &Client{api: cli2, closer: cli2, logger: logger}, nil
			}
			cli2.Close()
		}
		logger.Warn("docker daemon not reachable", "error", pingErr)
	}

	return &Client{api: cli, closer: cli, logger: logger}, nil
}

// NewClientWithAPI wraps an existing API implementation.
func NewClientWithAPI(api ContainerAPI, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{api: api, logger: logger.With("component", "docker")}
}

// Close closes the Docker client connection.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// =============================================================================
// Port Lookups
// =============================================================================

// ProjectPorts lists the host bindings of all running containers of a compose
// project, ordered by service, container port and protocol.
func (c *Client) ProjectPorts(ctx context.Context, project string) ([]PublishedPort, error) {
	if project == "" {
		return nil, NewDockerError("ProjectPorts", "project", "", "project name is empty", ErrProjectRequired)
	}

	f := filters.NewArgs()
	f.Add("label", fmt.Sprintf("%s=%s", LabelComposeProject, project))

	containers, err := c.api.ContainerList(ctx, container.ListOptions{Filters: f})
	if err != nil {
		return nil, NewDockerError("ProjectPorts", "project", project, err.Error(), err)
	}

	var result []PublishedPort
	for _, ctr := range containers {
		if ctr.Labels[LabelComposeProject] != project {
			continue
		}
		name := ""
		if len(ctr.Names) > 0 {
			name = strings.TrimPrefix(ctr.Names[0], "/")
		}

		for _, p := range ctr.Ports {
			// IPv6 bindings duplicate the IPv4 ones
			if p.PublicPort == 0 || strings.Contains(p.IP, ":") {
				continue
			}
			port, err := nat.NewPort(p.Type, strconv.Itoa(int(p.PrivatePort)))
			if err != nil {
				return nil, NewDockerError("ProjectPorts", "container", name, err.Error(), ErrInvalidPort)
			}
			result = append(result, PublishedPort{
				Service:       ctr.Labels[LabelComposeService],
				ContainerName: name,
				ContainerPort: uint32(port.Int()),
				HostPort:      uint32(p.PublicPort),
				Protocol:      port.Proto(),
				HostIP:        p.IP,
			})
		}
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Service != b.Service {
			return a.Service < b.Service
		}
		if a.ContainerPort != b.ContainerPort {
			return a.ContainerPort < b.ContainerPort
		}
		return a.Protocol < b.Protocol
	})

	c.logger.Debug("listed published ports", "project", project, "count", len(result))
	return result, nil
}

// ResolvePorts returns a copy of spec in which every port bound by a running
// container of the project carries its actual host port.
func (c *Client) ResolvePorts(ctx context.Context, spec *compose.Spec) (*compose.Spec, error) {
	if spec == nil {
		return nil, NewDockerError("ResolvePorts", "project", "", "spec is nil", ErrProjectRequired)
	}

	ports, err := c.ProjectPorts(ctx, spec.Name)
	if err != nil {
		return nil, err
	}

	out := spec
	for _, p := range ports {
		if p.Service == "" {
			continue
		}
		out = out.WithPublished(p.Service, p.ContainerPort, p.Protocol, p.HostPort)
	}
	return out, nil
}
