package docker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/stagehand/internal/core/compose"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAPI struct {
	containers []container.Summary
	err        error
	lastOpts   container.ListOptions
}

func (f *fakeAPI) ContainerList(_ context.Context, options container.ListOptions) ([]container.Summary, error) {
	f.lastOpts = options
	return f.containers, f.err
}

func projectContainer(project, service, name string, ports ...container.Port) container.Summary {
	return container.Summary{
		Names: []string{"/" + name},
		Labels: map[string]string{
			LabelComposeProject: project,
			LabelComposeService: service,
		},
		Ports: ports,
	}
}

// =============================================================================
// ProjectPorts Tests
// =============================================================================

func TestProjectPorts(t *testing.T) {
	api := &fakeAPI{containers: []container.Summary{
		projectContainer("itest", "web", "itest-web-1",
			container.Port{IP: "0.0.0.0", PrivatePort: 80, PublicPort: 32768, Type: "tcp"},
			container.Port{IP: "::", PrivatePort: 80, PublicPort: 32768, Type: "tcp"},
			container.Port{PrivatePort: 443, Type: "tcp"},
		),
		projectContainer("itest", "api", "itest-api-1",
			container.Port{IP: "127.0.0.1", PrivatePort: 9000, PublicPort: 49153, Type: "tcp"},
		),
		projectContainer("other", "web", "other-web-1",
			container.Port{IP: "0.0.0.0", PrivatePort: 80, PublicPort: 8080, Type: "tcp"},
		),
	}}
	c := NewClientWithAPI(api, setupTestLogger())

	ports, err := c.ProjectPorts(context.Background(), "itest")
	require.NoError(t, err)

	assert.Equal(t, []PublishedPort{
		{Service: "api", ContainerName: "itest-api-1", ContainerPort: 9000, HostPort: 49153, Protocol: "tcp", HostIP: "127.0.0.1"},
		{Service: "web", ContainerName: "itest-web-1", ContainerPort: 80, HostPort: 32768, Protocol: "tcp", HostIP: "0.0.0.0"},
	}, ports)
	assert.Equal(t, []string{LabelComposeProject + "=itest"}, api.lastOpts.Filters.Get("label"))
}

func TestProjectPorts_Errors(t *testing.T) {
	c := NewClientWithAPI(&fakeAPI{}, setupTestLogger())
	_, err := c.ProjectPorts(context.Background(), "")
	assert.ErrorIs(t, err, ErrProjectRequired)

	boom := errors.New("daemon gone")
	c = NewClientWithAPI(&fakeAPI{err: boom}, setupTestLogger())
	_, err = c.ProjectPorts(context.Background(), "itest")
	assert.ErrorIs(t, err, boom)

	var dockerErr *DockerError
	require.ErrorAs(t, err, &dockerErr)
	assert.Equal(t, "ProjectPorts", dockerErr.Op)
}

// =============================================================================
// ResolvePorts Tests
// =============================================================================

func TestResolvePorts(t *testing.T) {
	spec := &compose.Spec{
		Name: "itest",
		Services: map[string]compose.Service{
			"web": {Name: "web", Ports: []compose.Port{{Target: 80, Protocol: "tcp"}}},
		},
	}
	api := &fakeAPI{containers: []container.Summary{
		projectContainer("itest", "web", "itest-web-1",
			container.Port{IP: "0.0.0.0", PrivatePort: 80, PublicPort: 32768, Type: "tcp"},
		),
	}}
	c := NewClientWithAPI(api, setupTestLogger())

	resolved, err := c.ResolvePorts(context.Background(), spec)
	require.NoError(t, err)

	port, err := resolved.PublishedPort("web", 80)
	require.NoError(t, err)
	assert.Equal(t, uint32(32768), port)

	_, err = spec.PublishedPort("web", 80)
	assert.ErrorIs(t, err, compose.ErrPortNotPublished, "input spec is not modified")
}

func TestResolvePorts_NilSpec(t *testing.T) {
	c := NewClientWithAPI(&fakeAPI{}, nil)
	_, err := c.ResolvePorts(context.Background(), nil)
	assert.ErrorIs(t, err, ErrProjectRequired)
	assert.NoError(t, c.Close())
}

// =============================================================================
// Error Type Tests
// =============================================================================

func TestDockerError_Error(t *testing.T) {
	tests := []struct {
		err  *DockerError
		want string
	}{
		{NewDockerError("ProjectPorts", "project", "itest", "boom", nil), "ProjectPorts project itest: boom"},
		{NewDockerError("ProjectPorts", "project", "", "boom", nil), "ProjectPorts project: boom"},
		{NewDockerError("NewClient", "", "", "boom", nil), "NewClient: boom"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}

func TestDockerError_Unwrap(t *testing.T) {
	err := NewDockerError("NewClient", "", "", "no socket", ErrConnectionFailed)
	assert.ErrorIs(t, err, ErrConnectionFailed)
}
