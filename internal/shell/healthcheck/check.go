// Package healthcheck probes services of a running compose project until they
// answer, with bounded retries and fail-fast fan-out across services.
package healthcheck

import (
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/artpar/stagehand/internal/core/compose"
	"github.com/artpar/stagehand/internal/core/logs"
)

// Defaults applied by NewCheck.
const (
	DefaultMaxRetries = 3
	DefaultTimeout    = 3 * time.Second
	DefaultStatus     = http.StatusOK

	// DefaultLogTail is how many lines per container are attached to a
	// failure when ErrorWithLogs is set.
	DefaultLogTail = 50
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrHealthCheckFailed = errors.New("health check failed")
	ErrNotInspected      = errors.New("compose project has not been inspected")
	ErrNoURL             = errors.New("health check has no URL")
	ErrUnexpectedStatus  = errors.New("unexpected status code")
)

// HealthError reports a check that exhausted its retries.
type HealthError struct {
	Name        string
	Service     string
	URL         string
	Retries     int
	LogsEnabled bool
	Logs        []logs.Line
	LogsErr     error // set when the logs could not be retrieved
	Err         error // last probe failure
}

func (e *HealthError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "health check for service %s failed after %d retries", e.Service, e.Retries)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if !e.LogsEnabled {
		b.WriteString(". logs are disabled")
		return b.String()
	}
	b.WriteString("\n\n")
	b.WriteString(logs.FormatCaptured([]string{e.Service}, logs.Texts(e.Logs)))
	if e.LogsErr != nil {
		fmt.Fprintf(&b, "\n(log retrieval failed: %v)", e.LogsErr)
	}
	return b.String()
}

func (e *HealthError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrHealthCheckFailed}
	}
	return []error{ErrHealthCheckFailed, e.Err}
}

// =============================================================================
// Check
// =============================================================================

// URLFunc derives a probe URL from the inspected project, typically to reach a
// host port that is only known once the project is up.
type URLFunc func(spec *compose.Spec) (string, error)

// Check describes how to probe one service. It carries no state; retry
// counters live inside a single Engine.Check call.
type Check struct {
	Name          string            `mapstructure:"name" json:"name,omitempty"`
	Service       string            `mapstructure:"service" json:"service"`
	URL           string            `mapstructure:"url" json:"url,omitempty"`
	URLFunc       URLFunc           `mapstructure:"-" json:"-"`
	MaxRetries    int               `mapstructure:"max_retries" json:"max_retries"`
	Timeout       time.Duration     `mapstructure:"timeout" json:"timeout"` // delay between attempts
	ErrorWithLogs bool              `mapstructure:"error_with_logs" json:"error_with_logs"`
	Headers       map[string]string `mapstructure:"headers" json:"headers,omitempty"`
	ExpectStatus  int               `mapstructure:"expect_status" json:"expect_status,omitempty"`
}

// NewCheck returns a check for a literal URL with default retry settings.
func NewCheck(service, url string) Check {
	return Check{
		Name:          service,
		Service:       service,
		URL:           url,
		MaxRetries:    DefaultMaxRetries,
		Timeout:       DefaultTimeout,
		ErrorWithLogs: true,
		Headers:       DefaultHeaders(),
		ExpectStatus:  DefaultStatus,
	}
}

// NewPortCheck returns a check probing path on the host port published for
// the given container port of service.
func NewPortCheck(service string, containerPort uint32, path string) Check {
	c := NewCheck(service, "")
	c.URLFunc = PortURL(service, containerPort, path)
	return c
}

// DefaultHeaders returns the headers sent when a check sets none.
func DefaultHeaders() map[string]string {
	return map[string]string{"Content-Type": "application/json"}
}

// PortURL returns a URLFunc resolving to http://HOST:PUBLISHED/path.
func PortURL(service string, containerPort uint32, path string) URLFunc {
	return func(spec *compose.Spec) (string, error) {
		return spec.HTTPURL(service, containerPort, path)
	}
}

// DisplayName returns the check name, falling back to the service.
func (c Check) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Service
}

// ResolveURL returns the URL to probe. A literal URL wins; a URLFunc requires
// an inspected project.
func (c Check) ResolveURL(spec *compose.Spec) (string, error) {
	if c.URL != "" {
		return c.URL, nil
	}
	if c.URLFunc == nil {
		return "", fmt.Errorf("%w: %s", ErrNoURL, c.DisplayName())
	}
	if spec == nil {
		return "", fmt.Errorf("resolve URL for %s: %w", c.DisplayName(), ErrNotInspected)
	}
	return c.URLFunc(spec)
}

func (c Check) headers() map[string]string {
	if c.Headers == nil {
		return DefaultHeaders()
	}
	return maps.Clone(c.Headers)
}

func (c Check) expectStatus() int {
	if c.ExpectStatus == 0 {
		return DefaultStatus
	}
	return c.ExpectStatus
}

// Filter returns the checks whose service is listed. A nil list selects every
// check; an empty non-nil list selects none.
func Filter(checks []Check, services []string) []Check {
	if services == nil {
		return slices.Clone(checks)
	}
	var out []Check
	for _, c := range checks {
		if slices.Contains(services, c.Service) {
			out = append(out, c)
		}
	}
	return out
}
