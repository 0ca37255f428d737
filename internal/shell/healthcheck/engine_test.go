package healthcheck

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/stagehand/internal/core/compose"
	"github.com/artpar/stagehand/internal/core/logs"
	"github.com/artpar/stagehand/internal/shell/composecli"
	"github.com/artpar/stagehand/internal/shell/status"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeProber fails for every URL in down and counts attempts per URL.
type fakeProber struct {
	mu       sync.Mutex
	attempts map[string]int
	down     map[string]bool
	// block makes probes to these URLs wait for ctx to end
	block map[string]bool
}

func newFakeProber() *fakeProber {
	return &fakeProber{
		attempts: make(map[string]int),
		down:     make(map[string]bool),
		block:    make(map[string]bool),
	}
}

func (f *fakeProber) Probe(ctx context.Context, url string, _ map[string]string, _ int) (string, error) {
	f.mu.Lock()
	f.attempts[url]++
	down, block := f.down[url], f.block[url]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if down {
		return "", errors.New("connection refused")
	}
	return `{"status":"ok"}`, nil
}

func (f *fakeProber) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[url]
}

func (f *fakeProber) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, v := range f.attempts {
		n += v
	}
	return n
}

type fakeLogSource struct {
	lines []logs.Line
	opts  composecli.LogsOptions
	calls int
}

func (f *fakeLogSource) StreamLogs(_ context.Context, opts composecli.LogsOptions) logs.Stream {
	f.calls++
	f.opts = opts
	return func(yield func(logs.Line, error) bool) {
		for _, l := range f.lines {
			if !yield(l, nil) {
				return
			}
		}
	}
}

func newTestEngine(source LogSource, prober Prober) (*Engine, *[]time.Duration) {
	e := NewEngine(source, prober, status.Discard, setupTestLogger())
	var sleeps []time.Duration
	var mu sync.Mutex
	e.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		sleeps = append(sleeps, d)
		mu.Unlock()
		return ctx.Err()
	}
	return e, &sleeps
}

func failingCheck(service, url string, retries int) Check {
	return Check{
		Service:       service,
		URL:           url,
		MaxRetries:    retries,
		Timeout:       time.Second,
		ErrorWithLogs: false,
	}
}

// =============================================================================
// Single Check Tests
// =============================================================================

func TestCheck_SucceedsFirstAttempt(t *testing.T) {
	prober := newFakeProber()
	e, sleeps := newTestEngine(nil, prober)

	err := e.Check(context.Background(), NewCheck("web", "http://web/health"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, prober.count("http://web/health"))
	assert.Empty(t, *sleeps)
}

func TestCheck_AttemptsExactlyMaxRetriesPlusOne(t *testing.T) {
	for _, retries := range []int{0, 1, 2, 5} {
		prober := newFakeProber()
		prober.down["http://web/health"] = true
		e, sleeps := newTestEngine(nil, prober)

		c := failingCheck("web", "http://web/health", retries)
		c.Timeout = 250 * time.Millisecond

		err := e.Check(context.Background(), c, nil)
		require.Error(t, err)
		assert.Equal(t, retries+1, prober.count("http://web/health"), "retries=%d", retries)

		// one delay between each pair of consecutive attempts
		require.Len(t, *sleeps, retries)
		for _, d := range *sleeps {
			assert.Equal(t, 250*time.Millisecond, d)
		}
	}
}

func TestCheck_RealDelayBetweenAttempts(t *testing.T) {
	prober := newFakeProber()
	prober.down["http://web/health"] = true
	e := NewEngine(nil, prober, nil, setupTestLogger())

	c := failingCheck("web", "http://web/health", 2)
	c.Timeout = 30 * time.Millisecond

	start := time.Now()
	err := e.Check(context.Background(), c, nil)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, 3, prober.count("http://web/health"))
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
}

func TestCheck_RecoversAfterRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	e, sleeps := newTestEngine(nil, NewHTTPProber(srv.Client()))
	c := NewCheck("web", srv.URL)

	require.NoError(t, e.Check(context.Background(), c, nil))
	assert.Equal(t, int32(3), hits.Load())
	assert.Len(t, *sleeps, 2)
}

func TestCheck_FailureWithoutLogs(t *testing.T) {
	prober := newFakeProber()
	prober.down["http://web/health"] = true
	source := &fakeLogSource{lines: []logs.Line{{Stream: logs.Stdout, Text: "web crashed"}}}
	e, _ := newTestEngine(source, prober)

	err := e.Check(context.Background(), failingCheck("web", "http://web/health", 2), nil)

	var herr *HealthError
	require.ErrorAs(t, err, &herr)
	assert.ErrorIs(t, err, ErrHealthCheckFailed)
	assert.Equal(t, 2, herr.Retries)
	assert.False(t, herr.LogsEnabled)
	assert.Contains(t, err.Error(), "2 retries")
	assert.Contains(t, err.Error(), "logs are disabled")
	assert.Contains(t, err.Error(), "connection refused")
	assert.NotContains(t, err.Error(), "web crashed")
	assert.Zero(t, source.calls, "logs are not fetched when disabled")
}

func TestCheck_FailureWithLogs(t *testing.T) {
	prober := newFakeProber()
	prober.down["http://web/health"] = true
	source := &fakeLogSource{lines: []logs.Line{
		{Stream: logs.Stdout, Text: "web-1  | listening"},
		{Stream: logs.Stdout, Text: "web-1  | panic: database unreachable"},
	}}
	e, _ := newTestEngine(source, prober)

	c := failingCheck("web", "http://web/health", 1)
	c.ErrorWithLogs = true

	err := e.Check(context.Background(), c, nil)

	var herr *HealthError
	require.ErrorAs(t, err, &herr)
	assert.True(t, herr.LogsEnabled)
	assert.Len(t, herr.Logs, 2)
	assert.Contains(t, err.Error(), "1 retries")
	assert.Contains(t, err.Error(), "panic: database unreachable")
	assert.NotContains(t, err.Error(), "logs are disabled")

	assert.Equal(t, []string{"web"}, source.opts.Services)
	assert.Equal(t, DefaultLogTail, source.opts.Tail)
	assert.False(t, source.opts.Follow)
}

func TestCheck_UnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	e, _ := newTestEngine(nil, NewHTTPProber(nil))
	c := failingCheck("web", srv.URL, 0)

	err := e.Check(context.Background(), c, nil)
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.ErrorIs(t, err, ErrHealthCheckFailed)

	c.ExpectStatus = http.StatusTeapot
	assert.NoError(t, e.Check(context.Background(), c, nil))
}

func TestCheck_SendsHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	e, _ := newTestEngine(nil, NewHTTPProber(nil))

	require.NoError(t, e.Check(context.Background(), NewCheck("web", srv.URL), nil))
	assert.Equal(t, "application/json", got.Get("Content-Type"))

	c := NewCheck("web", srv.URL)
	c.Headers = map[string]string{"Authorization": "Bearer t"}
	require.NoError(t, e.Check(context.Background(), c, nil))
	assert.Equal(t, "Bearer t", got.Get("Authorization"))
}

func TestCheck_CancelledDuringDelay(t *testing.T) {
	prober := newFakeProber()
	prober.down["http://web/health"] = true
	e := NewEngine(nil, prober, nil, setupTestLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := failingCheck("web", "http://web/health", 10)
	c.Timeout = time.Hour

	start := time.Now()
	err := e.Check(ctx, c, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, prober.count("http://web/health"))
}

// =============================================================================
// URL Resolution Tests
// =============================================================================

func TestCheck_URLFuncRequiresSpec(t *testing.T) {
	prober := newFakeProber()
	e, _ := newTestEngine(nil, prober)

	c := NewPortCheck("web", 80, "/health")

	err := e.Check(context.Background(), c, nil)
	assert.ErrorIs(t, err, ErrNotInspected)
	assert.Zero(t, prober.total())

	spec := (&compose.Spec{Name: "itest"}).WithPublished("web", 80, "tcp", 32768)
	require.NoError(t, e.Check(context.Background(), c, spec))
	assert.Equal(t, 1, prober.count("http://127.0.0.1:32768/health"))
}

func TestResolveURL(t *testing.T) {
	spec := (&compose.Spec{Name: "itest"}).WithPublished("web", 80, "tcp", 8080)

	url, err := NewCheck("web", "http://localhost:1/x").ResolveURL(nil)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:1/x", url)

	_, err = Check{Service: "web"}.ResolveURL(spec)
	assert.ErrorIs(t, err, ErrNoURL)

	_, err = NewPortCheck("web", 443, "/").ResolveURL(spec)
	assert.ErrorIs(t, err, compose.ErrPortNotPublished)
}

// =============================================================================
// Fan-out Tests
// =============================================================================

func TestAwaitAll_FiltersServices(t *testing.T) {
	prober := newFakeProber()
	e, _ := newTestEngine(nil, prober)

	checks := []Check{
		NewCheck("web", "http://web/health"),
		NewCheck("api", "http://api/health"),
		NewCheck("web", "http://web/ready"),
		NewCheck("db", "http://db/health"),
	}

	require.NoError(t, e.AwaitAll(context.Background(), checks, nil, []string{"web"}))
	assert.Equal(t, 1, prober.count("http://web/health"))
	assert.Equal(t, 1, prober.count("http://web/ready"))
	assert.Zero(t, prober.count("http://api/health"))
	assert.Zero(t, prober.count("http://db/health"))

	prober = newFakeProber()
	e, _ = newTestEngine(nil, prober)
	require.NoError(t, e.AwaitAll(context.Background(), checks, nil, nil))
	assert.Equal(t, 4, prober.total(), "nil filter runs every check")

	prober = newFakeProber()
	e, _ = newTestEngine(nil, prober)
	require.NoError(t, e.AwaitAll(context.Background(), checks, nil, []string{}))
	assert.Zero(t, prober.total())
}

func TestAwaitAll_FailFast(t *testing.T) {
	prober := newFakeProber()
	prober.down["http://web/health"] = true
	prober.block["http://api/health"] = true
	e := NewEngine(nil, prober, nil, setupTestLogger())

	slow := failingCheck("api", "http://api/health", 100)
	slow.Timeout = time.Hour
	checks := []Check{failingCheck("web", "http://web/health", 0), slow}

	start := time.Now()
	err := e.AwaitAll(context.Background(), checks, nil, []string{"web", "api"})
	elapsed := time.Since(start)

	var herr *HealthError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "web", herr.Service)
	assert.Less(t, elapsed, 5*time.Second, "does not wait for the slow check's retries")
	assert.Equal(t, 1, prober.count("http://api/health"))
}

func TestAwaitAll_RunsConcurrently(t *testing.T) {
	var inflight, peak atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		if n == 3 {
			close(release)
		}
		select {
		case <-release:
		case <-time.After(5 * time.Second):
		}
		inflight.Add(-1)
	}))
	defer srv.Close()

	e, _ := newTestEngine(nil, NewHTTPProber(nil))
	checks := []Check{
		NewCheck("a", srv.URL+"/a"),
		NewCheck("b", srv.URL+"/b"),
		NewCheck("c", srv.URL+"/c"),
	}

	require.NoError(t, e.AwaitAll(context.Background(), checks, nil, nil))
	assert.Equal(t, int32(3), peak.Load())
}

// =============================================================================
// Error Type Tests
// =============================================================================

func TestHealthError_Error(t *testing.T) {
	err := &HealthError{Service: "web", Retries: 2, LogsEnabled: true,
		Logs:    []logs.Line{{Stream: logs.Stderr, Text: "boom"}},
		LogsErr: errors.New("no such service"),
	}
	msg := err.Error()
	assert.True(t, strings.HasPrefix(msg, "health check for service web failed after 2 retries"))
	assert.Contains(t, msg, "captured logs from services [web]:\nboom")
	assert.Contains(t, msg, "log retrieval failed: no such service")
	assert.ErrorIs(t, err, ErrHealthCheckFailed)
}

func TestFilter(t *testing.T) {
	checks := []Check{{Service: "a"}, {Service: "b"}, {Service: "a", Name: "a2"}}
	assert.Len(t, Filter(checks, nil), 3)
	assert.Equal(t, []Check{{Service: "a"}, {Service: "a", Name: "a2"}}, Filter(checks, []string{"a"}))
	assert.Empty(t, Filter(checks, []string{"zzz"}))
}

func TestCheck_DisplayName(t *testing.T) {
	assert.Equal(t, "web", Check{Service: "web"}.DisplayName())
	assert.Equal(t, "web ready", Check{Service: "web", Name: "web ready"}.DisplayName())
}
