package healthcheck

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/artpar/stagehand/internal/core/compose"
	"github.com/artpar/stagehand/internal/core/logs"
	"github.com/artpar/stagehand/internal/shell/composecli"
	"github.com/artpar/stagehand/internal/shell/status"
)

// LogSource supplies service logs attached to failures.
type LogSource interface {
	StreamLogs(ctx context.Context, opts composecli.LogsOptions) logs.Stream
}

// Engine runs checks.
type Engine struct {
	source LogSource
	prober Prober
	status status.Logger
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewEngine creates an Engine. source may be nil, in which case failures never
// carry logs. Nil prober, sink and logger get defaults.
func NewEngine(source LogSource, prober Prober, sink status.Logger, logger *slog.Logger) *Engine {
	if prober == nil {
		prober = NewHTTPProber(nil)
	}
	if sink == nil {
		sink = status.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		source: source,
		prober: prober,
		status: sink,
		logger: logger.With("component", "health_check"),
		sleep:  sleepContext,
	}
}

// Check probes c until it succeeds, making at most MaxRetries+1 attempts with
// Timeout between consecutive attempts. The delay is cut short when ctx ends.
func (e *Engine) Check(ctx context.Context, c Check, spec *compose.Spec) (err error) {
	helper := e.status.Status("health " + c.DisplayName())
	helper.Start()
	defer func() { helper.Done(err) }()

	url, err := c.ResolveURL(spec)
	if err != nil {
		return err
	}

	retries := max(c.MaxRetries, 0)
	logger := e.logger.With("service", c.Service, "check", c.DisplayName(), "url", url)

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			helper.Warn("Retrying health check for "+c.Service, "attempt", attempt+1, "of", retries+1)
			if err := e.sleep(ctx, c.Timeout); err != nil {
				return err
			}
		}

		body, probeErr := e.prober.Probe(ctx, url, c.headers(), c.expectStatus())
		if probeErr == nil {
			helper.Info("Health check for " + c.Service + " passed")
			helper.Debug(body)
			logger.Debug("health check passed", "attempt", attempt+1)
			return nil
		}
		lastErr = probeErr
		logger.Debug("health check attempt failed", "attempt", attempt+1, "error", probeErr)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	helper.Error("Failed to check health of " + c.Service)
	herr := &HealthError{
		Name:    c.DisplayName(),
		Service: c.Service,
		URL:     url,
		Retries: retries,
		Err:     lastErr,
	}
	if c.ErrorWithLogs {
		herr.LogsEnabled = true
		herr.Logs, herr.LogsErr = e.tailLogs(ctx, c.Service)
	}
	logger.Warn("health check failed", "retries", retries, "error", lastErr)
	return herr
}

// AwaitAll runs every check whose service is in services (all checks when
// services is nil) concurrently. The first failure cancels the remaining
// checks and is returned; other failures are not collected.
func (e *Engine) AwaitAll(ctx context.Context, checks []Check, spec *compose.Spec, services []string) error {
	selected := Filter(checks, services)
	if len(selected) == 0 {
		return nil
	}

	e.logger.Debug("awaiting health checks", "count", len(selected), "services", services)

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range selected {
		g.Go(func() error {
			return e.Check(gctx, c, spec)
		})
	}
	return g.Wait()
}

func (e *Engine) tailLogs(ctx context.Context, service string) ([]logs.Line, error) {
	if e.source == nil {
		return nil, nil
	}
	return logs.Collect(e.source.StreamLogs(ctx, composecli.LogsOptions{
		Services: []string{service},
		Tail:     DefaultLogTail,
	}))
}

// sleepContext waits for d or until ctx ends.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
