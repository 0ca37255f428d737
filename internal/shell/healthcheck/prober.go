package healthcheck

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxBodyExcerpt bounds how much of a response body is kept for logging.
const maxBodyExcerpt = 4 * 1024

// DefaultRequestTimeout bounds a single probe request.
const DefaultRequestTimeout = 10 * time.Second

// Prober performs one probe attempt and returns an excerpt of the response.
type Prober interface {
	Probe(ctx context.Context, url string, headers map[string]string, expectStatus int) (string, error)
}

// HTTPProber probes with an HTTP GET.
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber creates an HTTPProber. A nil client gets one with
// DefaultRequestTimeout.
func NewHTTPProber(client *http.Client) *HTTPProber {
	if client == nil {
		client = &http.Client{Timeout: DefaultRequestTimeout}
	}
	return &HTTPProber{client: client}
}

// Probe issues GET url and succeeds when the response carries expectStatus.
func (p *HTTPProber) Probe(ctx context.Context, url string, headers map[string]string, expectStatus int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyExcerpt))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != expectStatus {
		return string(body), fmt.Errorf("%w: got %d, want %d", ErrUnexpectedStatus, resp.StatusCode, expectStatus)
	}
	return string(body), nil
}
