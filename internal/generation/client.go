// Package generation calls the upstream image generation API with bounded retries
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"atelier-api/internal/credentials"
	"atelier-api/internal/metrics"
	"atelier-api/internal/shared"

	"go.uber.org/zap"
)

const generationRoute = "/v1/images/generations"

// transientError marks failures worth another attempt: connection errors,
// timeouts, 5xx and unreadable bodies. Everything else is permanent.
type transientError struct {
	err error
}

func (t *transientError) Error() string { return t.err.Error() }
func (t *transientError) Unwrap() error { return t.err }

// Client issues generation calls. It never writes artifacts; the orchestrator
// owns storage so this stays pure with respect to disk.
type Client struct {
	pool    *credentials.Pool
	log     *zap.SugaredLogger
	timeout time.Duration

	clientsMutex sync.RWMutex
	httpClients  map[string]*http.Client
}

func NewClient(pool *credentials.Pool, timeout time.Duration, log *zap.SugaredLogger) *Client {
	if timeout <= 0 {
		timeout = shared.DefaultGenerationTimeout
	}
	return &Client{
		pool:        pool,
		log:         log,
		timeout:     timeout,
		httpClients: make(map[string]*http.Client),
	}
}

// Generate runs the attempt loop. Transient failures rotate the credential,
// honor the backoff as a real suspension, and are never surfaced individually;
// only the final exhaustion is. Permanent rejections return immediately
// without consuming remaining attempts.
func (c *Client) Generate(ctx context.Context, req Request, policy RetryPolicy) (*Image, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, shared.NewPipelineError(shared.OutcomeRejected, "prompt must not be empty", nil)
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	backoff := policy.Backoff
	if backoff == nil {
		backoff = DefaultBackoff
	}

	payload, err := json.Marshal(apiRequest{
		Model:          req.Model,
		Prompt:         prompt,
		N:              1,
		ResponseFormat: "b64_json",
	})
	if err != nil {
		return nil, shared.NewPipelineError(shared.OutcomeRejected, "failed encoding generation request", err)
	}
	endpoint := strings.TrimSuffix(req.BaseURL, "/") + generationRoute

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := backoff(attempt - 1)
			c.log.Infow("Retrying generation", "attempt", attempt, "max_attempts", policy.MaxAttempts, "delay", delay.String())
			if err := sleep(ctx, delay); err != nil {
				return nil, shared.NewPipelineError(shared.OutcomeExhausted, "generation canceled during backoff", errors.Join(err, lastErr))
			}
		}

		img, err := c.attempt(ctx, endpoint, payload, req.Model)
		if err == nil {
			img.Attempts = attempt
			metrics.GenerationAttempts.WithLabelValues(req.Model, "ok").Inc()
			return img, nil
		}

		var terr *transientError
		if !errors.As(err, &terr) {
			// Permanent: retrying cannot fix a rejected prompt or bad key set
			return nil, err
		}

		metrics.GenerationAttempts.WithLabelValues(req.Model, "transient").Inc()
		c.log.Warnw("Generation attempt failed", "attempt", attempt, "max_attempts", policy.MaxAttempts, "error", terr.err)
		// A failing key may be rate limited upstream; move to the next one
		c.pool.Rotate()
		lastErr = terr.err

		if ctx.Err() != nil {
			return nil, shared.NewPipelineError(shared.OutcomeExhausted, "generation canceled", errors.Join(ctx.Err(), lastErr))
		}
	}

	return nil, shared.NewPipelineError(
		shared.OutcomeExhausted,
		fmt.Sprintf("all %d generation attempts failed", policy.MaxAttempts),
		lastErr,
	)
}

func (c *Client) attempt(ctx context.Context, endpoint string, payload []byte, model string) (*Image, error) {
	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	r, err := http.NewRequestWithContext(rctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, shared.NewPipelineError(shared.OutcomeRejected, "failed building generation request", err)
	}
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Authorization", "Bearer "+c.pool.Current())

	res, err := c.getHTTPClient(endpoint).Do(r)
	if err != nil {
		return nil, &transientError{err: err}
	}
	defer func() {
		if closeErr := res.Body.Close(); closeErr != nil {
			c.log.Warnw("Failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &transientError{err: fmt.Errorf("failed reading response body: %w", err)}
	}

	if res.StatusCode != http.StatusOK {
		detail := upstreamErrorDetail(body, res.StatusCode)
		if isTransientStatus(res.StatusCode) {
			return nil, &transientError{err: errors.New(detail)}
		}
		metrics.GenerationAttempts.WithLabelValues(model, "rejected").Inc()
		return nil, shared.NewPipelineError(shared.OutcomeRejected, detail, nil)
	}

	data, format, err := decodePayload(body)
	if err != nil {
		metrics.GenerationAttempts.WithLabelValues(model, "decode_failed").Inc()
		return nil, err
	}
	return &Image{Bytes: data, Format: format}, nil
}

// isTransientStatus treats server side and throttling codes as retryable.
// Other 4xx mean the request itself is bad and stays bad.
func isTransientStatus(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout
}

func upstreamErrorDetail(body []byte, status int) string {
	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return fmt.Sprintf("upstream error (HTTP %d): %s", status, envelope.Error.Message)
	}
	return fmt.Sprintf("upstream error: HTTP %d", status)
}

func (c *Client) getHTTPClient(endpoint string) *http.Client {
	parsedURL, err := url.Parse(endpoint)
	if err != nil {
		c.log.Warnw("Failed to parse endpoint URL, using full URL as key", "url", endpoint, "error", err)
		parsedURL = &url.URL{Host: endpoint}
	}
	host := parsedURL.Host

	c.clientsMutex.RLock()
	if client, exists := c.httpClients[host]; exists {
		c.clientsMutex.RUnlock()
		return client
	}
	c.clientsMutex.RUnlock()

	c.clientsMutex.Lock()
	defer c.clientsMutex.Unlock()

	if client, exists := c.httpClients[host]; exists {
		return client
	}

	tr := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: 2 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 2 * time.Second,
		DisableKeepAlives:   false,
	}
	// Per request deadlines come from the context; the client itself stays open ended
	client := &http.Client{Transport: tr}

	c.httpClients[host] = client
	c.log.Infow("Created new HTTP client for host", "host", host)

	return client
}
