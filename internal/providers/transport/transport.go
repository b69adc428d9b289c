// Package transport is the JSON-over-HTTP layer shared by the generation
// provider clients. It owns the bounded retry policy and the classification of
// provider failures into transient and rejected errors.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"ugcserver/internal/domain"
	"ugcserver/internal/infra"
)

const maxErrorBody = 1024

// Policy bounds automatic retries of transient failures.
type Policy struct {
	Retries   int
	BaseDelay time.Duration
	MaxJitter time.Duration
}

var (
	// DefaultPolicy applies to submissions: two retries with a 500ms linear step.
	DefaultPolicy = Policy{Retries: 2, BaseDelay: 500 * time.Millisecond, MaxJitter: 200 * time.Millisecond}
	// PollPolicy applies to status polling, which is repeated anyway.
	PollPolicy = Policy{Retries: 1, BaseDelay: 300 * time.Millisecond, MaxJitter: 200 * time.Millisecond}
)

// Budget is the longest a call under p can take when every attempt runs
// for perAttempt.
func (p Policy) Budget(perAttempt time.Duration) time.Duration {
	retries := p.Retries
	if retries < 0 {
		retries = 0
	}
	total := time.Duration(retries+1) * perAttempt
	for i := 1; i <= retries; i++ {
		total += p.BaseDelay*time.Duration(i) + p.MaxJitter
	}
	return total
}

// linearBackOff waits base*(n+1) plus jitter before the n-th retry.
type linearBackOff struct {
	policy  Policy
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	d := b.policy.BaseDelay * time.Duration(b.attempt+1)
	if b.policy.MaxJitter > 0 {
		d += time.Duration(rand.Int63n(int64(b.policy.MaxJitter)))
	}
	b.attempt++
	return d
}

func (b *linearBackOff) Reset() { b.attempt = 0 }

// StatusError is a non-2xx provider response.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("HTTP %d %s", e.StatusCode, e.Body)
	if e.Provider == "" {
		return strings.TrimSpace(msg)
	}
	return strings.TrimSpace(e.Provider + ": " + msg)
}

// Transient reports whether the response is worth retrying.
func (e *StatusError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case domain.ErrTransientProvider:
		return e.Transient()
	case domain.ErrProviderRejected:
		return !e.Transient()
	}
	return false
}

// Request describes one JSON call. Body is encoded once and replayed on every
// attempt.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   any
}

// Caller performs JSON requests against a single provider.
type Caller struct {
	provider   string
	httpClient *http.Client
	logger     *infra.Logger
}

// NewCaller builds a Caller. A nil client falls back to a 60s timeout client.
func NewCaller(provider string, httpClient *http.Client, logger *infra.Logger) *Caller {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Caller{provider: provider, httpClient: httpClient, logger: infra.LoggerOrDiscard(logger)}
}

// DoJSON sends req and decodes a 2xx body into out. 5xx and 429 responses are
// retried within policy; anything else is returned immediately.
func (c *Caller) DoJSON(ctx context.Context, policy Policy, req Request, out any) error {
	var payload []byte
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", c.provider, err)
		}
		payload = b
	}

	attempt := 0
	operation := func() error {
		attempt++
		return c.once(ctx, req, payload, out)
	}

	var b backoff.BackOff = &linearBackOff{policy: policy}
	retries := policy.Retries
	if retries < 0 {
		retries = 0
	}
	b = backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)

	err := backoff.RetryNotify(operation, b, func(err error, wait time.Duration) {
		c.logger.Debug().
			Err(err).
			Str("provider", c.provider).
			Str("url", req.URL).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("retrying provider call")
	})
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("provider", c.provider).
			Str("url", req.URL).
			Int("attempts", attempt).
			Msg("provider call failed")
	}
	return err
}

func (c *Caller) once(ctx context.Context, req Request, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("%s: build request: %w", c.provider, err))
	}
	for k, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("%s: http request: %w", c.provider, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("%s: read response: %w", c.provider, err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{
			Provider:   c.provider,
			StatusCode: resp.StatusCode,
			Body:       truncate(strings.TrimSpace(string(raw)), maxErrorBody),
		}
		if statusErr.Transient() {
			return statusErr
		}
		return backoff.Permanent(statusErr)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return backoff.Permanent(fmt.Errorf("%s: decode response: %w", c.provider, err))
	}
	return nil
}

// IsStatus reports whether err carries a provider response with the given code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == code
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
