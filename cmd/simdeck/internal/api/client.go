// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/util"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// DefaultBaseURL is where a locally started backend listens.
	DefaultBaseURL = "http://localhost:5001/api"

	// DefaultMaxAttempts is the total attempt budget for mutating calls.
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the first retry delay; it doubles per attempt.
	DefaultBaseDelay = 1 * time.Second

	// DefaultMaxDelay caps the doubling.
	DefaultMaxDelay = 30 * time.Second

	// DefaultJitter spreads each retry delay by up to ±10%.
	DefaultJitter = 0.1

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 64 << 20

	// requestIDHeader carries a per-request UUID for server-side correlation.
	requestIDHeader = "X-Request-ID"

	tracerName = "github.com/AleutianAI/simdeck/api"
)

// =============================================================================
// Config
// =============================================================================

// Config holds client settings.
type Config struct {
	// BaseURL is the API root, e.g. "http://localhost:5001/api".
	BaseURL string `validate:"required,url"`

	// Timeout bounds one HTTP request end to end.
	Timeout time.Duration

	// MaxAttempts is the total attempt budget for mutating calls.
	MaxAttempts int `validate:"gte=1,lte=10"`

	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration

	// MaxDelay caps the retry delay.
	MaxDelay time.Duration

	// Jitter is the fraction each retry delay is randomly spread by.
	// Zero keeps delays exact.
	Jitter float64 `validate:"gte=0,lte=1"`

	// RequestsPerSecond limits outgoing requests. Zero disables limiting.
	RequestsPerSecond float64 `validate:"gte=0"`

	// Burst is the limiter bucket size.
	Burst int `validate:"gte=0"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		Timeout:           util.DefaultRequestTimeout,
		MaxAttempts:       DefaultMaxAttempts,
		BaseDelay:         DefaultBaseDelay,
		MaxDelay:          DefaultMaxDelay,
		Jitter:            DefaultJitter,
		RequestsPerSecond: 20,
		Burst:             10,
	}
}

// RequestObserver receives one callback per finished request and per retry.
// internal/metrics implements it.
type RequestObserver interface {
	ObserveRequest(method, route string, status int, elapsed time.Duration)
	ObserveRetry(operation string, attempt int)
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, string, int, time.Duration) {}
func (nopObserver) ObserveRetry(string, int)                          {}

// =============================================================================
// Client
// =============================================================================

// Client talks to the simulation backend.
//
// # Description
//
// Client unwraps the response envelope, stamps every request with a
// request id and a tracing span, rate limits outgoing calls, and retries
// mutating calls with exponential backoff.
//
// # Thread Safety
//
// Safe for concurrent use.
type Client struct {
	cfg      Config
	base     *url.URL
	http     *http.Client
	logger   *slog.Logger
	tracer   trace.Tracer
	limiter  *rate.Limiter
	observer RequestObserver
	sleep    func(context.Context, time.Duration) error
	validate *validator.Validate
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTracer sets the tracer used for request spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// WithObserver sets the request observer.
func WithObserver(o RequestObserver) Option {
	return func(c *Client) { c.observer = o }
}

// WithSleeper replaces the retry sleep. Tests use it to skip real delays.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// New creates a Client.
//
// # Inputs
//
//   - cfg: Client settings. Zero durations fall back to defaults.
//   - opts: Optional overrides.
//
// # Outputs
//
//   - *Client: Ready to use
//   - error: Non-nil if cfg fails validation
func New(cfg Config, opts ...Option) (*Client, error) {
	v := validator.New()
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if err := v.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: client config: %v", ErrInvalidRequest, err)
	}
	cfg.Timeout = util.EnforceMinTimeout(util.EnforceDefaultTimeout(cfg.Timeout, util.DefaultRequestTimeout), util.MinRequestTimeout)
	cfg.BaseDelay = util.EnforceDefaultTimeout(cfg.BaseDelay, DefaultBaseDelay)
	cfg.MaxDelay = util.EnforceDefaultTimeout(cfg.MaxDelay, DefaultMaxDelay)

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: base url: %v", ErrInvalidRequest, err)
	}

	c := &Client{
		cfg:      cfg,
		base:     base,
		http:     &http.Client{Timeout: cfg.Timeout},
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
		observer: nopObserver{},
		sleep:    sleepWithContext,
		validate: v,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// =============================================================================
// Request Plumbing
// =============================================================================

// call describes one HTTP request. Route is the templated path used for
// span names and metrics; Path is the concrete path.
type call struct {
	Method      string
	Route       string
	Path        string
	Query       url.Values
	Body        []byte
	ContentType string
}

// do sends one request and decodes the envelope's data into out.
func (c *Client) do(ctx context.Context, req call, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &APIError{Method: req.Method, Endpoint: req.Route, Message: "rate limiter", Err: err}
		}
	}

	ctx, span := c.tracer.Start(ctx, req.Method+" "+req.Route, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	requestID := uuid.NewString()
	span.SetAttributes(
		attribute.String("http.request.method", req.Method),
		attribute.String("http.route", req.Route),
		attribute.String("simdeck.request_id", requestID),
	)

	target := *c.base
	target.Path = c.base.Path + req.Path
	if len(req.Query) > 0 {
		target.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return &APIError{Method: req.Method, Endpoint: req.Route, Message: "build request", Err: err}
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(requestIDHeader, requestID)
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.observer.ObserveRequest(req.Method, req.Route, 0, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return &APIError{Method: req.Method, Endpoint: req.Route, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	elapsed := time.Since(start)
	c.observer.ObserveRequest(req.Method, req.Route, resp.StatusCode, elapsed)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read body")
		return &APIError{Method: req.Method, Endpoint: req.Route, Status: resp.StatusCode, Message: "read body", Err: err}
	}

	c.logger.Debug("backend request",
		"method", req.Method,
		"route", req.Route,
		"status", resp.StatusCode,
		"elapsed_ms", elapsed.Milliseconds(),
		"request_id", requestID,
	)

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 || decodeErr != nil || !env.Success {
		apiErr := &APIError{Method: req.Method, Endpoint: req.Route, Status: resp.StatusCode}
		switch {
		case env.Error != "":
			apiErr.Message = env.Error
		case decodeErr != nil:
			apiErr.Message = "invalid response envelope"
			apiErr.Err = decodeErr
		case resp.StatusCode >= 200 && resp.StatusCode <= 299:
			apiErr.Message = "request reported failure"
		default:
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		span.SetStatus(codes.Error, apiErr.Message)
		return apiErr
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode data")
		return &APIError{Method: req.Method, Endpoint: req.Route, Status: resp.StatusCode, Message: "decode data", Err: err}
	}
	return nil
}

func (c *Client) get(ctx context.Context, route, path string, query url.Values, out any) error {
	return c.do(ctx, call{Method: http.MethodGet, Route: route, Path: path, Query: query}, out)
}

func (c *Client) postJSON(ctx context.Context, route, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrInvalidRequest, route, err)
	}
	return c.do(ctx, call{Method: http.MethodPost, Route: route, Path: path, Body: body, ContentType: "application/json"}, out)
}

// mutate runs fn until it succeeds, fails with a non-retryable error, or
// the attempt budget is spent.
//
// # Description
//
// Delay before attempt n (n >= 2) is BaseDelay * 2^(n-2), capped at
// MaxDelay. Every retry is logged at warn. A context cancellation ends the
// loop immediately.
//
// # Outputs
//
//   - error: nil, or a *MutationFailure wrapping the last error
func (c *Client) mutate(ctx context.Context, operation string, fn func(context.Context) error) error {
	var lastErr error
	attempt := 0
	for attempt < c.cfg.MaxAttempts {
		attempt++
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) || attempt >= c.cfg.MaxAttempts {
			break
		}

		delay := c.backoff(attempt)
		c.observer.ObserveRetry(operation, attempt)
		c.logger.Warn("retrying backend mutation",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", c.cfg.MaxAttempts,
			"delay", delay,
			"error", lastErr,
		)
		if err := c.sleep(ctx, delay); err != nil {
			lastErr = errors.Join(lastErr, err)
			break
		}
	}
	return &MutationFailure{Operation: operation, Attempts: attempt, Err: lastErr}
}

// backoff returns the delay after the given failed attempt (1-based),
// doubled per attempt, capped at MaxDelay, then jittered.
func (c *Client) backoff(attempt int) time.Duration {
	delay := c.cfg.BaseDelay
	for i := 1; i < attempt && delay < c.cfg.MaxDelay; i++ {
		delay *= 2
	}
	if delay > c.cfg.MaxDelay {
		delay = c.cfg.MaxDelay
	}
	return applyJitter(delay, c.cfg.Jitter)
}

// applyJitter multiplies d by a random factor in [1-jitter, 1+jitter].
// Uses math/rand; the spread only needs to desynchronize clients.
func applyJitter(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	factor := 1.0 + (rand.Float64()*2-1)*jitter
	return time.Duration(float64(d) * factor)
}

// sleepWithContext sleeps for d or until ctx is done.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) check(v any) error {
	if err := c.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}
