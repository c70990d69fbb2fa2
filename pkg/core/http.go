package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NERVsystems/lkmap/pkg/tracing"
)

// UserAgent identifies lkmap to tile servers and boundary hosts
const UserAgent = "lkmap/0.1 (+https://github.com/NERVsystems/lkmap)"

// RetryOptions configures retry behavior for HTTP requests
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryOptions provides sensible defaults for retries
var DefaultRetryOptions = RetryOptions{
	MaxAttempts:  3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     10 * time.Second,
	Multiplier:   2.0,
}

// SingleAttempt sends a request exactly once
var SingleAttempt = RetryOptions{MaxAttempts: 1}

// DefaultClient provides a pre-configured HTTP client with secure defaults
var DefaultClient = &http.Client{
	Timeout: 30 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	},
}

// RequestFactory is a function that creates a new HTTP request.
// A fresh request is built for every attempt.
type RequestFactory func() (*http.Request, error)

// WithRetryFactory performs HTTP requests created by a factory with retry logic.
// Only a 200 response counts as success; the caller owns the returned body.
func WithRetryFactory(ctx context.Context, factory RequestFactory, client *http.Client, options RetryOptions) (*http.Response, error) {
	ctx, span := tracing.StartSpan(ctx, "http.request_factory",
		trace.WithAttributes(
			attribute.Int("http.retry.max_attempts", options.MaxAttempts),
		),
	)
	defer span.End()

	if options.MaxAttempts < 1 {
		options.MaxAttempts = 1
	}
	if client == nil {
		client = DefaultClient
	}

	var lastErr error
	delay := options.InitialDelay
	logger := slog.Default()

	for attempt := 0; attempt < options.MaxAttempts; attempt++ {
		if attempt > 0 {
			tracing.AddEvent(ctx, "retry_attempt",
				trace.WithAttributes(
					attribute.Int("attempt", attempt+1),
					attribute.Int64("delay_ms", delay.Milliseconds()),
					attribute.String("error", fmt.Sprintf("%v", lastErr)),
				),
			)

			logger.Info("retrying request",
				"attempt", attempt+1,
				"max_attempts", options.MaxAttempts,
				"delay", delay,
				"last_error", lastErr,
			)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				span.SetStatus(codes.Error, "request cancelled")
				return nil, ctx.Err()
			}

			delay = time.Duration(float64(delay) * options.Multiplier)
			if delay > options.MaxDelay {
				delay = options.MaxDelay
			}
		}

		req, err := factory()
		if err != nil {
			lastErr = NewError(ErrInternalError, "failed to create request").
				WithGuidance("Unable to create HTTP request. Check the request parameters")
			logger.Error("request creation failed",
				"error", err,
				"attempt", attempt+1,
			)
			continue
		}
		req = req.WithContext(ctx)
		if req.Header.Get("User-Agent") == "" {
			req.Header.Set("User-Agent", UserAgent)
		}

		resp, err := client.Do(req)
		if err == nil && resp.StatusCode == http.StatusOK {
			span.SetAttributes(
				attribute.String(tracing.AttrHTTPMethod, req.Method),
				attribute.String("http.url", req.URL.String()),
				attribute.Int(tracing.AttrHTTPStatusCode, resp.StatusCode),
				attribute.Int("http.retry.attempts", attempt+1),
			)
			span.SetStatus(codes.Ok, "")

			logger.Debug("request successful",
				"status", resp.StatusCode,
				"content_length", resp.ContentLength,
				"url", req.URL.String(),
			)
			return resp, nil
		}

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				span.SetStatus(codes.Error, "request cancelled")
				return nil, ctxErr
			}
			lastErr = NewError(ErrNetworkError, err.Error()).
				WithGuidance("Check that the host is reachable")
			logger.Debug("request failed",
				"error", err,
				"attempt", attempt+1,
				"url", req.URL.String(),
			)
		} else {
			lastErr = ServiceError(req.URL.Host, resp.StatusCode, fmt.Sprintf("HTTP status %d", resp.StatusCode))
			logger.Debug("request returned error status",
				"status", resp.StatusCode,
				"attempt", attempt+1,
				"url", req.URL.String(),
			)
			if err := resp.Body.Close(); err != nil {
				logger.Warn("failed to close response body", "error", err)
			}
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "request failed")
	span.SetAttributes(
		attribute.Int("http.retry.attempts", options.MaxAttempts),
		attribute.String("http.retry.final_error", fmt.Sprintf("%v", lastErr)),
	)

	var mcpErr *MCPError
	if errors.As(lastErr, &mcpErr) && options.MaxAttempts > 1 {
		return nil, mcpErr.WithGuidance("Maximum retry attempts reached. " + mcpErr.Guidance)
	}
	return nil, lastErr
}
