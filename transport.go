package agentpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// maxAttempts is one initial call plus three retries
	maxAttempts    = 4
	requestTimeout = 30 * time.Second
	initialBackoff = 1 * time.Second
	maxBackoff     = 10 * time.Second

	headerRequestID = "X-Request-ID"
)

// Response is a fully read HTTP response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Transport executes one logical HTTP call with bounded retry.
// It holds no per-call state and is safe for concurrent use.
type Transport struct {
	baseURL    string
	apiKey     string
	userAgent  string
	httpClient HTTPDoer
	clock      Clock
	logger     *zap.Logger
	tracer     trace.Tracer
	metrics    *Metrics
}

// newBackOff yields min(2^attempt, 10) seconds for attempt 0, 1, 2, ...
func newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialBackoff
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = maxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do sends method path with body encoded as JSON (nil for no body).
//
// Responses with status < 500 are returned as-is on the first attempt. A 5xx
// is retried while attempts remain and the final 5xx response is returned
// without being turned into an error. Network failures are retried and, once
// all attempts are spent, returned as a *TransportError wrapping the last cause.
func (t *Transport) Do(ctx context.Context, method, path string, headers map[string]string, body any) (*Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	ctx, span := t.tracer.Start(ctx, "agentpay.http",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.path", path),
		),
	)
	defer span.End()

	start := t.clock.Now()
	defer func() { t.metrics.observeDuration(method, t.clock.Now().Sub(start)) }()

	requestID := uuid.NewString()
	bo := newBackOff()
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, t.fail(span, method, path, attempt, err)
		}

		resp, err := t.attempt(ctx, method, path, headers, payload, requestID)
		if err != nil {
			t.metrics.observeAttempt(method, "network_error")
			if ctx.Err() != nil {
				return nil, t.fail(span, method, path, attempt+1, ctx.Err())
			}
			lastErr = err
			if attempt < maxAttempts-1 {
				delay := bo.NextBackOff()
				t.metrics.observeRetry(method, "network_error")
				t.logger.Warn("Request failed, retrying",
					zap.String("method", method),
					zap.String("path", path),
					zap.Int("attempt", attempt+1),
					zap.Duration("backoff", delay),
					zap.Error(err),
				)
				if err := t.clock.Sleep(ctx, delay); err != nil {
					return nil, t.fail(span, method, path, attempt+1, err)
				}
			}
			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError && attempt < maxAttempts-1 {
			t.metrics.observeAttempt(method, "server_error")
			delay := bo.NextBackOff()
			t.metrics.observeRetry(method, "server_error")
			t.logger.Warn("Server error, retrying",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", delay),
			)
			if err := t.clock.Sleep(ctx, delay); err != nil {
				return nil, t.fail(span, method, path, attempt+1, err)
			}
			continue
		}

		outcome := "success"
		if !resp.OK() {
			outcome = fmt.Sprintf("status_%dxx", resp.StatusCode/100)
		}
		t.metrics.observeAttempt(method, outcome)
		span.SetAttributes(
			attribute.Int("http.status_code", resp.StatusCode),
			attribute.Int("agentpay.attempts", attempt+1),
		)
		if resp.StatusCode >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		}
		return resp, nil
	}

	if lastErr == nil {
		lastErr = ErrRequestFailed
	}
	return nil, t.fail(span, method, path, maxAttempts, lastErr)
}

func (t *Transport) fail(span trace.Span, method, path string, attempts int, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	t.logger.Error("Request failed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
	return &TransportError{Method: method, Path: path, Attempts: attempts, Err: err}
}

func (t *Transport) attempt(ctx context.Context, method, path string, headers map[string]string, payload []byte, requestID string) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set(headerRequestID, requestID)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	// set last so caller headers can never drop the credential
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}
