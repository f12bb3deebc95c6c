// Package clients talks to the interpretation, affect and session-close endpoints.
package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"screening-session-service/internal/observability"
	"screening-session-service/internal/observability/metrics"
)

// DefaultTimeout bounds every collaborator call.
const DefaultTimeout = 30 * time.Second

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Endpoint, e.Status, e.Body)
}

// HTTP is the shared transport for all collaborator clients.
type HTTP struct {
	c       *http.Client
	metrics *metrics.Metrics
}

// NewHTTP returns a transport with the given timeout. A nil metrics uses the defaults.
func NewHTTP(timeout time.Duration, m *metrics.Metrics) *HTTP {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &HTTP{c: &http.Client{Timeout: timeout}, metrics: m}
}

// do sends req inside a client span and decodes a JSON response into out.
func (h *HTTP) do(ctx context.Context, endpoint string, req *http.Request, out any) (err error) {
	ctx, span := observability.StartSpan(ctx, "clients."+endpoint,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("url.path", req.URL.Path),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		h.metrics.RecordBackendRequest(endpoint, err)
	}()

	req = req.WithContext(ctx)
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.Header.Set("Accept", "application/json")
	observability.InjectHeaders(ctx, req.Header)

	resp, err := h.c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s decode: %w", endpoint, err)
	}
	return nil
}
