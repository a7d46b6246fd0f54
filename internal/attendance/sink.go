package attendance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
)

// Sink delivers attendance records. A nil error means the record was accepted.
type Sink interface {
	Deliver(ctx context.Context, rec Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rec Record) error

func (f SinkFunc) Deliver(ctx context.Context, rec Record) error { return f(ctx, rec) }

// DeliveryError is returned when the attendance API answered with a non-success status.
type DeliveryError struct {
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("attendance API returned status %d: %s", e.StatusCode, e.Body)
}

// HTTPSink POSTs records as JSON.
type HTTPSink struct {
	url      string
	client   *http.Client
	timeout  time.Duration
	accepted []int
}

// NewHTTPSink creates a sink for url. Every delivery is bounded by timeout.
func NewHTTPSink(url string, timeout time.Duration) *HTTPSink {
	if url == "" {
		url = constants.DefaultSinkURL
	}
	if timeout <= 0 {
		timeout = constants.DefaultSinkTimeout
	}
	return &HTTPSink{
		url:      url,
		client:   &http.Client{Timeout: timeout},
		timeout:  timeout,
		accepted: []int{http.StatusOK, http.StatusCreated},
	}
}

// URL returns the endpoint records are posted to.
func (s *HTTPSink) URL() string { return s.url }

// Deliver posts rec. Transport errors, timeouts and unexpected statuses are failures.
func (s *HTTPSink) Deliver(ctx context.Context, rec Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("could not marshal record: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", rec.ID.String())

	resp, err := s.client.Do(req) //nolint:gosec // URL comes from validated config
	if err != nil {
		return fmt.Errorf("could not send record: %w", err)
	}
	defer resp.Body.Close()

	if !slices.Contains(s.accepted, resp.StatusCode) {
		return &DeliveryError{StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return "(could not read error body)"
	}
	return string(body)
}
