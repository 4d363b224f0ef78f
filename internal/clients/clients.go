// Package clients talks to the merchant and payment-provider collaborators.
package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ashendes/storefront-checkout/internal/models"
	"github.com/ashendes/storefront-checkout/internal/patterns"
	"github.com/go-resty/resty/v2"
)

// APIError is a non-2xx answer from a collaborator with its decoded body
type APIError struct {
	Op         string
	StatusCode int
	Body       models.ErrorResponse
}

func (e *APIError) Error() string {
	if msg := e.Body.FirstMessage(); msg != "" {
		return fmt.Sprintf("%s returned status %d: %s", e.Op, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s returned status %d", e.Op, e.StatusCode)
}

// Rejected reports a client-side refusal: the collaborator is healthy and
// answered, so the circuit breaker should not count it.
func (e *APIError) Rejected() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 &&
		e.StatusCode != http.StatusRequestTimeout &&
		e.StatusCode != http.StatusTooManyRequests
}

// Message returns the first structured message from the body, if any.
func (e *APIError) Message() string {
	return e.Body.FirstMessage()
}

// StructuredMessage extracts the first structured message from err, or "".
func StructuredMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message()
	}
	return ""
}

type caller struct {
	http    *resty.Client
	guard   *patterns.Guard
	timeout time.Duration
}

func newCaller(baseURL, name, service string, timeout time.Duration, bulkheadSize int) caller {
	return caller{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(patterns.SlowServiceTimeout).
			SetRetryCount(0), // retries are explicit shopper actions
		guard:   patterns.NewGuard(name, service, bulkheadSize),
		timeout: timeout,
	}
}

// call runs one request under the guard with its own deadline
func (c caller) call(ctx context.Context, op string, timeout time.Duration, result interface{},
	send func(r *resty.Request) (*resty.Response, error)) error {
	return c.guard.Do(ctx, func() error {
		callCtx, cancel := patterns.WithTimeout(ctx, timeout)
		defer cancel()

		var body models.ErrorResponse
		req := c.http.R().
			SetContext(callCtx).
			SetHeader("Content-Type", "application/json").
			SetError(&body)
		if result != nil {
			req.SetResult(result)
		}

		resp, err := send(req)
		if err != nil {
			return fmt.Errorf("%s: HTTP error: %w", op, err)
		}
		if resp.IsError() {
			return &APIError{Op: op, StatusCode: resp.StatusCode(), Body: body}
		}
		return nil
	})
}

func (c caller) Breaker() *patterns.CircuitBreaker {
	return c.guard.Breaker
}
