package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// transientStatusCodes are HTTP statuses worth another attempt.
var transientStatusCodes = map[int]struct{}{
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

// transientTokens catch wrapped errors that lost their type on the way up.
var transientTokens = []string{
	"timeout",
	"timed out",
	"temporarily",
	"rate limit",
	"429",
	"500",
	"502",
	"503",
	"504",
}

// StatusError carries the HTTP status of a failed upstream call.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
	}
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// RetryableError marks an error as transient regardless of its contents.
type RetryableError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *RetryableError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%v (retry after %v)", e.Err, e.RetryAfter)
	}
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError wraps err so IsTransient reports true.
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsTransientStatus reports whether an HTTP status code is retried.
func IsTransientStatus(code int) bool {
	_, ok := transientStatusCodes[code]
	return ok
}

// IsTransient classifies err as a timeout, rate limit or transient 5xx.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return true
	}

	var status *StatusError
	if errors.As(err, &status) {
		return IsTransientStatus(status.Code)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return IsTransientStatus(apiErr.HTTPStatusCode)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return IsTransientStatus(reqErr.HTTPStatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, token := range transientTokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}
