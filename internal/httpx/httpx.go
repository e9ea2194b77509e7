// Package httpx holds shared HTTP retry helpers for the upstream
// model-service clients.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPStatusCoder is implemented by errors that carry an upstream HTTP status.
type HTTPStatusCoder interface {
	HTTPStatusCode() int
}

// StatusError is a non-2xx reply from an upstream API, carrying the extracted
// error message and any Retry-After hint.
type StatusError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.Status, e.Body)
}

// HTTPStatusCode satisfies HTTPStatusCoder so retry classification sees the
// original status.
func (e *StatusError) HTTPStatusCode() int {
	return e.Status
}

// NewStatusError reads at most 4KB of an error reply and builds a StatusError.
// The caller still owns the body.
func NewStatusError(resp *http.Response, maxRetryAfter time.Duration) *StatusError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{
		Status:     resp.StatusCode,
		Body:       APIErrorMessage(raw),
		RetryAfter: RetryAfterDuration(resp, 0, maxRetryAfter),
	}
}

// APIErrorMessage extracts the message from an OpenAI-style error body,
// {"error":{"message":"..."}}. Anything else comes back trimmed as-is.
func APIErrorMessage(raw []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return strings.TrimSpace(string(raw))
}

// IsRetryableStatus reports whether an upstream status is worth retrying:
// request timeout, rate limiting, and server-side failures.
func IsRetryableStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500 && code <= 599
}

// IsRetryableError reports whether a transport-level error is worth retrying.
// Context cancellation is not: the caller went away.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var sc HTTPStatusCoder
	if errors.As(err, &sc) {
		return IsRetryableStatus(sc.HTTPStatusCode())
	}
	return false
}

// RetryAfterDuration returns how long to sleep before the next attempt,
// honoring a Retry-After header when the server sent one and capping at max.
func RetryAfterDuration(resp *http.Response, fallback, max time.Duration) time.Duration {
	sleepFor := fallback
	if resp != nil {
		if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				sleepFor = time.Duration(secs) * time.Second
			}
		}
	}
	if max > 0 && sleepFor > max {
		sleepFor = max
	}
	return sleepFor
}

// Jitter spreads a backoff duration by ±20% so concurrent retries don't
// stampede the upstream in lockstep.
func Jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	j := 0.2
	delta := base.Seconds() * j
	low := base.Seconds() - delta
	high := base.Seconds() + delta
	if low < 0 {
		low = 0
	}
	v := low + rand.Float64()*(high-low)
	return time.Duration(v * float64(time.Second))
}

// SleepWithContext sleeps for d or until ctx is done, whichever comes first.
// Returns the context error when interrupted.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// DrainAndClose discards any unread body and closes it so the underlying
// connection can be reused.
func DrainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
