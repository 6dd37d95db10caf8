package resilience

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Classify reports whether err should be retried, per §4.6's retry policy:
// network errors (ECONNRESET, ETIMEDOUT, ENOTFOUND), HTTP 408/429/500/502/
// 503/504, and
// provider-specific "overloaded"/"rate limit" messages. Anything else
// propagates immediately.
func Classify(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return true
	}

	if code, ok := httpStatusError(err); ok {
		switch code {
		case http.StatusRequestTimeout, http.StatusTooManyRequests,
			http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "overloaded") || strings.Contains(msg, "rate limit") {
		return true
	}
	if strings.Contains(msg, "econnreset") || strings.Contains(msg, "etimedout") || strings.Contains(msg, "enotfound") {
		return true
	}

	return false
}

// StatusError is implemented by provider HTTP errors that carry the
// response status code, so Classify can match 408/429/500/502/503/504 without the
// caller needing to know about resilience internals.
type StatusError interface {
	StatusCode() int
}

func httpStatusError(err error) (int, bool) {
	var se StatusError
	if errors.As(err, &se) {
		return se.StatusCode(), true
	}
	return 0, false
}
