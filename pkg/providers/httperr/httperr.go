// Package httperr is the shared HTTP-status-carrying error every provider
// adapter returns, so pkg/resilience.Classify can retry 408/429/500/502/503/504 without
// depending on any individual provider package.
package httperr

// StatusError wraps a non-2xx HTTP response from a provider with enough
// detail to drive resilience.Classify's retry decision.
type StatusError struct {
	Code int
	Msg  string
}

func New(code int, msg string) *StatusError {
	return &StatusError{Code: code, Msg: msg}
}

func (e *StatusError) Error() string   { return e.Msg }
func (e *StatusError) StatusCode() int { return e.Code }
