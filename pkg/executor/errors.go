package executor

import "fmt"

// Code is the typed failure reason surfaced to the backend as a tool-result
// error (§4.4, §7 "Policy": Blocked, UnknownFunction, NotApproved ...).
type Code string

const (
	CodeBlocked          Code = "blocked"
	CodeUnknownFunction  Code = "unknown_function"
	CodeInvalidArguments Code = "invalid_arguments"
	CodePathDenied       Code = "path_denied"
	CodeUrlDenied        Code = "url_denied"
	CodeCommandDenied    Code = "command_denied"
	CodeAppDenied        Code = "app_denied"
	CodeNotApproved      Code = "not_approved"
	CodeExecutionFailed  Code = "execution_failed"
)

// Error wraps a Code with the function name and, where applicable, the
// underlying cause. The session keeps running after one of these — only the
// failing tool call's result carries the error (§7).
type Error struct {
	Code Code
	Name string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("executor: %s %s: %v", e.Code, e.Name, e.Err)
	}
	return fmt.Sprintf("executor: %s %s", e.Code, e.Name)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, name string, err error) *Error {
	return &Error{Code: code, Name: name, Err: err}
}
