package llm

import (
	"fmt"

	"github.com/pkg/errors"
)

type ErrorKind string

const (
	// ErrorUnavailable means every attempt hit a transport failure or a 5xx status.
	ErrorUnavailable ErrorKind = "unavailable"
	// ErrorProtocol means the last attempt returned a body that could not be interpreted.
	ErrorProtocol ErrorKind = "protocol_error"
	// ErrorClient means the endpoint rejected the request itself. Never retried.
	ErrorClient ErrorKind = "client_error"
	// ErrorCancelled means the caller's context ended before a terminal outcome.
	ErrorCancelled ErrorKind = "cancelled"
)

// Failure is the terminal error of a Generate call.
type Failure struct {
	Kind       ErrorKind `json:"kind" yaml:"kind"`
	Message    string    `json:"message" yaml:"message"`
	Attempts   int       `json:"attempts" yaml:"attempts"`
	StatusCode int       `json:"statusCode,omitempty" yaml:"statusCode,omitempty"` // last HTTP status seen, 0 if none
	Cause      error     `json:"-" yaml:"-"`                                       // last underlying error
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("%s after %d attempt(s): %s", f.Kind, f.Attempts, f.Message)
	if f.Cause != nil {
		msg += ": " + f.Cause.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Cause
}

// AsFailure extracts the *Failure from an error chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// IsKind reports whether err carries a Failure of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	f, ok := AsFailure(err)
	return ok && f.Kind == kind
}

// attemptError is the classified outcome of one failed network attempt.
type attemptError struct {
	kind       ErrorKind
	retryable  bool
	statusCode int
	cause      error
}

func (e *attemptError) Error() string {
	return fmt.Sprintf("%s: %v", e.kind, e.cause)
}

func (e *attemptError) Unwrap() error {
	return e.cause
}

func (e *attemptError) failure(attempts int) *Failure {
	return &Failure{
		Kind:       e.kind,
		Message:    failureMessage(e.kind),
		Attempts:   attempts,
		StatusCode: e.statusCode,
		Cause:      e.cause,
	}
}

func failureMessage(kind ErrorKind) string {
	switch kind {
	case ErrorUnavailable:
		return "endpoint unavailable"
	case ErrorProtocol:
		return "could not interpret response"
	case ErrorClient:
		return "request rejected"
	case ErrorCancelled:
		return "generation cancelled"
	default:
		return string(kind)
	}
}

func unavailable(statusCode int, cause error) error {
	return &attemptError{kind: ErrorUnavailable, retryable: true, statusCode: statusCode, cause: cause}
}

func protocolErr(statusCode int, cause error) error {
	return &attemptError{kind: ErrorProtocol, retryable: true, statusCode: statusCode, cause: cause}
}

func clientErr(statusCode int, cause error) error {
	return &attemptError{kind: ErrorClient, retryable: false, statusCode: statusCode, cause: cause}
}

// classifyStatus maps a non-2xx HTTP status to an attempt outcome.
func classifyStatus(statusCode int, cause error) error {
	switch {
	case statusCode >= 500:
		return unavailable(statusCode, cause)
	case statusCode >= 400:
		return clientErr(statusCode, cause)
	default:
		return protocolErr(statusCode, cause)
	}
}

func asAttemptError(err error) *attemptError {
	var ae *attemptError
	if errors.As(err, &ae) {
		return ae
	}
	// unclassified errors come from the transport
	return &attemptError{kind: ErrorUnavailable, retryable: true, cause: err}
}
