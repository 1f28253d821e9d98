package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"syscall"
)

type Code string

// Failure kinds callers are expected to branch on.
const (
	CodeTransient      Code = "transient"
	CodeLockTimeout    Code = "lock_timeout"
	CodeAuthInvalid    Code = "auth_invalid"
	CodeTenantRequired Code = "tenant_required"
	CodeCancelled      Code = "cancelled"
	CodeRejected       Code = "rejected"
)

const (
	CodeUnknown            Code = "unknown"
	CodeStorageUnavailable Code = "storage_unavailable"
	CodeNotImplemented     Code = "not_implemented"
)

var (
	ErrMissingAuth     = errors.New("nexus: session auth is required")
	ErrTenantRequired  = New(CodeTenantRequired, "tenant id is required but not available", nil)
	ErrSessionRequired = New(CodeAuthInvalid, "no valid session", nil)
)

type Error struct {
	Code     Code
	Message  string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	if e.Message != "" {
		if e.Err != nil {
			return e.Message + ": " + e.Err.Error()
		}
		return e.Message
	}

	if e.Err != nil {
		return e.Err.Error()
	}

	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error with the same code, so sentinel values such as
// ErrTenantRequired work with errors.Is.
func (e *Error) Is(target error) bool {
	var typed *Error
	if !errors.As(target, &typed) || typed == nil || e == nil {
		return false
	}
	return typed.Code == e.Code && typed.Err == nil && typed.Attempts == 0
}

func New(code Code, message string, err *error) *Error {
	newErr := &Error{
		Code:    code,
		Message: message,
	}
	if err != nil {
		newErr.Err = *err
	}
	return newErr
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// StatusError reports a non-2xx HTTP response from the platform.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("http status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("http status %d", e.StatusCode)
}

func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf returns the code of the outermost *Error in the chain, or the
// classification of err when none is present.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) && typed != nil {
		return typed.Code
	}
	return Classify(err)
}

// IsInternalCode reports failures whose detail belongs in logs rather than
// in a response to the end user.
func IsInternalCode(err error) bool {
	return IsCode(err, CodeUnknown) || IsCode(err, CodeStorageUnavailable) || IsCode(err, CodeNotImplemented)
}

func (c Code) Retryable() bool {
	return c == CodeTransient || c == CodeLockTimeout
}

func IsRetryable(err error) bool {
	return CodeOf(err).Retryable()
}

var networkMessages = []string{
	"failed to fetch",
	"network",
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"no such host",
	"broken pipe",
}

// Classify maps an arbitrary error onto the failure taxonomy. It never
// returns the empty code for a non-nil error.
func Classify(err error) Code {
	if err == nil {
		return ""
	}

	var typed *Error
	if errors.As(err, &typed) && typed != nil {
		return typed.Code
	}

	var status *StatusError
	if errors.As(err, &status) {
		if code := ClassifyStatus(status.StatusCode); code != "" {
			return code
		}
		return CodeUnknown
	}

	switch {
	case errors.Is(err, context.Canceled):
		return CodeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTransient
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return CodeTransient
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ENETUNREACH):
		return CodeTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return CodeTransient
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return CodeTransient
	}

	message := strings.ToLower(err.Error())
	for _, fragment := range networkMessages {
		if strings.Contains(message, fragment) {
			return CodeTransient
		}
	}

	return CodeUnknown
}

func ClassifyStatus(statusCode int) Code {
	switch {
	case statusCode >= 500:
		return CodeTransient
	case statusCode == 401:
		return CodeAuthInvalid
	case statusCode >= 400:
		return CodeRejected
	}
	return ""
}
