// Package apperr classifies failures so transports can map them to responses
// without inspecting messages.
package apperr

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// Kind is the failure class of an Error.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindInvalidTransition Kind = "invalid_transition"
	KindAuthentication    Kind = "authentication"
	KindAuthorization     Kind = "authorization"
	KindTransient         Kind = "transient"
	KindInternal          Kind = "internal"
)

// Codes refine a Kind where callers need to tell cases apart.
const (
	CodeNotPending           = "not_pending"
	CodeNoProgress           = "no_progress"
	CodeNoPreviousDepartment = "no_previous_department"
	CodeTerminalStatus       = "terminal_status"
	CodeDepartmentMismatch   = "department_mismatch"
	CodeAdminOnly            = "admin_only"
)

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.cause }

// ErrorKind returns the string classification of the error.
func (e *Error) ErrorKind() string { return string(e.Kind) }

func newError(kind Kind, code string, cause error, format string, args ...any) error {
	return errors.WithStack(&Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...), cause: cause})
}

// Validation reports missing or malformed input.
func Validation(format string, args ...any) error {
	return newError(KindValidation, "", nil, format, args...)
}

// NotFound reports a missing entity.
func NotFound(format string, args ...any) error {
	return newError(KindNotFound, "", nil, format, args...)
}

// InvalidTransition reports a violated state machine precondition.
func InvalidTransition(code, format string, args ...any) error {
	return newError(KindInvalidTransition, code, nil, format, args...)
}

// Unauthenticated reports rejected credentials.
func Unauthenticated(format string, args ...any) error {
	return newError(KindAuthentication, "", nil, format, args...)
}

// Forbidden reports a role or department mismatch.
func Forbidden(code, format string, args ...any) error {
	return newError(KindAuthorization, code, nil, format, args...)
}

// Transient wraps a store failure that may succeed on retry.
func Transient(cause error, format string, args ...any) error {
	return newError(KindTransient, "", cause, format, args...)
}

// As returns the classified error in err's chain, if any.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf classifies err. Context cancellation and deadlines count as transient.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	return KindInternal
}

// CodeOf returns the refinement code of err, if any.
func CodeOf(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return ""
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool { return KindOf(err) == kind }
