package engine

import (
	"fmt"

	"github.com/pkg/errors"

	"taskpulse/internal/repo"
)

// ErrorKind classifies engine failures for callers and transports.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindForbidden  ErrorKind = "forbidden"
	KindConflict   ErrorKind = "conflict"
	KindDependency ErrorKind = "dependency"
)

// Machine-readable codes carried by Error.
const (
	CodeMissingFields      = "missing_fields"
	CodeInvalidInput       = "invalid_input"
	CodeDepartmentRequired = "department_required"
	CodeDateNotAllowed     = "date_not_allowed"
	CodeInvalidStatus      = "invalid_status"
	CodeMissingTarget      = "missing_target_user"
	CodeTargetNotFound     = "target_not_found"
	CodeSelfEscalation     = "self_escalation"
	CodeNoOriginalOwner    = "no_original_owner"
	CodeTaskNotFound       = "task_not_found"
	CodeUserNotFound       = "user_not_found"
	CodeNotOwner           = "not_owner"
	CodeNotOriginalOwner   = "not_original_owner"
	CodeNotPrivileged      = "not_privileged"
	CodeUnknownActor       = "unknown_actor"
	CodeAlreadyEscalated   = "already_escalated"
	CodeNotEscalated       = "not_escalated"
	CodeConcurrentUpdate   = "concurrent_update"
	CodeStore              = "store_error"
)

// Error is returned by every engine operation that fails. No state was changed.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func validationError(code, format string, args ...any) *Error {
	return newError(KindValidation, code, format, args...)
}

func forbiddenError(code, format string, args ...any) *Error {
	return newError(KindForbidden, code, format, args...)
}

func conflictError(code, format string, args ...any) *Error {
	return newError(KindConflict, code, format, args...)
}

func taskNotFound(id string) *Error {
	return newError(KindNotFound, CodeTaskNotFound, "task %s not found", id)
}

// classify turns store failures into engine errors. Engine errors pass through.
func classify(err error, taskID string) error {
	if err == nil {
		return nil
	}
	var ee *Error
	if errors.As(err, &ee) {
		return ee
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return taskNotFound(taskID)
	case errors.Is(err, repo.ErrVersionConflict), repo.IsContention(err):
		return conflictError(CodeConcurrentUpdate, "task %s was modified concurrently; re-read and retry", taskID)
	}
	return &Error{Kind: KindDependency, Code: CodeStore, Message: "task store failure", Err: err}
}

// KindOf returns the kind of an engine error, or KindDependency for anything else.
func KindOf(err error) ErrorKind {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindDependency
}

// CodeOf returns the code of an engine error or "".
func CodeOf(err error) string {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }
func IsForbidden(err error) bool  { return KindOf(err) == KindForbidden }
func IsConflict(err error) bool   { return KindOf(err) == KindConflict }
func IsValidation(err error) bool { return KindOf(err) == KindValidation }
