package errors

import (
	stderrors "errors"
	"fmt"
)

type ErrorType string

const (
	ErrorTypeNotFound            ErrorType = "NOT_FOUND"
	ErrorTypeValidation          ErrorType = "VALIDATION"
	ErrorTypeMalformedPatch      ErrorType = "MALFORMED_PATCH"
	ErrorTypeNoMatch             ErrorType = "NO_MATCH"
	ErrorTypeUnsafePath          ErrorType = "UNSAFE_PATH"
	ErrorTypeInternalConsistency ErrorType = "INTERNAL_CONSISTENCY"
	ErrorTypeIndexLock           ErrorType = "INDEX_LOCK"
	ErrorTypeIndexCommit         ErrorType = "INDEX_COMMIT"
	ErrorTypeRefConflict         ErrorType = "REF_CONFLICT"
)

// Error is the structured failure returned by the apply engine and the ref
// transaction code. Path, Line and Hunk are zero when they do not apply.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Path    string    `json:"path,omitempty"`
	Line    int       `json:"line,omitempty"`
	Hunk    int       `json:"hunk,omitempty"`
	Details any       `json:"details,omitempty"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports type equality so that errors.Is(err, &Error{Type: t}) matches
// any error of that type.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Type == e.Type
}

// Fatal reports whether the error must abort the whole run regardless of
// best-effort mode.
func (e *Error) Fatal() bool {
	switch e.Type {
	case ErrorTypeInternalConsistency, ErrorTypeIndexLock, ErrorTypeIndexCommit:
		return true
	}
	return false
}

func NotFound(message string) *Error {
	return &Error{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

func ValidationError(message string, details any) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Message: message,
		Details: details,
	}
}

// MalformedPatch identifies the offending line of the patch input (1-based).
func MalformedPatch(line int, format string, args ...any) *Error {
	return &Error{
		Type:    ErrorTypeMalformedPatch,
		Message: fmt.Sprintf(format, args...),
		Line:    line,
	}
}

// NoMatch names the file and the 1-based hunk that could not be aligned.
func NoMatch(path string, hunk int) *Error {
	return &Error{
		Type:    ErrorTypeNoMatch,
		Message: fmt.Sprintf("patch failed: %s: hunk #%d does not apply", path, hunk),
		Path:    path,
		Hunk:    hunk,
	}
}

func UnsafePath(path, reason string) *Error {
	return &Error{
		Type:    ErrorTypeUnsafePath,
		Message: fmt.Sprintf("%s: %s", path, reason),
		Path:    path,
	}
}

func InternalConsistency(format string, args ...any) *Error {
	return &Error{
		Type:    ErrorTypeInternalConsistency,
		Message: "BUG: " + fmt.Sprintf(format, args...),
	}
}

func IndexLock(path string, err error) *Error {
	return &Error{
		Type:    ErrorTypeIndexLock,
		Message: fmt.Sprintf("unable to lock index %s", path),
		Path:    path,
		Err:     err,
	}
}

func IndexCommit(path string, err error) *Error {
	return &Error{
		Type:    ErrorTypeIndexCommit,
		Message: fmt.Sprintf("unable to write new index file %s", path),
		Path:    path,
		Err:     err,
	}
}

func RefConflict(ref, reason string) *Error {
	return &Error{
		Type:    ErrorTypeRefConflict,
		Message: fmt.Sprintf("cannot lock ref '%s': %s", ref, reason),
		Path:    ref,
	}
}

// WithPath returns a copy of e carrying path.
func (e *Error) WithPath(path string) *Error {
	c := *e
	c.Path = path
	return &c
}

// IsType reports whether any error in err's chain is an *Error of type t.
func IsType(err error, t ErrorType) bool {
	var e *Error
	for err != nil {
		if stderrors.As(err, &e) && e.Type == t {
			return true
		}
		if e == nil {
			return false
		}
		err = e.Err
		e = nil
	}
	return false
}
