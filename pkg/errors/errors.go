package errors

import (
	"errors"
	"fmt"
)

// Scope says how far a failure reaches.
type Scope int

const (
	// ScopePerson failures roll back one person and the batch continues.
	ScopePerson Scope = iota
	// ScopeRun failures abort the whole run before any writes.
	ScopeRun
)

// Error represents a typed reconciliation error.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Scope   Scope  `json:"-"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors carrying the same code, so errors.Is(err, ErrAmbiguousMatch)
// holds for any clone of it.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, scope Scope, message string) *Error {
	return &Error{Code: code, Scope: scope, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, scope Scope, message string) *Error {
	return &Error{Code: code, Scope: scope, Message: message, Err: err}
}

// Predefined errors.
var (
	ErrUnmappedStatus  = New("UNMAPPED_STATUS", ScopeRun, "unmapped program status")
	ErrUnmappedRole    = New("UNMAPPED_ROLE", ScopeRun, "unmapped committee role")
	ErrUnmappedProgram = New("UNMAPPED_PROGRAM", ScopeRun, "unmapped academic program")
	ErrUnmappedDate    = New("UNMAPPED_DATE", ScopeRun, "date outside the semester calendar")
	ErrUnknownKind     = New("UNKNOWN_KIND", ScopeRun, "unknown source row kind")
	ErrAmbiguousMatch  = New("AMBIGUOUS_MATCH", ScopePerson, "ambiguous local record match")
	ErrAmbiguousCareer = New("AMBIGUOUS_CAREER", ScopePerson, "ambiguous career for happening")
	ErrUnplaceable     = New("UNPLACEABLE", ScopePerson, "happening fits no career")
	ErrValidation      = New("VALIDATION_ERROR", ScopeRun, "validation failed")
	ErrCacheMiss       = New("CACHE_MISS", ScopePerson, "cache miss")
	ErrInternal        = New("INTERNAL_ERROR", ScopePerson, "internal error")
	ErrNotFound        = New("NOT_FOUND", ScopePerson, "not found")
	ErrRunInProgress   = New("RUN_IN_PROGRESS", ScopeRun, "import run already in progress")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Scope, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Clonef is Clone with a formatted message.
func Clonef(err *Error, format string, args ...interface{}) *Error {
	return Clone(err, fmt.Sprintf(format, args...))
}

// IsRunFatal reports whether err must abort the whole run.
func IsRunFatal(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Scope == ScopeRun
	}
	return false
}
