package apperr

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Kind classifies an error for callers that map failures onto transport responses.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindPermission      Kind = "permission_denied"
	KindConflict        Kind = "conflict"
	KindExpired         Kind = "expired"
	KindDuplicate       Kind = "duplicate"
	KindUnauthenticated Kind = "unauthenticated"
	KindInternal        Kind = "internal"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
	ErrPermission      = errors.New("permission denied")
	ErrConflict        = errors.New("conflict")
	ErrExpired         = errors.New("expired")
	ErrDuplicate       = errors.New("duplicate")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInternal        = errors.New("internal error")
)

var sentinels = map[Kind]error{
	KindValidation:      ErrValidation,
	KindNotFound:        ErrNotFound,
	KindPermission:      ErrPermission,
	KindConflict:        ErrConflict,
	KindExpired:         ErrExpired,
	KindDuplicate:       ErrDuplicate,
	KindUnauthenticated: ErrUnauthenticated,
	KindInternal:        ErrInternal,
}

// Error carries a kind and a stable "<operation>.<reason>" code.
type Error struct {
	kind Kind
	code string
	err  error
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is reports a match against the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := sentinels[e.kind]
	return ok && target == sentinel
}

func (e *Error) Code() string {
	return e.code
}

func (e *Error) Kind() Kind {
	return e.kind
}

// New builds an Error whose code is "<operation>.<reason>".
func New(kind Kind, operation, reason string, cause error) error {
	if _, ok := sentinels[kind]; !ok {
		kind = KindInternal
	}
	return &Error{
		kind: kind,
		code: fmt.Sprintf("%s.%s", operation, reason),
		err:  cause,
	}
}

func Validation(operation, reason string, cause error) error {
	return New(KindValidation, operation, reason, cause)
}

func NotFound(operation, reason string, cause error) error {
	return New(KindNotFound, operation, reason, cause)
}

func Permission(operation, reason string, cause error) error {
	return New(KindPermission, operation, reason, cause)
}

func Conflict(operation, reason string, cause error) error {
	return New(KindConflict, operation, reason, cause)
}

func Expired(operation, reason string, cause error) error {
	return New(KindExpired, operation, reason, cause)
}

func Duplicate(operation, reason string, cause error) error {
	return New(KindDuplicate, operation, reason, cause)
}

func Unauthenticated(operation, reason string, cause error) error {
	return New(KindUnauthenticated, operation, reason, cause)
}

func Internal(operation, reason string, cause error) error {
	return New(KindInternal, operation, reason, cause)
}

// KindOf returns the kind of the first Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.kind
	}
	return KindInternal
}

// CodeOf returns the code of the first Error in the chain, or an empty string.
func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.code
	}
	return ""
}

// IsUniqueViolation detects unique constraint failures from either supported driver.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value") ||
		strings.Contains(message, "sqlstate 23505")
}
