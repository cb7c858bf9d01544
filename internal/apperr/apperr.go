package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation     Code = "VALIDATION_ERROR"
	CodeForbidden      Code = "FORBIDDEN"
	CodeNotFound       Code = "NOT_FOUND"
	CodeConflict       Code = "CONFLICT"
	CodeStateConflict  Code = "STATE_CONFLICT"
	CodeReserveMissing Code = "RESERVE_MISSING"
	CodeRateLimited    Code = "RATE_LIMITED"
	CodeDependency     Code = "DEPENDENCY_ERROR"
	CodeInternal       Code = "INTERNAL_ERROR"
)

type Metadata struct {
	HTTPStatus int
	Retryable  bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:     {HTTPStatus: http.StatusBadRequest},
	CodeForbidden:      {HTTPStatus: http.StatusForbidden},
	CodeNotFound:       {HTTPStatus: http.StatusNotFound},
	CodeConflict:       {HTTPStatus: http.StatusConflict},
	CodeStateConflict:  {HTTPStatus: http.StatusUnprocessableEntity},
	CodeReserveMissing: {HTTPStatus: http.StatusServiceUnavailable},
	CodeRateLimited:    {HTTPStatus: http.StatusTooManyRequests, Retryable: true},
	CodeDependency:     {HTTPStatus: http.StatusServiceUnavailable, Retryable: true},
	CodeInternal:       {HTTPStatus: http.StatusInternalServerError, Retryable: true},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error is the typed failure returned by the ledger services. Policy
// outcomes (blocked, failed) are not errors and never travel as one.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the code carried by err, or CodeInternal for untyped errors.
func CodeOf(err error) Code {
	if te := As(err); te != nil {
		return te.Code()
	}
	return CodeInternal
}

func Is(err error, code Code) bool {
	te := As(err)
	return te != nil && te.code == code
}

// Retryable reports whether the caller may safely retry the operation.
// Only infrastructure failures qualify; every ledger write rolls back as a
// whole, so a retry never double-posts.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return MetadataFor(CodeOf(err)).Retryable
}
