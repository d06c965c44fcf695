package domain

import "errors"

// Error kinds. Stores and services return these directly or wrapped in *Error
// when a client-facing message is attached.
var (
	ErrValidation         = errors.New("validation failed")
	ErrDuplicate          = errors.New("duplicate")
	ErrNotFound           = errors.New("not found")
	ErrInsufficientCopies = errors.New("insufficient copies")
	ErrMalformedID        = errors.New("malformed identifier")
	ErrNoRecords          = errors.New("no records")
	ErrConflict           = errors.New("conflict")
)

type Error struct {
	Kind    error
	Message string
}

func NewError(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}
