package service

import "errors"

// Error kinds the HTTP boundary maps to statuses. The Error type below
// separates the kind (matched with errors.Is) from the message the
// client is allowed to see.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
)

type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

func invalidCredentials() error {
	return &Error{Kind: ErrInvalidCredentials, Message: "invalid credentials"}
}

func unauthorized(message string) error {
	return &Error{Kind: ErrUnauthorized, Message: message}
}
