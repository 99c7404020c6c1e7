package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports that the referenced user or media record does not
	// exist.
	ErrNotFound = errors.New("record not found")
	// ErrEmailInUse reports a registration attempt with an email that already
	// belongs to another account.
	ErrEmailInUse = errors.New("email already in use")
	// ErrInvalidCredentials reports a password that does not match the stored
	// hash.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNoMatches is returned by SearchMedia when no titles match the query.
	ErrNoMatches = errors.New("no media matched the query")
)

// ValidationError marks input that fails structural validation before it
// reaches the datastore. Handlers translate it to a client error.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
