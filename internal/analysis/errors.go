package analysis

import (
	"errors"

	"github.com/TobiSchelling/jobcheck/internal/session"
)

var (
	ErrEmptyInput       = errors.New("input is empty")
	ErrNoFile           = errors.New("no file selected")
	ErrNotAuthenticated = errors.New("please log in first")
	ErrInFlight         = errors.New("an analysis is already running")
)

// ValidationError rejects a submission before any request is made.
type ValidationError struct {
	Mode session.Mode
	Err  error
}

func (e *ValidationError) Error() string {
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// RequestError is a failed or timed-out backend call. Its message is the
// backend's detail, unchanged.
type RequestError struct {
	Mode session.Mode
	Err  error
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}
