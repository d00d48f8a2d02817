package session

import "errors"

// ErrNotInput is returned by Begin outside the Input phase.
var ErrNotInput = errors.New("session is not accepting input")
