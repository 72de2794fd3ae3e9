package persistence

import (
	"errors"

	"mailmirror/core/port/out"
)

// Common persistence errors
var (
	ErrNotFound     = out.ErrNotFound
	ErrInvalidInput = errors.New("invalid input")
	// ErrPlaintextToken rejects a token column value that is not ciphertext.
	ErrPlaintextToken = errors.New("token is not encrypted")
)
