package repository

import "errors"

// Sentinel kinds for document store errors.
var (
	ErrCorruptDocument = errors.New("corrupt document")
)
