package profileapi

import "errors"

// Sentinel errors returned by the client.
var (
	ErrAuthFailure = errors.New("profileapi: authentication failed")
	ErrNotFound    = errors.New("profileapi: profile not found")
	ErrUpstream    = errors.New("profileapi: upstream error")
)
