package model

import "errors"

// Sentinel kinds for domain errors.
var (
	ErrInvalidProfile = errors.New("invalid profile url or id")
)
