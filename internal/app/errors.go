package service

import "errors"

// ErrNotStarted is returned when the controller is used before Start.
var ErrNotStarted = errors.New("controller not started")
