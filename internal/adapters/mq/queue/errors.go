package queue

import "errors"

// ErrStopped is returned by Submit once the queue has been closed.
var ErrStopped = errors.New("queue stopped")
