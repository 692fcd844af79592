package sink

import "errors"

// ErrUnknownKind is returned for an unsupported output format.
var ErrUnknownKind = errors.New("sink: unknown kind")
