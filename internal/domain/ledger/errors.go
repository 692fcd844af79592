package ledger

import "errors"

// ErrBadHistoryKey is returned when a persisted history key is not a
// timestamp.
var ErrBadHistoryKey = errors.New("ledger: malformed history key")
