package relay

import "errors"

// ErrCorrelationMiss means a reply referenced a thread anchor with no live
// mapping: the thread expired, or was never created by this bridge. The
// reply is dropped, never retried.
var ErrCorrelationMiss = errors.New("no counterpart for thread anchor")
