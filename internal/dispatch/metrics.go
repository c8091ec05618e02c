package dispatch

import "sync/atomic"

// Metrics are the per-source packet counters a dispatcher keeps,
// readable concurrently with the processing goroutine that updates
// them.
type Metrics struct {
	Received      atomic.Uint64
	Decoded       atomic.Uint64
	EventsPushed  atomic.Uint64
	HandlerErrors atomic.Uint64
}
