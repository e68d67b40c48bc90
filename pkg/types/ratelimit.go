package types

import "time"

// RateLimit describes one throttler key: its capacity within Window, the
// weight a single call consumes, and any pool ids it is linked to. A call
// whose id is linked to a pool also consumes that pool's capacity.
type RateLimit struct {
	ID       string
	Capacity int
	Window   time.Duration
	Weight   int
	LinkedTo []string
}

// NewRateLimit builds a RateLimit with weight 1, the common case.
func NewRateLimit(id string, capacity int, window time.Duration, linkedTo ...string) RateLimit {
	return RateLimit{ID: id, Capacity: capacity, Window: window, Weight: 1, LinkedTo: linkedTo}
}
