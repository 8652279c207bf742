package buffer

import "sync/atomic"

type counters struct {
	pushed  atomic.Int64
	popped  atomic.Int64
	evicted atomic.Int64
	peak    atomic.Int64
}

// Stats is a point-in-time view of a Ring.
type Stats struct {
	Pushed  int64 `json:"pushed"`
	Popped  int64 `json:"popped"`
	Evicted int64 `json:"evicted"`
	Peak    int   `json:"peak"`
	Len     int   `json:"len"`
	Cap     int   `json:"cap"`
}

// EvictionRate is the share of pushes that cost an older item.
func (s Stats) EvictionRate() float64 {
	if s.Pushed == 0 {
		return 0
	}
	return float64(s.Evicted) / float64(s.Pushed)
}
