package bridge

import (
	"sync/atomic"
	"time"
)

// Stats counts forwarding outcomes. All methods are safe for concurrent use.
type Stats struct {
	forwarded atomic.Uint64
	rejected  atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64

	lastForward atomic.Int64 // unix nanos; 0 = never
}

// Snapshot is a point-in-time copy of the counters, served by /status and
// logged by the periodic summary job.
type Snapshot struct {
	Forwarded   uint64    `json:"forwarded"`
	Rejected    uint64    `json:"rejected"`
	Failed      uint64    `json:"failed"`
	Dropped     uint64    `json:"dropped"`
	LastForward time.Time `json:"last_forward,omitzero"`
}

func (s *Stats) markForwarded(at time.Time) {
	s.forwarded.Add(1)
	s.lastForward.Store(at.UnixNano())
}

func (s *Stats) markRejected() { s.rejected.Add(1) }
func (s *Stats) markFailed()   { s.failed.Add(1) }
func (s *Stats) markDropped()  { s.dropped.Add(1) }

func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		Forwarded: s.forwarded.Load(),
		Rejected:  s.rejected.Load(),
		Failed:    s.failed.Load(),
		Dropped:   s.dropped.Load(),
	}
	if ns := s.lastForward.Load(); ns != 0 {
		snap.LastForward = time.Unix(0, ns).UTC()
	}
	return snap
}
