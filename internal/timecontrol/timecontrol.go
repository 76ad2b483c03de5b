// Package timecontrol derives both sides' clocks from the recorded ply offsets.
package timecontrol

import "time"

// Reading is the reconciled clock state of a match at one instant.
type Reading struct {
	Limit       time.Duration
	WhiteUsed   time.Duration
	BlackUsed   time.Duration
	LastPlyAt   time.Time
	InFlight    time.Duration
	WhiteToMove bool

	lastWhite time.Duration
	lastBlack time.Duration
}

// Reconcile walks the offsets in ply order, white first. A ply's thinking
// time is the drop between that side's previous offset and this one. Time
// since the last ply is charged to the side to move.
func Reconcile(limit time.Duration, offsets []time.Duration, startedAt, now time.Time) Reading {
	r := Reading{Limit: limit}
	var used [2]time.Duration
	var last [2]time.Duration
	for i, off := range offsets {
		side := i % 2
		used[side] += last[side] - off
		last[side] = off
	}
	r.lastWhite, r.lastBlack = last[0], last[1]
	r.LastPlyAt = startedAt.Add(used[0] + used[1])
	if d := now.Sub(r.LastPlyAt); d > 0 {
		r.InFlight = d
	}
	r.WhiteToMove = len(offsets)%2 == 0
	if r.WhiteToMove {
		used[0] += r.InFlight
	} else {
		used[1] += r.InFlight
	}
	r.WhiteUsed, r.BlackUsed = used[0], used[1]
	return r
}

func (r Reading) WhiteRemaining() time.Duration { return r.Limit - r.WhiteUsed }
func (r Reading) BlackRemaining() time.Duration { return r.Limit - r.BlackUsed }

// Flagged reports which sides have run out of time. Without a limit nobody flags.
func (r Reading) Flagged() (white, black bool) {
	if r.Limit <= 0 {
		return false, false
	}
	return r.WhiteRemaining() <= 0, r.BlackRemaining() <= 0
}

// NextOffset is the clock annotation for a ply the side to move plays now.
// In-flight time is truncated to milliseconds so the stored value round-trips.
func (r Reading) NextOffset() time.Duration {
	inflight := r.InFlight.Truncate(time.Millisecond)
	if r.WhiteToMove {
		return r.lastWhite - inflight
	}
	return r.lastBlack - inflight
}
