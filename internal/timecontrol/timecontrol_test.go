package timecontrol

import (
	"testing"
	"time"
)

var start = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func TestWhiteThinksThirtySeconds(t *testing.T) {
	limit := 600 * time.Second
	r := Reconcile(limit, nil, start, start.Add(30*time.Second))
	off := r.NextOffset()
	if off != -30*time.Second {
		t.Fatalf("offset = %v, want -30s", off)
	}

	after := Reconcile(limit, []time.Duration{off}, start, start.Add(30*time.Second))
	if got := after.WhiteRemaining(); got != 570*time.Second {
		t.Fatalf("white remaining = %v, want 570s", got)
	}
	if got := after.BlackRemaining(); got != 600*time.Second {
		t.Fatalf("black remaining = %v, want 600s", got)
	}
	if after.WhiteToMove {
		t.Fatalf("black should be to move")
	}
}

func TestBlackFlagsAfterLimit(t *testing.T) {
	limit := 600 * time.Second
	offsets := []time.Duration{-30 * time.Second}
	r := Reconcile(limit, offsets, start, start.Add(30*time.Second+601*time.Second))
	w, b := r.Flagged()
	if w || !b {
		t.Fatalf("flagged = (%v, %v), want (false, true)", w, b)
	}
	if r.BlackRemaining() != -time.Second {
		t.Fatalf("black remaining = %v", r.BlackRemaining())
	}
}

func TestAlternatingOffsets(t *testing.T) {
	limit := 5 * time.Minute
	offsets := []time.Duration{
		-10 * time.Second, // white 10s
		-20 * time.Second, // black 20s
		-15 * time.Second, // white 5s
		-50 * time.Second, // black 30s
	}
	now := start.Add(65*time.Second + 7*time.Second)
	r := Reconcile(limit, offsets, start, now)
	if r.LastPlyAt != start.Add(65*time.Second) {
		t.Fatalf("last ply at = %v", r.LastPlyAt)
	}
	if r.InFlight != 7*time.Second {
		t.Fatalf("in flight = %v", r.InFlight)
	}
	if r.WhiteUsed != 22*time.Second || r.BlackUsed != 50*time.Second {
		t.Fatalf("used = %v / %v", r.WhiteUsed, r.BlackUsed)
	}
	if got := r.NextOffset(); got != -22*time.Second {
		t.Fatalf("next offset = %v, want -22s", got)
	}
}

func TestReconcileIsPure(t *testing.T) {
	offsets := []time.Duration{-3 * time.Second, -4 * time.Second}
	now := start.Add(time.Minute)
	a := Reconcile(time.Minute, offsets, start, now)
	b := Reconcile(time.Minute, offsets, start, now)
	if a != b {
		t.Fatalf("readings differ: %+v vs %+v", a, b)
	}
}

func TestCountupNeverFlags(t *testing.T) {
	r := Reconcile(0, []time.Duration{-time.Hour}, start, start.Add(48*time.Hour))
	if w, b := r.Flagged(); w || b {
		t.Fatalf("countup flagged (%v, %v)", w, b)
	}
	if r.BlackUsed != 47*time.Hour {
		t.Fatalf("black used = %v", r.BlackUsed)
	}
}

func TestNowBeforeLastPlyChargesNothing(t *testing.T) {
	r := Reconcile(time.Minute, []time.Duration{-10 * time.Second}, start, start)
	if r.InFlight != 0 {
		t.Fatalf("in flight = %v", r.InFlight)
	}
	if r.NextOffset() != 0 {
		t.Fatalf("black first offset = %v", r.NextOffset())
	}
}

func TestNextOffsetTruncatesToMillis(t *testing.T) {
	r := Reconcile(time.Minute, nil, start, start.Add(1500*time.Microsecond))
	if got := r.NextOffset(); got != -time.Millisecond {
		t.Fatalf("offset = %v, want -1ms", got)
	}
}
