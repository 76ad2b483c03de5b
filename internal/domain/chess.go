package domain

import "time"

type TimerKind string

const (
	Countup   TimerKind = "Countup"
	Countdown TimerKind = "Countdown"
)

func (k TimerKind) Valid() bool { return k == Countup || k == Countdown }

// Timer is a catalog entry. Matches reference it by kind.
type Timer struct {
	ID   int64
	Kind TimerKind
}

// Match is one two-seat game. Record holds PGN and is empty until the second seat is taken.
type Match struct {
	ID          int64
	Record      string
	TimeStarted *time.Time
	TimeEnded   *time.Time
	WhiteWon    *bool
	Timer       TimerKind
	TimeLimit   *int // seconds, set for Countdown
}

func (m *Match) Started() bool   { return m != nil && m.TimeStarted != nil }
func (m *Match) Concluded() bool { return m != nil && m.TimeEnded != nil }

// Limit returns the per-side allowance, zero when none is configured.
func (m *Match) Limit() time.Duration {
	if m == nil || m.TimeLimit == nil {
		return 0
	}
	return time.Duration(*m.TimeLimit) * time.Second
}

// Player is a seat. Exactly one of UserID and SessionID is set when the seat is taken.
type Player struct {
	MatchID   int64
	White     bool
	UserID    *int64
	SessionID *int64
}

func (p *Player) Color() string {
	if p.White {
		return "white"
	}
	return "black"
}
