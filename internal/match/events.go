package match

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type EventKind string

const (
	EventCreated   EventKind = "created"
	EventEntered   EventKind = "entered"
	EventStarted   EventKind = "started"
	EventMoved     EventKind = "moved"
	EventConcluded EventKind = "concluded"
)

// Event is published after a match-changing transaction commits.
type Event struct {
	MatchID     int64     `json:"game_id"`
	Kind        EventKind `json:"kind"`
	Ply         int       `json:"ply,omitempty"`
	SAN         string    `json:"san,omitempty"`
	White       *bool     `json:"white,omitempty"`
	Result      string    `json:"result,omitempty"`
	Termination string    `json:"termination,omitempty"`
	At          time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

func (s *Service) publish(ctx context.Context, evs ...Event) {
	if s.events == nil {
		return
	}
	for _, ev := range evs {
		if err := s.events.Publish(ctx, ev); err != nil {
			s.log.Warn("match_event_publish_error",
				zap.Int64("match_id", ev.MatchID),
				zap.String("kind", string(ev.Kind)),
				zap.Error(err),
			)
		}
	}
}
