// Package watch fans committed match events out to spectators.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/checkmate-server/internal/match"
)

// Feed publishes match events on one Redis channel per match.
type Feed struct {
	rdb    *redis.Client
	prefix string
	log    *zap.Logger
}

type Option func(*Feed)

func WithPrefix(p string) Option      { return func(f *Feed) { f.prefix = p } }
func WithLogger(l *zap.Logger) Option { return func(f *Feed) { f.log = l } }

func NewFeed(rdb *redis.Client, opts ...Option) *Feed {
	f := &Feed{rdb: rdb, prefix: "cm", log: zap.NewNop()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Feed) channel(matchID int64) string {
	return f.prefix + ":watch:" + strconv.FormatInt(matchID, 10)
}

func (f *Feed) Publish(ctx context.Context, ev match.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return f.rdb.Publish(ctx, f.channel(ev.MatchID), raw).Err()
}

// Subscription delivers events of one match until Close.
type Subscription struct {
	ps     *redis.PubSub
	events chan match.Event
	done   chan struct{}
}

func (s *Subscription) Events() <-chan match.Event { return s.events }

func (s *Subscription) Close() error {
	err := s.ps.Close()
	<-s.done
	return err
}

// Subscribe waits for the subscription to be confirmed before returning,
// so no event published afterwards is missed.
func (f *Feed) Subscribe(ctx context.Context, matchID int64) (*Subscription, error) {
	ps := f.rdb.Subscribe(ctx, f.channel(matchID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe match %d: %w", matchID, err)
	}
	sub := &Subscription{ps: ps, events: make(chan match.Event, 16), done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		defer close(sub.events)
		for msg := range ps.Channel() {
			var ev match.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				f.log.Warn("watch_event_decode_error", zap.Int64("match_id", matchID), zap.Error(err))
				continue
			}
			select {
			case sub.events <- ev:
			default:
				f.log.Warn("watch_event_dropped", zap.Int64("match_id", matchID), zap.String("kind", string(ev.Kind)))
			}
		}
	}()
	return sub, nil
}
