package match

import (
	"context"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/park285/checkmate-server/internal/domain"
	"github.com/park285/checkmate-server/internal/faults"
	"github.com/park285/checkmate-server/internal/record"
	"github.com/park285/checkmate-server/internal/store"
	"github.com/park285/checkmate-server/internal/timecontrol"
)

// state is a decoded record with its replayed position.
type state struct {
	rec  *record.Record
	game *nchess.Game
}

func decodeState(m *domain.Match) (*state, error) {
	rec, err := record.Decode(m.Record)
	if err != nil {
		return nil, err
	}
	game, err := record.Replay(rec)
	if err != nil {
		return nil, err
	}
	return &state{rec: rec, game: game}, nil
}

func (st *state) whiteToMove() bool { return st.game.Position().Turn() == nchess.White }

func (s *Service) reading(m *domain.Match, st *state, now time.Time) timecontrol.Reading {
	var limit time.Duration
	if m.Timer == domain.Countdown {
		limit = m.Limit()
	}
	return timecontrol.Reconcile(limit, st.rec.Offsets(), *m.TimeStarted, now)
}

// closure describes a conclusion committed by one transaction.
type closure struct {
	matchID     int64
	whiteWon    *bool
	result      string
	termination string
	at          time.Time
}

// hospice concludes a started, open match whose position is terminal or
// whose side to move has run out of time. It writes the record only when
// something changed, or always when force is set. Ratings move only when
// WhiteWon changed. Calling it again on the same data changes nothing.
func (s *Service) hospice(ctx context.Context, tx store.Tx, m *domain.Match, players []*domain.Player, st *state, now time.Time, force bool) (*closure, error) {
	if !m.Started() || m.Concluded() {
		return nil, nil
	}
	if st == nil {
		var err error
		if st, err = decodeState(m); err != nil {
			return nil, faults.Fault("hospice decode", err)
		}
	}

	var winner *bool
	termination := ""
	switch st.game.Outcome() {
	case nchess.WhiteWon:
		winner, termination = domain.BoolPtr(true), record.TerminationNormal
	case nchess.BlackWon:
		winner, termination = domain.BoolPtr(false), record.TerminationNormal
	case nchess.Draw:
		termination = record.TerminationNormal
	default:
		if m.Timer == domain.Countdown {
			if m.Limit() <= 0 {
				return nil, faults.Faultf("hospice", "match %d counts down without a limit", m.ID)
			}
			// 양쪽 모두 시간 초과면 백을 먼저 확인
			white, black := s.reading(m, st, now).Flagged()
			switch {
			case white:
				winner, termination = domain.BoolPtr(false), record.TerminationTime
			case black:
				winner, termination = domain.BoolPtr(true), record.TerminationTime
			}
		}
	}

	if termination == "" {
		if force {
			m.Record = record.Encode(st.rec)
			if err := tx.PutMatch(ctx, m); err != nil {
				return nil, faults.Fault("hospice save", err)
			}
		}
		return nil, nil
	}
	if termination == record.TerminationNormal {
		s.log.Debug("match_outcome", zap.Int64("match_id", m.ID), zap.String("method", strings.ToLower(st.game.Method().String())))
	}
	return s.close(ctx, tx, m, players, st, winner, termination, now)
}

// close concludes m with winner (nil for a draw), saves it and settles ratings.
func (s *Service) close(ctx context.Context, tx store.Tx, m *domain.Match, players []*domain.Player, st *state, winner *bool, termination string, now time.Time) (*closure, error) {
	before := m.WhiteWon
	result := record.ResultDraw
	if winner != nil {
		result = record.ResultBlack
		if *winner {
			result = record.ResultWhite
		}
	}
	st.rec.Conclude(result, termination)
	m.Record = record.Encode(st.rec)
	m.WhiteWon = winner
	m.TimeEnded = &now
	if err := tx.PutMatch(ctx, m); err != nil {
		return nil, faults.Fault("close save", err)
	}
	if !sameOutcome(before, m.WhiteWon) {
		if err := s.settle(ctx, tx, m, players); err != nil {
			return nil, err
		}
	}
	return &closure{matchID: m.ID, whiteWon: winner, result: result, termination: termination, at: now}, nil
}

func sameOutcome(a, b *bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// afterClose는 커밋된 종료를 로깅하고 발행.
func (s *Service) afterClose(ctx context.Context, c *closure) {
	if c == nil {
		return
	}
	s.log.Info("match_concluded",
		zap.Int64("match_id", c.matchID),
		zap.String("result", c.result),
		zap.String("termination", c.termination),
	)
	s.publish(ctx, Event{
		MatchID:     c.matchID,
		Kind:        EventConcluded,
		White:       c.whiteWon,
		Result:      c.result,
		Termination: c.termination,
		At:          c.at,
	})
}
