package match

import (
	"context"
	"time"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/checkmate-server/internal/domain"
	"github.com/park285/checkmate-server/internal/faults"
	"github.com/park285/checkmate-server/internal/opening"
	"github.com/park285/checkmate-server/internal/record"
	"github.com/park285/checkmate-server/internal/store"
)

// SeatView is the public face of a seat. User fields are empty for guests.
type SeatView struct {
	White      bool
	UserID     *int64
	Username   *string
	Rating     *int
	AvatarHash string
}

type ClockView struct {
	Limit          time.Duration
	WhiteUsed      time.Duration
	BlackUsed      time.Duration
	WhiteRemaining time.Duration
	BlackRemaining time.Duration
	WhiteToMove    bool
}

// View is a match as one caller sees it.
type View struct {
	ID          int64
	TimeStarted *time.Time
	TimeEnded   *time.Time
	WhiteWon    *bool
	Timer       domain.TimerKind
	TimeLimit   *int
	Record      string
	Players     []SeatView
	// IsWhite is the caller's color, nil when the caller holds no seat.
	IsWhite     *bool
	Result      string
	Termination string
	FEN         string
	Plies       int
	Opening     *opening.Name
	Clock       *ClockView
	// Game is the replayed position of a started match.
	Game *nchess.Game
}

func (s *Service) view(ctx context.Context, tx store.Tx, m *domain.Match, players []*domain.Player, cur domain.Identity, st *state, now time.Time) (*View, error) {
	v := &View{
		ID:          m.ID,
		TimeStarted: m.TimeStarted,
		TimeEnded:   m.TimeEnded,
		WhiteWon:    m.WhiteWon,
		Timer:       m.Timer,
		TimeLimit:   m.TimeLimit,
		Record:      m.Record,
		Result:      record.ResultInProgress,
		Players:     make([]SeatView, 0, len(players)),
	}
	for _, p := range players {
		u, err := seatUser(ctx, tx, p)
		if err != nil {
			return nil, faults.Fault("view seat", err)
		}
		sv := SeatView{White: p.White, AvatarHash: avatarHash(p, u)}
		if u != nil {
			id, name, rating := u.ID, u.Username, u.Rating
			sv.UserID, sv.Username, sv.Rating = &id, &name, &rating
		}
		v.Players = append(v.Players, sv)
	}
	if seat := FindSeat(players, cur); seat != nil {
		v.IsWhite = domain.BoolPtr(seat.White)
	}
	if !m.Started() {
		return v, nil
	}
	if st == nil {
		var err error
		if st, err = decodeState(m); err != nil {
			return nil, faults.Fault("view decode", err)
		}
	}
	v.Game = st.game
	v.FEN = st.game.FEN()
	v.Plies = len(st.rec.Plies)
	v.Opening = opening.Identify(st.game)
	v.Result = st.rec.Result()
	if t, ok := st.rec.Header.Get("Termination"); ok {
		v.Termination = t
	}
	at := now
	if m.TimeEnded != nil {
		at = *m.TimeEnded
	}
	r := s.reading(m, st, at)
	v.Clock = &ClockView{
		Limit:          r.Limit,
		WhiteUsed:      r.WhiteUsed,
		BlackUsed:      r.BlackUsed,
		WhiteRemaining: r.WhiteRemaining(),
		BlackRemaining: r.BlackRemaining(),
		WhiteToMove:    r.WhiteToMove,
	}
	return v, nil
}
