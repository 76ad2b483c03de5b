// Package match runs the match lifecycle: creation, seat entry, moves,
// lazy closure on timeout and rating settlement.
package match

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/park285/checkmate-server/internal/domain"
	"github.com/park285/checkmate-server/internal/faults"
	"github.com/park285/checkmate-server/internal/identity"
	"github.com/park285/checkmate-server/internal/record"
	"github.com/park285/checkmate-server/internal/store"
)

type Service struct {
	store  store.Store
	log    *zap.Logger
	now    func() time.Time
	site   string
	events Publisher
	coin   func() bool
}

type Option func(*Service)

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }
func WithSite(site string) Option           { return func(s *Service) { s.site = site } }
func WithPublisher(p Publisher) Option      { return func(s *Service) { s.events = p } }

// WithCoin replaces the random color draw used when the joiner has no preference.
func WithCoin(coin func() bool) Option { return func(s *Service) { s.coin = coin } }

func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store: st,
		log:   zap.NewNop(),
		now:   time.Now,
		site:  "localhost",
		coin:  cryptoCoin,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func cryptoCoin() bool {
	n, err := rand.Int(rand.Reader, big.NewInt(2))
	if err != nil {
		return true
	}
	return n.Int64() == 0
}

// txErr maps store-level retry exhaustion to the caller-visible conflict.
func txErr(err error) error {
	if errors.Is(err, store.ErrContention) {
		return faults.ErrContention
	}
	return err
}

type CreateOptions struct {
	// CreatorWhite picks the creator's color; nil means white.
	CreatorWhite *bool
	Timer        domain.TimerKind
	// TimeLimit is seconds per side, required for Countdown.
	TimeLimit *int
}

type Created struct {
	MatchID int64
	White   bool
	// Session is set when a guest session was minted for the caller.
	Session *domain.Session
}

// Create opens a match with the creator in one seat. The record stays empty until the second seat fills.
func (s *Service) Create(ctx context.Context, ident domain.Identity, opts CreateOptions) (*Created, error) {
	kind := opts.Timer
	if kind == "" {
		kind = domain.Countup
	}
	if !kind.Valid() {
		return nil, faults.ErrInvalidOptions
	}
	var limit *int
	if kind == domain.Countdown {
		if opts.TimeLimit == nil || *opts.TimeLimit <= 0 {
			return nil, faults.ErrInvalidOptions
		}
		v := *opts.TimeLimit
		limit = &v
	}
	white := true
	if opts.CreatorWhite != nil {
		white = *opts.CreatorWhite
	}

	var out Created
	err := s.store.Update(ctx, func(tx store.Tx) error {
		out = Created{White: white}
		cur, err := identity.Reload(ctx, tx, ident)
		if err != nil {
			return faults.Fault("create reload", err)
		}
		minted, err := identity.EnsureSession(ctx, tx, &cur)
		if err != nil {
			return faults.Fault("create mint session", err)
		}
		if minted {
			out.Session = cur.Session
		}
		if _, err := tx.Timer(ctx, kind); err != nil {
			return faults.Fault("create timer "+string(kind), err)
		}
		m := &domain.Match{Timer: kind, TimeLimit: limit}
		if err := tx.InsertMatch(ctx, m); err != nil {
			return faults.Fault("create insert", err)
		}
		if err := tx.InsertPlayer(ctx, newSeat(m.ID, white, cur)); err != nil {
			return faults.Fault("create seat", err)
		}
		out.MatchID = m.ID
		return nil
	})
	if err != nil {
		return nil, txErr(err)
	}
	s.log.Info("match_create",
		zap.Int64("match_id", out.MatchID),
		zap.String("timer", string(kind)),
		zap.Bool("creator_white", white),
		zap.Bool("guest_minted", out.Session != nil),
	)
	s.publish(ctx, Event{MatchID: out.MatchID, Kind: EventCreated, White: domain.BoolPtr(white), At: s.now().UTC()})
	return &out, nil
}

type Entered struct {
	White   bool
	Started bool
	Session *domain.Session
}

// Enter takes the remaining seat. wantsWhite nil draws a color and flips it when taken.
// Filling the second seat starts the match and writes the initial record.
func (s *Service) Enter(ctx context.Context, matchID int64, wantsWhite *bool, ident domain.Identity) (*Entered, error) {
	var out Entered
	var startedAt time.Time
	err := s.store.Update(ctx, func(tx store.Tx) error {
		out = Entered{}
		cur, err := identity.Reload(ctx, tx, ident)
		if err != nil {
			return faults.Fault("enter reload", err)
		}
		m, err := tx.Match(ctx, matchID)
		if errors.Is(err, store.ErrNotFound) {
			return faults.ErrNotFound
		}
		if err != nil {
			return faults.Fault("enter load", err)
		}
		players, err := tx.Players(ctx, matchID)
		if err != nil {
			return faults.Fault("enter players", err)
		}
		if FindSeat(players, cur) != nil {
			return faults.ErrAlreadyJoined
		}
		if len(players) >= 2 {
			return faults.ErrFull
		}

		var white bool
		if wantsWhite == nil {
			white = s.coin()
			if seatTaken(players, white) {
				white = !white
			}
		} else {
			white = *wantsWhite
			if seatTaken(players, white) {
				return faults.ErrColorUnavailable
			}
		}

		minted, err := identity.EnsureSession(ctx, tx, &cur)
		if err != nil {
			return faults.Fault("enter mint session", err)
		}
		if minted {
			out.Session = cur.Session
		}
		seat := newSeat(matchID, white, cur)
		err = tx.InsertPlayer(ctx, seat)
		if errors.Is(err, store.ErrConflict) {
			return faults.ErrColorUnavailable
		}
		if err != nil {
			return faults.Fault("enter seat", err)
		}
		out.White = white
		players = append(players, seat)

		if len(players) == 2 && !m.Started() {
			startedAt = s.now().UTC()
			if err := s.start(ctx, tx, m, players, startedAt); err != nil {
				return err
			}
			out.Started = true
		}
		return nil
	})
	if err != nil {
		return nil, txErr(err)
	}
	s.log.Info("match_enter",
		zap.Int64("match_id", matchID),
		zap.String("color", colorName(out.White)),
		zap.Bool("started", out.Started),
	)
	evs := []Event{{MatchID: matchID, Kind: EventEntered, White: domain.BoolPtr(out.White), At: s.now().UTC()}}
	if out.Started {
		evs = append(evs, Event{MatchID: matchID, Kind: EventStarted, At: startedAt})
	}
	s.publish(ctx, evs...)
	return &out, nil
}

// start stamps the start time and writes the initial record with both names.
func (s *Service) start(ctx context.Context, tx store.Tx, m *domain.Match, players []*domain.Player, at time.Time) error {
	info := record.HeaderInfo{Site: s.site, Start: at}
	if m.Timer == domain.Countdown && m.TimeLimit != nil {
		info.TimeLimit = *m.TimeLimit
	}
	for _, p := range players {
		u, err := seatUser(ctx, tx, p)
		if err != nil {
			return faults.Fault("start names", err)
		}
		name := ""
		if u != nil {
			name = u.Username
		}
		if p.White {
			info.White = name
		} else {
			info.Black = name
		}
	}
	m.TimeStarted = &at
	m.Record = record.Encode(record.Start(info))
	if err := tx.PutMatch(ctx, m); err != nil {
		return faults.Fault("start save", err)
	}
	return nil
}

// Move validates and applies one move for the caller. A clock that ran out
// before the move concludes the match and the call reports GameOver.
func (s *Service) Move(ctx context.Context, matchID int64, notation string, ident domain.Identity) (*View, error) {
	var view *View
	var closed *closure
	var moved *Event
	err := s.store.Update(ctx, func(tx store.Tx) error {
		view, closed, moved = nil, nil, nil
		cur, err := identity.Reload(ctx, tx, ident)
		if err != nil {
			return faults.Fault("move reload", err)
		}
		m, players, err := load(ctx, tx, matchID)
		if err != nil {
			return err
		}
		if m.Concluded() {
			return faults.ErrGameOver
		}
		if !m.Started() {
			return faults.ErrNotStarted
		}
		// 참가자 확인
		seat := FindSeat(players, cur)
		if seat == nil {
			return faults.ErrNotParticipant
		}
		// 기보 재구성
		st, err := decodeState(m)
		if err != nil {
			return faults.Fault("move decode", err)
		}
		now := s.now().UTC()
		closed, err = s.hospice(ctx, tx, m, players, st, now, false)
		if err != nil {
			return err
		}
		if closed != nil {
			return nil
		}
		// 턴 검증
		if seat.White != st.whiteToMove() {
			return faults.ErrNotYourTurn
		}
		reading := s.reading(m, st, now)
		// 적용 + 시계 기록
		san, err := record.Push(st.game, notation)
		if err != nil {
			return faults.ErrIllegalMove
		}
		st.rec.Plies = append(st.rec.Plies, record.Ply{SAN: san, Clock: reading.NextOffset()})
		moved = &Event{MatchID: matchID, Kind: EventMoved, Ply: len(st.rec.Plies), SAN: san, White: domain.BoolPtr(seat.White), At: now}
		closed, err = s.hospice(ctx, tx, m, players, st, now, true)
		if err != nil {
			return err
		}
		view, err = s.view(ctx, tx, m, players, cur, st, now)
		return err
	})
	if err != nil {
		return nil, txErr(err)
	}
	if moved == nil {
		// 수 이전에 시간 초과: 종료는 이미 커밋됨
		s.afterClose(ctx, closed)
		return nil, faults.ErrGameOver
	}
	s.log.Info("match_move",
		zap.Int64("match_id", matchID),
		zap.Int("ply", moved.Ply),
		zap.String("san", moved.SAN),
	)
	s.publish(ctx, *moved)
	s.afterClose(ctx, closed)
	return view, nil
}

// Resign concludes the match in the opponent's favour.
func (s *Service) Resign(ctx context.Context, matchID int64, ident domain.Identity) (*View, error) {
	var view *View
	var closed *closure
	var flagged bool
	err := s.store.Update(ctx, func(tx store.Tx) error {
		view, closed, flagged = nil, nil, false
		cur, err := identity.Reload(ctx, tx, ident)
		if err != nil {
			return faults.Fault("resign reload", err)
		}
		m, players, err := load(ctx, tx, matchID)
		if err != nil {
			return err
		}
		if m.Concluded() {
			return faults.ErrGameOver
		}
		if !m.Started() {
			return faults.ErrNotStarted
		}
		seat := FindSeat(players, cur)
		if seat == nil {
			return faults.ErrNotParticipant
		}
		st, err := decodeState(m)
		if err != nil {
			return faults.Fault("resign decode", err)
		}
		now := s.now().UTC()
		closed, err = s.hospice(ctx, tx, m, players, st, now, false)
		if err != nil {
			return err
		}
		if closed != nil {
			flagged = true
			return nil
		}
		closed, err = s.close(ctx, tx, m, players, st, domain.BoolPtr(!seat.White), record.TerminationAbandoned, now)
		if err != nil {
			return err
		}
		view, err = s.view(ctx, tx, m, players, cur, st, now)
		return err
	})
	if err != nil {
		return nil, txErr(err)
	}
	s.afterClose(ctx, closed)
	if flagged {
		return nil, faults.ErrGameOver
	}
	return view, nil
}

// Get returns the caller's view of a match. Reading runs Hospice first,
// so an expired clock is closed before the view is built.
func (s *Service) Get(ctx context.Context, matchID int64, ident domain.Identity) (*View, error) {
	var view *View
	var closed *closure
	err := s.store.Update(ctx, func(tx store.Tx) error {
		view, closed = nil, nil
		cur, err := identity.Reload(ctx, tx, ident)
		if err != nil {
			return faults.Fault("get reload", err)
		}
		m, players, err := load(ctx, tx, matchID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		var st *state
		if m.Started() {
			if st, err = decodeState(m); err != nil {
				return faults.Fault("get decode", err)
			}
		}
		if closed, err = s.hospice(ctx, tx, m, players, st, now, false); err != nil {
			return err
		}
		view, err = s.view(ctx, tx, m, players, cur, st, now)
		return err
	})
	if err != nil {
		return nil, txErr(err)
	}
	s.afterClose(ctx, closed)
	return view, nil
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type ListOptions struct {
	// Mine restricts the listing to matches the caller holds a seat in.
	Mine     bool
	Page     int
	PageSize int
}

// List returns matches newest first, each passed through Hospice.
func (s *Service) List(ctx context.Context, ident domain.Identity, opts ListOptions) ([]*View, error) {
	size := opts.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	page := opts.Page
	if page < 0 {
		page = 0
	}
	if opts.Mine && ident.Empty() {
		return []*View{}, nil
	}

	var views []*View
	var closed []*closure
	err := s.store.Update(ctx, func(tx store.Tx) error {
		views, closed = nil, nil
		cur, err := identity.Reload(ctx, tx, ident)
		if err != nil {
			return faults.Fault("list reload", err)
		}
		f := store.ListFilter{Offset: page * size, Limit: size}
		if opts.Mine {
			if cur.Empty() {
				return nil
			}
			if cur.User != nil {
				f.UserID = &cur.User.ID
			}
			if cur.Session != nil {
				f.SessionID = &cur.Session.ID
			}
		}
		matches, err := tx.ListMatches(ctx, f)
		if err != nil {
			return faults.Fault("list matches", err)
		}
		now := s.now().UTC()
		for _, m := range matches {
			players, err := tx.Players(ctx, m.ID)
			if err != nil {
				return faults.Fault("list players", err)
			}
			var st *state
			if m.Started() {
				if st, err = decodeState(m); err != nil {
					return faults.Fault("list decode", err)
				}
			}
			c, err := s.hospice(ctx, tx, m, players, st, now, false)
			if err != nil {
				return err
			}
			if c != nil {
				closed = append(closed, c)
			}
			v, err := s.view(ctx, tx, m, players, cur, st, now)
			if err != nil {
				return err
			}
			views = append(views, v)
		}
		return nil
	})
	if err != nil {
		return nil, txErr(err)
	}
	for _, c := range closed {
		s.afterClose(ctx, c)
	}
	if views == nil {
		views = []*View{}
	}
	return views, nil
}

func load(ctx context.Context, tx store.Tx, matchID int64) (*domain.Match, []*domain.Player, error) {
	m, err := tx.Match(ctx, matchID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, faults.ErrNotFound
	}
	if err != nil {
		return nil, nil, faults.Fault("load match", err)
	}
	players, err := tx.Players(ctx, matchID)
	if err != nil {
		return nil, nil, faults.Fault("load players", err)
	}
	return m, players, nil
}

func colorName(white bool) string {
	if white {
		return "white"
	}
	return "black"
}
