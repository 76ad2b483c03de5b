package match

import (
	"context"
	"sort"

	"github.com/park285/checkmate-server/internal/domain"
	"github.com/park285/checkmate-server/internal/faults"
	"github.com/park285/checkmate-server/internal/identity"
	"github.com/park285/checkmate-server/internal/store"
)

type Opponent struct {
	UserID     *int64
	Username   *string
	AvatarHash string
	Games      int
}

type Stats struct {
	GamesPlayed  int
	GamesWon     int
	PercentWhite float64
	Favourite    *Opponent
}

// Stats summarises the started matches the caller has played, counting seats
// bound to the user, to any of the user's sessions, or to the current session.
func (s *Service) Stats(ctx context.Context, ident domain.Identity) (*Stats, error) {
	var out Stats
	err := s.store.Update(ctx, func(tx store.Tx) error {
		out = Stats{}
		cur, err := identity.Reload(ctx, tx, ident)
		if err != nil {
			return faults.Fault("stats reload", err)
		}
		if cur.Empty() {
			return faults.ErrNotLoggedIn
		}
		seats, err := callerSeats(ctx, tx, cur)
		if err != nil {
			return faults.Fault("stats seats", err)
		}

		type tally struct {
			opp   Opponent
			first int64
		}
		opponents := map[string]*tally{}
		white := 0
		for _, seat := range seats {
			m, err := tx.Match(ctx, seat.MatchID)
			if err != nil {
				return faults.Fault("stats match", err)
			}
			if !m.Started() {
				continue
			}
			out.GamesPlayed++
			if seat.White {
				white++
			}
			if m.WhiteWon != nil && *m.WhiteWon == seat.White {
				out.GamesWon++
			}
			players, err := tx.Players(ctx, m.ID)
			if err != nil {
				return faults.Fault("stats players", err)
			}
			opp := seatByColor(players, !seat.White)
			if opp == nil {
				continue
			}
			u, err := seatUser(ctx, tx, opp)
			if err != nil {
				return faults.Fault("stats opponent", err)
			}
			hash := avatarHash(opp, u)
			t, ok := opponents[hash]
			if !ok {
				t = &tally{opp: Opponent{AvatarHash: hash}, first: m.ID}
				if u != nil {
					id, name := u.ID, u.Username
					t.opp.UserID, t.opp.Username = &id, &name
				}
				opponents[hash] = t
			}
			t.opp.Games++
		}
		if out.GamesPlayed > 0 {
			out.PercentWhite = float64(white) * 100 / float64(out.GamesPlayed)
		}
		var best *tally
		for _, t := range opponents {
			if best == nil || t.opp.Games > best.opp.Games || (t.opp.Games == best.opp.Games && t.first < best.first) {
				best = t
			}
		}
		if best != nil {
			fav := best.opp
			out.Favourite = &fav
		}
		return nil
	})
	if err != nil {
		return nil, txErr(err)
	}
	return &out, nil
}

// callerSeats gathers the caller's seats without duplicates, ordered by match.
func callerSeats(ctx context.Context, tx store.Tx, cur domain.Identity) ([]*domain.Player, error) {
	type key struct {
		match int64
		white bool
	}
	seen := map[key]bool{}
	var out []*domain.Player
	add := func(ps []*domain.Player) {
		for _, p := range ps {
			k := key{p.MatchID, p.White}
			if !seen[k] {
				seen[k] = true
				out = append(out, p)
			}
		}
	}
	if cur.User != nil {
		ps, err := tx.SeatsByUser(ctx, cur.User.ID)
		if err != nil {
			return nil, err
		}
		add(ps)
		sessions, err := tx.SessionsByUser(ctx, cur.User.ID)
		if err != nil {
			return nil, err
		}
		for _, sess := range sessions {
			ps, err := tx.SeatsBySession(ctx, sess.ID)
			if err != nil {
				return nil, err
			}
			add(ps)
		}
	}
	if cur.Session != nil {
		ps, err := tx.SeatsBySession(ctx, cur.Session.ID)
		if err != nil {
			return nil, err
		}
		add(ps)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MatchID < out[j].MatchID })
	return out, nil
}
