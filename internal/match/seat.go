package match

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/park285/checkmate-server/internal/domain"
	"github.com/park285/checkmate-server/internal/store"
)

// FindSeat returns the caller's seat: same Session, or same User.
// It is the only place seat ownership is decided.
func FindSeat(players []*domain.Player, ident domain.Identity) *domain.Player {
	for _, p := range players {
		if ident.Session != nil && p.SessionID != nil && *p.SessionID == ident.Session.ID {
			return p
		}
		if ident.User != nil && p.UserID != nil && *p.UserID == ident.User.ID {
			return p
		}
	}
	return nil
}

func seatTaken(players []*domain.Player, white bool) bool {
	for _, p := range players {
		if p.White == white {
			return true
		}
	}
	return false
}

func seatByColor(players []*domain.Player, white bool) *domain.Player {
	for _, p := range players {
		if p.White == white {
			return p
		}
	}
	return nil
}

// newSeat binds to the User when logged in, otherwise to the Session.
func newSeat(matchID int64, white bool, ident domain.Identity) *domain.Player {
	p := &domain.Player{MatchID: matchID, White: white}
	if ident.User != nil {
		p.UserID = &ident.User.ID
	} else if ident.Session != nil {
		p.SessionID = &ident.Session.ID
	}
	return p
}

// seatUser resolves the effective user of a seat: its own User, else the
// User its Session is currently linked to. Nil means a session-only seat.
func seatUser(ctx context.Context, tx store.Tx, p *domain.Player) (*domain.User, error) {
	var userID *int64
	switch {
	case p.UserID != nil:
		userID = p.UserID
	case p.SessionID != nil:
		sess, err := tx.Session(ctx, *p.SessionID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		userID = sess.UserID
	}
	if userID == nil {
		return nil, nil
	}
	u, err := tx.User(ctx, *userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return u, err
}

// avatarHash is a stable public handle that does not leak session tokens.
func avatarHash(p *domain.Player, u *domain.User) string {
	var key string
	switch {
	case u != nil:
		key = fmt.Sprintf("user:%d", u.ID)
	case p.SessionID != nil:
		key = fmt.Sprintf("session:%d", *p.SessionID)
	default:
		key = fmt.Sprintf("seat:%d:%t", p.MatchID, p.White)
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
