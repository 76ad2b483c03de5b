// Package store defines the transactional persistence boundary of the match server.
package store

import (
	"context"
	"errors"

	"github.com/park285/checkmate-server/internal/domain"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict reports a unique constraint violation (username, seat).
	ErrConflict = errors.New("unique constraint violation")
	// ErrContention means the transaction lost every optimistic retry.
	ErrContention = errors.New("transaction contention")
)

// Store runs fn inside a single transaction. fn may be invoked more than
// once when the backend retries on contention, so it must not leak side
// effects outside the Tx. Returning an error rolls everything back.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// ListFilter selects matches for listing, newest first.
type ListFilter struct {
	UserID    *int64
	SessionID *int64
	Offset    int
	Limit     int
}

type Tx interface {
	InsertUser(ctx context.Context, u *domain.User) error
	User(ctx context.Context, id int64) (*domain.User, error)
	UserByUsername(ctx context.Context, username string) (*domain.User, error)
	PutUser(ctx context.Context, u *domain.User) error

	InsertSession(ctx context.Context, s *domain.Session) error
	Session(ctx context.Context, id int64) (*domain.Session, error)
	SessionByToken(ctx context.Context, token string) (*domain.Session, error)
	SessionsByUser(ctx context.Context, userID int64) ([]*domain.Session, error)
	PutSession(ctx context.Context, s *domain.Session) error
	DeleteSession(ctx context.Context, id int64) error

	Timer(ctx context.Context, kind domain.TimerKind) (*domain.Timer, error)

	InsertMatch(ctx context.Context, m *domain.Match) error
	// Match loads a match and holds it against concurrent writers until the transaction ends.
	Match(ctx context.Context, id int64) (*domain.Match, error)
	PutMatch(ctx context.Context, m *domain.Match) error
	ListMatches(ctx context.Context, f ListFilter) ([]*domain.Match, error)

	Players(ctx context.Context, matchID int64) ([]*domain.Player, error)
	InsertPlayer(ctx context.Context, p *domain.Player) error
	// PutPlayer rewrites the bindings of an existing seat.
	PutPlayer(ctx context.Context, p *domain.Player) error
	SeatsBySession(ctx context.Context, sessionID int64) ([]*domain.Player, error)
	SeatsByUser(ctx context.Context, userID int64) ([]*domain.Player, error)
}
