package pgstore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/park285/checkmate-server/internal/domain"
	"github.com/park285/checkmate-server/internal/store"
)

// openTestStore connects to CHECKMATE_TEST_DATABASE_URL and migrates it.
// The tests only add rows with unique names, so a shared database is fine.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("CHECKMATE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CHECKMATE_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s, err := Open(ctx, dsn, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, Migrate(ctx, s.DB()))
	return s
}

func uniqueName(prefix string) string {
	return prefix + "_" + uuid.NewString()[:8]
}

func TestPGUsernameConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	name := uniqueName("Conflict")

	err := s.Update(ctx, func(tx store.Tx) error {
		return tx.InsertUser(ctx, &domain.User{Username: name, PasswordHash: "x"})
	})
	require.NoError(t, err)

	err = s.Update(ctx, func(tx store.Tx) error {
		return tx.InsertUser(ctx, &domain.User{Username: "conflict" + name[len("Conflict"):], PasswordHash: "y"})
	})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestPGUpdateRollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	name := uniqueName("rollback")
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx store.Tx) error {
		if err := tx.InsertUser(ctx, &domain.User{Username: name, PasswordHash: "x"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = s.Update(ctx, func(tx store.Tx) error {
		_, err := tx.UserByUsername(ctx, name)
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPGSeatsAndListFilters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var u domain.User
	var sess domain.Session
	var m domain.Match
	err := s.Update(ctx, func(tx store.Tx) error {
		u = domain.User{Username: uniqueName("seated"), PasswordHash: "x"}
		if err := tx.InsertUser(ctx, &u); err != nil {
			return err
		}
		sess = domain.Session{Token: uuid.NewString()}
		if err := tx.InsertSession(ctx, &sess); err != nil {
			return err
		}
		m = domain.Match{Timer: domain.Countup}
		if err := tx.InsertMatch(ctx, &m); err != nil {
			return err
		}
		return tx.InsertPlayer(ctx, &domain.Player{MatchID: m.ID, White: true, SessionID: &sess.ID})
	})
	require.NoError(t, err)

	err = s.Update(ctx, func(tx store.Tx) error {
		byUser, err := tx.ListMatches(ctx, store.ListFilter{UserID: &u.ID})
		require.NoError(t, err)
		assert.Empty(t, byUser)

		seats, err := tx.SeatsBySession(ctx, sess.ID)
		require.NoError(t, err)
		require.Len(t, seats, 1)
		seats[0].UserID = &u.ID
		return tx.PutPlayer(ctx, seats[0])
	})
	require.NoError(t, err)

	err = s.Update(ctx, func(tx store.Tx) error {
		byUser, err := tx.ListMatches(ctx, store.ListFilter{UserID: &u.ID})
		require.NoError(t, err)
		require.Len(t, byUser, 1)
		assert.Equal(t, m.ID, byUser[0].ID)
		assert.Equal(t, domain.Countup, byUser[0].Timer)

		bySession, err := tx.ListMatches(ctx, store.ListFilter{SessionID: &sess.ID})
		require.NoError(t, err)
		require.Len(t, bySession, 1)

		players, err := tx.Players(ctx, m.ID)
		require.NoError(t, err)
		require.Len(t, players, 1)
		require.NotNil(t, players[0].UserID)
		require.NotNil(t, players[0].SessionID)
		return nil
	})
	require.NoError(t, err)

	err = s.Update(ctx, func(tx store.Tx) error {
		return tx.InsertPlayer(ctx, &domain.Player{MatchID: m.ID, White: true, UserID: &u.ID})
	})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestPGMatchLockSerializesWriters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var id int64
	err := s.Update(ctx, func(tx store.Tx) error {
		m := &domain.Match{Timer: domain.Countup}
		err := tx.InsertMatch(ctx, m)
		id = m.ID
		return err
	})
	require.NoError(t, err)

	locked := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.Update(ctx, func(tx store.Tx) error {
			m, err := tx.Match(ctx, id)
			if err != nil {
				return err
			}
			close(locked)
			time.Sleep(200 * time.Millisecond)
			m.Record = "first"
			return tx.PutMatch(ctx, m)
		})
	}()

	select {
	case <-locked:
	case err := <-done:
		t.Fatalf("first writer ended before locking: %v", err)
	}
	var seen string
	err = s.Update(ctx, func(tx store.Tx) error {
		m, err := tx.Match(ctx, id)
		if err != nil {
			return err
		}
		seen = m.Record
		m.Record += "+second"
		return tx.PutMatch(ctx, m)
	})
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, "first", seen)
}
