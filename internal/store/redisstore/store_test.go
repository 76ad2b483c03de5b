package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/park285/checkmate-server/internal/domain"
	"github.com/park285/checkmate-server/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	s, err := Open(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.SeedTimers(context.Background()); err != nil {
		t.Fatalf("SeedTimers: %v", err)
	}
	return s
}

func TestUserUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	err := s.Update(ctx, func(tx store.Tx) error {
		return tx.InsertUser(ctx, &domain.User{Username: "Magnus", Rating: domain.DefaultRating})
	})
	if err != nil {
		t.Fatalf("InsertUser: %v", err)
	}
	err = s.Update(ctx, func(tx store.Tx) error {
		return tx.InsertUser(ctx, &domain.User{Username: "magnus"})
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("duplicate insert err = %v, want ErrConflict", err)
	}
	err = s.Update(ctx, func(tx store.Tx) error {
		u, err := tx.UserByUsername(ctx, "MAGNUS")
		if err != nil {
			return err
		}
		if u.Username != "Magnus" || u.Rating != domain.DefaultRating {
			return fmt.Errorf("unexpected user %+v", u)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
}

func TestStagedReadsAndRollback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")
	var matchID int64
	err := s.Update(ctx, func(tx store.Tx) error {
		m := &domain.Match{Timer: domain.Countup}
		if err := tx.InsertMatch(ctx, m); err != nil {
			return err
		}
		matchID = m.ID
		got, err := tx.Match(ctx, m.ID)
		if err != nil {
			return fmt.Errorf("staged read: %w", err)
		}
		if got.Timer != domain.Countup {
			return fmt.Errorf("staged timer %q", got.Timer)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	err = s.Update(ctx, func(tx store.Tx) error {
		_, err := tx.Match(ctx, matchID)
		return err
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("rolled back match err = %v, want ErrNotFound", err)
	}
}

func TestSeatIndexes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	var sess domain.Session
	var m domain.Match
	err := s.Update(ctx, func(tx store.Tx) error {
		sess = domain.Session{Token: "tok-1"}
		if err := tx.InsertSession(ctx, &sess); err != nil {
			return err
		}
		m = domain.Match{Timer: domain.Countup}
		if err := tx.InsertMatch(ctx, &m); err != nil {
			return err
		}
		return tx.InsertPlayer(ctx, &domain.Player{MatchID: m.ID, White: true, SessionID: &sess.ID})
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	err = s.Update(ctx, func(tx store.Tx) error {
		return tx.InsertPlayer(ctx, &domain.Player{MatchID: m.ID, White: true, SessionID: &sess.ID})
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("second white seat err = %v, want ErrConflict", err)
	}
	err = s.Update(ctx, func(tx store.Tx) error {
		seats, err := tx.SeatsBySession(ctx, sess.ID)
		if err != nil {
			return err
		}
		if len(seats) != 1 || seats[0].MatchID != m.ID || !seats[0].White {
			return fmt.Errorf("seats = %+v", seats)
		}
		list, err := tx.ListMatches(ctx, store.ListFilter{SessionID: &sess.ID})
		if err != nil {
			return err
		}
		if len(list) != 1 || list[0].ID != m.ID {
			return fmt.Errorf("list = %+v", list)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("indexes: %v", err)
	}
}

func TestPutPlayerMovesSeatIndexes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	var sess domain.Session
	var u domain.User
	var m domain.Match
	err := s.Update(ctx, func(tx store.Tx) error {
		sess = domain.Session{Token: "tok-bind"}
		if err := tx.InsertSession(ctx, &sess); err != nil {
			return err
		}
		u = domain.User{Username: "binder", PasswordHash: "x"}
		if err := tx.InsertUser(ctx, &u); err != nil {
			return err
		}
		m = domain.Match{Timer: domain.Countup}
		if err := tx.InsertMatch(ctx, &m); err != nil {
			return err
		}
		return tx.InsertPlayer(ctx, &domain.Player{MatchID: m.ID, White: false, SessionID: &sess.ID})
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	err = s.Update(ctx, func(tx store.Tx) error {
		seats, err := tx.SeatsBySession(ctx, sess.ID)
		if err != nil {
			return err
		}
		seats[0].UserID = &u.ID
		return tx.PutPlayer(ctx, seats[0])
	})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	err = s.Update(ctx, func(tx store.Tx) error {
		byUser, err := tx.SeatsByUser(ctx, u.ID)
		if err != nil {
			return err
		}
		if len(byUser) != 1 || byUser[0].MatchID != m.ID || byUser[0].SessionID == nil {
			return fmt.Errorf("user seats = %+v", byUser)
		}
		bySession, err := tx.SeatsBySession(ctx, sess.ID)
		if err != nil {
			return err
		}
		if len(bySession) != 1 || bySession[0].UserID == nil || *bySession[0].UserID != u.ID {
			return fmt.Errorf("session seats = %+v", bySession)
		}
		list, err := tx.ListMatches(ctx, store.ListFilter{UserID: &u.ID})
		if err != nil {
			return err
		}
		if len(list) != 1 {
			return fmt.Errorf("list = %+v", list)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("indexes: %v", err)
	}
	err = s.Update(ctx, func(tx store.Tx) error {
		return tx.PutPlayer(ctx, &domain.Player{MatchID: m.ID, White: true, UserID: &u.ID})
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing seat err = %v, want ErrNotFound", err)
	}
}

func TestSessionUserIndexFollowsLink(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	var u domain.User
	var sess domain.Session
	err := s.Update(ctx, func(tx store.Tx) error {
		u = domain.User{Username: "hikaru", Rating: domain.DefaultRating}
		if err := tx.InsertUser(ctx, &u); err != nil {
			return err
		}
		sess = domain.Session{Token: "tok-2"}
		return tx.InsertSession(ctx, &sess)
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	link := func(userID *int64) {
		t.Helper()
		err := s.Update(ctx, func(tx store.Tx) error {
			cur, err := tx.SessionByToken(ctx, "tok-2")
			if err != nil {
				return err
			}
			cur.UserID = userID
			return tx.PutSession(ctx, cur)
		})
		if err != nil {
			t.Fatalf("PutSession: %v", err)
		}
	}
	count := func() int {
		t.Helper()
		var n int
		err := s.Update(ctx, func(tx store.Tx) error {
			list, err := tx.SessionsByUser(ctx, u.ID)
			n = len(list)
			return err
		})
		if err != nil {
			t.Fatalf("SessionsByUser: %v", err)
		}
		return n
	}
	link(&u.ID)
	if n := count(); n != 1 {
		t.Fatalf("linked sessions = %d, want 1", n)
	}
	link(nil)
	if n := count(); n != 0 {
		t.Fatalf("after demote sessions = %d, want 0", n)
	}
	err = s.Update(ctx, func(tx store.Tx) error { return tx.DeleteSession(ctx, sess.ID) })
	if err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	err = s.Update(ctx, func(tx store.Tx) error {
		_, err := tx.SessionByToken(ctx, "tok-2")
		return err
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("deleted session err = %v", err)
	}
}

func TestConcurrentSeatClaimsSerialize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	var m domain.Match
	if err := s.Update(ctx, func(tx store.Tx) error {
		m = domain.Match{Timer: domain.Countup}
		return tx.InsertMatch(ctx, &m)
	}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	const n = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sid := int64(100 + i)
			err := s.Update(ctx, func(tx store.Tx) error {
				return tx.InsertPlayer(ctx, &domain.Player{MatchID: m.ID, White: false, SessionID: &sid})
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, store.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected err: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 || conflicts != n-1 {
		t.Fatalf("wins=%d conflicts=%d", wins, conflicts)
	}
}

func TestTimerCatalog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	err := s.Update(ctx, func(tx store.Tx) error {
		tm, err := tx.Timer(ctx, domain.Countdown)
		if err != nil {
			return err
		}
		if tm.Kind != domain.Countdown {
			return fmt.Errorf("kind = %q", tm.Kind)
		}
		_, err = tx.Timer(ctx, domain.TimerKind("Hourglass"))
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("unknown timer err = %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("timers: %v", err)
	}
}
