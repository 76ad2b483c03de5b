package identity

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/park285/checkmate-server/internal/domain"
	"github.com/park285/checkmate-server/internal/faults"
	"github.com/park285/checkmate-server/internal/store"
	"github.com/park285/checkmate-server/internal/store/redisstore"
)

type fixture struct {
	svc   *Service
	store *redisstore.Store
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	st, err := redisstore.Open(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	signer, err := NewSigner("test-secret")
	require.NoError(t, err)
	f := &fixture{store: st, now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	f.svc = NewService(st, signer,
		WithHasher(BcryptHasher{Cost: bcrypt.MinCost}),
		WithClock(func() time.Time { return f.now }),
	)
	return f
}

func (f *fixture) guest(t *testing.T) (domain.Identity, string) {
	t.Helper()
	var ident domain.Identity
	err := f.store.Update(context.Background(), func(tx store.Tx) error {
		ident = domain.Identity{}
		_, err := EnsureSession(context.Background(), tx, &ident)
		return err
	})
	require.NoError(t, err)
	cred, _, err := f.svc.Credential(ident.Session, false)
	require.NoError(t, err)
	return ident, cred
}

func (f *fixture) signup(t *testing.T, name string) *domain.User {
	t.Helper()
	u, err := f.svc.Signup(context.Background(), domain.Identity{}, SignupRequest{Username: name, Password: "correct horse"})
	require.NoError(t, err)
	return u
}

func TestSignerRoundTrip(t *testing.T) {
	s, err := NewSigner("k")
	require.NoError(t, err)
	uid := int64(42)
	exp := time.Unix(1_900_000_000, 0)
	tok, err := s.Sign(Claims{Session: "abc", UserID: &uid, Expires: &exp})
	require.NoError(t, err)

	c, err := s.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "abc", c.Session)
	require.NotNil(t, c.UserID)
	assert.Equal(t, uid, *c.UserID)
	require.NotNil(t, c.Expires)
	assert.True(t, c.Expires.Equal(exp))

	other, err := NewSigner("other")
	require.NoError(t, err)
	_, err = other.Verify(tok)
	assert.ErrorIs(t, err, ErrBadCredential)

	_, err = NewSigner("  ")
	assert.Error(t, err)
}

func TestResolveIgnoresBadCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, cred := range []string{"", "garbage", "a.b.c"} {
		ident, err := f.svc.Resolve(ctx, cred)
		require.NoError(t, err)
		assert.True(t, ident.Empty(), "credential %q", cred)
	}

	unknown, err := f.svc.signer.Sign(Claims{Session: "no-such-session"})
	require.NoError(t, err)
	ident, err := f.svc.Resolve(ctx, unknown)
	require.NoError(t, err)
	assert.True(t, ident.Empty())
}

func TestResolveHonoursExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	guest, _ := f.guest(t)

	cred, exp, err := f.svc.Credential(guest.Session, true)
	require.NoError(t, err)
	require.NotNil(t, exp)

	ident, err := f.svc.Resolve(ctx, cred)
	require.NoError(t, err)
	require.NotNil(t, ident.Session)
	assert.Equal(t, guest.Session.ID, ident.Session.ID)

	f.now = exp.Add(time.Second)
	ident, err = f.svc.Resolve(ctx, cred)
	require.NoError(t, err)
	assert.True(t, ident.Empty())
}

func TestLoginMergesGuestSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.signup(t, "alice")
	guest, cred := f.guest(t)

	var matchID int64
	err := f.store.Update(ctx, func(tx store.Tx) error {
		m := &domain.Match{Timer: domain.Countup}
		if err := tx.InsertMatch(ctx, m); err != nil {
			return err
		}
		matchID = m.ID
		return tx.InsertPlayer(ctx, &domain.Player{MatchID: m.ID, White: true, SessionID: &guest.Session.ID})
	})
	require.NoError(t, err)

	ident, err := f.svc.Resolve(ctx, cred)
	require.NoError(t, err)
	res, err := f.svc.Login(ctx, ident, "alice", "correct horse", false)
	require.NoError(t, err)
	assert.Equal(t, guest.Session.ID, res.Session.ID)
	assert.Nil(t, res.Expires)

	after, err := f.svc.Resolve(ctx, res.Credential)
	require.NoError(t, err)
	require.NotNil(t, after.User)
	assert.Equal(t, u.ID, after.User.ID)

	err = f.store.Update(ctx, func(tx store.Tx) error {
		players, err := tx.Players(ctx, matchID)
		if err != nil {
			return err
		}
		require.Len(t, players, 1)
		require.NotNil(t, players[0].SessionID)
		assert.Equal(t, guest.Session.ID, *players[0].SessionID)
		require.NotNil(t, players[0].UserID)
		assert.Equal(t, u.ID, *players[0].UserID)

		seats, err := tx.SeatsByUser(ctx, u.ID)
		if err != nil {
			return err
		}
		require.Len(t, seats, 1)
		assert.Equal(t, matchID, seats[0].MatchID)
		return nil
	})
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, after, "alice", "correct horse", false)
	assert.ErrorIs(t, err, faults.ErrAlreadyLoggedIn)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "bob")

	_, err := f.svc.Login(ctx, domain.Identity{}, "bob", "wrong password", true)
	assert.ErrorIs(t, err, faults.ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, domain.Identity{}, "nobody", "correct horse", true)
	assert.ErrorIs(t, err, faults.ErrInvalidCredentials)

	res, err := f.svc.Login(ctx, domain.Identity{}, "BOB", "correct horse", true)
	require.NoError(t, err)
	require.NotNil(t, res.Expires)
	assert.Equal(t, f.now.Add(DefaultRememberFor), *res.Expires)
}

func TestLogoutDeletesSeatlessSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "carol")
	res, err := f.svc.Login(ctx, domain.Identity{}, "carol", "correct horse", false)
	require.NoError(t, err)

	ident, err := f.svc.Resolve(ctx, res.Credential)
	require.NoError(t, err)
	out, err := f.svc.Logout(ctx, ident)
	require.NoError(t, err)
	assert.True(t, out.Deleted)

	ident, err = f.svc.Resolve(ctx, res.Credential)
	require.NoError(t, err)
	assert.True(t, ident.Empty())
}

func TestLogoutDemotesSeatedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "dave")
	guest, cred := f.guest(t)
	err := f.store.Update(ctx, func(tx store.Tx) error {
		m := &domain.Match{Timer: domain.Countup}
		if err := tx.InsertMatch(ctx, m); err != nil {
			return err
		}
		return tx.InsertPlayer(ctx, &domain.Player{MatchID: m.ID, White: false, SessionID: &guest.Session.ID})
	})
	require.NoError(t, err)

	ident, err := f.svc.Resolve(ctx, cred)
	require.NoError(t, err)
	res, err := f.svc.Login(ctx, ident, "dave", "correct horse", false)
	require.NoError(t, err)
	ident, err = f.svc.Resolve(ctx, res.Credential)
	require.NoError(t, err)
	require.NotNil(t, ident.User)

	out, err := f.svc.Logout(ctx, ident)
	require.NoError(t, err)
	assert.False(t, out.Deleted)

	ident, err = f.svc.Resolve(ctx, res.Credential)
	require.NoError(t, err)
	require.NotNil(t, ident.Session)
	assert.Nil(t, ident.User)
	assert.Equal(t, guest.Session.ID, ident.Session.ID)
}

func TestSignupDuplicateUsername(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.signup(t, "erin")

	_, err := f.svc.Signup(ctx, domain.Identity{}, SignupRequest{Username: "erin", Password: "another secret"})
	assert.ErrorIs(t, err, faults.ErrUsernameTaken)
	assert.Equal(t, faults.KindConflict, faults.KindOf(err))

	err = f.store.Update(ctx, func(tx store.Tx) error {
		u, err := tx.UserByUsername(ctx, "erin")
		if err != nil {
			return err
		}
		assert.Equal(t, first.ID, u.ID)
		_, err = tx.User(ctx, first.ID+1)
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("unexpected second user: %v", err)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestSignupValidation(t *testing.T) {
	cases := []SignupRequest{
		{Username: "ab", Password: "long enough"},
		{Username: "has space", Password: "long enough"},
		{Username: "fine", Password: "short"},
		{Username: "fine", Password: "long enough", Email: "not-an-email"},
	}
	for _, c := range cases {
		err := ValidateSignup(c)
		assert.Equal(t, faults.KindUserInput, faults.KindOf(err), "%+v", c)
	}
	assert.NoError(t, ValidateSignup(SignupRequest{Username: "good_name", Password: "long enough", Email: "a@b.c"}))
}

func TestSignupWhileLoggedIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "frank")
	res, err := f.svc.Login(ctx, domain.Identity{}, "frank", "correct horse", false)
	require.NoError(t, err)
	ident, err := f.svc.Resolve(ctx, res.Credential)
	require.NoError(t, err)

	_, err = f.svc.Signup(ctx, ident, SignupRequest{Username: "frank2", Password: "correct horse"})
	assert.ErrorIs(t, err, faults.ErrAlreadyLoggedIn)
}

func TestUpdatePasswordUnlinksOtherSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "grace")
	a, err := f.svc.Login(ctx, domain.Identity{}, "grace", "correct horse", false)
	require.NoError(t, err)
	b, err := f.svc.Login(ctx, domain.Identity{}, "grace", "correct horse", false)
	require.NoError(t, err)

	identA, err := f.svc.Resolve(ctx, a.Credential)
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, identA, UpdateRequest{OldPassword: "wrong", NewPassword: "brand new pass"})
	assert.ErrorIs(t, err, faults.ErrInvalidCredentials)

	u, err := f.svc.Update(ctx, identA, UpdateRequest{OldPassword: "correct horse", NewPassword: "brand new pass", NewEmail: "g@example.com"})
	require.NoError(t, err)
	require.NotNil(t, u.Email)
	assert.Equal(t, "g@example.com", *u.Email)

	identB, err := f.svc.Resolve(ctx, b.Credential)
	require.NoError(t, err)
	assert.Nil(t, identB.User, "other session should be unlinked")
	identA, err = f.svc.Resolve(ctx, a.Credential)
	require.NoError(t, err)
	assert.NotNil(t, identA.User)

	_, err = f.svc.Login(ctx, identB, "grace", "brand new pass", false)
	assert.NoError(t, err)

	_, err = f.svc.Update(ctx, domain.Identity{}, UpdateRequest{OldPassword: "x"})
	assert.ErrorIs(t, err, faults.ErrNotLoggedIn)
}

// contended fails every transaction the way a store does after its retries run out.
type contended struct{}

func (contended) Update(context.Context, func(store.Tx) error) error { return store.ErrContention }
func (contended) Close() error                                     { return nil }

func TestStoreContentionIsConflict(t *testing.T) {
	signer, err := NewSigner("test-secret")
	require.NoError(t, err)
	svc := NewService(contended{}, signer, WithHasher(BcryptHasher{Cost: bcrypt.MinCost}))
	ctx := context.Background()
	sid := int64(7)
	ident := domain.Identity{
		Session: &domain.Session{ID: sid, Token: "t"},
		User:    &domain.User{ID: 3, Username: "erin"},
	}

	_, err = svc.Resolve(ctx, "anything")
	assert.ErrorIs(t, err, faults.ErrContention)
	_, err = svc.Login(ctx, domain.Identity{}, "erin", "correct horse", false)
	assert.ErrorIs(t, err, faults.ErrContention)
	_, err = svc.Logout(ctx, ident)
	assert.ErrorIs(t, err, faults.ErrContention)
	_, err = svc.Signup(ctx, domain.Identity{}, SignupRequest{Username: "erin", Password: "correct horse"})
	assert.ErrorIs(t, err, faults.ErrContention)
	_, err = svc.Update(ctx, ident, UpdateRequest{OldPassword: "correct horse", NewEmail: "erin@example.test"})
	assert.ErrorIs(t, err, faults.ErrContention)

	assert.Equal(t, "CONTENTION", faults.Classify(err).Code)
}
