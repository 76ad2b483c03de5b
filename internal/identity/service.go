package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/checkmate-server/internal/domain"
	"github.com/park285/checkmate-server/internal/faults"
	"github.com/park285/checkmate-server/internal/store"
)

const DefaultRememberFor = 4 * 7 * 24 * time.Hour

type Service struct {
	store       store.Store
	signer      *Signer
	resolver    *Resolver
	hasher      Hasher
	log         *zap.Logger
	now         func() time.Time
	rememberFor time.Duration
}

type Option func(*Service)

func WithLogger(l *zap.Logger) Option     { return func(s *Service) { s.log = l } }
func WithHasher(h Hasher) Option          { return func(s *Service) { s.hasher = h } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }
func WithRememberFor(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.rememberFor = d
		}
	}
}

func NewService(st store.Store, signer *Signer, opts ...Option) *Service {
	s := &Service{
		store:       st,
		signer:      signer,
		hasher:      BcryptHasher{},
		log:         zap.NewNop(),
		now:         time.Now,
		rememberFor: DefaultRememberFor,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resolver = NewResolver(signer, s.now)
	return s
}

func (s *Service) Resolver() *Resolver { return s.resolver }

// Resolve reads the caller identity in its own transaction.
func (s *Service) Resolve(ctx context.Context, credential string) (domain.Identity, error) {
	var ident domain.Identity
	err := s.store.Update(ctx, func(tx store.Tx) error {
		var err error
		ident, err = s.resolver.Resolve(ctx, tx, credential)
		return err
	})
	if errors.Is(err, store.ErrContention) {
		return domain.Identity{}, faults.ErrContention
	}
	if err != nil {
		return domain.Identity{}, faults.Fault("resolve identity", err)
	}
	return ident, nil
}

// txErr surfaces an exhausted retry loop as a conflict the client may repeat.
func txErr(err error) error {
	if errors.Is(err, store.ErrContention) {
		return faults.ErrContention
	}
	return err
}

// Credential signs a credential for sess. A remembered credential expires after the remember window.
func (s *Service) Credential(sess *domain.Session, remember bool) (string, *time.Time, error) {
	c := Claims{Session: sess.Token, UserID: sess.UserID}
	if remember {
		exp := s.now().Add(s.rememberFor).Truncate(time.Second)
		c.Expires = &exp
	}
	tok, err := s.signer.Sign(c)
	if err != nil {
		return "", nil, faults.Fault("sign credential", err)
	}
	return tok, c.Expires, nil
}

// NewSession builds an unsaved guest session with a random token.
func NewSession() *domain.Session {
	return &domain.Session{Token: uuid.NewString()}
}

// Reload re-reads the caller inside tx so decisions use current rows.
// A session that no longer exists drops out of the identity.
func Reload(ctx context.Context, tx store.Tx, ident domain.Identity) (domain.Identity, error) {
	var out domain.Identity
	if ident.Session != nil {
		sess, err := tx.Session(ctx, ident.Session.ID)
		switch {
		case err == nil:
			out.Session = sess
		case !errors.Is(err, store.ErrNotFound):
			return domain.Identity{}, err
		}
	}
	var userID *int64
	switch {
	case out.Session != nil:
		userID = out.Session.UserID
	case ident.User != nil:
		userID = &ident.User.ID
	}
	if userID != nil {
		u, err := tx.User(ctx, *userID)
		switch {
		case err == nil:
			out.User = u
		case !errors.Is(err, store.ErrNotFound):
			return domain.Identity{}, err
		}
	}
	return out, nil
}

// EnsureSession mints and stores a guest session when the caller has none.
func EnsureSession(ctx context.Context, tx store.Tx, ident *domain.Identity) (bool, error) {
	if ident.Session != nil {
		return false, nil
	}
	sess := NewSession()
	if ident.User != nil {
		sess.UserID = &ident.User.ID
	}
	if err := tx.InsertSession(ctx, sess); err != nil {
		return false, err
	}
	ident.Session = sess
	return true, nil
}

type LoginResult struct {
	User       *domain.User
	Session    *domain.Session
	Credential string
	Expires    *time.Time
}

// Login authenticates and links the caller's session to the user.
// Seats held by that session are bound to the user as well and keep their
// session binding, so either identity finds them.
func (s *Service) Login(ctx context.Context, ident domain.Identity, username, password string, remember bool) (*LoginResult, error) {
	var res LoginResult
	bound := 0
	err := s.store.Update(ctx, func(tx store.Tx) error {
		cur, err := Reload(ctx, tx, ident)
		if err != nil {
			return faults.Fault("login reload", err)
		}
		if cur.Session != nil && cur.Session.UserID != nil {
			return faults.ErrAlreadyLoggedIn
		}
		u, err := tx.UserByUsername(ctx, strings.TrimSpace(username))
		if errors.Is(err, store.ErrNotFound) {
			return faults.ErrInvalidCredentials
		}
		if err != nil {
			return faults.Fault("login lookup", err)
		}
		ok, err := s.hasher.Compare(u.PasswordHash, password)
		if err != nil {
			return faults.Fault("login compare", err)
		}
		if !ok {
			return faults.ErrInvalidCredentials
		}
		cur.User = nil
		if _, err := EnsureSession(ctx, tx, &cur); err != nil {
			return faults.Fault("login mint session", err)
		}
		cur.Session.UserID = &u.ID
		if err := tx.PutSession(ctx, cur.Session); err != nil {
			return faults.Fault("login link session", err)
		}
		seats, err := tx.SeatsBySession(ctx, cur.Session.ID)
		if err != nil {
			return faults.Fault("login seats", err)
		}
		bound = 0
		for _, seat := range seats {
			if seat.UserID != nil {
				continue
			}
			seat.UserID = &u.ID
			if err := tx.PutPlayer(ctx, seat); err != nil {
				return faults.Fault("login bind seat", err)
			}
			bound++
		}
		res = LoginResult{User: u, Session: cur.Session}
		return nil
	})
	if err != nil {
		return nil, txErr(err)
	}
	res.Credential, res.Expires, err = s.Credential(res.Session, remember)
	if err != nil {
		return nil, err
	}
	s.log.Info("session_merge",
		zap.Int64("user_id", res.User.ID),
		zap.Int64("session_id", res.Session.ID),
		zap.Int("seats_bound", bound),
		zap.Bool("remember", remember),
	)
	return &res, nil
}

type LogoutResult struct {
	// Deleted is true when the session held no seats and was removed.
	Deleted bool
}

// Logout deletes a seatless session, otherwise it only unlinks the user.
func (s *Service) Logout(ctx context.Context, ident domain.Identity) (*LogoutResult, error) {
	var res LogoutResult
	if ident.Session == nil {
		return &res, nil
	}
	err := s.store.Update(ctx, func(tx store.Tx) error {
		sess, err := tx.Session(ctx, ident.Session.ID)
		if errors.Is(err, store.ErrNotFound) {
			res.Deleted = true
			return nil
		}
		if err != nil {
			return faults.Fault("logout load", err)
		}
		seats, err := tx.SeatsBySession(ctx, sess.ID)
		if err != nil {
			return faults.Fault("logout seats", err)
		}
		if len(seats) == 0 {
			res.Deleted = true
			if err := tx.DeleteSession(ctx, sess.ID); err != nil {
				return faults.Fault("logout delete", err)
			}
			return nil
		}
		sess.UserID = nil
		if err := tx.PutSession(ctx, sess); err != nil {
			return faults.Fault("logout demote", err)
		}
		return nil
	})
	if err != nil {
		return nil, txErr(err)
	}
	s.log.Info("session_logout", zap.Int64("session_id", ident.Session.ID), zap.Bool("deleted", res.Deleted))
	return &res, nil
}

type SignupRequest struct {
	Username string
	Password string
	Email    string
}

const (
	minUsername = 3
	maxUsername = 32
	minPassword = 8
	maxPassword = 72
)

// ValidateSignup accepts or rejects the request with a reason.
func ValidateSignup(req SignupRequest) error {
	name := strings.TrimSpace(req.Username)
	if n := utf8.RuneCountInString(name); n < minUsername || n > maxUsername {
		return faults.Invalid(fmt.Sprintf("username must be %d to %d characters", minUsername, maxUsername))
	}
	for _, r := range name {
		if !(r == '_' || r == '-' || r == '.' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
			return faults.Invalid("username may only contain letters, digits, '.', '-' and '_'")
		}
	}
	if err := validatePassword(req.Password); err != nil {
		return err
	}
	if e := strings.TrimSpace(req.Email); e != "" && !strings.Contains(e, "@") {
		return faults.Invalid("email address is not valid")
	}
	return nil
}

func validatePassword(p string) error {
	if len(p) < minPassword || len(p) > maxPassword {
		return faults.Invalid(fmt.Sprintf("password must be %d to %d bytes", minPassword, maxPassword))
	}
	return nil
}

// Signup creates a user. The caller must not be logged in and stays logged out.
func (s *Service) Signup(ctx context.Context, ident domain.Identity, req SignupRequest) (*domain.User, error) {
	if err := ValidateSignup(req); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, faults.Fault("signup hash", err)
	}
	var u *domain.User
	err = s.store.Update(ctx, func(tx store.Tx) error {
		cur, err := Reload(ctx, tx, ident)
		if err != nil {
			return faults.Fault("signup reload", err)
		}
		if cur.User != nil {
			return faults.ErrAlreadyLoggedIn
		}
		u = &domain.User{
			Username:     strings.TrimSpace(req.Username),
			PasswordHash: hash,
			CreatedAt:    s.now().UTC(),
			Rating:       domain.DefaultRating,
		}
		if e := strings.TrimSpace(req.Email); e != "" {
			u.Email = &e
		}
		err = tx.InsertUser(ctx, u)
		if errors.Is(err, store.ErrConflict) {
			return faults.ErrUsernameTaken
		}
		if err != nil {
			return faults.Fault("signup insert", err)
		}
		return nil
	})
	if err != nil {
		return nil, txErr(err)
	}
	s.log.Info("user_signup", zap.Int64("user_id", u.ID), zap.String("username", u.Username))
	return u, nil
}

type UpdateRequest struct {
	OldPassword string
	NewPassword string
	NewEmail    string
}

// Update changes password or email. A password change unlinks every other session of the user.
func (s *Service) Update(ctx context.Context, ident domain.Identity, req UpdateRequest) (*domain.User, error) {
	if ident.User == nil {
		return nil, faults.ErrNotLoggedIn
	}
	var newHash string
	if req.NewPassword != "" {
		if err := validatePassword(req.NewPassword); err != nil {
			return nil, err
		}
		h, err := s.hasher.Hash(req.NewPassword)
		if err != nil {
			return nil, faults.Fault("update hash", err)
		}
		newHash = h
	}
	if e := strings.TrimSpace(req.NewEmail); e != "" && !strings.Contains(e, "@") {
		return nil, faults.Invalid("email address is not valid")
	}
	var u *domain.User
	dropped := 0
	err := s.store.Update(ctx, func(tx store.Tx) error {
		dropped = 0
		cur, err := Reload(ctx, tx, ident)
		if err != nil {
			return faults.Fault("update reload", err)
		}
		if cur.User == nil {
			return faults.ErrNotLoggedIn
		}
		u = cur.User
		ok, err := s.hasher.Compare(u.PasswordHash, req.OldPassword)
		if err != nil {
			return faults.Fault("update compare", err)
		}
		if !ok {
			return faults.ErrInvalidCredentials
		}
		if newHash != "" {
			u.PasswordHash = newHash
			others, err := tx.SessionsByUser(ctx, u.ID)
			if err != nil {
				return faults.Fault("update sessions", err)
			}
			for _, other := range others {
				if cur.Session != nil && other.ID == cur.Session.ID {
					continue
				}
				other.UserID = nil
				if err := tx.PutSession(ctx, other); err != nil {
					return faults.Fault("update unlink session", err)
				}
				dropped++
			}
		}
		if e := strings.TrimSpace(req.NewEmail); e != "" {
			u.Email = &e
		}
		if err := tx.PutUser(ctx, u); err != nil {
			return faults.Fault("update user", err)
		}
		return nil
	})
	if err != nil {
		return nil, txErr(err)
	}
	s.log.Info("user_update", zap.Int64("user_id", u.ID), zap.Int("sessions_unlinked", dropped))
	return u, nil
}
