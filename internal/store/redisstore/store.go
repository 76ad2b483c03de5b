// Package redisstore implements store.Store on Redis with WATCH/MULTI transactions.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/checkmate-server/internal/domain"
	"github.com/park285/checkmate-server/internal/store"
)

const defaultAttempts = 10

type Store struct {
	rdb      *redis.Client
	log      *zap.Logger
	attempts int
	prefix   string
}

type Option func(*Store)

func WithLogger(l *zap.Logger) Option { return func(s *Store) { s.log = l } }

// WithAttempts bounds how often a transaction is re-run after a WATCH conflict.
func WithAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.attempts = n
		}
	}
}

func WithPrefix(p string) Option { return func(s *Store) { s.prefix = p } }

func New(rdb *redis.Client, opts ...Option) *Store {
	s := &Store{rdb: rdb, log: zap.NewNop(), attempts: defaultAttempts, prefix: "cm"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to REDIS_URL and verifies the connection.
func Open(ctx context.Context, redisURL string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for redis store")
	}
	ropts, err := ParseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(ropts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(rdb, opts...), nil
}

func (s *Store) Client() *redis.Client { return s.rdb }

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func (s *Store) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	for attempt := 1; attempt <= s.attempts; attempt++ {
		err := s.rdb.Watch(ctx, func(rtx *redis.Tx) error {
			t := &tx{s: s, rtx: rtx, staged: make(map[string]*string)}
			if err := fn(t); err != nil {
				return err
			}
			if len(t.ops) == 0 {
				return nil
			}
			_, err := rtx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				for _, op := range t.ops {
					op(ctx, p)
				}
				return nil
			})
			return err
		})
		if errors.Is(err, redis.TxFailedErr) {
			s.log.Debug("redis_tx_retry", zap.Int("attempt", attempt))
			continue
		}
		return err
	}
	s.log.Warn("redis_tx_contention", zap.Int("attempts", s.attempts))
	return store.ErrContention
}

// SeedTimers writes the timer catalog when it is missing.
func (s *Store) SeedTimers(ctx context.Context) error {
	for i, kind := range []domain.TimerKind{domain.Countup, domain.Countdown} {
		raw, err := json.Marshal(&domain.Timer{ID: int64(i + 1), Kind: kind})
		if err != nil {
			return err
		}
		if err := s.rdb.HSetNX(ctx, s.keyTimers(), string(kind), raw).Err(); err != nil {
			return fmt.Errorf("seed timer %s: %w", kind, err)
		}
	}
	return nil
}

func (s *Store) keySeq(name string) string      { return s.prefix + ":seq:" + name }
func (s *Store) keyUser(id int64) string        { return s.prefix + ":user:" + itoa(id) }
func (s *Store) keyUserName(name string) string { return s.prefix + ":user:name:" + strings.ToLower(name) }
func (s *Store) keyUserSessions(id int64) string {
	return s.keyUser(id) + ":sessions"
}
func (s *Store) keyUserSeats(id int64) string       { return s.keyUser(id) + ":seats" }
func (s *Store) keySession(id int64) string         { return s.prefix + ":session:" + itoa(id) }
func (s *Store) keySessionToken(tok string) string  { return s.prefix + ":session:token:" + tok }
func (s *Store) keySessionSeats(id int64) string    { return s.keySession(id) + ":seats" }
func (s *Store) keyTimers() string                  { return s.prefix + ":timers" }
func (s *Store) keyMatch(id int64) string           { return s.prefix + ":match:" + itoa(id) }
func (s *Store) keyMatches() string                 { return s.prefix + ":matches" }
func (s *Store) keySeat(matchID int64, white bool) string {
	if white {
		return s.keyMatch(matchID) + ":seat:white"
	}
	return s.keyMatch(matchID) + ":seat:black"
}

func seatRef(p *domain.Player) string {
	if p.White {
		return itoa(p.MatchID) + ":w"
	}
	return itoa(p.MatchID) + ":b"
}

func parseSeatRef(ref string) (int64, bool, error) {
	idPart, color, ok := strings.Cut(ref, ":")
	if !ok || (color != "w" && color != "b") {
		return 0, false, fmt.Errorf("bad seat ref %q", ref)
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("bad seat ref %q: %w", ref, err)
	}
	return id, color == "w", nil
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

// ParseRedisURL accepts redis:// and rediss:// URLs with an optional /db path.
func ParseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	return redis.ParseURL(u.String())
}
