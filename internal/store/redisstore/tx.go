package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/park285/checkmate-server/internal/domain"
	"github.com/park285/checkmate-server/internal/store"
)

// tx watches every key it reads and queues writes for MULTI/EXEC.
// 같은 트랜잭션에서 먼저 쓴 문자열 키는 스테이징된 사본에서 읽는다.
// Set은 스테이징하지 않음.
type tx struct {
	s      *Store
	rtx    *redis.Tx
	staged map[string]*string
	ops    []func(context.Context, redis.Pipeliner)
}

var _ store.Tx = (*tx)(nil)

func (t *tx) get(ctx context.Context, key string) (string, bool, error) {
	if v, ok := t.staged[key]; ok {
		if v == nil {
			return "", false, nil
		}
		return *v, true, nil
	}
	if err := t.rtx.Watch(ctx, key).Err(); err != nil {
		return "", false, err
	}
	v, err := t.rtx.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (t *tx) getJSON(ctx context.Context, key string, out any) error {
	raw, ok, err := t.get(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (t *tx) set(key, val string) {
	v := val
	t.staged[key] = &v
	t.ops = append(t.ops, func(ctx context.Context, p redis.Pipeliner) { p.Set(ctx, key, val, 0) })
}

func (t *tx) setJSON(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	t.set(key, string(raw))
	return nil
}

func (t *tx) del(key string) {
	t.staged[key] = nil
	t.ops = append(t.ops, func(ctx context.Context, p redis.Pipeliner) { p.Del(ctx, key) })
}

func (t *tx) sadd(key, member string) {
	t.ops = append(t.ops, func(ctx context.Context, p redis.Pipeliner) { p.SAdd(ctx, key, member) })
}

func (t *tx) srem(key, member string) {
	t.ops = append(t.ops, func(ctx context.Context, p redis.Pipeliner) { p.SRem(ctx, key, member) })
}

func (t *tx) members(ctx context.Context, key string) ([]string, error) {
	if err := t.rtx.Watch(ctx, key).Err(); err != nil {
		return nil, err
	}
	return t.rtx.SMembers(ctx, key).Result()
}

func (t *tx) nextID(ctx context.Context, seq string) (int64, error) {
	return t.rtx.Incr(ctx, t.s.keySeq(seq)).Result()
}

// 사용자

func (t *tx) InsertUser(ctx context.Context, u *domain.User) error {
	nameKey := t.s.keyUserName(u.Username)
	if _, ok, err := t.get(ctx, nameKey); err != nil {
		return err
	} else if ok {
		return store.ErrConflict
	}
	id, err := t.nextID(ctx, "users")
	if err != nil {
		return err
	}
	u.ID = id
	t.set(nameKey, itoa(id))
	return t.setJSON(t.s.keyUser(id), u)
}

func (t *tx) User(ctx context.Context, id int64) (*domain.User, error) {
	var u domain.User
	if err := t.getJSON(ctx, t.s.keyUser(id), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (t *tx) UserByUsername(ctx context.Context, username string) (*domain.User, error) {
	raw, ok, err := t.get(ctx, t.s.keyUserName(username))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	id, err := parseID(raw)
	if err != nil {
		return nil, err
	}
	return t.User(ctx, id)
}

func (t *tx) PutUser(ctx context.Context, u *domain.User) error {
	prev, err := t.User(ctx, u.ID)
	if err != nil {
		return err
	}
	if prev.Username != u.Username {
		return fmt.Errorf("username is immutable")
	}
	return t.setJSON(t.s.keyUser(u.ID), u)
}

// 세션

func (t *tx) InsertSession(ctx context.Context, sess *domain.Session) error {
	tokKey := t.s.keySessionToken(sess.Token)
	if _, ok, err := t.get(ctx, tokKey); err != nil {
		return err
	} else if ok {
		return store.ErrConflict
	}
	id, err := t.nextID(ctx, "sessions")
	if err != nil {
		return err
	}
	sess.ID = id
	t.set(tokKey, itoa(id))
	if sess.UserID != nil {
		t.sadd(t.s.keyUserSessions(*sess.UserID), itoa(id))
	}
	return t.setJSON(t.s.keySession(id), sess)
}

func (t *tx) Session(ctx context.Context, id int64) (*domain.Session, error) {
	var sess domain.Session
	if err := t.getJSON(ctx, t.s.keySession(id), &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (t *tx) SessionByToken(ctx context.Context, token string) (*domain.Session, error) {
	raw, ok, err := t.get(ctx, t.s.keySessionToken(token))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	id, err := parseID(raw)
	if err != nil {
		return nil, err
	}
	return t.Session(ctx, id)
}

func (t *tx) SessionsByUser(ctx context.Context, userID int64) ([]*domain.Session, error) {
	ids, err := t.members(ctx, t.s.keyUserSessions(userID))
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Session, 0, len(ids))
	for _, raw := range ids {
		id, err := parseID(raw)
		if err != nil {
			return nil, err
		}
		sess, err := t.Session(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if sess.UserID == nil || *sess.UserID != userID {
			continue
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) PutSession(ctx context.Context, sess *domain.Session) error {
	prev, err := t.Session(ctx, sess.ID)
	if err != nil {
		return err
	}
	if prev.Token != sess.Token {
		return fmt.Errorf("session token is immutable")
	}
	if !sameID(prev.UserID, sess.UserID) {
		if prev.UserID != nil {
			t.srem(t.s.keyUserSessions(*prev.UserID), itoa(sess.ID))
		}
		if sess.UserID != nil {
			t.sadd(t.s.keyUserSessions(*sess.UserID), itoa(sess.ID))
		}
	}
	return t.setJSON(t.s.keySession(sess.ID), sess)
}

func (t *tx) DeleteSession(ctx context.Context, id int64) error {
	prev, err := t.Session(ctx, id)
	if err != nil {
		return err
	}
	if prev.UserID != nil {
		t.srem(t.s.keyUserSessions(*prev.UserID), itoa(id))
	}
	t.del(t.s.keySessionToken(prev.Token))
	t.del(t.s.keySession(id))
	return nil
}

// 타이머

func (t *tx) Timer(ctx context.Context, kind domain.TimerKind) (*domain.Timer, error) {
	raw, err := t.rtx.HGet(ctx, t.s.keyTimers(), string(kind)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var tm domain.Timer
	if err := json.Unmarshal([]byte(raw), &tm); err != nil {
		return nil, fmt.Errorf("decode timer %s: %w", kind, err)
	}
	return &tm, nil
}

// 매치

func (t *tx) InsertMatch(ctx context.Context, m *domain.Match) error {
	id, err := t.nextID(ctx, "matches")
	if err != nil {
		return err
	}
	m.ID = id
	key := t.s.keyMatches()
	t.ops = append(t.ops, func(ctx context.Context, p redis.Pipeliner) {
		p.ZAdd(ctx, key, redis.Z{Score: float64(id), Member: itoa(id)})
	})
	return t.setJSON(t.s.keyMatch(id), m)
}

func (t *tx) Match(ctx context.Context, id int64) (*domain.Match, error) {
	var m domain.Match
	if err := t.getJSON(ctx, t.s.keyMatch(id), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (t *tx) PutMatch(ctx context.Context, m *domain.Match) error {
	if _, err := t.Match(ctx, m.ID); err != nil {
		return err
	}
	return t.setJSON(t.s.keyMatch(m.ID), m)
}

func (t *tx) ListMatches(ctx context.Context, f store.ListFilter) ([]*domain.Match, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	var ids []int64
	if f.UserID == nil && f.SessionID == nil {
		raw, err := t.rtx.ZRevRange(ctx, t.s.keyMatches(), int64(offset), int64(offset+limit-1)).Result()
		if err != nil {
			return nil, err
		}
		for _, r := range raw {
			id, err := parseID(r)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	} else {
		seen := make(map[int64]bool)
		var seats []*domain.Player
		if f.UserID != nil {
			s, err := t.SeatsByUser(ctx, *f.UserID)
			if err != nil {
				return nil, err
			}
			seats = append(seats, s...)
		}
		if f.SessionID != nil {
			s, err := t.SeatsBySession(ctx, *f.SessionID)
			if err != nil {
				return nil, err
			}
			seats = append(seats, s...)
		}
		for _, p := range seats {
			if !seen[p.MatchID] {
				seen[p.MatchID] = true
				ids = append(ids, p.MatchID)
			}
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
		if offset >= len(ids) {
			return nil, nil
		}
		ids = ids[offset:min(offset+limit, len(ids))]
	}
	out := make([]*domain.Match, 0, len(ids))
	for _, id := range ids {
		m, err := t.Match(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// 좌석

func (t *tx) Players(ctx context.Context, matchID int64) ([]*domain.Player, error) {
	var out []*domain.Player
	for _, white := range []bool{true, false} {
		var p domain.Player
		err := t.getJSON(ctx, t.s.keySeat(matchID, white), &p)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, nil
}

func (t *tx) InsertPlayer(ctx context.Context, p *domain.Player) error {
	key := t.s.keySeat(p.MatchID, p.White)
	if _, ok, err := t.get(ctx, key); err != nil {
		return err
	} else if ok {
		return store.ErrConflict
	}
	if p.SessionID != nil {
		t.sadd(t.s.keySessionSeats(*p.SessionID), seatRef(p))
	}
	if p.UserID != nil {
		t.sadd(t.s.keyUserSeats(*p.UserID), seatRef(p))
	}
	return t.setJSON(key, p)
}

// PutPlayer rewrites a seat and moves its session and user index entries.
func (t *tx) PutPlayer(ctx context.Context, p *domain.Player) error {
	key := t.s.keySeat(p.MatchID, p.White)
	var prev domain.Player
	if err := t.getJSON(ctx, key, &prev); err != nil {
		return err
	}
	ref := seatRef(p)
	if !sameID(prev.SessionID, p.SessionID) {
		if prev.SessionID != nil {
			t.srem(t.s.keySessionSeats(*prev.SessionID), ref)
		}
		if p.SessionID != nil {
			t.sadd(t.s.keySessionSeats(*p.SessionID), ref)
		}
	}
	if !sameID(prev.UserID, p.UserID) {
		if prev.UserID != nil {
			t.srem(t.s.keyUserSeats(*prev.UserID), ref)
		}
		if p.UserID != nil {
			t.sadd(t.s.keyUserSeats(*p.UserID), ref)
		}
	}
	return t.setJSON(key, p)
}

func (t *tx) SeatsBySession(ctx context.Context, sessionID int64) ([]*domain.Player, error) {
	return t.seatsFrom(ctx, t.s.keySessionSeats(sessionID))
}

func (t *tx) SeatsByUser(ctx context.Context, userID int64) ([]*domain.Player, error) {
	return t.seatsFrom(ctx, t.s.keyUserSeats(userID))
}

func (t *tx) seatsFrom(ctx context.Context, key string) ([]*domain.Player, error) {
	refs, err := t.members(ctx, key)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Player, 0, len(refs))
	for _, ref := range refs {
		matchID, white, err := parseSeatRef(ref)
		if err != nil {
			return nil, err
		}
		var p domain.Player
		err = t.getJSON(ctx, t.s.keySeat(matchID, white), &p)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MatchID != out[j].MatchID {
			return out[i].MatchID < out[j].MatchID
		}
		return out[i].White
	})
	return out, nil
}

func parseID(raw string) (int64, error) {
	var id int64
	if _, err := fmt.Sscan(raw, &id); err != nil {
		return 0, fmt.Errorf("bad id %q: %w", raw, err)
	}
	return id, nil
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
