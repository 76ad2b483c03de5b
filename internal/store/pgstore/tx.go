package pgstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/park285/checkmate-server/internal/domain"
	"github.com/park285/checkmate-server/internal/store"
)

type tx struct {
	tx *sql.Tx
}

var _ store.Tx = (*tx)(nil)

type scanner interface {
	Scan(dest ...any) error
}

// Users

const userCols = `id, username, password_hash, email, created_at, rating`

func scanUser(row scanner) (*domain.User, error) {
	var u domain.User
	var email sql.NullString
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &email, &u.CreatedAt, &u.Rating); err != nil {
		return nil, mapErr(err)
	}
	if email.Valid {
		u.Email = &email.String
	}
	return &u, nil
}

func (t *tx) InsertUser(ctx context.Context, u *domain.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.Rating == 0 {
		u.Rating = domain.DefaultRating
	}
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO users (username, password_hash, email, created_at, rating)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		u.Username, u.PasswordHash, nullString(u.Email), u.CreatedAt, u.Rating,
	).Scan(&u.ID)
	return mapErr(err)
}

func (t *tx) User(ctx context.Context, id int64) (*domain.User, error) {
	return scanUser(t.tx.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (t *tx) UserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return scanUser(t.tx.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE lower(username) = lower($1)`, username))
}

func (t *tx) PutUser(ctx context.Context, u *domain.User) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE users SET password_hash = $2, email = $3, rating = $4 WHERE id = $1`,
		u.ID, u.PasswordHash, nullString(u.Email), u.Rating)
	return affected(res, err)
}

// Sessions

func scanSession(row scanner) (*domain.Session, error) {
	var s domain.Session
	var userID sql.NullInt64
	if err := row.Scan(&s.ID, &s.Token, &userID); err != nil {
		return nil, mapErr(err)
	}
	if userID.Valid {
		s.UserID = &userID.Int64
	}
	return &s, nil
}

func (t *tx) InsertSession(ctx context.Context, s *domain.Session) error {
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO sessions (token, user_id) VALUES ($1, $2) RETURNING id`,
		s.Token, nullInt64(s.UserID)).Scan(&s.ID)
	return mapErr(err)
}

func (t *tx) Session(ctx context.Context, id int64) (*domain.Session, error) {
	return scanSession(t.tx.QueryRowContext(ctx, `SELECT id, token, user_id FROM sessions WHERE id = $1`, id))
}

func (t *tx) SessionByToken(ctx context.Context, token string) (*domain.Session, error) {
	return scanSession(t.tx.QueryRowContext(ctx, `SELECT id, token, user_id FROM sessions WHERE token = $1`, token))
}

func (t *tx) SessionsByUser(ctx context.Context, userID int64) ([]*domain.Session, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT id, token, user_id FROM sessions WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, mapErr(rows.Err())
}

func (t *tx) PutSession(ctx context.Context, s *domain.Session) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE sessions SET user_id = $2 WHERE id = $1`, s.ID, nullInt64(s.UserID))
	return affected(res, err)
}

func (t *tx) DeleteSession(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return affected(res, err)
}

// Timers

func (t *tx) Timer(ctx context.Context, kind domain.TimerKind) (*domain.Timer, error) {
	var tm domain.Timer
	var name string
	err := t.tx.QueryRowContext(ctx, `SELECT id, name FROM game_timers WHERE name = $1`, string(kind)).Scan(&tm.ID, &name)
	if err != nil {
		return nil, mapErr(err)
	}
	tm.Kind = domain.TimerKind(name)
	return &tm, nil
}

// Matches

const matchSelect = `SELECT g.id, g.record, g.time_started, g.time_ended, g.white_won, t.name, g.time_limit
	FROM games g JOIN game_timers t ON t.id = g.timer_id`

func scanMatch(row scanner) (*domain.Match, error) {
	var m domain.Match
	var started, ended sql.NullTime
	var whiteWon sql.NullBool
	var timer string
	var limit sql.NullInt64
	if err := row.Scan(&m.ID, &m.Record, &started, &ended, &whiteWon, &timer, &limit); err != nil {
		return nil, mapErr(err)
	}
	if started.Valid {
		m.TimeStarted = domain.TimePtr(started.Time)
	}
	if ended.Valid {
		m.TimeEnded = domain.TimePtr(ended.Time)
	}
	if whiteWon.Valid {
		m.WhiteWon = domain.BoolPtr(whiteWon.Bool)
	}
	m.Timer = domain.TimerKind(timer)
	if limit.Valid {
		v := int(limit.Int64)
		m.TimeLimit = &v
	}
	return &m, nil
}

func (t *tx) InsertMatch(ctx context.Context, m *domain.Match) error {
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO games (record, time_started, time_ended, white_won, timer_id, time_limit)
		 SELECT $1, $2, $3, $4, id, $6 FROM game_timers WHERE name = $5
		 RETURNING id`,
		m.Record, nullTime(m.TimeStarted), nullTime(m.TimeEnded), nullBool(m.WhiteWon), string(m.Timer), nullInt(m.TimeLimit),
	).Scan(&m.ID)
	return mapErr(err)
}

func (t *tx) Match(ctx context.Context, id int64) (*domain.Match, error) {
	return scanMatch(t.tx.QueryRowContext(ctx, matchSelect+` WHERE g.id = $1 FOR UPDATE OF g`, id))
}

func (t *tx) PutMatch(ctx context.Context, m *domain.Match) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE games SET record = $2, time_started = $3, time_ended = $4, white_won = $5, time_limit = $6 WHERE id = $1`,
		m.ID, m.Record, nullTime(m.TimeStarted), nullTime(m.TimeEnded), nullBool(m.WhiteWon), nullInt(m.TimeLimit))
	return affected(res, err)
}

func (t *tx) ListMatches(ctx context.Context, f store.ListFilter) ([]*domain.Match, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := max(f.Offset, 0)
	q := matchSelect
	args := []any{}
	if f.UserID != nil || f.SessionID != nil {
		q += ` WHERE EXISTS (SELECT 1 FROM players p WHERE p.game_id = g.id AND (p.user_id = $1 OR p.session_id = $2))`
		args = append(args, nullInt64(f.UserID), nullInt64(f.SessionID))
	}
	q += fmt.Sprintf(` ORDER BY g.id DESC LIMIT %d OFFSET %d`, limit, offset)
	rows, err := t.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []*domain.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, mapErr(rows.Err())
}

// Seats

func scanPlayers(rows *sql.Rows) ([]*domain.Player, error) {
	defer rows.Close()
	var out []*domain.Player
	for rows.Next() {
		var p domain.Player
		var userID, sessionID sql.NullInt64
		if err := rows.Scan(&p.MatchID, &p.White, &userID, &sessionID); err != nil {
			return nil, mapErr(err)
		}
		if userID.Valid {
			p.UserID = &userID.Int64
		}
		if sessionID.Valid {
			p.SessionID = &sessionID.Int64
		}
		out = append(out, &p)
	}
	return out, mapErr(rows.Err())
}

const playerCols = `game_id, is_white, user_id, session_id`

func (t *tx) Players(ctx context.Context, matchID int64) ([]*domain.Player, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+playerCols+` FROM players WHERE game_id = $1 ORDER BY is_white DESC`, matchID)
	if err != nil {
		return nil, mapErr(err)
	}
	return scanPlayers(rows)
}

func (t *tx) InsertPlayer(ctx context.Context, p *domain.Player) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO players (game_id, is_white, user_id, session_id) VALUES ($1, $2, $3, $4)`,
		p.MatchID, p.White, nullInt64(p.UserID), nullInt64(p.SessionID))
	return mapErr(err)
}

func (t *tx) PutPlayer(ctx context.Context, p *domain.Player) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE players SET user_id = $3, session_id = $4 WHERE game_id = $1 AND is_white = $2`,
		p.MatchID, p.White, nullInt64(p.UserID), nullInt64(p.SessionID))
	return affected(res, err)
}

func (t *tx) SeatsBySession(ctx context.Context, sessionID int64) ([]*domain.Player, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+playerCols+` FROM players WHERE session_id = $1 ORDER BY game_id, is_white DESC`, sessionID)
	if err != nil {
		return nil, mapErr(err)
	}
	return scanPlayers(rows)
}

func (t *tx) SeatsByUser(ctx context.Context, userID int64) ([]*domain.Player, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+playerCols+` FROM players WHERE user_id = $1 ORDER BY game_id, is_white DESC`, userID)
	if err != nil {
		return nil, mapErr(err)
	}
	return scanPlayers(rows)
}

func affected(res sql.Result, err error) error {
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}
