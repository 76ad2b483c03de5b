package domain

import "time"

const DefaultRating = 400

type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Email        *string
	CreatedAt    time.Time
	Rating       int
}

// Session is an anonymous or authenticated browser identity.
type Session struct {
	ID     int64
	Token  string
	UserID *int64
}

func (s *Session) Authenticated() bool { return s != nil && s.UserID != nil }

// Identity is the resolved caller of an operation. Both fields may be nil.
type Identity struct {
	User    *User
	Session *Session
}

func (i Identity) Empty() bool { return i.User == nil && i.Session == nil }

func Int64Ptr(v int64) *int64 { return &v }
func BoolPtr(v bool) *bool    { return &v }
func TimePtr(t time.Time) *time.Time {
	return &t
}
