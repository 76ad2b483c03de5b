package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName carries the signed credential.
const CookieName = ".CHECKMATESECRET"

var ErrBadCredential = errors.New("invalid credential")

// Claims is the credential payload. Expires is nil for browser-lifetime credentials.
type Claims struct {
	Session string
	UserID  *int64
	Expires *time.Time
}

// Signer issues and verifies HS256 credentials.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("signing secret is required")
	}
	return &Signer{secret: []byte(secret)}, nil
}

func (s *Signer) Sign(c Claims) (string, error) {
	claims := jwt.MapClaims{"session": c.Session}
	if c.UserID != nil {
		claims["user_id"] = *c.UserID
	}
	if c.Expires != nil {
		claims["expires"] = c.Expires.Unix()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks the signature and shape of a credential. Expiry is left to the caller.
func (s *Signer) Verify(token string) (Claims, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrBadCredential, err)
	}
	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrBadCredential
	}
	var c Claims
	c.Session, _ = mc["session"].(string)
	if strings.TrimSpace(c.Session) == "" {
		return Claims{}, fmt.Errorf("%w: missing session", ErrBadCredential)
	}
	if v, ok := mc["user_id"].(float64); ok {
		id := int64(v)
		c.UserID = &id
	}
	if v, ok := mc["expires"].(float64); ok {
		exp := time.Unix(int64(v), 0)
		c.Expires = &exp
	}
	return c, nil
}
