package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/park285/checkmate-server/internal/domain"
	"github.com/park285/checkmate-server/internal/store"
)

// Resolver turns a credential into the caller's identity. A missing,
// tampered, expired or unknown credential resolves to the empty identity.
// Expiry is checked locally; there is no revocation list.
type Resolver struct {
	signer *Signer
	now    func() time.Time
}

func NewResolver(signer *Signer, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{signer: signer, now: now}
}

// Resolve only fails when storage fails.
func (r *Resolver) Resolve(ctx context.Context, tx store.Tx, credential string) (domain.Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return domain.Identity{}, nil
	}
	claims, err := r.signer.Verify(credential)
	if err != nil {
		return domain.Identity{}, nil
	}
	if claims.Expires != nil && !claims.Expires.After(r.now()) {
		return domain.Identity{}, nil
	}
	sess, err := tx.SessionByToken(ctx, claims.Session)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Identity{}, nil
	}
	if err != nil {
		return domain.Identity{}, err
	}
	ident := domain.Identity{Session: sess}
	if sess.UserID != nil {
		u, err := tx.User(ctx, *sess.UserID)
		switch {
		case err == nil:
			ident.User = u
		case !errors.Is(err, store.ErrNotFound):
			return domain.Identity{}, err
		}
	}
	return ident, nil
}
