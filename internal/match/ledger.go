package match

import (
	"context"

	"go.uber.org/zap"

	"github.com/park285/checkmate-server/internal/domain"
	"github.com/park285/checkmate-server/internal/faults"
	"github.com/park285/checkmate-server/internal/store"
)

// settle moves the effective user of each seat one point: +1 to the winner,
// -1 to the loser. Draws and session-only seats are left alone. A user
// holding both seats nets zero because the second read sees the first write.
// It runs in the same transaction as the closure that changed WhiteWon.
func (s *Service) settle(ctx context.Context, tx store.Tx, m *domain.Match, players []*domain.Player) error {
	if m.WhiteWon == nil {
		return nil
	}
	for _, p := range players {
		u, err := seatUser(ctx, tx, p)
		if err != nil {
			return faults.Fault("settle user", err)
		}
		if u == nil {
			continue
		}
		delta := -1
		if p.White == *m.WhiteWon {
			delta = 1
		}
		u.Rating += delta
		if err := tx.PutUser(ctx, u); err != nil {
			return faults.Fault("settle save", err)
		}
		s.log.Info("rating_apply",
			zap.Int64("match_id", m.ID),
			zap.Int64("user_id", u.ID),
			zap.Int("delta", delta),
			zap.Int("rating", u.Rating),
		)
	}
	return nil
}
