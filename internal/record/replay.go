package record

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// Replay rebuilds the game from the start position by pushing every SAN ply.
// The position is always derived from the record, never cached.
func Replay(r *Record) (*nchess.Game, error) {
	game := nchess.NewGame()
	for i, p := range r.Plies {
		if err := game.PushNotationMove(p.SAN, nchess.AlgebraicNotation{}, nil); err != nil {
			return nil, fmt.Errorf("%w: ply %d %q: %v", ErrMalformed, i+1, p.SAN, err)
		}
	}
	return game, nil
}

// Push validates notation against the current position and applies it.
// UCI is tried first, then SAN. It returns the canonical SAN of the move.
func Push(game *nchess.Game, notation string) (string, error) {
	raw := strings.TrimSpace(notation)
	if raw == "" {
		return "", fmt.Errorf("empty move")
	}
	pos := game.Position()
	if mv, err := (nchess.UCINotation{}).Decode(pos, strings.ToLower(raw)); err == nil {
		san := nchess.AlgebraicNotation{}.Encode(pos, mv)
		if err := game.PushNotationMove(san, nchess.AlgebraicNotation{}, nil); err != nil {
			return "", err
		}
		last := lastMove(game)
		if last == nil || last.String() != mv.String() {
			return "", fmt.Errorf("move %s is not legal", raw)
		}
		return san, nil
	}
	if err := game.PushNotationMove(raw, nchess.AlgebraicNotation{}, nil); err != nil {
		return "", err
	}
	last := lastMove(game)
	if last == nil {
		return "", fmt.Errorf("move %s was not applied", raw)
	}
	return nchess.AlgebraicNotation{}.Encode(pos, last), nil
}

func lastMove(game *nchess.Game) *nchess.Move {
	moves := game.Moves()
	if len(moves) == 0 {
		return nil
	}
	return moves[len(moves)-1]
}
