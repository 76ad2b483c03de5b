// Package opening names the opening a game follows using the ECO book
// bundled with the chess library.
package opening

import (
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"
)

var (
	bookOnce sync.Once
	book     *opening.BookECO
)

// MaxPly bounds the lookup. The ECO tables end well before it.
const MaxPly = 40

type Name struct {
	ECO   string `json:"eco"`
	Title string `json:"title"`
}

func ecoBook() *opening.BookECO {
	bookOnce.Do(func() { book = opening.NewBookECO() })
	return book
}

// Identify returns the deepest ECO entry matching the game's opening moves,
// or nil when the first move already leaves the book.
func Identify(game *nchess.Game) *Name {
	if game == nil {
		return nil
	}
	moves := game.Moves()
	if len(moves) == 0 {
		return nil
	}
	if len(moves) > MaxPly {
		moves = moves[:MaxPly]
	}
	eco := ecoBook().Find(moves)
	if eco == nil || eco.Code() == "" {
		return nil
	}
	return &Name{ECO: eco.Code(), Title: eco.Title()}
}
