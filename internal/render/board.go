// Package render draws a match position as a PNG snapshot.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

type Highlight struct {
	From nchess.Square
	To   nchess.Square
}

type Options struct {
	// Flip draws the board from black's side.
	Flip      bool
	Highlight *Highlight
	Title     string
	Status    string
}

const (
	squareSize = 64
	margin     = 28
	hudHeight  = 44
)

var (
	lightSquare    = color.RGBA{233, 207, 163, 255}
	darkSquare     = color.RGBA{187, 136, 96, 255}
	highlightFill  = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	backgroundFill = color.RGBA{28, 31, 46, 255}
	textColor      = color.RGBA{236, 239, 255, 255}
	coordColor     = color.RGBA{8, 214, 120, 255}
)

// Highlighted returns the squares of the last move of game, or nil.
func Highlighted(game *nchess.Game) *Highlight {
	moves := game.Moves()
	if len(moves) == 0 {
		return nil
	}
	last := moves[len(moves)-1]
	return &Highlight{From: last.S1(), To: last.S2()}
}

// PNG renders board with coordinates, an optional move highlight and a two-line header.
func PNG(ctx context.Context, board *nchess.Board, opts Options) ([]byte, error) {
	if board == nil {
		return nil, fmt.Errorf("board is nil")
	}
	boardPx := squareSize * 8
	width := boardPx + margin*2
	height := boardPx + margin*2 + hudHeight
	origin := image.Point{X: margin, Y: margin + hudHeight}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundFill), image.Point{}, imagedraw.Src)

	for _, sq := range squares() {
		clr := lightSquare
		if (int(sq.File())+int(sq.Rank()))%2 == 0 {
			clr = darkSquare
		}
		imagedraw.Draw(img, squareRect(sq, origin, opts.Flip), image.NewUniform(clr), image.Point{}, imagedraw.Src)
	}
	if h := opts.Highlight; h != nil && h.From != h.To {
		for _, sq := range []nchess.Square{h.From, h.To} {
			imagedraw.Draw(img, squareRect(sq, origin, opts.Flip), image.NewUniform(highlightFill), image.Point{}, imagedraw.Over)
		}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	pieces := board.SquareMap()
	for _, sq := range squares() {
		p := pieces[sq]
		if p == nchess.NoPiece {
			continue
		}
		pimg, err := pieceImage(p, squareSize)
		if err != nil {
			return nil, err
		}
		r := squareRect(sq, origin, opts.Flip)
		imagedraw.Draw(img, r, pimg, image.Point{}, imagedraw.Over)
	}

	drawer := &font.Drawer{Dst: img, Face: basicfont.Face7x13}
	drawCoordinates(drawer, origin, opts.Flip)
	drawer.Src = image.NewUniform(textColor)
	drawText(drawer, strings.TrimSpace(opts.Title), margin, margin+4)
	drawText(drawer, strings.TrimSpace(opts.Status), margin, margin+24)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

var (
	allFiles = []nchess.File{nchess.FileA, nchess.FileB, nchess.FileC, nchess.FileD, nchess.FileE, nchess.FileF, nchess.FileG, nchess.FileH}
	allRanks = []nchess.Rank{nchess.Rank1, nchess.Rank2, nchess.Rank3, nchess.Rank4, nchess.Rank5, nchess.Rank6, nchess.Rank7, nchess.Rank8}
)

func squares() []nchess.Square {
	out := make([]nchess.Square, 0, 64)
	for _, r := range allRanks {
		for _, f := range allFiles {
			out = append(out, nchess.NewSquare(f, r))
		}
	}
	return out
}

func squareRect(sq nchess.Square, origin image.Point, flip bool) image.Rectangle {
	col, row := int(sq.File()), 7-int(sq.Rank())
	if flip {
		col, row = 7-col, 7-row
	}
	x := origin.X + col*squareSize
	y := origin.Y + row*squareSize
	return image.Rect(x, y, x+squareSize, y+squareSize)
}

func drawCoordinates(d *font.Drawer, origin image.Point, flip bool) {
	d.Src = image.NewUniform(coordColor)
	ascent := d.Face.Metrics().Ascent.Ceil()
	for _, r := range allRanks {
		rect := squareRect(nchess.NewSquare(nchess.FileA, r), origin, flip)
		drawCentered(d, r.String(), origin.X-margin/2, rect.Min.Y+squareSize/2+ascent/2)
	}
	bottom := origin.Y + 8*squareSize
	for _, f := range allFiles {
		rect := squareRect(nchess.NewSquare(f, nchess.Rank1), origin, flip)
		drawCentered(d, f.String(), rect.Min.X+squareSize/2, bottom+ascent+4)
	}
}

func drawCentered(d *font.Drawer, text string, centerX, baseline int) {
	w := d.MeasureString(text).Round()
	d.Dot = fixed.P(centerX-w/2, baseline)
	d.DrawString(text)
}

func drawText(d *font.Drawer, text string, x, top int) {
	if text == "" {
		return
	}
	d.Dot = fixed.P(x, top+d.Face.Metrics().Ascent.Ceil())
	d.DrawString(text)
}
