package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// Piece outlines on a 45x45 canvas. FILL and STROKE are replaced per color.
var pieceShapes = map[nchess.PieceType]string{
	nchess.Pawn: `<circle cx="22.5" cy="14" r="5.5"/>` +
		`<path d="M17 22 L28 22 L31 34 L14 34 Z"/>` +
		`<path d="M11 39 L34 39 L34 35 L11 35 Z"/>`,
	nchess.Rook: `<path d="M11 9 L15 9 L15 12 L20 12 L20 9 L25 9 L25 12 L30 12 L30 9 L34 9 L34 16 L31 19 L31 31 L34 34 L34 39 L11 39 L11 34 L14 31 L14 19 L11 16 Z"/>`,
	nchess.Knight: `<path d="M14 39 L34 39 L33 30 C33 22 30 14 24 10 L22 7 L20 11 L16 14 L10 24 L12 27 L16 25 L19 23 L21 24 L15 32 Z"/>` +
		`<circle cx="18" cy="15" r="1.2" fill="STROKE"/>`,
	nchess.Bishop: `<circle cx="22.5" cy="8.5" r="2.5"/>` +
		`<path d="M22.5 11 C16 16 14 22 17 28 L28 28 C31 22 29 16 22.5 11 Z"/>` +
		`<path d="M15 30 L30 30 L30 33 L15 33 Z"/>` +
		`<path d="M9 39 C14 35 20 37 22.5 34 C25 37 31 35 36 39 Z"/>`,
	nchess.Queen: `<circle cx="8" cy="12" r="2.5"/><circle cx="15.5" cy="9" r="2.5"/>` +
		`<circle cx="22.5" cy="8" r="2.5"/><circle cx="29.5" cy="9" r="2.5"/><circle cx="37" cy="12" r="2.5"/>` +
		`<path d="M9 26 L8 14 L14 25 L15.5 11 L20 25 L22.5 10 L25 25 L29.5 11 L31 25 L37 14 L36 26 Z"/>` +
		`<path d="M9 26 L36 26 L33 32 L12 32 Z"/>` +
		`<path d="M11 34 L34 34 L34 39 L11 39 Z"/>`,
	nchess.King: `<path d="M21 4 L24 4 L24 7 L27 7 L27 10 L24 10 L24 14 L21 14 L21 10 L18 10 L18 7 L21 7 Z"/>` +
		`<path d="M22.5 15 C30 15 38 18 35 26 L31 31 L14 31 L10 26 C7 18 15 15 22.5 15 Z"/>` +
		`<path d="M12 33 L33 33 L33 39 L12 39 Z"/>`,
}

func pieceSVG(p nchess.Piece) (string, error) {
	shape, ok := pieceShapes[p.Type()]
	if !ok {
		return "", fmt.Errorf("no shape for piece %v", p)
	}
	fill, stroke := "#ffffff", "#000000"
	if p.Color() == nchess.Black {
		fill, stroke = "#1f1f1f", "#e8e8e8"
	}
	shape = strings.ReplaceAll(shape, "STROKE", stroke)
	return fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45" width="45" height="45">`+
		`<g fill="%s" stroke="%s" stroke-width="1.5" stroke-linejoin="round">%s</g></svg>`, fill, stroke, shape), nil
}

type pieceKey struct {
	piece nchess.Piece
	size  int
}

var (
	pieceCache   = map[pieceKey]image.Image{}
	pieceCacheMu sync.RWMutex
)

func pieceImage(p nchess.Piece, size int) (image.Image, error) {
	key := pieceKey{piece: p, size: size}
	pieceCacheMu.RLock()
	if img, ok := pieceCache[key]; ok {
		pieceCacheMu.RUnlock()
		return img, nil
	}
	pieceCacheMu.RUnlock()

	src, err := pieceSVG(p)
	if err != nil {
		return nil, err
	}
	icon, err := oksvg.ReadIconStream(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse piece svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	icon.Draw(rasterx.NewDasher(size, size, scanner), 1.0)

	pieceCacheMu.Lock()
	pieceCache[key] = img
	pieceCacheMu.Unlock()
	return img, nil
}
