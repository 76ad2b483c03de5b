package render

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"testing"

	nchess "github.com/corentings/chess/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPNGStartPosition(t *testing.T) {
	game := nchess.NewGame()
	require.NoError(t, game.PushNotationMove("e4", nchess.AlgebraicNotation{}, nil))

	hl := Highlighted(game)
	require.NotNil(t, hl)
	assert.Equal(t, nchess.E2, hl.From)
	assert.Equal(t, nchess.E4, hl.To)

	raw, err := PNG(context.Background(), game.Position().Board(), Options{Highlight: hl, Title: "alice vs bob", Status: "black to move"})
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8*squareSize+2*margin, 8*squareSize+2*margin+hudHeight), img.Bounds())

	flipped, err := PNG(context.Background(), game.Position().Board(), Options{Flip: true})
	require.NoError(t, err)
	assert.False(t, bytes.Equal(raw, flipped))
}

func TestSquareRectFlip(t *testing.T) {
	origin := image.Point{}
	assert.Equal(t, image.Rect(0, 7*squareSize, squareSize, 8*squareSize), squareRect(nchess.A1, origin, false))
	assert.Equal(t, image.Rect(7*squareSize, 0, 8*squareSize, squareSize), squareRect(nchess.A1, origin, true))
}

func TestPNGRejectsNilBoard(t *testing.T) {
	_, err := PNG(context.Background(), nil, Options{})
	assert.Error(t, err)
}

func TestPNGHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := PNG(ctx, nchess.NewGame().Position().Board(), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}
