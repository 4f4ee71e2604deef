package engine

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/notnil/chess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions_Defaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, 500*time.Millisecond, o.MoveTime)
	assert.Equal(t, 10, o.SkillLevel)
	assert.Equal(t, 4, o.Threads)
	assert.Equal(t, 256, o.HashMB)

	o = Options{MoveTime: time.Second, SkillLevel: 3}.withDefaults()
	assert.Equal(t, time.Second, o.MoveTime)
	assert.Equal(t, 3, o.SkillLevel)
}

func TestFirstLegal(t *testing.T) {
	game := chess.NewGame()
	m, err := FirstLegal{}.BestMove(context.Background(), game.Position())
	require.NoError(t, err)
	require.NoError(t, game.Move(m))
}

func TestFirstLegal_NoMoves(t *testing.T) {
	// Black is checkmated.
	opt, err := chess.FEN("r1bqkb1r/pppp1Qpp/2n2n2/4p3/2B1P3/8/PPPP1PPP/RNB1K1NR b KQkq - 0 4")
	require.NoError(t, err)
	game := chess.NewGame(opt)

	_, err = FirstLegal{}.BestMove(context.Background(), game.Position())
	assert.ErrorIs(t, err, ErrNoMove)
}

func TestNew_MissingBinary(t *testing.T) {
	_, err := New("/nonexistent/stockfish", Options{})
	assert.Error(t, err)
}

func TestEngine_Stockfish(t *testing.T) {
	path, err := exec.LookPath("stockfish")
	if err != nil {
		t.Skip("stockfish not installed")
	}
	eng, err := New(path, Options{MoveTime: 50 * time.Millisecond})
	require.NoError(t, err)
	defer eng.Close()

	game := chess.NewGame()
	m, err := eng.BestMove(context.Background(), game.Position())
	require.NoError(t, err)
	assert.NoError(t, game.Move(m))
}
