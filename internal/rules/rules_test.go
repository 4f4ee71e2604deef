package rules

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/notnil/chess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/boardwatch/internal/board"
	"github.com/banshee-data/boardwatch/internal/httputil"
	"github.com/banshee-data/boardwatch/internal/tracker"
)

// Position after 1.e4 e5 2.Qh5 Nc6 3.Bc4 Nf6, white to play Qxf7#.
const scholarsFEN = "r1bqkb1r/pppp1ppp/2n2n2/4p2Q/2B1P3/8/PPPP1PPP/RNB1K1NR w KQkq - 4 4"

type moverFunc func(ctx context.Context, pos *chess.Position) (*chess.Move, error)

func (f moverFunc) BestMove(ctx context.Context, pos *chess.Position) (*chess.Move, error) {
	return f(ctx, pos)
}

func uciMover(uci string) Mover {
	return moverFunc(func(_ context.Context, pos *chess.Position) (*chess.Move, error) {
		return chess.UCINotation{}.Decode(pos, uci)
	})
}

func TestGridFromFEN(t *testing.T) {
	g, err := GridFromFEN("")
	require.NoError(t, err)
	assert.True(t, g.Equal(board.StartingGrid()))

	g, err = GridFromFEN("rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1")
	require.NoError(t, err)
	assert.True(t, g.Equal(board.StartingGrid().Move(board.MustParseSquare("e2"), board.MustParseSquare("e4"))))

	_, err = GridFromFEN("not a fen")
	assert.Error(t, err)
}

func TestPositionFromFEN(t *testing.T) {
	pos, err := PositionFromFEN(StartFEN)
	require.NoError(t, err)
	assert.Equal(t, StartFEN, pos.Placement)
	assert.Equal(t, 32, pos.Grid.Count())
}

func TestOracle_IsLegal(t *testing.T) {
	start := tracker.Position{Grid: board.StartingGrid(), Placement: StartFEN}
	sq := board.MustParseSquare

	tests := []struct {
		from, to string
		want     bool
	}{
		{"e2", "e4", true},
		{"g1", "f3", true},
		{"e2", "e5", false},
		{"e7", "e5", false}, // black to move next, not now
		{"d1", "d3", false},
	}
	for _, tt := range tests {
		t.Run(tt.from+tt.to, func(t *testing.T) {
			legal, err := Oracle{}.IsLegal(start, sq(tt.from), sq(tt.to))
			require.NoError(t, err)
			assert.Equal(t, tt.want, legal)
		})
	}

	_, err := Oracle{}.IsLegal(tracker.Position{Placement: "garbage"}, sq("e2"), sq("e4"))
	assert.Error(t, err)
}

func TestOracle_Promotion(t *testing.T) {
	pos := tracker.Position{Placement: "8/4P3/8/8/8/8/k7/4K3 w - - 0 1"}
	legal, err := Oracle{}.IsLegal(pos, board.MustParseSquare("e7"), board.MustParseSquare("e8"))
	require.NoError(t, err)
	assert.True(t, legal)
}

func TestValidateAndPredict(t *testing.T) {
	tests := []struct {
		name        string
		mover       Mover
		req         Request
		wantValid   bool
		wantAI      string
		wantExplain string
		wantOver    bool
	}{
		{
			name:        "accepted with engine reply",
			mover:       uciMover("e7e5"),
			req:         Request{Move: "e2e4"},
			wantValid:   true,
			wantAI:      "e7e5",
			wantExplain: "Move accepted. AI counters with e7e5.",
		},
		{
			name:        "bad format",
			req:         Request{Move: "pawn to e4", FEN: StartFEN},
			wantExplain: MsgBadFormat,
		},
		{
			name:        "white pawn retreat",
			req:         Request{Move: "e4e3", FEN: "rnbqkbnr/pppp1ppp/8/4p3/4P3/8/PPPP1PPP/RNBQKBNR w KQkq e6 0 2"},
			wantExplain: "Invalid: " + MsgPawnRetreat,
		},
		{
			name:        "blocked rook",
			req:         Request{Move: "a1a3", FEN: StartFEN},
			wantExplain: "Invalid: " + MsgIllegal,
		},
		{
			name:        "illegal engine move falls back",
			mover:       uciMover("e2e4"),
			req:         Request{Move: "e2e4"},
			wantValid:   true,
			wantExplain: "Move accepted." + MsgAIAdjusted,
		},
		{
			name: "engine error falls back",
			mover: moverFunc(func(context.Context, *chess.Position) (*chess.Move, error) {
				return nil, errors.New("engine crashed")
			}),
			req:         Request{Move: "d2d4"},
			wantValid:   true,
			wantExplain: "Move accepted." + MsgAIAlternate,
		},
		{
			name:        "checkmate ends the game without a reply",
			mover:       uciMover("a7a6"),
			req:         Request{Move: "h5f7", FEN: scholarsFEN},
			wantValid:   true,
			wantOver:    true,
			wantExplain: "Move accepted. Game over: White wins by Checkmate.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.mover)
			resp, err := svc.ValidateAndPredict(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, resp.Valid)
			if tt.wantAI != "" {
				assert.Equal(t, tt.wantAI, resp.AIMove)
			}
			assert.Equal(t, tt.wantExplain, resp.Explanation)
			assert.Equal(t, tt.wantOver, resp.GameOver)
		})
	}
}

func TestValidateAndPredict_FENAfterBothMoves(t *testing.T) {
	resp, err := NewService(uciMover("e7e5")).ValidateAndPredict(context.Background(), Request{Move: "e2e4"})
	require.NoError(t, err)

	grid, err := GridFromFEN(resp.FEN)
	require.NoError(t, err)
	sq := board.MustParseSquare
	want := board.StartingGrid().Move(sq("e2"), sq("e4")).Move(sq("e7"), sq("e5"))
	assert.True(t, grid.Equal(want), "got\n%s", grid)
}

func TestValidateAndPredict_InvalidKeepsFEN(t *testing.T) {
	resp, err := NewService(nil).ValidateAndPredict(context.Background(), Request{Move: "e2e5", FEN: StartFEN})
	require.NoError(t, err)
	assert.False(t, resp.Valid)
	assert.Equal(t, StartFEN, resp.FEN)
	assert.Empty(t, resp.AIMove)
}

func TestValidateAndPredict_BadFEN(t *testing.T) {
	_, err := NewService(nil).ValidateAndPredict(context.Background(), Request{Move: "e2e4", FEN: "nope"})
	assert.Error(t, err)
}

func TestValidateAndPredict_NilMoverPlaysFirstLegal(t *testing.T) {
	resp, err := NewService(nil).ValidateAndPredict(context.Background(), Request{Move: "e2e4"})
	require.NoError(t, err)
	assert.True(t, resp.Valid)
	assert.NotEmpty(t, resp.AIMove)
	assert.Contains(t, resp.Explanation, "AI counters with "+resp.AIMove)
}

func TestHandler(t *testing.T) {
	server := httptest.NewServer(NewService(uciMover("e7e5")).Handler())
	defer server.Close()

	resp, err := http.Post(server.URL, "application/json", strings.NewReader(`{"move":"e2e4"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.True(t, got.Valid)
	assert.Equal(t, "e7e5", got.AIMove)

	get, err := http.Get(server.URL)
	require.NoError(t, err)
	get.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, get.StatusCode)

	bad, err := http.Post(server.URL, "application/json", strings.NewReader(`{"move":"e2e4","fen":"bogus"}`))
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestClient_AgainstHandler(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle(ValidatePath, NewService(uciMover("c7c5")).Handler())
	server := httptest.NewServer(mux)
	defer server.Close()

	c := NewClient(server.URL+"/", nil, time.Second)
	resp, err := c.ValidateAndPredict(context.Background(), Request{Move: "e2e4", FEN: StartFEN})
	require.NoError(t, err)
	assert.True(t, resp.Valid)
	assert.Equal(t, "c7c5", resp.AIMove)
}

func TestClient_Unavailable(t *testing.T) {
	mock := httputil.NewMockHTTPClient().
		AddErrorResponse(errors.New("connection refused")).
		AddResponse(http.StatusInternalServerError, `{"error":"boom"}`)
	c := NewClient("http://rules:8000", mock, time.Second)

	_, err := c.ValidateAndPredict(context.Background(), Request{Move: "e2e4"})
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	_, err = c.ValidateAndPredict(context.Background(), Request{Move: "e2e4"})
	assert.ErrorIs(t, err, ErrServiceUnavailable)

	assert.Equal(t, "http://rules:8000/validate_and_predict", mock.Requests[0].URL.String())
	assert.JSONEq(t, `{"move":"e2e4"}`, mock.Body(0))
}

func TestWinner(t *testing.T) {
	assert.Equal(t, "White wins", Winner(chess.WhiteWon))
	assert.Equal(t, "Black wins", Winner(chess.BlackWon))
	assert.Equal(t, "Draw", Winner(chess.Draw))
	assert.Empty(t, Winner(chess.NoOutcome))
}

func TestPGN(t *testing.T) {
	pgn, err := PGN([]string{"e2e4", "e7e5", "d1h5", "b8c6", "f1c4", "g8f6", "h5f7"}, Tag{"Event", "boardwatch"})
	require.NoError(t, err)
	assert.Contains(t, pgn, `[Event "boardwatch"]`)
	assert.Contains(t, pgn, "1. e4 e5")
	assert.Contains(t, pgn, "Qxf7#")
	assert.Contains(t, pgn, "1-0")

	_, err = PGN([]string{"e2e4", "e2e4"})
	assert.ErrorContains(t, err, "ply 2")
}
