// Package rules wraps github.com/notnil/chess for everything that needs real
// chess knowledge: FEN handling, the legality oracle the tracker consults, and
// the validate-and-predict service that judges a human move and picks a reply.
package rules

import (
	"fmt"
	"strings"

	"github.com/notnil/chess"

	"github.com/banshee-data/boardwatch/internal/board"
	"github.com/banshee-data/boardwatch/internal/tracker"
)

// StartFEN is the standard opening position.
const StartFEN = tracker.StartPlacement

// GameFromFEN builds a game positioned at fen. An empty fen means the
// standard start.
func GameFromFEN(fen string) (*chess.Game, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" {
		return chess.NewGame(), nil
	}
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("invalid FEN %q: %w", fen, err)
	}
	return chess.NewGame(opt), nil
}

// GridFromFEN returns the occupancy implied by a FEN.
func GridFromFEN(fen string) (board.Grid, error) {
	game, err := GameFromFEN(fen)
	if err != nil {
		return board.Grid{}, err
	}
	return gridOf(game.Position()), nil
}

// PositionFromFEN pairs a FEN with its occupancy grid.
func PositionFromFEN(fen string) (tracker.Position, error) {
	game, err := GameFromFEN(fen)
	if err != nil {
		return tracker.Position{}, err
	}
	pos := game.Position()
	return tracker.Position{Grid: gridOf(pos), Placement: pos.String()}, nil
}

func gridOf(pos *chess.Position) board.Grid {
	var cells [board.Size][board.Size]bool
	for sq, piece := range pos.Board().SquareMap() {
		if piece == chess.NoPiece {
			continue
		}
		cells[board.Size-1-int(sq.Rank())][int(sq.File())] = true
	}
	return board.GridFromCells(cells)
}

// chessSquare converts a grid square (row 0 is rank 8) to the library's
// square index (a1 is 0).
func chessSquare(sq board.Square) chess.Square {
	return chess.Square((board.Size-1-sq.Row)*board.Size + sq.Col)
}

// Winner describes a finished game outcome for announcements.
func Winner(outcome chess.Outcome) string {
	switch outcome {
	case chess.WhiteWon:
		return "White wins"
	case chess.BlackWon:
		return "Black wins"
	case chess.Draw:
		return "Draw"
	default:
		return ""
	}
}
