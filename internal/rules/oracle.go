package rules

import (
	"github.com/notnil/chess"

	"github.com/banshee-data/boardwatch/internal/board"
	"github.com/banshee-data/boardwatch/internal/tracker"
)

// Oracle checks candidate legality locally against the tracked placement.
// It satisfies tracker.Oracle.
type Oracle struct{}

var _ tracker.Oracle = Oracle{}

// IsLegal reports whether any legal move in pos goes from -> to. Promotion
// pieces are not distinguished since occupancy cannot see them.
func (Oracle) IsLegal(pos tracker.Position, from, to board.Square) (bool, error) {
	game, err := GameFromFEN(pos.Placement)
	if err != nil {
		return false, err
	}
	return findMove(game.Position(), chessSquare(from), chessSquare(to), chess.NoPieceType) != nil, nil
}

// findMove returns the legal move matching s1/s2, or nil. A promo of
// NoPieceType matches any promotion, preferring a queen.
func findMove(pos *chess.Position, s1, s2 chess.Square, promo chess.PieceType) *chess.Move {
	var match *chess.Move
	for _, m := range pos.ValidMoves() {
		if m.S1() != s1 || m.S2() != s2 {
			continue
		}
		if promo != chess.NoPieceType && m.Promo() != promo {
			continue
		}
		if match == nil || m.Promo() == chess.Queen {
			match = m
		}
	}
	return match
}
