package rules

import (
	"fmt"

	"github.com/notnil/chess"

	"github.com/banshee-data/boardwatch/internal/board"
)

// Apply plays uci in fen and returns the resulting FEN. A promotion without a
// piece letter promotes to a queen.
func Apply(fen, uci string) (string, error) {
	game, m, err := legalMove(fen, uci)
	if err != nil {
		return "", err
	}
	if err := game.Move(m); err != nil {
		return "", fmt.Errorf("apply %s: %w", uci, err)
	}
	return game.Position().String(), nil
}

func legalMove(fen, uci string) (*chess.Game, *chess.Move, error) {
	game, err := GameFromFEN(fen)
	if err != nil {
		return nil, nil, err
	}
	pos := game.Position()
	decoded, err := chess.UCINotation{}.Decode(pos, uci)
	if err != nil {
		return nil, nil, fmt.Errorf("decode %q: %w", uci, err)
	}
	m := findMove(pos, decoded.S1(), decoded.S2(), decoded.Promo())
	if m == nil {
		return nil, nil, fmt.Errorf("%s is not legal in %s", uci, fen)
	}
	return game, m, nil
}

// StepKind says what the arm does in one Step.
type StepKind int

const (
	// StepMove carries a piece from From to To.
	StepMove StepKind = iota
	// StepRemove carries the piece on From off the board.
	StepRemove
)

// Step is one pick-and-place for the arm.
type Step struct {
	Kind    StepKind
	From    board.Square
	To      board.Square
	Capture bool // a piece stands on To and must be cleared first
}

// PlanMove breaks a legal move into arm steps: captures clear the target
// first, en passant removes the passed pawn afterwards and castling moves the
// rook after the king.
func PlanMove(fen, uci string) ([]Step, error) {
	game, m, err := legalMove(fen, uci)
	if err != nil {
		return nil, err
	}
	from, to := boardSquare(m.S1()), boardSquare(m.S2())
	main := Step{Kind: StepMove, From: from, To: to}

	switch {
	case m.HasTag(chess.EnPassant):
		passed := board.Square{Row: from.Row, Col: to.Col}
		return []Step{main, {Kind: StepRemove, From: passed}}, nil
	case m.HasTag(chess.KingSideCastle):
		return []Step{main, {Kind: StepMove, From: board.Square{Row: from.Row, Col: 7}, To: board.Square{Row: from.Row, Col: 5}}}, nil
	case m.HasTag(chess.QueenSideCastle):
		return []Step{main, {Kind: StepMove, From: board.Square{Row: from.Row, Col: 0}, To: board.Square{Row: from.Row, Col: 3}}}, nil
	case game.Position().Board().Piece(m.S2()) != chess.NoPiece:
		main.Capture = true
	}
	return []Step{main}, nil
}

// boardSquare is the inverse of chessSquare.
func boardSquare(sq chess.Square) board.Square {
	return board.Square{Row: board.Size - 1 - int(sq.Rank()), Col: int(sq.File())}
}

// MovesForChange lists, in UCI, every legal move in fen whose occupancy
// change equals changes. The occupancy sensor sees a capture as one vacated
// square, en passant as three changes and castling as four, so the caller
// recovers the move when the answer is unique.
func MovesForChange(fen string, changes board.ChangeSet) ([]string, error) {
	game, err := GameFromFEN(fen)
	if err != nil {
		return nil, err
	}
	pos := game.Position()
	before := gridOf(pos)
	seen := make(map[string]bool)
	var out []string
	for _, m := range pos.ValidMoves() {
		uci := m.S1().String() + m.S2().String()
		// Promotions collapse to one entry per target square.
		if seen[uci] || !sameChanges(before.Diff(gridOf(pos.Update(m))), changes) {
			continue
		}
		seen[uci] = true
		out = append(out, uci)
	}
	return out, nil
}

func sameChanges(a, b board.ChangeSet) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
