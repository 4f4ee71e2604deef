package rules

import (
	"fmt"

	"github.com/notnil/chess"
)

// Tag is one PGN tag pair.
type Tag struct {
	Key, Value string
}

// PGN replays UCI moves from the standard start and renders the game as PGN.
// It fails on the first move that is not legal in the replayed position.
func PGN(moves []string, tags ...Tag) (string, error) {
	game := chess.NewGame()
	for _, t := range tags {
		game.AddTagPair(t.Key, t.Value)
	}
	for i, uci := range moves {
		pos := game.Position()
		decoded, err := chess.UCINotation{}.Decode(pos, uci)
		if err != nil {
			return "", fmt.Errorf("ply %d %q: %w", i+1, uci, err)
		}
		m := findMove(pos, decoded.S1(), decoded.S2(), decoded.Promo())
		if m == nil {
			return "", fmt.Errorf("ply %d %q is not legal", i+1, uci)
		}
		if err := game.Move(m); err != nil {
			return "", fmt.Errorf("ply %d %q: %w", i+1, uci, err)
		}
	}
	return game.String(), nil
}
