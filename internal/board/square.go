// Package board holds the occupancy model shared by the sensor, tracker and
// motion layers: an 8x8 grid of occupied/empty squares with no piece identity.
//
// Grid rows follow the camera orientation: row 0 is rank 8 (black's back
// rank) and column 0 is the a-file. Squares cross package boundaries in
// algebraic notation ("a1".."h8").
package board

import "fmt"

// Size is the number of ranks and files on the board.
const Size = 8

// Square addresses one cell of the grid by row and column.
type Square struct {
	Row int
	Col int
}

// NewSquare returns the square at (row, col) or an error if it is off the board.
func NewSquare(row, col int) (Square, error) {
	sq := Square{Row: row, Col: col}
	if !sq.Valid() {
		return Square{}, fmt.Errorf("square (%d,%d) is off the board", row, col)
	}
	return sq, nil
}

// ParseSquare parses an algebraic square name such as "e4".
func ParseSquare(name string) (Square, error) {
	if len(name) != 2 {
		return Square{}, fmt.Errorf("invalid square %q: expected file and rank", name)
	}
	file, rank := name[0], name[1]
	if file < 'a' || file > 'h' {
		return Square{}, fmt.Errorf("invalid square %q: file must be a-h", name)
	}
	if rank < '1' || rank > '8' {
		return Square{}, fmt.Errorf("invalid square %q: rank must be 1-8", name)
	}
	return Square{Row: Size - int(rank-'0'), Col: int(file - 'a')}, nil
}

// MustParseSquare is ParseSquare for literals known to be valid.
func MustParseSquare(name string) Square {
	sq, err := ParseSquare(name)
	if err != nil {
		panic(err)
	}
	return sq
}

// Valid reports whether the square lies on the board.
func (s Square) Valid() bool {
	return s.Row >= 0 && s.Row < Size && s.Col >= 0 && s.Col < Size
}

// File returns the file letter ('a'..'h').
func (s Square) File() byte { return byte('a' + s.Col) }

// Rank returns the rank number (1..8).
func (s Square) Rank() int { return Size - s.Row }

// String returns the algebraic name, e.g. "e2".
func (s Square) String() string {
	if !s.Valid() {
		return fmt.Sprintf("(%d,%d)", s.Row, s.Col)
	}
	return fmt.Sprintf("%c%d", s.File(), s.Rank())
}

// MarshalText encodes the square as its algebraic name.
func (s Square) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("cannot encode off-board square (%d,%d)", s.Row, s.Col)
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes an algebraic square name.
func (s *Square) UnmarshalText(text []byte) error {
	sq, err := ParseSquare(string(text))
	if err != nil {
		return err
	}
	*s = sq
	return nil
}
