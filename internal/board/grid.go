package board

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Occupied and Empty are the runes used by the text form of a grid.
const (
	Occupied = 'x'
	Empty    = '.'
)

// Grid is an immutable 8x8 occupancy snapshot. The zero value is an empty
// board. Grids are plain values: assignment copies every cell.
type Grid struct {
	cells [Size][Size]bool
}

// GridFromCells builds a grid from a row-major cell matrix.
func GridFromCells(cells [Size][Size]bool) Grid {
	return Grid{cells: cells}
}

// StartingGrid is the occupancy of the canonical opening position: the two
// back ranks on each side are filled.
func StartingGrid() Grid {
	var g Grid
	for _, row := range []int{0, 1, Size - 2, Size - 1} {
		for col := 0; col < Size; col++ {
			g.cells[row][col] = true
		}
	}
	return g
}

// ParseGrid reads eight rows of eight characters, 'x' (or any of "X1")
// for occupied and '.' (or "0-_") for empty. Row 0 is rank 8.
func ParseGrid(rows []string) (Grid, error) {
	var g Grid
	if len(rows) != Size {
		return g, fmt.Errorf("grid must have %d rows, got %d", Size, len(rows))
	}
	for r, line := range rows {
		line = strings.TrimSpace(line)
		if len(line) != Size {
			return Grid{}, fmt.Errorf("grid row %d must have %d cells, got %d", r, Size, len(line))
		}
		for c := 0; c < Size; c++ {
			switch line[c] {
			case Occupied, 'X', '1':
				g.cells[r][c] = true
			case Empty, '0', '-', '_':
			default:
				return Grid{}, fmt.Errorf("grid row %d col %d: unexpected %q", r, c, line[c])
			}
		}
	}
	return g, nil
}

// MustParseGrid is ParseGrid for test fixtures and literals.
func MustParseGrid(rows ...string) Grid {
	g, err := ParseGrid(rows)
	if err != nil {
		panic(err)
	}
	return g
}

// At reports whether sq is occupied. Off-board squares read as empty.
func (g Grid) At(sq Square) bool {
	if !sq.Valid() {
		return false
	}
	return g.cells[sq.Row][sq.Col]
}

// With returns a copy of g with sq set to occupied.
func (g Grid) With(sq Square, occupied bool) Grid {
	if sq.Valid() {
		g.cells[sq.Row][sq.Col] = occupied
	}
	return g
}

// Move returns a copy of g with from emptied and to filled.
func (g Grid) Move(from, to Square) Grid {
	return g.With(from, false).With(to, true)
}

// Cells returns a copy of the underlying matrix.
func (g Grid) Cells() [Size][Size]bool { return g.cells }

// Count returns the number of occupied squares.
func (g Grid) Count() int {
	n := 0
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			if g.cells[r][c] {
				n++
			}
		}
	}
	return n
}

// Equal reports whether both grids have identical occupancy.
func (g Grid) Equal(other Grid) bool { return g.cells == other.cells }

// Diff returns the squares where g and next disagree, in row-major order.
func (g Grid) Diff(next Grid) ChangeSet {
	var cs ChangeSet
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			if g.cells[r][c] != next.cells[r][c] {
				cs = append(cs, Change{
					Square: Square{Row: r, Col: c},
					Before: g.cells[r][c],
				})
			}
		}
	}
	return cs
}

// Rows renders the grid as eight strings, rank 8 first.
func (g Grid) Rows() []string {
	rows := make([]string, Size)
	var b strings.Builder
	for r := 0; r < Size; r++ {
		b.Reset()
		for c := 0; c < Size; c++ {
			if g.cells[r][c] {
				b.WriteByte(Occupied)
			} else {
				b.WriteByte(Empty)
			}
		}
		rows[r] = b.String()
	}
	return rows
}

func (g Grid) String() string { return strings.Join(g.Rows(), "\n") }

// MarshalJSON encodes the grid as its eight text rows.
func (g Grid) MarshalJSON() ([]byte, error) { return json.Marshal(g.Rows()) }

// UnmarshalJSON decodes eight text rows.
func (g *Grid) UnmarshalJSON(data []byte) error {
	var rows []string
	if err := json.Unmarshal(data, &rows); err != nil {
		return err
	}
	parsed, err := ParseGrid(rows)
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}
