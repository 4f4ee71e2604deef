package sensor

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/banshee-data/boardwatch/internal/board"
)

// ParseFixtures reads grids written as eight rows of '.'/'x' separated by
// blank lines. Lines starting with '#' are comments. A grid with missing rows
// or cells fails with ErrPartialGrid.
func ParseFixtures(r io.Reader) ([]board.Grid, error) {
	var (
		grids []board.Grid
		rows  []string
		line  int
	)
	flush := func() error {
		if len(rows) == 0 {
			return nil
		}
		if len(rows) != board.Size {
			return fmt.Errorf("fixture ending at line %d: %w: %d rows", line, ErrPartialGrid, len(rows))
		}
		for i, row := range rows {
			if len(row) != board.Size {
				return fmt.Errorf("fixture ending at line %d: %w: row %d has %d cells", line, ErrPartialGrid, i, len(row))
			}
		}
		g, err := board.ParseGrid(rows)
		if err != nil {
			return fmt.Errorf("fixture ending at line %d: %w", line, err)
		}
		grids = append(grids, g)
		rows = rows[:0]
		return nil
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(text, "#"):
			continue
		case text == "":
			if err := flush(); err != nil {
				return nil, err
			}
		default:
			rows = append(rows, text)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return grids, nil
}

// LoadFixtures parses a fixture file.
func LoadFixtures(path string) ([]board.Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	grids, err := ParseFixtures(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return grids, nil
}
