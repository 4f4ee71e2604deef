// Package sensor produces occupancy grids from a camera or from recorded
// fixtures. A failed capture is reported as ErrSensorFailure and never as an
// empty grid, so callers cannot mistake a dead camera for an empty board.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/boardwatch/internal/board"
)

// ErrSensorFailure wraps every capture error.
var ErrSensorFailure = errors.New("sensor failure")

// ErrPartialGrid is a failure where only part of the board was seen: a frame
// smaller than the grid, a board region outside the frame or a fixture with
// missing rows or cells. It also matches ErrSensorFailure.
var ErrPartialGrid = fmt.Errorf("%w: partial grid", ErrSensorFailure)

// Sensor captures one occupancy grid.
type Sensor interface {
	Capture(ctx context.Context) (board.Grid, error)
}

// Func adapts a function to Sensor.
type Func func(ctx context.Context) (board.Grid, error)

// Capture calls f.
func (f Func) Capture(ctx context.Context) (board.Grid, error) { return f(ctx) }

func failure(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrSensorFailure, fmt.Sprintf(format, args...))
}

func partial(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrPartialGrid, fmt.Sprintf(format, args...))
}

// Replay cycles through a fixed list of grids. It backs dev mode and tests.
type Replay struct {
	mu    sync.Mutex
	grids []board.Grid
	next  int
	loop  bool
}

// NewReplay returns a sensor that yields grids in order. With loop set it
// starts over at the end; otherwise it keeps returning the last grid.
func NewReplay(grids []board.Grid, loop bool) *Replay {
	return &Replay{grids: grids, loop: loop}
}

// Capture returns the next grid.
func (r *Replay) Capture(ctx context.Context) (board.Grid, error) {
	if err := ctx.Err(); err != nil {
		return board.Grid{}, failure("%v", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.grids) == 0 {
		return board.Grid{}, failure("no fixtures loaded")
	}
	g := r.grids[r.next]
	switch {
	case r.next < len(r.grids)-1:
		r.next++
	case r.loop:
		r.next = 0
	}
	return g, nil
}
