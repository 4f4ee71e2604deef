// Package engine drives a UCI chess engine (stockfish) to pick the robot's
// replies.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/notnil/chess"
	"github.com/notnil/chess/uci"

	"github.com/banshee-data/boardwatch/internal/monitoring"
)

var logf = monitoring.Component("Engine")

// ErrNoMove is returned when the engine finishes a search without a move.
var ErrNoMove = errors.New("engine returned no move")

// Options tune the search.
type Options struct {
	MoveTime   time.Duration // per-move search time (default 500ms)
	Depth      int           // max depth, 0 for unlimited
	SkillLevel int           // stockfish "Skill Level" 0-20 (default 10)
	Threads    int           // default 4
	HashMB     int           // default 256
}

func (o Options) withDefaults() Options {
	if o.MoveTime <= 0 {
		o.MoveTime = 500 * time.Millisecond
	}
	if o.SkillLevel == 0 {
		o.SkillLevel = 10
	}
	if o.Threads == 0 {
		o.Threads = 4
	}
	if o.HashMB == 0 {
		o.HashMB = 256
	}
	return o
}

// Engine owns one UCI subprocess. Searches are serialised.
type Engine struct {
	mu   sync.Mutex
	eng  *uci.Engine
	opts Options
}

// New starts the engine binary at path and runs the UCI handshake.
func New(path string, opts Options) (*Engine, error) {
	opts = opts.withDefaults()
	eng, err := uci.New(path)
	if err != nil {
		return nil, fmt.Errorf("start engine %s: %w", path, err)
	}
	setup := []uci.Cmd{
		uci.CmdUCI,
		uci.CmdSetOption{Name: "Threads", Value: strconv.Itoa(opts.Threads)},
		uci.CmdSetOption{Name: "Hash", Value: strconv.Itoa(opts.HashMB)},
		uci.CmdSetOption{Name: "Skill Level", Value: strconv.Itoa(opts.SkillLevel)},
		uci.CmdIsReady,
		uci.CmdUCINewGame,
	}
	if err := eng.Run(setup...); err != nil {
		eng.Close()
		return nil, fmt.Errorf("engine handshake: %w", err)
	}
	logf("started %s (movetime %v, depth %d, skill %d)", path, opts.MoveTime, opts.Depth, opts.SkillLevel)
	return &Engine{eng: eng, opts: opts}, nil
}

// BestMove searches pos. If ctx ends first the call returns ctx.Err() and the
// search result is discarded once it arrives.
func (e *Engine) BestMove(ctx context.Context, pos *chess.Position) (*chess.Move, error) {
	type result struct {
		move *chess.Move
		err  error
	}
	done := make(chan result, 1)
	go func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		cmdGo := uci.CmdGo{MoveTime: e.opts.MoveTime, Depth: e.opts.Depth}
		if err := e.eng.Run(uci.CmdPosition{Position: pos}, cmdGo); err != nil {
			done <- result{err: fmt.Errorf("search: %w", err)}
			return
		}
		move := e.eng.SearchResults().BestMove
		if move == nil {
			done <- result{err: ErrNoMove}
			return
		}
		done <- result{move: move}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.move, r.err
	}
}

// Close stops the engine process.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.eng.Close()
}

// FirstLegal plays the first legal move. It stands in for the engine in dev
// mode and when no engine binary is installed.
type FirstLegal struct{}

// BestMove returns the first legal move in pos.
func (FirstLegal) BestMove(_ context.Context, pos *chess.Position) (*chess.Move, error) {
	moves := pos.ValidMoves()
	if len(moves) == 0 {
		return nil, ErrNoMove
	}
	return moves[0], nil
}
