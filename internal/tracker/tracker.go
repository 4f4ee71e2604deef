// Package tracker turns a stream of noisy 8x8 occupancy scans into move
// candidates. It owns a single State per game, calibrates against the first
// few scans, classifies every later scan by how many squares changed and
// periodically discards its own memory to stop drift from compounding.
package tracker

import (
	"fmt"
	"math"
	"sync"

	"github.com/banshee-data/boardwatch/internal/board"
	"github.com/banshee-data/boardwatch/internal/monitoring"
)

var logf = monitoring.Component("Tracker")

// Oracle answers whether a from/to pair is a legal move in a position. It may
// fail; failures are never fatal to the tracker.
type Oracle interface {
	IsLegal(pos Position, from, to board.Square) (bool, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(pos Position, from, to board.Square) (bool, error)

// IsLegal calls f.
func (f OracleFunc) IsLegal(pos Position, from, to board.Square) (bool, error) {
	return f(pos, from, to)
}

// Tracker is safe for concurrent use. Tick, Confirm and Reset are serialised
// by an internal mutex so an orchestrator and an HTTP reset can share one.
type Tracker struct {
	mu     sync.Mutex
	cfg    Config
	oracle Oracle
	state  State
}

// New creates a tracker in calibration mode. oracle may be nil, in which case
// clean two-square moves keep the base confidence.
func New(cfg Config, oracle Oracle) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tracker config: %w", err)
	}
	t := &Tracker{cfg: cfg, oracle: oracle}
	t.state = t.freshState()
	return t, nil
}

func (t *Tracker) freshState() State {
	return State{
		Mode:              Calibrating,
		CalibrationTarget: t.cfg.CalibrationTarget,
		ResyncPeriod:      t.cfg.ResyncPeriod,
	}
}

// Config returns the configuration the tracker was built with.
func (t *Tracker) Config() Config { return t.cfg }

// State returns a copy of the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.clone()
}

// Reset discards all game state and returns to calibration.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = t.freshState()
	logf("reset: calibrating for %d scans", t.cfg.CalibrationTarget)
}

// Tick processes one sensor grid. A scan that differs from the remembered
// grid on zero squares leaves the state untouched.
func (t *Tracker) Tick(grid board.Grid) Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &t.state

	if s.Mode == Calibrating {
		s.ScanCount++
		s.PreviousGrid = grid
		s.PreviousPosition = Position{Grid: grid, Placement: t.cfg.StartPlacement}
		s.Pending = nil
		if s.ScanCount >= s.CalibrationTarget {
			s.Mode = Tracking
			logf("calibration complete after %d scans (%d squares occupied)", s.ScanCount, grid.Count())
		}
		return Result{Kind: NoEvent, Scan: s.ScanCount, Mode: s.Mode}
	}

	changes := s.PreviousGrid.Diff(grid)
	n := changes.Len()
	if n == 0 {
		return Result{Kind: NoEvent, Scan: s.ScanCount, Mode: s.Mode}
	}

	s.ScanCount++
	s.Pending = nil

	if n > t.cfg.NoiseThreshold {
		s.OverflowStreak++
		res := t.resync(grid, n, t.cfg.SyncConfidence, Diagnostic{
			Kind:   ForcedResync,
			Detail: fmt.Sprintf("%d squares changed, above noise threshold %d", n, t.cfg.NoiseThreshold),
		})
		if s.OverflowStreak >= t.cfg.DesyncStreak {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Kind:   DesyncOverflow,
				Detail: fmt.Sprintf("%d consecutive noisy scans", s.OverflowStreak),
			})
			logf("desync overflow: %d consecutive scans above noise threshold", s.OverflowStreak)
		}
		return res
	}
	s.OverflowStreak = 0

	// A grid that already produced a candidate nobody accepted is classified
	// again rather than absorbed, so a rejected or timed-out move comes back.
	repeat := s.Unconfirmed != nil && grid.Equal(s.Unconfirmed.Grid)
	if s.ScanCount%s.ResyncPeriod == 0 && !repeat {
		detail := fmt.Sprintf("periodic resync at scan %d", s.ScanCount)
		var masked *MoveCandidate
		if from, to, ok := changes.FromTo(); ok {
			detail += fmt.Sprintf(", masked %s%s", from, to)
			masked = &MoveCandidate{From: from, To: to, Confidence: t.cfg.SyncConfidence}
		}
		res := t.resync(grid, n, t.cfg.SyncConfidence, Diagnostic{Kind: ForcedResync, Detail: detail})
		res.Masked = masked
		return res
	}

	if n != 2 {
		return t.resync(grid, n, t.cfg.ambiguousConfidence(n), Diagnostic{
			Kind:   AmbiguousChange,
			Detail: fmt.Sprintf("%d squares changed: %v", n, changes.Squares()),
		})
	}

	from, to, ok := changes.FromTo()
	if !ok {
		return t.resync(grid, n, t.cfg.AmbiguousSingle, Diagnostic{
			Kind:   GeometricMismatch,
			Detail: fmt.Sprintf("changes do not pair as a move: %v", changes.Squares()),
		})
	}

	res := Result{Kind: Candidate, Changes: n, Scan: s.ScanCount, Mode: s.Mode}
	conf := t.cfg.BaseConfidence
	if t.oracle != nil {
		legal, err := t.oracle.IsLegal(s.PreviousPosition, from, to)
		switch {
		case err != nil:
			res.Diagnostics = append(res.Diagnostics, Diagnostic{Kind: OracleUnavailable, Detail: err.Error()})
			logf("oracle unavailable for %s%s: %v", from, to, err)
		case legal:
			conf = math.Min(1, conf+t.cfg.OracleBonus)
		default:
			conf = math.Max(0, conf-t.cfg.OraclePenalty)
		}
	}

	cand := MoveCandidate{From: from, To: to, Confidence: conf}
	s.Pending = &PendingMove{Candidate: cand, Grid: grid}
	s.Unconfirmed = &PendingMove{Candidate: cand, Grid: grid}
	res.Candidate = &cand
	res.Confidence = conf
	logf("scan %d: candidate %s", s.ScanCount, cand)
	return res
}

// resync adopts grid as the new baseline without inferring a move. The
// placement is left alone; it only changes through Confirm.
func (t *Tracker) resync(grid board.Grid, n int, conf float64, diag Diagnostic) Result {
	s := &t.state
	s.PreviousGrid = grid
	s.PreviousPosition.Grid = grid
	s.Unconfirmed = nil
	if diag.Kind == ForcedResync {
		logf("scan %d: %s", s.ScanCount, diag.Detail)
	}
	return Result{
		Kind:        Resynced,
		Confidence:  conf,
		Changes:     n,
		Scan:        s.ScanCount,
		Mode:        s.Mode,
		Diagnostics: []Diagnostic{diag},
	}
}

// Confirm closes the candidate handshake. On acceptance the tracker adopts pos
// when given, otherwise the grid of its own pending candidate. On rejection the
// pre-candidate baseline is kept so the next identical scan reproduces the
// candidate, even on a periodic resync scan. Confirm during calibration is
// ignored since any candidate it refers to belongs to a game that has been
// reset.
func (t *Tracker) Confirm(accepted bool, pos *Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &t.state

	if s.Mode == Calibrating {
		logf("ignoring confirm while calibrating")
		return
	}
	pending := s.Pending
	s.Pending = nil

	if !accepted {
		if pending != nil {
			logf("candidate %s rejected", pending.Candidate.UCI())
		}
		return
	}
	s.Unconfirmed = nil
	if pos != nil {
		s.PreviousGrid = pos.Grid
		s.PreviousPosition = *pos
		return
	}
	if pending == nil {
		logf("confirm without a pending candidate ignored")
		return
	}
	s.PreviousGrid = pending.Grid
	s.PreviousPosition = Position{Grid: pending.Grid, Placement: s.PreviousPosition.Placement}
}
