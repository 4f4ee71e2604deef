package tracker

import (
	"fmt"

	"github.com/banshee-data/boardwatch/internal/board"
)

// Mode is the tracker phase.
type Mode int

const (
	// Calibrating absorbs the first scans as ground truth without diffing.
	Calibrating Mode = iota
	// Tracking classifies every scan against the remembered grid.
	Tracking
)

func (m Mode) String() string {
	switch m {
	case Calibrating:
		return "calibrating"
	case Tracking:
		return "tracking"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// MarshalText encodes the mode name.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText decodes a mode name.
func (m *Mode) UnmarshalText(text []byte) error {
	for _, v := range []Mode{Calibrating, Tracking} {
		if v.String() == string(text) {
			*m = v
			return nil
		}
	}
	return fmt.Errorf("unknown mode %q", text)
}

// Position is the tracker's belief about the board: the occupancy it last
// accepted plus an opaque piece-placement encoding (FEN) that is only passed
// through to the legality oracle.
type Position struct {
	Grid      board.Grid `json:"grid"`
	Placement string     `json:"placement"`
}

// MoveCandidate is a provisional move inferred from two coordinated
// occupancy changes. It is never mutated after creation.
type MoveCandidate struct {
	From       board.Square `json:"from"`
	To         board.Square `json:"to"`
	Confidence float64      `json:"confidence"`
}

// UCI returns the move in long algebraic form, e.g. "e2e4".
func (c MoveCandidate) UCI() string { return c.From.String() + c.To.String() }

func (c MoveCandidate) String() string {
	return fmt.Sprintf("%s (conf %.2f)", c.UCI(), c.Confidence)
}

// ResultKind tags the three possible outcomes of a scan.
type ResultKind int

const (
	// NoEvent means nothing actionable happened.
	NoEvent ResultKind = iota
	// Resynced means the remembered grid was replaced by the sensor reading
	// without inferring a move. Its confidence is diagnostic only.
	Resynced
	// Candidate means a move is proposed and awaits Confirm.
	Candidate
)

func (k ResultKind) String() string {
	switch k {
	case NoEvent:
		return "no_event"
	case Resynced:
		return "resynced"
	case Candidate:
		return "candidate"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText encodes the kind name.
func (k ResultKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText decodes a kind name.
func (k *ResultKind) UnmarshalText(text []byte) error {
	for _, v := range []ResultKind{NoEvent, Resynced, Candidate} {
		if v.String() == string(text) {
			*k = v
			return nil
		}
	}
	return fmt.Errorf("unknown result kind %q", text)
}

// DiagnosticKind classifies non-fatal conditions observed during a scan.
type DiagnosticKind int

const (
	// SensorFailure: capture produced no grid. Raised by the caller, never
	// by Tick, and the tracker state is untouched.
	SensorFailure DiagnosticKind = iota + 1
	// AmbiguousChange: 1, 3 or 4 squares changed.
	AmbiguousChange
	// GeometricMismatch: 2 squares changed but not as one vacancy plus one
	// occupation.
	GeometricMismatch
	// OracleUnavailable: the legality check failed; base confidence kept.
	OracleUnavailable
	// DesyncOverflow: too many consecutive noisy scans; the player should be
	// asked to hold still.
	DesyncOverflow
	// ForcedResync: a periodic or noise-triggered resync replaced the grid.
	ForcedResync
)

func (k DiagnosticKind) String() string {
	switch k {
	case SensorFailure:
		return "sensor_failure"
	case AmbiguousChange:
		return "ambiguous_change"
	case GeometricMismatch:
		return "geometric_mismatch"
	case OracleUnavailable:
		return "oracle_unavailable"
	case DesyncOverflow:
		return "desync_overflow"
	case ForcedResync:
		return "forced_resync"
	default:
		return fmt.Sprintf("diagnostic(%d)", int(k))
	}
}

// MarshalText encodes the diagnostic name.
func (k DiagnosticKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText decodes a diagnostic name.
func (k *DiagnosticKind) UnmarshalText(text []byte) error {
	for v := SensorFailure; v <= ForcedResync; v++ {
		if v.String() == string(text) {
			*k = v
			return nil
		}
	}
	return fmt.Errorf("unknown diagnostic %q", text)
}

// Diagnostic records one observation for logs and the scan history.
type Diagnostic struct {
	Kind   DiagnosticKind `json:"kind"`
	Detail string         `json:"detail,omitempty"`
}

// Result is the outcome of one Tick. Exactly one of the three kinds is set;
// Candidate is only meaningful when Kind == Candidate.
type Result struct {
	Kind       ResultKind     `json:"kind"`
	Confidence float64        `json:"confidence"`
	Candidate  *MoveCandidate `json:"candidate,omitempty"`
	// Masked is the clean move a periodic resync absorbed without reporting.
	Masked      *MoveCandidate `json:"masked,omitempty"`
	Changes     int            `json:"changes"`
	Scan        int            `json:"scan"`
	Mode        Mode           `json:"mode"`
	Diagnostics []Diagnostic   `json:"diagnostics,omitempty"`
}

// Has reports whether the result carries a diagnostic of the given kind.
func (r Result) Has(kind DiagnosticKind) bool {
	for _, d := range r.Diagnostics {
		if d.Kind == kind {
			return true
		}
	}
	return false
}

func (r Result) String() string {
	switch r.Kind {
	case Candidate:
		return fmt.Sprintf("scan %d: candidate %s", r.Scan, r.Candidate)
	case Resynced:
		return fmt.Sprintf("scan %d: resynced (%d changes, conf %.2f)", r.Scan, r.Changes, r.Confidence)
	default:
		return fmt.Sprintf("scan %d: no event", r.Scan)
	}
}

// PendingMove is a candidate held until the orchestrator confirms or rejects
// it, together with the grid it was inferred from.
type PendingMove struct {
	Candidate MoveCandidate `json:"candidate"`
	Grid      board.Grid    `json:"grid"`
}

// State is everything the tracker remembers for one game. It is replaced
// wholesale on Reset.
type State struct {
	Mode              Mode         `json:"mode"`
	ScanCount         int          `json:"scan_count"`
	CalibrationTarget int          `json:"calibration_target"`
	ResyncPeriod      int          `json:"resync_period"`
	PreviousGrid      board.Grid   `json:"previous_grid"`
	PreviousPosition  Position     `json:"previous_position"`
	OverflowStreak    int          `json:"overflow_streak"`
	Pending           *PendingMove `json:"pending,omitempty"`
	// Unconfirmed survives a rejection; it is cleared by acceptance or by
	// any scan that moves the baseline.
	Unconfirmed *PendingMove `json:"unconfirmed,omitempty"`
}

func (s State) clone() State {
	if s.Pending != nil {
		p := *s.Pending
		s.Pending = &p
	}
	if s.Unconfirmed != nil {
		u := *s.Unconfirmed
		s.Unconfirmed = &u
	}
	return s
}
