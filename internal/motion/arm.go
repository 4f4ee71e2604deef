package motion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/boardwatch/internal/board"
	"github.com/banshee-data/boardwatch/internal/config"
	"github.com/banshee-data/boardwatch/internal/monitoring"
	"github.com/banshee-data/boardwatch/internal/timeutil"
)

var logf = monitoring.Component("Arm")

// ErrUnknownSquare is returned for a move naming a square off the board.
var ErrUnknownSquare = errors.New("unknown square")

// ErrUnreachable is returned when a square or the discard point lies outside
// the arm's envelope. Nothing is picked up in that case.
var ErrUnreachable = errors.New("outside arm reach")

// Commander sends one line to the servo controller. serialmux.SerialMux
// satisfies it.
type Commander interface {
	SendCommand(command string) error
}

// Settings are the arm dials read from the tuning file.
type Settings struct {
	Geometry    Geometry
	HoverHeight float64
	PickHeight  float64
	EaseSteps   int
	StepDelay   time.Duration
}

// SettingsFromTuning reads arm settings from cfg.
func SettingsFromTuning(cfg *config.TuningConfig) Settings {
	l := cfg.GetArmLengths()
	return Settings{
		Geometry:    Geometry{L1: l.L1, L2: l.L2, L3: l.L3, SquareSize: cfg.GetSquareSizeCm()},
		HoverHeight: cfg.GetHoverHeightCm(),
		PickHeight:  cfg.GetPickHeightCm(),
		EaseSteps:   cfg.GetEaseSteps(),
		StepDelay:   cfg.GetStepDelay(),
	}
}

// Arm drives the six servos through one controller link. Calls are
// serialised; the arm only ever performs one move at a time.
type Arm struct {
	mu      sync.Mutex
	link    Commander
	set     Settings
	clock   timeutil.Clock
	current Angles
}

// NewArm creates an arm assumed to be resting in the home pose.
func NewArm(link Commander, set Settings, clock timeutil.Clock) *Arm {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if set.EaseSteps < 1 {
		set.EaseSteps = 1
	}
	return &Arm{link: link, set: set, clock: clock, current: Neutral()}
}

// Current returns the last commanded angles.
func (a *Arm) Current() Angles {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Home eases every joint to 90 degrees.
func (a *Arm) Home(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.easeTo(ctx, Neutral())
}

// ExecuteMove picks the piece on from and places it on to. When capture is
// set the piece standing on to is carried off the board first. The arm
// returns home afterwards, and also on failure, even if ctx was cancelled.
func (a *Arm) ExecuteMove(ctx context.Context, from, to board.Square, capture bool) (err error) {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("%w: %v-%v", ErrUnknownSquare, from, to)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	defer func() {
		if err == nil {
			return
		}
		logf("move %v-%v failed, returning home: %v", from, to, err)
		if herr := a.easeTo(context.WithoutCancel(ctx), Neutral()); herr != nil {
			logf("return home failed: %v", herr)
		}
	}()

	points := []point{a.squarePoint(from), a.squarePoint(to)}
	if capture {
		points = append(points, a.discardPoint())
	}
	if err := a.checkReach(points...); err != nil {
		return fmt.Errorf("move %v-%v: %w", from, to, err)
	}

	if err := a.easeTo(ctx, Neutral()); err != nil {
		return err
	}
	if capture {
		if err := a.carry(ctx, a.squarePoint(to), a.discardPoint()); err != nil {
			return fmt.Errorf("remove captured piece on %v: %w", to, err)
		}
	}
	if err := a.carry(ctx, a.squarePoint(from), a.squarePoint(to)); err != nil {
		return fmt.Errorf("move %v-%v: %w", from, to, err)
	}
	return a.easeTo(ctx, Neutral())
}

// RemovePiece carries the piece on sq off the board, as for the pawn taken
// en passant.
func (a *Arm) RemovePiece(ctx context.Context, sq board.Square) (err error) {
	if !sq.Valid() {
		return fmt.Errorf("%w: %v", ErrUnknownSquare, sq)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	defer func() {
		if err != nil {
			logf("removing %v failed, returning home: %v", sq, err)
			if herr := a.easeTo(context.WithoutCancel(ctx), Neutral()); herr != nil {
				logf("return home failed: %v", herr)
			}
		}
	}()

	if err := a.checkReach(a.squarePoint(sq), a.discardPoint()); err != nil {
		return fmt.Errorf("remove %v: %w", sq, err)
	}
	if err := a.carry(ctx, a.squarePoint(sq), a.discardPoint()); err != nil {
		return fmt.Errorf("remove %v: %w", sq, err)
	}
	return a.easeTo(ctx, Neutral())
}

// ExecuteUCI is ExecuteMove for a UCI string such as "e7e5".
func (a *Arm) ExecuteUCI(ctx context.Context, move string, capture bool) error {
	from, to, err := ParseUCI(move)
	if err != nil {
		return err
	}
	return a.ExecuteMove(ctx, from, to, capture)
}

// ParseUCI splits a UCI move into its squares. A promotion suffix is
// ignored; the arm moves the pawn and a person swaps the piece.
func ParseUCI(move string) (from, to board.Square, err error) {
	move = strings.TrimSpace(move)
	if len(move) != 4 && len(move) != 5 {
		return from, to, fmt.Errorf("%w: bad move %q", ErrUnknownSquare, move)
	}
	if from, err = board.ParseSquare(move[:2]); err != nil {
		return from, to, fmt.Errorf("%w: %v", ErrUnknownSquare, err)
	}
	if to, err = board.ParseSquare(move[2:4]); err != nil {
		return from, to, fmt.Errorf("%w: %v", ErrUnknownSquare, err)
	}
	return from, to, nil
}

type point struct{ x, y float64 }

func (a *Arm) squarePoint(sq board.Square) point {
	x, y := a.set.Geometry.SquareXY(sq)
	return point{x, y}
}

// discardPoint is one square beyond the h-file, level with rank 8.
func (a *Arm) discardPoint() point {
	s := a.set.Geometry.SquareSize
	return point{x: float64(board.Size)/2*s + s, y: s / 2}
}

// checkReach fails unless every point can be reached at both hover and pick
// height without clamping a joint.
func (a *Arm) checkReach(points ...point) error {
	for _, p := range points {
		for _, z := range []float64{a.set.HoverHeight, a.set.PickHeight} {
			if _, ok := a.set.Geometry.InverseKinematics(p.x, p.y, z); !ok {
				return fmt.Errorf("(%.1f, %.1f, %.1f): %w", p.x, p.y, z, ErrUnreachable)
			}
		}
	}
	return nil
}

// carry grips whatever stands at src and releases it at dst.
func (a *Arm) carry(ctx context.Context, src, dst point) error {
	steps := []struct {
		p     point
		z     float64
		grip  float64
		label string
	}{
		{src, a.set.HoverHeight, gripperOpen, "hover source"},
		{src, a.set.PickHeight, gripperOpen, "descend"},
		{src, a.set.PickHeight, gripperClosed, "grip"},
		{src, a.set.HoverHeight, gripperClosed, "lift"},
		{dst, a.set.HoverHeight, gripperClosed, "hover target"},
		{dst, a.set.PickHeight, gripperClosed, "lower"},
		{dst, a.set.PickHeight, gripperOpen, "release"},
		{dst, a.set.HoverHeight, gripperOpen, "clear"},
	}
	for _, st := range steps {
		target, ok := a.set.Geometry.InverseKinematics(st.p.x, st.p.y, st.z)
		if !ok {
			return fmt.Errorf("%s (%.1f, %.1f, %.1f): %w", st.label, st.p.x, st.p.y, st.z, ErrUnreachable)
		}
		target[Gripper] = st.grip
		if err := a.easeTo(ctx, target); err != nil {
			return fmt.Errorf("%s: %w", st.label, err)
		}
	}
	return nil
}

// easeTo interpolates linearly from the current angles to target over
// EaseSteps group commands, one per StepDelay. Caller holds a.mu.
func (a *Arm) easeTo(ctx context.Context, target Angles) error {
	start := a.current
	n := a.set.EaseSteps
	ms := a.set.StepDelay.Milliseconds()
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		f := float64(i) / float64(n)
		step := target
		if i < n {
			for j := range step {
				step[j] = start[j] + (target[j]-start[j])*f
			}
		}
		if err := a.link.SendCommand(GroupCommand(step, ms)); err != nil {
			return err
		}
		a.current = step
		if err := timeutil.SleepContext(ctx, a.clock, a.set.StepDelay); err != nil {
			return err
		}
	}
	return nil
}

// GroupCommand formats a synchronised move of every joint, e.g.
// "#0 P1500 #1 P1500 ... T50".
func GroupCommand(a Angles, ms int64) string {
	var b strings.Builder
	for j := range a {
		fmt.Fprintf(&b, "#%d P%d ", j, PulseWidth(a[j]))
	}
	fmt.Fprintf(&b, "T%d", ms)
	return b.String()
}
