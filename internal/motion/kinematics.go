// Package motion moves the robot arm: it maps squares to arm coordinates,
// solves inverse kinematics and eases servos through the pick-and-place
// sequence for one move.
package motion

import (
	"fmt"
	"math"

	"github.com/banshee-data/boardwatch/internal/board"
)

// Joint indexes a servo channel on the controller.
type Joint int

const (
	Base Joint = iota
	Shoulder
	Elbow
	WristRotate
	WristPitch
	Gripper
	NumJoints
)

var jointNames = [NumJoints]string{"base", "shoulder", "elbow", "wrist_rotate", "wrist_pitch", "gripper"}

func (j Joint) String() string {
	if j < 0 || j >= NumJoints {
		return fmt.Sprintf("joint(%d)", int(j))
	}
	return jointNames[j]
}

// Angles holds one servo angle in degrees per joint, each in [0, 180].
type Angles [NumJoints]float64

// Neutral is every joint at 90 degrees. It is the home pose.
func Neutral() Angles {
	var a Angles
	for i := range a {
		a[i] = 90
	}
	return a
}

const (
	gripperOpen   = 0
	gripperClosed = 90
)

// Geometry describes the arm and board in centimetres. The arm base sits at
// the origin on the middle of the rank-8 edge, facing +y across the board, so
// x runs along the files and y grows toward rank 1.
type Geometry struct {
	L1, L2, L3 float64 // upper arm, forearm, wrist-to-tip
	SquareSize float64
}

// SquareXY returns the centre of sq in arm coordinates.
func (g Geometry) SquareXY(sq board.Square) (x, y float64) {
	x = (float64(sq.Col)+0.5)*g.SquareSize - float64(board.Size)/2*g.SquareSize
	y = (float64(sq.Row) + 0.5) * g.SquareSize
	return x, y
}

// InverseKinematics returns the joint angles that put the gripper tip at
// (x, y, z) pointing straight down. Angles outside the servo range are
// clamped, and reachable is false when the target is outside the arm's
// envelope or any joint had to be clamped.
func (g Geometry) InverseKinematics(x, y, z float64) (a Angles, reachable bool) {
	reachable = true
	base := deg(math.Atan2(y, x))
	h := math.Hypot(x, y)
	dz := z - g.L3
	d := math.Hypot(h, dz)

	cosPhi := (d*d - g.L1*g.L1 - g.L2*g.L2) / (2 * g.L1 * g.L2)
	if cosPhi > 1 || cosPhi < -1 {
		reachable = false
		cosPhi = math.Max(-1, math.Min(1, cosPhi))
	}
	phi := math.Acos(cosPhi) // elbow bend, 0 when straight
	shoulder := math.Atan2(dz, h) + math.Atan2(g.L2*math.Sin(phi), g.L1+g.L2*math.Cos(phi))
	forearm := shoulder - phi

	a[Base] = base
	a[Shoulder] = deg(shoulder)
	a[Elbow] = 180 - deg(phi)
	a[WristRotate] = 90
	// Tool pointing down is -90 degrees absolute; the wrist makes up the
	// difference from the forearm.
	a[WristPitch] = 90 + (-90 - deg(forearm))
	a[Gripper] = gripperOpen

	for i := range a {
		if a[i] < 0 || a[i] > 180 {
			reachable = false
			a[i] = math.Max(0, math.Min(180, a[i]))
		}
	}
	return a, reachable
}

// ForwardKinematics returns the tip position for a set of angles. It is the
// inverse of InverseKinematics for reachable targets.
func (g Geometry) ForwardKinematics(a Angles) (x, y, z float64) {
	shoulder := rad(a[Shoulder])
	phi := rad(180 - a[Elbow])
	forearm := shoulder - phi
	h := g.L1*math.Cos(shoulder) + g.L2*math.Cos(forearm)
	z = g.L1*math.Sin(shoulder) + g.L2*math.Sin(forearm) + g.L3
	base := rad(a[Base])
	return h * math.Cos(base), h * math.Sin(base), z
}

// PulseWidth maps an angle to a servo pulse in microseconds, 0 to 180
// degrees over 500 to 2500us.
func PulseWidth(angle float64) int {
	angle = math.Max(0, math.Min(180, angle))
	return int(math.Round(500 + angle/180*2000))
}

func deg(r float64) float64 { return r * 180 / math.Pi }
func rad(d float64) float64 { return d * math.Pi / 180 }
