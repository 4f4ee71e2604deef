package board

// Change is one square whose occupancy flipped between two scans.
type Change struct {
	Square Square
	// Before is the occupancy in the earlier grid; the later grid holds !Before.
	Before bool
}

// Vacated reports whether the square went from occupied to empty.
func (c Change) Vacated() bool { return c.Before }

// ChangeSet lists the squares where two grids disagree. It is computed per
// scan and discarded after classification.
type ChangeSet []Change

// Len returns the number of changed squares.
func (cs ChangeSet) Len() int { return len(cs) }

// Squares returns the changed squares in order.
func (cs ChangeSet) Squares() []Square {
	out := make([]Square, len(cs))
	for i, c := range cs {
		out[i] = c.Square
	}
	return out
}

// FromTo resolves a two-square change into the vacated and the newly
// occupied square. ok is false unless exactly one square was vacated and
// exactly one was filled.
func (cs ChangeSet) FromTo() (from, to Square, ok bool) {
	if len(cs) != 2 {
		return Square{}, Square{}, false
	}
	a, b := cs[0], cs[1]
	switch {
	case a.Vacated() && !b.Vacated():
		return a.Square, b.Square, true
	case b.Vacated() && !a.Vacated():
		return b.Square, a.Square, true
	default:
		return Square{}, Square{}, false
	}
}
