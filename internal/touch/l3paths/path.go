package l3paths

import "fmt"

// PathState is the lifecycle position of a path.
type PathState int

const (
	Uninitialized PathState = iota
	Made
	Touchdown
	Broken
	LiftedOff
)

func (s PathState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Made:
		return "make"
	case Touchdown:
		return "touchdown"
	case Broken:
		return "break"
	case LiftedOff:
		return "liftoff"
	default:
		return fmt.Sprintf("path_state(%d)", int(s))
	}
}

// Centroid is a contact position in surface units.
type Centroid struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// Snapshot is the immutable record of a path at one milestone.
type Snapshot struct {
	Centroid Centroid `json:"centroid"`
	Active   bool     `json:"active"`
	Frame    int32    `json:"frame"`
	Time     float64  `json:"timestamp"`
}

// Path is the tracked lifecycle of one contact. Values handed out by the
// tracker are copies; mutating them does not affect tracking.
type Path struct {
	ID         int32
	Generation uint64
	State      PathState

	milestones [4]Snapshot
	recorded   [4]bool
}

// milestone index for a reached state.
func slot(s PathState) int { return int(s) - 1 }

func (p Path) get(s PathState) (Snapshot, bool) {
	i := slot(s)
	return p.milestones[i], p.recorded[i]
}

// Make returns the snapshot taken at the first MakeTouch sighting.
func (p Path) Make() (Snapshot, bool) { return p.get(Made) }

// Touchdown returns the snapshot taken at the first Touching sighting.
func (p Path) Touchdown() (Snapshot, bool) { return p.get(Touchdown) }

// Break returns the snapshot taken at the first BreakTouch sighting.
func (p Path) Break() (Snapshot, bool) { return p.get(Broken) }

// Liftoff returns the snapshot taken at the terminal OutOfRange sighting.
func (p Path) Liftoff() (Snapshot, bool) { return p.get(LiftedOff) }

// Active reports whether the path is between make and liftoff.
func (p Path) Active() bool {
	return p.State >= Made && p.State < LiftedOff
}

// Milestone returns the snapshot recorded when the path reached s.
func (p Path) Milestone(s PathState) (Snapshot, bool) {
	if s < Made || s > LiftedOff {
		return Snapshot{}, false
	}
	return p.get(s)
}
