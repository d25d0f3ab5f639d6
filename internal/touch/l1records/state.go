package l1records

import "fmt"

// State is the per-record contact lifecycle value reported by the sensor.
type State int32

const (
	NotTracking   State = 0
	StartInRange  State = 1
	HoverInRange  State = 2
	MakeTouch     State = 3
	Touching      State = 4
	BreakTouch    State = 5
	LingerInRange State = 6
	OutOfRange    State = 7
)

var stateNames = [...]string{
	NotTracking:   "not_tracking",
	StartInRange:  "start_in_range",
	HoverInRange:  "hover_in_range",
	MakeTouch:     "make_touch",
	Touching:      "touching",
	BreakTouch:    "break_touch",
	LingerInRange: "linger_in_range",
	OutOfRange:    "out_of_range",
}

// Valid reports whether s is one of the known lifecycle values.
func (s State) Valid() bool {
	return s >= NotTracking && s <= OutOfRange
}

func (s State) String() string {
	if s.Valid() {
		return stateNames[s]
	}
	return fmt.Sprintf("unknown(%d)", int32(s))
}
