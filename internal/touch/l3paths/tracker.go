package l3paths

import (
	"github.com/banshee-data/touchbridge/internal/touch/l1records"
	"github.com/banshee-data/touchbridge/internal/touch/l2contacts"
)

// Surface converts normalized sensor coordinates into the coordinate system
// agreed with consumers.
type Surface struct {
	Width  float32
	Height float32
}

// UnitSurface keeps centroids in normalized units.
var UnitSurface = Surface{Width: 1, Height: 1}

// Centroid scales a touch's normalized position onto the surface.
func (s Surface) Centroid(t l1records.Touch) Centroid {
	return Centroid{X: t.X * s.Width, Y: t.Y * s.Height}
}

// Event is one realized milestone transition.
type Event struct {
	PathID int32
	State  PathState
	Path   Path // copy taken at the transition
}

// next maps a path state to the record state that advances it and the
// state it advances to.
var next = map[PathState]struct {
	on l1records.State
	to PathState
}{
	Uninitialized: {l1records.MakeTouch, Made},
	Made:          {l1records.Touching, Touchdown},
	Touchdown:     {l1records.BreakTouch, Broken},
	Broken:        {l1records.OutOfRange, LiftedOff},
}

// Tracker holds the paths of one device. It is driven by the changes that
// the contact state machine reports and is not safe for concurrent use.
type Tracker struct {
	surface    Surface
	paths      map[int32]*Path
	generation uint64
}

// NewTracker returns a tracker that reports centroids on surface. A zero
// surface falls back to UnitSurface.
func NewTracker(surface Surface) *Tracker {
	if surface.Width <= 0 || surface.Height <= 0 {
		surface = UnitSurface
	}
	return &Tracker{surface: surface, paths: make(map[int32]*Path)}
}

// finalChanges keeps the last change per identifier, at the position of that
// last change. A contact created earlier in the frame stays Created.
func finalChanges(changes []l2contacts.Change) []l2contacts.Change {
	last := make(map[int32]int, len(changes))
	created := make(map[int32]bool)
	for i, ch := range changes {
		last[ch.Contact.ID] = i
		if ch.Created {
			created[ch.Contact.ID] = true
		}
	}
	if len(last) == len(changes) {
		return changes
	}
	out := make([]l2contacts.Change, 0, len(last))
	for i, ch := range changes {
		if last[ch.Contact.ID] != i {
			continue
		}
		ch.Created = created[ch.Contact.ID]
		out = append(out, ch)
	}
	return out
}

// Observe applies one frame of contact changes and then discards the paths
// of evicted contacts. Only the final record for each identifier in the
// frame can advance its path. It returns the milestone events realized this
// frame in change order.
func (t *Tracker) Observe(changes []l2contacts.Change, evicted []int32) []Event {
	var events []Event
	for _, ch := range finalChanges(changes) {
		id := ch.Contact.ID
		p, ok := t.paths[id]
		if !ok || ch.Created {
			t.generation++
			p = &Path{ID: id, Generation: t.generation}
			t.paths[id] = p
		}

		step, ok := next[p.State]
		if !ok || ch.Contact.State != step.on {
			continue
		}

		rec := ch.Contact.Last
		p.State = step.to
		i := slot(step.to)
		p.milestones[i] = Snapshot{
			Centroid: t.surface.Centroid(rec),
			Active:   step.to != LiftedOff,
			Frame:    rec.Frame,
			Time:     rec.Timestamp,
		}
		p.recorded[i] = true
		events = append(events, Event{PathID: id, State: step.to, Path: *p})
	}

	for _, id := range evicted {
		delete(t.paths, id)
	}
	return events
}

// Path returns a copy of the live path for a contact identifier.
func (t *Tracker) Path(id int32) (Path, bool) {
	p, ok := t.paths[id]
	if !ok {
		return Path{}, false
	}
	return *p, true
}

// Len returns the number of live paths.
func (t *Tracker) Len() int { return len(t.paths) }
