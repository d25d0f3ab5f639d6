package l2contacts

import (
	"sort"

	"github.com/banshee-data/touchbridge/internal/monitoring"
	"github.com/banshee-data/touchbridge/internal/touch/l1records"
)

// Contact is the last-known state of one physical contact.
type Contact struct {
	ID           int32
	State        l1records.State
	Last         l1records.Touch
	CreatedFrame int32
}

// Change describes one record applied to the contact map.
type Change struct {
	Contact  Contact         // state after the record was applied
	Previous l1records.State // NotTracking when Created
	Created  bool
}

// Machine maps contact identifiers to contact state for a single device.
type Machine struct {
	contacts  map[int32]*Contact
	lastFrame int32
	seenFrame bool
}

// NewMachine returns an empty contact state machine.
func NewMachine() *Machine {
	return &Machine{contacts: make(map[int32]*Contact)}
}

// Apply processes one frame of records in input order and returns the
// changes it applied plus the identifiers evicted at the end of the frame.
//
// A record for an unseen identifier in NotTracking is ignored. Records with
// an unknown lifecycle value are skipped and reported. When an identifier
// repeats within the frame, the later record wins, and the contact is
// evicted only if its final state for the frame is OutOfRange.
func (m *Machine) Apply(frame int32, touches []l1records.Touch) ([]Change, []int32) {
	if m.seenFrame && frame < m.lastFrame {
		monitoring.Report(monitoring.FrameRegression, "contacts: frame %d arrived after frame %d", frame, m.lastFrame)
	}
	m.lastFrame = frame
	m.seenFrame = true

	if len(touches) == 0 {
		return nil, nil
	}

	changes := make([]Change, 0, len(touches))
	var pending []int32
	for _, t := range touches {
		if !t.State.Valid() {
			monitoring.Report(monitoring.SkippedRecord, "contacts: frame %d contact %d has unknown state %d", frame, t.Identifier, int32(t.State))
			continue
		}

		c, ok := m.contacts[t.Identifier]
		if !ok {
			if t.State == l1records.NotTracking {
				continue
			}
			c = &Contact{ID: t.Identifier, State: t.State, Last: t, CreatedFrame: frame}
			m.contacts[t.Identifier] = c
			changes = append(changes, Change{Contact: *c, Previous: l1records.NotTracking, Created: true})
		} else {
			prev := c.State
			c.State = t.State
			c.Last = t
			changes = append(changes, Change{Contact: *c, Previous: prev})
		}

		if t.State == l1records.OutOfRange {
			pending = append(pending, t.Identifier)
		}
	}

	var evicted []int32
	for _, id := range pending {
		c, ok := m.contacts[id]
		if !ok || c.State != l1records.OutOfRange {
			continue
		}
		delete(m.contacts, id)
		evicted = append(evicted, id)
	}
	return changes, evicted
}

// Contact returns a copy of the contact state for id.
func (m *Machine) Contact(id int32) (Contact, bool) {
	c, ok := m.contacts[id]
	if !ok {
		return Contact{}, false
	}
	return *c, true
}

// Contacts returns copies of all live contacts ordered by identifier.
func (m *Machine) Contacts() []Contact {
	out := make([]Contact, 0, len(m.contacts))
	for _, c := range m.contacts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of live contacts.
func (m *Machine) Len() int { return len(m.contacts) }
