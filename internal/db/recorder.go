package db

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/touchbridge/internal/monitoring"
	"github.com/banshee-data/touchbridge/internal/touch/dispatch"
	"github.com/banshee-data/touchbridge/internal/touch/l3paths"
)

var (
	ErrRecorderFull    = errors.New("db: path recorder queue full")
	ErrRecorderStopped = errors.New("db: path recorder stopped")
)

// Session is one recording run. Every milestone row belongs to a session.
type Session struct {
	ID        uuid.UUID `json:"session_id"`
	Note      string    `json:"note"`
	StartedAt time.Time `json:"started_at"`
}

// Milestone is one path_milestones row.
type Milestone struct {
	Session    uuid.UUID        `json:"session_id"`
	Device     string           `json:"device_id"`
	BuiltIn    bool             `json:"built_in"`
	PathID     int32            `json:"path_id"`
	Generation uint64           `json:"generation"`
	State      string           `json:"milestone"`
	Centroid   l3paths.Centroid `json:"centroid"`
	Active     bool             `json:"active"`
	Frame      int32            `json:"frame"`
	SensorTime float64          `json:"sensor_time"`
}

// MilestoneFromEvent flattens a path event into a row for session.
func MilestoneFromEvent(session uuid.UUID, ev dispatch.PathEvent) (Milestone, error) {
	snap, ok := ev.Snapshot.Milestone(ev.State)
	if !ok {
		return Milestone{}, fmt.Errorf("path %d has no %s snapshot", ev.PathID, ev.State)
	}
	return Milestone{
		Session:    session,
		Device:     ev.Device.ID,
		BuiltIn:    ev.Device.IsBuiltIn(),
		PathID:     ev.PathID,
		Generation: ev.Snapshot.Generation,
		State:      ev.State.String(),
		Centroid:   snap.Centroid,
		Active:     snap.Active,
		Frame:      snap.Frame,
		SensorTime: snap.Time,
	}, nil
}

// StartSession creates a new session row.
func (db *DB) StartSession(note string) (Session, error) {
	s := Session{ID: uuid.New(), Note: note, StartedAt: time.Now().UTC()}
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, note, started_at) VALUES (?, ?, ?)`,
		s.ID.String(), s.Note, s.StartedAt,
	)
	if err != nil {
		return Session{}, fmt.Errorf("failed to start session: %w", err)
	}
	return s, nil
}

// Sessions lists recorded sessions, newest first.
func (db *DB) Sessions() ([]Session, error) {
	rows, err := db.Query(`SELECT session_id, note, started_at FROM sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			s  Session
			id string
		)
		if err := rows.Scan(&id, &s.Note, &s.StartedAt); err != nil {
			return nil, err
		}
		if s.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("bad session id %q: %w", id, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// InsertMilestone writes one row.
func (db *DB) InsertMilestone(m Milestone) error {
	_, err := db.Exec(
		`INSERT INTO path_milestones (
			session_id, device_id, built_in, path_id, generation, milestone,
			centroid_x, centroid_y, active, frame, sensor_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Session.String(), m.Device, m.BuiltIn, m.PathID, int64(m.Generation), m.State,
		m.Centroid.X, m.Centroid.Y, m.Active, m.Frame, m.SensorTime,
	)
	return err
}

// Milestones returns every row recorded for session in insertion order.
func (db *DB) Milestones(session uuid.UUID) ([]Milestone, error) {
	rows, err := db.Query(
		`SELECT device_id, built_in, path_id, generation, milestone,
			centroid_x, centroid_y, active, frame, sensor_time
		FROM path_milestones
		WHERE session_id = ?
		ORDER BY milestone_id`,
		session.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Milestone
	for rows.Next() {
		m := Milestone{Session: session}
		var generation int64
		if err := rows.Scan(
			&m.Device, &m.BuiltIn, &m.PathID, &generation, &m.State,
			&m.Centroid.X, &m.Centroid.Y, &m.Active, &m.Frame, &m.SensorTime,
		); err != nil {
			return nil, err
		}
		m.Generation = uint64(generation)
		out = append(out, m)
	}
	return out, rows.Err()
}

// PathRecorder is a path subscriber that persists milestones. OnPathEvent
// only enqueues so the device goroutine never waits on sqlite; Run does the
// writes.
type PathRecorder struct {
	db      *DB
	session Session
	queue   chan Milestone
	done    chan struct{}
	block   atomic.Bool

	written atomic.Uint64
	dropped atomic.Uint64
}

// NewPathRecorder starts a session and returns a recorder buffering up to
// queue rows.
func (db *DB) NewPathRecorder(note string, queue int) (*PathRecorder, error) {
	if queue < 1 {
		queue = 1
	}
	s, err := db.StartSession(note)
	if err != nil {
		return nil, err
	}
	return &PathRecorder{
		db:      db,
		session: s,
		queue:   make(chan Milestone, queue),
		done:    make(chan struct{}),
	}, nil
}

func (r *PathRecorder) Session() Session { return r.session }

// Written is the number of rows committed.
func (r *PathRecorder) Written() uint64 { return r.written.Load() }

// Dropped is the number of events refused because the queue was full or
// the writer had stopped.
func (r *PathRecorder) Dropped() uint64 { return r.dropped.Load() }

// SetBlocking makes OnPathEvent wait for queue space instead of refusing the
// event. Offline sources that ingest faster than sqlite writes use it; once
// Run has returned, events are refused again.
func (r *PathRecorder) SetBlocking(block bool) { r.block.Store(block) }

// OnPathEvent implements dispatch.PathSubscriber.
func (r *PathRecorder) OnPathEvent(ev dispatch.PathEvent) error {
	m, err := MilestoneFromEvent(r.session.ID, ev)
	if err != nil {
		return err
	}
	if r.block.Load() {
		select {
		case <-r.done:
			r.dropped.Add(1)
			return ErrRecorderStopped
		default:
		}
		select {
		case r.queue <- m:
			return nil
		case <-r.done:
			r.dropped.Add(1)
			return ErrRecorderStopped
		}
	}
	select {
	case r.queue <- m:
		return nil
	default:
		r.dropped.Add(1)
		return ErrRecorderFull
	}
}

// Run writes queued milestones until ctx is cancelled, then flushes what is
// left in the queue.
func (r *PathRecorder) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case m := <-r.queue:
			r.write(m)
		case <-ctx.Done():
			for {
				select {
				case m := <-r.queue:
					r.write(m)
				default:
					return
				}
			}
		}
	}
}

func (r *PathRecorder) write(m Milestone) {
	if err := r.db.InsertMilestone(m); err != nil {
		monitoring.Logf("db: path %d %s not recorded: %v", m.PathID, m.State, err)
		return
	}
	r.written.Add(1)
}
