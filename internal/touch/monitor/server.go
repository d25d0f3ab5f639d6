// Package monitor serves live views of the touch pipeline on the tsweb
// /debug/ mux: an SSE tail of frames, rolling frame statistics with a chart
// and the most recent path milestones.
package monitor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"tailscale.com/tsweb"

	"github.com/banshee-data/touchbridge/internal/httputil"
	"github.com/banshee-data/touchbridge/internal/monitoring"
	"github.com/banshee-data/touchbridge/internal/touch/device"
	"github.com/banshee-data/touchbridge/internal/touch/dispatch"
	"github.com/banshee-data/touchbridge/internal/touch/l3paths"
	"github.com/banshee-data/touchbridge/internal/touch/stats"
)

// tailBuffer is the per-subscriber backlog before frames are dropped.
const tailBuffer = 32

// TouchView is the JSON form of one touch record.
type TouchView struct {
	ID       int32   `json:"id"`
	State    string  `json:"state"`
	Finger   int32   `json:"finger"`
	Hand     int32   `json:"hand"`
	X        float32 `json:"x"`
	Y        float32 `json:"y"`
	Size     float32 `json:"size"`
	Angle    float32 `json:"angle"`
	Pressure float32 `json:"pressure"`
}

// FrameView is the JSON form of one frame on the tail.
type FrameView struct {
	Device    string      `json:"device"`
	Frame     int32       `json:"frame"`
	Timestamp float64     `json:"timestamp"`
	Touches   []TouchView `json:"touches"`
}

// PathView is one entry of the recent path history.
type PathView struct {
	Device     string           `json:"device"`
	PathID     int32            `json:"path_id"`
	Generation uint64           `json:"generation"`
	State      string           `json:"milestone"`
	Snapshot   l3paths.Snapshot `json:"snapshot"`
}

// StatsView is the touch-stats response.
type StatsView struct {
	Devices   map[string]stats.Summary  `json:"devices"`
	Anomalies []monitoring.AnomalyCount `json:"anomalies"`
	TailDrops uint64                    `json:"tail_drops"`
}

func newFrameView(f dispatch.Frame) FrameView {
	v := FrameView{
		Device:    f.Device.ID,
		Frame:     f.Index,
		Timestamp: f.Timestamp,
		Touches:   make([]TouchView, 0, len(f.Touches)),
	}
	for _, t := range f.Touches {
		v.Touches = append(v.Touches, TouchView{
			ID:       t.Identifier,
			State:    t.State.String(),
			Finger:   t.FingerID,
			Hand:     t.HandID,
			X:        t.X,
			Y:        t.Y,
			Size:     t.Size,
			Angle:    t.Angle,
			Pressure: t.Pressure,
		})
	}
	return v
}

// Server is a frame and path subscriber that backs the debug routes. One
// Server may watch several devices.
type Server struct {
	history int

	subscriberMu sync.Mutex
	subscribers  map[string]chan FrameView
	drops        atomic.Uint64

	pathsMu sync.Mutex
	paths   []PathView

	statsMu sync.Mutex
	stats   map[string]*stats.FrameStats
}

// NewServer keeps up to history recent path milestones.
func NewServer(history int) *Server {
	if history < 1 {
		history = 1
	}
	return &Server{
		history:     history,
		subscribers: make(map[string]chan FrameView),
		stats:       make(map[string]*stats.FrameStats),
	}
}

// Registrar is the part of the bridge the server subscribes through.
type Registrar interface {
	RegisterFrameSubscriber(device.Device, dispatch.FrameSubscriber) error
	RegisterPathSubscriber(device.Device, dispatch.PathSubscriber) error
}

// Watch subscribes the server to dev. fs, if non-nil, is reported under
// touch-stats for dev.
func (s *Server) Watch(r Registrar, dev device.Device, fs *stats.FrameStats) error {
	if err := r.RegisterFrameSubscriber(dev, s); err != nil {
		return err
	}
	if err := r.RegisterPathSubscriber(dev, s); err != nil {
		return err
	}
	if fs != nil {
		s.statsMu.Lock()
		s.stats[dev.ID] = fs
		s.statsMu.Unlock()
	}
	return nil
}

// Subscribe creates a channel receiving every frame seen by the server. The
// ID is used to unsubscribe.
func (s *Server) Subscribe() (string, chan FrameView) {
	id := uuid.NewString()
	ch := make(chan FrameView, tailBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a tail channel.
func (s *Server) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Close closes every tail channel.
func (s *Server) Close() {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Drops is the number of frames skipped because a tail subscriber was behind.
func (s *Server) Drops() uint64 { return s.drops.Load() }

// OnFrame implements dispatch.FrameSubscriber. It never blocks on a slow
// tail reader.
func (s *Server) OnFrame(f dispatch.Frame) error {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if len(s.subscribers) == 0 {
		return nil
	}
	v := newFrameView(f)
	for _, ch := range s.subscribers {
		select {
		case ch <- v:
		default:
			s.drops.Add(1)
		}
	}
	return nil
}

// OnPathEvent implements dispatch.PathSubscriber.
func (s *Server) OnPathEvent(ev dispatch.PathEvent) error {
	snap, ok := ev.Snapshot.Milestone(ev.State)
	if !ok {
		return fmt.Errorf("path %d has no %s snapshot", ev.PathID, ev.State)
	}
	s.pathsMu.Lock()
	defer s.pathsMu.Unlock()
	if len(s.paths) == s.history {
		copy(s.paths, s.paths[1:])
		s.paths = s.paths[:len(s.paths)-1]
	}
	s.paths = append(s.paths, PathView{
		Device:     ev.Device.ID,
		PathID:     ev.PathID,
		Generation: ev.Snapshot.Generation,
		State:      ev.State.String(),
		Snapshot:   snap,
	})
	return nil
}

// RecentPaths returns the retained milestones, oldest first.
func (s *Server) RecentPaths() []PathView {
	s.pathsMu.Lock()
	defer s.pathsMu.Unlock()
	return append([]PathView(nil), s.paths...)
}

// Stats returns the current touch-stats view.
func (s *Server) Stats() StatsView {
	v := StatsView{
		Devices:   make(map[string]stats.Summary),
		Anomalies: monitoring.Snapshot(),
		TailDrops: s.drops.Load(),
	}
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	for id, fs := range s.stats {
		v.Devices[id] = fs.Summary()
	}
	return v
}

// AttachAdminRoutes attaches the touch debug endpoints to the /debug/ mux.
// These routes are accessible only over localhost or Tailscale.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("touch-stats", "Frame rate, contact counts and anomaly counters", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, s.Stats())
	})

	debug.HandleFunc("touch-stats-chart", "Chart of the frame statistics window (?device=)", s.handleStatsChart)

	debug.HandleFunc("touch-paths", "Most recent path milestones", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, s.RecentPaths())
	})

	// Server-Sent Events stream of decoded frames.
	debug.HandleSilentFunc("touch-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case frame, ok := <-c:
				if !ok {
					return
				}
				payload, err := json.Marshal(frame)
				if err != nil {
					monitoring.Logf("monitor: encode frame %d: %v", frame.Frame, err)
					continue
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
