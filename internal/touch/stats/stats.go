// Package stats keeps rolling frame-rate and contact-count statistics for a
// device stream. FrameStats is a frame subscriber.
package stats

import (
	"context"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/touchbridge/internal/monitoring"
	"github.com/banshee-data/touchbridge/internal/timeutil"
	"github.com/banshee-data/touchbridge/internal/touch/dispatch"
	"github.com/banshee-data/touchbridge/internal/touch/l1records"
)

// Summary is a point-in-time view of a FrameStats window.
type Summary struct {
	Frames          uint64  `json:"frames"`
	Records         uint64  `json:"records"`
	MeanIntervalSec float64 `json:"mean_interval_sec"`
	StdIntervalSec  float64 `json:"std_interval_sec"`
	FrameRateHz     float64 `json:"frame_rate_hz"`
	MeanContacts    float64 `json:"mean_contacts"`
	MaxContacts     int     `json:"max_contacts"`
	Touching        int     `json:"touching"` // contacts touching in the latest frame
	LastFrame       int32   `json:"last_frame"`
}

// FrameStats records a bounded window of inter-frame intervals and contact
// counts. OnFrame runs on the device goroutine; Summary may be called from
// any goroutine.
type FrameStats struct {
	mu        sync.Mutex
	window    int
	intervals []float64
	contacts  []float64
	frames    uint64
	records   uint64
	lastTime  float64
	lastFrame int32
	touching  int
	maxSeen   int
}

// NewFrameStats keeps the last window frames. window is clamped to at least 2.
func NewFrameStats(window int) *FrameStats {
	if window < 2 {
		window = 2
	}
	return &FrameStats{window: window}
}

// OnFrame implements dispatch.FrameSubscriber.
func (s *FrameStats) OnFrame(f dispatch.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frames > 0 {
		if dt := f.Timestamp - s.lastTime; dt >= 0 {
			s.intervals = push(s.intervals, dt, s.window)
		}
	}
	s.contacts = push(s.contacts, float64(f.Count), s.window)
	s.frames++
	s.records += uint64(f.Count)
	s.lastTime = f.Timestamp
	s.lastFrame = f.Index
	if f.Count > s.maxSeen {
		s.maxSeen = f.Count
	}
	s.touching = 0
	for _, t := range f.Touches {
		switch t.State {
		case l1records.MakeTouch, l1records.Touching, l1records.BreakTouch:
			s.touching++
		}
	}
	return nil
}

func push(xs []float64, v float64, limit int) []float64 {
	xs = append(xs, v)
	if len(xs) > limit {
		xs = xs[len(xs)-limit:]
	}
	return xs
}

// Summary computes the statistics over the current window.
func (s *FrameStats) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{
		Frames:      s.frames,
		Records:     s.records,
		MaxContacts: s.maxSeen,
		Touching:    s.touching,
		LastFrame:   s.lastFrame,
	}
	if len(s.contacts) > 0 {
		sum.MeanContacts = stat.Mean(s.contacts, nil)
	}
	if len(s.intervals) > 0 {
		mean, std := stat.MeanStdDev(s.intervals, nil)
		sum.MeanIntervalSec = mean
		if !math.IsNaN(std) {
			sum.StdIntervalSec = std
		}
		if mean > 0 {
			sum.FrameRateHz = 1 / mean
		}
	}
	return sum
}

// Window returns copies of the retained inter-frame intervals and contact
// counts, oldest first. The interval window lags the contact window by one
// frame.
func (s *FrameStats) Window() (intervals, contacts []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.intervals...), append([]float64(nil), s.contacts...)
}

// LogEvery logs a summary on each tick of clock until ctx is cancelled. A
// nil clock uses the wall clock; a non-positive interval disables logging.
func (s *FrameStats) LogEvery(ctx context.Context, clock timeutil.Clock, interval time.Duration, label string) {
	if interval <= 0 {
		return
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			sum := s.Summary()
			monitoring.Logf("touch stats %s: frames=%d rate=%.1fHz jitter=%.4fs contacts(mean=%.2f max=%d touching=%d)",
				label, sum.Frames, sum.FrameRateHz, sum.StdIntervalSec, sum.MeanContacts, sum.MaxContacts, sum.Touching)
		}
	}
}
