package pipeline

import (
	"fmt"

	"github.com/banshee-data/touchbridge/internal/monitoring"
	"github.com/banshee-data/touchbridge/internal/touch/device"
	"github.com/banshee-data/touchbridge/internal/touch/dispatch"
	"github.com/banshee-data/touchbridge/internal/touch/l1records"
	"github.com/banshee-data/touchbridge/internal/touch/l2contacts"
	"github.com/banshee-data/touchbridge/internal/touch/l3paths"
)

// StreamConfig holds per-device processing options.
type StreamConfig struct {
	Surface l3paths.Surface
	Options []dispatch.Option
}

// Stream owns the contact and path state of one device and its subscriber
// sets. Ingest must be called sequentially for a given stream; registration
// may happen concurrently from any goroutine.
type Stream struct {
	dev      device.Device
	contacts *l2contacts.Machine
	paths    *l3paths.Tracker
	frames   *dispatch.FrameDispatcher
	events   *dispatch.PathDispatcher
}

// NewStream returns a stream for dev.
func NewStream(dev device.Device, cfg StreamConfig) *Stream {
	return &Stream{
		dev:      dev,
		contacts: l2contacts.NewMachine(),
		paths:    l3paths.NewTracker(cfg.Surface),
		frames:   dispatch.NewFrameDispatcher(dev, cfg.Options...),
		events:   dispatch.NewPathDispatcher(dev, cfg.Options...),
	}
}

// Device returns the handle this stream serves.
func (s *Stream) Device() device.Device { return s.dev }

// Frames returns the frame subscriber set.
func (s *Stream) Frames() *dispatch.FrameDispatcher { return s.frames }

// PathEvents returns the path subscriber set.
func (s *Stream) PathEvents() *dispatch.PathDispatcher { return s.events }

// Ingest decodes one raw frame and processes it. A decode error is returned
// before any state changes or deliveries.
func (s *Stream) Ingest(buf []byte, count int, timestamp float64, frame int32) error {
	touches, err := l1records.Decode(buf, count)
	if err != nil {
		monitoring.Report(monitoring.DecodeError, "pipeline: device %s frame %d dropped: %v", s.dev, frame, err)
		return fmt.Errorf("frame %d: %w", frame, err)
	}
	s.IngestTouches(touches, timestamp, frame)
	return nil
}

// IngestTouches processes one frame of already-decoded records. The frame
// batch is delivered first, then each milestone realized by the frame.
func (s *Stream) IngestTouches(touches []l1records.Touch, timestamp float64, frame int32) {
	changes, evicted := s.contacts.Apply(frame, touches)
	events := s.paths.Observe(changes, evicted)

	s.frames.Dispatch(dispatch.Frame{
		Touches:   touches,
		Count:     len(touches),
		Timestamp: timestamp,
		Index:     frame,
	})
	for _, ev := range events {
		s.events.Dispatch(dispatch.PathEvent{
			PathID:   ev.PathID,
			State:    ev.State,
			Snapshot: ev.Path,
		})
	}
}

// Contact returns the live contact state for id. Like Ingest it must be
// called from the device's processing goroutine.
func (s *Stream) Contact(id int32) (l2contacts.Contact, bool) {
	return s.contacts.Contact(id)
}

// Contacts returns all live contacts ordered by identifier.
func (s *Stream) Contacts() []l2contacts.Contact {
	return s.contacts.Contacts()
}

// Path returns a copy of the live path for a contact identifier.
func (s *Stream) Path(id int32) (l3paths.Path, bool) {
	return s.paths.Path(id)
}
