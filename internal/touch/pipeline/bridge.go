package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/banshee-data/touchbridge/internal/touch/device"
	"github.com/banshee-data/touchbridge/internal/touch/dispatch"
	"github.com/banshee-data/touchbridge/internal/touch/l3paths"
)

// ErrUnknownDevice is returned for a device that has no open stream.
var ErrUnknownDevice = errors.New("pipeline: unknown device")

// Bridge maps device handles to their streams. Each device has its own
// stream and subscriber sets; nothing mutable is shared between devices
// beyond this table, which is guarded by a read/write lock.
type Bridge struct {
	cfg StreamConfig

	mu      sync.RWMutex
	streams map[device.Device]*Stream
}

// NewBridge returns an empty bridge whose streams use cfg.
func NewBridge(cfg StreamConfig) *Bridge {
	return &Bridge{cfg: cfg, streams: make(map[device.Device]*Stream)}
}

// Open returns the stream for dev, creating it on first use.
func (b *Bridge) Open(dev device.Device) *Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.streams[dev]; ok {
		return s
	}
	s := NewStream(dev, b.cfg)
	b.streams[dev] = s
	return s
}

// Close forgets the stream for dev together with its contacts, paths and
// subscribers. It reports whether a stream was open.
func (b *Bridge) Close(dev device.Device) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.streams[dev]
	delete(b.streams, dev)
	return ok
}

// Stream returns the open stream for dev.
func (b *Bridge) Stream(dev device.Device) (*Stream, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.streams[dev]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, dev)
	}
	return s, nil
}

// Devices returns the open devices ordered by ID.
func (b *Bridge) Devices() []device.Device {
	b.mu.RLock()
	out := make([]device.Device, 0, len(b.streams))
	for d := range b.streams {
		out = append(out, d)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Ingest is the frame-ingestion entry point for dev.
func (b *Bridge) Ingest(dev device.Device, buf []byte, count int, timestamp float64, frame int32) error {
	s, err := b.Stream(dev)
	if err != nil {
		return err
	}
	return s.Ingest(buf, count, timestamp, frame)
}

// RegisterFrameSubscriber adds sub to dev's frame subscribers. Registering
// the same subscriber twice is a no-op.
func (b *Bridge) RegisterFrameSubscriber(dev device.Device, sub dispatch.FrameSubscriber) error {
	s, err := b.Stream(dev)
	if err != nil {
		return err
	}
	_, err = s.frames.Register(sub)
	return err
}

// UnregisterFrameSubscriber removes sub from dev's frame subscribers.
// Removing a subscriber that is not registered is not an error.
func (b *Bridge) UnregisterFrameSubscriber(dev device.Device, sub dispatch.FrameSubscriber) error {
	s, err := b.Stream(dev)
	if err != nil {
		return err
	}
	s.frames.Unregister(sub)
	return nil
}

// RegisterPathSubscriber adds sub to dev's path subscribers.
func (b *Bridge) RegisterPathSubscriber(dev device.Device, sub dispatch.PathSubscriber) error {
	s, err := b.Stream(dev)
	if err != nil {
		return err
	}
	_, err = s.events.Register(sub)
	return err
}

// UnregisterPathSubscriber removes sub from dev's path subscribers.
func (b *Bridge) UnregisterPathSubscriber(dev device.Device, sub dispatch.PathSubscriber) error {
	s, err := b.Stream(dev)
	if err != nil {
		return err
	}
	s.events.Unregister(sub)
	return nil
}

// Path returns a copy of dev's live path for the contact identifier. It
// reads per-device state, so call it between frames of that device.
func (b *Bridge) Path(dev device.Device, id int32) (l3paths.Path, bool) {
	s, err := b.Stream(dev)
	if err != nil {
		return l3paths.Path{}, false
	}
	return s.Path(id)
}
