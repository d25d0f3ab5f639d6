package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/touchbridge/internal/monitoring"
	"github.com/banshee-data/touchbridge/internal/testutil"
	"github.com/banshee-data/touchbridge/internal/touch/device"
	"github.com/banshee-data/touchbridge/internal/touch/dispatch"
	"github.com/banshee-data/touchbridge/internal/touch/l1records"
	"github.com/banshee-data/touchbridge/internal/touch/l3paths"
)

type sink struct {
	mu     sync.Mutex
	frames []dispatch.Frame
	events []dispatch.PathEvent
}

func (s *sink) OnFrame(f dispatch.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func (s *sink) OnPathEvent(ev dispatch.PathEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *sink) states() []l3paths.PathState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]l3paths.PathState, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.State)
	}
	return out
}

func encode(frame int32, recs ...l1records.Touch) ([]byte, int) {
	for i := range recs {
		recs[i].Frame = frame
	}
	return l1records.Encode(recs), len(recs)
}

func one(id int32, s l1records.State) l1records.Touch {
	return l1records.Touch{Identifier: id, State: s, X: 0.5, Y: 0.25}
}

func openWithSink(t *testing.T, b *Bridge, dev device.Device) *sink {
	t.Helper()
	b.Open(dev)
	s := &sink{}
	require.NoError(t, b.RegisterFrameSubscriber(dev, s))
	require.NoError(t, b.RegisterPathSubscriber(dev, s))
	return s
}

func TestBridge_SingleFingerScenario(t *testing.T) {
	testutil.QuietLogs(t)
	dev := device.Device{ID: "trackpad", BuiltIn: true}
	b := NewBridge(StreamConfig{Surface: l3paths.Surface{Width: 200, Height: 100}})
	s := openWithSink(t, b, dev)
	stream, err := b.Stream(dev)
	require.NoError(t, err)

	steps := []struct {
		state l1records.State
		want  []l3paths.PathState
	}{
		{l1records.StartInRange, nil},
		{l1records.MakeTouch, []l3paths.PathState{l3paths.Made}},
		{l1records.Touching, []l3paths.PathState{l3paths.Made, l3paths.Touchdown}},
		{l1records.BreakTouch, []l3paths.PathState{l3paths.Made, l3paths.Touchdown, l3paths.Broken}},
		{l1records.OutOfRange, []l3paths.PathState{l3paths.Made, l3paths.Touchdown, l3paths.Broken, l3paths.LiftedOff}},
	}
	for i, step := range steps {
		frame := int32(i + 1)
		buf, n := encode(frame, one(5, step.state))
		require.NoError(t, b.Ingest(dev, buf, n, float64(frame)*0.01, frame))
		if step.want == nil {
			assert.Empty(t, s.states(), "frame %d", frame)
		} else {
			assert.Equal(t, step.want, s.states(), "frame %d", frame)
		}
		if frame == 1 {
			_, ok := stream.Contact(5)
			assert.True(t, ok, "contact 5 created on frame 1")
		}
	}

	assert.Len(t, s.frames, 5)
	_, ok := stream.Contact(5)
	assert.False(t, ok, "contact 5 evicted after frame 5")
	_, ok = b.Path(dev, 5)
	assert.False(t, ok)

	last := s.events[len(s.events)-1]
	assert.Equal(t, int32(5), last.PathID)
	assert.Equal(t, dev, last.Device)
	down, ok := last.Snapshot.Touchdown()
	require.True(t, ok)
	assert.Equal(t, l3paths.Centroid{X: 100, Y: 25}, down.Centroid)
}

func TestBridge_DecodeErrorMutatesNothing(t *testing.T) {
	testutil.QuietLogs(t)
	monitoring.ResetCounts()
	defer monitoring.ResetCounts()
	dev := device.Device{ID: "pad"}
	b := NewBridge(StreamConfig{})
	s := openWithSink(t, b, dev)

	buf, _ := encode(1, one(1, l1records.MakeTouch), one(2, l1records.MakeTouch))
	err := b.Ingest(dev, buf, 3, 0, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, l1records.ErrDecode))

	stream, _ := b.Stream(dev)
	assert.Empty(t, stream.Contacts())
	assert.Empty(t, s.frames)
	assert.Empty(t, s.events)
	assert.Equal(t, uint64(1), monitoring.Count(monitoring.DecodeError))

	// The next well-formed frame is processed normally.
	require.NoError(t, b.Ingest(dev, buf, 2, 0, 2))
	assert.Len(t, s.frames, 1)
	assert.Len(t, s.events, 2)
}

func TestBridge_FrameDeliveryCarriesBatch(t *testing.T) {
	testutil.QuietLogs(t)
	dev := device.Device{ID: "pad"}
	b := NewBridge(StreamConfig{})
	s := openWithSink(t, b, dev)

	buf, n := encode(42, one(1, l1records.Touching), one(2, l1records.HoverInRange))
	require.NoError(t, b.Ingest(dev, buf, n, 1.5, 42))

	require.Len(t, s.frames, 1)
	f := s.frames[0]
	assert.Equal(t, 2, f.Count)
	assert.Equal(t, int32(42), f.Index)
	assert.Equal(t, 1.5, f.Timestamp)
	assert.Equal(t, dev, f.Device)
	require.Len(t, f.Touches, 2)
	assert.Equal(t, int32(2), f.Touches[1].Identifier)
}

func TestBridge_EmptyFrameIsDelivered(t *testing.T) {
	testutil.QuietLogs(t)
	dev := device.Device{ID: "pad"}
	b := NewBridge(StreamConfig{})
	s := openWithSink(t, b, dev)

	require.NoError(t, b.Ingest(dev, nil, 0, 0, 1))
	require.Len(t, s.frames, 1)
	assert.Equal(t, 0, s.frames[0].Count)
}

func TestBridge_RegisterTwiceDeliversOnce(t *testing.T) {
	testutil.QuietLogs(t)
	dev := device.Device{ID: "pad"}
	b := NewBridge(StreamConfig{})
	s := openWithSink(t, b, dev)
	require.NoError(t, b.RegisterFrameSubscriber(dev, s))

	require.NoError(t, b.Ingest(dev, nil, 0, 0, 1))
	assert.Len(t, s.frames, 1)

	require.NoError(t, b.UnregisterFrameSubscriber(dev, s))
	require.NoError(t, b.UnregisterFrameSubscriber(dev, s))
	require.NoError(t, b.UnregisterPathSubscriber(dev, s))
	require.NoError(t, b.Ingest(dev, nil, 0, 0, 2))
	assert.Len(t, s.frames, 1)
}

func TestBridge_UnknownDevice(t *testing.T) {
	b := NewBridge(StreamConfig{})
	dev := device.Device{ID: "missing"}

	assert.ErrorIs(t, b.Ingest(dev, nil, 0, 0, 1), ErrUnknownDevice)
	assert.ErrorIs(t, b.RegisterFrameSubscriber(dev, &sink{}), ErrUnknownDevice)
	assert.ErrorIs(t, b.RegisterPathSubscriber(dev, &sink{}), ErrUnknownDevice)
	assert.ErrorIs(t, b.UnregisterFrameSubscriber(dev, &sink{}), ErrUnknownDevice)
	assert.ErrorIs(t, b.UnregisterPathSubscriber(dev, &sink{}), ErrUnknownDevice)
	_, ok := b.Path(dev, 1)
	assert.False(t, ok)
}

func TestBridge_OpenCloseDevices(t *testing.T) {
	b := NewBridge(StreamConfig{})
	a := device.Device{ID: "b-pad"}
	c := device.Device{ID: "a-pad", BuiltIn: true}

	s1 := b.Open(a)
	assert.Same(t, s1, b.Open(a), "Open is idempotent")
	b.Open(c)
	assert.Equal(t, []device.Device{c, a}, b.Devices())

	assert.True(t, b.Close(a))
	assert.False(t, b.Close(a))
	assert.Equal(t, []device.Device{c}, b.Devices())
}

func TestBridge_DevicesAreIndependent(t *testing.T) {
	testutil.QuietLogs(t)
	b := NewBridge(StreamConfig{})
	const devices = 4
	const frames = 50

	sinks := make([]*sink, devices)
	devs := make([]device.Device, devices)
	for i := range devs {
		devs[i] = device.Device{ID: fmt.Sprintf("pad-%d", i)}
		sinks[i] = openWithSink(t, b, devs[i])
	}

	var wg sync.WaitGroup
	for i := range devs {
		wg.Add(1)
		go func(dev device.Device) {
			defer wg.Done()
			for f := int32(1); f <= frames; f++ {
				state := l1records.Touching
				switch f {
				case 1:
					state = l1records.MakeTouch
				case frames - 1:
					state = l1records.BreakTouch
				case frames:
					state = l1records.OutOfRange
				}
				buf, n := encode(f, one(1, state))
				assert.NoError(t, b.Ingest(dev, buf, n, float64(f), f))
			}
		}(devs[i])
	}
	wg.Wait()

	for _, s := range sinks {
		assert.Len(t, s.frames, frames)
		assert.Equal(t, []l3paths.PathState{l3paths.Made, l3paths.Touchdown, l3paths.Broken, l3paths.LiftedOff}, s.states())
	}
}
