// Package dispatch delivers per-frame touch batches and per-path lifecycle
// events to the subscribers registered against one device.
//
// Registration is idempotent and may race with delivery: the subscriber set
// is copied under a lock and the copy is iterated without it, so a
// subscriber may unregister itself from inside its own callback. A
// subscriber that returns an error or panics is reported to the error hook
// and the remaining subscribers still receive the event.
package dispatch

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/banshee-data/touchbridge/internal/monitoring"
	"github.com/banshee-data/touchbridge/internal/touch/device"
	"github.com/banshee-data/touchbridge/internal/touch/l1records"
	"github.com/banshee-data/touchbridge/internal/touch/l3paths"
)

var (
	ErrNilSubscriber      = errors.New("dispatch: nil subscriber")
	ErrUncomparableHandle = errors.New("dispatch: subscriber type is not comparable; register a pointer")
)

// Frame is one decoded frame as seen by a frame subscriber.
type Frame struct {
	Device    device.Device
	Touches   []l1records.Touch
	Count     int
	Timestamp float64
	Index     int32
}

// FrameSubscriber receives every frame of a device.
type FrameSubscriber interface {
	OnFrame(Frame) error
}

// PathEvent is one milestone transition of a path.
type PathEvent struct {
	Device   device.Device
	PathID   int32
	State    l3paths.PathState
	Snapshot l3paths.Path
}

// PathSubscriber receives every path lifecycle event of a device.
type PathSubscriber interface {
	OnPathEvent(PathEvent) error
}

type frameFunc struct{ fn func(Frame) error }

func (f *frameFunc) OnFrame(fr Frame) error { return f.fn(fr) }

// FrameFunc wraps fn as a FrameSubscriber. Each call returns a distinct
// registration handle; keep it to unregister later.
func FrameFunc(fn func(Frame) error) FrameSubscriber { return &frameFunc{fn: fn} }

type pathFunc struct{ fn func(PathEvent) error }

func (f *pathFunc) OnPathEvent(ev PathEvent) error { return f.fn(ev) }

// PathFunc wraps fn as a PathSubscriber. Each call returns a distinct
// registration handle.
func PathFunc(fn func(PathEvent) error) PathSubscriber { return &pathFunc{fn: fn} }

// ErrorHook receives subscriber failures.
type ErrorHook func(dev device.Device, err error)

func reportFailure(dev device.Device, err error) {
	monitoring.Report(monitoring.SubscriberFailure, "dispatch: device %s: %v", dev, err)
}

// Option configures a dispatcher.
type Option func(*options)

type options struct {
	onError ErrorHook
}

// WithErrorHook routes subscriber failures to h instead of the monitoring log.
func WithErrorHook(h ErrorHook) Option {
	return func(o *options) { o.onError = h }
}

func buildOptions(opts []Option) options {
	o := options{onError: reportFailure}
	for _, opt := range opts {
		opt(&o)
	}
	if o.onError == nil {
		o.onError = reportFailure
	}
	return o
}

// subscribers is an ordered set of comparable subscriber handles.
type subscribers[S comparable] struct {
	mu   sync.Mutex
	list []S
}

func checkHandle(sub any) error {
	if sub == nil {
		return ErrNilSubscriber
	}
	if !reflect.TypeOf(sub).Comparable() {
		return ErrUncomparableHandle
	}
	return nil
}

func (s *subscribers[S]) add(sub S) (bool, error) {
	if err := checkHandle(sub); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.list, sub) {
		return false, nil
	}
	s.list = append(s.list, sub)
	return true, nil
}

func (s *subscribers[S]) remove(sub S) bool {
	if checkHandle(sub) != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.Index(s.list, sub)
	if i < 0 {
		return false
	}
	s.list = slices.Delete(s.list, i, i+1)
	return true
}

func (s *subscribers[S]) snapshot() []S {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.list)
}

func (s *subscribers[S]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.list)
}

// deliver calls fn and converts a panic into an error.
func deliver(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return fn()
}

// FrameDispatcher fans frames out to the frame subscribers of one device.
type FrameDispatcher struct {
	dev  device.Device
	subs subscribers[FrameSubscriber]
	opts options
}

// NewFrameDispatcher returns an empty dispatcher for dev.
func NewFrameDispatcher(dev device.Device, opts ...Option) *FrameDispatcher {
	return &FrameDispatcher{dev: dev, opts: buildOptions(opts)}
}

// Register adds sub. It reports whether sub was newly added; registering a
// subscriber twice is a no-op.
func (d *FrameDispatcher) Register(sub FrameSubscriber) (bool, error) {
	return d.subs.add(sub)
}

// Unregister removes sub. It reports whether sub was registered.
func (d *FrameDispatcher) Unregister(sub FrameSubscriber) bool {
	return d.subs.remove(sub)
}

// Len returns the number of registered subscribers.
func (d *FrameDispatcher) Len() int { return d.subs.len() }

// Dispatch delivers f to every registered subscriber and returns how many
// accepted it without error. Each subscriber gets its own copy of the
// touch slice.
func (d *FrameDispatcher) Dispatch(f Frame) int {
	f.Device = d.dev
	ok := 0
	for _, sub := range d.subs.snapshot() {
		fr := f
		fr.Touches = slices.Clone(f.Touches)
		if err := deliver(func() error { return sub.OnFrame(fr) }); err != nil {
			d.opts.onError(d.dev, fmt.Errorf("frame %d: %w", f.Index, err))
			continue
		}
		ok++
	}
	return ok
}

// PathDispatcher fans path lifecycle events out to the path subscribers of
// one device.
type PathDispatcher struct {
	dev  device.Device
	subs subscribers[PathSubscriber]
	opts options
}

// NewPathDispatcher returns an empty dispatcher for dev.
func NewPathDispatcher(dev device.Device, opts ...Option) *PathDispatcher {
	return &PathDispatcher{dev: dev, opts: buildOptions(opts)}
}

// Register adds sub. Registering a subscriber twice is a no-op.
func (d *PathDispatcher) Register(sub PathSubscriber) (bool, error) {
	return d.subs.add(sub)
}

// Unregister removes sub. It reports whether sub was registered.
func (d *PathDispatcher) Unregister(sub PathSubscriber) bool {
	return d.subs.remove(sub)
}

// Len returns the number of registered subscribers.
func (d *PathDispatcher) Len() int { return d.subs.len() }

// Dispatch delivers ev to every registered subscriber and returns how many
// accepted it without error.
func (d *PathDispatcher) Dispatch(ev PathEvent) int {
	ev.Device = d.dev
	ok := 0
	for _, sub := range d.subs.snapshot() {
		if err := deliver(func() error { return sub.OnPathEvent(ev) }); err != nil {
			d.opts.onError(d.dev, fmt.Errorf("path %d %s: %w", ev.PathID, ev.State, err))
			continue
		}
		ok++
	}
	return ok
}
