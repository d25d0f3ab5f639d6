// Package device describes the opaque sensor handles that frame sources hand
// to the touch pipeline.
//
// A Device is only a correlation key. The pipeline never opens, starts or
// releases hardware; the source that produced the handle owns its lifecycle.
package device

import (
	"fmt"
	"sync/atomic"
)

// Device identifies one physical multi-touch sensor.
type Device struct {
	ID      string
	BuiltIn bool
}

// IsBuiltIn reports whether the registry classified the sensor as built in.
func (d Device) IsBuiltIn() bool { return d.BuiltIn }

func (d Device) String() string {
	if d.BuiltIn {
		return fmt.Sprintf("%s (built-in)", d.ID)
	}
	return d.ID
}

// State is the running/stopped lifecycle of a device, controlled by its source.
type State int32

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Lifecycle tracks the run state of a device for the source that owns it.
// It is safe for concurrent use.
type Lifecycle struct {
	state atomic.Int32
}

// Start marks the device running. It returns false if it was already running.
func (l *Lifecycle) Start() bool {
	return l.state.CompareAndSwap(int32(Stopped), int32(Running))
}

// Stop marks the device stopped. It returns false if it was already stopped.
func (l *Lifecycle) Stop() bool {
	return l.state.CompareAndSwap(int32(Running), int32(Stopped))
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() State {
	return State(l.state.Load())
}
