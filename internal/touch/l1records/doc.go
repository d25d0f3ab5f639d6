// Package l1records owns Layer 1 (Records) of the touch data model.
//
// Responsibilities: byte-exact decoding and encoding of the fixed-layout
// touch records that a multi-touch sensor reports for one frame, and the
// contact lifecycle enumeration carried in each record.
// Key types: Touch, State.
//
// Dependency rule: L1 depends on nothing else in internal/touch.
// Content plausibility is not checked here; that belongs to L2.
package l1records
