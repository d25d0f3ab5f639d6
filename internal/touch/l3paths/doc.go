// Package l3paths owns Layer 3 (Paths) of the touch data model.
//
// Responsibilities: long-lived per-finger path records that capture the
// make, touchdown, break and liftoff milestones of a contact, and the
// lifecycle events emitted when a milestone is first reached.
// Key types: Tracker, Path, Snapshot, Event.
//
// Dependency rule: L3 may depend on L1-L2, but never on the dispatchers.
package l3paths
