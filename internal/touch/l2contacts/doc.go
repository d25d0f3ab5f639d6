// Package l2contacts owns Layer 2 (Contacts) of the touch data model.
//
// Responsibilities: the per-device contact state machine. Each frame's
// decoded records create, overwrite or evict contact state keyed by the
// sensor's contact identifier.
// Key types: Machine, Contact, Change.
//
// Dependency rule: L2 may depend on L1, but never on L3+.
// A Machine is owned by one device stream and is not safe for concurrent use.
package l2contacts
