// Package pipeline wires the touch layers into the per-device processing
// flow: decode (L1), contact state (L2), paths (L3), then frame and path
// delivery.
//
// A Stream is the device-scoped context; a Bridge is the handle table that
// maps device handles to their streams. The pipeline does not own domain
// logic; it delegates to the layer packages.
package pipeline
