// Package monitoring is the diagnostic channel for the touch pipeline: a
// replaceable log hook plus counters for anomalies that are reported but
// never returned to the frame source.
package monitoring

import (
	"log"
	"sort"
	"sync"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Anomaly kinds counted by the pipeline.
const (
	DecodeError       = "decode_error"
	SkippedRecord     = "skipped_record"
	FrameRegression   = "frame_regression"
	SubscriberFailure = "subscriber_failure"
)

var (
	countsMu sync.Mutex
	counts   = make(map[string]uint64)
)

// Report counts one anomaly of the given kind and logs it.
func Report(kind, format string, v ...interface{}) {
	countsMu.Lock()
	counts[kind]++
	countsMu.Unlock()
	Logf("["+kind+"] "+format, v...)
}

// Count returns how many anomalies of kind were reported.
func Count(kind string) uint64 {
	countsMu.Lock()
	defer countsMu.Unlock()
	return counts[kind]
}

// AnomalyCount is one entry of Snapshot.
type AnomalyCount struct {
	Kind  string `json:"kind"`
	Count uint64 `json:"count"`
}

// Snapshot returns all anomaly counters sorted by kind.
func Snapshot() []AnomalyCount {
	countsMu.Lock()
	out := make([]AnomalyCount, 0, len(counts))
	for k, c := range counts {
		out = append(out, AnomalyCount{Kind: k, Count: c})
	}
	countsMu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// ResetCounts clears all anomaly counters.
func ResetCounts() {
	countsMu.Lock()
	counts = make(map[string]uint64)
	countsMu.Unlock()
}
