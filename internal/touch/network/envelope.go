// Package network carries touch frames over UDP and replays them from
// packet captures.
package network

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/touchbridge/internal/touch/device"
	"github.com/banshee-data/touchbridge/internal/touch/l1records"
)

// Magic prefixes every frame datagram.
var Magic = [4]byte{'M', 'T', 'F', '1'}

// HeaderSize is the fixed datagram header: magic, frame index, record
// count and timestamp.
const HeaderSize = 20

var ErrBadDatagram = errors.New("malformed frame datagram")

// Datagram is one frame in transit. Records are left encoded; the count is
// checked against them by the record codec at ingestion.
type Datagram struct {
	Frame     int32
	Count     int32
	Timestamp float64
	Records   []byte
}

// ParseDatagram reads the envelope of b. Records aliases b.
func ParseDatagram(b []byte) (Datagram, error) {
	if len(b) < HeaderSize {
		return Datagram{}, fmt.Errorf("%w: %d bytes is shorter than the header", ErrBadDatagram, len(b))
	}
	if !bytes.Equal(b[:4], Magic[:]) {
		return Datagram{}, fmt.Errorf("%w: bad magic %q", ErrBadDatagram, b[:4])
	}
	le := binary.LittleEndian
	return Datagram{
		Frame:     int32(le.Uint32(b[4:])),
		Count:     int32(le.Uint32(b[8:])),
		Timestamp: math.Float64frombits(le.Uint64(b[12:])),
		Records:   b[HeaderSize:],
	}, nil
}

// AppendDatagram appends the envelope for one frame of touches to dst.
func AppendDatagram(dst []byte, frame int32, timestamp float64, touches []l1records.Touch) []byte {
	var h [HeaderSize]byte
	copy(h[:4], Magic[:])
	le := binary.LittleEndian
	le.PutUint32(h[4:], uint32(frame))
	le.PutUint32(h[8:], uint32(len(touches)))
	le.PutUint64(h[12:], math.Float64bits(timestamp))
	dst = append(dst, h[:]...)
	for i := range touches {
		dst = l1records.AppendTouch(dst, touches[i])
	}
	return dst
}

// Ingester accepts raw frames for a device. pipeline.Bridge implements it.
type Ingester interface {
	Ingest(dev device.Device, buf []byte, count int, timestamp float64, frame int32) error
}

// IngestDatagram parses b and hands the frame to in.
func IngestDatagram(in Ingester, dev device.Device, b []byte) error {
	d, err := ParseDatagram(b)
	if err != nil {
		return err
	}
	return in.Ingest(dev, d.Records, int(d.Count), d.Timestamp, d.Frame)
}
