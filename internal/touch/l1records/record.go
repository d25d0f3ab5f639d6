package l1records

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// RecordSize is the size in bytes of one touch record on the wire. The layout
// follows the sensor's C struct with natural alignment: a 4-byte frame index,
// 4 bytes of padding before the float64 timestamp, then 4-byte fields.
const RecordSize = 88

// ReservedSize is the total size of the slots that carry no known meaning.
const ReservedSize = 32

// Byte offsets of every slot in a record.
const (
	offFrame      = 0
	offPad        = 4
	offTimestamp  = 8
	offIdentifier = 16
	offState      = 20
	offFingerID   = 24
	offHandID     = 28
	offX          = 32
	offY          = 36
	offSize       = 40
	offReserved10 = 44
	offAngle      = 48
	offMajorAxis  = 52
	offMinorAxis  = 56
	offReserved14 = 60 // three 4-byte slots
	offPressure   = 72
	offReserved18 = 76 // three 4-byte slots
)

// reservedSlots lists (record offset, length) for each opaque slot, in the
// order they are packed into Touch.Reserved.
var reservedSlots = [...][2]int{
	{offPad, 4},
	{offReserved10, 4},
	{offReserved14, 12},
	{offReserved18, 12},
}

// ErrDecode is wrapped by every decode failure.
var ErrDecode = errors.New("touch record decode error")

// Touch is one contact sample within a frame. It is a plain value; copying
// it yields an independent record.
type Touch struct {
	Frame      int32
	Timestamp  float64
	Identifier int32
	State      State
	FingerID   int32
	HandID     int32
	X          float32 // normalized [0,1]
	Y          float32 // normalized [0,1]
	Size       float32
	Angle      float32
	MajorAxis  float32
	MinorAxis  float32
	Pressure   float32

	// Reserved preserves the unnamed wire slots verbatim so that a decoded
	// record re-encodes to the same bytes.
	Reserved [ReservedSize]byte
}

// Decode interprets buf as count consecutive touch records. The returned
// slice preserves the input order.
func Decode(buf []byte, count int) ([]Touch, error) {
	if count < 0 {
		return nil, fmt.Errorf("%w: negative record count %d", ErrDecode, count)
	}
	if len(buf)%RecordSize != 0 || len(buf)/RecordSize != count {
		return nil, fmt.Errorf("%w: %d records do not fit %d bytes", ErrDecode, count, len(buf))
	}
	touches := make([]Touch, count)
	for i := range touches {
		decodeRecord(buf[i*RecordSize:(i+1)*RecordSize], &touches[i])
	}
	return touches, nil
}

func decodeRecord(b []byte, t *Touch) {
	le := binary.LittleEndian
	t.Frame = int32(le.Uint32(b[offFrame:]))
	t.Timestamp = math.Float64frombits(le.Uint64(b[offTimestamp:]))
	t.Identifier = int32(le.Uint32(b[offIdentifier:]))
	t.State = State(int32(le.Uint32(b[offState:])))
	t.FingerID = int32(le.Uint32(b[offFingerID:]))
	t.HandID = int32(le.Uint32(b[offHandID:]))
	t.X = f32(b[offX:])
	t.Y = f32(b[offY:])
	t.Size = f32(b[offSize:])
	t.Angle = f32(b[offAngle:])
	t.MajorAxis = f32(b[offMajorAxis:])
	t.MinorAxis = f32(b[offMinorAxis:])
	t.Pressure = f32(b[offPressure:])

	n := 0
	for _, slot := range reservedSlots {
		n += copy(t.Reserved[n:], b[slot[0]:slot[0]+slot[1]])
	}
}

func f32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

// Encode serialises touches into the wire layout.
func Encode(touches []Touch) []byte {
	buf := make([]byte, 0, len(touches)*RecordSize)
	for i := range touches {
		buf = AppendTouch(buf, touches[i])
	}
	return buf
}

// AppendTouch appends the wire form of t to dst.
func AppendTouch(dst []byte, t Touch) []byte {
	var b [RecordSize]byte
	le := binary.LittleEndian
	le.PutUint32(b[offFrame:], uint32(t.Frame))
	le.PutUint64(b[offTimestamp:], math.Float64bits(t.Timestamp))
	le.PutUint32(b[offIdentifier:], uint32(t.Identifier))
	le.PutUint32(b[offState:], uint32(t.State))
	le.PutUint32(b[offFingerID:], uint32(t.FingerID))
	le.PutUint32(b[offHandID:], uint32(t.HandID))
	le.PutUint32(b[offX:], math.Float32bits(t.X))
	le.PutUint32(b[offY:], math.Float32bits(t.Y))
	le.PutUint32(b[offSize:], math.Float32bits(t.Size))
	le.PutUint32(b[offAngle:], math.Float32bits(t.Angle))
	le.PutUint32(b[offMajorAxis:], math.Float32bits(t.MajorAxis))
	le.PutUint32(b[offMinorAxis:], math.Float32bits(t.MinorAxis))
	le.PutUint32(b[offPressure:], math.Float32bits(t.Pressure))

	n := 0
	for _, slot := range reservedSlots {
		n += copy(b[slot[0]:slot[0]+slot[1]], t.Reserved[n:])
	}
	return append(dst, b[:]...)
}
