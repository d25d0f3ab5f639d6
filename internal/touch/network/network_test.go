package network

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/touchbridge/internal/timeutil"
	"github.com/banshee-data/touchbridge/internal/touch/device"
	"github.com/banshee-data/touchbridge/internal/touch/l1records"
)

var testDevice = device.Device{ID: "udp-pad"}

type ingestCall struct {
	dev       device.Device
	touches   []l1records.Touch
	timestamp float64
	frame     int32
}

// fakeIngester decodes like the pipeline does and records each frame.
type fakeIngester struct {
	mu    sync.Mutex
	calls []ingestCall
}

func (f *fakeIngester) Ingest(dev device.Device, buf []byte, count int, timestamp float64, frame int32) error {
	touches, err := l1records.Decode(buf, count)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ingestCall{dev: dev, touches: touches, timestamp: timestamp, frame: frame})
	return nil
}

func (f *fakeIngester) frames() []int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int32, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.frame)
	}
	return out
}

func frameTouches() []l1records.Touch {
	return []l1records.Touch{
		{Identifier: 1, State: l1records.MakeTouch, X: 0.1, Y: 0.2},
		{Identifier: 2, State: l1records.Touching, X: 0.3, Y: 0.4},
	}
}

func TestDatagram_RoundTrip(t *testing.T) {
	b := AppendDatagram(nil, 17, 2.5, frameTouches())
	require.Len(t, b, HeaderSize+2*l1records.RecordSize)

	d, err := ParseDatagram(b)
	require.NoError(t, err)
	assert.Equal(t, int32(17), d.Frame)
	assert.Equal(t, int32(2), d.Count)
	assert.Equal(t, 2.5, d.Timestamp)

	touches, err := l1records.Decode(d.Records, int(d.Count))
	require.NoError(t, err)
	assert.Equal(t, frameTouches(), touches)
}

func TestParseDatagram_Errors(t *testing.T) {
	_, err := ParseDatagram([]byte("MTF1"))
	assert.ErrorIs(t, err, ErrBadDatagram)

	b := AppendDatagram(nil, 1, 0, nil)
	b[0] = 'X'
	_, err = ParseDatagram(b)
	assert.ErrorIs(t, err, ErrBadDatagram)
}

func TestIngestDatagram_CountMismatchIsDecodeError(t *testing.T) {
	in := &fakeIngester{}
	b := AppendDatagram(nil, 1, 0, frameTouches())
	b = b[:len(b)-l1records.RecordSize] // header still claims two records

	err := IngestDatagram(in, testDevice, b)
	assert.ErrorIs(t, err, l1records.ErrDecode)
	assert.Empty(t, in.calls)
}

// fakeSocket feeds queued datagrams and then reports timeouts.
type fakeSocket struct {
	mu     sync.Mutex
	queue  [][]byte
	closed bool
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func (s *fakeSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return 0, nil, timeoutErr{}
	}
	n := copy(b, s.queue[0])
	s.queue = s.queue[1:]
	return n, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9999}, nil
}

func (s *fakeSocket) SetReadBuffer(int) error         { return nil }
func (s *fakeSocket) SetReadDeadline(time.Time) error { return nil }
func (s *fakeSocket) LocalAddr() net.Addr             { return &net.UDPAddr{Port: 7420} }
func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSocket) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func TestIngestDatagram_HugeCountIsDecodeError(t *testing.T) {
	in := &fakeIngester{}
	b := AppendDatagram(nil, 1, 0, nil)
	binary.LittleEndian.PutUint32(b[8:], math.MaxInt32)

	assert.NotPanics(t, func() {
		err := IngestDatagram(in, testDevice, b)
		assert.ErrorIs(t, err, l1records.ErrDecode)
	})
	assert.Empty(t, in.calls)
}

func TestUDPListener_IngestsInArrivalOrder(t *testing.T) {
	sock := &fakeSocket{queue: [][]byte{
		AppendDatagram(nil, 1, 0.01, frameTouches()),
		[]byte("garbage"),
		AppendDatagram(nil, 2, 0.02, nil),
		AppendDatagram(nil, 3, 0.03, frameTouches()[:1]),
	}}
	in := &fakeIngester{}
	l := NewUDPListener(UDPListenerConfig{
		Address:  ":0",
		RcvBuf:   4096,
		Device:   testDevice,
		Ingester: in,
		Listen:   func(string) (UDPSocket, error) { return sock, nil },
		Clock:    timeutil.NewMockClock(time.Unix(0, 0)),
	})
	assert.Equal(t, device.Stopped, l.State())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Start(ctx) }()

	require.Eventually(t, func() bool { return sock.pending() == 0 && len(in.frames()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, device.Running, l.State())
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, []int32{1, 2, 3}, in.frames())
	assert.Equal(t, testDevice, in.calls[0].dev)
	assert.Equal(t, uint64(4), l.Stats().Packets.Load())
	assert.Equal(t, uint64(1), l.Stats().Malformed.Load())
	assert.Equal(t, device.Stopped, l.State())
	assert.True(t, sock.closed)
}

func TestUDPListener_ListenError(t *testing.T) {
	l := NewUDPListener(UDPListenerConfig{
		Ingester: &fakeIngester{},
		Listen:   func(string) (UDPSocket, error) { return nil, errors.New("port in use") },
	})
	err := l.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port in use")
}

func TestUDPListener_RequiresIngester(t *testing.T) {
	l := NewUDPListener(UDPListenerConfig{})
	assert.Error(t, l.Start(context.Background()))
}

func udpPacket(t *testing.T, dstPort int, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(10, 0, 0, 2),
		DstIP:    net.IPv4(10, 0, 0, 1),
	}
	udp := &layers.UDP{SrcPort: 50000, DstPort: layers.UDPPort(dstPort)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func writeCapture(t *testing.T, packets ...[]byte) *bytes.Buffer {
	t.Helper()
	var out bytes.Buffer
	w := pcapgo.NewWriter(&out)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	ts := time.Unix(1700000000, 0)
	for i, p := range packets {
		ci := gopacket.CaptureInfo{
			Timestamp:     ts.Add(time.Duration(i) * 10 * time.Millisecond),
			CaptureLength: len(p),
			Length:        len(p),
		}
		require.NoError(t, w.WritePacket(ci, p))
	}
	return &out
}

func TestReplayPCAP_FiltersByPort(t *testing.T) {
	capture := writeCapture(t,
		udpPacket(t, 7420, AppendDatagram(nil, 1, 0.1, frameTouches())),
		udpPacket(t, 9000, AppendDatagram(nil, 99, 0.1, nil)),
		udpPacket(t, 7420, []byte("not a frame datagram")),
		udpPacket(t, 7420, AppendDatagram(nil, 2, 0.2, frameTouches()[:1])),
	)
	in := &fakeIngester{}

	stats, err := ReplayPCAP(context.Background(), capture, 7420, in, testDevice)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Packets)
	assert.Equal(t, 2, stats.Frames)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, []int32{1, 2}, in.frames())
	require.Len(t, in.calls[0].touches, 2)
	assert.Equal(t, l1records.MakeTouch, in.calls[0].touches[0].State)
}

func TestReplayPCAP_AnyPort(t *testing.T) {
	capture := writeCapture(t,
		udpPacket(t, 1234, AppendDatagram(nil, 1, 0, nil)),
		udpPacket(t, 5678, AppendDatagram(nil, 2, 0, nil)),
	)
	in := &fakeIngester{}
	stats, err := ReplayPCAP(context.Background(), capture, 0, in, testDevice)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Frames)
}

func TestReplayPCAP_Cancelled(t *testing.T) {
	capture := writeCapture(t, udpPacket(t, 7420, AppendDatagram(nil, 1, 0, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ReplayPCAP(ctx, capture, 7420, &fakeIngester{}, testDevice)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadPCAPFile_Missing(t *testing.T) {
	_, err := ReadPCAPFile(context.Background(), "does-not-exist.pcap", 7420, &fakeIngester{}, testDevice)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open PCAP file")
}

func TestReplayPCAP_BadHeader(t *testing.T) {
	_, err := ReplayPCAP(context.Background(), bytes.NewReader([]byte("nope")), 0, &fakeIngester{}, testDevice)
	require.Error(t, err)
}
