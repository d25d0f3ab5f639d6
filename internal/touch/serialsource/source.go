// Package serialsource reads touch frames from a sensor attached over a
// serial line. The byte stream is a sequence of frame datagrams in the same
// envelope the UDP transport uses; the reader resynchronises on the magic
// after corruption.
package serialsource

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"

	"go.bug.st/serial"

	"github.com/banshee-data/touchbridge/internal/touch/device"
	"github.com/banshee-data/touchbridge/internal/touch/l1records"
	"github.com/banshee-data/touchbridge/internal/touch/network"
)

// MaxRecords bounds the record count accepted from a header. Larger counts
// are treated as line noise and trigger a resync.
const MaxRecords = 64

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.Reader
	io.Closer
}

// Stats counts what a Source has read.
type Stats struct {
	Frames   atomic.Uint64
	Resyncs  atomic.Uint64
	Rejected atomic.Uint64
}

// Source feeds one device from a serial port.
type Source struct {
	port      SerialPorter
	dev       device.Device
	in        network.Ingester
	lifecycle device.Lifecycle
	stats     Stats
}

// NewSource wraps an already open port.
func NewSource(port SerialPorter, dev device.Device, in network.Ingester) *Source {
	return &Source{port: port, dev: dev, in: in}
}

// Open opens the serial port at path with opts and wraps it in a Source.
func Open(path string, opts PortOptions, dev device.Device, in network.Ingester) (*Source, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	return NewSource(port, dev, in), nil
}

// Device returns the device handle this source feeds.
func (s *Source) Device() device.Device { return s.dev }

// State reports whether the source is running.
func (s *Source) State() device.State { return s.lifecycle.State() }

// Stats returns the live counters.
func (s *Source) Stats() *Stats { return &s.stats }

// Run reads frames until the port reaches EOF or ctx is cancelled. The port
// is closed when Run returns.
func (s *Source) Run(ctx context.Context) error {
	if s.in == nil {
		return errors.New("serial source: no ingester configured")
	}
	s.lifecycle.Start()
	defer s.lifecycle.Stop()

	frames := make(chan []byte)
	readErr := make(chan error, 1)

	// The blocking reads run in their own goroutine so the loop below can
	// observe cancellation; closing the port unblocks them.
	go func() {
		defer close(frames)
		r := bufio.NewReader(s.port)
		for {
			b, err := s.readDatagram(r)
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- b:
			case <-ctx.Done():
				return
			}
		}
	}()

	defer s.port.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-frames:
			if !ok {
				select {
				case err := <-readErr:
					if errors.Is(err, io.EOF) {
						return nil
					}
					return err
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if err := network.IngestDatagram(s.in, s.dev, b); err != nil {
				s.stats.Rejected.Add(1)
				log.Printf("serial source %s: %v", s.dev, err)
				continue
			}
			s.stats.Frames.Add(1)
		}
	}
}

// readDatagram returns the next complete datagram from r, skipping any bytes
// before the magic.
func (s *Source) readDatagram(r *bufio.Reader) ([]byte, error) {
	magic := network.Magic[:]
	for {
		if err := s.syncMagic(r); err != nil {
			return nil, err
		}
		header := make([]byte, network.HeaderSize)
		copy(header, magic)
		if _, err := io.ReadFull(r, header[len(magic):]); err != nil {
			return nil, err
		}
		d, err := network.ParseDatagram(header)
		if err != nil || d.Count < 0 || d.Count > MaxRecords {
			s.stats.Resyncs.Add(1)
			continue
		}
		b := make([]byte, network.HeaderSize+int(d.Count)*l1records.RecordSize)
		copy(b, header)
		if _, err := io.ReadFull(r, b[network.HeaderSize:]); err != nil {
			return nil, err
		}
		return b, nil
	}
}

// syncMagic consumes bytes until the magic has just been read.
func (s *Source) syncMagic(r *bufio.Reader) error {
	magic := network.Magic[:]
	window := make([]byte, 0, len(magic))
	skipped := false
	for {
		c, err := r.ReadByte()
		if err != nil {
			return err
		}
		window = append(window, c)
		if len(window) > len(magic) {
			window = window[1:]
			skipped = true
		}
		if bytes.Equal(window, magic) {
			if skipped {
				s.stats.Resyncs.Add(1)
			}
			return nil
		}
	}
}
