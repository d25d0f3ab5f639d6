package network

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync/atomic"
	"time"

	"github.com/banshee-data/touchbridge/internal/timeutil"
	"github.com/banshee-data/touchbridge/internal/touch/device"
	"github.com/banshee-data/touchbridge/internal/touch/l1records"
)

// maxDatagram fits a header plus 64 records, above any sensor's contact limit.
const maxDatagram = HeaderSize + 64*l1records.RecordSize

// ListenerStats counts datagrams seen by a UDPListener.
type ListenerStats struct {
	Packets   atomic.Uint64
	Bytes     atomic.Uint64
	Malformed atomic.Uint64
	Rejected  atomic.Uint64
}

// UDPListenerConfig contains configuration options for the UDP listener.
type UDPListenerConfig struct {
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	Device      device.Device
	Ingester    Ingester
	Listen      ListenFunc     // optional; defaults to ListenUDP
	Clock       timeutil.Clock // optional; drives the stats log
}

// UDPListener receives frame datagrams for one device and ingests them in
// arrival order from a single goroutine.
type UDPListener struct {
	cfg       UDPListenerConfig
	lifecycle device.Lifecycle
	stats     ListenerStats
	conn      UDPSocket
}

// NewUDPListener creates a new UDP listener with the provided configuration.
func NewUDPListener(cfg UDPListenerConfig) *UDPListener {
	if cfg.LogInterval <= 0 {
		cfg.LogInterval = time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Listen == nil {
		cfg.Listen = ListenUDP
	}
	return &UDPListener{cfg: cfg}
}

// Device returns the device handle this listener feeds.
func (l *UDPListener) Device() device.Device { return l.cfg.Device }

// State reports whether the listener is running.
func (l *UDPListener) State() device.State { return l.lifecycle.State() }

// Stats returns the live counters.
func (l *UDPListener) Stats() *ListenerStats { return &l.stats }

// Start listens until ctx is cancelled.
func (l *UDPListener) Start(ctx context.Context) error {
	if l.cfg.Ingester == nil {
		return errors.New("udp listener: no ingester configured")
	}
	conn, err := l.cfg.Listen(l.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address %s: %w", l.cfg.Address, err)
	}
	l.conn = conn
	defer conn.Close()

	if l.cfg.RcvBuf > 0 {
		if err := conn.SetReadBuffer(l.cfg.RcvBuf); err != nil {
			log.Printf("Warning: Failed to set UDP receive buffer size to %d: %v", l.cfg.RcvBuf, err)
		}
	}

	l.lifecycle.Start()
	defer l.lifecycle.Stop()
	log.Printf("UDP touch listener for %s started on %s", l.cfg.Device, conn.LocalAddr())

	go l.logStats(ctx)

	buffer := make([]byte, maxDatagram)
	for {
		select {
		case <-ctx.Done():
			log.Print("UDP touch listener stopping due to context cancellation")
			return ctx.Err()
		default:
		}

		// A short deadline lets the loop observe cancellation.
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

		n, addr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("UDP read error: %v", err)
			continue
		}
		if err := l.handleDatagram(buffer[:n]); err != nil {
			log.Printf("Error handling frame datagram from %v: %v", addr, err)
		}
	}
}

func (l *UDPListener) handleDatagram(b []byte) error {
	l.stats.Packets.Add(1)
	l.stats.Bytes.Add(uint64(len(b)))
	err := IngestDatagram(l.cfg.Ingester, l.cfg.Device, b)
	switch {
	case err == nil:
	case errors.Is(err, ErrBadDatagram):
		l.stats.Malformed.Add(1)
	default:
		l.stats.Rejected.Add(1)
	}
	return err
}

func (l *UDPListener) logStats(ctx context.Context) {
	ticker := l.cfg.Clock.NewTicker(l.cfg.LogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			log.Printf("UDP touch stats for %s: packets=%d bytes=%d malformed=%d rejected=%d",
				l.cfg.Device, l.stats.Packets.Load(), l.stats.Bytes.Load(),
				l.stats.Malformed.Load(), l.stats.Rejected.Load())
		}
	}
}
