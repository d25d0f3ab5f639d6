package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/touchbridge/internal/touch/device"
)

// ReplayStats summarises a capture replay.
type ReplayStats struct {
	Packets  int
	Frames   int
	Skipped  int
	Failed   int
	Duration time.Duration
}

// ReadPCAPFile replays the frame datagrams in a classic pcap capture into
// in. Only UDP payloads addressed to udpPort are ingested; udpPort 0 accepts
// every UDP packet. Packets are replayed as fast as they can be read.
func ReadPCAPFile(ctx context.Context, pcapFile string, udpPort int, in Ingester, dev device.Device) (ReplayStats, error) {
	f, err := os.Open(pcapFile)
	if err != nil {
		return ReplayStats{}, fmt.Errorf("failed to open PCAP file %s: %w", pcapFile, err)
	}
	defer f.Close()
	return ReplayPCAP(ctx, f, udpPort, in, dev)
}

// ReplayPCAP is ReadPCAPFile over an already open capture stream.
func ReplayPCAP(ctx context.Context, r io.Reader, udpPort int, in Ingester, dev device.Device) (ReplayStats, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return ReplayStats{}, fmt.Errorf("failed to read PCAP header: %w", err)
	}

	var stats ReplayStats
	start := time.Now()
	done := func() ReplayStats {
		stats.Duration = time.Since(start)
		return stats
	}

	for {
		if err := ctx.Err(); err != nil {
			log.Printf("PCAP replay stopping due to context cancellation (processed %d packets)", stats.Packets)
			return done(), err
		}

		data, _, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			log.Printf("PCAP replay complete: %d packets, %d frames in %v", stats.Packets, stats.Frames, time.Since(start))
			return done(), nil
		}
		if err != nil {
			return done(), fmt.Errorf("failed to read PCAP packet %d: %w", stats.Packets+1, err)
		}
		stats.Packets++

		packet := gopacket.NewPacket(data, reader.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			stats.Skipped++
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || (udpPort != 0 && int(udp.DstPort) != udpPort) || len(udp.Payload) == 0 {
			stats.Skipped++
			continue
		}

		if err := IngestDatagram(in, dev, udp.Payload); err != nil {
			stats.Failed++
			log.Printf("Error replaying PCAP packet %d: %v", stats.Packets, err)
			continue
		}
		stats.Frames++
	}
}
