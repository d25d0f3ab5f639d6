package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/touchbridge/internal/config"
	"github.com/banshee-data/touchbridge/internal/db"
	"github.com/banshee-data/touchbridge/internal/timeutil"
	"github.com/banshee-data/touchbridge/internal/touch/device"
	"github.com/banshee-data/touchbridge/internal/touch/l3paths"
	"github.com/banshee-data/touchbridge/internal/touch/monitor"
	"github.com/banshee-data/touchbridge/internal/touch/network"
	"github.com/banshee-data/touchbridge/internal/touch/pipeline"
	"github.com/banshee-data/touchbridge/internal/touch/serialsource"
	"github.com/banshee-data/touchbridge/internal/touch/stats"
	"github.com/banshee-data/touchbridge/internal/version"
)

var (
	configFile = flag.String("config", "", "Path to a JSON bridge config (defaults apply when empty)")
	udpAddr    = flag.String("udp", "", "UDP address to receive frame datagrams on")
	serialPort = flag.String("serial", "", "Serial port carrying frame datagrams (takes precedence over -udp)")
	pcapFile   = flag.String("pcap", "", "Replay frame datagrams from a pcap file and exit")
	pcapPort   = flag.Int("pcap-port", 0, "UDP destination port to replay from the pcap (0 = any)")
	dbPath     = flag.String("db", "", "sqlite database for path milestones")
	noRecord   = flag.Bool("no-record", false, "Do not record path milestones")
	listen     = flag.String("listen", "", "Debug HTTP listen address")
	deviceID   = flag.String("device-id", "", "Device ID (derived from the source when empty)")
	builtIn    = flag.Bool("built-in", false, "Mark the device as built-in")
	showVer    = flag.Bool("version", false, "Print the version and exit")
)

// Source kinds.
const (
	sourceUDP    = "udp"
	sourceSerial = "serial"
	sourcePCAP   = "pcap"
)

// applyFlagOverrides copies explicitly set flags over cfg.
func applyFlagOverrides(cfg *config.BridgeConfig, set map[string]bool) {
	if set["udp"] {
		cfg.UDPAddress = udpAddr
	}
	if set["serial"] {
		cfg.SerialPort = serialPort
	}
	if set["db"] {
		cfg.DBPath = dbPath
	}
	if set["no-record"] {
		record := !*noRecord
		cfg.RecordPaths = &record
	}
	if set["listen"] {
		cfg.DebugListen = listen
	}
	if set["device-id"] {
		cfg.DeviceID = deviceID
	}
	if set["built-in"] {
		cfg.DeviceBuiltIn = builtIn
	}
}

// pickSource returns the source kind and the device it feeds.
func pickSource(cfg *config.BridgeConfig, pcap string) (string, device.Device) {
	kind, addr := sourceUDP, cfg.GetUDPAddress()
	switch {
	case pcap != "":
		kind, addr = sourcePCAP, filepath.Base(pcap)
	case cfg.GetSerialPort() != "":
		kind, addr = sourceSerial, cfg.GetSerialPort()
	}
	id := cfg.GetDeviceID()
	if id == "" {
		id = fmt.Sprintf("%s:%s", kind, addr)
	}
	return kind, device.Device{ID: id, BuiltIn: cfg.GetDeviceBuiltIn()}
}

func loadConfig() (*config.BridgeConfig, error) {
	cfg := config.EmptyBridgeConfig()
	if *configFile != "" {
		var err error
		if cfg, err = config.LoadBridgeConfig(*configFile); err != nil {
			return nil, err
		}
	}
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	applyFlagOverrides(cfg, set)
	return cfg, cfg.Validate()
}

func main() {
	flag.Parse()

	if *showVer {
		fmt.Println(version.String())
		return
	}
	log.Print(version.String())

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	kind, dev := pickSource(cfg, *pcapFile)
	bridge := pipeline.NewBridge(pipeline.StreamConfig{
		Surface: l3paths.Surface{Width: float32(cfg.GetSurfaceWidth()), Height: float32(cfg.GetSurfaceHeight())},
	})
	bridge.Open(dev)
	defer bridge.Close(dev)
	log.Printf("opened %s device %s", kind, dev)

	frameStats := stats.NewFrameStats(cfg.GetStatsWindow())
	if err := bridge.RegisterFrameSubscriber(dev, frameStats); err != nil {
		log.Fatalf("failed to register frame stats: %v", err)
	}

	mon := monitor.NewServer(cfg.GetPathHistory())
	defer mon.Close()
	if err := mon.Watch(bridge, dev, frameStats); err != nil {
		log.Fatalf("failed to attach monitor: %v", err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mon.AttachAdminRoutes(mux)

	if cfg.GetRecordPaths() {
		database, err := db.NewDB(cfg.GetDBPath())
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()

		recorder, err := database.NewPathRecorder(fmt.Sprintf("%s %s", kind, dev), 1024)
		if err != nil {
			log.Fatalf("failed to start recording session: %v", err)
		}
		// A pcap replays faster than sqlite writes; keep every milestone.
		recorder.SetBlocking(kind == sourcePCAP)
		if err := bridge.RegisterPathSubscriber(dev, recorder); err != nil {
			log.Fatalf("failed to register path recorder: %v", err)
		}
		if err := database.AttachAdminRoutes(mux); err != nil {
			log.Fatalf("failed to attach db routes: %v", err)
		}
		log.Printf("recording path milestones to %s (session %s)", cfg.GetDBPath(), recorder.Session().ID)

		wg.Add(1)
		go func() {
			defer wg.Done()
			recorder.Run(ctx)
			log.Printf("recorder stopped: %d written, %d dropped", recorder.Written(), recorder.Dropped())
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		frameStats.LogEvery(ctx, timeutil.RealClock{}, cfg.GetStatsLogInterval(), dev.String())
	}()

	// frame source goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runSource(ctx, kind, cfg, dev, bridge); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("%s source failed: %v", kind, err)
		}
		log.Printf("%s source routine terminated", kind)
		if kind == sourcePCAP {
			stop()
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		server := &http.Server{
			Addr:    cfg.GetDebugListen(),
			Handler: mux,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("debug server failed: %v", err)
				stop()
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

func runSource(ctx context.Context, kind string, cfg *config.BridgeConfig, dev device.Device, in network.Ingester) error {
	switch kind {
	case sourcePCAP:
		st, err := network.ReadPCAPFile(ctx, *pcapFile, *pcapPort, in, dev)
		log.Printf("pcap replay: %d packets, %d frames, %d skipped, %d failed in %v",
			st.Packets, st.Frames, st.Skipped, st.Failed, st.Duration)
		return err

	case sourceSerial:
		src, err := serialsource.Open(cfg.GetSerialPort(), serialsource.PortOptions{
			BaudRate: cfg.GetSerialBaudRate(),
			DataBits: cfg.GetSerialDataBits(),
			StopBits: cfg.GetSerialStopBits(),
			Parity:   cfg.GetSerialParity(),
		}, dev, in)
		if err != nil {
			return err
		}
		return src.Run(ctx)

	case sourceUDP:
		l := network.NewUDPListener(network.UDPListenerConfig{
			Address:     cfg.GetUDPAddress(),
			RcvBuf:      cfg.GetUDPRcvBuf(),
			LogInterval: cfg.GetStatsLogInterval(),
			Device:      dev,
			Ingester:    in,
		})
		return l.Start(ctx)
	}
	return fmt.Errorf("unknown source %q", kind)
}
