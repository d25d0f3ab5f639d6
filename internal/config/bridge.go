package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultConfigPath is the path to the canonical bridge defaults file.
const DefaultConfigPath = "config/touchbridge.defaults.json"

// BridgeConfig is the root configuration of the touch bridge. Every field is
// optional; the Get* accessors supply defaults for anything left unset.
type BridgeConfig struct {
	// Surface the path centroids are reported on
	SurfaceWidth  *float64 `json:"surface_width,omitempty"`
	SurfaceHeight *float64 `json:"surface_height,omitempty"`

	// UDP source
	UDPAddress *string `json:"udp_address,omitempty"`
	UDPRcvBuf  *int    `json:"udp_rcv_buf,omitempty"`

	// Serial source
	SerialPort     *string `json:"serial_port,omitempty"`
	SerialBaudRate *int    `json:"serial_baud_rate,omitempty"`
	SerialDataBits *int    `json:"serial_data_bits,omitempty"`
	SerialStopBits *int    `json:"serial_stop_bits,omitempty"`
	SerialParity   *string `json:"serial_parity,omitempty"`

	// Device classification reported for the configured source
	DeviceID      *string `json:"device_id,omitempty"`
	DeviceBuiltIn *bool   `json:"device_built_in,omitempty"`

	// Statistics
	StatsWindow      *int    `json:"stats_window,omitempty"`
	StatsLogInterval *string `json:"stats_log_interval,omitempty"` // duration string like "1m"

	// Persistence and debug surface
	DBPath      *string `json:"db_path,omitempty"`
	DebugListen *string `json:"debug_listen,omitempty"`
	RecordPaths *bool   `json:"record_paths,omitempty"`
	PathHistory *int    `json:"path_history,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyBridgeConfig returns a BridgeConfig with all fields set to nil.
func EmptyBridgeConfig() *BridgeConfig {
	return &BridgeConfig{}
}

// LoadBridgeConfig loads a BridgeConfig from a JSON file.
// The file must have a .json extension and be at most 1MB. Fields omitted
// from the file fall back to their defaults.
func LoadBridgeConfig(path string) (*BridgeConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyBridgeConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configured values are usable.
func (c *BridgeConfig) Validate() error {
	if c.SurfaceWidth != nil && *c.SurfaceWidth <= 0 {
		return fmt.Errorf("surface_width must be positive, got %f", *c.SurfaceWidth)
	}
	if c.SurfaceHeight != nil && *c.SurfaceHeight <= 0 {
		return fmt.Errorf("surface_height must be positive, got %f", *c.SurfaceHeight)
	}
	if c.UDPRcvBuf != nil && *c.UDPRcvBuf < 0 {
		return fmt.Errorf("udp_rcv_buf must be non-negative, got %d", *c.UDPRcvBuf)
	}
	if c.StatsWindow != nil && *c.StatsWindow < 2 {
		return fmt.Errorf("stats_window must be at least 2, got %d", *c.StatsWindow)
	}
	if c.PathHistory != nil && *c.PathHistory < 0 {
		return fmt.Errorf("path_history must be non-negative, got %d", *c.PathHistory)
	}
	if c.StatsLogInterval != nil && *c.StatsLogInterval != "" {
		if _, err := time.ParseDuration(*c.StatsLogInterval); err != nil {
			return fmt.Errorf("invalid stats_log_interval '%s': %w", *c.StatsLogInterval, err)
		}
	}
	if c.SerialParity != nil {
		switch strings.ToUpper(strings.TrimSpace(*c.SerialParity)) {
		case "", "N", "NONE", "E", "EVEN", "O", "ODD":
		default:
			return fmt.Errorf("serial_parity must be N, E or O, got %q", *c.SerialParity)
		}
	}
	return nil
}

// GetSurfaceWidth returns the surface_width value or the default.
func (c *BridgeConfig) GetSurfaceWidth() float64 {
	if c.SurfaceWidth == nil {
		return 1.0 // normalized units
	}
	return *c.SurfaceWidth
}

// GetSurfaceHeight returns the surface_height value or the default.
func (c *BridgeConfig) GetSurfaceHeight() float64 {
	if c.SurfaceHeight == nil {
		return 1.0
	}
	return *c.SurfaceHeight
}

// GetUDPAddress returns the udp_address value or the default.
func (c *BridgeConfig) GetUDPAddress() string {
	if c.UDPAddress == nil || *c.UDPAddress == "" {
		return ":7420"
	}
	return *c.UDPAddress
}

// GetUDPRcvBuf returns the udp_rcv_buf value or the default.
func (c *BridgeConfig) GetUDPRcvBuf() int {
	if c.UDPRcvBuf == nil {
		return 1 << 20
	}
	return *c.UDPRcvBuf
}

// GetSerialPort returns the serial_port value or the default.
func (c *BridgeConfig) GetSerialPort() string {
	if c.SerialPort == nil {
		return ""
	}
	return *c.SerialPort
}

// GetSerialBaudRate returns the serial_baud_rate value or the default.
func (c *BridgeConfig) GetSerialBaudRate() int {
	if c.SerialBaudRate == nil {
		return 115200
	}
	return *c.SerialBaudRate
}

// GetSerialDataBits returns the serial_data_bits value or 0 for the port default.
func (c *BridgeConfig) GetSerialDataBits() int {
	if c.SerialDataBits == nil {
		return 0
	}
	return *c.SerialDataBits
}

// GetSerialStopBits returns the serial_stop_bits value or 0 for the port default.
func (c *BridgeConfig) GetSerialStopBits() int {
	if c.SerialStopBits == nil {
		return 0
	}
	return *c.SerialStopBits
}

// GetSerialParity returns the serial_parity value or the default.
func (c *BridgeConfig) GetSerialParity() string {
	if c.SerialParity == nil {
		return "N"
	}
	return *c.SerialParity
}

// GetDeviceID returns the device_id value or an empty string, in which case
// the source derives an ID from its address.
func (c *BridgeConfig) GetDeviceID() string {
	if c.DeviceID == nil {
		return ""
	}
	return *c.DeviceID
}

// GetDeviceBuiltIn returns the device_built_in value or the default.
func (c *BridgeConfig) GetDeviceBuiltIn() bool {
	if c.DeviceBuiltIn == nil {
		return false
	}
	return *c.DeviceBuiltIn
}

// GetStatsWindow returns the stats_window value or the default.
func (c *BridgeConfig) GetStatsWindow() int {
	if c.StatsWindow == nil {
		return 512
	}
	return *c.StatsWindow
}

// GetStatsLogInterval parses and returns the StatsLogInterval as a time.Duration.
func (c *BridgeConfig) GetStatsLogInterval() time.Duration {
	if c.StatsLogInterval == nil || *c.StatsLogInterval == "" {
		return time.Minute
	}
	d, err := time.ParseDuration(*c.StatsLogInterval)
	if err != nil {
		return time.Minute // default on parse error
	}
	return d
}

// GetDBPath returns the db_path value or the default.
func (c *BridgeConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "touch_paths.db"
	}
	return *c.DBPath
}

// GetDebugListen returns the debug_listen value or the default.
func (c *BridgeConfig) GetDebugListen() string {
	if c.DebugListen == nil || *c.DebugListen == "" {
		return "localhost:8089"
	}
	return *c.DebugListen
}

// GetRecordPaths returns the record_paths value or the default.
func (c *BridgeConfig) GetRecordPaths() bool {
	if c.RecordPaths == nil {
		return true
	}
	return *c.RecordPaths
}

// GetPathHistory returns the path_history value or the default: how many
// recent path events the debug routes keep.
func (c *BridgeConfig) GetPathHistory() int {
	if c.PathHistory == nil {
		return 256
	}
	return *c.PathHistory
}
