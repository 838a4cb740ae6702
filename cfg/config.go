package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/maxpert/termlog/logbuffer"
	"github.com/rs/zerolog/log"
)

// PublicationConfiguration controls how publication logs are created
type PublicationConfiguration struct {
	TermLength       int32 `toml:"term_length"`        // Bytes per term buffer (power of two)
	PageSize         int32 `toml:"page_size"`          // File page size the log is aligned to
	MTULength        int32 `toml:"mtu_length"`         // Recorded in log metadata for the driver
	PreTouch         bool  `toml:"pre_touch"`          // Fault in all pages at creation
	CounterCapacity  int32 `toml:"counter_capacity"`   // Slots in the counters file
	StatsIntervalSec int   `toml:"stats_interval_sec"` // Publication gauge refresh interval
	LingerMS         int   `toml:"linger_ms"`          // Delay before a closed log is unmapped
}

// RateConfiguration controls the throughput sampler
type RateConfiguration struct {
	IntervalMS int `toml:"interval_ms"`
}

// SampleConfiguration drives the streaming publisher in main
type SampleConfiguration struct {
	Channel       string `toml:"channel"`
	StreamID      int32  `toml:"stream_id"`
	MessageLength int    `toml:"message_length"`
	Messages      int64  `toml:"messages"` // 0 = run until interrupted
	AutoConnect   bool   `toml:"auto_connect"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// AdminConfiguration for the introspection HTTP server
type AdminConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
	Secret  string `toml:"secret"` // Empty disables authentication
}

// Configuration is the main configuration structure
type Configuration struct {
	ClientID uint64 `toml:"client_id"`
	Dir      string `toml:"dir"` // Shared directory holding log files and counters

	Publication PublicationConfiguration `toml:"publication"`
	Rate        RateConfiguration        `toml:"rate"`
	Sample      SampleConfiguration      `toml:"sample"`
	Logging     LoggingConfiguration     `toml:"logging"`
	Prometheus  PrometheusConfiguration  `toml:"prometheus"`
	Admin       AdminConfiguration       `toml:"admin"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DirFlag        = flag.String("dir", "", "Shared log directory (overrides config)")
	ClientIDFlag   = flag.Uint64("client-id", 0, "Client ID (overrides config, 0=auto)")
	ChannelFlag    = flag.String("channel", "", "Sample channel (overrides config)")
	StreamIDFlag   = flag.Int("stream-id", 0, "Sample stream ID (overrides config)")
)

// Default configuration
var Config = &Configuration{
	ClientID: 0, // Auto-generate
	Dir:      filepath.Join(os.TempDir(), "termlog"),

	Publication: PublicationConfiguration{
		TermLength:       16 * 1024 * 1024,
		PageSize:         4096,
		MTULength:        1408,
		PreTouch:         false,
		CounterCapacity:  1024,
		StatsIntervalSec: 5,
		LingerMS:         5000,
	},

	Rate: RateConfiguration{
		IntervalMS: 1000,
	},

	Sample: SampleConfiguration{
		Channel:       "termlog:ipc",
		StreamID:      1001,
		MessageLength: 32,
		Messages:      10_000_000,
		AutoConnect:   true,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
		Address: "0.0.0.0",
		Port:    9090,
	},

	Admin: AdminConfiguration{
		Enabled: true,
		Address: "127.0.0.1",
		Port:    9091,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	// Load from file if it exists
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DirFlag != "" {
		Config.Dir = *DirFlag
	}
	if *ClientIDFlag != 0 {
		Config.ClientID = *ClientIDFlag
	}
	if *ChannelFlag != "" {
		Config.Sample.Channel = *ChannelFlag
	}
	if *StreamIDFlag != 0 {
		Config.Sample.StreamID = int32(*StreamIDFlag)
	}

	// Auto-generate client ID if not set
	if Config.ClientID == 0 {
		var err error
		Config.ClientID, err = generateClientID()
		if err != nil {
			return fmt.Errorf("failed to generate client ID: %w", err)
		}
		log.Info().Uint64("client_id", Config.ClientID).Msg("Auto-generated client ID")
	}

	// Ensure shared directory exists
	if err := os.MkdirAll(Config.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	return nil
}

// generateClientID creates a client ID unique to this machine and process
func generateClientID() (uint64, error) {
	id, err := machineid.ProtectedID("termlog")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	fmt.Fprintf(h, ":%d", os.Getpid())
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.Dir == "" {
		return fmt.Errorf("log directory is required")
	}

	pub := Config.Publication
	if err := logbuffer.CheckTermLength(pub.TermLength); err != nil {
		return fmt.Errorf("invalid publication config: %w", err)
	}

	if err := logbuffer.CheckPageSize(pub.PageSize); err != nil {
		return fmt.Errorf("invalid publication config: %w", err)
	}

	if pub.PageSize > pub.TermLength {
		return fmt.Errorf("page size %d exceeds term length %d", pub.PageSize, pub.TermLength)
	}

	if pub.MTULength < 64 {
		return fmt.Errorf("MTU length must be >= 64: %d", pub.MTULength)
	}

	if pub.CounterCapacity < 2 {
		return fmt.Errorf("counter capacity must be >= 2")
	}

	if pub.StatsIntervalSec < 1 {
		return fmt.Errorf("stats interval must be >= 1 second")
	}

	if pub.LingerMS < 0 {
		return fmt.Errorf("linger must be >= 0ms")
	}

	if Config.Rate.IntervalMS < 1 {
		return fmt.Errorf("rate interval must be >= 1ms")
	}

	if !strings.HasPrefix(Config.Sample.Channel, "termlog:") {
		return fmt.Errorf("invalid sample channel: %s", Config.Sample.Channel)
	}

	if Config.Sample.MessageLength < 1 {
		return fmt.Errorf("sample message length must be >= 1")
	}

	if Config.Sample.Messages < 0 {
		return fmt.Errorf("sample message count must be >= 0")
	}

	if Config.Logging.Format != "console" && Config.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s", Config.Logging.Format)
	}

	if Config.Prometheus.Enabled && (Config.Prometheus.Port < 1 || Config.Prometheus.Port > 65535) {
		return fmt.Errorf("invalid Prometheus port: %d", Config.Prometheus.Port)
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	return nil
}

// PublicationsDir returns the directory holding publication log files
func PublicationsDir() string {
	return filepath.Join(Config.Dir, "publications")
}

// CountersPath returns the path of the shared counters file
func CountersPath() string {
	return filepath.Join(Config.Dir, "counters.dat")
}

// RegistryPath returns the path of the registration store
func RegistryPath() string {
	return filepath.Join(Config.Dir, "registry")
}
