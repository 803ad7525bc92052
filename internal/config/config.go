// Package config loads the tracker configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// command-line flags that were explicitly set, then credentials from the
// environment.
package config

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"cdr.dev/slog/v3"
	"github.com/spf13/pflag"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"

	"boat_tracker/internal/gps"
	"boat_tracker/internal/sampler"
	"boat_tracker/internal/storage"
	"boat_tracker/internal/telemetry"
	"boat_tracker/internal/uploader"
)

// Config is the complete tracker configuration.
type Config struct {
	// Database is the path of the local SQLite store.
	Database string `yaml:"database"`

	Log      LogConfig            `yaml:"log"`
	GPS      GPSConfig            `yaml:"gps"`
	Bus      BusConfig            `yaml:"bus"`
	Sampler  sampler.Config       `yaml:"sampler"`
	Uploader uploader.Config      `yaml:"uploader"`
	Remote   storage.RemoteConfig `yaml:"remote"`
	HTTP     HTTPConfig           `yaml:"http"`
}

// LogConfig selects the minimum log level: debug, info, warn or error.
type LogConfig struct {
	Level string `yaml:"level"`
}

// GPSConfig locates gpsd.
type GPSConfig struct {
	Address string `yaml:"address"`
	// MaxAge is how long a position report stays current.
	MaxAge time.Duration `yaml:"max_age"`
}

// BusConfig configures the engine telemetry feed. The pipe is always read;
// NATSSubject additionally subscribes on the remote NATS connection.
type BusConfig struct {
	Pipe        string        `yaml:"pipe"`
	NATSSubject string        `yaml:"nats_subject"`
	Timeout     time.Duration `yaml:"timeout"`
}

// HTTPConfig configures the status server. An empty address disables it.
type HTTPConfig struct {
	Address string `yaml:"address"`
	// APIKeys guard every endpoint but health when non-empty.
	APIKeys []string `yaml:"api_keys"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: "boat_tracker.db",
		Log:      LogConfig{Level: "info"},
		GPS: GPSConfig{
			Address: gps.DefaultAddress,
			MaxAge:  5 * time.Second,
		},
		Bus: BusConfig{
			Pipe:    telemetry.DefaultPipePath,
			Timeout: telemetry.DefaultTimeout,
		},
		Sampler:  sampler.DefaultConfig(),
		Uploader: uploader.DefaultConfig(),
		Remote:   storage.DefaultRemoteConfig(),
		HTTP:     HTTPConfig{Address: ":8081"},
	}
}

// AddFlags binds the commonly tuned settings to fs.
func (c *Config) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Database, "db", c.Database, "path of the local SQLite database")
	fs.StringVar(&c.Log.Level, "log-level", c.Log.Level, "minimum log level (debug, info, warn, error)")
	fs.StringVar(&c.GPS.Address, "gpsd", c.GPS.Address, "gpsd address")
	fs.StringVar(&c.Bus.Pipe, "pipe", c.Bus.Pipe, "named pipe carrying bus messages")
	fs.StringVar(&c.Bus.NATSSubject, "bus-subject", c.Bus.NATSSubject, "NATS subject carrying bus messages (empty disables)")
	fs.DurationVar(&c.Bus.Timeout, "bus-timeout", c.Bus.Timeout, "age after which a bus reading is ignored")
	fs.DurationVar(&c.Sampler.PollInterval, "poll-interval", c.Sampler.PollInterval, "sampler polling interval")
	fs.Float64Var(&c.Sampler.MinMilesDelta, "min-miles", c.Sampler.MinMilesDelta, "movement in miles that forces a sample")
	fs.DurationVar(&c.Uploader.Interval, "upload-interval", c.Uploader.Interval, "uploader idle interval")
	fs.IntVar(&c.Uploader.BatchSize, "batch-size", c.Uploader.BatchSize, "samples per upload batch")
	fs.IntVar(&c.Uploader.MaxRetries, "max-retries", c.Uploader.MaxRetries, "retries per upload batch")
	fs.StringVar(&c.Remote.Sink, "sink", c.Remote.Sink, "remote sink (clickhouse, postgres, nats)")
	fs.StringVar(&c.HTTP.Address, "http", c.HTTP.Address, "status server address (empty disables)")
}

// Load layers the YAML file at path (if non-empty), the flags explicitly set
// on fs and the environment over c, then validates the result.
func (c *Config) Load(path string, fs *pflag.FlagSet, getenv func(string) string) error {
	// Flags are bound to c, so reading the file would clobber them. Remember
	// what was set and reapply it afterwards.
	set := map[string]string{}
	if fs != nil {
		fs.Visit(func(f *pflag.Flag) { set[f.Name] = f.Value.String() })
	}

	if path != "" {
		if err := c.loadFile(path); err != nil {
			return err
		}
	}
	for name, value := range set {
		if err := fs.Set(name, value); err != nil {
			return xerrors.Errorf("reapply flag --%s: %w", name, err)
		}
	}
	if getenv != nil {
		c.applyEnv(getenv)
	}
	return c.Validate()
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return xerrors.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return xerrors.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("POSTGRES_PASSWORD"); v != "" {
		c.Remote.Postgres.Password = v
	}
	if v := getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.Remote.ClickHouse.Password = v
	}
	if v := getenv("NATS_URL"); v != "" {
		c.Remote.NATS.URL = v
	}
	if v := getenv("BOAT_TRACKER_API_KEYS"); v != "" {
		c.HTTP.APIKeys = nil
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				c.HTTP.APIKeys = append(c.HTTP.APIKeys, k)
			}
		}
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Database == "" {
		return xerrors.New("database path is required")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"gps.max_age", c.GPS.MaxAge},
		{"bus.timeout", c.Bus.Timeout},
		{"sampler.poll_interval", c.Sampler.PollInterval},
		{"sampler.engine_on_heartbeat", c.Sampler.EngineOnHeartbeat},
		{"sampler.engine_off_heartbeat", c.Sampler.EngineOffHeartbeat},
		{"uploader.interval", c.Uploader.Interval},
		{"uploader.initial_backoff", c.Uploader.InitialBackoff},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return xerrors.Errorf("%s must be positive, got %s", d.name, d.d)
		}
	}
	if c.Sampler.MinMilesDelta < 0 {
		return xerrors.Errorf("sampler.min_miles_delta must not be negative, got %v", c.Sampler.MinMilesDelta)
	}
	if c.Uploader.BatchSize < 1 || c.Uploader.BatchSize > 500 {
		return xerrors.Errorf("uploader.batch_size must be between 1 and 500, got %d", c.Uploader.BatchSize)
	}
	if c.Uploader.MaxRetries < 0 {
		return xerrors.Errorf("uploader.max_retries must not be negative, got %d", c.Uploader.MaxRetries)
	}
	switch c.Remote.Sink {
	case storage.SinkClickHouse, storage.SinkPostgres, storage.SinkNATS:
	default:
		return xerrors.Errorf("unknown remote sink %q", c.Remote.Sink)
	}
	return nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, xerrors.Errorf("unknown log level %q", s)
	}
}
