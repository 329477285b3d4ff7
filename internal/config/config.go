// Package config loads and validates archiver configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/thread-archiver/internal/board"
	"github.com/JakeFAU/thread-archiver/internal/logging"
)

// EnvPrefix namespaces environment overrides, e.g. ARCHIVER_POLL_INTERVAL.
const EnvPrefix = "ARCHIVER"

// Merge modes for ArchiveConfig.Merge.
const (
	MergeAuto = "auto"
	MergeOn   = "on"
	MergeOff  = "off"
)

// Config captures every archiver knob loaded via Viper.
type Config struct {
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Poll     PollConfig     `mapstructure:"poll"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Logging  logging.Config `mapstructure:"logging"`
	Progress ProgressConfig `mapstructure:"progress"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ArchiveConfig decides where artifacts land and how threads are merged.
type ArchiveConfig struct {
	Root              string   `mapstructure:"root"`
	Filename          string   `mapstructure:"filename"`
	NoSubfolder       bool     `mapstructure:"no_subfolder"`
	BoardType         string   `mapstructure:"board_type"`
	Merge             string   `mapstructure:"merge"`
	IncludeExtensions []string `mapstructure:"include_extensions"`
}

// PollConfig drives the poll controller's schedule.
type PollConfig struct {
	Force            bool          `mapstructure:"force"`
	Interval         time.Duration `mapstructure:"interval"`
	AutoIncrement    time.Duration `mapstructure:"auto_increment"`
	MaxAutoIncrement time.Duration `mapstructure:"max_auto_increment"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryIncrement   time.Duration `mapstructure:"retry_increment"`
}

// HTTPConfig configures the fetcher and asset download pacing.
type HTTPConfig struct {
	UserAgent          string        `mapstructure:"user_agent"`
	Timeout            time.Duration `mapstructure:"timeout"`
	DownloadsPerSecond float64       `mapstructure:"downloads_per_second"`
	DownloadBurst      int           `mapstructure:"download_burst"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
}

// MetricsConfig enables the status and metrics HTTP surface when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// NewViper returns a Viper instance with the archiver's env binding and
// defaults applied. Callers may bind command-line flags before LoadFrom.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load builds a Config from the optional file at path and the environment.
func Load(path string) (Config, error) {
	return LoadFrom(NewViper(), path)
}

// LoadFrom reads the optional file at path into v, then decodes and
// validates the result.
func LoadFrom(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Archive.Merge = strings.ToLower(strings.TrimSpace(cfg.Archive.Merge))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("archive.root", ".")
	v.SetDefault("archive.filename", "")
	v.SetDefault("archive.no_subfolder", false)
	v.SetDefault("archive.board_type", "")
	v.SetDefault("archive.merge", MergeAuto)
	v.SetDefault("archive.include_extensions", []string{})
	v.SetDefault("poll.force", false)
	v.SetDefault("poll.interval", 30*time.Second)
	v.SetDefault("poll.auto_increment", 5*time.Second)
	v.SetDefault("poll.max_auto_increment", 90*time.Second)
	v.SetDefault("poll.max_retries", 10)
	v.SetDefault("poll.retry_increment", 120*time.Second)
	v.SetDefault("http.user_agent", "")
	v.SetDefault("http.timeout", 60*time.Second)
	v.SetDefault("http.downloads_per_second", 4.0)
	v.SetDefault("http.download_burst", 4)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "warn")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 100)
	v.SetDefault("progress.max_batch_wait", 250*time.Millisecond)
	v.SetDefault("metrics.addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Archive.Root == "" {
		return fmt.Errorf("archive.root must be set")
	}
	switch c.Archive.Merge {
	case MergeAuto, MergeOn, MergeOff:
	default:
		return fmt.Errorf("archive.merge must be one of auto, on, off (got %q)", c.Archive.Merge)
	}
	if c.Archive.BoardType != "" {
		if _, err := board.Lookup(c.Archive.BoardType); err != nil {
			return fmt.Errorf("archive.board_type: %w", err)
		}
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be > 0")
	}
	if c.Poll.AutoIncrement < 0 || c.Poll.MaxAutoIncrement < 0 {
		return fmt.Errorf("poll.auto_increment and poll.max_auto_increment must be >= 0")
	}
	if c.Poll.MaxRetries < 0 {
		return fmt.Errorf("poll.max_retries must be >= 0")
	}
	if c.Poll.RetryIncrement <= 0 {
		return fmt.Errorf("poll.retry_increment must be > 0")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.HTTP.DownloadsPerSecond < 0 {
		return fmt.Errorf("http.downloads_per_second must be >= 0")
	}
	return nil
}
