// Package config provides configuration management for framesight using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxUploadBytes  = 2 * 1024 * 1024 * 1024 // 2GB
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxIdleTime = 30 * time.Minute
	defaultQueueSize       = 64
	defaultWorkerCount     = 2
	defaultStaleAfter      = 15 * time.Minute
	defaultStageTimeout    = 15 * time.Minute
	defaultIntervalSec     = 5
	defaultFetchTimeout    = 10 * time.Minute
)

// Config holds all configuration for the application.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Broker        BrokerConfig        `mapstructure:"broker"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	Detection     DetectionConfig     `mapstructure:"detection"`
	Discovery     DiscoveryConfig     `mapstructure:"discovery"`
	OpenVocab     OpenVocabConfig     `mapstructure:"open_vocab"`
	Verify        VerifyConfig        `mapstructure:"verify"`
	OCR           OCRConfig           `mapstructure:"ocr"`
	Capabilities  CapabilitiesConfig  `mapstructure:"capabilities"`
	FFmpeg        FFmpegConfig        `mapstructure:"ffmpeg"`
	Fetcher       FetcherConfig       `mapstructure:"fetcher"`
	Transcription TranscriptionConfig `mapstructure:"transcription"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`    // empty = {storage.data_dir}/state.db for sqlite
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// BrokerConfig holds task broker configuration.
type BrokerConfig struct {
	// URL selects the broker backend. Empty = in-process queue.
	// redis://host:port/db selects the redis adapter.
	URL       string `mapstructure:"url"`
	QueueSize int    `mapstructure:"queue_size"`
	QueueKey  string `mapstructure:"queue_key"`
}

// WorkerConfig holds worker pool configuration.
type WorkerConfig struct {
	Count           int           `mapstructure:"count"`
	StaleAfter      time.Duration `mapstructure:"stale_after"`
	StaleSweepCron  string        `mapstructure:"stale_sweep_cron"`
	RetentionMaxAge time.Duration `mapstructure:"retention_max_age"` // 0 = keep forever
}

// PipelineConfig holds frame extraction and stage driver configuration.
type PipelineConfig struct {
	DefaultIntervalSec         int           `mapstructure:"default_interval_sec"`
	SmartSamplingEnabled       bool          `mapstructure:"smart_sampling_enabled"`
	SmartSamplingDiffThreshold float64       `mapstructure:"smart_sampling_diff_threshold"`
	SmartSamplingMinKeep       int           `mapstructure:"smart_sampling_min_keep"`
	AnnotateFrames             bool          `mapstructure:"annotate_frames"`
	StageTimeout               time.Duration `mapstructure:"stage_timeout"`
}

// DetectionConfig holds object detector and aggregation configuration.
type DetectionConfig struct {
	MinConfidence      float64           `mapstructure:"min_confidence"`
	MinConsecutive     int               `mapstructure:"min_consecutive"`
	ConfidenceMinScore float64           `mapstructure:"confidence_min_score"`
	LabelMap           map[string]string `mapstructure:"label_map"` // empty = built-in table
}

// DiscoveryConfig holds caption discovery configuration.
type DiscoveryConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	EveryN         int      `mapstructure:"every_n"`
	MinScore       float64  `mapstructure:"min_score"`
	MinConsecutive int      `mapstructure:"min_consecutive"`
	MaxPhrases     int      `mapstructure:"max_phrases"`
	OnlyMilitary   bool     `mapstructure:"only_military"`
	Lexicon        []string `mapstructure:"lexicon"` // empty = built-in domain lexicon
}

// OpenVocabConfig holds open-vocabulary scorer configuration.
type OpenVocabConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Threshold      float64  `mapstructure:"threshold"`
	EveryN         int      `mapstructure:"every_n"`
	MinConsecutive int      `mapstructure:"min_consecutive"`
	Labels         []string `mapstructure:"labels"`
}

// VerifyConfig holds discovery verification configuration.
type VerifyConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	Threshold float64 `mapstructure:"threshold"`
	EveryN    int     `mapstructure:"every_n"`
	MaxLabels int     `mapstructure:"max_labels"`
}

// OCRConfig holds OCR reader configuration.
type OCRConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	EveryN        int     `mapstructure:"every_n"`
	MinConfidence float64 `mapstructure:"min_confidence"` // vendor scale 0-100
}

// CapabilitiesConfig holds the external model subprocess commands.
// Each command is an argv list; an empty list marks the capability absent.
type CapabilitiesConfig struct {
	DetectorCmd    []string      `mapstructure:"detector_cmd"`
	CaptionCmd     []string      `mapstructure:"caption_cmd"`
	OpenVocabCmd   []string      `mapstructure:"open_vocab_cmd"`
	OCRCmd         []string      `mapstructure:"ocr_cmd"`
	TranscriberCmd []string      `mapstructure:"transcriber_cmd"`
	EmbedderCmd    []string      `mapstructure:"embedder_cmd"`
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // Path to ffmpeg binary (empty = auto-detect)
	ProbePath  string `mapstructure:"probe_path"`  // Path to ffprobe binary (empty = auto-detect)
}

// FetcherConfig holds URL download configuration.
type FetcherConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxBytes int64         `mapstructure:"max_bytes"`
}

// TranscriptionConfig holds audio transcription configuration.
type TranscriptionConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with FRAMESIGHT_ and use underscores for nesting.
// Example: FRAMESIGHT_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/framesight")
		v.AddConfigPath("$HOME/.framesight")
	}

	v.SetEnvPrefix("FRAMESIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_upload_bytes", int64(defaultMaxUploadBytes))

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.data_dir", "./data")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Broker defaults
	v.SetDefault("broker.url", "")
	v.SetDefault("broker.queue_size", defaultQueueSize)
	v.SetDefault("broker.queue_key", "framesight:tasks")

	// Worker defaults
	v.SetDefault("worker.count", defaultWorkerCount)
	v.SetDefault("worker.stale_after", defaultStaleAfter)
	v.SetDefault("worker.stale_sweep_cron", "0 */5 * * * *") // every 5 minutes (6-field cron)
	v.SetDefault("worker.retention_max_age", time.Duration(0))

	// Pipeline defaults
	v.SetDefault("pipeline.default_interval_sec", defaultIntervalSec)
	v.SetDefault("pipeline.smart_sampling_enabled", true)
	v.SetDefault("pipeline.smart_sampling_diff_threshold", 0.06)
	v.SetDefault("pipeline.smart_sampling_min_keep", 6)
	v.SetDefault("pipeline.annotate_frames", true)
	v.SetDefault("pipeline.stage_timeout", defaultStageTimeout)

	// Detection defaults
	v.SetDefault("detection.min_confidence", 0.25)
	v.SetDefault("detection.min_consecutive", 2)
	v.SetDefault("detection.confidence_min_score", 0.1)

	// Discovery defaults
	v.SetDefault("discovery.enabled", true)
	v.SetDefault("discovery.every_n", 1)
	v.SetDefault("discovery.min_score", 0.2)
	v.SetDefault("discovery.min_consecutive", 1)
	v.SetDefault("discovery.max_phrases", 8)
	v.SetDefault("discovery.only_military", true)

	// Open-vocab defaults
	v.SetDefault("open_vocab.enabled", false)
	v.SetDefault("open_vocab.threshold", 0.27)
	v.SetDefault("open_vocab.every_n", 1)
	v.SetDefault("open_vocab.min_consecutive", 1)
	v.SetDefault("open_vocab.labels", []string{})

	// Verify defaults
	v.SetDefault("verify.enabled", true)
	v.SetDefault("verify.threshold", 0.27)
	v.SetDefault("verify.every_n", 3)
	v.SetDefault("verify.max_labels", 12)

	// OCR defaults
	v.SetDefault("ocr.enabled", true)
	v.SetDefault("ocr.every_n", 4)
	v.SetDefault("ocr.min_confidence", 60.0)

	// Capability defaults: commands are deployment-specific, absent by default
	v.SetDefault("capabilities.call_timeout", 2*time.Minute)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")

	// Fetcher defaults
	v.SetDefault("fetcher.timeout", defaultFetchTimeout)
	v.SetDefault("fetcher.max_bytes", int64(defaultMaxUploadBytes))

	// Transcription defaults
	v.SetDefault("transcription.enabled", true)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" && c.Database.Driver != "sqlite" {
		return fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver)
	}

	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Broker.QueueSize < 1 {
		return fmt.Errorf("broker.queue_size must be at least 1")
	}
	if c.Worker.Count < 1 {
		return fmt.Errorf("worker.count must be at least 1")
	}
	if c.Worker.StaleAfter <= 0 {
		return fmt.Errorf("worker.stale_after must be positive")
	}

	if c.Pipeline.DefaultIntervalSec < 1 {
		return fmt.Errorf("pipeline.default_interval_sec must be at least 1")
	}
	if c.Pipeline.SmartSamplingDiffThreshold < 0 || c.Pipeline.SmartSamplingDiffThreshold > 1 {
		return fmt.Errorf("pipeline.smart_sampling_diff_threshold must be in [0, 1]")
	}
	if c.Pipeline.SmartSamplingMinKeep < 1 {
		return fmt.Errorf("pipeline.smart_sampling_min_keep must be at least 1")
	}

	if c.Detection.MinConfidence < 0 || c.Detection.MinConfidence > 1 {
		return fmt.Errorf("detection.min_confidence must be in [0, 1]")
	}
	if c.Detection.MinConsecutive < 1 {
		return fmt.Errorf("detection.min_consecutive must be at least 1")
	}

	for name, n := range map[string]int{
		"discovery.every_n":  c.Discovery.EveryN,
		"open_vocab.every_n": c.OpenVocab.EveryN,
		"verify.every_n":     c.Verify.EveryN,
		"ocr.every_n":        c.OCR.EveryN,
	} {
		if n < 1 {
			return fmt.Errorf("%s must be at least 1", name)
		}
	}

	if c.OCR.MinConfidence < 0 || c.OCR.MinConfidence > 100 {
		return fmt.Errorf("ocr.min_confidence must be in [0, 100]")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StateDSN returns the database DSN, defaulting to a sqlite file
// under the data directory when unset.
func (c *Config) StateDSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	return filepath.Join(c.Storage.DataDir, "state.db")
}

// VideosDir returns the root directory for stored original videos.
func (c *StorageConfig) VideosDir() string {
	return filepath.Join(c.DataDir, "videos")
}

// FramesDir returns the root directory for extracted frames.
func (c *StorageConfig) FramesDir() string {
	return filepath.Join(c.DataDir, "frames")
}

// ReportsDir returns the root directory for generated reports.
func (c *StorageConfig) ReportsDir() string {
	return filepath.Join(c.DataDir, "reports")
}
