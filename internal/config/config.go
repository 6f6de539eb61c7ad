// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrPublicBaseURLRequired is returned when PUBLIC_BASE_URL is not set.
	ErrPublicBaseURLRequired = errors.New("config: PUBLIC_BASE_URL is required")
	// ErrInvalidCanvas is returned when canvas dimensions are not positive.
	ErrInvalidCanvas = errors.New("config: canvas dimensions must be positive")
	// ErrInvalidDurations is returned when duration settings are not positive.
	ErrInvalidDurations = errors.New("config: durations must be positive")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// PublicBaseURL is the externally visible base URL under which finished
	// videos are served, e.g. "https://media.example.com/videos".
	PublicBaseURL string `env:"PUBLIC_BASE_URL, required" json:"public_base_url"`

	// Storage settings
	VideoDir string `env:"VIDEO_DIR, default=./videos" json:"video_dir"`
	TempDir  string `env:"TEMP_DIR, default=/tmp/slidereel" json:"temp_dir"`

	// Canvas / timing settings
	CanvasWidth        int     `env:"CANVAS_WIDTH, default=1080" json:"canvas_width"`
	CanvasHeight       int     `env:"CANVAS_HEIGHT, default=1920" json:"canvas_height"`
	FPS                int     `env:"FPS, default=25" json:"fps"`
	DefaultDurationSec float64 `env:"DEFAULT_DURATION_SEC, default=3" json:"default_duration_sec"`
	MinDurationSec     float64 `env:"MIN_DURATION_SEC, default=1" json:"min_duration_sec"`
	FitMode            string  `env:"FIT_MODE, default=blur" json:"fit_mode"` // "contain", "cover" or "blur"
	KenBurns           bool    `env:"KEN_BURNS, default=false" json:"ken_burns"`

	// PlaceholderFrames keeps the slide count stable by rendering a
	// placeholder frame for images that failed to resolve. When false,
	// failed images are dropped and the sequence shrinks.
	PlaceholderFrames bool `env:"PLACEHOLDER_FRAMES, default=false" json:"placeholder_frames"`

	// Image intake settings
	MaxImages        int           `env:"MAX_IMAGES, default=12" json:"max_images"`
	ImageHosts       []string      `env:"IMAGE_HOSTS, default=ebayimg.com" json:"image_hosts"`
	MinImageBytes    int64         `env:"MIN_IMAGE_BYTES, default=2048" json:"min_image_bytes"`
	FetchTimeout     time.Duration `env:"FETCH_TIMEOUT, default=8s" json:"fetch_timeout"`
	FetchConcurrency int           `env:"FETCH_CONCURRENCY, default=4" json:"fetch_concurrency"`

	// Job settings
	JobTimeout  time.Duration `env:"JOB_TIMEOUT, default=4m" json:"job_timeout"`
	WorkerCount int           `env:"WORKER_COUNT, default=2" json:"worker_count"`
	QueueSize   int           `env:"QUEUE_SIZE, default=64" json:"queue_size"`

	// Encoder settings
	FFmpegPath    string `env:"FFMPEG_PATH" json:"ffmpeg_path,omitempty"`
	VideoCRF      int    `env:"VIDEO_CRF, default=23" json:"video_crf"`
	VideoMaxRateK int    `env:"VIDEO_MAXRATE_K, default=4500" json:"video_maxrate_k"`
	VideoBufSizeK int    `env:"VIDEO_BUFSIZE_K, default=9000" json:"video_bufsize_k"`
	SilentAudio   bool   `env:"SILENT_AUDIO, default=true" json:"silent_audio"`

	// Optional credits/licensing collaborator
	CreditsURL    string `env:"CREDITS_URL" json:"credits_url,omitempty"`
	CreditsAPIKey string `env:"CREDITS_API_KEY" json:"-"` // Masked in JSON

	// Cleanup settings
	CleanupTTL   time.Duration `env:"CLEANUP_TTL, default=6h" json:"cleanup_ttl"`
	CleanupEvery time.Duration `env:"CLEANUP_EVERY, default=1h" json:"cleanup_every"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"` // For S3-compatible services
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// CreditsEnabled returns true if the credits collaborator is configured.
func (c *Config) CreditsEnabled() bool {
	return c.CreditsURL != ""
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		if strings.Contains(err.Error(), "PUBLIC_BASE_URL") {
			return nil, ErrPublicBaseURLRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and coherent.
func (c *Config) Validate() error {
	if c.PublicBaseURL == "" {
		return ErrPublicBaseURLRequired
	}
	if c.CanvasWidth <= 0 || c.CanvasHeight <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidCanvas, c.CanvasWidth, c.CanvasHeight)
	}
	if c.DefaultDurationSec <= 0 || c.MinDurationSec <= 0 {
		return ErrInvalidDurations
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, PublicBaseURL: %s, VideoDir: %s, TempDir: %s, Canvas: %dx%d@%dfps, FitMode: %s, MaxImages: %d, Workers: %d, S3Bucket: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.PublicBaseURL,
		c.VideoDir,
		c.TempDir,
		c.CanvasWidth,
		c.CanvasHeight,
		c.FPS,
		c.FitMode,
		c.MaxImages,
		c.WorkerCount,
		c.S3Bucket,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
