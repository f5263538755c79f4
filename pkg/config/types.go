package config

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Security  SecurityConfig  `yaml:"security"`
	Logging   LoggingConfig   `yaml:"logging"`
	Upload    UploadConfig    `yaml:"upload"`
	Retention RetentionConfig `yaml:"retention"`
}

// ServerConfig holds http, storage and tls settings.
type ServerConfig struct {
	Address   string    `yaml:"address"`
	Port      int       `yaml:"port"`
	DBPath    string    `yaml:"db_path"`
	UploadDir string    `yaml:"upload_dir"`
	TLS       TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// SecurityConfig holds api keys, rate limits and CORS settings.
type SecurityConfig struct {
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	APIKeys struct {
		Backend     []string `yaml:"backend"`
		Frontend    []string `yaml:"frontend"`
		AllowUnauth bool     `yaml:"allow_unauth"`
	} `yaml:"api_keys"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// UploadConfig holds attachment validation ceilings. Sizes are humanized
// strings ("10MB"); zero values fall back to the fixed defaults below.
type UploadConfig struct {
	MaxImageSize    string `yaml:"max_image_size"`
	MaxDocumentSize string `yaml:"max_document_size"`
	MaxArchiveSize  string `yaml:"max_archive_size"`
}

const (
	DefaultMaxImageBytes    = 10 * 1024 * 1024
	DefaultMaxDocumentBytes = 25 * 1024 * 1024
	DefaultMaxArchiveBytes  = 10 * 1024 * 1024
)

func parseSize(s string, def uint64) (int64, error) {
	if s == "" {
		return int64(def), nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return int64(n), nil
}

// MaxImageBytes returns the image ceiling in bytes.
func (u UploadConfig) MaxImageBytes() (int64, error) {
	return parseSize(u.MaxImageSize, DefaultMaxImageBytes)
}

// MaxDocumentBytes returns the document ceiling in bytes.
func (u UploadConfig) MaxDocumentBytes() (int64, error) {
	return parseSize(u.MaxDocumentSize, DefaultMaxDocumentBytes)
}

// MaxArchiveBytes returns the archive ceiling in bytes.
func (u UploadConfig) MaxArchiveBytes() (int64, error) {
	return parseSize(u.MaxArchiveSize, DefaultMaxArchiveBytes)
}

// RetentionConfig holds configuration for the automatic purge runner.
type RetentionConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Cron      string `yaml:"cron"`
	Period    string `yaml:"period"`
	BatchSize int    `yaml:"batch_size"`
}

// PeriodDuration parses the retention period ("720h", "30d" is not
// supported; use hours). Empty means retention keeps everything.
func (r RetentionConfig) PeriodDuration() (time.Duration, error) {
	if r.Period == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(r.Period)
	if err != nil {
		return 0, fmt.Errorf("invalid retention period %q: %w", r.Period, err)
	}
	return d, nil
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	host := c.Server.Address
	port := c.Server.Port
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf("%s:%d", host, port)
}
