package model

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds the complete markxiv configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Cache   CacheConfig   `yaml:"cache" mapstructure:"cache"`
	Convert ConvertConfig `yaml:"convert" mapstructure:"convert"`
	Source  SourceConfig  `yaml:"source" mapstructure:"source"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// ServerConfig configures the HTTP surface
type ServerConfig struct {
	Addr         string        `yaml:"addr" mapstructure:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IndexPath    string        `yaml:"index_path" mapstructure:"index_path"`
}

// CacheConfig configures both cache tiers
type CacheConfig struct {
	MemoryCapacity int           `yaml:"memory_capacity" mapstructure:"memory_capacity"`
	Dir            string        `yaml:"dir" mapstructure:"dir"`
	DiskCapBytes   int64         `yaml:"disk_cap_bytes" mapstructure:"disk_cap_bytes"` // 0 disables the disk tier
	SweepInterval  time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
}

// DiskEnabled reports whether the disk tier should be used
func (c CacheConfig) DiskEnabled() bool {
	return c.DiskCapBytes > 0
}

// ConvertConfig configures the external converters
type ConvertConfig struct {
	MaxConcurrency int           `yaml:"max_concurrency" mapstructure:"max_concurrency"` // 0 means one per CPU
	LatexTimeout   time.Duration `yaml:"latex_timeout" mapstructure:"latex_timeout"`
	PDFTimeout     time.Duration `yaml:"pdf_timeout" mapstructure:"pdf_timeout"`
	PandocPath     string        `yaml:"pandoc_path" mapstructure:"pandoc_path"`
	PdftotextPath  string        `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	TarPath        string        `yaml:"tar_path" mapstructure:"tar_path"`
	WorkDir        string        `yaml:"work_dir" mapstructure:"work_dir"`
}

// SourceConfig configures the arXiv client
type SourceConfig struct {
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
	APIURL            string        `yaml:"api_url" mapstructure:"api_url"`
	UserAgent         string        `yaml:"user_agent" mapstructure:"user_agent"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int           `yaml:"burst" mapstructure:"burst"`
	MetadataTTL       time.Duration `yaml:"metadata_ttl" mapstructure:"metadata_ttl"`
	RespectRobots     bool          `yaml:"respect_robots" mapstructure:"respect_robots"`
	BreakerFailures   uint32        `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerTimeout    time.Duration `yaml:"breaker_timeout" mapstructure:"breaker_timeout"`
	HTTPProxy         string        `yaml:"http_proxy" mapstructure:"http_proxy"`
	HTTPSProxy        string        `yaml:"https_proxy" mapstructure:"https_proxy"`
	NoProxy           string        `yaml:"no_proxy" mapstructure:"no_proxy"`
}

// LogConfig configures the process logger
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // console or json
	Output string `yaml:"output" mapstructure:"output"` // stdout, stderr or a file path
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 5 * time.Minute,
			IndexPath:    filepath.Join("content", "index.md"),
		},
		Cache: CacheConfig{
			MemoryCapacity: 128,
			Dir:            "cache",
			DiskCapBytes:   0,
			SweepInterval:  10 * time.Minute,
		},
		Convert: ConvertConfig{
			MaxConcurrency: 0,
			LatexTimeout:   8 * time.Second,
			PDFTimeout:     3 * time.Minute,
			PandocPath:     "pandoc",
			PdftotextPath:  "pdftotext",
			TarPath:        "tar",
			WorkDir:        filepath.Join(os.TempDir(), "markxiv"),
		},
		Source: SourceConfig{
			BaseURL:           "https://arxiv.org",
			APIURL:            "https://export.arxiv.org/api/query",
			UserAgent:         "markxiv/0.2 (+https://github.com/ppiankov/markxiv)",
			Timeout:           15 * time.Second,
			RequestsPerSecond: 1,
			Burst:             4,
			MetadataTTL:       time.Hour,
			RespectRobots:     false,
			BreakerFailures:   5,
			BreakerTimeout:    30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}
