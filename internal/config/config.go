// Package config defines the ingest pipeline's configuration surface.
// The struct, its YAML (de)serialization, and its preflight validation
// live here; translating environment variables or CLI flags into a
// Config is an external collaborator's job (see SPEC_FULL.md's Ambient
// Stack section).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/samjhill/ghostroll/pkg/ghosterr"
)

// DerivativeConfig controls one rendered-JPEG tier (share or thumb).
type DerivativeConfig struct {
	MaxLongEdge int `yaml:"max_long_edge"`
	Quality     int `yaml:"quality"`
}

// Config is the complete set of knobs the ingest pipeline needs.
type Config struct {
	// Volume identification.
	SDLabel    string   `yaml:"sd_label"`
	MountRoots []string `yaml:"mount_roots"`
	PollSeconds float64 `yaml:"poll_seconds"`

	// Output layout.
	BaseOutputDir   string `yaml:"base_output_dir"`
	DBPath          string `yaml:"db_path"`
	StatusPath      string `yaml:"status_path"`
	StatusImagePath string `yaml:"status_image_path"`
	StatusImageSize [2]int `yaml:"status_image_size"`

	// Object storage.
	S3Bucket             string        `yaml:"s3_bucket"`
	S3PrefixRoot         string        `yaml:"s3_prefix_root"`
	S3Endpoint           string        `yaml:"s3_endpoint"`
	S3Region             string        `yaml:"s3_region"`
	S3ForcePathStyle     bool          `yaml:"s3_force_path_style"`
	PresignExpirySeconds int           `yaml:"presign_expiry_seconds"`
	MultipartThreshold   int64         `yaml:"multipart_threshold_bytes"`
	MultipartChunkSize   int64         `yaml:"multipart_chunk_size_bytes"`
	MultipartConcurrency int           `yaml:"multipart_concurrency"`
	UploadTimeout        time.Duration `yaml:"upload_timeout"`

	// Derivative rendering.
	Share DerivativeConfig `yaml:"share"`
	Thumb DerivativeConfig `yaml:"thumb"`

	// Worker pool sizes, one per pipeline stage.
	HashWorkers    int `yaml:"hash_workers"`
	CopyWorkers    int `yaml:"copy_workers"`
	ProcessWorkers int `yaml:"process_workers"`
	UploadWorkers  int `yaml:"upload_workers"`
	PresignWorkers int `yaml:"presign_workers"`

	// Archival of the raw originals alongside the JPEG share archive.
	BuildRawArchive bool `yaml:"build_raw_archive"`

	// Web gallery / status server toggle; this module only honors it
	// to decide whether to build a gallery document at all — serving
	// it over HTTP is out of scope.
	WebEnabled bool   `yaml:"web_enabled"`
	WebHost    string `yaml:"web_host"`
	WebPort    int    `yaml:"web_port"`
}

// DefaultConfig returns the pipeline's out-of-the-box configuration.
func DefaultConfig() *Config {
	return &Config{
		SDLabel:     "EOS_DIGITAL",
		MountRoots:  []string{"/Volumes", "/media", "/run/media", "/mnt"},
		PollSeconds: 2.0,

		BaseOutputDir:   "/var/lib/ghostroll/sessions",
		DBPath:          "/var/lib/ghostroll/ingested.sqlite3",
		StatusPath:      "/run/ghostroll/status.json",
		StatusImagePath: "/run/ghostroll/status.png",
		StatusImageSize: [2]int{250, 122},

		S3PrefixRoot:         "ghostroll",
		PresignExpirySeconds: 7 * 24 * 3600,
		MultipartThreshold:   100 << 20,
		MultipartChunkSize:   8 << 20,
		MultipartConcurrency: 10,
		UploadTimeout:        5 * time.Minute,

		Share: DerivativeConfig{MaxLongEdge: 2048, Quality: 85},
		Thumb: DerivativeConfig{MaxLongEdge: 512, Quality: 80},

		HashWorkers:    4,
		CopyWorkers:    4,
		ProcessWorkers: 4,
		UploadWorkers:  6,
		PresignWorkers: 6,

		BuildRawArchive: false,

		WebEnabled: false,
		WebHost:    "127.0.0.1",
		WebPort:    8765,
	}
}

// LoadFromFile reads a YAML document into a copy of DefaultConfig,
// so unset fields keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes cfg as YAML, creating parent directories as
// needed.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate runs the doctor-style preflight checks the operator would
// otherwise only discover once a card is inserted: base directories
// exist or can be created, worker pool sizes are sane, and the derived
// image settings are self-consistent.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.SDLabel) == "" {
		return ghosterr.New(ghosterr.CodeMissingConfig, "sd_label must not be empty")
	}
	if len(c.MountRoots) == 0 {
		return ghosterr.New(ghosterr.CodeMissingConfig, "mount_roots must list at least one root")
	}
	if c.PollSeconds <= 0 {
		return ghosterr.New(ghosterr.CodeInvalidConfig, "poll_seconds must be greater than 0")
	}

	if strings.TrimSpace(c.S3Bucket) == "" {
		return ghosterr.New(ghosterr.CodeMissingConfig, "s3_bucket must not be empty")
	}
	if c.PresignExpirySeconds <= 0 {
		return ghosterr.New(ghosterr.CodeInvalidConfig, "presign_expiry_seconds must be greater than 0")
	}
	if c.MultipartThreshold <= 0 || c.MultipartChunkSize <= 0 {
		return ghosterr.New(ghosterr.CodeInvalidConfig, "multipart thresholds must be positive")
	}

	for name, d := range map[string]DerivativeConfig{"share": c.Share, "thumb": c.Thumb} {
		if d.MaxLongEdge <= 0 {
			return ghosterr.New(ghosterr.CodeInvalidConfig, fmt.Sprintf("%s.max_long_edge must be greater than 0", name))
		}
		if d.Quality <= 0 || d.Quality > 100 {
			return ghosterr.New(ghosterr.CodeInvalidConfig, fmt.Sprintf("%s.quality must be in 1..100", name))
		}
	}

	for name, n := range map[string]int{
		"hash_workers":    c.HashWorkers,
		"copy_workers":    c.CopyWorkers,
		"process_workers": c.ProcessWorkers,
		"upload_workers":  c.UploadWorkers,
		"presign_workers": c.PresignWorkers,
	} {
		if n <= 0 {
			return ghosterr.New(ghosterr.CodeInvalidConfig, fmt.Sprintf("%s must be greater than 0", name))
		}
	}

	for _, dir := range []string{c.BaseOutputDir, filepath.Dir(c.DBPath), filepath.Dir(c.StatusPath)} {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return ghosterr.Wrap(ghosterr.CodeInvalidConfig, err, fmt.Sprintf("cannot create required directory %s", dir))
		}
	}

	return nil
}
