// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env < flags
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	exerrors "github.com/logflow/docexport/pkg/errors"
	"github.com/logflow/docexport/pkg/serializer"
	"github.com/logflow/docexport/pkg/telemetry"
	"github.com/logflow/docexport/pkg/template"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DOCEXPORT_"

// Config holds all docexport configuration.
type Config struct {
	Version int `yaml:"version"`

	Export     ExportConfig     `yaml:"export"`
	Storage    StorageConfig    `yaml:"storage"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Telemetry  telemetry.Config `yaml:"telemetry"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ExportConfig controls how runs are serialized.
type ExportConfig struct {
	Directory       string   `yaml:"directory"`
	Template        string   `yaml:"template"`
	Format          string   `yaml:"format"`      // jsonl | csv | parquet | arrow | xlsx | duckdb
	Compression     string   `yaml:"compression"` // snappy | zstd | gzip | lz4 | none
	BatchSize       int      `yaml:"batch_size"`
	OverwritePolicy string   `yaml:"overwrite_policy"` // error | suffix | replace
	SequenceCheck   string   `yaml:"sequence_check"`   // warn | strict
	SchemaChange    string   `yaml:"schema_change"`    // new_file | error
	Sidecar         bool     `yaml:"sidecar"`
	Timezone        string   `yaml:"timezone"`
	IgnoreStreams   []string `yaml:"ignore_streams"`
	MetadataStreams []string `yaml:"metadata_streams"`
	Jobs            int      `yaml:"jobs"`

	// Plots are decoded loosely: y may be a single name or a list.
	Plots []map[string]any `yaml:"plots"`
}

// StorageConfig selects where artifacts are written.
type StorageConfig struct {
	Backend string   `yaml:"backend"` // local | s3
	S3      S3Config `yaml:"s3"`
}

// S3Config configures the S3 artifact store.
type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Prefix       string `yaml:"prefix"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
	PartSize     int64  `yaml:"part_size"`
}

// CheckpointConfig selects where run progress is recorded.
type CheckpointConfig struct {
	Backend   string        `yaml:"backend"` // none | file | redis
	Mirror    string        `yaml:"mirror"`  // optional second backend
	Directory string        `yaml:"directory"`
	Redis     RedisConfig   `yaml:"redis"`
	Retention time.Duration `yaml:"retention"`
}

// RedisConfig configures the Redis checkpoint backend.
type RedisConfig struct {
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	Database int           `yaml:"database"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaults := serializer.DefaultConfig()

	return &Config{
		Version: 1,
		Export: ExportConfig{
			Directory:       ".",
			Template:        template.Default,
			Format:          defaults.Format,
			Compression:     defaults.FormatOptions.Compression,
			BatchSize:       defaults.FormatOptions.BatchSize,
			OverwritePolicy: string(defaults.OverwritePolicy),
			SequenceCheck:   string(defaults.SequenceCheck),
			SchemaChange:    string(defaults.SchemaChange),
			Timezone:        "Local",
			IgnoreStreams:   defaults.IgnoreStreams,
			MetadataStreams: defaults.MetadataStreams,
			Jobs:            runtime.NumCPU(),
		},
		Storage: StorageConfig{
			Backend: "local",
		},
		Checkpoint: CheckpointConfig{
			Backend:   "none",
			Directory: filepath.Join(homeDir, ".docexport", "checkpoints"),
			Retention: 7 * 24 * time.Hour,
		},
		Telemetry: telemetry.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded

	search []string
	getenv func(string) string
}

// Option configures a Manager.
type Option func(*Manager)

// WithSearchPaths replaces the system, user and project config locations.
func WithSearchPaths(paths ...string) Option {
	return func(m *Manager) { m.search = paths }
}

// WithEnv replaces os.Getenv for environment overrides.
func WithEnv(getenv func(string) string) Option {
	return func(m *Manager) { m.getenv = getenv }
}

// NewManager creates a new configuration manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		config: Default(),
		search: searchPaths(),
		getenv: os.Getenv,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load loads configuration from all sources in priority order. explicit,
// when set, is loaded after the search paths and must exist.
func (m *Manager) Load(explicit string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	for _, path := range m.search {
		if err := m.loadFile(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		m.paths = append(m.paths, path)
	}
	if explicit != "" {
		if err := m.loadFile(explicit); err != nil {
			return err
		}
		m.paths = append(m.paths, explicit)
	}

	return m.loadEnv()
}

// searchPaths returns config file paths in priority order.
func searchPaths() []string {
	var paths []string

	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/docexport/config.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".docexport", "config.yaml"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".docexport.yaml"))
	}
	return paths
}

// loadFile decodes a config file over the current values. Keys absent from
// the file keep their earlier value.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, m.config); err != nil {
		return exerrors.Wrap(err, exerrors.CodeInvalidConfig, "cannot parse config file").WithContext("path", path)
	}
	return nil
}

// loadEnv applies DOCEXPORT_* environment overrides.
func (m *Manager) loadEnv() error {
	c := m.config
	strs := map[string]*string{
		"DIRECTORY":        &c.Export.Directory,
		"TEMPLATE":         &c.Export.Template,
		"FORMAT":           &c.Export.Format,
		"COMPRESSION":      &c.Export.Compression,
		"OVERWRITE_POLICY": &c.Export.OverwritePolicy,
		"SEQUENCE_CHECK":   &c.Export.SequenceCheck,
		"SCHEMA_CHANGE":    &c.Export.SchemaChange,
		"TIMEZONE":         &c.Export.Timezone,
		"STORAGE":          &c.Storage.Backend,
		"S3_BUCKET":        &c.Storage.S3.Bucket,
		"S3_REGION":        &c.Storage.S3.Region,
		"S3_PREFIX":        &c.Storage.S3.Prefix,
		"S3_ENDPOINT":      &c.Storage.S3.Endpoint,
		"CHECKPOINT":       &c.Checkpoint.Backend,
		"CHECKPOINT_DIR":   &c.Checkpoint.Directory,
		"REDIS_ADDR":       &c.Checkpoint.Redis.Address,
		"REDIS_PASSWORD":   &c.Checkpoint.Redis.Password,
		"LOG_LEVEL":        &c.Logging.Level,
		"LOG_FORMAT":       &c.Logging.Format,
	}
	for name, dst := range strs {
		if v := m.getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}

	if v := m.getenv(EnvPrefix + "SIDECAR"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envError("SIDECAR", v, err)
		}
		c.Export.Sidecar = b
	}
	if v := m.getenv(EnvPrefix + "JOBS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return envError("JOBS", v, err)
		}
		c.Export.Jobs = n
	}
	if v := m.getenv(EnvPrefix + "IGNORE_STREAMS"); v != "" {
		c.Export.IgnoreStreams = splitList(v)
	}
	if v := m.getenv(EnvPrefix + "OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
	return nil
}

func envError(name, value string, err error) error {
	return exerrors.Wrap(err, exerrors.CodeInvalidConfig, "invalid environment override").
		WithContext("variable", EnvPrefix+name).
		WithContext("value", value)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.paths...)
}

// Marshal renders the current configuration as YAML.
func (m *Manager) Marshal() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return yaml.Marshal(m.config)
}
