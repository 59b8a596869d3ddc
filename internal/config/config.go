// Package config builds the immutable application configuration from
// built-in defaults, a YAML file, a .env file and FISCALXML_* environment
// variables, in increasing order of precedence. Command line flags are
// applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/duynguyendang/fiscalxml/pkg/docstore"
	"github.com/duynguyendang/fiscalxml/pkg/export"
	"github.com/duynguyendang/fiscalxml/pkg/ingest"
	"github.com/duynguyendang/fiscalxml/pkg/walker"
)

// DefaultFile is read when no configuration file is named explicitly.
const DefaultFile = "fiscalxml.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FISCALXML_"

type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Export  ExportConfig  `yaml:"export"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	License LicenseConfig `yaml:"license"`
}

type StoreConfig struct {
	DataDir         string `yaml:"data_dir"`
	Workspace       string `yaml:"workspace"`
	Profile         string `yaml:"profile"`
	InMemory        bool   `yaml:"in_memory"`
	SyncWrites      bool   `yaml:"sync_writes"`
	BlockCacheMB    int    `yaml:"block_cache_mb"`
	IndexCacheMB    int    `yaml:"index_cache_mb"`
	RecordCacheSize int    `yaml:"record_cache_size"`
	StoreRaw        bool   `yaml:"store_raw"`
	StatusPolicy    string `yaml:"status_policy"`
	MaxOpen         int    `yaml:"max_open"`
}

type IngestConfig struct {
	Workers        int           `yaml:"workers"`
	BatchSize      int           `yaml:"batch_size"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
	QueueSize      int           `yaml:"queue_size"`
	MaxFileSizeMB  int           `yaml:"max_file_size_mb"`
	FollowSymlinks bool          `yaml:"follow_symlinks"`
	ArchiveDepth   int           `yaml:"archive_depth"`
}

type ExportConfig struct {
	DateLayout string `yaml:"date_layout"`
	Delimiter  string `yaml:"delimiter"`
	BOM        bool   `yaml:"bom"`
	Columns    string `yaml:"columns"` // comma separated, empty for the default set
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

type LicenseConfig struct {
	Key      string `yaml:"key"`
	Required bool   `yaml:"required"` // refuse imports and exports without a key
}

// Default returns the built-in configuration.
func Default() Config {
	ic := ingest.DefaultConfig()
	return Config{
		Store: StoreConfig{
			DataDir:         "./data",
			Workspace:       "default",
			Profile:         "Ingest-Heavy",
			SyncWrites:      true,
			BlockCacheMB:    256,
			IndexCacheMB:    64,
			RecordCacheSize: 10000,
			StoreRaw:        true,
			StatusPolicy:    docstore.PolicyLastCommitted.String(),
			MaxOpen:         4,
		},
		Ingest: IngestConfig{
			Workers:       ic.Workers,
			BatchSize:     ic.BatchSize,
			FlushInterval: ic.FlushInterval,
			QueueSize:     ic.QueueSize,
			MaxFileSizeMB: 50,
			ArchiveDepth:  3,
		},
		Export: ExportConfig{
			DateLayout: "02/01/2006",
			Delimiter:  ";",
			BOM:        true,
		},
		Server: ServerConfig{Addr: ":8080"},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path (DefaultFile when empty; a missing default file is not
// an error), then envFile (".env" when empty, optional), then the process
// environment, and validates the result.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(dst *string) func(string) error {
		return func(v string) error { *dst = v; return nil }
	}
	num := func(dst *int) func(string) error {
		return func(v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			*dst = n
			return nil
		}
	}
	flag := func(dst *bool) func(string) error {
		return func(v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return err
			}
			*dst = b
			return nil
		}
	}

	bindings := []struct {
		name string
		set  func(string) error
	}{
		{"DATA_DIR", str(&c.Store.DataDir)},
		{"WORKSPACE", str(&c.Store.Workspace)},
		{"PROFILE", str(&c.Store.Profile)},
		{"SYNC_WRITES", flag(&c.Store.SyncWrites)},
		{"STORE_RAW", flag(&c.Store.StoreRaw)},
		{"STATUS_POLICY", str(&c.Store.StatusPolicy)},
		{"WORKERS", num(&c.Ingest.Workers)},
		{"BATCH_SIZE", num(&c.Ingest.BatchSize)},
		{"FLUSH_INTERVAL", func(v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return err
			}
			c.Ingest.FlushInterval = d
			return nil
		}},
		{"QUEUE_SIZE", num(&c.Ingest.QueueSize)},
		{"MAX_FILE_SIZE_MB", num(&c.Ingest.MaxFileSizeMB)},
		{"FOLLOW_SYMLINKS", flag(&c.Ingest.FollowSymlinks)},
		{"EXPORT_COLUMNS", str(&c.Export.Columns)},
		{"EXPORT_DELIMITER", str(&c.Export.Delimiter)},
		{"ADDR", str(&c.Server.Addr)},
		{"LOG_LEVEL", str(&c.Log.Level)},
		{"LOG_FORMAT", str(&c.Log.Format)},
		{"LICENSE_KEY", str(&c.License.Key)},
		{"LICENSE_REQUIRED", flag(&c.License.Required)},
	}
	for _, b := range bindings {
		v, ok := lookup(EnvPrefix + b.name)
		if !ok || v == "" {
			continue
		}
		if err := b.set(v); err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, b.name, err)
		}
	}

	// PORT is honored for container platforms that inject it.
	if port, ok := lookup("PORT"); ok && port != "" {
		if _, set := lookup(EnvPrefix + "ADDR"); !set {
			c.Server.Addr = ":" + port
		}
	}
	return nil
}

// Validate checks if the configuration is valid and returns an error if not.
func (c Config) Validate() error {
	if c.Store.DataDir == "" && !c.Store.InMemory {
		return errors.New("store.data_dir must be set")
	}
	if c.Store.Workspace != "" && (strings.ContainsAny(c.Store.Workspace, `/\`) || c.Store.Workspace == "..") {
		return fmt.Errorf("store.workspace %q must be a plain name", c.Store.Workspace)
	}
	if c.Store.BlockCacheMB <= 0 || c.Store.IndexCacheMB <= 0 {
		return errors.New("store cache sizes must be positive")
	}
	if _, err := docstore.ParseStatusPolicy(c.Store.StatusPolicy); err != nil {
		return fmt.Errorf("store.status_policy: %w", err)
	}
	if err := c.IngestConfig().Validate(); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if c.Ingest.MaxFileSizeMB <= 0 {
		return errors.New("ingest.max_file_size_mb must be positive")
	}
	if c.Ingest.ArchiveDepth < 0 {
		return errors.New("ingest.archive_depth must be non-negative")
	}
	if utf8.RuneCountInString(c.Export.Delimiter) != 1 {
		return fmt.Errorf("export.delimiter must be a single character, got %q", c.Export.Delimiter)
	}
	if c.Export.Columns != "" {
		if _, err := export.ParseColumns(c.Export.Columns); err != nil {
			return fmt.Errorf("export.columns: %w", err)
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// WorkspaceDir is the directory of the configured workspace.
func (c Config) WorkspaceDir() string {
	return filepath.Join(c.Store.DataDir, c.Store.Workspace)
}

// StoreTemplate returns the document store configuration without a data
// directory.
func (c Config) StoreTemplate() docstore.Config {
	policy, _ := docstore.ParseStatusPolicy(c.Store.StatusPolicy)
	cfg := docstore.DefaultConfig("")
	cfg.InMemory = c.Store.InMemory
	cfg.Profile = c.Store.Profile
	cfg.SyncWrites = c.Store.SyncWrites
	cfg.BlockCacheSize = int64(c.Store.BlockCacheMB) << 20
	cfg.IndexCacheSize = int64(c.Store.IndexCacheMB) << 20
	cfg.RecordCacheSize = c.Store.RecordCacheSize
	cfg.StoreRaw = c.Store.StoreRaw
	cfg.StatusPolicy = policy
	return *cfg
}

// StoreConfig returns the document store configuration of the workspace.
func (c Config) StoreConfig() *docstore.Config {
	cfg := c.StoreTemplate()
	if !cfg.InMemory {
		cfg.DataDir = c.WorkspaceDir()
	}
	return &cfg
}

func (c Config) IngestConfig() ingest.Config {
	return ingest.Config{
		Workers:       c.Ingest.Workers,
		BatchSize:     c.Ingest.BatchSize,
		FlushInterval: c.Ingest.FlushInterval,
		QueueSize:     c.Ingest.QueueSize,
	}
}

func (c Config) WalkerOptions() []walker.Option {
	return []walker.Option{
		walker.WithMaxFileSize(int64(c.Ingest.MaxFileSizeMB) << 20),
		walker.WithArchiveDepth(c.Ingest.ArchiveDepth),
		walker.WithFollowSymlinks(c.Ingest.FollowSymlinks),
	}
}

func (c Config) ExportOptions() []export.Option {
	r, _ := utf8.DecodeRuneInString(c.Export.Delimiter)
	return []export.Option{
		export.WithDateLayout(c.Export.DateLayout),
		export.WithDelimiter(r),
		export.WithBOM(c.Export.BOM),
	}
}

// ExportColumns returns the configured columns, nil for the default set.
func (c Config) ExportColumns() ([]export.Column, error) {
	if c.Export.Columns == "" {
		return nil, nil
	}
	return export.ParseColumns(c.Export.Columns)
}
