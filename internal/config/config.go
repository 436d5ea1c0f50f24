// Package config loads migration settings from a YAML file, .env.local and
// the environment.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jorgenin/expense-migration/internal/errors"
	"github.com/jorgenin/expense-migration/internal/tables"
)

// DefaultPath is the config file read when no --config is given.
const DefaultPath = "migration.yaml"

// Config represents the application configuration
type Config struct {
	Source      tables.TableRef `yaml:"source"`
	Destination tables.TableRef `yaml:"destination"`
	API         APIConfig       `yaml:"api"`
	Mapping     MappingConfig   `yaml:"mapping"`
	Storage     StorageConfig   `yaml:"storage"`
	Migration   MigrationConfig `yaml:"migration"`
	Ledger      LedgerConfig    `yaml:"ledger"`
	Output      OutputConfig    `yaml:"output"`
	LogLevel    string          `yaml:"log_level"`
	LogFormat   string          `yaml:"log_format"`
}

// APIConfig configures the table service client. The token only comes from
// the environment.
type APIConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
	Token   string   `yaml:"-"`
}

// MappingConfig maps source column names to destination column names.
type MappingConfig struct {
	Columns              map[string]string `yaml:"columns"`
	Skip                 []string          `yaml:"skip"`
	Transforms           map[string]string `yaml:"transforms"`
	AttachmentColumn     string            `yaml:"attachment_column"`
	AttachmentNameColumn string            `yaml:"attachment_name_column"`
}

// StorageConfig configures the object storage bucket. Keys only come from
// the environment.
type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	Folder    string `yaml:"folder"`
	AccessKey string `yaml:"-"`
	SecretKey string `yaml:"-"`
}

// MigrationConfig tunes paging, batching and pacing.
type MigrationConfig struct {
	BatchSize        int      `yaml:"batch_size"`
	PageSize         int      `yaml:"page_size"`
	IDChunkSize      int      `yaml:"id_chunk_size"`
	InsertDelay      Duration `yaml:"insert_delay"`
	PageDelay        Duration `yaml:"page_delay"`
	DownloadTimeout  Duration `yaml:"download_timeout"`
	AttachmentsMaxMB int64    `yaml:"attachments_max_mb"`
	ScratchDir       string   `yaml:"scratch_dir"`
	StagingDir       string   `yaml:"staging_dir"`
}

// LedgerConfig selects where ledgers and result lists are kept.
type LedgerConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	Key     string `yaml:"key"`
}

// OutputConfig names optional report files.
type OutputConfig struct {
	ResultsXLSX string `yaml:"results_xlsx"`
	EventsPath  string `yaml:"events_path"`
}

// Duration is a time.Duration written as a string such as "500ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return errors.Wrapf(err, "line %d: invalid duration", value.Line)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the configuration used before any file or variable is
// applied.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: tables.DefaultBaseURL,
			Timeout: Duration(60 * time.Second),
		},
		Migration: MigrationConfig{
			BatchSize:        20,
			PageSize:         100,
			IDChunkSize:      50,
			InsertDelay:      Duration(time.Second),
			PageDelay:        Duration(500 * time.Millisecond),
			DownloadTimeout:  Duration(60 * time.Second),
			AttachmentsMaxMB: 50,
			StagingDir:       filepath.Join(".migration", "staging"),
		},
		Ledger: LedgerConfig{
			Backend: "file",
			Path:    ".migration",
			Key:     "failed_rows",
		},
		LogLevel:  "info",
		LogFormat: "console",
	}
}

// Load loads configuration from multiple sources with precedence:
// 1. Environment variables
// 2. ./.env.local (dotenv) - walks up parent directories to find it
// 3. the YAML file at path (DefaultPath when empty)
// 4. Default()
//
// A missing file is only an error when path was given explicitly.
func Load(path string) (*Config, error) {
	cfg := Default()

	// Load .env.local if it exists (walking up parent directories)
	if envPath := findEnvLocal(); envPath != "" {
		_ = godotenv.Load(envPath)
	}

	load := true
	if path == "" {
		path = DefaultPath
		if _, err := os.Stat(path); os.IsNotExist(err) {
			load = false
		}
	}
	if load {
		if err := loadYAMLConfig(cfg, path); err != nil {
			return nil, errors.Configuration(err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// loadYAMLConfig overlays the file at path onto cfg.
func loadYAMLConfig(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Wrapf(err, "parse config %s", path)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if token := getEnvOrFile("CODA_API_TOKEN", "CODA_API_TOKEN_FILE"); token != "" {
		cfg.API.Token = token
	}
	if key := getEnvOrFile("SPACES_ACCESS_KEY", "SPACES_ACCESS_KEY_FILE"); key != "" {
		cfg.Storage.AccessKey = key
	}
	if secret := getEnvOrFile("SPACES_SECRET_KEY", "SPACES_SECRET_KEY_FILE"); secret != "" {
		cfg.Storage.SecretKey = secret
	}
	if logLevel := os.Getenv("MIGRATE_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat := os.Getenv("MIGRATE_LOG_FORMAT"); logFormat != "" {
		cfg.LogFormat = logFormat
	}
	if backend := os.Getenv("MIGRATE_LEDGER_BACKEND"); backend != "" {
		cfg.Ledger.Backend = backend
	}
	if ledgerPath := os.Getenv("MIGRATE_LEDGER_PATH"); ledgerPath != "" {
		cfg.Ledger.Path = ledgerPath
	}
}

// Validate reports every missing or invalid required setting in one
// configuration error.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	check(c.Source.DocID != "" && c.Source.TableID != "", "source.doc_id and source.table_id are required")
	check(c.Destination.DocID != "" && c.Destination.TableID != "", "destination.doc_id and destination.table_id are required")
	check(c.API.Token != "", "CODA_API_TOKEN is not set")
	check(len(c.Mapping.Columns) > 0, "mapping.columns is empty")
	check(c.Migration.BatchSize > 0, "migration.batch_size must be positive")
	check(c.Migration.PageSize > 0, "migration.page_size must be positive")
	check(c.Migration.IDChunkSize > 0, "migration.id_chunk_size must be positive")
	check(c.Migration.StagingDir != "", "migration.staging_dir is required")
	check(c.Ledger.Path != "", "ledger.path is required")
	if c.Mapping.AttachmentColumn != "" {
		check(c.Storage.Endpoint != "", "storage.endpoint is required for attachments")
		check(c.Storage.Bucket != "", "storage.bucket is required for attachments")
		check(c.Storage.AccessKey != "" && c.Storage.SecretKey != "", "SPACES_ACCESS_KEY and SPACES_SECRET_KEY are required for attachments")
		_, mapped := c.Mapping.Columns[c.Mapping.AttachmentColumn]
		check(mapped, "mapping.attachment_column must be one of mapping.columns")
	}
	switch strings.ToLower(c.Ledger.Backend) {
	case "", "file", "sqlite", "bolt":
	default:
		problems = append(problems, "ledger.backend must be file, sqlite or bolt")
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.Configuration(errors.WithHint(
		errors.Newf("invalid configuration: %s", strings.Join(problems, "; ")),
		"secrets are read from the environment or .env.local",
	))
}

// getEnvOrFile gets an environment variable value, or reads it from a file
// if the _FILE variant is set
func getEnvOrFile(envVar, fileVar string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}

	if filePath := os.Getenv(fileVar); filePath != "" {
		data, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(data))
		}
	}

	return ""
}

// findEnvLocal searches for .env.local starting from cwd and walking up
// parent directories. Stops at the user's home directory.
// Returns the path to .env.local if found, empty string otherwise.
func findEnvLocal() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		if _, err := os.Stat(".env.local"); err == nil {
			return ".env.local"
		}
		return ""
	}

	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	homeDir = filepath.Clean(homeDir)
	dir := filepath.Clean(cwd)

	for {
		envPath := filepath.Join(dir, ".env.local")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
		if dir == homeDir {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// LedgerLocation returns where the ledger store lives. The file backend
// uses ledger.path as a directory; sqlite and bolt put their database file
// inside it unless ledger.path already names a file.
func (c *Config) LedgerLocation() string {
	p := c.Ledger.Path
	if filepath.Ext(p) != "" {
		return p
	}
	switch strings.ToLower(c.Ledger.Backend) {
	case "sqlite":
		return filepath.Join(p, "migration.db")
	case "bolt":
		return filepath.Join(p, "ledger.bolt")
	default:
		return p
	}
}
