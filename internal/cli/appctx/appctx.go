// Package appctx provides a shared bootstrap helper for CLI commands.
// It centralizes config loading, logger construction, and wiring of the
// table client, ledger store, object storage and attachment pipeline.
package appctx

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jorgenin/expense-migration/internal/attach"
	"github.com/jorgenin/expense-migration/internal/config"
	"github.com/jorgenin/expense-migration/internal/errors"
	"github.com/jorgenin/expense-migration/internal/events"
	"github.com/jorgenin/expense-migration/internal/logging"
	"github.com/jorgenin/expense-migration/internal/migrate"
	"github.com/jorgenin/expense-migration/internal/schema"
	"github.com/jorgenin/expense-migration/internal/storage"
	"github.com/jorgenin/expense-migration/internal/store"
	"github.com/jorgenin/expense-migration/internal/tables"
)

// App holds the shared application context for commands.
type App struct {
	// Config is the loaded, validated configuration
	Config *config.Config

	Logger *zap.Logger

	// API is the table service client
	API *tables.Client

	// Store holds ledgers and result lists (nil if NeedsStore is false)
	Store store.Store

	// Uploader is set when object storage is configured
	Uploader *storage.Uploader

	// Attachments is set when an attachment column is configured
	Attachments *attach.Pipeline

	// Sinks receive progress events
	Sinks []events.Sink

	closers []func() error
}

// Close releases resources held by the App.
// Safe to call multiple times.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.Logger != nil {
			a.Logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
}

// Options configures the bootstrap behavior.
type Options struct {
	// NeedsStore indicates whether to open the ledger store and event sinks.
	NeedsStore bool
}

// DefaultOptions returns default options (store required).
func DefaultOptions() Options {
	return Options{NeedsStore: true}
}

// RunFunc is the signature for command run functions.
type RunFunc func(app *App, cmd *cobra.Command, args []string) error

// WithApp wraps a command's run function with shared bootstrap logic.
// Resources are released automatically when the wrapped function returns.
func WithApp(opts Options, fn RunFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := Bootstrap(cmd, opts)
		if err != nil {
			return err
		}
		defer app.Close()

		return fn(app, cmd, args)
	}
}

// Bootstrap initializes the App according to the given options.
// Callers are responsible for calling App.Close() when done.
func Bootstrap(cmd *cobra.Command, opts Options) (*App, error) {
	cfg, err := config.Load(flagValue(cmd, "config"))
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	if level := flagValue(cmd, "log-level"); level != "" {
		cfg.LogLevel = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return Build(cfg, opts)
}

// Build wires an App from an already validated configuration.
func Build(cfg *config.Config, opts Options) (*App, error) {
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, errors.Configuration(errors.Wrap(err, "build logger"))
	}
	app := &App{Config: cfg, Logger: logger}

	app.API = tables.New(tables.Options{
		BaseURL: cfg.API.BaseURL,
		Token:   cfg.API.Token,
		Timeout: cfg.API.Timeout.Std(),
	})

	if cfg.Storage.Endpoint != "" && cfg.Storage.Bucket != "" {
		sc := storage.Config{
			Endpoint:  cfg.Storage.Endpoint,
			Region:    cfg.Storage.Region,
			Bucket:    cfg.Storage.Bucket,
			Folder:    cfg.Storage.Folder,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
		}
		app.Uploader, err = storage.New(storage.NewClient(sc), sc, logger)
		if err != nil {
			app.Close()
			return nil, err
		}
	}

	if cfg.Mapping.AttachmentColumn != "" {
		app.Attachments = attach.NewPipeline(
			attach.NewHTTPDownloader(cfg.Migration.DownloadTimeout.Std()),
			attach.NewPDFConverter(),
			attach.Options{MaxMB: cfg.Migration.AttachmentsMaxMB, ScratchDir: cfg.Migration.ScratchDir},
			logger,
		)
	}

	app.Sinks = []events.Sink{events.NewLogSink(logger)}
	if opts.NeedsStore {
		if err := app.openStore(); err != nil {
			app.Close()
			return nil, err
		}
		if err := app.openEventFile(); err != nil {
			app.Close()
			return nil, err
		}
	}
	return app, nil
}

func (a *App) openStore() error {
	s, err := store.Open(a.Config.Ledger.Backend, a.Config.LedgerLocation())
	if err != nil {
		return errors.Ledger(errors.Wrap(err, "open ledger store"))
	}
	a.Store = s
	a.closers = append(a.closers, s.Close)

	if sq, ok := s.(*store.SQLiteStore); ok {
		a.Sinks = append(a.Sinks, events.NewWriter(sq.DB().DB))
	}
	return nil
}

func (a *App) openEventFile() error {
	path := a.Config.Output.EventsPath
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "create events directory")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "open events file %s", path)
	}
	a.Sinks = append(a.Sinks, events.NewJSONSink(f))
	a.closers = append(a.closers, f.Close)
	return nil
}

// Orchestrator builds the migration orchestrator for this App.
func (a *App) Orchestrator() (*migrate.Orchestrator, error) {
	cfg := a.Config
	deps := migrate.Deps{
		API:      a.API,
		Store:    a.Store,
		Registry: schema.NewRegistry(),
		Sinks:    a.Sinks,
		Logger:   a.Logger,
	}
	// Typed nils must not reach the interfaces.
	if a.Attachments != nil {
		deps.Attachments = a.Attachments
	}
	if a.Uploader != nil {
		deps.Uploader = a.Uploader
	}
	return migrate.New(MigrateConfig(cfg), deps)
}

// MigrateConfig translates the file configuration into run settings.
func MigrateConfig(cfg *config.Config) migrate.Config {
	return migrate.Config{
		Source: cfg.Source,
		Dest:   cfg.Destination,
		Mapping: migrate.MappingConfig{
			Columns:              cfg.Mapping.Columns,
			Skip:                 cfg.Mapping.Skip,
			Transforms:           cfg.Mapping.Transforms,
			AttachmentColumn:     cfg.Mapping.AttachmentColumn,
			AttachmentNameColumn: cfg.Mapping.AttachmentNameColumn,
		},
		BatchSize:   cfg.Migration.BatchSize,
		PageSize:    cfg.Migration.PageSize,
		IDChunkSize: cfg.Migration.IDChunkSize,
		InsertDelay: cfg.Migration.InsertDelay.Std(),
		PageDelay:   cfg.Migration.PageDelay.Std(),
		StagingDir:  cfg.Migration.StagingDir,
		LedgerKey:   cfg.Ledger.Key,
	}
}

func flagValue(cmd *cobra.Command, name string) string {
	if cmd == nil {
		return ""
	}
	if f := cmd.Flag(name); f != nil {
		return f.Value.String()
	}
	return ""
}
