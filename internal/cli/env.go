package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/roach88/numbering/internal/config"
	"github.com/roach88/numbering/numbering"
	"github.com/roach88/numbering/store"
	"github.com/roach88/numbering/store/boltstore"
	"github.com/roach88/numbering/store/memstore"
	"github.com/roach88/numbering/store/pebblestore"
	"github.com/roach88/numbering/store/pgstore"
	"github.com/roach88/numbering/store/redisstore"
	"github.com/roach88/numbering/store/sqlitestore"
)

// env is what a command needs to allocate: the merged configuration, a
// logger and an open store.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Optimistic

	closers []io.Closer
}

// loadConfig reads --config (or the defaults) and applies flag overrides.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if o.ConfigPath == "" {
		cfg = config.Default()
	} else {
		var err error
		if cfg, err = config.Load(o.ConfigPath); err != nil {
			return nil, err
		}
	}

	if o.Driver != "" {
		cfg.Store.Driver = o.Driver
	}
	if o.DB != "" {
		switch cfg.Store.Driver {
		case "redis":
			cfg.Store.URL = o.DB
		case "postgres":
			cfg.Store.DSN = o.DB
		default:
			cfg.Store.Path = o.DB
		}
	}
	if o.LogFile != "" {
		cfg.Log.File = o.LogFile
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// openEnv loads the configuration, configures logging and opens the store.
// Failures are command errors.
func (o *RootOptions) openEnv(stderr io.Writer) (*env, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	e := &env{cfg: cfg}
	e.logger = e.newLogger(stderr, o.Format)

	backend, err := openBackend(cfg.Store)
	if err != nil {
		e.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	e.store = store.New(backend)
	e.closers = append(e.closers, e.store)
	e.logger.Debug("store opened", "driver", cfg.Store.Driver)
	return e, nil
}

// newAllocator builds an Allocator from the configuration.
func (e *env) newAllocator(metrics *numbering.Metrics) (*numbering.Allocator, error) {
	opts, err := e.cfg.Options()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}
	opts.Logger = e.logger
	opts.Metrics = metrics
	alloc, err := numbering.New(e.store, opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}
	return alloc, nil
}

// newLogger logs to stderr and, when log.file is set, to a rotating file.
// JSON output gets JSON logs.
func (e *env) newLogger(stderr io.Writer, format string) *slog.Logger {
	w := stderr
	if e.cfg.Log.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   e.cfg.Log.File,
			MaxSize:    e.cfg.Log.MaxSizeMB,
			MaxBackups: e.cfg.Log.MaxBackups,
			MaxAge:     e.cfg.Log.MaxAgeDays,
			Compress:   true,
		}
		e.closers = append(e.closers, rotator)
		w = io.MultiWriter(stderr, rotator)
	}

	handlerOpts := &slog.HandlerOptions{Level: parseLevel(e.cfg.Log.Level)}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Close releases the store and the log file, newest first.
func (e *env) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openBackend opens the backend selected by cfg.Driver.
func openBackend(cfg config.StoreConfig) (store.Backend, error) {
	switch cfg.Driver {
	case "memory":
		return memstore.New(), nil
	case "sqlite":
		return sqlitestore.Open(cfg.Path)
	case "bolt":
		return boltstore.Open(cfg.Path)
	case "pebble":
		return pebblestore.Open(cfg.Path)
	case "redis":
		if cfg.URL == "" {
			return nil, fmt.Errorf("redis driver requires a URL")
		}
		return redisstore.Open(cfg.URL, cfg.Namespace)
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres driver requires a DSN")
		}
		return pgstore.Open(cfg.DSN, cfg.Namespace)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
