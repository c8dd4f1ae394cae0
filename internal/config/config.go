// Package config loads the numbering configuration file.
//
// The file is CUE (plain JSON is valid CUE) and is unified with an embedded
// #Config schema that supplies every default, so an empty file is a
// complete configuration.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/numbering/numbering"
)

//go:embed schema.cue
var schemaCUE string

// Config is the decoded configuration.
type Config struct {
	KindNamePrefix string        `json:"kind_name_prefix"`
	Retry          RetryConfig   `json:"retry"`
	Store          StoreConfig   `json:"store"`
	Log            LogConfig     `json:"log"`
	Server         ServerConfig  `json:"server"`
	Publish        PublishConfig `json:"publish"`
}

// RetryConfig holds Go duration strings.
type RetryConfig struct {
	Budget          string `json:"budget"`
	InitialInterval string `json:"initial_interval"`
	MaxInterval     string `json:"max_interval"`
}

// StoreConfig selects and addresses the store backend.
type StoreConfig struct {
	Driver    string `json:"driver"`
	Path      string `json:"path"`
	URL       string `json:"url"`
	DSN       string `json:"dsn"`
	Namespace string `json:"namespace"`
}

// LogConfig configures logging. An empty File logs to stderr only.
type LogConfig struct {
	Level      string `json:"level"`
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen         string `json:"listen"`
	RequestTimeout string `json:"request_timeout"`
}

// PublishConfig configures issuance events. No brokers disables publishing.
type PublishConfig struct {
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
}

// Default returns the configuration of an empty file.
func Default() *Config {
	cfg, err := Parse(nil, "default.cue")
	if err != nil {
		panic(fmt.Sprintf("config: embedded schema defaults are invalid: %v", err))
	}
	return cfg
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, path)
}

// Parse unifies data with the schema and decodes it. name is used in error
// positions.
func Parse(data []byte, name string) (*Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", formatCUEError(err))
	}

	doc := ctx.CompileBytes(data, cue.Filename(name))
	if err := doc.Err(); err != nil {
		return nil, fmt.Errorf("parse config: %w", formatCUEError(err))
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(doc)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid config: %w", formatCUEError(err))
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", formatCUEError(err))
	}
	if _, err := cfg.retryDurations(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if _, err := cfg.Server.Timeout(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

type retryDurations struct {
	budget, initial, max time.Duration
}

func (c *Config) retryDurations() (retryDurations, error) {
	var d retryDurations
	var err error
	if d.budget, err = parseDuration("retry.budget", c.Retry.Budget); err != nil {
		return d, err
	}
	if d.initial, err = parseDuration("retry.initial_interval", c.Retry.InitialInterval); err != nil {
		return d, err
	}
	if d.max, err = parseDuration("retry.max_interval", c.Retry.MaxInterval); err != nil {
		return d, err
	}
	return d, nil
}

// Timeout returns the parsed request timeout.
func (s ServerConfig) Timeout() (time.Duration, error) {
	return parseDuration("server.request_timeout", s.RequestTimeout)
}

func parseDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", field, s)
	}
	return d, nil
}

// Options maps the file settings onto allocator options. Logger, metrics
// and limiter are left for the caller.
func (c *Config) Options() (numbering.Options, error) {
	d, err := c.retryDurations()
	if err != nil {
		return numbering.Options{}, err
	}
	return numbering.Options{
		KindNamePrefix: c.KindNamePrefix,
		RetryBudget:    d.budget,
		InitialBackoff: d.initial,
		MaxBackoff:     d.max,
	}, nil
}

// formatCUEError flattens CUE's error list into one error that names the
// first position.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	msg := first.Error()
	if positions := cueerrors.Positions(first); len(positions) > 0 && positions[0].IsValid() {
		pos := positions[0]
		msg = fmt.Sprintf("%s:%d:%d: %s", pos.Filename(), pos.Line(), pos.Column(), msg)
	}
	if len(errs) > 1 {
		msg = fmt.Sprintf("%s (and %d more errors)", msg, len(errs)-1)
	}
	return fmt.Errorf("%s", msg)
}
