// Package cli provides the fintrack command tree and the initialization
// every command shares: environment, configuration, logging and the
// runtime (store backend, exchange rates, tracker sessions).
package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fintrack/internal/backend"
	"fintrack/internal/config"
	"fintrack/internal/currency"
	applog "fintrack/internal/log"
	"fintrack/internal/services"
)

// LoadEnvFile loads a .env file for local development. A missing default
// file is not an error; a missing explicitly named file is.
func LoadEnvFile(path string) error {
	if path == "" {
		_ = godotenv.Load()
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// SetupLogger builds the application logger from configuration and makes
// it the slog default.
func SetupLogger(cfg *config.Config, out io.Writer) (*applog.Logger, error) {
	level, err := applog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger, err := applog.New(applog.Config{
		Level:     level,
		Format:    cfg.LogFormat,
		Component: applog.ComponentApp,
		Output:    out,
	})
	if err != nil {
		return nil, err
	}
	applog.SetDefault(logger)
	return logger, nil
}

// LoadAndValidateConfig loads configuration from the environment and
// validates it. The error lists every problem found.
func LoadAndValidateConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Runtime is everything a command needs to operate on accounts.
type Runtime struct {
	Config   *config.Config
	Logger   *applog.Logger
	Location *time.Location
	Backend  *backend.BackendResult
	Rates    *currency.Provider
	Sessions *services.SessionManager
}

// NewRuntime opens the configured backend and wires the tracker sessions
// on top of it. Close releases everything it opened.
func NewRuntime(ctx context.Context, cfg *config.Config, logger *applog.Logger) (*Runtime, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	table := currency.DefaultTable()
	if cfg.RatesFile != "" {
		if table, err = currency.LoadTable(cfg.RatesFile); err != nil {
			return nil, err
		}
	}
	var fetcher currency.Fetcher
	if cfg.RatesURL != "" {
		fetcher = currency.NewHTTPFetcher(cfg.RatesURL, cfg.RatesTimeout)
	}
	rates := currency.NewProvider(fetcher, table, cfg.RatesTimeout,
		logger.WithComponent(applog.ComponentCurrency).Slog())

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	result, err := backend.NewFactory(logger.Slog()).CreateBackend(ctx, backendCfg)
	if err != nil {
		return nil, err
	}

	sessions := services.NewSessionManager(services.Deps{
		Store:    result.Store,
		Rates:    rates,
		Location: loc,
		Logger:   logger.Slog(),
	}, cfg.SessionMax, cfg.SessionTTL)

	return &Runtime{
		Config:   cfg,
		Logger:   logger,
		Location: loc,
		Backend:  result,
		Rates:    rates,
		Sessions: sessions,
	}, nil
}

// Close stops every session before closing the backend they read from.
func (r *Runtime) Close() error {
	r.Sessions.Close()
	if r.Backend.Cleanup == nil {
		return nil
	}
	return r.Backend.Cleanup()
}

// Tracker opens a session for account and waits for its first sync.
func (r *Runtime) Tracker(ctx context.Context, account string) (*services.TrackerService, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	t, err := r.Sessions.Get(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("open account %s: %w", account, err)
	}
	return t, nil
}

// ShutdownContext returns a context cancelled on SIGINT or SIGTERM.
func ShutdownContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
