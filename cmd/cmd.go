// Package cmd provides the kaiwa command-line interface.
//
// Commands:
//   - init: provision the conversation tables and search indexes
//   - sessions: list, show, search and clean up stored conversations
//   - version: show build and configuration information
//
// Signal handling and graceful shutdown are implemented for all commands
// via context cancellation.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kaiwa0/kaiwa/internal/config"
	"github.com/kaiwa0/kaiwa/internal/log"
	"github.com/kaiwa0/kaiwa/internal/observability"
	"github.com/kaiwa0/kaiwa/session"
	"github.com/kaiwa0/kaiwa/tablestore"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "development"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

// Execute is the main entry point for the kaiwa CLI.
func Execute() error {
	// --version answers even when the environment holds no usable store
	// configuration.
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v":
			fmt.Println(versionLine())
			return nil
		}
	}

	logger := bootstrapLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger = configuredLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdown, err := observability.SetupTracing(ctx, observability.Config{
			AgentHost:   cfg.Tracing.AgentHost,
			Environment: cfg.Tracing.Environment,
			ServiceName: cfg.Tracing.ServiceName,
		})
		if err != nil {
			logger.Warn("tracing disabled", "error", err)
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Warn("tracing shutdown", "error", err)
				}
			}()
		}
	}

	store, err := buildStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("connect store: %w", err)
	}

	return newRoot(cfg, store).ExecuteContext(ctx)
}

// bootstrapLogger covers the window before the configuration is loaded.
// DEBUG in the environment raises the level.
func bootstrapLogger() log.Logger {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level})
}

// configuredLogger rebuilds the logger from the loaded configuration. The
// DEBUG environment variable still wins, so a one-off debug run does not
// need a config edit.
func configuredLogger(cfg *config.Config) log.Logger {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		slog.Warn("unknown log level, using info", "log_level", cfg.LogLevel)
	}
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: cfg.LogJSON})
}

// buildStore wires the Tablestore backend into a session store.
func buildStore(cfg *config.Config, logger log.Logger) (*session.Store, error) {
	backend, err := tablestore.New(tablestore.Config{
		Endpoint:        cfg.OTSEndpoint,
		Instance:        cfg.OTSInstance,
		AccessKeyID:     cfg.OTSAccessKeyID,
		AccessKeySecret: cfg.OTSAccessKeySecret,
		SecurityToken:   cfg.OTSSecurityToken,
	},
		tablestore.WithLogger(logger),
		tablestore.WithRateLimit(float64(cfg.RateLimitQPS)),
		tablestore.WithHTTPTimeout(time.Duration(cfg.RequestTimeoutMS)*time.Millisecond),
	)
	if err != nil {
		return nil, err
	}

	return session.New(backend,
		session.WithLogger(logger),
		session.WithTablePrefix(cfg.TablePrefix),
	)
}
