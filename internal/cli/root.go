// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jeranaias/parley/internal/config"
	"github.com/jeranaias/parley/internal/logger"
)

// Exit codes.
const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitConfigError  = 3
)

// ErrConfig marks failures to load or validate the configuration.
var ErrConfig = errors.New("configuration error")

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath  string
	logLevel    string
	metricsAddr string
}

// Execute runs the command line and returns the process exit code.
func Execute(version string) int {
	root := NewRootCmd(version)
	if err := root.Execute(); err != nil {
		exitf("%v", err)
		if errors.Is(err, ErrConfig) {
			return ExitConfigError
		}
		return ExitGeneralError
	}
	return ExitSuccess
}

// NewRootCmd builds the command tree. Running it without a subcommand
// opens the full-screen chat on a terminal and the line chat otherwise.
func NewRootCmd(version string) *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:     "parley",
		Short:   "Chat with hosted language models from the terminal",
		Long:    "parley keeps chat conversations for guests on this machine and for signed-in users in a remote document store.",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if IsTTY() && IsStdoutTTY() {
				return runTUI(cmd, opts, "")
			}
			return runChat(cmd, opts, chatFlags{})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file path (default ~/.parley/config.toml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9464)")

	root.AddCommand(
		newChatCmd(opts),
		newTUICmd(opts),
		newAskCmd(opts),
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newWhoamiCmd(opts),
		newSessionsCmd(opts),
		newModelsCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

// =============================================================================
// BOOTSTRAP
// =============================================================================

// loadConfig reads the config file named by --config or the default one.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadFromPath(o.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	config.SetGlobal(cfg)
	return cfg, nil
}

// configPathOrDefault is the file that config edits are written to.
func (o *globalOptions) configPathOrDefault() (string, error) {
	if o.configPath != "" {
		return o.configPath, nil
	}
	return config.Path()
}

func newLogger(cfg *config.Config) zerolog.Logger {
	opts := logger.Options{Level: cfg.Log.Level}
	switch cfg.Log.Format {
	case "console":
		console := true
		opts.Console = &console
	case "json":
		console := false
		opts.Console = &console
	}
	return logger.NewWithOptions("parley", opts)
}

// withApp opens the application for the duration of fn. Interrupts cancel
// the context passed to fn; the app is closed, draining remote writes,
// before returning.
func (o *globalOptions) withApp(cmd *cobra.Command, watch bool, fn func(ctx context.Context, app *App) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	cfg = cfg.Clone()
	cfg.Identity.Watch = cfg.Identity.Watch && watch
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := OpenApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("shutdown incomplete")
		}
	}()

	if o.metricsAddr != "" {
		srv := startMetrics(o.metricsAddr, log)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	return fn(ctx, app)
}

// startMetrics serves the Prometheus registry in the background.
func startMetrics(addr string, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	log.Info().Str("addr", addr).Msg("serving metrics")
	return srv
}
