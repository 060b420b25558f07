// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/parley/internal/completion"
	"github.com/jeranaias/parley/internal/config"
	"github.com/jeranaias/parley/internal/identity"
	"github.com/jeranaias/parley/internal/pipeline"
	"github.com/jeranaias/parley/internal/session"
	"github.com/jeranaias/parley/internal/storage"
	"github.com/jeranaias/parley/internal/voice"
)

// =============================================================================
// APPLICATION WIRING
// =============================================================================

// App is a running session with every backend opened from config.
type App struct {
	Config  *config.Config
	Log     zerolog.Logger
	Session *session.Manager
	Monitor *identity.Monitor
	Adapter *storage.Adapter
	Client  *completion.Client

	http    *storage.HTTPDocumentStore
	cancel  context.CancelFunc
	closers []func() error
}

// OpenApp opens the guest store, the remote store, the completion client
// and the voice engines, then starts the session as guest and signs in the
// user found in the identity file. With Identity.Watch set, later changes
// to that file switch the session live.
func OpenApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	runCtx, cancel := context.WithCancel(context.Background())
	app := &App{Config: cfg, Log: log, cancel: cancel}

	kv, err := app.openGuestKV()
	if err != nil {
		app.closeAll()
		return nil, err
	}

	creds, err := identity.ReadFile(cfg.Identity.File)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.Identity.File).Msg("ignoring unreadable identity file")
	}

	docs, err := app.openRemote(ctx, creds.Token)
	if err != nil {
		app.closeAll()
		return nil, err
	}

	app.Adapter = storage.NewAdapter(kv, docs,
		storage.WithLogger(log.With().Str("component", "storage").Logger()),
		storage.WithRetryPolicy(storage.RetryPolicy{
			MaxAttempts:  cfg.Remote.MaxAttempts,
			BaseBackoff:  cfg.Remote.BaseBackoff.Duration,
			MaxBackoff:   cfg.Remote.MaxBackoff.Duration,
			AttemptLimit: cfg.Remote.AttemptTimeout.Duration,
		}),
		storage.WithRateLimit(cfg.Remote.RateLimit, cfg.Remote.Burst),
	)

	app.Client = completion.NewClient(cfg.Completion.APIKey).
		WithBaseURL(cfg.Completion.BaseURL).
		WithTimeout(cfg.Completion.Timeout.Duration).
		WithSite(cfg.Completion.SiteURL, cfg.Completion.SiteName)

	app.Session = session.New(session.Options{
		Completer: app.Client,
		Adapter:   app.Adapter,
		Voice:     newVoiceBridge(cfg.Voice, log),
		Pipeline: pipeline.Config{
			RevealInterval: cfg.Reveal.Interval.Duration,
			SaveDelay:      cfg.Pipeline.SaveDelay.Duration,
		},
		Log: log,
	})

	app.Monitor = identity.NewMonitor(app.Adapter, app.Session, log.With().Str("component", "identity").Logger())
	if err := app.Monitor.Start(ctx); err != nil {
		app.closeAll()
		return nil, err
	}

	// The startup identity is applied before any command runs; the watcher's
	// initial event for the same user is then a no-op.
	app.Monitor.Apply(ctx, identity.Event{UserID: creds.UserID})
	if !cfg.Identity.Watch {
		return app, nil
	}

	src, err := identity.NewFileSource(cfg.Identity.File, log.With().Str("component", "identity").Logger())
	if err != nil {
		log.Warn().Err(err).Msg("identity watch unavailable; using the file as read at startup")
		return app, nil
	}
	app.closers = append(app.closers, src.Close)
	go func() {
		if err := app.Monitor.Run(runCtx, app.relayTokens(runCtx, src)); err != nil && runCtx.Err() == nil {
			log.Error().Err(err).Msg("identity monitor stopped")
		}
	}()
	return app, nil
}

func (a *App) openGuestKV() (storage.KV, error) {
	g := a.Config.Guest
	switch g.Backend {
	case "memory":
		return storage.NewMemoryKV(), nil
	case "sqlite":
		kv, err := storage.OpenSQLiteKV(g.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open guest database: %w", err)
		}
		a.closers = append(a.closers, kv.Close)
		return kv, nil
	default:
		kv, err := storage.NewFileKV(g.Dir)
		if err != nil {
			return nil, fmt.Errorf("open guest store: %w", err)
		}
		return kv, nil
	}
}

func (a *App) openRemote(ctx context.Context, token string) (storage.DocumentStore, error) {
	r := a.Config.Remote
	switch r.Backend {
	case "http":
		a.http = storage.NewHTTPDocumentStore(r.URL, token).WithTimeout(r.AttemptTimeout.Duration)
		return a.http, nil
	case "postgres":
		pg, err := storage.OpenPostgres(ctx, r.DSN)
		if err != nil {
			return nil, fmt.Errorf("open remote database: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		return pg, nil
	case "memory":
		return storage.NewMemoryDocumentStore(), nil
	default:
		return nil, nil
	}
}

// relayTokens forwards identity events, first handing the HTTP document
// store the token written alongside the new user ID.
func (a *App) relayTokens(ctx context.Context, src identity.Source) identity.Source {
	if a.http == nil {
		return src
	}
	out := make(relaySource, 1)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-src.Events():
				if !ok {
					return
				}
				if creds, err := identity.ReadFile(a.Config.Identity.File); err == nil && creds.UserID == ev.UserID {
					a.http.SetToken(creds.Token)
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

type relaySource chan identity.Event

func (r relaySource) Events() <-chan identity.Event { return r }

func newVoiceBridge(cfg config.VoiceConfig, log zerolog.Logger) *voice.Bridge {
	var (
		rec voice.Recognizer
		syn voice.Synthesizer
	)
	if len(cfg.ListenCommand) > 0 {
		rec = voice.CommandRecognizer{Command: cfg.ListenCommand}
	}
	if len(cfg.SpeakCommand) > 0 {
		syn = voice.CommandSynthesizer{Command: cfg.SpeakCommand}
	}
	return voice.NewBridge(rec, syn, log.With().Str("component", "voice").Logger())
}

// Close saves pending changes and drains queued remote writes within the
// configured drain timeout, then releases every backend.
func (a *App) Close() error {
	a.cancel()

	timeout := a.Config.Remote.DrainTimeout.Duration
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var firstErr error
	if a.Session != nil {
		if err := a.Session.Close(ctx); err != nil {
			a.Log.Warn().Err(err).Msg("remote writes not drained")
			firstErr = err
		}
	}
	if err := a.closeAll(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (a *App) closeAll() error {
	a.cancel()
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}

// exitf prints a styled error line to stderr.
func exitf(format string, args ...any) {
	fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error:")+" "+fmt.Sprintf(format, args...))
}
