// Package app wires the notification service together and owns its
// lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"linkdesk/internal/api"
	"linkdesk/internal/auth"
	"linkdesk/internal/config"
	"linkdesk/internal/journal"
	"linkdesk/internal/metrics"
	"linkdesk/internal/notify"
	"linkdesk/internal/websocket"
)

// Application coordinates all components. Initialization order:
// logger -> metrics -> journal -> registry -> notifier -> handler -> HTTP.
type Application struct {
	cfg        *config.Config
	log        zerolog.Logger
	journal    *journal.Journal
	registry   *websocket.Registry
	notifier   *notify.Notifier
	httpServer *http.Server
}

// New builds the application from a validated config.
func New(cfg *config.Config, log zerolog.Logger) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	m := metrics.New()

	var jrnl *journal.Journal
	if cfg.Journal.Enabled {
		var err error
		jrnl, err = journal.Open(cfg.Journal.Path, log)
		if err != nil {
			return nil, fmt.Errorf("open delivery journal: %w", err)
		}
	}

	verifier, err := auth.NewTokenVerifier(cfg.Auth.SessionSecret, cfg.Auth.TokenTTL)
	if err != nil {
		if jrnl != nil {
			jrnl.Close()
		}
		return nil, fmt.Errorf("build token verifier: %w", err)
	}

	registry := websocket.NewRegistry(log, m)

	var recorder notify.Recorder
	if jrnl != nil {
		recorder = jrnl
	}
	notifier := notify.New(registry, recorder, log)

	wsHandler := websocket.NewHandler(registry, verifier, websocket.Options{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		SendBuffer:   cfg.WebSocket.SendBuffer,
	}, log)

	server := api.NewServer(notifier, registry, jrnl, m, cfg.WebSocket.Path, wsHandler, cfg.Auth.InternalToken, log)

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      server,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		cfg:        cfg,
		log:        log,
		journal:    jrnl,
		registry:   registry,
		notifier:   notifier,
		httpServer: httpServer,
	}, nil
}

// Notifier exposes the composers for embedding (tests, future CLI tools).
func (app *Application) Notifier() *notify.Notifier { return app.notifier }

// Addr returns the HTTP listen address.
func (app *Application) Addr() string { return app.httpServer.Addr }

// Start begins serving. It returns once the listener is up or startup
// failed.
func (app *Application) Start(ctx context.Context) error {
	app.log.Info().Str("addr", app.httpServer.Addr).Str("ws_path", app.cfg.WebSocket.Path).Msg("starting notification service")

	errCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		app.log.Info().Msg("notification service started")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts the service down in reverse order: HTTP listener, then live
// connections (closed by their read loops when the server closes), then
// the journal.
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info().Msg("shutting down notification service")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.log.Warn().Err(err).Msg("http shutdown error")
	}

	// Drop remaining connections so their read loops exit promptly.
	app.registry.ForEach(nil, func(conn *websocket.Connection, _ websocket.Binding) {
		_ = conn.Close()
	})

	if app.journal != nil {
		if err := app.journal.Close(); err != nil {
			app.log.Warn().Err(err).Msg("journal close error")
		}
	}

	app.log.Info().Msg("shutdown complete")
	return nil
}
