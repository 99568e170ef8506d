// Package app wires configuration, persistence and the chat services into
// one running application.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/entrepeneur4lyf/kbchat/internal/api"
	"github.com/entrepeneur4lyf/kbchat/internal/attachment"
	"github.com/entrepeneur4lyf/kbchat/internal/chat"
	"github.com/entrepeneur4lyf/kbchat/internal/config"
	"github.com/entrepeneur4lyf/kbchat/internal/conversation"
	"github.com/entrepeneur4lyf/kbchat/internal/events"
	"github.com/entrepeneur4lyf/kbchat/internal/export"
	"github.com/entrepeneur4lyf/kbchat/internal/extract"
	"github.com/entrepeneur4lyf/kbchat/internal/i18n"
	"github.com/entrepeneur4lyf/kbchat/internal/llm"
	"github.com/entrepeneur4lyf/kbchat/internal/logging"
	"github.com/entrepeneur4lyf/kbchat/internal/storage"
	"github.com/entrepeneur4lyf/kbchat/internal/suggest"
	"github.com/entrepeneur4lyf/kbchat/internal/summary"
	"github.com/entrepeneur4lyf/kbchat/internal/voice"
)

const shutdownTimeout = 10 * time.Second

// App is the running application with all services initialized.
type App struct {
	Config      *config.Config
	Paths       *storage.PathManager
	Broker      *events.Broker[conversation.Change]
	I18n        *i18n.Provider
	Repository  *conversation.Repository
	Backend     llm.Backend
	Extractors  *extract.Registry
	Attachments *attachment.Store
	Reconciler  *chat.Reconciler
	Suggestions *suggest.Fetcher
	Speaker     *voice.BrokerSpeaker
	Summarizer  *summary.Summarizer
	Exporter    *export.Exporter

	state     *storage.State
	persister *storage.Persister
	logCloser io.Closer
	logger    *log.Logger
}

// Options represents configuration for app initialization
type Options struct {
	ConfigPath string
	Debug      bool
	// Backend replaces the Gemini backend built from the config.
	Backend llm.Backend
	// SkipLogging leaves the process logger untouched.
	SkipLogging bool
}

// New loads configuration, restores persisted state and starts the
// background services.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath, opts.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewWithConfig(ctx, cfg, opts)
}

// NewWithConfig builds the application from an already loaded config.
func NewWithConfig(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{Config: cfg, Paths: storage.NewPathManager(cfg.DataDir())}

	if !opts.SkipLogging {
		closer, err := logging.Setup(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File, JSON: cfg.Log.JSON})
		if err != nil {
			return nil, fmt.Errorf("failed to set up logging: %w", err)
		}
		a.logCloser = closer
	}
	a.logger = logging.For("app")

	if _, err := a.Paths.Root(); err != nil {
		a.closeLog()
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	kv, err := storage.Open(cfg.Storage.Driver, cfg.StatePath())
	if err != nil {
		a.closeLog()
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	a.state = storage.NewState(kv, cfg.Storage.Scope)

	a.I18n = i18n.New(cfg.Locale)
	a.Broker = events.NewBroker[conversation.Change]()
	a.Extractors = extract.NewRegistry(logging.For("extract"))
	a.Attachments = attachment.NewStore(logging.For("attachment"))
	a.Repository = conversation.New(
		conversation.WithTranslator(a.I18n),
		conversation.WithBroker(a.Broker),
		conversation.WithMaxContextItems(cfg.Chat.MaxContextItems),
		conversation.WithFileFilter(a.Extractors.Supports),
		conversation.WithLogger(logging.For("conversation")),
	)

	snap, found, err := a.state.Load(ctx)
	switch {
	case err != nil:
		a.logger.Warn("Discarding unreadable saved state", "err", err)
	case found:
		a.Repository.Restore(snap)
		a.logger.Info("Restored conversations", "count", len(snap.Conversations), "scope", a.state.Scope())
	}

	a.Backend = opts.Backend
	if a.Backend == nil {
		a.Backend = llm.NewGeminiBackend(llm.GeminiOptions{
			APIKey:          cfg.Model.APIKey,
			Model:           cfg.Model.Name,
			SafetyThreshold: cfg.Model.SafetyThreshold,
			Temperature:     cfg.Model.Temperature,
			Logger:          logging.For("gemini"),
		})
	}

	slot := &chat.Slot{}
	numbering := chat.Numbering(cfg.Chat.CitationNumbering)
	a.Speaker = voice.NewBrokerSpeaker(a.Broker, a.I18n.Locale, cfg.Chat.ReadAloud)
	a.Suggestions = suggest.New(suggest.Options{
		Backend:    a.Backend,
		Repository: a.Repository,
		Slot:       slot,
		Translator: a.I18n,
		Broker:     a.Broker,
		Model:      cfg.Model.SuggestionModel,
		Logger:     logging.For("suggest"),
	})
	a.Reconciler = chat.New(chat.Options{
		Backend:           a.Backend,
		Repository:        a.Repository,
		Slot:              slot,
		Translator:        a.I18n,
		Parts:             a.Extractors,
		Speaker:           a.Speaker,
		Suggestions:       a.Suggestions,
		SystemInstruction: cfg.Model.SystemInstruction,
		SwitchPolicy:      cfg.Chat.SwitchPolicy,
		StreamTimeout:     cfg.Chat.StreamTimeout,
		Logger:            logging.For("chat"),
	})
	a.Summarizer = summary.New(a.Backend, a.I18n, "")

	exportsDir, err := a.Paths.ExportsDir()
	if err != nil {
		a.logger.Warn("Export directory unavailable", "err", err)
		exportsDir = "."
	}
	a.Exporter = export.New(exportsDir, export.Options{Translator: a.I18n, Numbering: numbering, Location: time.Local})

	a.persister = storage.NewPersister(a.state, a.Repository, logging.For("storage"))
	a.Repository.OnChange(a.Reconciler.HandleChange)
	a.Repository.OnChange(a.Suggestions.HandleChange)
	a.Repository.OnChange(a.persister.Hook)

	a.logger.Info("Application initialized",
		"dataDir", cfg.DataDir(),
		"storage", cfg.Storage.Driver,
		"model", cfg.Model.Name,
		"configured", a.Backend.Configured(),
		"locale", a.I18n.Locale())
	return a, nil
}

// WatchConfig applies edits of the config file while running. It reports
// false when the config did not come from a file.
func (a *App) WatchConfig() bool {
	return a.Config.Watch(a.Apply)
}

// Apply switches the running services to next. Settings that only take
// effect at startup are kept.
func (a *App) Apply(next *config.Config) {
	if keyed, ok := a.Backend.(interface{ SetAPIKey(string) }); ok {
		keyed.SetAPIKey(next.Model.APIKey)
	}
	a.I18n.SetLocale(next.Locale)
	if err := a.Repository.SetMaxContextItems(next.Chat.MaxContextItems); err != nil {
		a.logger.Warn("Keeping context item limit", "requested", next.Chat.MaxContextItems, "err", err)
	}
	a.Reconciler.SetSwitchPolicy(next.Chat.SwitchPolicy)
	a.Reconciler.SetStreamTimeout(next.Chat.StreamTimeout)
	a.Speaker.SetEnabled(next.Chat.ReadAloud)
	a.Broker.Publish(events.SettingsUpdated, conversation.Change{Kind: events.SettingsUpdated})
}

// Flush blocks until all changes so far are saved.
func (a *App) Flush() error {
	return a.persister.Flush()
}

// Reset deletes the saved state. The in-memory conversations are kept.
func (a *App) Reset(ctx context.Context) error {
	return a.state.Clear(ctx)
}

// Server builds the HTTP API for this application.
func (a *App) Server() *api.Server {
	return api.NewServer(api.Deps{
		Repository:  a.Repository,
		Reconciler:  a.Reconciler,
		Suggestions: a.Suggestions,
		Attachments: a.Attachments,
		Summarizer:  a.Summarizer,
		Broker:      a.Broker,
		I18n:        a.I18n,
		Speaker:     a.Speaker,
		Numbering:   chat.Numbering(a.Config.Chat.CitationNumbering),
	}, api.Options{
		AllowedOrigins: a.Config.Server.AllowedOrigins,
		StaticDir:      a.Config.Server.StaticDir,
		LocalOnly:      isLoopbackHost(a.Config.Server.Host),
		Logger:         logging.For("api"),
	})
}

// Addr is the listen address from the config.
func (a *App) Addr() string {
	return net.JoinHostPort(a.Config.Server.Host, strconv.Itoa(a.Config.Server.Port))
}

// Serve runs the API until ctx is done, then shuts it down gracefully.
func (a *App) Serve(ctx context.Context) error {
	srv := a.Server()
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx, a.Addr()) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.Reconciler.Cancel()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop API server: %w", err)
	}
	return <-errCh
}

// Close saves pending state and releases every resource.
func (a *App) Close() error {
	var errs []error
	if a.persister != nil {
		errs = append(errs, a.persister.Close())
	}
	if a.state != nil {
		errs = append(errs, a.state.Close())
	}
	if a.Broker != nil {
		a.Broker.Shutdown()
	}
	errs = append(errs, a.closeLog())
	return errors.Join(errs...)
}

func (a *App) closeLog() error {
	if a.logCloser == nil {
		return nil
	}
	err := a.logCloser.Close()
	a.logCloser = nil
	return err
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
