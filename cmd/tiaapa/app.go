package main

import (
	"time"

	"tiaapa/internal/backend"
	"tiaapa/internal/bus"
	"tiaapa/internal/channel"
	"tiaapa/internal/config"
	"tiaapa/internal/domain"
	"tiaapa/internal/history"
	"tiaapa/internal/locale"
	"tiaapa/internal/session"
	"tiaapa/internal/speech"
)

// app holds the wired components of one chat session.
type app struct {
	cfg     *config.Config
	catalog *locale.Catalog
	bus     *bus.SessionBus
	archive *history.SQLiteStore
	session *session.Controller
}

func newBackend(cfg *config.Config) *backend.Client {
	return backend.New(backend.Config{
		BaseURL: cfg.API.BaseURL,
		Timeout: time.Duration(cfg.API.TimeoutSeconds) * time.Second,
		Logger:  logger,
	})
}

// newApp wires the session controller. Voice capture is only set up for
// interactive sessions.
func newApp(cfg *config.Config, interactive bool) (*app, error) {
	catalog, err := locale.Load(cfg.Locale.Catalog, cfg.Locale.CatalogFile, logger)
	if err != nil {
		return nil, err
	}

	client := newBackend(cfg)
	a := &app{cfg: cfg, catalog: catalog, bus: bus.New(logger)}

	var archive domain.HistoryStore
	if cfg.History.Enabled {
		a.archive, err = history.NewSQLiteStore(cfg.History.DBPath, logger)
		if err != nil {
			a.bus.Close()
			return nil, err
		}
		archive = a.archive
	}

	var recognizer domain.SpeechRecognizer = speech.Unsupported{}
	if interactive {
		recognizer = speech.NewFromConfig(cfg.Speech, client, logger)
	}

	a.session = session.New(session.Config{
		Backend:      client,
		Recognizer:   recognizer,
		Bus:          a.bus,
		Archive:      archive,
		Catalog:      catalog,
		Language:     cfg.API.Language,
		SpeechLocale: cfg.Speech.Locale,
		Logger:       logger,
	})
	return a, nil
}

// channel returns the front end named by frontend ("cli" or "tui").
func (a *app) channel(frontend string) domain.Channel {
	if frontend == "tui" {
		return channel.NewTUI(channel.TUIConfig{
			Session: a.session,
			Bus:     a.bus,
			Catalog: a.catalog,
			Logger:  logger,
		})
	}
	return channel.NewCLI(channel.CLIConfig{
		Session: a.session,
		Bus:     a.bus,
		Catalog: a.catalog,
		Logger:  logger,
	})
}

func (a *app) Close() {
	if err := a.session.Close(); err != nil {
		logger.Warn("stop voice capture", "err", err)
	}
	a.bus.Close()
	if a.archive != nil {
		a.archive.Close()
	}
}
