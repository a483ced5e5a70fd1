package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/noblelift/noblelift-client/internal/api"
	"github.com/noblelift/noblelift-client/internal/config"
	"github.com/noblelift/noblelift-client/internal/metrics"
	"github.com/noblelift/noblelift-client/internal/services"
	"github.com/noblelift/noblelift-client/internal/session"
	"github.com/noblelift/noblelift-client/internal/storage"
	"github.com/noblelift/noblelift-client/internal/tokenstore"
)

// app holds the process-wide collaborators. There is exactly one session
// per process and every command goes through it.
type app struct {
	cfg     config.Config
	closer  io.Closer
	tokens  *tokenstore.Store
	gw      *api.Gateway
	sess    *session.Session
	svc     *services.Client
	metrics *metrics.Metrics
}

func newApp(cfg config.Config) (*app, error) {
	backend, closer, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		closer:  closer,
		tokens:  tokenstore.New(backend),
		metrics: metrics.New(),
	}

	a.gw = api.NewGateway(a.tokens, api.GatewayOpts{
		BaseURL: cfg.APIBaseURL,
		Timeout: cfg.Timeout,
		Metrics: a.metrics,
		OnUnauthorized: func() {
			a.sess.HandleUnauthorized()
		},
	})
	a.sess = session.New(a.gw, session.WithMetrics(a.metrics))
	a.svc = services.New(a.gw)

	log.Debug().Str("baseURL", cfg.APIBaseURL).Dur("timeout", cfg.Timeout).Msg("client initialized")
	return a, nil
}

// openBackend picks where tokens are kept: the encrypted SQLite store when a
// token key is configured, memory otherwise.
func openBackend(cfg config.Config) (storage.KeyValueStore, io.Closer, error) {
	if cfg.TokenKey == "" {
		log.Warn().Msgf("%s is not set, tokens are kept in memory only (run setup to create one)", config.EnvTokenKey)
		return storage.NewMemoryStore(), nil, nil
	}

	key, err := storage.DeriveKey(cfg.TokenKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0700); err != nil {
		return nil, nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath, key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize token store: %w", err)
	}
	log.Debug().Str("dbPath", cfg.DBPath).Msg("token store initialized")
	return store, store, nil
}

// Close waits for background work and releases the database.
func (a *app) Close() {
	a.gw.Wait()
	a.tokens.Wait()
	if a.closer != nil {
		if err := a.closer.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close token store")
		}
	}
}
