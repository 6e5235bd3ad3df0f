// ABOUTME: Assembles the dockhand service from config and runs its HTTP server
// ABOUTME: Owns startup order, the listener, and graceful shutdown

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"dockhand/internal/auth"
	"dockhand/internal/catalog"
	"dockhand/internal/config"
	"dockhand/internal/credentials"
	"dockhand/internal/httpapi"
	"dockhand/internal/launch"
	"dockhand/internal/lifecycle"
	"dockhand/internal/metrics"
	"dockhand/internal/oauth"
	"dockhand/internal/probe"
	"dockhand/internal/store"
)

// Server is the assembled dockhand service: catalog, store, lifecycle
// tracker, OAuth flow, and the HTTP API that fronts them.
type Server struct {
	config     *config.Config
	store      *store.SQLiteStore
	httpServer *http.Server
	logger     *slog.Logger
}

// New builds a Server from configuration. Opening the store runs any
// pending migrations, so a successful New means the schema is current.
func New(cfg *config.Config) (*Server, error) {
	logger := slog.Default().With("component", "server")

	cat, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	key, err := store.ParseVaultKey(cfg.Vault.Key)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("vault key: %w", err)
	}
	vault, err := store.NewVault(s, key)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("building vault: %w", err)
	}

	m, err := metrics.New()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	source := credentials.OSEnv{}
	resolver := credentials.NewResolver(cat, source)
	prober := probe.New(cfg.Probe.Timeout)

	tracker := lifecycle.New(lifecycle.Config{
		Definitions: cat,
		Credentials: resolver,
		Records:     s,
		Vault:       vault,
		Prober:      prober,
		Metrics:     m,
	})

	secret := []byte(cfg.Auth.APISecret)
	api := httpapi.New(httpapi.Config{
		Catalog:  cat,
		Resolver: resolver,
		Builder:  launch.NewBuilder(cat),
		Tracker:  tracker,
		Flow:     oauth.NewFlow(s, secret, cfg.Server.BaseURL+"/oauth/callback"),
		Prober:   prober,
		Verifier: auth.NewJWTVerifier(secret),
		Source:   source,
		Metrics:  m,
	})

	srv := &Server{
		config: cfg,
		store:  s,
		httpServer: &http.Server{
			Addr:              cfg.Server.HTTPAddr,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
	logger.Info("server assembled",
		"catalog_servers", cat.Len(),
		"database", cfg.Database.Path,
	)
	return srv, nil
}

// loadCatalog uses the configured definition file when one is set and the
// embedded default set otherwise
func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if cfg.Catalog.Path != "" {
		cat, err := catalog.LoadFile(cfg.Catalog.Path)
		if err != nil {
			return nil, fmt.Errorf("loading catalog %s: %w", cfg.Catalog.Path, err)
		}
		return cat, nil
	}
	cat, err := catalog.Default()
	if err != nil {
		return nil, fmt.Errorf("loading embedded catalog: %w", err)
	}
	return cat, nil
}

// Run starts the HTTP server and blocks until the context is canceled or
// the server fails. Returns nil on graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Server.HTTPAddr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening",
			"addr", ln.Addr().String(),
			"base_url", s.config.Server.BaseURL,
		)
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown drains in-flight requests with a fresh context, since
// the run context is already canceled by the time we get here
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops the HTTP server and closes the store
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")

	var firstErr error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		firstErr = fmt.Errorf("shutting down HTTP server: %w", err)
	}
	if err := s.store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing store: %w", err)
	}

	s.logger.Info("shutdown complete")
	return firstErr
}
