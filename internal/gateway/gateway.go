// ABOUTME: Gateway orchestrator that coordinates the HTTP and optional gRPC health servers
// ABOUTME: Owns the connector registry, dispatch service, stores, MCP bridge and session sweeper

package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/keepalive"

	"github.com/ndtriplebolt/coreassist-electron/internal/auth"
	"github.com/ndtriplebolt/coreassist-electron/internal/config"
	"github.com/ndtriplebolt/coreassist-electron/internal/connector"
	"github.com/ndtriplebolt/coreassist-electron/internal/dedupe"
	"github.com/ndtriplebolt/coreassist-electron/internal/dispatch"
	"github.com/ndtriplebolt/coreassist-electron/internal/integrations"
	"github.com/ndtriplebolt/coreassist-electron/internal/mcp"
	"github.com/ndtriplebolt/coreassist-electron/internal/store"
)

// Gateway serves the tool catalog, tool calls, and the user/credential API.
type Gateway struct {
	config      *config.Config
	registry    *connector.Registry
	dispatch    *dispatch.Service
	identities  store.IdentityStore
	credentials store.CredentialStore
	closers     []namedCloser
	authn       *auth.Authenticator
	tokens      *auth.JWTVerifier // nil when bearer tokens are disabled
	metrics     *dispatch.Metrics
	replay      *dedupe.Cache[dispatch.CallResponse]
	health      *health.Server
	mcpServer   *mcp.Server
	sweeper     *cron.Cron
	grpcServer  *grpc.Server // nil when server.grpc_addr is empty
	httpServer  *http.Server
	logger      *slog.Logger

	shutdownOnce sync.Once
	shutdownErr  error
}

type namedCloser struct {
	name   string
	closer io.Closer
}

// Option customizes a Gateway at construction.
type Option func(*options)

type options struct {
	source    connector.Source
	factories *connector.Factories
	version   string
}

// WithSource replaces the manifest source chosen from configuration.
func WithSource(src connector.Source) Option {
	return func(o *options) { o.source = src }
}

// WithFactories replaces the built-in factory table.
func WithFactories(f *connector.Factories) Option {
	return func(o *options) { o.factories = f }
}

// WithVersion sets the version advertised over MCP.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// New creates a Gateway and loads every configured connector before returning.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	o := options{version: "dev"}
	for _, opt := range opts {
		opt(&o)
	}

	ids, creds, closers, err := initStores(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	gw := &Gateway{
		config:      cfg,
		identities:  ids,
		credentials: creds,
		closers:     closers,
		metrics:     dispatch.NewMetrics(),
		health:      health.NewServer(),
		logger:      logger.With("component", "gateway"),
	}

	if err := gw.initAuth(); err != nil {
		return gw.abort(err)
	}

	source, factories, err := connectorSources(cfg, o)
	if err != nil {
		return gw.abort(err)
	}
	gw.registry = connector.NewRegistry(source, factories, logger)
	gw.registry.SetObserver(gw.observeRegistry(gw.metrics.RegistryObserver(gw.registry)))

	dispatchOpts := []dispatch.Option{
		dispatch.WithCredentials(creds),
		dispatch.WithCallTimeout(cfg.Dispatch.CallTimeout),
		dispatch.WithMetrics(gw.metrics),
		dispatch.WithLogger(logger),
	}
	if cfg.Dedupe.Enabled {
		gw.replay = dedupe.New[dispatch.CallResponse](cfg.Dedupe.TTL, cfg.Dedupe.MaxEntries)
		dispatchOpts = append(dispatchOpts, dispatch.WithReplayCache(gw.replay))
	}
	gw.dispatch = dispatch.New(gw.registry, dispatchOpts...)

	report := gw.registry.LoadAll(context.Background())
	if report.Err != nil {
		return gw.abort(fmt.Errorf("loading connectors: %w", report.Err))
	}
	for name, loadErr := range report.Failed {
		gw.logger.Warn("connector skipped", "connector", name, "error", loadErr)
	}
	gw.health.SetServingStatus("", healthpbServing)

	if cfg.MCP.Enabled {
		gw.mcpServer, err = mcp.NewServer(mcp.Config{
			Dispatch: gw.dispatch,
			Name:     "coreassist",
			Version:  o.version,
			Logger:   logger,
		})
		if err != nil {
			return gw.abort(fmt.Errorf("creating MCP server: %w", err))
		}
	}

	gw.sweeper = cron.New()
	if _, err := gw.sweeper.AddFunc(cfg.Credentials.SweepSchedule, gw.sweepSessions); err != nil {
		return gw.abort(fmt.Errorf("scheduling session sweep: %w", err))
	}

	if cfg.Server.GRPCAddr != "" {
		gw.grpcServer = newGRPCServer(gw.health)
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// abort releases what New has opened so far and returns err.
func (g *Gateway) abort(err error) (*Gateway, error) {
	if g.replay != nil {
		g.replay.Close()
	}
	for _, closeErr := range g.closeStores() {
		g.logger.Warn("cleanup after failed startup", "error", closeErr)
	}
	return nil, err
}

// initStores opens the configured backend. The redis backend keeps users and
// sessions in SQLite when database.path is set and in memory otherwise.
func initStores(ctx context.Context, cfg *config.Config) (store.IdentityStore, store.CredentialStore, []namedCloser, error) {
	switch cfg.Credentials.Backend {
	case config.BackendSQLite:
		s, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("initializing store: %w", err)
		}
		return s, s, []namedCloser{{"store", s}}, nil

	case config.BackendRedis:
		var ids store.Store = store.NewMemoryStore()
		if cfg.Database.Path != "" {
			s, err := store.NewSQLiteStore(cfg.Database.Path)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("initializing store: %w", err)
			}
			ids = s
		}
		creds := store.NewRedisCredentialStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			store.WithRedisPrefix(cfg.Redis.KeyPrefix))

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := creds.Ping(pingCtx); err != nil {
			_ = creds.Close()
			_ = ids.Close()
			return nil, nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		return ids, creds, []namedCloser{{"identity store", ids}, {"credential store", creds}}, nil

	default:
		s := store.NewMemoryStore()
		return s, s, []namedCloser{{"store", s}}, nil
	}
}

func (g *Gateway) initAuth() error {
	var verifier auth.TokenVerifier
	if g.config.BearerTokensEnabled() {
		tokens, err := auth.NewJWTVerifier([]byte(g.config.Auth.JWTSecret))
		if err != nil {
			return fmt.Errorf("creating JWT verifier: %w", err)
		}
		g.tokens = tokens
		verifier = tokens
		g.logger.Info("bearer token auth enabled")
	} else {
		g.logger.Info("bearer token auth disabled - no jwt_secret configured")
	}
	g.authn = auth.NewAuthenticator(g.config.Auth.SharedSecret, verifier, g.identities)
	return nil
}

// connectorSources picks the manifest source and factory table.
func connectorSources(cfg *config.Config, o options) (connector.Source, *connector.Factories, error) {
	source := o.source
	if source == nil {
		if cfg.Connectors.Dir != "" {
			source = connector.NewDirSource(cfg.Connectors.Dir)
		} else {
			source = connector.NewFSSource(integrations.Manifests())
		}
	}
	source = connector.Exclude(source, cfg.Connectors.Disabled...)

	factories := o.factories
	if factories == nil {
		factories = connector.NewFactories()
		if err := integrations.RegisterAll(factories); err != nil {
			return nil, nil, fmt.Errorf("registering connectors: %w", err)
		}
	}
	return source, factories, nil
}

// observeRegistry fans registry events out to metrics, health status and MCP.
func (g *Gateway) observeRegistry(metrics connector.Observer) connector.Observer {
	return func(ev connector.Event) {
		metrics(ev)

		status := healthpbNotServing
		if ev.Loaded {
			status = healthpbServing
		}
		g.health.SetServingStatus(unitHealthService(ev.Unit), status)

		if g.mcpServer != nil {
			g.mcpServer.Sync()
		}
	}
}

func newGRPCServer(hs *health.Server) *grpc.Server {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	registerHealth(server, hs)
	return server
}

// sweepSessions is the scheduled cleanup of expired sessions.
func (g *Gateway) sweepSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	removed, err := g.identities.CleanupExpiredSessions(ctx)
	if err != nil {
		g.logger.Error("session sweep failed", "error", err)
		return
	}
	if removed > 0 {
		g.logger.Info("expired sessions removed", "count", removed)
	}
}

// Handler returns the HTTP handler serving every gateway route.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// setupListeners creates the HTTP listener and, if configured, the gRPC one.
func (g *Gateway) setupListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if g.grpcServer == nil {
		return nil, httpLn, nil
	}
	grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
	if err != nil {
		_ = httpLn.Close()
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}
	return grpcLn, httpLn, nil
}

// startServers starts the servers in goroutines, returning the error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if grpcLn != nil {
		go func() {
			g.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the servers and the session sweeper and blocks until ctx is
// canceled or a server fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	grpcListener, httpListener, err := g.setupListeners()
	if err != nil {
		return err
	}

	g.sweeper.Start()
	errCh := g.startServers(grpcListener, httpListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

func (g *Gateway) closeStores() []error {
	var errs []error
	for _, c := range g.closers {
		errs = appendCloseError(errs, c.name+" close", c.closer.Close())
	}
	return errs
}

// Shutdown stops the servers and releases resources. Later calls return the
// result of the first.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.shutdownErr = g.shutdown(ctx)
	})
	return g.shutdownErr
}

func (g *Gateway) shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.health.Shutdown()
	if g.grpcServer != nil {
		g.shutdownGRPCServer(ctx)
	}

	select {
	case <-g.sweeper.Stop().Done():
	case <-ctx.Done():
	}

	if g.replay != nil {
		g.replay.Close()
	}
	errs = append(errs, g.closeStores()...)

	return errors.Join(errs...)
}
