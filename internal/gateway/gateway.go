// ABOUTME: Gateway orchestrator that wires storage, auth, the fan-out bridge, and listeners
// ABOUTME: Manages HTTP and gRPC servers, tailscale, and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/chat-gateway/internal/auth"
	"github.com/2389/chat-gateway/internal/bridge"
	"github.com/2389/chat-gateway/internal/config"
	"github.com/2389/chat-gateway/internal/connection"
	"github.com/2389/chat-gateway/internal/dedupe"
	"github.com/2389/chat-gateway/internal/session"
	"github.com/2389/chat-gateway/internal/store"
)

// tailscaleGRPCPort is used for the health service when listening on the tailnet.
const tailscaleGRPCPort = ":50051"

// Gateway orchestrates the chat-gateway server components.
type Gateway struct {
	config   *config.Config
	store    store.Store
	bus      bridge.Bus
	bridge   *bridge.Bridge
	registry *session.Registry
	conns    *connection.Handler
	recent   *dedupe.Window
	logger   *slog.Logger

	httpServer  *http.Server
	grpcServer  *grpc.Server
	health      *health.Server
	tsnetServer *tsnet.Server

	bridgeCancel context.CancelFunc
	bridgeDone   chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error
}

// initStore opens the SQLite store, honoring CHAT_GATEWAY_DB_PATH.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("CHAT_GATEWAY_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// newAuthenticator builds the Identify token verifier for the configured mode.
func newAuthenticator(cfg *config.Config, hashes auth.HashStore) (auth.Authenticator, error) {
	switch cfg.Auth.Mode {
	case config.AuthModeJWT:
		a, err := auth.NewJWTAuthenticator([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return nil, fmt.Errorf("creating JWT authenticator: %w", err)
		}
		return a, nil
	default:
		if hashes == nil {
			return nil, nil
		}
		return auth.NewTokenAuthenticator(hashes), nil
	}
}

// newBus connects to the configured fan-out backend.
func newBus(ctx context.Context, cfg config.BridgeConfig, logger *slog.Logger) (bridge.Bus, error) {
	switch cfg.Backend {
	case config.BackendNATS:
		return bridge.NewNATSBus(bridge.NATSOptions{URL: cfg.NATS.URL, Name: cfg.NATS.Name}, cfg.Deployment, logger)
	case config.BackendMemory:
		return bridge.NewMemoryBus(logger), nil
	default:
		return bridge.NewRedisBus(ctx, bridge.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, cfg.Deployment, logger)
	}
}

// New creates a Gateway. A storage or bus backend that fails to start leaves
// the gateway running degraded: connections are refused with the matching
// close code and /health/ready reports the failure.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	sqlStore, err := initStore(cfg)
	var st store.Store
	var hashes auth.HashStore
	if err != nil {
		logger.Error("storage backend unavailable, running degraded", "error", err)
	} else {
		st, hashes = sqlStore, sqlStore
	}

	bus, err := newBus(ctx, cfg.Bridge, logger)
	if err != nil {
		logger.Error("pub/sub backend unavailable, running degraded", "backend", cfg.Bridge.Backend, "error", err)
		bus = nil
	}

	gw, err := build(cfg, st, hashes, bus, logger)
	if err != nil {
		if bus != nil {
			_ = bus.Close()
		}
		if st != nil {
			_ = st.Close()
		}
		return nil, err
	}
	return gw, nil
}

// build assembles the gateway around already-opened backends; either may be nil.
func build(cfg *config.Config, st store.Store, hashes auth.HashStore, bus bridge.Bus, logger *slog.Logger) (*Gateway, error) {
	authenticator, err := newAuthenticator(cfg, hashes)
	if err != nil {
		return nil, err
	}

	registry := session.NewRegistry(cfg.Gateway.RegistryShards, logger)
	br := bridge.New(bus, registry, logger)

	deps := connection.Deps{
		Registry: registry,
		Auth:     authenticator,
		PubSub:   br,
	}
	if st != nil {
		deps.Guilds = st
	}

	gw := &Gateway{
		config:   cfg,
		store:    st,
		bus:      bus,
		bridge:   br,
		registry: registry,
		recent:   dedupe.NewWindow(idempotencyTTL, idempotencyKeys),
		logger:   logger.With("component", "gateway"),
		health:   health.NewServer(),
	}
	gw.conns = connection.NewHandler(deps, connection.Options{
		QueueSize:         cfg.Gateway.SendQueueSize,
		HeartbeatInterval: cfg.Gateway.HeartbeatInterval,
		HeartbeatTimeout:  cfg.Gateway.HeartbeatTimeout,
		WriteTimeout:      cfg.Gateway.WriteTimeout,
		MaxMessageSize:    cfg.Gateway.MaxMessageSize,
	}, logger)

	gw.httpServer = &http.Server{
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	gw.grpcServer = newGRPCServer(gw.health)
	return gw, nil
}

// Bridge exposes the in-process publish entry point.
func (g *Gateway) Bridge() *bridge.Bridge {
	return g.bridge
}

// Handler returns the HTTP handler serving every gateway route.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// setupTCPListeners creates standard TCP listeners. The gRPC listener is nil
// when no gRPC address is configured.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	if g.config.Server.GRPCAddr != "" {
		grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		if grpcLn != nil {
			_ = grpcLn.Close()
		}
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return grpcLn, httpLn, nil
}

// warnIgnoredAddresses logs a warning if server addresses are configured but Tailscale is enabled.
func (g *Gateway) warnIgnoredAddresses() {
	if g.config.Server.GRPCAddr != "" || g.config.Server.HTTPAddr != "" {
		g.logger.Warn("server.grpc_addr and server.http_addr are ignored when tailscale is enabled",
			"grpc_addr", g.config.Server.GRPCAddr,
			"http_addr", g.config.Server.HTTPAddr,
		)
	}
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		g.warnIgnoredAddresses()
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// startServers starts gRPC and HTTP servers in goroutines, returning error channel.
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
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String(), "ws_path", g.config.Server.WSPath)
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// startBridge runs the node's bus subscription, resubscribing after a lost
// subscription until the gateway shuts down.
func (g *Gateway) startBridge() {
	ctx, cancel := context.WithCancel(context.Background())
	g.bridgeCancel = cancel
	g.bridgeDone = make(chan struct{})

	go func() {
		defer close(g.bridgeDone)
		if g.bus == nil {
			g.logger.Warn("no pub/sub backend, fan-out disabled")
			return
		}
		backoff := time.Second
		for {
			err := g.bridge.Run(ctx)
			if ctx.Err() != nil {
				return
			}
			g.logger.Error("bridge subscriber stopped, retrying", "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, 30*time.Second)
		}
	}()
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

// Run starts the bridge subscriber and servers, and blocks until the context
// is canceled or a server fails. Shutdown runs before Run returns.
func (g *Gateway) Run(ctx context.Context) error {
	grpcListener, httpListener, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	g.startBridge()
	go g.watchHealth(ctx)

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

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "chat-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListeners creates a tsnet server and returns listeners for gRPC and HTTP.
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	grpcLn, err = g.tsnetServer.Listen("tcp", tailscaleGRPCPort)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
	}

	httpLn, err = g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = grpcLn.Close()
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return grpcLn, httpLn, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the listeners, closes every live session with 1001, ends
// the bus subscription, and closes the backends. Safe to call more than once.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.shutdownErr = g.shutdown(ctx)
	})
	return g.shutdownErr
}

func (g *Gateway) shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway", "connections", g.conns.Count())

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.health.Shutdown()
	g.shutdownGRPCServer(ctx)

	errs = appendCloseError(errs, "closing connections", g.conns.Shutdown(ctx))

	if g.bridgeCancel != nil {
		g.bridgeCancel()
		<-g.bridgeDone
	}
	if g.bus != nil {
		errs = appendCloseError(errs, "bus close", g.bus.Close())
	}
	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	if g.store != nil {
		errs = appendCloseError(errs, "store close", g.store.Close())
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}
