package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"aerocdp/config"
	"aerocdp/core/events"
	"aerocdp/core/state"
	"aerocdp/gateway/middleware"
	nativecommon "aerocdp/native/common"
	"aerocdp/native/oracle"
	"aerocdp/observability/logging"
	telemetry "aerocdp/observability/otel"
	"aerocdp/services/cdp/engine"
	"aerocdp/services/cdp/journal"
	"aerocdp/services/cdp/keeper"
	"aerocdp/services/cdp/server"
	"aerocdp/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configFile := flag.String("config", "./cdpd.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cdpd: load config: %v\n", err)
		os.Exit(1)
	}
	logger, logCloser, err := logging.Setup("cdpd", cfg.Environment, logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "cdpd: logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	if err := run(cfg, logger); err != nil {
		logger.Error("cdpd stopped", slog.Any("error", err))
		_ = logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "cdpd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()

	feed := oracle.NewFeed(cfg.OracleMaxAge())
	feed.SetMaxConfidenceBps(cfg.Oracle.MaxConfidenceBps)

	hub := server.NewHub()
	sinks := events.Fanout{hub}
	var audit *journal.Journal
	if cfg.Journal.Driver != "" {
		audit, err = journal.Open(cfg.Journal.Driver, cfg.Journal.DSN)
		if err != nil {
			return err
		}
		defer audit.Close()
		audit.SetLogger(logger)
		feed.SetRecorder(audit)
		sinks = append(events.Fanout{audit}, sinks...)
	}

	if cfg.Oracle.SeedFile != "" {
		seed, err := oracle.LoadSeed(cfg.Oracle.SeedFile)
		if err != nil {
			return err
		}
		if err := seed.Apply(ctx, feed, time.Now()); err != nil {
			return err
		}
		logger.Info("oracle seeded", "file", cfg.Oracle.SeedFile, "denoms", feed.Denoms())
	}

	routing, err := cfg.Routing()
	if err != nil {
		return err
	}
	svc, err := engine.New(state.NewManager(db), feed, cfg.Params(), routing,
		engine.WithSink(sinks),
		engine.WithLogger(logger),
		engine.WithPauses(nativecommon.NewPauseSet(cfg.Pauses...)),
	)
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    cfg.Auth.Enabled,
		HMACSecret: cfg.Auth.HMACSecret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		ClockSkew:  cfg.ClockSkew(),
	}, logger)
	limit := middleware.RateLimit{RequestsPerMinute: cfg.RateLimit.RequestsPerMinute, Burst: cfg.RateLimit.Burst}
	apiServer, err := server.New(server.Config{
		Service:       svc,
		Journal:       audit,
		Hub:           hub,
		Auth:          auth,
		RateLimiter:   middleware.NewRateLimiter(map[string]middleware.RateLimit{"write": limit, "admin": limit}, logger),
		Observability: middleware.NewObservability("cdpd", true, logger),
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("cdpd http listening", "addr", cfg.ListenAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("serve http: %w", err)
		}
	}()

	var grpcServer *grpc.Server
	if cfg.KeeperAddress != "" {
		listener, err := net.Listen("tcp", cfg.KeeperAddress)
		if err != nil {
			return fmt.Errorf("listen keeper on %s: %w", cfg.KeeperAddress, err)
		}
		keeperAuth := keeper.NewTokenAuthenticator(cfg.Auth.KeeperToken)
		if keeperAuth == nil {
			logger.Warn("keeper api accepts unauthenticated callers", "addr", cfg.KeeperAddress)
		}
		grpcServer = keeper.NewGRPCServer(keeper.New(svc), keeperAuth, logger)
		go func() {
			logger.Info("cdpd keeper listening", "addr", cfg.KeeperAddress)
			if err := grpcServer.Serve(listener); err != nil {
				errCh <- fmt.Errorf("serve keeper: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if grpcServer != nil {
		done := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			logger.Warn("forcing keeper stop")
			grpcServer.Stop()
		}
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	return nil
}
