// Package main runs the notifications moderation dashboard service.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/a96363877/zain-js-lohan/internal/auth"
	"github.com/a96363877/zain-js-lohan/internal/config"
	"github.com/a96363877/zain-js-lohan/internal/dashboard"
	"github.com/a96363877/zain-js-lohan/internal/event"
	"github.com/a96363877/zain-js-lohan/internal/export"
	"github.com/a96363877/zain-js-lohan/internal/feed"
	"github.com/a96363877/zain-js-lohan/internal/logging"
	"github.com/a96363877/zain-js-lohan/internal/metrics"
	"github.com/a96363877/zain-js-lohan/internal/notice"
	"github.com/a96363877/zain-js-lohan/internal/server"
	"github.com/a96363877/zain-js-lohan/internal/session"
	"github.com/a96363877/zain-js-lohan/internal/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger setup failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("dashboard service failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	if _, err := telemetry.InitTracer("dashboardd", cfg.Env); err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.ShutdownTracer(ctx, logger)
	}()

	m := metrics.NewMetrics()
	var ready []server.Pinger

	// Record collection: PostgreSQL or in-memory
	var records feed.RecordFeed
	if cfg.DatabaseDSN != "" {
		pg, err := feed.NewPostgres(cfg.DatabaseDSN, logger.Named("postgres"))
		if err != nil {
			return err
		}
		defer pg.Close()
		records = pg
		ready = append(ready, pg)
	} else {
		logger.Warn("DASH_DB_DSN not set, using in-memory notifications")
		records = feed.NewMemoryRecords()
	}

	// Presence keyspace: NATS KV or in-memory
	var presence feed.PresenceFeed
	if cfg.NATSURL != "" {
		np, err := feed.NewNATSPresence(cfg.NATSURL, cfg.PresenceBucket)
		if err != nil {
			return err
		}
		defer np.Close()
		presence = np
		ready = append(ready, np)
	} else {
		logger.Warn("DASH_NATS_URL not set, using in-memory presence")
		presence = feed.NewMemoryPresence()
	}

	pub := event.NewPublisher(cfg.NATSURL, logger.Named("events"))
	defer pub.Close()

	settings := dashboard.DefaultSettings()
	settings.RefreshInterval = cfg.RefreshInterval
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("DASH_REFRESH_INTERVAL: %w", err)
	}

	notices := notice.NewQueue(notice.DefaultCapacity)
	ctrl := dashboard.NewController(dashboard.Deps{
		Records:  records,
		Presence: presence,
		Notices:  notices,
		Events:   pub,
		Alerter:  event.NewAlerter(pub, logger.Named("alerts")),
		Logger:   logger.Named("dashboard"),
		Metrics:  m,
	}, settings)

	verifier, err := newVerifier(cfg)
	if err != nil {
		return err
	}
	sess := auth.NewTokenSession(verifier, logger.Named("auth"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	guard := session.NewGuard(sess, ctrl, notices, logger.Named("session"), func(path string) {
		logger.Info("operator redirected", zap.String("path", path))
	})
	guard.Start(ctx)
	defer guard.Close()

	exporter, err := export.NewExporter(notices)
	if err != nil {
		return err
	}

	mux := server.NewMux(server.Options{
		Controller:         ctrl,
		Guard:              guard,
		Session:            sess,
		Exporter:           exporter,
		Notices:            notices,
		Ready:              ready,
		Logger:             logger.Named("http"),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("server exited")
	return nil
}

func newVerifier(cfg config.Config) (*auth.Verifier, error) {
	var pub ed25519.PublicKey
	if cfg.JWTPublicKey != "" {
		raw, err := base64.StdEncoding.DecodeString(cfg.JWTPublicKey)
		if err != nil {
			return nil, fmt.Errorf("DASH_JWT_PUBLIC_KEY: %w", err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("DASH_JWT_PUBLIC_KEY: want %d bytes, got %d", ed25519.PublicKeySize, len(raw))
		}
		pub = ed25519.PublicKey(raw)
	}
	return auth.NewVerifier([]byte(cfg.JWTSecret), pub, cfg.JWTIssuer, cfg.JWTAudience)
}
