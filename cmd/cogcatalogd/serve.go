package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/trinetra-eo/cogcatalog/internal/audit"
	"github.com/trinetra-eo/cogcatalog/internal/auth"
	"github.com/trinetra-eo/cogcatalog/internal/config"
	"github.com/trinetra-eo/cogcatalog/internal/event"
	"github.com/trinetra-eo/cogcatalog/internal/ingest"
	"github.com/trinetra-eo/cogcatalog/internal/schema"
	"github.com/trinetra-eo/cogcatalog/internal/server"
	"github.com/trinetra-eo/cogcatalog/internal/telemetry"
)

var (
	traceSpans       bool
	tracePretty      bool
	maxAggregateCogs int
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE:  runServe,
	}
	cmd.Flags().BoolVar(&traceSpans, "trace", false, "Export spans as JSON to stderr")
	cmd.Flags().BoolVar(&tracePretty, "trace-pretty", false, "Pretty-print exported spans")
	cmd.Flags().IntVar(&maxAggregateCogs, "max-aggregate-cogs", server.DefaultMaxAggregateCogs, "Largest cog set an analytics request may load")
	return cmd
}

// runServe initializes all components, starts the HTTP server and handles graceful shutdown.
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	logger := setupLogging(cfg)

	var traceOut io.Writer = io.Discard
	if traceSpans {
		traceOut = os.Stderr
	}
	if _, err := telemetry.InitTracer(version, traceOut, tracePretty); err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracer: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.ShutdownTracer(ctx)
	}()

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// Event publisher (NATS JetStream or no-op)
	pub := event.NewPublisher(cfg.NATSURL)
	defer pub.Close()

	sink, err := auditSink(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	validator, err := schema.NewValidator()
	if err != nil {
		return fmt.Errorf("failed to compile schemas: %w", err)
	}

	srv, err := server.New(server.Deps{
		Store:     store,
		Validator: validator,
		Ingest:    ingest.NewService(store, validator, sink, pub),
		Tokens:    auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL),
		Publisher: pub,
	}, server.Options{
		RequireAuth:        cfg.RequireAuth,
		SecureCookies:      !cfg.IsDev(),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		MaxAggregateCogs:   maxAggregateCogs,
	})
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%s", cfg.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second, // analytics over large sets
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", addr, "env", cfg.Env, "store", cfg.Store, "require_auth", cfg.RequireAuth)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed to start: %w", err)
		}
	case <-quit:
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info("server exited")
	return nil
}

// auditSink writes payload copies to the audit directory and, when a bucket is
// configured, mirrors them to S3.
func auditSink(ctx context.Context, cfg config.Config) (audit.Sink, error) {
	var sinks audit.Multi
	if cfg.AuditDir != "" {
		sinks = append(sinks, audit.NewFileSink(cfg.AuditDir))
	}
	if cfg.S3Bucket != "" {
		s3Sink, err := audit.NewS3Sink(ctx, cfg.S3Endpoint, cfg.S3Region, cfg.S3Bucket, cfg.S3AccessKey, cfg.S3SecretKey)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 audit sink: %w", err)
		}
		sinks = append(sinks, s3Sink)
	}
	if len(sinks) == 0 {
		return audit.Discard{}, nil
	}
	return sinks, nil
}
