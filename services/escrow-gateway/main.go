package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"stakeshack/config"
	"stakeshack/observability/logging"
	telemetry "stakeshack/observability/otel"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "stakeshack.toml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup("escrow-gateway", cfg.Logging.Env, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err := requireGatewaySettings(cfg); err != nil {
		logger.Error("invalid gateway configuration", "error", err)
		os.Exit(1)
	}

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "escrow-gateway",
		Environment: cfg.Logging.Env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		logger.Error("failed to initialise telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	d, err := buildDeps(cfg, logger)
	if err != nil {
		logger.Error("build dependencies", "error", err)
		os.Exit(1)
	}
	defer d.Close()

	auth := NewAuthenticator(cfg.JWTSecret(), cfg.Gateway.JWTIssuer, 0)
	limiter := NewRateLimiter(cfg.Gateway.RateLimit, cfg.Gateway.RateBurst)
	server := NewServer(d.rec, d.submitter, auth, limiter, logger)

	srv := &http.Server{
		Addr:              cfg.Gateway.ListenAddress,
		Handler:           otelhttp.NewHandler(server, "escrow-gateway"),
		ReadHeaderTimeout: cfg.Gateway.ReadHeaderTimeout.Duration,
	}

	go func() {
		logger.Info("escrow gateway listening",
			"addr", cfg.Gateway.ListenAddress,
			"program", d.program.ID.String(),
			logging.MaskField("jwt_secret", cfg.JWTSecret()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down escrow gateway")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownTimeout.Duration)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
