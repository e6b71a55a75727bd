// Copyright (C) 2025 Bakhmaro AI Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// The assistant service: streaming reply sessions over SSE backed by a
// cascade of reasoning engines, plus the self-improvement (autopatch)
// endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/akaki911/ai-bakhmaro-sub001/pkg/logging"
	"github.com/akaki911/ai-bakhmaro-sub001/services/assistant/config"
	"github.com/akaki911/ai-bakhmaro-sub001/services/assistant/handlers"
	"github.com/akaki911/ai-bakhmaro-sub001/services/assistant/observability"
	"github.com/akaki911/ai-bakhmaro-sub001/services/assistant/reply"
	"github.com/akaki911/ai-bakhmaro-sub001/services/assistant/routes"
	"github.com/akaki911/ai-bakhmaro-sub001/services/autopatch"
	"github.com/akaki911/ai-bakhmaro-sub001/services/engine"
)

func main() {
	// ===== Step 1: Logging =====
	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		LogDir:  os.Getenv("ASSISTANT_LOG_DIR"),
		Service: "assistant",
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	// ===== Step 2: Configuration =====
	cfg, err := config.Load(os.Getenv("ASSISTANT_CONFIG"))
	if err != nil {
		slog.Error("configuration failed", "error", err)
		os.Exit(1)
	}

	// ===== Step 3: Tracing =====
	cleanupTracer, err := initTracer()
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	} else {
		defer cleanupTracer()
	}

	// ===== Step 4: Engines =====
	cascade, err := buildCascade(cfg)
	if err != nil {
		slog.Error("engine construction failed", "error", err)
		os.Exit(1)
	}

	// ===== Step 5: Autopatch pipeline =====
	execLog := autopatch.NewExecutionLog(cfg.Patch.HistorySize)
	applier, err := autopatch.NewApplier(cfg.Patch.Root, cfg.Patch.BackupDir, execLog)
	if err != nil {
		slog.Error("applier construction failed", "error", err)
		os.Exit(1)
	}
	store := autopatch.NewStore(cfg.Patch.ProposalCapacity)

	// ===== Step 6: HTTP =====
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	builder := reply.NewBuilder()

	streamHandler := handlers.NewStreamHandler(cascade, builder, metrics, cfg.Stream.HeartbeatInterval)
	improveHandler := handlers.NewImproveHandler(store, applier, metrics)

	router := gin.Default()
	router.Use(otelgin.Middleware("assistant"))
	routes.SetupRoutes(router, streamHandler, improveHandler)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("assistant service listening", "port", cfg.Server.Port, "engines", cascade.Engines())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// ===== Step 7: Graceful shutdown =====
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("shutdown incomplete", "error", err)
	}
}

// buildCascade constructs the engine chain in configured order. Engines
// that cannot be constructed (missing credentials) are skipped with a
// warning; the offline engine is always last.
func buildCascade(cfg *config.Config) (*engine.Cascade, error) {
	var engines []engine.Engine
	offlineAdded := false

	for _, name := range cfg.Engines.Order {
		switch name {
		case "interactive":
			eng, err := engine.NewInteractiveEngine(cfg.Engines.OpenAI.APIKey, cfg.Engines.OpenAI.BaseURL, cfg.Engines.OpenAI.Model)
			if err != nil {
				slog.Warn("interactive engine unavailable", "error", err)
				continue
			}
			engines = append(engines, eng)
		case "completion":
			eng, err := engine.NewCompletionEngine(cfg.Engines.Completion.BaseURL, cfg.Engines.Completion.Model, cfg.Stream.ChunkSize, cfg.Stream.ChunkDelay)
			if err != nil {
				slog.Warn("completion engine unavailable", "error", err)
				continue
			}
			engines = append(engines, eng)
		case "offline":
			engines = append(engines, engine.NewOfflineEngine(cfg.Stream.ChunkDelay))
			offlineAdded = true
		default:
			return nil, fmt.Errorf("unknown engine %q", name)
		}
	}
	if !offlineAdded {
		engines = append(engines, engine.NewOfflineEngine(cfg.Stream.ChunkDelay))
	}

	return engine.NewCascade(cfg.Engines.Timeout, engines...), nil
}

// initTracer configures the OTLP gRPC trace exporter. The collector
// endpoint comes from OTEL_EXPORTER_OTLP_ENDPOINT; a missing collector
// only degrades tracing, never the service.
func initTracer() (func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)

	return func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}, nil
}
