// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command assistant starts the AristAI campus assistant API server.
//
// The assistant exposes a catalog of campus tools. Read tools execute
// immediately; write tools return a preview and an action id that must be
// confirmed (or cancelled) by the same actor before anything is applied.
//
// Usage:
//
//	go run ./cmd/assistant
//	go run ./cmd/assistant -port 9090
//	go run ./cmd/assistant -seed          # load the demo campus catalog
//
// With a persistent data volume:
//
//	ASSISTANT_DATA_DIR=/var/lib/assistant go run ./cmd/assistant
//
// With hot-reloaded phrase overrides:
//
//	ASSISTANT_PHRASES_FILE=/etc/assistant/phrases.yaml go run ./cmd/assistant
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/healthz
//
//	# List the tool catalog
//	curl http://localhost:8080/v1/assistant/tools | jq
//
//	# Execute a read tool
//	curl -X POST http://localhost:8080/v1/assistant/tools/execute \
//	  -H "Content-Type: application/json" \
//	  -d '{"tool_name": "list_courses", "actor_id": "demo"}'
//
//	# Stage a write, then confirm it with the returned action id
//	curl -X POST http://localhost:8080/v1/assistant/tools/execute \
//	  -H "Content-Type: application/json" \
//	  -d '{"tool_name": "create_course", "arguments": {"title": "Biology", "subject": "Science"}, "actor_id": "demo"}'
//	curl -X POST http://localhost:8080/v1/assistant/actions/<action_id>/confirm \
//	  -H "Content-Type: application/json" \
//	  -d '{"actor_id": "demo"}'
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/PeterGuk540/aristai-sub000/services/assistant"
	"github.com/PeterGuk540/aristai-sub000/services/assistant/actions"
	"github.com/PeterGuk540/aristai-sub000/services/assistant/config"
	badgerstore "github.com/PeterGuk540/aristai-sub000/services/assistant/storage/badger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	seed := flag.Bool("seed", false, "Load the demo campus catalog at startup")
	flag.Parse()

	// Set Gin mode
	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// W3C TraceContext propagator so trace context flows from incoming HTTP
	// headers through all handlers and middleware.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	shutdownTracing, err := initTracing(context.Background(), *debug)
	if err != nil {
		slog.Warn("tracing exporter unavailable; spans stay local",
			slog.String("error", err.Error()))
		shutdownTracing = func(context.Context) error { return nil }
	}

	// Custom binding rules must exist before the first request binds.
	assistant.RegisterValidations()

	// Open the data volume. Graceful degradation: if unavailable, the
	// service runs on in-memory stores and actions do not survive restarts.
	dataDir := os.Getenv(config.EnvDataDir)
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			dataDir = filepath.Join(home, ".aristai", "assistant")
		}
	}

	var (
		db          *badgerstore.DB
		actionStore actions.Store
		persistent  bool
	)
	if dataDir != "" {
		cfg := badgerstore.DefaultConfig()
		cfg.Path = dataDir
		opened, err := badgerstore.OpenDB(cfg)
		if err != nil {
			slog.Warn("data volume unavailable, falling back to in-memory stores",
				slog.String("path", dataDir),
				slog.String("error", err.Error()),
			)
		} else {
			db = opened
			persistent = true
			slog.Info("data volume opened", slog.String("path", dataDir))
		}
	}
	if db == nil {
		cfg := badgerstore.DefaultConfig()
		cfg.InMemory = true
		opened, err := badgerstore.OpenDB(cfg)
		if err != nil {
			slog.Error("failed to open in-memory store", slog.String("error", err.Error()))
			os.Exit(1)
		}
		db = opened
		actionStore = actions.NewMemoryStore()
		slog.Info("running on in-memory stores; staged actions will not survive restarts")
	} else {
		actionStore = actions.NewBadgerStore(db, slog.Default())
	}

	// Phrase override file: applied now, re-applied on change.
	var phraseWatcher *config.PhraseWatcher
	if path := os.Getenv(config.EnvPhraseFile); path != "" {
		pw, err := config.WatchPhraseOverride(path, slog.Default())
		if err != nil {
			slog.Warn("phrase override watcher unavailable; using built-in phrases",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		} else {
			phraseWatcher = pw
		}
	}

	svcCfg := assistant.DefaultServiceConfig()
	svcCfg.SeedCampus = *seed
	svcCfg.PhraseSource = config.CurrentPhrases
	svc := assistant.NewService(db, actionStore, svcCfg)
	handlers := assistant.NewHandlers(svc)

	// Setup router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("aristai-assistant"))
	if *debug {
		router.Use(gin.Logger())
	}

	// Register routes under /v1/assistant, gated until warmup completes.
	// Probes and metrics live at the root, outside the gate.
	v1 := router.Group("/v1")
	assistant.RegisterRoutes(v1, handlers, assistant.WarmupGuard(svc))
	assistant.RegisterHealthRoutes(router, handlers)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Warm up in the background so startup is non-blocking; the guard
	// middleware rejects early requests with 503 until this finishes.
	go func() {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				slog.Error("panic in warmup goroutine recovered",
					slog.Any("panic", r),
					slog.String("stack", string(buf[:n])),
				)
			}
		}()
		if err := svc.Warmup(context.Background()); err != nil {
			slog.Error("warmup failed; service stays unready", slog.String("error", err.Error()))
		}
	}()

	printBanner(*port, persistent)

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("shutting down assistant server")
		if phraseWatcher != nil {
			phraseWatcher.Stop()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("tracer shutdown failed", slog.String("error", err.Error()))
		}
		if err := db.Close(); err != nil {
			slog.Warn("failed to close data volume", slog.String("error", err.Error()))
		}
		os.Exit(0)
	}()

	// Start server
	addr := fmt.Sprintf(":%d", *port)
	slog.Info("starting assistant server", slog.String("address", addr))
	if err := router.Run(addr); err != nil {
		slog.Error("failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// initTracing installs the OTel tracer provider: OTLP over gRPC when an
// endpoint is configured, a pretty-printed stdout exporter in debug mode,
// and otherwise no exporter at all (spans stay process-local no-ops).
//
// The returned shutdown func flushes buffered spans; call it before exit.
func initTracing(ctx context.Context, debug bool) (func(context.Context) error, error) {
	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch {
	case os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "":
		// The exporter reads OTEL_EXPORTER_OTLP_* from the environment.
		exporter, err = otlptracegrpc.New(ctx)
	case debug:
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return func(context.Context) error { return nil }, nil
	}
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", "aristai-assistant"),
		)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func printBanner(port int, persistent bool) {
	storage := "in-memory (set ASSISTANT_DATA_DIR for persistence)"
	if persistent {
		storage = "persistent (Badger volume)"
	}

	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                     ARISTAI ASSISTANT SERVER                      ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  Campus tools with confirm-before-write protection.               ║
║  Storage: %-55s ║
║                                                                   ║
║  Quick Start:                                                     ║
║  ┌─────────────────────────────────────────────────────────────┐  ║
║  │ # List the tool catalog                                     │  ║
║  │ curl http://localhost:%d/v1/assistant/tools | jq       │  ║
║  │                                                             │  ║
║  │ # Run a read tool                                           │  ║
║  │ curl -X POST \                                              │  ║
║  │   http://localhost:%d/v1/assistant/tools/execute \     │  ║
║  │   -d '{"tool_name": "list_courses", "actor_id": "demo"}'    │  ║
║  │                                                             │  ║
║  │ # Writes return an action id; confirm it to apply           │  ║
║  │ curl -X POST .../v1/assistant/actions/<id>/confirm \        │  ║
║  │   -d '{"actor_id": "demo"}'                                 │  ║
║  └─────────────────────────────────────────────────────────────┘  ║
║                                                                   ║
║  Endpoints:                                                       ║
║  ├── Tools: /v1/assistant/tools, /tools/execute                   ║
║  ├── Actions: /actions/:id, /actions/:id/confirm, /cancel         ║
║  ├── Conversation: /conversation/turn, /conversation/ws           ║
║  └── Ops: /healthz, /readyz, /metrics                             ║
║                                                                   ║
║  Press Ctrl+C to stop                                             ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, storage, port, port)
}
