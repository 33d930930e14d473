// Package main is the entry point for the live-chat API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/inkwell-cms/livechat/internal/autoreply"
	"github.com/inkwell-cms/livechat/internal/bus"
	"github.com/inkwell-cms/livechat/internal/config"
	"github.com/inkwell-cms/livechat/internal/delivery"
	"github.com/inkwell-cms/livechat/internal/handler"
	"github.com/inkwell-cms/livechat/internal/llm"
	"github.com/inkwell-cms/livechat/internal/middleware"
	"github.com/inkwell-cms/livechat/internal/service"
	"github.com/inkwell-cms/livechat/internal/store"
	"github.com/inkwell-cms/livechat/pkg/logger"
	"github.com/inkwell-cms/livechat/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting live-chat server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "livechat", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Open the conversation store
	st, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		log.Error("failed to open store", zap.Error(err))
		os.Exit(1)
	}
	defer st.Close()

	// Connection registry for push delivery
	registry := delivery.NewRegistry(log)

	// Optional cross-instance relay
	if cfg.NATSURL != "" {
		relay, err := bus.Connect(bus.Config{
			URL:   cfg.NATSURL,
			Token: cfg.NATSToken,
		}, registry.DispatchLocal, log)
		if err != nil {
			log.Error("failed to connect event relay", zap.Error(err))
			os.Exit(1)
		}
		defer relay.Close()
		registry.SetRelay(relay)
	}

	// Generation client for auto replies; nil falls back to the static
	// acknowledgement.
	var generator llm.Client
	switch {
	case cfg.AnthropicAPIKey != "" && cfg.LLMProvider != string(llm.ProviderOpenAI):
		generator, err = llm.NewAnthropicClient(cfg.AnthropicAPIKey)
	case cfg.OpenAIAPIKey != "":
		generator, err = llm.NewOpenAIClient(cfg.OpenAIAPIKey)
	}
	if err != nil {
		log.Warn("failed to create generation client, using static replies", zap.Error(err))
		generator = nil
	}

	// Initialize services
	responder := autoreply.NewResponder(st, registry, generator, cfg.LLMModel, log)
	chatSvc := service.NewChatService(st, registry, responder, log)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(st)
	chatHandler := handler.NewChatHandler(chatSvc, cfg.JWTSecret, log)
	streamHandler := handler.NewStreamHandler(chatSvc, registry, log)
	socketHandler := handler.NewSocketHandler(registry, cfg.AllowedOrigins, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Chat API
	r.Route("/chat", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		// Widget-facing; admin-only actions on these routes verify the
		// token per action.
		r.Post("/", chatHandler.Post)
		r.Get("/", chatHandler.Get)
		r.Get("/stream", streamHandler.Stream)

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AdminAuth(cfg.JWTSecret))
			r.Put("/", chatHandler.Put)
			r.Get("/ws", socketHandler.Serve)
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
