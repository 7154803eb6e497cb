package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/veil-waf/veil-netflow/internal/classify"
	"github.com/veil-waf/veil-netflow/internal/config"
	"github.com/veil-waf/veil-netflow/internal/db"
	"github.com/veil-waf/veil-netflow/internal/events"
	"github.com/veil-waf/veil-netflow/internal/handlers"
	"github.com/veil-waf/veil-netflow/internal/metrics"
	"github.com/veil-waf/veil-netflow/internal/model"
	"github.com/veil-waf/veil-netflow/internal/ratelimit"
	"github.com/veil-waf/veil-netflow/internal/server"
	"github.com/veil-waf/veil-netflow/internal/sse"
	veiltls "github.com/veil-waf/veil-netflow/internal/tls"
	"github.com/veil-waf/veil-netflow/internal/ws"
)

func main() {
	cfg, err := config.Load(nil)
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	logger := server.SetupLogger(cfg.LogLevel, os.Stdout)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics()

	// Models are loaded once; nothing writes to the registry afterwards.
	registry, err := loadModels(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to load models", "err", err)
		os.Exit(1)
	}

	pipeline, err := classify.NewPipeline(registry, classify.Options{
		ModelName: cfg.ModelName,
		Threshold: cfg.Threshold,
		Rules:     cfg.Rules,
	}, m, logger)
	if err != nil {
		logger.Error("failed to build decision pipeline", "err", err)
		os.Exit(1)
	}
	logger.Info("decision pipeline ready",
		"model", cfg.ModelName,
		"features", pipeline.Schema().Len(),
		"classes", len(pipeline.Classes()),
		"threshold", cfg.Threshold,
	)

	sseHub := sse.NewHub(logger)
	sinks := &handlers.Sinks{Hub: sseHub, Metrics: m, Logger: logger}

	// Verdict log (optional)
	var store handlers.VerdictStore
	if cfg.DatabaseURL != "" {
		database, err := db.Connect(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Error("failed to connect to database", "err", err)
			os.Exit(1)
		}
		defer database.Close()
		store = database
		sinks.Store = database

		pgListener := sse.NewPGListener(database.Pool, sseHub, logger)
		go server.RunWithRecovery(ctx, logger, "pg-listener", pgListener.Listen)
	} else {
		logger.Warn("DATABASE_URL not set; verdict log disabled")
	}

	// Verdict events (optional)
	if cfg.NATSURL != "" {
		publisher, err := events.Connect(cfg.NATSURL, cfg.NATSSubject, logger)
		if err != nil {
			logger.Error("failed to connect to nats", "err", err)
			os.Exit(1)
		}
		defer publisher.Close()
		sinks.Events = publisher
	}

	wsManager := ws.NewManager(store, logger)
	sinks.WS = wsManager

	explainer := classify.NewExplainer(ctx, classify.ExplainerConfig{
		Enabled: cfg.ExplainEnabled,
		Region:  cfg.AWSRegion,
		Model:   cfg.BedrockModel,
	})
	if !explainer.Enabled() {
		logger.Info("AWS credentials not configured; /explain disabled")
	}

	limiter := ratelimit.New()
	go server.RunWithRecovery(ctx, logger, "ratelimit-cleanup", limiter.CleanupLoop)

	flowHandler := handlers.NewFlowHandler(pipeline, explainer, sinks, logger)
	dashHandler := handlers.NewDashboardHandler(registry, pipeline, store, logger)
	streamHandler := handlers.NewStreamHandler(sseHub, store)

	// Build router
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(corsMiddleware)

	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("pong"))
	})
	r.Handle("/metrics", m.Handler())

	r.With(limiter.Middleware("predict")).Post("/predict/binary", flowHandler.PredictBinary)
	r.With(limiter.Middleware("predict")).Post("/predict/multiclass", flowHandler.PredictMulticlass)
	r.With(limiter.Middleware("analyze")).Post("/analyze", flowHandler.Analyze)
	r.With(limiter.Middleware("explain")).Post("/explain", flowHandler.Explain)

	r.Get("/ws", wsManager.HandleWS)

	r.Route("/api", func(api chi.Router) {
		api.Use(limiter.Middleware("api"))
		api.Get("/models", dashHandler.GetModels)
		api.Get("/verdicts", dashHandler.GetVerdicts)
		api.Get("/verdicts/{id}", dashHandler.GetVerdict)
		api.Get("/stats", dashHandler.GetStats)
	})
	// The stream is long-lived, so it sits outside the api rate limit.
	r.Get("/api/stream", streamHandler.HandleSSE)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE + WebSocket need unlimited write time
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "err", err)
		}
	}()

	if cfg.TLSDomain != "" {
		cm := veiltls.NewCertManager(veiltls.Config{
			Domains:    []string{cfg.TLSDomain},
			Email:      cfg.ACMEEmail,
			Production: cfg.Production,
		}, logger)
		err = cm.Serve(ctx, srv)
	} else {
		logger.Info("server starting", "port", cfg.Port)
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}

	sinks.Wait()
	logger.Info("server stopped")
}

// loadModels reads local artifacts, or fetches schemas from the inference
// server when MODEL_SERVER_URL is set.
func loadModels(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*model.Registry, error) {
	if cfg.ModelServerURL == "" {
		return model.Load(cfg.ModelsDir, logger)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return model.LoadRemote(fetchCtx, cfg.ModelServerURL, cfg.ModelName, logger)
}

// corsMiddleware allows browser dashboards on other origins to call the API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
