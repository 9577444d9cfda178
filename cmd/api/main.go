package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"price-tracker-api/internal/alerts"
	"price-tracker-api/internal/cache"
	"price-tracker-api/internal/catalog"
	"price-tracker-api/internal/config"
	"price-tracker-api/internal/database"
	"price-tracker-api/internal/events"
	"price-tracker-api/internal/features"
	"price-tracker-api/internal/handler"
	"price-tracker-api/internal/logger"
	"price-tracker-api/internal/metrics"
	"price-tracker-api/internal/middleware"
	"price-tracker-api/internal/notify"
	"price-tracker-api/internal/service"
	"price-tracker-api/internal/tracing"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configFile := flag.String("config", "", "Path to a YAML or JSON config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	tracer, err := tracing.InitTracing(cfg.Tracing)
	if err != nil {
		log.Fatal("Failed to initialize tracing", logger.Error(err))
	}

	db, err := database.NewDB(database.Config{Path: cfg.Database.Path, BusyTimeoutMS: cfg.Database.BusyTimeoutMS})
	if err != nil {
		log.Fatal("Failed to initialize database", logger.Error(err))
	}
	defer db.Close()

	startCtx, cancelStart := context.WithTimeout(context.Background(), 5*time.Second)
	store, err := cache.New(startCtx, cfg.Redis)
	cancelStart()
	if err != nil {
		log.Warn("Redis unavailable, using in-memory cache", logger.Error(err))
		store = cache.NewInMemoryCache()
	}
	defer store.Close()

	flags := features.FromConfig(cfg.Features)

	bus := events.NewManager(flags.IsEnabled(features.FeatureEventHooksEnabled), log)
	subscribeLogging(bus, log)
	defer bus.Shutdown()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	dispatcher := notify.Multi{notify.NewLogDispatcher(log)}
	if cfg.Telegram.Enabled {
		bot, err := notify.NewTelegramBot(cfg.Telegram.Token)
		if err != nil {
			log.Fatal("Failed to initialize telegram", logger.Error(err))
		}
		dispatcher = append(dispatcher, notify.NewTelegramDispatcher(bot, db, log))
	}

	evaluator := alerts.NewEvaluator(db, dispatcher, m, log,
		alerts.WithFeatures(flags),
		alerts.WithEvents(bus),
		alerts.WithTracer(tracer),
	)
	reconciler := catalog.NewReconciler(catalog.Config{
		Store:       db,
		Evaluator:   evaluator,
		Events:      bus,
		Metrics:     m,
		Tracer:      tracer,
		Logger:      log,
		MaxAttempts: cfg.Reconcile.MaxAttempts,
	})
	svc := service.NewService(service.Config{
		DB:                db,
		Reconciler:        reconciler,
		Metrics:           m,
		Cache:             store,
		CacheTTL:          time.Duration(cfg.Redis.TTLSeconds) * time.Second,
		Features:          flags,
		Events:            bus,
		Logger:            log,
		IngestConcurrency: cfg.Ingest.Concurrency,
	})
	h := handler.NewHandlerWithOptions(svc, handler.NewHandlerOptions{
		MaxBodySize: cfg.Security.MaxRequestBodySize,
		Features:    flags,
		Logger:      log,
	})

	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.TracingMiddleware())

	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiterFromConfig(cfg.RateLimit)
		defer limiter.Stop()
		r.Use(middleware.RateLimitMiddleware(limiter, m.RateLimited, log))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(cfg.Security.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	h.Routes(r)

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Info("Shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Error("Error closing server", logger.Error(err))
		}
		if err := tracing.Shutdown(ctx); err != nil {
			log.Error("Error flushing traces", logger.Error(err))
		}
	}()

	log.Info("Starting server",
		logger.String("addr", server.Addr),
		logger.Bool("tls", cfg.Server.EnableTLS),
		logger.String("database", cfg.Database.Path),
		logger.Bool("redis", cfg.Redis.Enabled),
		logger.Bool("telegram", cfg.Telegram.Enabled),
	)

	if cfg.Server.EnableTLS {
		err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
	} else {
		err = server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("Server failed", logger.Error(err))
	}
}

// subscribeLogging records catalog and notification activity. The bus only
// delivers when event hooks are enabled.
func subscribeLogging(bus *events.Manager, log logger.Logger) {
	bus.Subscribe(events.EventPriceRecorded, func(_ context.Context, e events.Event) error {
		d, ok := e.Data.(events.PriceRecordedData)
		if !ok {
			return errors.New("unexpected price.recorded payload")
		}
		log.Info("Price recorded",
			logger.String("product_id", d.ProductID),
			logger.String("source", d.Source),
			logger.Float64("price", d.Price),
			logger.Bool("created", d.Created),
		)
		return nil
	})
	bus.Subscribe(events.EventNotificationCreated, func(_ context.Context, e events.Event) error {
		d, ok := e.Data.(events.NotificationCreatedData)
		if !ok {
			return errors.New("unexpected notification.created payload")
		}
		log.Info("Notification created",
			logger.String("user_id", d.Notification.UserID),
			logger.String("product_id", d.Notification.ProductID),
		)
		return nil
	})
	bus.Subscribe(events.EventProductDeleted, func(_ context.Context, e events.Event) error {
		d, ok := e.Data.(events.ProductDeletedData)
		if !ok {
			return errors.New("unexpected product.deleted payload")
		}
		log.Info("Product deleted", logger.String("product_id", d.ProductID))
		return nil
	})
}

func splitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
