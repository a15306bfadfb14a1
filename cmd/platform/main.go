package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/bloodbridge/platform/internal/donation"
	"github.com/bloodbridge/platform/internal/donor"
	"github.com/bloodbridge/platform/internal/hospital"
	"github.com/bloodbridge/platform/internal/matching"
	"github.com/bloodbridge/platform/internal/memstore"
	"github.com/bloodbridge/platform/internal/notice"
	"github.com/bloodbridge/platform/internal/notification"
	requestapi "github.com/bloodbridge/platform/internal/request/api"
	"github.com/bloodbridge/platform/internal/request/domain"
	requestinfra "github.com/bloodbridge/platform/internal/request/infrastructure"
	"github.com/bloodbridge/platform/internal/shared/auth"
	"github.com/bloodbridge/platform/internal/shared/config"
	"github.com/bloodbridge/platform/internal/shared/database"
	"github.com/bloodbridge/platform/internal/shared/events"
	"github.com/bloodbridge/platform/internal/shared/logging"
	"github.com/bloodbridge/platform/internal/shared/metrics"
	secmiddleware "github.com/bloodbridge/platform/internal/shared/middleware"
)

// App holds all application dependencies
type App struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *database.DB
	Bus    *events.Bus
}

// stores is the persistence the handlers run on, Postgres or in-memory.
type stores struct {
	donors    donor.Store
	hospitals hospital.Store
	transfers hospital.TransferStore
	donations donation.Store
	requests  domain.Repository
	notices   notice.Store
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log, cfg.Server.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	app := &App{Config: cfg, Logger: logger}

	// Database is optional in development; without it the service runs on
	// in-memory stores.
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		if cfg.Server.Env == "production" {
			logger.Fatal("database not available", zap.Error(err))
		}
		logger.Warn("database not available, running on in-memory stores", zap.Error(err))
	} else {
		app.DB = db
		defer db.Close()

		if err := database.Migrate(ctx, db.Pool, logger); err != nil {
			logger.Fatal("migration failed", zap.Error(err))
		}
	}

	var publisher events.Publisher
	if cfg.KurrentDB.Enabled {
		bus, err := events.NewBus(ctx, cfg.KurrentDB)
		if err != nil {
			logger.Warn("KurrentDB not available, lifecycle events disabled", zap.Error(err))
		} else {
			app.Bus = bus
			publisher = bus
			defer bus.Close()
			logger.Info("KurrentDB event bus initialized",
				zap.String("host", cfg.KurrentDB.Host),
				zap.Int("port", cfg.KurrentDB.Port),
			)
		}
	}

	st := app.stores()

	calls, err := notification.NewCallStore(ctx, cfg.CallContext, cfg.Redis)
	if err != nil {
		logger.Warn("call context backend not available, falling back to memory",
			zap.String("backend", cfg.CallContext.Backend),
			zap.Error(err),
		)
		calls = notification.NewMemoryCallStore(cfg.CallContext.TTL)
	}
	if c, ok := calls.(io.Closer); ok {
		defer c.Close()
	}

	dispatcher := notification.NewDispatcher(notification.DispatcherConfigFrom(cfg.Notification), logger)
	notification.RegisterConfigured(dispatcher, cfg.Notification, calls, logger)

	matcher := matching.NewMatcher(st.donors, st.hospitals, st.requests, publisher, logger).
		WithDefaultRadius(cfg.Matching.DefaultRadiusKm)
	alerter := matching.NewAlerter(matcher, st.hospitals, dispatcher, st.requests, logger)
	dispatcher.OnResult(alerter.RecordDelivery)

	tracker := domain.NewTracker(st.requests, st.donors, st.hospitals, st.donations, dispatcher, publisher, logger)

	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	defer stopDispatch()
	if err := dispatcher.Start(dispatchCtx); err != nil {
		logger.Fatal("failed to start notification dispatcher", zap.Error(err))
	}

	limiter := secmiddleware.NewIPRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	go sweepLimiter(dispatchCtx, limiter)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(secmiddleware.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(metrics.Middleware)
	r.Use(secmiddleware.CORS(secmiddleware.DefaultCORSConfig(cfg.Server.CORSOrigins)))
	r.Use(limiter.Middleware)

	// Health checks (unauthenticated)
	r.Get("/health", healthHandler(app))
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())

	r.Get("/", infoHandler)

	// Voice provider webhooks carry no token.
	r.Mount("/voice", notification.NewIVRHandler(calls, tracker, logger).Routes())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Server.Env == "production" {
			r.Use(auth.Middleware(cfg.Auth))
		}

		r.Mount("/donors", donor.NewHandler(st.donors, logger).Routes())
		r.Mount("/hospitals", hospital.NewHandler(st.hospitals, logger).Routes())
		r.Mount("/transfers", hospital.NewTransferHandler(st.transfers, st.hospitals, dispatcher, publisher, logger).Routes())
		r.Mount("/notices", notice.NewHandler(notice.NewService(st.notices, st.donors, dispatcher, publisher, logger), logger).Routes())
		r.Mount("/matching", matching.NewHandler(matcher, alerter, logger).Routes())
		r.Mount("/requests", requestapi.NewHandler(tracker, logger).Routes())
		r.Mount("/donations", donation.NewHandler(st.donations, logger).Routes())
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
		if err := dispatcher.Stop(); err != nil {
			logger.Error("notification dispatcher stop error", zap.Error(err))
		}
		close(done)
	}()

	logger.Info("server starting",
		zap.String("env", cfg.Server.Env),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("database", app.DB != nil),
		zap.Bool("events", app.Bus != nil),
		zap.String("call_context", cfg.CallContext.Backend),
		zap.Bool("voice", cfg.Notification.Voice.Enabled),
	)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	<-done
	logger.Info("server stopped")
}

func (app *App) stores() stores {
	if app.DB == nil {
		return stores{
			donors:    memstore.NewDonors(),
			hospitals: memstore.NewHospitals(),
			transfers: memstore.NewTransfers(),
			donations: memstore.NewDonations(),
			requests:  memstore.NewRequests(),
			notices:   memstore.NewNotices(),
		}
	}
	hospitals := hospital.NewRepository(app.DB.Pool)
	return stores{
		donors:    donor.NewRepository(app.DB.Pool),
		hospitals: hospitals,
		transfers: hospitals,
		donations: donation.NewRepository(app.DB.Pool),
		requests:  requestinfra.NewPostgresRepository(app.DB.Pool),
		notices:   notice.NewRepository(app.DB.Pool),
	}
}

func sweepLimiter(ctx context.Context, limiter *secmiddleware.IPRateLimiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Sweep()
		}
	}
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "BloodBridge donation coordination service",
		"version": "0.1.0",
		"docs":    "/api/v1",
	})
}

func healthHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
		})
	}
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server": "ready",
		}

		if app.DB != nil {
			if err := app.DB.Health(r.Context()); err != nil {
				checks["database"] = "not ready: " + err.Error()
			} else {
				checks["database"] = "ready"
			}
		} else {
			checks["database"] = "not configured"
		}

		if app.Bus != nil {
			if err := app.Bus.Health(); err != nil {
				checks["kurrentdb"] = "not ready: " + err.Error()
			} else {
				checks["kurrentdb"] = "ready"
			}
		} else {
			checks["kurrentdb"] = "not configured"
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" && status != "not configured" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}
