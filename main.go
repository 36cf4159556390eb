package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"payment-sessions-service/config"
	"payment-sessions-service/connectivity"
	"payment-sessions-service/handlers"
	"payment-sessions-service/logging"
	"payment-sessions-service/monitoring"
	"payment-sessions-service/mpin"
	"payment-sessions-service/realtime"
	"payment-sessions-service/session"
)

func main() {
	// Initialize structured logging
	if err := logging.InitLogger(); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logging.Sync()
	defer func() {
		if err := logging.Shutdown(context.Background()); err != nil {
			logging.Error("Error shutting down logger provider", zap.Error(err))
		}
	}()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Initialize OpenTelemetry
	tp, _, err := monitoring.InitTracer(cfg.ServiceName, cfg.OTELEndpoint)
	if err != nil {
		logging.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logging.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	mp, _, err := monitoring.InitMeter(cfg.ServiceName, cfg.OTELEndpoint)
	if err != nil {
		logging.Fatal("Failed to initialize meter", zap.Error(err))
	}
	defer func() {
		if err := mp.Shutdown(context.Background()); err != nil {
			logging.Error("Error shutting down meter provider", zap.Error(err))
		}
	}()

	// Core components
	hub := realtime.NewHub()
	manager := session.NewManager(hub, session.ManagerConfig{
		Session: session.Config{
			ReloadDelay:      cfg.ReloadDelay,
			BannerClearDelay: cfg.BannerClearDelay,
			MaxPending:       cfg.MaxPending,
		},
		SweepInterval: cfg.SweepInterval,
		Retention:     cfg.Retention,
	})

	verifier := mpin.NewHTTPVerifier(cfg.MpinVerifyURL, cfg.MpinVerifyTimeout)
	registry := mpin.NewRegistry(mpin.Config{
		MaxAttempts: cfg.MpinMaxAttempts,
		Lockout:     cfg.MpinLockout,
	}, verifier)

	// Server-side connectivity probe fans out to all live sessions
	monitor := connectivity.NewMonitor()
	monitor.Subscribe(manager.OnConnectivityChanged)

	// Initialize handlers
	sessionHandler := handlers.NewSessionHandler(manager)
	gatewayHandler := handlers.NewGatewayHandler(hub)
	mpinHandler := handlers.NewMpinHandler(registry, cfg.MpinMaxAttempts)

	// Setup Gin router
	r := gin.Default()

	// OpenTelemetry middleware
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(httpMetricsMiddleware())

	// Routes
	r.GET("/health", sessionHandler.HealthCheck)
	r.GET("/metrics", gin.WrapH(monitoring.PrometheusHandler()))

	api := r.Group("/api")
	{
		api.POST("/sessions", sessionHandler.Create)
		api.GET("/sessions/:id", sessionHandler.Get)
		api.GET("/sessions/:id/stream", sessionHandler.Stream)
		api.POST("/sessions/:id/events/navigation", sessionHandler.Navigation)
		api.POST("/sessions/:id/events/load-error", sessionHandler.LoadError)
		api.POST("/sessions/:id/events/http-error", sessionHandler.HTTPError)
		api.POST("/sessions/:id/connectivity", sessionHandler.Connectivity)
		api.POST("/sessions/:id/cancel", sessionHandler.Cancel)
		api.DELETE("/sessions/:id", sessionHandler.Dispose)

		api.POST("/mpin/verify", mpinHandler.Verify)
		api.POST("/mpin/reset", mpinHandler.Reset)
		api.GET("/mpin/status", mpinHandler.Status)
	}

	r.POST("/internal/gateway/outcome", gatewayHandler.Outcome)

	// Run server, janitor, and probe until a signal arrives
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Info("Payment sessions service starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := manager.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if cfg.ProbeURL != "" {
		probe := connectivity.NewProbe(monitor, cfg.ProbeURL, cfg.ProbeInterval, nil)
		g.Go(func() error {
			err := probe.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logging.Fatal("Service exited with error", zap.Error(err))
	}
	logging.Info("Service stopped")
}

// httpMetricsMiddleware records HTTP request metrics
func httpMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		// Process request
		c.Next()

		// Record duration
		duration := float64(time.Since(start).Milliseconds())

		if monitoring.HTTPServerDuration != nil {
			monitoring.HTTPServerDuration.Record(c.Request.Context(), duration,
				metric.WithAttributes(
					attribute.String("http_method", c.Request.Method),
					attribute.String("http_route", c.FullPath()),
					attribute.String("http_status_code", strconv.Itoa(c.Writer.Status())),
				),
			)
		}
	}
}
