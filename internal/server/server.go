package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/scout/config"
	core "github.com/mohammad-safakhou/scout/internal/agent/core"
	"github.com/mohammad-safakhou/scout/internal/agent/telemetry"
	"github.com/mohammad-safakhou/scout/internal/index"
	"github.com/mohammad-safakhou/scout/internal/runtime"
	"github.com/mohammad-safakhou/scout/internal/store"
)

// Run wires the full service and serves HTTP until the listener fails.
func Run(cfg *config.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()
	dsn := cfg.Storage.Postgres.DSN()
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	st, err := store.New(ctx, dsn)
	if err != nil {
		return err
	}
	defer st.Close()

	cache := store.NewCache(cfg.Storage.Redis, 0)
	if err := cache.Ping(ctx); err != nil {
		baseLogger.Printf("redis unavailable, caching and scheduler locks disabled: %v", err)
		cache = nil
	}

	idx, err := index.New()
	if err != nil {
		return err
	}
	if all, err := st.AllCandidates(ctx); err != nil {
		baseLogger.Printf("index rebuild skipped: %v", err)
	} else {
		for _, ic := range all {
			if err := idx.IndexDiscovery(ic.DiscoveryID, ic.Query, []core.Candidate{ic.Candidate}); err != nil {
				baseLogger.Printf("index rebuild %s: %v", ic.DiscoveryID, err)
				break
			}
		}
	}

	tele := telemetry.NewTelemetry(cfg.Telemetry)
	defer tele.Shutdown()
	orchLogger := log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	orch, err := core.NewOrchestrator(cfg, orchLogger, tele)
	if err != nil {
		return err
	}

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}

	api := e.Group("/api")
	auth := &AuthHandler{Store: st, Secret: secret}
	auth.Register(api.Group("/auth"))

	protected := api.Group("")
	protected.Use(runtime.EchoAuthMiddleware(secret))

	dh := &DiscoverHandler{Orch: orch, Store: st, Cache: cache, Index: idx,
		Logger: log.New(log.Writer(), "[DISCOVER] ", log.LstdFlags)}
	dh.Register(protected)

	lh := &DiscoveriesHandler{Store: st, Index: idx}
	lh.Register(protected.Group("/discoveries"))

	if cfg.Scheduler.Enabled {
		sched := &Scheduler{Store: st, Cache: cache, Orch: orch, Index: idx, Interval: cfg.Scheduler.TickInterval}
		sched.Start()
		defer sched.Stop()
	}

	return e.Start(cfg.Server.Address)
}
