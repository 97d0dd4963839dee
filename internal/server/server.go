package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/deepscout/config"
	core "github.com/mohammad-safakhou/deepscout/internal/agent/core"
	"github.com/mohammad-safakhou/deepscout/internal/agent/telemetry"
	"github.com/mohammad-safakhou/deepscout/internal/knowledge"
	"github.com/mohammad-safakhou/deepscout/internal/session"
	"github.com/mohammad-safakhou/deepscout/internal/store"
	"github.com/mohammad-safakhou/deepscout/provider"
	webfetch "github.com/mohammad-safakhou/deepscout/tools/web_fetch"
	websearch "github.com/mohammad-safakhou/deepscout/tools/web_search"
)

// Run wires the full service and serves the HTTP API until the process exits.
func Run(cfgPath, addr string) error {
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
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	registerDocs(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	cfg := config.LoadConfig(cfgPath)
	ctx := context.Background()

	if err := cfg.Storage.Postgres.Validate(); err != nil {
		return err
	}
	dsn := cfg.Storage.Postgres.DSN()
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		baseLogger.Printf("migrate: %v", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	// Telemetry + LLM caller + research tools + orchestrator (single instance)
	tele := telemetry.NewTelemetry(cfg.Telemetry)
	caller, err := provider.New(cfg.LLM, tele)
	if err != nil {
		return err
	}
	registry, kb, err := BuildRegistry(cfg)
	if err != nil {
		return err
	}
	defer kb.Close()
	orch := core.NewOrchestrator(cfg, caller, registry, tele)

	// Redis-backed conversation sessions
	if err := cfg.Storage.Redis.Validate(); err != nil {
		return err
	}
	rdb, err := session.Conn(ctx, cfg.Storage.Redis.Host, cfg.Storage.Redis.Port,
		cfg.Storage.Redis.Password, cfg.Storage.Redis.DB, cfg.Storage.Redis.Timeout)
	if err != nil {
		return fmt.Errorf("redis connection failed (%s:%s): %w", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port, err)
	}
	sessions := session.NewConversations(rdb, cfg.Tools.Knowledge.SessionTTL)

	secret := cfg.Server.JWTSecret
	if secret == "" {
		return fmt.Errorf("jwt secret not configured (server.jwt_secret)")
	}
	auth := &AuthHandler{Store: st, Secret: []byte(secret)}

	api := e.Group("/api")
	auth.Register(api.Group("/auth"))

	rh := NewRunsHandler(st, orch, sessions)
	rh.Register(api.Group("/research"), auth.Secret)

	sh := &SubscriptionsHandler{Store: st}
	sh.Register(api.Group("/subscriptions"), auth.Secret)

	registerTelemetry(api.Group("/telemetry"), tele, auth.Secret)

	sched := &Scheduler{Store: st, Stop: make(chan struct{}), Rdb: rdb, Orch: orch}
	sched.Start()

	if addr == "" {
		addr = cfg.Server.Address
		if addr != "" && addr[0] != ':' {
			addr = ":" + addr
		}
		if addr == "" {
			addr = ":10011"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

// registerTelemetry exposes the in-process research counters and LLM spend
// as JSON for operators.
func registerTelemetry(g *echo.Group, tele *telemetry.Telemetry, secret []byte) {
	g.Use(echoAuthMiddleware(secret))
	g.GET("", func(c echo.Context) error {
		return c.JSON(http.StatusOK, tele.Snapshot())
	})
}

// BuildRegistry assembles the research tool set: web search, page fetch, and
// the knowledge base the fetch tool feeds. Search-class tools get duplicate
// folding on near-identical queries.
func BuildRegistry(cfg *config.Config) (*core.Registry, *knowledge.Store, error) {
	registry := core.NewRegistry()

	searchTool, err := websearch.NewTool(cfg.Tools.WebSearch)
	if err != nil {
		return nil, nil, fmt.Errorf("web search tool: %w", err)
	}
	registry.RegisterSearch(searchTool)

	kb, err := knowledge.Open(cfg.Tools.Knowledge.IndexDir)
	if err != nil {
		return nil, nil, fmt.Errorf("knowledge index: %w", err)
	}

	fetchTool, err := webfetch.NewTool(cfg.Tools.WebFetch)
	if err != nil {
		kb.Close()
		return nil, nil, fmt.Errorf("web fetch tool: %w", err)
	}
	fetchTool.SetIngestor(kb)
	registry.Register(fetchTool)

	registry.RegisterSearch(knowledge.NewSearchTool(kb, cfg.Tools.Knowledge.MaxResults))
	registry.Register(knowledge.NewGetTool(kb))

	return registry, kb, nil
}
