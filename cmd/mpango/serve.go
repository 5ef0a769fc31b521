package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/mpango/internal/config"
	"github.com/jkaninda/mpango/internal/gateway"
	"github.com/jkaninda/mpango/internal/gateway/cli"
	"github.com/jkaninda/mpango/internal/gateway/httpapi"
	"github.com/jkaninda/mpango/internal/gateway/ws"
	"github.com/jkaninda/mpango/internal/ratelimit"
	"github.com/jkaninda/mpango/internal/scheduler"
	goutils "github.com/jkaninda/go-utils"
)

var (
	serveConfigPath string
	servePort       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start in server mode (HTTP API, WebSocket, CLI)",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `mpango --config path` and `mpango serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen port (e.g. :8080)")
	}
}

// runServe starts Mpango in server mode (HTTP API, WebSocket, CLI).
func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("MPANGO_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if servePort != "" {
		if cfg.Gateways.HTTP == nil {
			cfg.Gateways.HTTP = &config.HTTPGatewayConfig{Enabled: true}
		}
		cfg.Gateways.HTTP.ListenAddr = servePort
	}

	logger.Info("starting in server mode", slog.String("config", serveConfigPath))

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run-event hub (optional). The engine publishes every lifecycle
	// event into it; WebSocket and SSE subscribers read out of it.
	var hub *ws.Hub
	if cfg.Gateways.WebSocket != nil && cfg.Gateways.WebSocket.Enabled {
		hub = ws.NewHub(cfg.Gateways.WebSocket, logger)
		sc.Engine.WithEvents(hub)
		defer hub.Close()
		logger.Debug("run-event hub initialized",
			slog.String("path", cfg.Gateways.WebSocket.WSPath()),
		)
	}

	// Scheduler (optional).
	var sched *scheduler.Scheduler
	if cfg.Scheduler != nil && cfg.Scheduler.Enabled {
		sched = scheduler.New(sc.Store.ScheduledRuns(), sc.Engine, logger, cfg.Scheduler)
		if sc.Obs != nil && sc.Obs.Metrics != nil {
			sched.WithMetrics(scheduler.NewMetrics(sc.Obs.Metrics.Registry))
		}
		cancelScheduler := sched.Start(ctx)
		defer cancelScheduler()

		logger.Debug("scheduler started",
			slog.String("poll_interval", cfg.Scheduler.PollInterval().String()),
			slog.Int("max_concurrent", cfg.Scheduler.MaxConcurrent()),
		)
	}

	// Build enabled gateways.
	gateways := buildGateways(cfg, sc, hub, sched)
	if len(gateways) == 0 {
		return fmt.Errorf("no gateways enabled in config")
	}
	logger.Info("gateways configured", slog.Int("count", len(gateways)))

	// Start all gateways in goroutines.
	errs := make(chan error, len(gateways))
	for _, gw := range gateways {
		go func(g gateway.Gateway) {
			errs <- g.Start(ctx)
		}(gw)
	}

	// Wait for signal or first gateway error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := len(gateways) - 1; i >= 0; i-- {
		if err := gateways[i].Stop(shutdownCtx); err != nil {
			logger.Error("stopping gateway", slog.String("error", err.Error()))
		}
	}

	return nil
}

// buildGateways creates all enabled gateways from config.
func buildGateways(cfg *config.Config, sc *SharedComponents, hub *ws.Hub, sched *scheduler.Scheduler) []gateway.Gateway {
	var gws []gateway.Gateway
	gwCfg := cfg.Gateways

	// Default to CLI if no gateways section configured.
	hasAnyGateway := gwCfg.CLI != nil || gwCfg.HTTP != nil || gwCfg.WebSocket != nil
	if !hasAnyGateway {
		gws = append(gws, cli.NewGateway(sc.Engine, sc.Logger))
		sc.Logger.Debug("gateway enabled", slog.String("type", "cli"), slog.String("reason", "default"))
		return gws
	}

	// CLI gateway.
	if gwCfg.CLI != nil && gwCfg.CLI.Enabled {
		gws = append(gws, cli.NewGateway(sc.Engine, sc.Logger))
		sc.Logger.Debug("gateway enabled", slog.String("type", "cli"))
	}

	// HTTP API gateway.
	var httpGW *httpapi.Gateway
	if gwCfg.HTTP != nil && gwCfg.HTTP.Enabled {
		limiter := ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: gwCfg.HTTP.RateLimit.RequestsPerMinute,
			BurstSize:         gwCfg.HTTP.RateLimit.BurstSize,
		})

		httpCfg := httpapi.Config{
			ListenAddr:     gwCfg.HTTP.Addr(),
			EnableDocs:     gwCfg.HTTP.EnableDocs,
			APIKeys:        gwCfg.HTTP.APIKeys,
			MaxRequestSize: gwCfg.HTTP.MaxRequestSizeBytes,
		}
		if sc.Obs != nil {
			httpCfg.Metrics = sc.Obs.Metrics
			httpCfg.HealthChecker = sc.Obs.Health
			if sc.Obs.Metrics != nil {
				httpCfg.MetricsRegistry = sc.Obs.Metrics.Registry
			}
			if sc.Obs.Tracer != nil {
				httpCfg.Tracer = sc.Obs.Tracer.Tracer()
			}
			if cfg.Observability.Metrics != nil {
				httpCfg.MetricsPath = cfg.Observability.Metrics.MetricsPath()
			}
		}

		httpGW = httpapi.NewGateway(httpCfg, sc.Engine, limiter, sc.Logger)

		// A nil scheduler must stay a nil interface so the trigger
		// endpoint can detect it.
		var trigger httpapi.RunTriggerer
		if sched != nil {
			trigger = sched
		}
		httpGW.WithSchedules(sc.Store.ScheduledRuns(), trigger)

		if hub != nil {
			httpGW.WithEvents(hub)
		}
		if gwCfg.HTTP.SSE {
			httpGW.WithSSE(true)
			sc.Logger.Debug("SSE run-event endpoint enabled")
		}
	}

	// Mount the WebSocket endpoint on the HTTP gateway if both are enabled.
	// Otherwise, start a standalone HTTP server for the WebSocket endpoint.
	if hub != nil {
		wsPath := gwCfg.WebSocket.WSPath()

		if httpGW != nil {
			httpGW.WithHandler(wsPath, hub.Handler())
			sc.Logger.Debug("websocket endpoint mounted on http gateway",
				slog.String("path", wsPath),
			)
		} else {
			addr := gwCfg.WebSocket.ListenAddr
			if addr == "" {
				addr = ":8081"
			}
			gws = append(gws, newStandaloneWSGateway(hub, addr, wsPath, sc.Logger))
			sc.Logger.Debug("gateway enabled",
				slog.String("type", "websocket"),
				slog.String("addr", addr),
				slog.String("path", wsPath),
			)
		}
	}

	if httpGW != nil {
		gws = append(gws, httpGW)
		sc.Logger.Debug("gateway enabled",
			slog.String("type", "http"),
			slog.String("addr", gwCfg.HTTP.Addr()),
			slog.Bool("scheduler", sched != nil),
			slog.Bool("websocket", hub != nil),
		)
	}

	return gws
}

// standaloneWSGateway wraps the run-event hub as a gateway.Gateway for
// configurations where the HTTP gateway is disabled and the WebSocket
// endpoint needs its own HTTP listener.
type standaloneWSGateway struct {
	hub        *ws.Hub
	addr       string
	path       string
	logger     *slog.Logger
	httpServer *http.Server
}

func newStandaloneWSGateway(hub *ws.Hub, addr, path string, logger *slog.Logger) *standaloneWSGateway {
	return &standaloneWSGateway{
		hub:    hub,
		addr:   addr,
		path:   path,
		logger: logger,
	}
}

func (g *standaloneWSGateway) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(g.path, g.hub.Handler())

	g.httpServer = &http.Server{
		Addr:              g.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("standalone websocket gateway starting", slog.String("addr", g.addr))
	if err := g.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("websocket gateway: %w", err)
	}
	return nil
}

func (g *standaloneWSGateway) Stop(ctx context.Context) error {
	if g.httpServer != nil {
		return g.httpServer.Shutdown(ctx)
	}
	return nil
}
