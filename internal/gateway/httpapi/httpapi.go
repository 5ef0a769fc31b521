// Package httpapi implements the HTTP API gateway for Mpango.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Per-caller rate limiting on run-launching endpoints
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/google/uuid"

	"github.com/jkaninda/mpango/internal/domain"
	"github.com/jkaninda/mpango/internal/observability"
	"github.com/jkaninda/mpango/internal/orchestrator"
	"github.com/jkaninda/mpango/internal/protocol"
	"github.com/jkaninda/mpango/internal/ratelimit"
	"github.com/jkaninda/mpango/internal/storage"
	"github.com/jkaninda/okapi"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	APIKeys        map[string]string // API key → caller ID mapping. Keys from env.
	MaxRequestSize int64             // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz endpoint.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// RunTriggerer fires a schedule outside its cron cadence.
// Implemented by scheduler.Scheduler.
type RunTriggerer interface {
	Trigger(ctx context.Context, id uuid.UUID) (*domain.RunSummary, error)
}

// EventSource hands out run-event subscriptions for SSE streaming.
// Implemented by ws.Hub; the cancel func releases the subscription.
type EventSource interface {
	Subscribe(runID string) (<-chan *protocol.Envelope, func(), bool)
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config    Config
	engine    orchestrator.RunEngine
	limiter   *ratelimit.Limiter
	logger    *slog.Logger
	server    *http.Server
	schedules storage.ScheduledRunStore // nil = schedule endpoints disabled.
	trigger   RunTriggerer              // nil = manual trigger disabled.
	events    EventSource               // nil = SSE streaming disabled.

	// Streaming support.
	sseEnabled bool // Enable the SSE run-event endpoint.

	// Extra handlers mounted on the HTTP mux (e.g., WebSocket event endpoint).
	extraRoutes []extraRoute

	okapi *okapi.Okapi
	group *okapi.Group
}

// extraRoute stores an additional handler to be mounted on the HTTP mux.
type extraRoute struct {
	pattern string
	handler http.Handler
}

// NewGateway creates an HTTP API gateway.
func NewGateway(cfg Config, engine orchestrator.RunEngine, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	return &Gateway{
		config:  cfg,
		engine:  engine,
		limiter: rl,
		logger:  logger,
		okapi:   okapi.New(okapi.WithMaxMultipartMemory(maxRequestSize(cfg))),
	}
}

func maxRequestSize(cfg Config) int64 {
	if cfg.MaxRequestSize > 0 {
		return cfg.MaxRequestSize
	}
	return defaultMaxRequestSize
}

// WithSchedules attaches schedule management to the gateway. The trigger
// may be nil when no scheduler is running; POST /schedules/{id}/trigger
// then returns 503.
func (g *Gateway) WithSchedules(store storage.ScheduledRunStore, trigger RunTriggerer) *Gateway {
	g.schedules = store
	g.trigger = trigger
	return g
}

// WithEvents attaches a run-event source for SSE streaming.
func (g *Gateway) WithEvents(source EventSource) *Gateway {
	g.events = source
	return g
}

// WithSSE enables the SSE run-event endpoint.
func (g *Gateway) WithSSE(enabled bool) *Gateway {
	g.sseEnabled = enabled
	return g
}

// WithHandler mounts an additional handler on the HTTP mux at the given pattern.
// Useful for adding the WebSocket event endpoint alongside the API routes.
func (g *Gateway) WithHandler(pattern string, handler http.Handler) *Gateway {
	g.extraRoutes = append(g.extraRoutes, extraRoute{pattern: pattern, handler: handler})
	return g
}

func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Mpango",
			Version: "v0.1.0",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Metrics/tracing middleware (applied globally).
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}

	// Request body cap (applied globally).
	limit := maxRequestSize(g.config)
	g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	})

	// Authenticated /v1 group.
	g.group = g.okapi.Group("/v1", g.authenticate)

	// Run endpoints.
	g.group.Post("/runs", g.handleRunSubmit,
		okapi.DocSummary("Submit a feature request for planning and execution"),
		okapi.DocTags("Runs"),
		okapi.DocRequestBody(RunRequest{}),
		okapi.DocResponse(http.StatusAccepted, RunResponse{}),
		okapi.DocResponse(domain.RunSummary{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	g.group.Get("/runs", g.handleRunList,
		okapi.DocSummary("List recent runs"),
		okapi.DocTags("Runs"),
		okapi.DocResponse([]RunResponse{}),
	)
	g.group.Get("/runs/{id}", g.handleRunGet,
		okapi.DocSummary("Get a run by ID"),
		okapi.DocTags("Runs"),
		okapi.DocPathParam("id", "string", "Run ID (UUID)"),
		okapi.DocResponse(RunResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Get("/runs/{id}/calls", g.handleRunCalls,
		okapi.DocSummary("List committed tool calls of a run"),
		okapi.DocTags("Runs"),
		okapi.DocPathParam("id", "string", "Run ID (UUID)"),
		okapi.DocResponse([]ToolCallResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Delete("/runs/{id}", g.handleRunCancel,
		okapi.DocSummary("Cancel an in-flight run"),
		okapi.DocTags("Runs"),
		okapi.DocPathParam("id", "string", "Run ID (UUID)"),
		okapi.DocResponse(map[string]string{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Get("/healthz", g.handleHealth,
		okapi.DocSummary("Authenticated health check"),
		okapi.DocTags("Health"),
		okapi.DocResponse(HealthResponse{}),
	)

	// SSE run-event endpoint.
	if g.sseEnabled && g.events != nil {
		g.group.Get("/runs/{id}/events", g.handleRunEvents,
			okapi.DocSummary("Stream run lifecycle events via SSE"),
			okapi.DocTags("Runs"),
			okapi.DocPathParam("id", "string", "Run ID (UUID)"),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
	}

	// Schedule endpoints (only if a schedule store is configured).
	if g.schedules != nil {
		g.group.Post("/schedules", g.handleScheduleCreate,
			okapi.DocSummary("Create a new scheduled run"),
			okapi.DocTags("Schedules"),
			okapi.DocRequestBody(ScheduleRequest{}),
			okapi.DocResponse(http.StatusCreated, ScheduleResponse{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		)
		g.group.Get("/schedules", g.handleScheduleList,
			okapi.DocSummary("List all scheduled runs"),
			okapi.DocTags("Schedules"),
			okapi.DocResponse([]ScheduleResponse{}),
		)
		g.group.Get("/schedules/{id}", g.handleScheduleGet,
			okapi.DocSummary("Get a scheduled run by ID"),
			okapi.DocTags("Schedules"),
			okapi.DocPathParam("id", "string", "Schedule ID (UUID)"),
			okapi.DocResponse(ScheduleResponse{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
		g.group.Put("/schedules/{id}", g.handleScheduleUpdate,
			okapi.DocSummary("Update a scheduled run"),
			okapi.DocTags("Schedules"),
			okapi.DocPathParam("id", "string", "Schedule ID (UUID)"),
			okapi.DocRequestBody(ScheduleRequest{}),
			okapi.DocResponse(ScheduleResponse{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
		g.group.Delete("/schedules/{id}", g.handleScheduleDelete,
			okapi.DocSummary("Delete a scheduled run"),
			okapi.DocTags("Schedules"),
			okapi.DocPathParam("id", "string", "Schedule ID (UUID)"),
			okapi.DocResponse(map[string]string{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
		g.group.Post("/schedules/{id}/trigger", g.handleScheduleTrigger,
			okapi.DocSummary("Fire a scheduled run immediately"),
			okapi.DocTags("Schedules"),
			okapi.DocPathParam("id", "string", "Schedule ID (UUID)"),
			okapi.DocResponse(domain.RunSummary{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
			okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
		)
	}

	// Extra handlers (e.g., WebSocket event endpoint).
	for _, er := range g.extraRoutes {
		g.okapi.HandleStd("GET", er.pattern, er.handler.ServeHTTP)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	// SSE streams outlive a fixed write deadline.
	writeTimeout := 60 * time.Second
	if g.sseEnabled {
		writeTimeout = 0
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Health ---

// HealthResponse is the JSON response for GET /v1/healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleHealth(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleLiveness is the Kubernetes liveness probe
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the API key and stores the mapped caller ID on
// the request context.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		caller := ""
		for key, id := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				caller = id
			}
		}
		if caller == "" {
			return c.AbortUnauthorized("invalid API key")
		}
		c.Set("caller", caller)
		return next(c)
	}
}
