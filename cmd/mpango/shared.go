package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jkaninda/mpango/internal/config"
	"github.com/jkaninda/mpango/internal/llm"
	"github.com/jkaninda/mpango/internal/llm/anthropic"
	"github.com/jkaninda/mpango/internal/llm/gemini"
	"github.com/jkaninda/mpango/internal/llm/openai"
	"github.com/jkaninda/mpango/internal/observability"
	"github.com/jkaninda/mpango/internal/orchestrator"
	"github.com/jkaninda/mpango/internal/planner"
	"github.com/jkaninda/mpango/internal/sandbox"
	"github.com/jkaninda/mpango/internal/storage"
	pgstore "github.com/jkaninda/mpango/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/mpango/internal/storage/sqlite"
	"github.com/jkaninda/mpango/internal/task"
	"github.com/jkaninda/mpango/internal/tools"
	"github.com/jkaninda/mpango/internal/tools/dbquery"
	"github.com/jkaninda/mpango/internal/tools/mcpbridge"
	"github.com/jkaninda/mpango/internal/tools/taskops"
	"github.com/jkaninda/mpango/internal/tools/webfetch"
)

// SharedComponents holds all initialized subsystems that both server and
// one-shot modes require. Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config *config.Config
	Logger *slog.Logger
	Store  storage.Store // Unified store (SQLite or PostgreSQL).

	Obs      *observability.Observability
	Provider llm.Provider
	ToolReg  *tools.Registry
	Tasks    *task.Manager
	Executor sandbox.Runner
	Engine   *orchestrator.Engine

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order. Safe to
// call more than once; each cleanup runs a single time.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
	sc.cleanups = nil
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// initShared performs all common initialization shared between server and
// one-shot modes. Callers must call sc.Cleanup() when done.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Ensure data directory exists.
	dataDir := cfg.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}
	logger.Debug("data directory initialized", slog.String("path", dataDir))

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	})
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
		)
	}

	// Planning model provider.
	provider, err := newLLMProvider(cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing LLM provider: %w", err)
	}
	logger.Debug("llm provider initialized", slog.String("provider", provider.Name()))

	if obs != nil {
		provider = observability.NewInstrumentedProvider(provider, obs.Metrics, obs.TracerOrNil())
	}
	sc.Provider = provider

	// Storage (unified: SQLite default, PostgreSQL optional).
	store, err := initStore(cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	sc.Store = store
	sc.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	})

	// Run migrations.
	if err := store.Migrate(context.Background()); err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	// Task manager (per-run task stores for the task tools).
	sc.Tasks = task.NewManager()

	// Tool registry. The registry must be complete before the executor is
	// built: the validator snapshots the tool names at construction.
	toolReg, err := buildToolRegistry(cfg, sc, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing tools: %w", err)
	}
	sc.ToolReg = toolReg
	logger.Debug("tools registered", slog.Any("tools", toolReg.Names()))

	// Script executor.
	executor := sandbox.NewExecutor(toolReg, sandbox.Config{
		Timeout:        cfg.Sandbox.Timeout(),
		MaxOutputBytes: cfg.Sandbox.OutputLimit(),
	}, logger)
	logger.Debug("script executor initialized",
		slog.String("timeout", cfg.Sandbox.Timeout().String()),
		slog.Int("max_output_bytes", cfg.Sandbox.OutputLimit()),
	)

	var runner sandbox.Runner = executor
	if obs != nil {
		runner = observability.NewInstrumentedExecutor(executor, obs.Metrics, obs.TracerOrNil())
	}
	sc.Executor = runner

	// Planner. Plan caching needs an external Cache wired through
	// planner.WithCache; this binary ships none.
	if cfg.Sandbox.ResultCaching() {
		logger.Warn("enable_result_caching is set but no plan cache backend is wired; planning runs uncached")
	}
	pl := planner.New(provider, logger, planner.WithMaxTokens(cfg.Providers.PlanMaxTokens()))

	// Run engine.
	sc.Engine = orchestrator.NewEngine(pl, runner, toolReg, sc.Tasks, logger, orchestrator.EngineConfig{}).
		WithStore(store).
		WithMetrics(obs.MetricsOrNil())

	// Health checks.
	if obs != nil && cfg.Observability.Health != nil && cfg.Observability.Health.IncludeStorage {
		obs.Health.AddCheck("database", store.Ping)
	}

	return sc, nil
}

// buildToolRegistry registers every configured host tool, each wrapped
// with per-tool call metrics when observability is on.
func buildToolRegistry(cfg *config.Config, sc *SharedComponents, logger *slog.Logger) (*tools.Registry, error) {
	reg := tools.NewRegistry()
	metrics := sc.Obs.MetricsOrNil()
	register := func(t tools.Tool) error {
		return reg.Register(observability.InstrumentTool(t, metrics))
	}

	// Task orchestration tools (always available).
	taskTools := taskops.New(sc.Tasks,
		taskops.WithLogger(logger),
		taskops.WithParallelism(cfg.Tools.Task.MaxParallel),
		taskops.WithAllowedCallers(cfg.Tools.Task.AllowedCallers...),
	)
	for _, t := range taskTools.Tools() {
		if err := register(t); err != nil {
			return nil, err
		}
	}

	// Read-only database query tool. The DSN gate includes the
	// MPANGO_TOOL_DB_DSN override applied at config load.
	if cfg.Tools.Database.DSN != "" {
		err := register(dbquery.New(dbquery.Config{
			DSN:            cfg.Tools.Database.DSN,
			MaxRows:        cfg.Tools.Database.RowLimit(),
			Timeout:        cfg.Tools.Database.QueryTimeout(),
			AllowedCallers: cfg.Tools.Database.AllowedCallers,
		}, logger))
		if err != nil {
			return nil, err
		}
		logger.Debug("query_database tool registered")
	}

	// Web fetch tool (disabled unless a domain allowlist is configured).
	if len(cfg.Tools.Web.AllowedDomains) > 0 {
		err := register(webfetch.New(webfetch.Config{
			AllowedHosts:     cfg.Tools.Web.AllowedDomains,
			MaxResponseBytes: cfg.Tools.Web.ResponseLimit(),
			Timeout:          cfg.Tools.Web.FetchTimeout(),
			AllowedCallers:   cfg.Tools.Web.AllowedCallers,
		}, logger))
		if err != nil {
			return nil, err
		}
		logger.Debug("fetch_url tool registered", slog.Int("allowed_domains", len(cfg.Tools.Web.AllowedDomains)))
	}

	// External MCP tool servers. An unreachable server is skipped so one
	// down dependency does not block startup.
	if len(cfg.Tools.MCP) > 0 {
		bridge := mcpbridge.NewBridge(logger)
		mcpCtx, mcpCancel := context.WithTimeout(context.Background(), 30*time.Second)
		for _, mcpCfg := range cfg.Tools.MCP {
			mcpTools, mcpErr := bridge.Connect(mcpCtx, mcpCfg)
			if mcpErr != nil {
				logger.Error("MCP server failed, skipping",
					slog.String("server", mcpCfg.Name),
					slog.String("error", mcpErr.Error()),
				)
				continue
			}
			for _, t := range mcpTools {
				if err := register(t); err != nil {
					mcpCancel()
					return nil, err
				}
			}
		}
		mcpCancel()
		sc.addCleanup(bridge.Close)
	}

	return reg, nil
}

// initStore creates the appropriate storage backend from config.
func initStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	driver := cfg.StorageDriverName()

	switch driver {
	case storage.DriverPostgres:
		return initPostgresStore(cfg, logger)
	case storage.DriverSQLite:
		return initSQLiteStore(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

func initSQLiteStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	dbPath := cfg.DatabasePath()
	journalMode := "wal"

	if cfg.Storage != nil && cfg.Storage.SQLite != nil {
		if cfg.Storage.SQLite.Path != "" {
			dbPath = cfg.Storage.SQLite.Path
		}
		if cfg.Storage.SQLite.JournalMode != "" {
			journalMode = cfg.Storage.SQLite.JournalMode
		}
	}

	return sqlitestore.Open(sqlitestore.Config{
		Path:        dbPath,
		JournalMode: journalMode,
	}, logger)
}

func initPostgresStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	var dsn string
	if cfg.Storage != nil && cfg.Storage.Postgres != nil {
		dsn = cfg.Storage.Postgres.DSN
	}

	if envDSN := os.Getenv("MPANGO_DB_DSN"); envDSN != "" {
		dsn = envDSN
	}
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required (set storage.postgres.dsn or MPANGO_DB_DSN)")
	}

	pgCfg := pgstore.Config{DSN: dsn}
	if cfg.Storage != nil && cfg.Storage.Postgres != nil {
		pgCfg.MaxOpenConns = cfg.Storage.Postgres.MaxOpenConns
		pgCfg.MaxIdleConns = cfg.Storage.Postgres.MaxIdleConns
		pgCfg.ConnMaxLifetime = time.Duration(cfg.Storage.Postgres.ConnMaxLifetimeS) * time.Second
	}

	// Bound the connect-and-migrate step so startup fails fast when the
	// database is unreachable.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pgDB, err := pgstore.Open(ctx, pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}

	return pgstore.NewStore(pgDB), nil
}

// newLLMProvider creates the planning provider based on the configured default.
func newLLMProvider(cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	primary, err := buildProvider(cfg.Providers.Default, cfg, logger)
	if err != nil {
		return nil, err
	}

	// Build fallback chain if configured.
	if len(cfg.Providers.Fallback) > 0 {
		providers := []llm.Provider{primary}
		for _, name := range cfg.Providers.Fallback {
			fb, err := buildProvider(name, cfg, logger)
			if err != nil {
				logger.Warn("skipping fallback provider",
					slog.String("provider", name),
					slog.String("error", err.Error()),
				)
				continue
			}
			providers = append(providers, fb)
		}
		if len(providers) > 1 {
			return llm.NewFallback(logger, providers...), nil
		}
	}

	return primary, nil
}

// buildProvider creates a single planning provider by name.
func buildProvider(name string, cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	switch name {
	case "anthropic", "":
		return anthropic.NewClient(
			cfg.Providers.Anthropic.APIKey,
			cfg.Providers.Anthropic.Model,
			logger,
		), nil
	case "openai":
		var opts []openai.Option
		if cfg.Providers.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Providers.OpenAI.BaseURL))
		}
		return openai.NewClient(
			cfg.Providers.OpenAI.APIKey,
			cfg.Providers.OpenAI.Model,
			logger,
			opts...,
		), nil
	case "gemini":
		var opts []gemini.Option
		if cfg.Providers.Gemini.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.Providers.Gemini.BaseURL))
		}
		return gemini.NewClient(
			cfg.Providers.Gemini.APIKey,
			cfg.Providers.Gemini.Model,
			logger,
			opts...,
		), nil
	case "ollama":
		baseURL := cfg.Providers.Ollama.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return openai.NewClient(
			"",
			cfg.Providers.Ollama.Model,
			logger,
			openai.WithBaseURL(baseURL),
			openai.WithName("ollama"),
		), nil
	default:
		return nil, fmt.Errorf("unknown provider: %q", name)
	}
}
