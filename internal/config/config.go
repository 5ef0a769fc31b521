// Package config handles loading and validating Mpango configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Mpango.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Persistent data directory. Default: ~/.mpango/data. Override: MPANGO_DATA_DIR env var.
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`   // nil = SQLite default (database path derived from data dir)
	Sandbox       *SandboxConfig       `json:"sandbox,omitempty" yaml:"sandbox,omitempty"`   // nil = all defaults
	Providers     ProvidersConfig      `json:"providers" yaml:"providers"`
	Gateways      GatewaysConfig       `json:"gateways" yaml:"gateways"`
	Scheduler     *SchedulerConfig     `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`         // nil = scheduler disabled
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Tools         ToolsConfig          `json:"tools" yaml:"tools"`
}

// StorageConfig configures the persistence backend.
// When nil, defaults to SQLite with the database path derived from the data directory.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from data dir.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// SandboxConfig bounds script execution.
// When nil, every limit takes its default.
type SandboxConfig struct {
	TimeoutSeconds      int  `json:"timeout_seconds" yaml:"timeout_seconds"`             // Wall-clock limit per script. Default: 60.
	MaxOutputBytes      int  `json:"max_output_bytes" yaml:"max_output_bytes"`           // Captured stdout cap per run. Default: 65536.
	EnableResultCaching bool `json:"enable_result_caching" yaml:"enable_result_caching"` // Reuse cached plans for identical planning inputs.
}

// Timeout returns the script execution deadline with a default of 60s.
func (s *SandboxConfig) Timeout() time.Duration {
	if s != nil && s.TimeoutSeconds > 0 {
		return time.Duration(s.TimeoutSeconds) * time.Second
	}
	return 60 * time.Second
}

// OutputLimit returns the stdout cap with a default of 64 KiB.
func (s *SandboxConfig) OutputLimit() int {
	if s != nil && s.MaxOutputBytes > 0 {
		return s.MaxOutputBytes
	}
	return 64 * 1024
}

// ResultCaching reports whether plan caching is enabled.
func (s *SandboxConfig) ResultCaching() bool {
	return s != nil && s.EnableResultCaching
}

// ObservabilityConfig configures metrics, tracing, and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Health  *HealthConfig  `json:"health,omitempty" yaml:"health,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// MetricsPath returns the exposition path with a default of "/metrics".
func (m *MetricsConfig) MetricsPath() string {
	if m != nil && m.Path != "" {
		return m.Path
	}
	return "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "mpango"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// HealthConfig configures dependency health checks for readiness probes.
type HealthConfig struct {
	IncludeStorage bool `json:"include_storage" yaml:"include_storage"`
}

// SchedulerConfig configures the recurring-run scheduler.
// When nil, no scheduled runs are executed.
type SchedulerConfig struct {
	Enabled                bool `json:"enabled" yaml:"enabled"`
	PollIntervalSeconds    int  `json:"poll_interval_seconds" yaml:"poll_interval_seconds"`         // Default: 30.
	MaxConcurrentRuns      int  `json:"max_concurrent_runs" yaml:"max_concurrent_runs"`             // Default: 5.
	MissedRunWindowSeconds int  `json:"missed_run_window_seconds" yaml:"missed_run_window_seconds"` // Default: 3600 (1 hour).
}

// PollInterval returns the poll interval with a default of 30s.
func (s *SchedulerConfig) PollInterval() time.Duration {
	if s != nil && s.PollIntervalSeconds > 0 {
		return time.Duration(s.PollIntervalSeconds) * time.Second
	}
	return 30 * time.Second
}

// MaxConcurrent returns the max concurrent scheduled runs with a default of 5.
func (s *SchedulerConfig) MaxConcurrent() int {
	if s != nil && s.MaxConcurrentRuns > 0 {
		return s.MaxConcurrentRuns
	}
	return 5
}

// MissedRunWindow returns the window for recovering missed executions.
// Schedules missed more than this duration ago are skipped. Default: 1 hour.
func (s *SchedulerConfig) MissedRunWindow() time.Duration {
	if s != nil && s.MissedRunWindowSeconds > 0 {
		return time.Duration(s.MissedRunWindowSeconds) * time.Second
	}
	return 1 * time.Hour
}

// ToolsConfig configures individual host tool settings.
type ToolsConfig struct {
	Task     TaskToolsConfig    `json:"task" yaml:"task"`
	Database DatabaseToolConfig `json:"database" yaml:"database"`
	Web      WebToolConfig      `json:"web" yaml:"web"`
	MCP      []MCPServerConfig  `json:"mcp,omitempty" yaml:"mcp,omitempty"` // External MCP tool servers.
}

// TaskToolsConfig tunes the task orchestration tools.
type TaskToolsConfig struct {
	MaxParallel    int      `json:"max_parallel" yaml:"max_parallel"`       // Concurrent workers for parallel_execute. 0 = unbounded.
	AllowedCallers []string `json:"allowed_callers" yaml:"allowed_callers"` // Empty = every caller.
}

// DatabaseToolConfig configures the read-only database query tool.
// When DSN is empty, the tool is not registered.
type DatabaseToolConfig struct {
	DSN            string   `json:"dsn" yaml:"dsn"`                         // Connection string. Override: MPANGO_TOOL_DB_DSN env var.
	MaxRows        int      `json:"max_rows" yaml:"max_rows"`               // Maximum rows per query. Default: 1000.
	TimeoutSeconds int      `json:"timeout_seconds" yaml:"timeout_seconds"` // Per-query timeout. Default: 30.
	AllowedCallers []string `json:"allowed_callers" yaml:"allowed_callers"` // Empty = every caller.
}

// RowLimit returns the per-query row cap with a default of 1000.
func (d *DatabaseToolConfig) RowLimit() int {
	if d != nil && d.MaxRows > 0 {
		return d.MaxRows
	}
	return 1000
}

// QueryTimeout returns the per-query timeout with a default of 30s.
func (d *DatabaseToolConfig) QueryTimeout() time.Duration {
	if d != nil && d.TimeoutSeconds > 0 {
		return time.Duration(d.TimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// WebToolConfig restricts the web fetch tool.
// When AllowedDomains is empty, the tool is not registered.
type WebToolConfig struct {
	AllowedDomains   []string `json:"allowed_domains" yaml:"allowed_domains"`       // Hosts the tool may fetch from. Empty = tool disabled.
	MaxResponseBytes int64    `json:"max_response_bytes" yaml:"max_response_bytes"` // Default: 1 MiB.
	TimeoutSeconds   int      `json:"timeout_seconds" yaml:"timeout_seconds"`       // Default: 30.
	AllowedCallers   []string `json:"allowed_callers" yaml:"allowed_callers"`       // Empty = every caller.
}

// ResponseLimit returns the response size cap with a default of 1 MiB.
func (w *WebToolConfig) ResponseLimit() int64 {
	if w != nil && w.MaxResponseBytes > 0 {
		return w.MaxResponseBytes
	}
	return 1 << 20
}

// FetchTimeout returns the per-request timeout with a default of 30s.
func (w *WebToolConfig) FetchTimeout() time.Duration {
	if w != nil && w.TimeoutSeconds > 0 {
		return time.Duration(w.TimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// MCPServerConfig defines a single external MCP server connection.
// Mpango acts as an MCP client, connecting at startup, discovering tools,
// and registering them in the tool registry namespaced as "mcp__<name>__<tool>".
type MCPServerConfig struct {
	Name           string            `json:"name" yaml:"name"`                           // Server ID used for tool namespacing (e.g., "github").
	Transport      string            `json:"transport" yaml:"transport"`                 // "stdio", "sse", or "streamable_http".
	Command        string            `json:"command,omitempty" yaml:"command,omitempty"` // Executable to launch (stdio only).
	Args           []string          `json:"args,omitempty" yaml:"args,omitempty"`       // Command arguments (stdio only).
	Env            map[string]string `json:"env,omitempty" yaml:"env,omitempty"`         // Subprocess env vars (stdio only). Values support ${VAR} expansion.
	URL            string            `json:"url,omitempty" yaml:"url,omitempty"`         // Server endpoint (sse/streamable_http only).
	Headers        map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"` // HTTP headers (sse/streamable_http). Values support ${VAR} expansion.
	AllowedCallers []string          `json:"allowed_callers" yaml:"allowed_callers"`     // Empty = every caller.
}

// GatewaysConfig defines which gateways are enabled and their settings.
// Nil pointers mean the gateway is not configured. If the entire section
// is absent, the CLI gateway is enabled by default.
type GatewaysConfig struct {
	CLI       *CLIGatewayConfig       `json:"cli,omitempty" yaml:"cli,omitempty"`
	HTTP      *HTTPGatewayConfig      `json:"http,omitempty" yaml:"http,omitempty"`
	WebSocket *WebSocketGatewayConfig `json:"websocket,omitempty" yaml:"websocket,omitempty"` // Live run-event stream for subscribers.
}

// CLIGatewayConfig configures the one-shot CLI gateway.
type CLIGatewayConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// HTTPGatewayConfig configures the HTTP API gateway.
type HTTPGatewayConfig struct {
	Enabled             bool              `json:"enabled" yaml:"enabled"`
	EnableDocs          bool              `json:"enable_docs" yaml:"enable_docs"`
	ListenAddr          string            `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080".
	MaxRequestSizeBytes int64             `json:"max_request_size_bytes" yaml:"max_request_size_bytes"`
	APIKeys             map[string]string `json:"api_keys" yaml:"api_keys"` // API key → caller ID. Override: MPANGO_API_KEY env var maps to caller "default".
	RateLimit           RateLimitConfig   `json:"rate_limit" yaml:"rate_limit"`
	SSE                 bool              `json:"sse" yaml:"sse"` // Enable SSE run-event streaming endpoint.
}

// Addr returns the listen address with a default of ":8080".
func (h *HTTPGatewayConfig) Addr() string {
	if h != nil && h.ListenAddr != "" {
		return h.ListenAddr
	}
	return ":8080"
}

// WebSocketGatewayConfig configures the WebSocket run-event stream.
type WebSocketGatewayConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	Path           string `json:"path" yaml:"path"`                                   // URL path for the WebSocket endpoint. Default: "/ws/runs".
	ListenAddr     string `json:"listen_addr,omitempty" yaml:"listen_addr,omitempty"` // Standalone listener used when the HTTP gateway is disabled. Default: ":8081".
	SendBufferSize int    `json:"send_buffer_size" yaml:"send_buffer_size"`           // Events buffered per subscriber before it is dropped. Default: 32.
}

// WSPath returns the WebSocket path with a default of "/ws/runs".
func (w *WebSocketGatewayConfig) WSPath() string {
	if w != nil && w.Path != "" {
		return w.Path
	}
	return "/ws/runs"
}

// SubscriberBuffer returns the per-subscriber event buffer with a default of 32.
func (w *WebSocketGatewayConfig) SubscriberBuffer() int {
	if w != nil && w.SendBufferSize > 0 {
		return w.SendBufferSize
	}
	return 32
}

// RateLimitConfig configures per-caller rate limiting for a gateway.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

// ProvidersConfig selects and configures the planning model providers.
type ProvidersConfig struct {
	Default   string          `json:"default" yaml:"default"`                       // "anthropic", "openai", "gemini", "ollama". Empty = "anthropic".
	Fallback  []string        `json:"fallback,omitempty" yaml:"fallback,omitempty"` // Fallback providers tried in order when default fails.
	MaxTokens int             `json:"max_tokens" yaml:"max_tokens"`                 // Completion token ceiling for plan requests. Default: 4096.
	Anthropic AnthropicConfig `json:"anthropic" yaml:"anthropic"`
	OpenAI    OpenAIConfig    `json:"openai" yaml:"openai"`
	Gemini    GeminiConfig    `json:"gemini" yaml:"gemini"`
	Ollama    OllamaConfig    `json:"ollama" yaml:"ollama"`
}

// PlanMaxTokens returns the completion token ceiling with a default of 4096.
func (p ProvidersConfig) PlanMaxTokens() int {
	if p.MaxTokens > 0 {
		return p.MaxTokens
	}
	return 4096
}

type AnthropicConfig struct {
	APIKey string `json:"api_key" yaml:"api_key"`
	Model  string `json:"model" yaml:"model"`
}

type OpenAIConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to https://api.openai.com.
}

type GeminiConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to https://generativelanguage.googleapis.com.
}

type OllamaConfig struct {
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to http://localhost:11434.
}

// DefaultConfigPath returns the default config file path (~/.mpango/config.json).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/mpango.json" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".mpango", "config.json")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything else for JSON.
// Provider API keys and gateway keys can be set in the config file or overridden
// by environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	// Expand ~ in config path.
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	// Environment variable overrides — env vars take precedence over config values.
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		cfg.Providers.Anthropic.APIKey = envKey
	}
	if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" {
		cfg.Providers.OpenAI.APIKey = envKey
	}
	if envKey := os.Getenv("GEMINI_API_KEY"); envKey != "" {
		cfg.Providers.Gemini.APIKey = envKey
	}

	// Data directory override from environment.
	if envDD := os.Getenv("MPANGO_DATA_DIR"); envDD != "" {
		cfg.DataDir = envDD
	}

	// Query tool DSN override from environment.
	if envDSN := os.Getenv("MPANGO_TOOL_DB_DSN"); envDSN != "" {
		cfg.Tools.Database.DSN = envDSN
	}

	// Single-key bootstrap for the HTTP gateway: the key maps to caller "default".
	if envKey := os.Getenv("MPANGO_API_KEY"); envKey != "" {
		if cfg.Gateways.HTTP == nil {
			cfg.Gateways.HTTP = &HTTPGatewayConfig{Enabled: true}
		}
		if cfg.Gateways.HTTP.APIKeys == nil {
			cfg.Gateways.HTTP.APIKeys = make(map[string]string)
		}
		cfg.Gateways.HTTP.APIKeys[envKey] = "default"
	}

	// Resolve DataDir default.
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.DataDir = filepath.Join(home, ".mpango", "data")
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".mpango", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the default SQLite database path under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.ResolvedDataDir(), "mpango.db")
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	if c.Storage != nil {
		return c.Storage.StorageDriver()
	}
	return "sqlite"
}

func (c *Config) validate() error {
	// Default provider to anthropic.
	if c.Providers.Default == "" {
		c.Providers.Default = "anthropic"
	}
	if err := c.validateProvider(c.Providers.Default, "providers.default"); err != nil {
		return err
	}
	for i, name := range c.Providers.Fallback {
		if err := c.validateProvider(name, fmt.Sprintf("providers.fallback[%d]", i)); err != nil {
			return err
		}
	}
	if c.Sandbox != nil {
		if c.Sandbox.TimeoutSeconds < 0 {
			return fmt.Errorf("sandbox.timeout_seconds must not be negative")
		}
		if c.Sandbox.MaxOutputBytes < 0 {
			return fmt.Errorf("sandbox.max_output_bytes must not be negative")
		}
	}
	// Storage driver validation.
	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case "sqlite":
			// valid
		case "postgres":
			if c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
				return fmt.Errorf("storage.postgres.dsn is required for the postgres driver")
			}
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
		}
	}
	// Tracing endpoint and protocol validation.
	if c.Observability != nil && c.Observability.Tracing != nil && c.Observability.Tracing.Enabled {
		t := c.Observability.Tracing
		if t.Endpoint == "" {
			return fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled")
		}
		switch t.Protocol {
		case "", "grpc", "http":
			// valid
		default:
			return fmt.Errorf("observability.tracing.protocol %q is not supported (use grpc or http)", t.Protocol)
		}
	}
	// MCP server config validation.
	mcpNames := make(map[string]bool, len(c.Tools.MCP))
	for i, srv := range c.Tools.MCP {
		if srv.Name == "" {
			return fmt.Errorf("tools.mcp[%d].name is required", i)
		}
		if mcpNames[srv.Name] {
			return fmt.Errorf("tools.mcp[%d]: duplicate server name %q", i, srv.Name)
		}
		mcpNames[srv.Name] = true
		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				return fmt.Errorf("tools.mcp[%d] (%q): command is required for stdio transport", i, srv.Name)
			}
		case "sse", "streamable_http":
			if srv.URL == "" {
				return fmt.Errorf("tools.mcp[%d] (%q): url is required for %s transport", i, srv.Name, srv.Transport)
			}
		default:
			return fmt.Errorf("tools.mcp[%d] (%q): transport must be stdio, sse, or streamable_http", i, srv.Name)
		}
	}
	return nil
}

// validateProvider checks that the named provider has the required fields.
func (c *Config) validateProvider(name, field string) error {
	switch name {
	case "anthropic":
		if c.Providers.Anthropic.Model == "" {
			return fmt.Errorf("providers.anthropic.model is required")
		}
		if c.Providers.Anthropic.APIKey == "" {
			return fmt.Errorf("providers.anthropic.api_key is required (set ANTHROPIC_API_KEY env var)")
		}
	case "openai":
		if c.Providers.OpenAI.Model == "" {
			return fmt.Errorf("providers.openai.model is required")
		}
		if c.Providers.OpenAI.APIKey == "" {
			return fmt.Errorf("providers.openai.api_key is required (set OPENAI_API_KEY env var)")
		}
	case "gemini":
		if c.Providers.Gemini.Model == "" {
			return fmt.Errorf("providers.gemini.model is required")
		}
		if c.Providers.Gemini.APIKey == "" {
			return fmt.Errorf("providers.gemini.api_key is required (set GEMINI_API_KEY env var)")
		}
	case "ollama":
		if c.Providers.Ollama.Model == "" {
			return fmt.Errorf("providers.ollama.model is required")
		}
	default:
		return fmt.Errorf("%s %q is not supported (use anthropic, openai, gemini, or ollama)", field, name)
	}
	return nil
}
