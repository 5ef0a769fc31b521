package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig drops a config file into a temp dir and returns its path.
func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

// clearProviderEnv neutralizes ambient API keys so file values win.
func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY", "MPANGO_DATA_DIR", "MPANGO_TOOL_DB_DSN", "MPANGO_API_KEY"} {
		t.Setenv(key, "")
	}
}

func TestLoad_JSONWithDefaults(t *testing.T) {
	clearProviderEnv(t)
	path := writeConfig(t, "config.json", `{
		"providers": {
			"default": "ollama",
			"ollama": {"model": "llama3"}
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := cfg.Sandbox.Timeout(); got != 60*time.Second {
		t.Errorf("Sandbox.Timeout() = %v, want 60s", got)
	}
	if got := cfg.Sandbox.OutputLimit(); got != 64*1024 {
		t.Errorf("Sandbox.OutputLimit() = %d, want 65536", got)
	}
	if cfg.Sandbox.ResultCaching() {
		t.Error("ResultCaching() = true, want false by default")
	}
	if got := cfg.StorageDriverName(); got != "sqlite" {
		t.Errorf("StorageDriverName() = %q, want sqlite", got)
	}
	if got := cfg.Providers.PlanMaxTokens(); got != 4096 {
		t.Errorf("PlanMaxTokens() = %d, want 4096", got)
	}
	if got := cfg.Scheduler.PollInterval(); got != 30*time.Second {
		t.Errorf("Scheduler.PollInterval() = %v, want 30s", got)
	}
	if got := cfg.Gateways.HTTP.Addr(); got != ":8080" {
		t.Errorf("HTTP.Addr() = %q, want :8080", got)
	}
	if got := cfg.Gateways.WebSocket.WSPath(); got != "/ws/runs" {
		t.Errorf("WebSocket.WSPath() = %q, want /ws/runs", got)
	}
}

func TestLoad_YAML(t *testing.T) {
	clearProviderEnv(t)
	path := writeConfig(t, "config.yaml", `
providers:
  default: ollama
  ollama:
    model: llama3
sandbox:
  timeout_seconds: 120
  max_output_bytes: 4096
  enable_result_caching: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := cfg.Sandbox.Timeout(); got != 120*time.Second {
		t.Errorf("Sandbox.Timeout() = %v, want 120s", got)
	}
	if got := cfg.Sandbox.OutputLimit(); got != 4096 {
		t.Errorf("Sandbox.OutputLimit() = %d, want 4096", got)
	}
	if !cfg.Sandbox.ResultCaching() {
		t.Error("ResultCaching() = false, want true")
	}
}

func TestLoad_EnvOverridesFileKey(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-from-env")
	path := writeConfig(t, "config.json", `{
		"providers": {
			"anthropic": {"api_key": "sk-from-file", "model": "claude-sonnet-4-20250514"}
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := cfg.Providers.Anthropic.APIKey; got != "sk-from-env" {
		t.Errorf("Anthropic.APIKey = %q, want env value to win", got)
	}
}

func TestLoad_APIKeyEnvBootstrapsHTTPGateway(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("MPANGO_API_KEY", "secret-key")
	path := writeConfig(t, "config.json", `{
		"providers": {"default": "ollama", "ollama": {"model": "llama3"}}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Gateways.HTTP == nil || !cfg.Gateways.HTTP.Enabled {
		t.Fatal("HTTP gateway not enabled by MPANGO_API_KEY")
	}
	if got := cfg.Gateways.HTTP.APIKeys["secret-key"]; got != "default" {
		t.Errorf("APIKeys[secret-key] = %q, want default", got)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	clearProviderEnv(t)
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown provider",
			content: `{"providers": {"default": "bard"}}`,
			wantErr: "is not supported",
		},
		{
			name:    "missing api key",
			content: `{"providers": {"default": "anthropic", "anthropic": {"model": "claude-sonnet-4-20250514"}}}`,
			wantErr: "api_key is required",
		},
		{
			name: "fallback provider missing model",
			content: `{"providers": {
				"default": "ollama", "ollama": {"model": "llama3"},
				"fallback": ["openai"]
			}}`,
			wantErr: "providers.openai.model is required",
		},
		{
			name: "postgres without dsn",
			content: `{
				"providers": {"default": "ollama", "ollama": {"model": "llama3"}},
				"storage": {"driver": "postgres"}
			}`,
			wantErr: "storage.postgres.dsn is required",
		},
		{
			name: "negative sandbox timeout",
			content: `{
				"providers": {"default": "ollama", "ollama": {"model": "llama3"}},
				"sandbox": {"timeout_seconds": -1}
			}`,
			wantErr: "timeout_seconds must not be negative",
		},
		{
			name: "stdio mcp without command",
			content: `{
				"providers": {"default": "ollama", "ollama": {"model": "llama3"}},
				"tools": {"mcp": [{"name": "github", "transport": "stdio"}]}
			}`,
			wantErr: "command is required",
		},
		{
			name: "duplicate mcp server",
			content: `{
				"providers": {"default": "ollama", "ollama": {"model": "llama3"}},
				"tools": {"mcp": [
					{"name": "github", "transport": "sse", "url": "http://x"},
					{"name": "github", "transport": "sse", "url": "http://y"}
				]}
			}`,
			wantErr: "duplicate server name",
		},
		{
			name: "tracing without endpoint",
			content: `{
				"providers": {"default": "ollama", "ollama": {"model": "llama3"}},
				"observability": {"tracing": {"enabled": true}}
			}`,
			wantErr: "tracing.endpoint is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "config.json", tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("Load() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearProviderEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err == nil {
		t.Fatal("Load() succeeded for a missing file")
	}
}

func TestNilSectionGetters(t *testing.T) {
	var (
		sandbox   *SandboxConfig
		storage   *StorageConfig
		scheduler *SchedulerConfig
		ws        *WebSocketGatewayConfig
		db        *DatabaseToolConfig
		web       *WebToolConfig
	)
	if got := sandbox.Timeout(); got != 60*time.Second {
		t.Errorf("nil SandboxConfig Timeout() = %v, want 60s", got)
	}
	if got := storage.StorageDriver(); got != "sqlite" {
		t.Errorf("nil StorageConfig StorageDriver() = %q, want sqlite", got)
	}
	if got := scheduler.MaxConcurrent(); got != 5 {
		t.Errorf("nil SchedulerConfig MaxConcurrent() = %d, want 5", got)
	}
	if got := scheduler.MissedRunWindow(); got != time.Hour {
		t.Errorf("nil SchedulerConfig MissedRunWindow() = %v, want 1h", got)
	}
	if got := ws.SubscriberBuffer(); got != 32 {
		t.Errorf("nil WebSocketGatewayConfig SubscriberBuffer() = %d, want 32", got)
	}
	if got := db.RowLimit(); got != 1000 {
		t.Errorf("nil DatabaseToolConfig RowLimit() = %d, want 1000", got)
	}
	if got := web.ResponseLimit(); got != 1<<20 {
		t.Errorf("nil WebToolConfig ResponseLimit() = %d, want 1 MiB", got)
	}
}
