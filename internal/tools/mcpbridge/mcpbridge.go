// Package mcpbridge connects external MCP (Model Context Protocol)
// servers and adapts their tools into the registry. Discovered tools
// are namespaced "mcp__<server>__<tool>" so two servers can advertise
// the same tool name, and they carry the server's allowed-callers list
// like any native tool.
package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jkaninda/mpango/internal/config"
	"github.com/jkaninda/mpango/internal/tools"
)

// toolCaller is the slice of the MCP client a remote tool needs.
type toolCaller interface {
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// remoteTool adapts one discovered MCP tool to the registry interface.
type remoteTool struct {
	name         string // "mcp__<server>__<tool>", unique across servers
	description  string
	schema       map[string]any
	callers      []string
	client       toolCaller
	originalName string // name the server knows the tool by
	serverName   string
	logger       *slog.Logger
}

// Compile-time check.
var _ tools.Tool = (*remoteTool)(nil)

func (t *remoteTool) Name() string                { return t.name }
func (t *remoteTool) Description() string         { return t.description }
func (t *remoteTool) InputSchema() map[string]any { return t.schema }
func (t *remoteTool) AllowedCallers() []string    { return t.callers }

// Call forwards the invocation to the MCP server and returns its text
// content. A result the server marks as an error becomes a Go error,
// so script runs treat remote failures like native tool failures.
func (t *remoteTool) Call(ctx context.Context, args map[string]any) (any, error) {
	t.logger.InfoContext(ctx, "mcp tool executing",
		slog.String("server", t.serverName),
		slog.String("tool", t.originalName),
	)

	req := mcp.CallToolRequest{}
	req.Params.Name = t.originalName
	req.Params.Arguments = args

	result, err := t.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mcp call %s/%s: %w", t.serverName, t.originalName, err)
	}

	output := tools.TruncateOutput(formatContent(result.Content), tools.MaxOutputBytes)
	if result.IsError {
		return nil, fmt.Errorf("mcp tool %s/%s failed: %s", t.serverName, t.originalName, output)
	}
	return output, nil
}

// formatContent flattens MCP content items into one string. Non-text
// items (images, resources) are serialized as JSON.
func formatContent(content []mcp.Content) string {
	var sb strings.Builder
	for i, c := range content {
		if i > 0 {
			sb.WriteString("\n")
		}
		if tc, ok := mcp.AsTextContent(c); ok {
			sb.WriteString(tc.Text)
			continue
		}
		data, _ := json.Marshal(c)
		sb.Write(data)
	}
	return sb.String()
}

// Bridge owns the MCP client connections and produces registry tools
// from them.
type Bridge struct {
	clients []mcpclient.MCPClient
	logger  *slog.Logger
}

// NewBridge creates a bridge with no connections yet.
func NewBridge(logger *slog.Logger) *Bridge {
	return &Bridge{logger: logger}
}

// RegisterAll connects every configured server and registers the tools
// it advertises. An unreachable server is logged and skipped so one
// down dependency does not block startup; a tool-name conflict aborts,
// since it means the configuration wires two servers to the same name.
func (b *Bridge) RegisterAll(ctx context.Context, reg *tools.Registry, cfgs []config.MCPServerConfig) error {
	for _, cfg := range cfgs {
		discovered, err := b.Connect(ctx, cfg)
		if err != nil {
			b.logger.Warn("mcp server unavailable, skipping",
				slog.String("server", cfg.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, t := range discovered {
			if err := reg.Register(t); err != nil {
				return err
			}
		}
	}
	return nil
}

// Connect dials one MCP server, runs the initialization handshake,
// and returns adapters for the tools it advertises.
func (b *Bridge) Connect(ctx context.Context, cfg config.MCPServerConfig) ([]tools.Tool, error) {
	c, err := b.dial(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating mcp client for %q: %w", cfg.Name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "mpango", Version: "0.1.0"}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	if _, err := c.Initialize(ctx, initReq); err != nil {
		return nil, fmt.Errorf("mcp initialize %q: %w", cfg.Name, err)
	}
	b.clients = append(b.clients, c)

	listResp, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("mcp list tools %q: %w", cfg.Name, err)
	}

	adapted := make([]tools.Tool, 0, len(listResp.Tools))
	for _, t := range listResp.Tools {
		adapted = append(adapted, &remoteTool{
			name:         fmt.Sprintf("mcp__%s__%s", cfg.Name, t.Name),
			description:  fmt.Sprintf("[MCP:%s] %s", cfg.Name, t.Description),
			schema:       convertInputSchema(t.InputSchema),
			callers:      cfg.AllowedCallers,
			client:       c,
			originalName: t.Name,
			serverName:   cfg.Name,
			logger:       b.logger,
		})
	}

	b.logger.Info("mcp server connected",
		slog.String("server", cfg.Name),
		slog.String("transport", cfg.Transport),
		slog.Int("tools_discovered", len(adapted)),
	)

	return adapted, nil
}

// Close shuts down every client connection.
func (b *Bridge) Close() {
	for _, c := range b.clients {
		if err := c.Close(); err != nil {
			b.logger.Error("closing mcp client", slog.String("error", err.Error()))
		}
	}
}

// dial creates the client for the configured transport.
func (b *Bridge) dial(cfg config.MCPServerConfig) (*mcpclient.Client, error) {
	switch cfg.Transport {
	case "stdio":
		return mcpclient.NewStdioMCPClient(cfg.Command, expandEnv(cfg.Env), cfg.Args...)

	case "sse":
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(expandValues(cfg.Headers)))
		}
		return mcpclient.NewSSEMCPClient(cfg.URL, opts...)

	case "streamable_http":
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(expandValues(cfg.Headers)))
		}
		return mcpclient.NewStreamableHttpClient(cfg.URL, opts...)

	default:
		return nil, fmt.Errorf("unsupported transport: %s", cfg.Transport)
	}
}

// convertInputSchema converts the MCP schema struct to the map form
// the catalog uses.
func convertInputSchema(schema mcp.ToolInputSchema) map[string]any {
	out := map[string]any{"type": schema.Type}
	if schema.Properties != nil {
		out["properties"] = schema.Properties
	}
	if len(schema.Required) > 0 {
		required := make([]any, len(schema.Required))
		for i, r := range schema.Required {
			required[i] = r
		}
		out["required"] = required
	}
	return out
}

// expandEnv renders a key→value map as "KEY=value" pairs with ${VAR}
// references expanded from the process environment.
func expandEnv(m map[string]string) []string {
	env := make([]string, 0, len(m))
	for k, v := range m {
		env = append(env, k+"="+os.ExpandEnv(v))
	}
	return env
}

// expandValues expands ${VAR} references in every value.
func expandValues(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = os.ExpandEnv(v)
	}
	return out
}
