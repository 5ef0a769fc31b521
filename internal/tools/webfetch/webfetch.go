// Package webfetch exposes an HTTP fetch tool to plan scripts.
//
// Requests are restricted to GET and HEAD against an explicit host
// allowlist, resolved addresses are checked against private and
// loopback ranges before any connection, redirects re-run both checks,
// and response bodies are capped.
package webfetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jkaninda/mpango/internal/tools"
)

const (
	defaultMaxResponseBytes = 1 << 20 // 1 MiB
	defaultTimeout          = 30 * time.Second
	maxRedirects            = 5
)

// Config holds web fetch tool settings.
type Config struct {
	AllowedHosts     []string      // Hosts the tool may fetch from. Empty = every request refused.
	MaxResponseBytes int64         // Response body cap. Default: 1 MiB.
	Timeout          time.Duration // Per-request deadline. Default: 30s.
	AllowedCallers   []string      // Empty = every caller.
}

// Tool fetches URLs within the configured host allowlist.
type Tool struct {
	config Config
	client *http.Client
	logger *slog.Logger

	// allowPrivate disables the private-address guard; tests point the
	// tool at loopback servers.
	allowPrivate bool
}

// Compile-time checks.
var (
	_ tools.Tool       = (*Tool)(nil)
	_ tools.Positional = (*Tool)(nil)
)

// New creates the web fetch tool restricted to the configured hosts.
func New(cfg Config, logger *slog.Logger) *Tool {
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = defaultMaxResponseBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	t := &Tool{config: cfg, logger: logger}
	t.client = &http.Client{CheckRedirect: t.checkRedirect}
	return t
}

func (t *Tool) Name() string { return "web_fetch" }

func (t *Tool) Description() string {
	return "Fetch a URL from the allowed host list over HTTP GET or HEAD and return the response " +
		"body, status code, and final URL. Arguments: url, optional method."
}

func (t *Tool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "URL to fetch (http or https, host must be allowed)",
			},
			"method": map[string]any{
				"type":        "string",
				"enum":        []string{"GET", "HEAD"},
				"description": "HTTP method, defaults to GET",
			},
		},
		"required": []string{"url"},
	}
}

func (t *Tool) AllowedCallers() []string { return t.config.AllowedCallers }

func (t *Tool) ParamOrder() []string { return []string{"url", "method"} }

// Call fetches the URL and returns a map with body, status_code, url,
// and truncated.
func (t *Tool) Call(ctx context.Context, args map[string]any) (any, error) {
	rawURL, err := stringArg(args, "url")
	if err != nil {
		return nil, err
	}

	method := http.MethodGet
	if m, ok := args["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if method != http.MethodGet && method != http.MethodHead {
		return nil, fmt.Errorf("only GET and HEAD are allowed, got %q", method)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("only http and https schemes are allowed, got %q", parsed.Scheme)
	}
	if err := t.checkHost(parsed.Hostname()); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", "Mpango/1.0")

	t.logger.InfoContext(ctx, "web_fetch executing",
		slog.String("method", method),
		slog.String("url", rawURL),
	)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Read one byte past the cap to learn whether the body was cut.
	limit := t.config.MaxResponseBytes
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	truncated := false
	if int64(len(body)) > limit {
		body = body[:limit]
		truncated = true
	}

	return map[string]any{
		"status_code": int64(resp.StatusCode),
		"url":         resp.Request.URL.String(),
		"body":        tools.TruncateOutput(string(body), tools.MaxOutputBytes),
		"truncated":   truncated,
	}, nil
}

// checkHost enforces the allowlist and the private-address guard.
func (t *Tool) checkHost(host string) error {
	if !hostAllowed(host, t.config.AllowedHosts) {
		return fmt.Errorf("host %q is not in the allowed list", host)
	}
	if t.allowPrivate {
		return nil
	}
	return checkPublicAddress(host)
}

// checkRedirect re-runs the host checks for every redirect target, so
// an allowed host cannot bounce the tool to an internal one.
func (t *Tool) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("too many redirects (max %d)", maxRedirects)
	}
	if err := t.checkHost(req.URL.Hostname()); err != nil {
		return fmt.Errorf("redirect blocked: %w", err)
	}
	return nil
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument: %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %s must be a string, got %T", key, v)
	}
	if s == "" {
		return "", fmt.Errorf("argument %s must not be empty", key)
	}
	return s, nil
}
