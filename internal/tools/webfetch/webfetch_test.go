package webfetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

// newTestTool allowlists the test server's host and disables the
// private-address guard so the tool can reach loopback.
func newTestTool(t *testing.T, srv *httptest.Server, cfg Config) *Tool {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	cfg.AllowedHosts = append(cfg.AllowedHosts, u.Hostname())
	tool := New(cfg, nil)
	tool.allowPrivate = true
	return tool
}

func callMap(t *testing.T, tool *Tool, args map[string]any) map[string]any {
	t.Helper()
	out, err := tool.Call(context.Background(), args)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("return value is %T, want map", out)
	}
	return m
}

func TestTool_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "hello from the server")
	}))
	defer srv.Close()

	tool := newTestTool(t, srv, Config{})
	out := callMap(t, tool, map[string]any{"url": srv.URL})

	if out["status_code"] != int64(200) {
		t.Errorf("status_code = %v", out["status_code"])
	}
	if out["body"] != "hello from the server" {
		t.Errorf("body = %q", out["body"])
	}
	if out["truncated"] != false {
		t.Errorf("truncated = %v", out["truncated"])
	}
}

func TestTool_HeadRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s, want HEAD", r.Method)
		}
		fmt.Fprint(w, "body is stripped for HEAD")
	}))
	defer srv.Close()

	tool := newTestTool(t, srv, Config{})
	out := callMap(t, tool, map[string]any{"url": srv.URL, "method": "head"})

	if out["body"] != "" {
		t.Errorf("body = %q, want empty", out["body"])
	}
}

func TestTool_BodyCapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("x", 100))
	}))
	defer srv.Close()

	tool := newTestTool(t, srv, Config{MaxResponseBytes: 10})
	out := callMap(t, tool, map[string]any{"url": srv.URL})

	if body, _ := out["body"].(string); len(body) != 10 {
		t.Errorf("body length = %d, want 10", len(body))
	}
	if out["truncated"] != true {
		t.Errorf("truncated = %v, want true", out["truncated"])
	}
}

func TestTool_DisallowedHost(t *testing.T) {
	tool := New(Config{AllowedHosts: []string{"example.com"}}, nil)

	_, err := tool.Call(context.Background(), map[string]any{"url": "http://evil.test/data"})
	if err == nil || !strings.Contains(err.Error(), "not in the allowed list") {
		t.Errorf("error = %v, want allowlist rejection", err)
	}
}

func TestTool_RejectsSchemeAndMethod(t *testing.T) {
	tool := New(Config{AllowedHosts: []string{"example.com"}}, nil)

	_, err := tool.Call(context.Background(), map[string]any{"url": "ftp://example.com/file"})
	if err == nil || !strings.Contains(err.Error(), "schemes are allowed") {
		t.Errorf("scheme error = %v", err)
	}

	_, err = tool.Call(context.Background(), map[string]any{"url": "http://example.com", "method": "POST"})
	if err == nil || !strings.Contains(err.Error(), "GET and HEAD") {
		t.Errorf("method error = %v", err)
	}
}

func TestTool_RedirectToDisallowedHostBlocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://internal.test/secret", http.StatusFound)
	}))
	defer srv.Close()

	tool := newTestTool(t, srv, Config{})
	_, err := tool.Call(context.Background(), map[string]any{"url": srv.URL})
	if err == nil || !strings.Contains(err.Error(), "redirect blocked") {
		t.Errorf("error = %v, want redirect rejection", err)
	}
}

func TestTool_PrivateAddressBlocked(t *testing.T) {
	// Guard enabled: localhost passes the allowlist but resolves to
	// loopback.
	tool := New(Config{AllowedHosts: []string{"localhost"}}, nil)

	_, err := tool.Call(context.Background(), map[string]any{"url": "http://localhost:9/"})
	if err == nil || !strings.Contains(err.Error(), "private address") {
		t.Errorf("error = %v, want private address rejection", err)
	}
}

func TestHostAllowed(t *testing.T) {
	allowed := []string{"Example.com", "api.example.com"}

	if !hostAllowed("example.com", allowed) {
		t.Error("exact match rejected")
	}
	if !hostAllowed("EXAMPLE.COM", allowed) {
		t.Error("case-insensitive match rejected")
	}
	if hostAllowed("sub.example.com", allowed) {
		t.Error("subdomain accepted; entries must match exactly")
	}
	if hostAllowed("example.com", nil) {
		t.Error("empty allowlist accepted a host")
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"10.0.0.1", true},
		{"172.16.5.5", true},
		{"192.168.1.1", true},
		{"127.0.0.1", true},
		{"169.254.1.1", true},
		{"0.0.0.0", true},
		{"fc00::1", true},
		{"::1", true},
		{"8.8.8.8", false},
		{"2001:4860:4860::8888", false},
	}
	for _, tt := range tests {
		ip := net.ParseIP(tt.addr)
		if ip == nil {
			t.Fatalf("bad test address %q", tt.addr)
		}
		if got := isPrivateIP(ip); got != tt.want {
			t.Errorf("isPrivateIP(%s) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}
