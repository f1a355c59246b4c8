package mcp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Siddhant412/chatgpt-notes-app/internal/notestore"
	"github.com/Siddhant412/chatgpt-notes-app/internal/widget"
)

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{CORSOrigins: []string{" https://a.example, https://b.example ", ""}}
	applyDefaults(&cfg)
	if cfg.Listen != DefaultListen {
		t.Fatalf("expected default listen, got %q", cfg.Listen)
	}
	if cfg.MCPPath != DefaultMCPPath {
		t.Fatalf("expected default mcp path, got %q", cfg.MCPPath)
	}
	if cfg.MaxBodyBytes != DefaultMaxBodyBytes {
		t.Fatalf("expected 5 MiB body limit, got %d", cfg.MaxBodyBytes)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.CORSOrigins)
	}
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()

	if err := validateConfig(Config{Listen: "127.0.0.1:2092", MCPPath: "/mcp"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := validateConfig(Config{Listen: "nonsense", MCPPath: "/mcp"}); err == nil {
		t.Fatalf("expected invalid listen error")
	}
	if err := validateConfig(Config{Listen: "127.0.0.1:1", MCPPath: "/"}); err == nil {
		t.Fatalf("expected root path error")
	}
}

func TestCleanHTTPPath(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":          "/mcp",
		"mcp":       "/mcp",
		"/api/mcp/": "/api/mcp",
		" /x//y ":   "/x/y",
	}
	for in, want := range cases {
		if got := cleanHTTPPath(in); got != want {
			t.Fatalf("cleanHTTPPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewServerMissingBundleIsFatal(t *testing.T) {
	t.Parallel()

	_, err := NewServer(NewServerRequest{Config: Config{
		DataDir:   t.TempDir(),
		WidgetDir: filepath.Join(t.TempDir(), "nowhere"),
	}})
	var nf *widget.BundleNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected BundleNotFoundError, got %v", err)
	}
}

func TestRunServesAndShutsDown(t *testing.T) {
	t.Parallel()

	widgetDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(widgetDir, widget.ScriptFile), []byte("x"), 0o644); err != nil {
		t.Fatalf("write bundle: %v", err)
	}
	srv, err := NewServer(NewServerRequest{Config: Config{
		DataDir:     t.TempDir(),
		WidgetDir:   widgetDir,
		WidgetWatch: true,
	}})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	s := srv.(*server)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/"
	waitFor(t, "health endpoint", func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("server did not shut down")
	}
}

func TestNoteCountForStartupLog(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	seed, err := notestore.Open(context.Background(), notestore.Config{DataDir: dataDir})
	if err != nil {
		t.Fatalf("open seed store: %v", err)
	}
	for _, title := range []string{"a", "b"} {
		if _, err := seed.Create(context.Background(), title, ""); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	if err := seed.Close(); err != nil {
		t.Fatalf("close seed store: %v", err)
	}

	srv, err := NewServer(NewServerRequest{
		Config: Config{DataDir: dataDir},
		Bundle: widget.Static(widget.Assets{JS: "x"}),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	s := srv.(*server)
	t.Cleanup(s.closeOwned)
	if n, ok := s.noteCount(context.Background()); !ok || n != 2 {
		t.Fatalf("expected 2 notes, got %d ok=%v", n, ok)
	}

	uncounted, _ := newTestServer(t, testServerOptions{store: &countingStore{NoteStore: unavailableStore{}}})
	if _, ok := uncounted.noteCount(context.Background()); ok {
		t.Fatalf("expected no count for a store without Count")
	}
}

func TestBuildToolsListResponseJSON(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := BuildToolsListResponse(ctx)
	if err != nil {
		t.Fatalf("build tools list: %v", err)
	}
	if resp.JSONRPC != "2.0" || resp.ID != 1 {
		t.Fatalf("unexpected envelope %+v", resp)
	}
	found := map[string]bool{}
	for _, tool := range resp.Result.Tools {
		found[tool.Name] = true
	}
	for _, want := range mcpToolNames {
		if !found[want] {
			t.Fatalf("missing tool %q", want)
		}
	}
	out, err := BuildToolsListResponseJSON(ctx)
	if err != nil || len(out) == 0 || out[len(out)-1] != '\n' {
		t.Fatalf("unexpected json output err=%v len=%d", err, len(out))
	}
}
