package mcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Siddhant412/chatgpt-notes-app/internal/clock"
	"github.com/Siddhant412/chatgpt-notes-app/internal/notestore"
	"github.com/Siddhant412/chatgpt-notes-app/internal/svcfields"
	"github.com/Siddhant412/chatgpt-notes-app/internal/uuidv7"
	"github.com/Siddhant412/chatgpt-notes-app/internal/version"
	"github.com/Siddhant412/chatgpt-notes-app/internal/widget"
	"pkt.systems/pslog"
)

const (
	// DefaultListen is the address used when Config.Listen is empty.
	DefaultListen = "127.0.0.1:2092"
	// DefaultMCPPath is the streamable HTTP endpoint path.
	DefaultMCPPath = "/mcp"
	// DefaultMaxBodyBytes caps POST bodies on the MCP endpoint.
	DefaultMaxBodyBytes = 5 << 20

	serverName = "notes-mcp"
)

// Config controls notesd MCP server runtime behavior.
type Config struct {
	Listen       string
	MCPPath      string
	DataDir      string
	WidgetDir    string
	WidgetWatch  bool
	MaxBodyBytes int64
	// AllowedHosts extends the Host header allow-list. Loopback names and
	// the listen host are always allowed.
	AllowedHosts                  []string
	DisableDNSRebindingProtection bool
	// CORSOrigins enables CORS for the listed origins ("*" allows any).
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

// Server is the MCP service contract.
type Server interface {
	Run(context.Context) error
	Handler() http.Handler
}

// NewServerRequest wraps constructor inputs. Store and Bundle are opened from
// Config when nil; resources opened by NewServer are closed by Run.
type NewServerRequest struct {
	Config Config
	Logger pslog.Logger
	Store  NoteStore
	Bundle *widget.Bundle
	Clock  clock.Clock
	// NewSessionID overrides session id generation.
	NewSessionID func() string
}

// NoteStore is the store surface the tools need.
type NoteStore interface {
	List(ctx context.Context) ([]notestore.Note, error)
	Get(ctx context.Context, id string) (notestore.Note, bool, error)
	Create(ctx context.Context, title, body string) (notestore.Note, error)
	Update(ctx context.Context, id string, patch notestore.Patch) (notestore.Note, bool, error)
	Delete(ctx context.Context, id string) error
}

type server struct {
	cfg          Config
	logger       pslog.Logger
	lifecycleLog pslog.Logger
	transportLog pslog.Logger
	toolsLog     pslog.Logger
	store        NoteStore
	bundle       *widget.Bundle
	sessions     *sessionRegistry
	metrics      *serverMetrics
	hosts        *hostGuard
	handler      http.Handler
	httpServer   *http.Server
	mcpHTTPPath  string
	closers      []func() error
}

// NewServer constructs the notesd MCP service.
func NewServer(req NewServerRequest) (Server, error) {
	cfg := req.Config
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	logger := req.Logger
	if logger == nil {
		logger = pslog.NewStructured(context.Background(), os.Stderr).With("app", "notesd")
	}

	s := &server{
		cfg:          cfg,
		logger:       logger,
		lifecycleLog: svcfields.WithSubsystem(logger, svcfields.Lifecycle),
		transportLog: svcfields.WithSubsystem(logger, svcfields.Transport),
		toolsLog:     svcfields.WithSubsystem(logger, svcfields.Tools),
		store:        req.Store,
		bundle:       req.Bundle,
		mcpHTTPPath:  cleanHTTPPath(cfg.MCPPath),
	}

	if s.store == nil {
		st, err := notestore.Open(context.Background(), notestore.Config{
			DataDir: cfg.DataDir,
			Clock:   req.Clock,
			Logger:  svcfields.WithSubsystem(logger, svcfields.Store),
		})
		if err != nil {
			return nil, err
		}
		s.store = st
		s.closers = append(s.closers, st.Close)
	}
	if s.bundle == nil {
		bundle, err := widget.NewBundle(widget.Config{
			Dir:    cfg.WidgetDir,
			Logger: svcfields.WithSubsystem(logger, svcfields.WidgetBundle),
		})
		if err != nil {
			s.closeOwned()
			return nil, err
		}
		s.bundle = bundle
	}

	metrics, err := newServerMetrics()
	if err != nil {
		s.closeOwned()
		return nil, err
	}
	s.metrics = metrics

	newID := req.NewSessionID
	if newID == nil {
		newID = uuidv7.NewRandomString
	}
	s.sessions = newSessionRegistry(sessionRegistryConfig{
		NewServer: s.newMCPServer,
		NewID:     newID,
		Clock:     req.Clock,
		Logger:    svcfields.WithSubsystem(logger, svcfields.Sessions),
		Metrics:   metrics,
	})

	s.hosts = newHostGuard(cfg.Listen, cfg.AllowedHosts, !cfg.DisableDNSRebindingProtection)
	s.handler = s.buildRouter()
	s.httpServer = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *server) Handler() http.Handler {
	return s.handler
}

func (s *server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		s.shutdownSessions()
		s.closeOwned()
		return fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
	}
	return s.serve(ctx, ln)
}

type noteCounter interface {
	Count(ctx context.Context) (int, error)
}

// noteCount reports how many notes the store holds when it can count them.
func (s *server) noteCount(ctx context.Context) (int, bool) {
	counter, ok := s.store.(noteCounter)
	if !ok {
		return 0, false
	}
	n, err := counter.Count(ctx)
	if err != nil {
		s.lifecycleLog.Warn("mcp.server.count_notes_failed", "error", err)
		return 0, false
	}
	return n, true
}

func (s *server) serve(ctx context.Context, ln net.Listener) error {
	notes := -1
	if n, ok := s.noteCount(ctx); ok {
		notes = n
	}
	s.lifecycleLog.Info("mcp.server.start",
		"listen", ln.Addr().String(),
		"notes", notes,
		"mcp_path", s.mcpHTTPPath,
		"widget_dir", s.bundle.Assets().Dir,
		"dns_rebinding_protection", !s.cfg.DisableDNSRebindingProtection,
		"version", version.Current(),
	)
	defer s.closeOwned()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.httpServer.Serve(ln)
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	if s.cfg.WidgetWatch {
		g.Go(func() error {
			return s.bundle.Watch(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		s.sessions.Close(shutdownCtx)
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	err := g.Wait()
	s.lifecycleLog.Info("mcp.server.stopped", "error", err)
	return err
}

func (s *server) shutdownSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.sessions.Close(ctx)
}

func (s *server) closeOwned() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.lifecycleLog.Warn("mcp.server.close_resource_failed", "error", err)
		}
	}
	s.closers = nil
}

// newMCPServer builds the handler set bound to one session.
func (s *server) newMCPServer() *mcpsdk.Server {
	srv := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    serverName,
		Version: version.Current(),
	}, &mcpsdk.ServerOptions{
		Instructions: defaultServerInstructions(),
	})
	s.registerResources(srv)
	s.registerTools(srv)
	return srv
}

func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.correlationMiddleware)
	r.Use(s.hosts.middleware(s.transportLog))
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", sessionIDHeader, protocolVersionHeader, "Last-Event-ID"},
			ExposedHeaders: []string{sessionIDHeader},
			MaxAge:         300,
		}))
	}

	r.Get("/", s.handleHealth)
	mcpHandler := otelhttp.NewHandler(http.HandlerFunc(s.handleMCP), "mcp.http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "mcp " + r.Method
		}),
	)
	r.Handle(s.mcpHTTPPath, mcpHandler)
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Listen) == "" {
		cfg.Listen = DefaultListen
	}
	cfg.Listen = strings.TrimSpace(cfg.Listen)
	if strings.TrimSpace(cfg.MCPPath) == "" {
		cfg.MCPPath = DefaultMCPPath
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "data"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	cfg.AllowedHosts = trimList(cfg.AllowedHosts)
	cfg.CORSOrigins = trimList(cfg.CORSOrigins)
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Listen) == "" {
		return fmt.Errorf("listen address required")
	}
	if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", cfg.Listen, err)
	}
	if cleanHTTPPath(cfg.MCPPath) == "/" {
		return fmt.Errorf("mcp path must not be the root path")
	}
	return nil
}

func cleanHTTPPath(raw string) string {
	p := strings.TrimSpace(raw)
	if p == "" {
		return DefaultMCPPath
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

func trimList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
