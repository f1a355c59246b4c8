package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Siddhant412/chatgpt-notes-app/internal/svcfields"
	"github.com/Siddhant412/chatgpt-notes-app/internal/telemetry"
	"github.com/Siddhant412/chatgpt-notes-app/internal/version"
	notesmcp "github.com/Siddhant412/chatgpt-notes-app/mcp"
	"pkt.systems/pslog"
)

const (
	defaultConfigDirName  = ".notesd"
	defaultConfigFileName = "config.yaml"
	defaultMaxBody        = "5MiB"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(context.Background(),
		pslog.WithEnvPrefix("NOTESD_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "notesd")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if executed, err := cmd.ExecuteContextC(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			if executed == cmd {
				svcfields.WithSubsystem(baseLogger, svcfields.CLIRoot).Error("command failed", "error", err)
			} else {
				fmt.Fprintf(os.Stderr, "%s\n", err)
			}
		}
		return 1
	}
	return 0
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "notesd",
		Short:         "notesd serves a notes widget and its tools over MCP streamable HTTP",
		SilenceErrors: true,
		Example: `
  # Serve on the default loopback address with the bundle next to the binary
  notesd

  # Explicit bundle directory with hot reload, data under /var/lib/notesd
  notesd --widget-dir ./web/dist --widget-watch --data-dir /var/lib/notesd

  # Expose Prometheus metrics and export traces over OTLP/gRPC
  notesd --metrics-listen :9464 --otlp-endpoint grpc://localhost:4317
`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfigFile()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runServer(cmd.Context(), baseLogger)
		},
	}

	pflags := cmd.PersistentFlags()
	pflags.StringP("config", "c", "", "config file path (default $HOME/.notesd/config.yaml)")
	pflags.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	mustBindFlag("config", "NOTESD_CONFIG", pflags.Lookup("config"))
	mustBindFlag("log-level", "NOTESD_LOG_LEVEL", pflags.Lookup("log-level"))

	flags := cmd.Flags()
	flags.StringP("listen", "l", notesmcp.DefaultListen, "listen address for the MCP endpoint (PORT env overrides the port)")
	flags.String("mcp-path", notesmcp.DefaultMCPPath, "HTTP path for the MCP streamable endpoint")
	flags.StringP("data-dir", "d", "data", "directory holding notes.db")
	flags.String("widget-dir", "", "directory containing the built notes.js/notes.css (only this path is searched)")
	flags.Bool("widget-watch", false, "reload the widget bundle when its files change")
	flags.String("max-body", defaultMaxBody, "maximum request body size for POST requests (e.g. 5MiB)")
	flags.StringSlice("allowed-hosts", nil, "extra Host header values accepted by DNS rebinding protection")
	flags.Bool("disable-dns-rebinding-protection", false, "accept any Host header")
	flags.StringSlice("cors-origins", nil, "allowed CORS origins (\"*\" for any); empty disables CORS")
	flags.Duration("shutdown-timeout", 10*time.Second, "grace period for in-flight requests on shutdown")
	flags.String("metrics-listen", "", "Prometheus metrics listen address (empty disables)")
	flags.String("pprof-listen", "", "pprof listen address (empty disables)")
	flags.Bool("runtime-metrics", false, "export Go runtime metrics (requires --metrics-listen)")
	flags.String("otlp-endpoint", "", "OTLP trace endpoint (grpc://, grpcs://, http(s)://, or host:port)")

	for _, b := range []struct{ key, env string }{
		{"listen", "NOTESD_LISTEN"},
		{"mcp-path", "NOTESD_MCP_PATH"},
		{"data-dir", "NOTESD_DATA_DIR"},
		{"widget-dir", "NOTESD_WIDGET_DIR"},
		{"widget-watch", "NOTESD_WIDGET_WATCH"},
		{"max-body", "NOTESD_MAX_BODY"},
		{"allowed-hosts", "NOTESD_ALLOWED_HOSTS"},
		{"disable-dns-rebinding-protection", "NOTESD_DISABLE_DNS_REBINDING_PROTECTION"},
		{"cors-origins", "NOTESD_CORS_ORIGINS"},
		{"shutdown-timeout", "NOTESD_SHUTDOWN_TIMEOUT"},
		{"metrics-listen", "NOTESD_METRICS_LISTEN"},
		{"pprof-listen", "NOTESD_PPROF_LISTEN"},
		{"runtime-metrics", "NOTESD_RUNTIME_METRICS"},
		{"otlp-endpoint", "NOTESD_OTLP_ENDPOINT"},
	} {
		mustBindFlag(b.key, b.env, flags.Lookup(b.key))
	}

	cmd.AddCommand(newToolsCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func runServer(ctx context.Context, baseLogger pslog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := baseLogger
	if level, ok := pslog.ParseLevel(strings.TrimSpace(viper.GetString("log-level"))); ok {
		logger = logger.LogLevel(level)
	}
	cliLogger := svcfields.WithSubsystem(logger, svcfields.CLIRoot)
	svcfields.WithSubsystem(logger, svcfields.Lifecycle).Info(
		"welcome to notesd",
		"version", version.Current(),
		"pid", os.Getpid(),
	)
	if path := viper.ConfigFileUsed(); path != "" {
		cliLogger.Info("loaded config file", "path", path)
	}

	cfg, err := configFromViper()
	if err != nil {
		return err
	}

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		OTLPEndpoint:   strings.TrimSpace(viper.GetString("otlp-endpoint")),
		MetricsListen:  strings.TrimSpace(viper.GetString("metrics-listen")),
		PprofListen:    strings.TrimSpace(viper.GetString("pprof-listen")),
		RuntimeMetrics: viper.GetBool("runtime-metrics"),
		ServiceVersion: version.Current(),
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			cliLogger.Warn("telemetry.shutdown.error", "error", err)
		}
	}()

	svc, err := notesmcp.NewServer(notesmcp.NewServerRequest{
		Config: cfg,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	return svc.Run(ctx)
}

func configFromViper() (notesmcp.Config, error) {
	listen, err := applyPortEnv(strings.TrimSpace(viper.GetString("listen")), viper.IsSet("listen"))
	if err != nil {
		return notesmcp.Config{}, err
	}
	cfg := notesmcp.Config{
		Listen:                        listen,
		MCPPath:                       strings.TrimSpace(viper.GetString("mcp-path")),
		DataDir:                       strings.TrimSpace(viper.GetString("data-dir")),
		WidgetDir:                     strings.TrimSpace(viper.GetString("widget-dir")),
		WidgetWatch:                   viper.GetBool("widget-watch"),
		AllowedHosts:                  viper.GetStringSlice("allowed-hosts"),
		DisableDNSRebindingProtection: viper.GetBool("disable-dns-rebinding-protection"),
		CORSOrigins:                   viper.GetStringSlice("cors-origins"),
		ShutdownTimeout:               viper.GetDuration("shutdown-timeout"),
	}
	if raw := strings.TrimSpace(viper.GetString("max-body")); raw != "" {
		size, err := humanize.ParseBytes(raw)
		if err != nil {
			return notesmcp.Config{}, fmt.Errorf("parse max-body: %w", err)
		}
		cfg.MaxBodyBytes = int64(size)
	}
	return cfg, nil
}

// applyPortEnv replaces the port of listen with $PORT unless the listen
// address was configured explicitly.
func applyPortEnv(listen string, explicit bool) (string, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" || explicit {
		return listen, nil
	}
	if listen == "" {
		listen = notesmcp.DefaultListen
	}
	host, _, err := net.SplitHostPort(listen)
	if err != nil {
		return "", fmt.Errorf("listen %q: %w", listen, err)
	}
	return net.JoinHostPort(host, port), nil
}

func mustBindFlag(key, env string, flag *pflag.Flag) {
	if flag == nil {
		panic(fmt.Sprintf("flag for key %s not found", key))
	}
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
	if env != "" {
		if err := viper.BindEnv(key, env); err != nil {
			panic(err)
		}
	}
}

func loadConfigFile() (string, error) {
	cfgPath := strings.TrimSpace(viper.GetString("config"))
	explicit := cfgPath != ""

	if cfgPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			candidate := filepath.Join(home, defaultConfigDirName, defaultConfigFileName)
			if _, err := os.Stat(candidate); err == nil {
				cfgPath = candidate
			}
		}
	}
	if cfgPath == "" {
		return "", nil
	}

	expanded, err := expandPath(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}

	viper.SetConfigFile(expanded)
	if err := viper.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

func expandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(p) == 1 {
			p = home
		} else if p[1] == '/' || p[1] == '\\' {
			p = filepath.Join(home, p[2:])
		}
	}
	return filepath.Abs(p)
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}
