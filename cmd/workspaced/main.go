package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/agentdb9/wsengine/pkg/engine"
	"github.com/agentdb9/wsengine/pkg/host"
	"github.com/agentdb9/wsengine/pkg/observability"
	"github.com/agentdb9/wsengine/pkg/runtime"
	"github.com/agentdb9/wsengine/pkg/server"
	"github.com/agentdb9/wsengine/pkg/store"
)

var (
	// Build information (set via ldflags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	rootCmd = &cobra.Command{
		Use:   "workspaced",
		Short: "Workspace engine daemon",
		Long: `workspaced runs development workspaces as containers on the local
container engine. Each project keeps its files in a persistent volume that
outlives the workspaces using it.`,
		SilenceUsage: true,
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Config file path (YAML)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("data-dir", "/var/lib/wsengine", "Directory for the record database and backups")
	flags.String("listen", "127.0.0.1:8420", "API server bind address")
	flags.String("metrics-addr", "127.0.0.1:9420", "Metrics server bind address")
	flags.String("runtime", runtime.BackendDocker, "Container runtime backend (docker, containerd)")
	flags.String("runtime-host", "", "Container runtime endpoint (defaults to the backend's standard socket)")
	flags.String("containerd-namespace", "wsengine", "containerd namespace")
	flags.String("catalog", "", "Workspace type catalog (YAML); the built-in catalog is used when empty")
	flags.String("backup-dir", "", "Backup directory (defaults to <data-dir>/backups)")
	flags.Uint64("backup-min-free-mb", 512, "Refuse backups when less disk space is free")
	flags.String("helper-image", "busybox:1.36", "Image for short-lived volume helper containers")
	flags.Duration("stop-grace", 10*time.Second, "Grace period before a stopping container is killed")
	flags.Duration("health-tick", 5*time.Second, "How often due health checks are looked for")
	flags.Duration("cleanup-interval", 5*time.Minute, "Interval between cleanup sweeps")
	flags.Duration("inactive-threshold", 2*time.Hour, "Stop running workspaces idle for longer than this")
	flags.Duration("error-grace", 30*time.Minute, "How long a workspace may sit in error before it is reported")
	flags.Bool("host-monitor", true, "Sample host capacity for admission and backup checks")
	flags.Bool("tracing-enabled", false, "Export traces over OTLP/gRPC")
	flags.String("tracing-endpoint", "localhost:4317", "OTLP collector endpoint")
	flags.Float64("tracing-sample-rate", 1.0, "Trace sample rate (0..1)")
	flags.Bool("tracing-insecure", true, "Connect to the collector without TLS")

	bind := map[string]string{
		"config":                "config",
		"log_level":             "log-level",
		"data_dir":              "data-dir",
		"listen":                "listen",
		"metrics_addr":          "metrics-addr",
		"runtime.backend":       "runtime",
		"runtime.host":          "runtime-host",
		"runtime.namespace":     "containerd-namespace",
		"catalog":               "catalog",
		"backup.dir":            "backup-dir",
		"backup.min_free_mb":    "backup-min-free-mb",
		"volume.helper_image":   "helper-image",
		"workspace.stop_grace":  "stop-grace",
		"health.tick":           "health-tick",
		"cleanup.interval":      "cleanup-interval",
		"cleanup.inactive":      "inactive-threshold",
		"cleanup.error_grace":   "error-grace",
		"host.monitor":          "host-monitor",
		"tracing.enabled":       "tracing-enabled",
		"tracing.endpoint":      "tracing-endpoint",
		"tracing.sample_rate":   "tracing-sample-rate",
		"tracing.insecure":      "tracing-insecure",
	}
	for key, flag := range bind {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("WSENGINE")
	// WSENGINE_CLEANUP_INTERVAL sets cleanup.interval
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the engine, API server and background loops",
			RunE:  serve,
		},
		&cobra.Command{
			Use:   "inspect",
			Short: "Report host capacity and container runtime reachability",
			RunE:  inspect,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("workspaced\n")
				fmt.Printf("  Version:    %s\n", Version)
				fmt.Printf("  Build Time: %s\n", BuildTime)
				fmt.Printf("  Git Commit: %s\n", GitCommit)
				fmt.Printf("  Go Version: %s\n", goruntime.Version())
				fmt.Printf("  OS/Arch:    %s/%s\n", goruntime.GOOS, goruntime.GOARCH)
			},
		},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() error {
	if configFile := viper.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

func runtimeConfig() runtime.Config {
	return runtime.Config{
		Backend:   viper.GetString("runtime.backend"),
		Host:      viper.GetString("runtime.host"),
		Namespace: viper.GetString("runtime.namespace"),
		DataDir:   filepath.Join(viper.GetString("data_dir"), "containerd"),
	}
}

func engineConfig(logger *zap.Logger) *engine.Config {
	config := &engine.Config{
		DataDir:            viper.GetString("data_dir"),
		CatalogPath:        viper.GetString("catalog"),
		HelperImage:        viper.GetString("volume.helper_image"),
		StopGrace:          viper.GetDuration("workspace.stop_grace"),
		BackupDir:          viper.GetString("backup.dir"),
		BackupMinFreeBytes: viper.GetUint64("backup.min_free_mb") << 20,
		HealthTick:         viper.GetDuration("health.tick"),
		HostMonitor:        viper.GetBool("host.monitor"),
		Logger:             logger,
	}
	config.Cleanup.Interval = viper.GetDuration("cleanup.interval")
	config.Cleanup.InactiveThreshold = viper.GetDuration("cleanup.inactive")
	config.Cleanup.ErrorGrace = viper.GetDuration("cleanup.error_grace")
	return config
}

func serve(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger, err := observability.NewLogger(viper.GetString("log_level"))
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting workspaced",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("os", goruntime.GOOS),
		zap.String("arch", goruntime.GOARCH),
	)
	observability.SystemInfo.WithLabelValues(Version, BuildTime, GitCommit).Set(1)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, err := observability.NewTracerProvider(observability.TracerConfig{
		Enabled:        viper.GetBool("tracing.enabled"),
		Endpoint:       viper.GetString("tracing.endpoint"),
		ServiceName:    "workspaced",
		ServiceVersion: Version,
		SampleRate:     viper.GetFloat64("tracing.sample_rate"),
		Insecure:       viper.GetBool("tracing.insecure"),
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	config := engineConfig(logger)
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// The one runtime client of the process. It is closed last.
	rt, err := runtime.New(runtimeConfig(), logger.Named("runtime"))
	if err != nil {
		return fmt.Errorf("failed to connect container runtime: %w", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Error("Error closing runtime client", zap.Error(err))
		}
	}()

	st, err := store.OpenBolt(filepath.Join(config.DataDir, "wsengine.db"), logger.Named("store"))
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("Error closing record store", zap.Error(err))
		}
	}()

	eng, err := engine.New(config, rt, st)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer eng.Stop()

	metrics := observability.NewMetricsServer(viper.GetString("metrics_addr"), eng.Ready, logger)
	if err := metrics.Start(); err != nil {
		return err
	}

	srv := server.New(server.Config{Listen: viper.GetString("listen")}, eng, logger)
	serveErr := srv.Start(ctx)

	logger.Info("Starting graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := metrics.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping metrics server", zap.Error(err))
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error stopping tracer", zap.Error(err))
	}
	// deferred: engine loops, then store, then runtime client
	logger.Info("Shutdown complete")
	return serveErr
}

func inspect(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	logger, err := observability.NewLogger("error")
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	dataDir := viper.GetString("data_dir")
	diskPath := dataDir
	if _, err := os.Stat(diskPath); err != nil {
		diskPath = "/"
	}
	monitor := host.NewMonitor(host.Config{DiskPath: diskPath}, logger)
	if err := monitor.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to sample host: %w", err)
	}
	s := monitor.Snapshot()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Host Inspection Report")
	fmt.Fprintln(out, "======================")
	fmt.Fprintf(out, "Operating System: %s\n", goruntime.GOOS)
	fmt.Fprintf(out, "Architecture: %s\n", goruntime.GOARCH)
	fmt.Fprintln(out, "\nCapacity:")
	fmt.Fprintf(out, "  CPU Cores: %d (%.1f%% used)\n", s.CPUCores, s.CPUUsagePercent)
	fmt.Fprintf(out, "  Memory: %d MB available of %d MB\n", s.MemoryAvailable>>20, s.MemoryTotal>>20)
	fmt.Fprintf(out, "  Disk (%s): %d MB free of %d MB\n", s.DiskPath, s.DiskFree>>20, s.DiskTotal>>20)

	rc := runtimeConfig()
	fmt.Fprintln(out, "\nContainer Runtime:")
	fmt.Fprintf(out, "  Backend: %s\n", rc.Backend)
	rt, err := runtime.New(rc, logger)
	if err != nil {
		fmt.Fprintf(out, "  Status: UNAVAILABLE (%v)\n", err)
		return nil
	}
	defer rt.Close()
	if err := rt.Ping(ctx); err != nil {
		fmt.Fprintf(out, "  Status: UNREACHABLE (%v)\n", err)
		return nil
	}
	fmt.Fprintf(out, "  Status: OK\n")
	return nil
}
