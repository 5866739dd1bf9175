package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	internalhttp "github.com/jmylchreest/audiocast/internal/http"
	"github.com/jmylchreest/audiocast/internal/http/handlers"
	"github.com/jmylchreest/audiocast/internal/scheduler"
	"github.com/jmylchreest/audiocast/internal/version"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the streaming control API",
	Long: `Start the audiocast control API.

The server provides:
- Stream lifecycle endpoints that open, refresh and close streams
- Network and device profile endpoints
- A health endpoint reporting the media API circuit and scheduled jobs
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("cache-backend", "disk", "Signed URL cache backend (memory, disk, database)")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("storage.cache_backend", serveCmd.Flags().Lookup("cache-backend"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	sched := scheduler.NewScheduler(scheduler.NewExecutor().WithLogger(logger)).WithLogger(logger)
	if cfg.Scheduler.CachePruneCron != "" {
		if err := sched.Register(cfg.Scheduler.CachePruneCron, scheduler.NewCachePruneHandler(a.sessions)); err != nil {
			return fmt.Errorf("scheduling cache prune: %w", err)
		}
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	health := handlers.NewHealthHandler(version.Version).
		WithCircuit(a.media).
		WithScheduler(sched).
		WithStreams(a.sessions)
	if a.db != nil {
		health.WithDB(a.db)
	}

	server := internalhttp.NewServer(cfg.Server, logger, version.Version, cfg.Logging.Level == "debug")
	server.Register(
		health,
		handlers.NewProfileHandler(a.profiler, a.conn),
		handlers.NewStreamHandler(a.sessions),
	)

	logger.Info("audiocast starting",
		slog.String("version", version.Version),
		slog.String("address", cfg.Server.Address()),
		slog.String("cache_backend", cfg.Storage.CacheBackend),
		slog.String("network_quality", string(a.profiler.GetNetworkInfo().Quality)),
		slog.String("device_type", string(a.profiler.GetDeviceInfo().Type)),
	)

	return server.ListenAndServe(ctx)
}
