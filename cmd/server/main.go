package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"hls-gateway/internal/orchestrator"
	"hls-gateway/internal/platform/config"
	"hls-gateway/internal/platform/cors"
	"hls-gateway/internal/platform/logger"
	"hls-gateway/internal/platform/metrics"
	"hls-gateway/internal/platform/telemetry"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
)

const serviceName = "hls-gateway"

var (
	configFile  string
	port        string
	segmentsDir string
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "hls-gateway",
		Short:        "Serve remote video sources as HLS playlists",
		SilenceUsage: true,
		RunE:         runServe,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (default $CONFIG_FILE)")
	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")
	cmd.Flags().StringVar(&segmentsDir, "segments-dir", "", "segment root directory (overrides SEGMENTS_DIR)")

	cmd.AddCommand(newProbeCmd())
	return cmd
}

// loadSettings layers .env, the config file, env and flags.
func loadSettings() (config.Settings, error) {
	_ = config.Load()

	path := configFile
	if path == "" {
		path = config.GetEnv("CONFIG_FILE", "")
	}
	s, err := config.LoadSettings(path)
	if err != nil {
		return config.Settings{}, err
	}
	if port != "" {
		s.Port = port
	}
	if segmentsDir != "" {
		s.SegmentsDir = segmentsDir
	}
	return s, s.Validate()
}

func runServe(cmd *cobra.Command, _ []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}

	log := logger.New(settings.LogLevel, settings.LogFormat)

	shutdownTracing, err := telemetry.Init(cmd.Context(), serviceName, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	store := orchestrator.NewSegmentStore(settings.SegmentsDir)
	if err := store.Init(); err != nil {
		return err
	}

	met := metrics.New()
	runner := orchestrator.ExecRunner{}
	tool := orchestrator.NewSourceTool(runner, orchestrator.SourceToolConfig{
		Binary:  settings.Resolver.Binary,
		Format:  settings.Resolver.Format,
		Timeout: settings.Resolver.Timeout,
	}, log)
	sup := orchestrator.NewSupervisor(runner, tool, orchestrator.TranscoderConfig{
		Binary:         settings.Transcoder.Binary,
		SegmentSeconds: settings.Transcoder.SegmentSeconds,
		ListSize:       settings.Transcoder.ListSize,
	}, log)
	registry := orchestrator.NewRegistry()
	svc := orchestrator.NewService(registry, store, tool, sup, orchestrator.ServiceOptions{
		MaxSessions: settings.MaxSessions,
		Logger:      log,
		Metrics:     met,
	})
	h := orchestrator.NewHandler(svc, log, met)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.AllowAll)
	r.Use(logger.RequestID(log))
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveStreams(registry.Len()) }).ServeHTTP(w, r)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	h.Mount(r)

	addr := ":" + settings.Port
	srv := &http.Server{Addr: addr, Handler: telemetry.Middleware(r, serviceName)}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	log.Info("server starting",
		slog.String("port", settings.Port),
		slog.String("segments_dir", store.Root()),
		slog.Int("max_sessions", settings.MaxSessions),
		slog.String("log_level", settings.LogLevel),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received, stopping transcoders", slog.String("signal", sig.String()))
	case serveErr = <-errCh:
		log.Error("server error", slog.String("error", serveErr.Error()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), settings.ShutdownTimeout)
	defer cancel()

	svc.Shutdown(ctx)
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", slog.String("error", err.Error()))
	}
	if err := shutdownTracing(ctx); err != nil {
		log.Warn("trace flush failed", slog.String("error", err.Error()))
	}

	log.Info("server stopped")
	return serveErr
}
