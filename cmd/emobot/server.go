package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kalambet/emobot/internal/api"
	"github.com/kalambet/emobot/internal/buffer"
	"github.com/kalambet/emobot/internal/config"
	"github.com/kalambet/emobot/internal/engine"
	"github.com/kalambet/emobot/internal/enrichment"
	"github.com/kalambet/emobot/internal/interests"
	"github.com/kalambet/emobot/internal/logger"
	"github.com/kalambet/emobot/internal/matchmaker"
	"github.com/kalambet/emobot/internal/metrics"
	"github.com/kalambet/emobot/internal/notify"
	"github.com/kalambet/emobot/internal/platform/discord"
	"github.com/kalambet/emobot/internal/profile"
	"github.com/kalambet/emobot/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the emobot server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running emobot server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show emobot server and enrichment status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	fmt.Fprintf(stderr, "emobot version %s\n", version)

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.JSON, logger.ParseLevel(cfg.Log.Level))
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer log.Sync()

	// Refuse to start twice against the same listen address.
	if newClient(serverURL(cfg), cfg.Server.APIToken).health(parent) {
		if pid, pidErr := readPIDFile(cfg.Server.PIDFile); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on %s", cfg.Server.Listen)
	}
	if err := writePIDFile(cfg.Server.PIDFile); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(cfg.Server.PIDFile)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("closing storage", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	eng, err := engine.Detect(ctx, engine.DetectConfig{
		Provider:      cfg.Inference.Provider,
		OllamaBaseURL: cfg.Inference.OllamaBaseURL,
		GeminiAPIKey:  cfg.Inference.GeminiAPIKey,
		GeminiModel:   cfg.Inference.Model,
	})
	if err != nil {
		return fmt.Errorf("detecting inference engine: %w", err)
	}
	model := engine.ModelFor(eng, cfg.Inference.Model)
	if err := engine.EnsureReady(ctx, eng, model, stderr); err != nil {
		return err
	}
	log.Info("inference engine ready", zap.String(logger.FieldAIProvider, eng.Name()), zap.String(logger.FieldAIModel, model))

	extractor := interests.NewExtractor(eng, interests.Options{
		Model:    model,
		Provider: eng.Name(),
		Timeout:  cfg.Inference.Timeout,
		Logger:   log,
		Metrics:  m,
	})

	guild, err := discord.New(discord.Config{
		Token:   cfg.Discord.Token,
		GuildID: cfg.Discord.GuildID,
		BaseURL: cfg.Discord.BaseURL,
	}, log)
	if err != nil {
		return fmt.Errorf("configuring discord: %w", err)
	}

	profiles := profile.NewManager(store)
	mm := matchmaker.New(profiles, guild, notify.New(guild, log, m), matchmaker.Options{
		Threshold: cfg.Enrichment.Threshold,
		Logger:    log,
	})

	buf := buffer.NewMemory(cfg.Enrichment.BufferCapacity)
	sched := enrichment.New(buf, profiles, extractor, mm, enrichment.Options{
		Period:       cfg.Enrichment.Period,
		Concurrency:  cfg.Enrichment.Concurrency,
		CycleTimeout: cfg.Enrichment.CycleTimeout,
		Logger:       log,
		Metrics:      m,
	})
	go sched.Run(ctx)

	srv := &http.Server{
		Addr: cfg.Server.Listen,
		Handler: api.NewHandler(api.Deps{
			Profiles:   mm,
			Buffer:     buf,
			Enrichment: sched,
			Token:      cfg.Server.APIToken,
			Metrics:    m,
			Gatherer:   reg,
			Logger:     log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	if cfg.Server.MCPStdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Profiles:   mm,
			Enrichment: sched,
			Version:    version,
		})
		go func() {
			if err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("MCP stdio server error", zap.Error(err))
			}
		}()
		log.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("emobot listening", zap.String("addr", cfg.Server.Listen), zap.String("guild", cfg.Discord.GuildID))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.LoadClient(configFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	pid, err := readPIDFile(cfg.Server.PIDFile)
	if err != nil {
		return fmt.Errorf("emobot is not running (no PID file at %s)", cfg.Server.PIDFile)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("could not find process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		removePIDFile(cfg.Server.PIDFile)
		return fmt.Errorf("could not stop emobot (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to emobot (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.LoadClient(configFile)
	if err != nil {
		// Still show partial status when the token is missing.
		printError("config error: %v", err)
		return nil
	}

	client := newClient(serverURL(cfg), cfg.Server.APIToken)
	if !client.health(ctx) {
		printStatus("Server", "stopped")
		return nil
	}
	printStatus("Server", "running on %s", cfg.Server.Listen)
	if pid, err := readPIDFile(cfg.Server.PIDFile); err == nil {
		printStatus("PID", "%d", pid)
	}

	var st api.EnrichmentStatus
	if err := client.get(ctx, "/enrichment/status", &st); err != nil {
		printWarning("enrichment status unavailable: %v", err)
		return nil
	}
	printStatus("Enrichment", "%s", st.State)
	if st.LastReport == nil {
		printStatus("Last cycle", "none yet")
		return nil
	}
	printStatus("Last cycle", "%s ago (%s)", time.Since(st.LastReport.StartedAt).Round(time.Second), st.LastReport.Trigger)
	printStatus("Updated", "%d of %d identities", st.LastReport.Updated, st.LastReport.Identities)
	printStatus("Notifications", "%d", st.LastReport.Notifications)
	return nil
}
