package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	go2tvadapters "github.com/bidev/playcast-ingest/internal/adapters/go2tv"
	"github.com/bidev/playcast-ingest/internal/buildinfo"
	"github.com/bidev/playcast-ingest/internal/config"
	"github.com/bidev/playcast-ingest/internal/diagnostics"
	"github.com/bidev/playcast-ingest/internal/discovery"
	"github.com/bidev/playcast-ingest/internal/domain"
	"github.com/bidev/playcast-ingest/internal/ingest"
	"github.com/bidev/playcast-ingest/internal/lifecycle"
	"github.com/bidev/playcast-ingest/internal/mcpserver"
)

const (
	serverName           = "playcast-ingest"
	selfTestDiscoveryMS  = 1500
	shutdownGracePeriod  = 5 * time.Second
	configFileEnvVarName = "PLAYCAST_CONFIG"
)

type selfTestOutput struct {
	Server struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"server"`
	Ingest    diagnostics.Report `json:"ingest"`
	Discovery struct {
		Wired   bool            `json:"wired"`
		Devices []domain.Device `json:"devices"`
		Error   string          `json:"error,omitempty"`
	} `json:"discovery"`
}

func main() {
	selfTest := flag.Bool("self-test", false, "run storage, port, and discovery diagnostics then exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	configFile := flag.String("config", os.Getenv(configFileEnvVarName), "optional config file (yaml, json, or toml)")
	flag.Parse()

	if *showVersion {
		fmt.Println(buildinfo.Version)
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	bundle := go2tvadapters.NewBundle()

	if *selfTest {
		if err := runSelfTest(cfg, bundle); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	runCtx, stopSignals := signal.NotifyContext(context.Background(), lifecycle.TerminationSignals()...)
	defer stopSignals()

	logLevel := parseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger.Info(
		"mcp_server_start",
		slog.String("server", serverName),
		slog.String("version", buildinfo.Version),
		slog.String("log_level", logLevel.String()),
		slog.String("media_dir", cfg.MediaDir()),
	)

	discoverySvc := discovery.NewService(bundle.Discovery, runCtx)

	// The ingest factory runs only on start, after srv is assigned.
	var srv *mcpserver.Server
	manager := lifecycle.NewManager(func() lifecycle.Server {
		return ingest.New(ingest.Config{
			MediaDir:          cfg.MediaDir(),
			SpoolDir:          cfg.SpoolDir,
			MaxUploadBytes:    cfg.MaxUploadBytes,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			Notifier:          srv,
			Logger:            logger,
		})
	}, logger)
	srv = mcpserver.New(os.Stdin, os.Stdout, mcpserver.Config{
		ServerName:          serverName,
		ServerVersion:       buildinfo.Version,
		Logger:              logger,
		DefaultPort:         cfg.Port,
		DiscoveryTimeoutMS:  cfg.DiscoveryTimeoutMS,
		LocalHardwareLister: discoverySvc,
		IngestController:    manager,
	})

	if cfg.Autostart {
		if res, err := manager.Start(runCtx, cfg.Port); err != nil {
			logger.Warn("ingest_autostart_failed", slog.String("error", err.Error()))
		} else {
			logger.Info("ingest_autostart", slog.String("url", res.URL))
		}
	}

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- srv.Run(runCtx)
	}()

	var runErr error
	select {
	case runErr = <-runErrCh:
	case <-runCtx.Done():
		runErr = runCtx.Err()
	}
	if runErr != nil {
		logger.Warn("mcp_server_stopping", slog.String("reason", runErr.Error()))
	} else {
		logger.Info("mcp_server_stopping", slog.String("reason", "clean_eof"))
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancelShutdown()
	if err := manager.Close(shutdownCtx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		fmt.Fprintln(os.Stderr, runErr)
		os.Exit(1)
	}
}

func runSelfTest(cfg *config.Config, bundle go2tvadapters.Bundle) error {
	out := selfTestOutput{}
	out.Server.Name = serverName
	out.Server.Version = buildinfo.Version
	out.Discovery.Wired = bundle.Discovery != nil

	ctx, cancel := context.WithTimeout(context.Background(), 2*selfTestDiscoveryMS*time.Millisecond)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out.Ingest = diagnostics.Run(cfg.MediaDir(), cfg.SpoolDir, cfg.Port)
		return nil
	})
	g.Go(func() error {
		svc := discovery.NewService(bundle.Discovery, gctx)
		found, err := svc.ListLocalHardware(gctx, selfTestDiscoveryMS, true)
		if err != nil {
			out.Discovery.Error = err.Error()
			return nil
		}
		out.Discovery.Devices = found
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		fmt.Fprintf(os.Stderr, "invalid PLAYCAST_LOG_LEVEL=%q; defaulting to info\n", raw)
		return slog.LevelInfo
	}
}
