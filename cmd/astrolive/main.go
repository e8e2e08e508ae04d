// Package main implements the entry point for the AstroLive bridge.
// AstroLive polls an observatory's device API and publishes discovery,
// telemetry and camera previews to an MQTT broker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/mawinkler/astrolive/config"
	"github.com/mawinkler/astrolive/engine"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "astrolive"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting AstroLive (observatory to MQTT bridge)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	bridge, err := engine.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create bridge: %w", err)
	}
	if err := bridge.Initialize(); err != nil {
		return fmt.Errorf("initialize bridge: %w", err)
	}

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := bridge.Start(signalCtx); err != nil {
		return fmt.Errorf("start bridge: %w", err)
	}
	slog.Info("AstroLive started successfully")

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	if err := bridge.Stop(cliCfg.ShutdownTimeout); err != nil {
		return fmt.Errorf("stop bridge: %w", err)
	}
	slog.Info("Shutdown complete")
	return nil
}
