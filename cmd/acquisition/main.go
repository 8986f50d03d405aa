package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/KevinKickass/dbscada/internal/acquisition"
	"github.com/KevinKickass/dbscada/internal/api/websocket"
	"github.com/KevinKickass/dbscada/internal/config"
	"github.com/KevinKickass/dbscada/internal/devices"
	"github.com/KevinKickass/dbscada/internal/logging"
	"github.com/KevinKickass/dbscada/internal/mirror"
	"github.com/KevinKickass/dbscada/internal/system"
)

// Exit codes
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := pflag.NewFlagSet("acquisition", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", config.DefaultPath, "path to the configuration file")
	groupFlags := fs.StringSlice("group", nil, "device group to poll (repeatable, overrides groups)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitConfig
	}

	// Logger initialisieren, bevor die Config-Einstellungen greifen
	bootLogger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return exitRuntime
	}
	defer bootLogger.Sync()

	cfg, err := config.Load(*configPath, config.AcquisitionKeys)
	if err != nil {
		bootLogger.Error("Failed to load config", zap.String("path", *configPath), zap.Error(err))
		return exitConfig
	}
	if len(*groupFlags) > 0 {
		cfg.Acquisition.Groups = *groupFlags
	}
	if err := cfg.Validate(); err != nil {
		bootLogger.Error("Invalid config", zap.Error(err))
		return exitConfig
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		bootLogger.Error("Invalid logging config", zap.Error(err))
		return exitConfig
	}
	defer logger.Sync()

	logger.Info("Config loaded successfully", zap.String("path", *configPath))

	topo, err := devices.LoadTopology(cfg.Acquisition.TopologyFile)
	if err != nil {
		logger.Error("Failed to load device topology", zap.Error(err))
		return exitConfig
	}
	groups, err := topo.Resolve(cfg)
	if err != nil {
		logger.Error("Failed to resolve device groups", zap.Error(err))
		return exitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runID := uuid.New()

	var (
		observers  []acquisition.Observer
		components []system.Component
		hub        *websocket.Hub
	)

	if cfg.Server.HTTPAddr != "" {
		hub = websocket.NewHub(logger, runID.String())
		observers = append(observers, hub)
	}

	if cfg.MQTT.Enabled() {
		m, err := mirror.NewMQTT(cfg.MQTT, logger)
		if err != nil {
			logger.Error("Invalid MQTT mirror config", zap.Error(err))
			return exitConfig
		}
		observers = append(observers, m)
		components = append(components, m)
	}

	if cfg.InfluxDB.Enabled() {
		m, err := mirror.NewInflux(ctx, cfg.InfluxDB, logger)
		if err != nil {
			logger.Warn("InfluxDB mirror disabled", zap.Error(err))
		} else {
			observers = append(observers, m)
			components = append(components, m)
		}
	}

	runners, err := system.BuildLoops(cfg, groups, logger, observers...)
	if err != nil {
		logger.Error("Failed to build poll loops", zap.Error(err))
		return exitConfig
	}

	supervisor := system.NewSupervisor(runners, logger,
		system.WithRunID(runID),
		system.WithStatusAPI(cfg.Server.HTTPAddr, hub),
		system.WithComponents(components...))

	runErr := make(chan error, 1)
	go func() {
		runErr <- supervisor.Run(ctx)
	}()

	logger.Info("Acquisition started",
		zap.String("run_id", runID.String()),
		zap.Strings("groups", cfg.Acquisition.Groups))

	failed := false
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-runErr:
		if err != nil {
			logger.Error("Acquisition failed", zap.Error(err))
			failed = true
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := supervisor.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		return exitRuntime
	}
	if failed {
		return exitRuntime
	}

	logger.Info("Acquisition stopped successfully")
	return exitOK
}
