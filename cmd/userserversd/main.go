// Package main implements userserversd, the per-user process supervisor
// daemon.
//
// userserversd listens on a Unix-domain socket for commands from
// userserversctl: register a service, remove one, start/stop/restart one by
// name, and report status. Registered services are persisted to a JSON file
// and autostarted the next time the daemon boots.
//
// Usage:
//
//	userserversd [options]
//
// Options:
//
//	--socket=PATH   Path to the Unix-domain socket (default: resolved per-uid under /run, /var/run, or /tmp)
//	--config=PATH   Path to the daemon's own settings file (default: $XDG_CONFIG_HOME/userserversd/daemon.yaml)
//	--lock=PATH     Path to the single-instance lock file (default: alongside the socket)
//	--log-level=LEVEL Log level: debug, info, warn, error (overrides the config file)
//	--help          Show this help message
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/AmmieNyami/userserversd-go/internal/config"
	"github.com/AmmieNyami/userserversd-go/internal/daemon"
	"github.com/AmmieNyami/userserversd-go/internal/paths"
	"github.com/AmmieNyami/userserversd-go/internal/registry"
)

// Build information (set by ldflags)
var (
	Version = "dev"
	Commit  = "unknown"
)

var (
	socketFlag   = flag.String("socket", "", "Path to the Unix-domain socket (default: resolved automatically)")
	configFlag   = flag.String("config", "", "Path to the daemon settings file (default: resolved automatically)")
	lockFlag     = flag.String("lock", "", "Path to the single-instance lock file (default: alongside the socket)")
	logLevelFlag = flag.String("log-level", "", "Log level: debug, info, warn, error (overrides the config file)")
	showHelp     = flag.Bool("help", false, "Show help message")
)

func main() {
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	os.Exit(run())
}

func run() int {
	cfgPath := *configFlag
	if cfgPath == "" {
		p, err := paths.DaemonConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "userserversd: resolve config path: %v\n", err)
			return 1
		}
		cfgPath = p
	}

	cfg, err := loadDaemonConfig(cfgPath, *logLevelFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "userserversd: %v\n", err)
		return 1
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	log.Info("userserversd starting", "version", Version, "commit", Commit, "config", cfgPath)

	socketPath := *socketFlag
	if socketPath == "" {
		p, err := paths.SocketPath()
		if err != nil {
			log.Error("userserversd: resolve socket path", "error", err)
			return 1
		}
		socketPath = p
	}

	lockPath := *lockFlag
	if lockPath == "" {
		lockPath = socketPath + ".lock"
	}

	servicesConfigPath, err := paths.ConfigFilePath()
	if err != nil {
		log.Error("userserversd: resolve services config path", "error", err)
		return 1
	}

	return runWithPaths(cfg, servicesConfigPath, socketPath, lockPath, log)
}

// runWithPaths builds the registry and daemon from already-resolved paths
// and blocks until shutdown. Split out from run() so tests can drive it with
// temp-directory paths instead of the real filesystem layout.
func runWithPaths(cfg *config.DaemonConfig, servicesConfigPath, socketPath, lockPath string, log *slog.Logger) int {
	reg := registry.New(registry.Options{
		ConfigPath:  servicesConfigPath,
		BackupDir:   cfg.BackupDir,
		KeepBackups: cfg.KeepBackups,
		Logger:      log,
	})

	d := daemon.New(reg, cfg, socketPath, log)
	return d.Run(lockPath)
}

// loadDaemonConfig loads the daemon settings file through the layered
// knadh/koanf config (YAML file overridden by USERSERVERSD_* environment
// variables, per the ambient-configuration approach), falling back to
// defaults when the file doesn't exist yet, and applies a non-empty
// log-level flag override on top of both.
func loadDaemonConfig(cfgPath, logLevelOverride string) (*config.DaemonConfig, error) {
	kc, err := config.NewKoanfConfig(config.WithYAMLFile(cfgPath))
	if err != nil {
		return nil, fmt.Errorf("load daemon config: %w", err)
	}
	cfg, err := kc.Load()
	if err != nil {
		return nil, fmt.Errorf("load daemon config: %w", err)
	}

	if logLevelOverride != "" {
		cfg.LogLevel = logLevelOverride
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func printUsage() {
	fmt.Println("userserversd - per-user process supervisor daemon")
	fmt.Printf("Version: %s (%s)\n\n", Version, Commit)
	fmt.Println("Usage: userserversd [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("The daemon listens on a Unix-domain socket for commands from userserversctl,")
	fmt.Println("persists registered services to a JSON file, and autostarts them on boot.")
	fmt.Println()
	fmt.Println("Signals:")
	fmt.Println("  SIGINT, SIGTERM  Graceful shutdown")
}
