package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dokzlo13/hueboblightd/internal/app"
	"github.com/dokzlo13/hueboblightd/internal/config"
)

// set at build time via -ldflags "-X main.version=..."
var version = "dev"

type options struct {
	configPath string
	server     string
	logDir     string
	debug      bool
}

func main() {
	var opts options
	// Support both -c and --config for config path
	flag.StringVar(&opts.configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&opts.configPath, "c", "config.yaml", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.server, "server", "", "Boblight listen host or host:port, overrides the config file")
	flag.StringVar(&opts.logDir, "logdir", "", "Directory for a rotating hueboblightd.log")
	flag.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("hueboblightd", version)
		return
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logFile := setupLogging(cfg.Log, opts)
	if logFile != nil {
		defer logFile.Close()
	}

	log.Info().Str("config", opts.configPath).Str("version", version).Msg("Starting hueboblightd")

	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	// Create context that cancels on shutdown signal
	ctx := app.SignalContext()
	reload := app.ReloadSignals()

	if err := application.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	for running := true; running; {
		select {
		case <-reload:
			log.Info().Str("config", opts.configPath).Msg("Reloading configuration")
			next, err := loadConfig(opts)
			if err != nil {
				log.Error().Err(err).Msg("Failed to load configuration, keeping the current one")
				continue
			}
			if err := application.Reload(next); err != nil {
				log.Error().Err(err).Msg("Reload failed, keeping the current configuration")
			}
		case <-application.Done():
			running = false
		}
	}

	// Graceful shutdown
	if err := application.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}
}

// loadConfig reads the config file and applies command line overrides
func loadConfig(opts options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	if opts.server != "" {
		host, port, err := splitServer(opts.server, cfg.Server.Port)
		if err != nil {
			return nil, fmt.Errorf("--server: %w", err)
		}
		cfg.Server = config.ServerConfig{Host: host, Port: port}
	}
	if opts.debug {
		cfg.Log.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitServer parses host or host:port. A bare host keeps defaultPort.
func splitServer(server string, defaultPort int) (string, int, error) {
	if bare := strings.Trim(server, "[]"); !strings.Contains(server, ":") || net.ParseIP(bare) != nil {
		return bare, defaultPort, nil
	}

	host, port, err := net.SplitHostPort(server)
	if err != nil {
		return "", 0, err
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 1 || p > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", port)
	}
	return host, p, nil
}

func setupLogging(cfg config.LogConfig, opts options) *lumberjack.Logger {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	var console io.Writer = os.Stderr
	if !cfg.JSON {
		console = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !cfg.Colors,
		}
	}

	path := cfg.File
	if opts.logDir != "" {
		path = filepath.Join(opts.logDir, "hueboblightd.log")
	}

	var file *lumberjack.Logger
	out := console
	if path != "" {
		// the file always gets JSON lines
		file = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		out = zerolog.MultiLevelWriter(console, file)
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()

	switch strings.ToLower(cfg.Level) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	return file
}
