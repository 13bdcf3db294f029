// Command lighteffects is a test client for hueboblightd. It runs the
// session a media player would: handshake, light discovery, then a few
// frames of colors.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dokzlo13/hueboblightd/internal/boblight"
	"github.com/dokzlo13/hueboblightd/internal/color"
)

// set at build time via -ldflags "-X main.version=..."
var version = "dev"

// effect is the color sequence; light i starts i steps into it
var effect = []color.RGB{
	{R: 1},
	{G: 1},
	{B: 1},
}

type options struct {
	server  string
	logDir  string
	debug   bool
	cycles  int
	delay   time.Duration
	timeout time.Duration
}

func main() {
	hostname, _ := os.Hostname()

	var opts options
	flag.StringVar(&opts.server, "server", hostname, "hueboblightd host or host:port")
	flag.StringVar(&opts.logDir, "logdir", "", "Directory for a rotating lighteffects.log")
	flag.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	flag.IntVar(&opts.cycles, "cycles", 1, "Times to run through the color sequence")
	flag.DurationVar(&opts.delay, "delay", 500*time.Millisecond, "Pause between frames")
	flag.DurationVar(&opts.timeout, "timeout", 5*time.Second, "Dial and reply timeout")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("lighteffects", version)
		return
	}

	if logFile := setupLogging(opts); logFile != nil {
		defer logFile.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		log.Error().Err(err).Msg("Session failed")
		stop()
		os.Exit(1)
	}
	log.Info().Msg("Done")
}

func run(ctx context.Context, opts options) error {
	addr := serverAddr(opts.server)
	log.Info().Str("server", addr).Msg("Connecting")

	c, err := boblight.Dial(ctx, addr, opts.timeout)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Hello(); err != nil {
		return err
	}
	used, err := c.Ping()
	if err != nil {
		return err
	}
	v, err := c.Version()
	if err != nil {
		return err
	}
	lights, err := c.Lights()
	if err != nil {
		return err
	}
	log.Info().Int("version", v).Int("in_use", used).Int("lights", len(lights)).Msg("Session open")
	for _, l := range lights {
		log.Info().
			Str("light", l.ID).
			Floats64("scan", []float64{l.Scan.Top, l.Scan.Bottom, l.Scan.Left, l.Scan.Right}).
			Msg("Light")
	}
	if len(lights) == 0 {
		log.Warn().Msg("Server reports no lights")
		return c.Sync()
	}

	for _, l := range lights {
		if err := c.SetSpeed(l.ID, 100); err != nil {
			return err
		}
	}

	for cycle := 0; cycle < opts.cycles; cycle++ {
		for step := range effect {
			for i, l := range lights {
				if err := c.SetRGB(l.ID, effect[(step+i)%len(effect)]); err != nil {
					return err
				}
			}
			if err := c.Sync(); err != nil {
				return err
			}
			log.Debug().Int("cycle", cycle).Int("step", step).Msg("Frame sent")

			if !sleep(ctx, opts.delay) {
				return ctx.Err()
			}
		}
	}
	return nil
}

// serverAddr adds the default boblight port to a bare host
func serverAddr(server string) string {
	if bare := strings.Trim(server, "[]"); !strings.Contains(server, ":") || net.ParseIP(bare) != nil {
		return net.JoinHostPort(bare, strconv.Itoa(boblight.DefaultPort))
	}
	return server
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func setupLogging(opts options) *lumberjack.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}

	var file *lumberjack.Logger
	if opts.logDir != "" {
		file = &lumberjack.Logger{
			Filename:   filepath.Join(opts.logDir, "lighteffects.log"),
			MaxBackups: 4,
		}
		out = zerolog.MultiLevelWriter(out, file)
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if opts.debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	return file
}
