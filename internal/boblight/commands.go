package boblight

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dokzlo13/hueboblightd/internal/color"
	"github.com/dokzlo13/hueboblightd/internal/light"
)

// ProtocolVersion is reported to "get version"
const ProtocolVersion = 5

func (s *Server) handle(logger *zerolog.Logger, line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}

	switch fields[0] {
	case "hello":
		return "hello\n"
	case "ping":
		// this client always holds at least one light
		return "ping 1\n"
	case "get":
		return s.handleGet(logger, fields[1:])
	case "set":
		s.activity.Touch()
		s.handleSet(logger, fields[1:])
		return ""
	case "sync":
		s.activity.Touch()
		return ""
	default:
		logger.Info().Str("line", line).Msg("Unknown command")
		return ""
	}
}

func (s *Server) handleGet(logger *zerolog.Logger, args []string) string {
	if len(args) == 0 {
		logger.Info().Msg("Incomplete get command")
		return ""
	}

	switch args[0] {
	case "version":
		return fmt.Sprintf("version %d\n", ProtocolVersion)
	case "lights":
		return formatLights(s.registry.Snapshot())
	default:
		logger.Info().Str("what", args[0]).Msg("Unknown get command")
		return ""
	}
}

func formatLights(lights []*light.Light) string {
	var b strings.Builder
	fmt.Fprintf(&b, "lights %d\n", len(lights))
	for _, l := range lights {
		scan := l.Scan()
		fmt.Fprintf(&b, "light %s scan %s %s %s %s\n",
			l.ID(),
			formatScan(scan.Top),
			formatScan(scan.Bottom),
			formatScan(scan.Left),
			formatScan(scan.Right),
		)
	}
	return b.String()
}

func formatScan(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (s *Server) handleSet(logger *zerolog.Logger, args []string) {
	if len(args) == 0 {
		logger.Info().Msg("Incomplete set command")
		return
	}

	switch args[0] {
	case "priority":
		if len(args) != 2 {
			logger.Info().Strs("args", args).Msg("Invalid priority command")
			return
		}
		priority, err := strconv.Atoi(args[1])
		if err != nil || priority < 0 || priority > 255 {
			logger.Info().Str("priority", args[1]).Msg("Invalid priority value")
			return
		}
		logger.Debug().Int("priority", priority).Msg("Priority set")
	case "light":
		s.handleSetLight(logger, args[1:])
	default:
		logger.Info().Str("what", args[0]).Msg("Unknown set command")
	}
}

// handleSetLight handles "set light <id> <property> [values...]"
func (s *Server) handleSetLight(logger *zerolog.Logger, args []string) {
	if len(args) < 2 {
		logger.Info().Strs("args", args).Msg("Incomplete set light command")
		return
	}

	id, property, values := args[0], args[1], args[2:]
	l := s.registry.Find(id)
	if l == nil {
		logger.Debug().Str("light", id).Msg("Unknown light")
		return
	}

	switch property {
	case "rgb":
		rgb, err := parseRGB(values)
		if err != nil {
			logger.Info().Err(err).Str("light", id).Strs("values", values).Msg("Invalid rgb command")
			return
		}
		l.SetTarget(rgb)
	case "speed", "interpolation", "use":
		// transition comes from configuration, these are only acknowledged
		if len(values) != 1 {
			logger.Info().Str("light", id).Str("property", property).Msg("Invalid light command")
			return
		}
		logger.Debug().Str("light", id).Str("property", property).Str("value", values[0]).Msg("Light option ignored")
	case "singlechange":
		logger.Debug().Str("light", id).Msg("Single change requested")
	default:
		logger.Info().Str("light", id).Str("property", property).Msg("Unknown light property")
	}
}

func parseRGB(values []string) (color.RGB, error) {
	if len(values) != 3 {
		return color.RGB{}, fmt.Errorf("expected 3 values, got %d", len(values))
	}

	var channels [3]float64
	for i, v := range values {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return color.RGB{}, fmt.Errorf("channel %d: %w", i, err)
		}
		channels[i] = f
	}
	return color.RGB{R: channels[0], G: channels[1], B: channels[2]}, nil
}
