package config

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/dokzlo13/hueboblightd/internal/color"
	"github.com/dokzlo13/hueboblightd/internal/light"
)

// Defaults and bounds
const (
	DefaultPort           = 19333
	DefaultTransitionTime = 3
	DefaultBrightness     = light.DefaultBrightness
	MinTransitionTime     = 1
	MaxTransitionTime     = 10
	MaxScan               = 100
)

var (
	ErrMissingField = errors.New("missing field")
	ErrOutOfRange   = errors.New("out of range")
	ErrInvalidValue = errors.New("invalid value")
)

// FieldError points at the config field that failed validation
type FieldError struct {
	Path string
	Err  error
}

func (e *FieldError) Error() string {
	return e.Path + ": " + e.Err.Error()
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

type validator struct {
	errs []error
}

func (v *validator) add(path string, kind error, format string, args ...any) {
	err := kind
	if format != "" {
		err = fmt.Errorf("%w: "+format, append([]any{kind}, args...)...)
	}
	v.errs = append(v.errs, &FieldError{Path: path, Err: err})
}

func (v *validator) required(path, value string) {
	if strings.TrimSpace(value) == "" {
		v.add(path, ErrMissingField, "")
	}
}

// host accepts an IP address or a host name, with a port when withPort is
// set. Empty values are left to required.
func (v *validator) host(path, value string, withPort bool) {
	h := strings.TrimSpace(value)
	if h == "" {
		return
	}
	if withPort {
		if name, port, err := net.SplitHostPort(h); err == nil {
			if p, err := strconv.Atoi(port); err != nil || p < 1 || p > 65535 {
				v.add(path, ErrInvalidValue, "%q has an invalid port", value)
				return
			}
			h = name
		}
	}
	if net.ParseIP(h) == nil && !isHostname(h) {
		v.add(path, ErrInvalidValue, "%q is neither an IP address nor a host name", value)
	}
}

var hostLabel = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?$`)

// isHostname checks RFC 1123 labels. An all-numeric last label is rejected
// so a malformed IPv4 like 300.1.1.1 does not pass as a name.
func isHostname(s string) bool {
	s = strings.TrimSuffix(s, ".")
	if s == "" || len(s) > 253 {
		return false
	}
	labels := strings.Split(s, ".")
	for _, label := range labels {
		if !hostLabel.MatchString(label) {
			return false
		}
	}
	_, err := strconv.Atoi(labels[len(labels)-1])
	return err != nil
}

func (v *validator) intRange(path string, value, lo, hi int) {
	if value < lo || value > hi {
		v.add(path, ErrOutOfRange, "%d not in %d..%d", value, lo, hi)
	}
}

func (v *validator) scanRange(path string, value float64) {
	if value < 0 || value > MaxScan {
		v.add(path, ErrOutOfRange, "%g not in 0..%d", value, MaxScan)
	}
}

// Validate reports every problem in the configuration at once. The returned
// error joins *FieldError values; use errors.Is with the Err* kinds to
// classify them.
func (cfg *Config) Validate() error {
	v := &validator{}

	v.host("server.host", cfg.Server.Host, false)
	v.intRange("server.port", cfg.Server.Port, 1, 65535)
	v.intRange("transition_time", cfg.TransitionTime, MinTransitionTime, MaxTransitionTime)
	if cfg.AutoOffSeconds < 0 {
		v.add("auto_off_seconds", ErrOutOfRange, "%d is negative", cfg.AutoOffSeconds)
	}
	if cfg.RequestTimeout < 0 {
		v.add("request_timeout", ErrOutOfRange, "negative timeout")
	}
	if cfg.RateLimitRPS < 0 {
		v.add("rate_limit_rps", ErrOutOfRange, "negative rate")
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		v.add("log.level", ErrInvalidValue, "%q", cfg.Log.Level)
	}

	if cfg.Status.Enabled {
		v.intRange("status.port", cfg.Status.Port, 1, 65535)
	}

	if len(cfg.Bridges) == 0 {
		v.add("bridges", ErrMissingField, "")
	}

	seen := make(map[string]string)
	for i, b := range cfg.Bridges {
		path := fmt.Sprintf("bridges[%d]", i)
		v.required(path+".address", b.Address)
		v.host(path+".address", b.Address, true)
		v.required(path+".username", b.Username)
		if len(b.Lights) == 0 {
			v.add(path+".lights", ErrMissingField, "")
		}

		for j, l := range b.Lights {
			lpath := fmt.Sprintf("%s.lights[%d]", path, j)
			validateLight(v, lpath, l)

			key := b.Address + "/" + b.Username + "#" + l.ID
			if prev, dup := seen[key]; dup && l.ID != "" {
				v.add(lpath+".id", ErrInvalidValue, "%q already used by %s", l.ID, prev)
			}
			seen[key] = lpath
		}
	}

	return errors.Join(v.errs...)
}

func validateLight(v *validator, path string, l LightConfig) {
	v.required(path+".id", l.ID)
	v.required(path+".name", l.Name)

	if _, err := color.ParseGamut(l.Gamut); err != nil {
		v.add(path+".gamut", ErrInvalidValue, "%q", l.Gamut)
	}
	v.intRange(path+".brightness", l.Brightness, light.MinBrightness, light.MaxBrightness)
	if l.TransitionTime != 0 {
		v.intRange(path+".transition_time", l.TransitionTime, MinTransitionTime, MaxTransitionTime)
	}

	if l.VScan == nil {
		v.add(path+".vscan", ErrMissingField, "")
	} else {
		v.scanRange(path+".vscan.top", l.VScan.Top)
		v.scanRange(path+".vscan.bottom", l.VScan.Bottom)
	}
	if l.HScan == nil {
		v.add(path+".hscan", ErrMissingField, "")
	} else {
		v.scanRange(path+".hscan.left", l.HScan.Left)
		v.scanRange(path+".hscan.right", l.HScan.Right)
	}
}

// LightSpec is a light together with the bridge it is reached through
type LightSpec struct {
	Address  string
	Username string
	Spec     light.Spec
}

// LightSpecs flattens the bridges into light records in file order. Call it
// on a validated config.
func (cfg *Config) LightSpecs() []LightSpec {
	var out []LightSpec
	for _, b := range cfg.Bridges {
		for _, l := range b.Lights {
			gamut, err := color.ParseGamut(l.Gamut)
			if err != nil {
				gamut = color.DefaultGamut
			}

			spec := light.Spec{
				ID:         l.ID,
				Name:       l.Name,
				Gamut:      gamut,
				Brightness: l.Brightness,
				Transition: l.TransitionTime,
			}
			if l.VScan != nil {
				spec.Scan.Top, spec.Scan.Bottom = l.VScan.Top, l.VScan.Bottom
			}
			if l.HScan != nil {
				spec.Scan.Left, spec.Scan.Right = l.HScan.Left, l.HScan.Right
			}

			out = append(out, LightSpec{Address: b.Address, Username: b.Username, Spec: spec})
		}
	}
	return out
}
