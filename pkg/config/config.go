// Package config loads the YAML configuration of the vxi11-device and
// vxi11-controller binaries and turns it into device.Config and
// session.Config values.
//
// Durations are written as Go duration strings ("2s", "150ms"). Unknown
// keys are rejected so that typos do not silently fall back to defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadError reports a configuration file that could not be used.
type LoadError struct {
	// File is the path to the file that failed to load (empty for
	// in-memory data).
	File string

	// Line is the line number where the error occurred (0 if unknown).
	Line int

	// Message describes the error.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

func (e *LoadError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d", e.Line)
		}
		b.WriteString(": ")
	} else if e.Line > 0 {
		fmt.Fprintf(&b, "line %d: ", e.Line)
	}
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Duration is a time.Duration written as a duration string in YAML.
type Duration time.Duration

// UnmarshalYAML accepts "1.5s" style strings. A bare integer is taken as
// milliseconds, the unit VXI-11 timeouts travel in.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return &LoadError{Line: node.Line, Message: "duration must be a scalar"}
	}
	var ms int64
	if err := node.Decode(&ms); err == nil {
		if ms < 0 {
			return &LoadError{Line: node.Line, Message: fmt.Sprintf("negative duration %d", ms)}
		}
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	v, err := time.ParseDuration(node.Value)
	if err != nil {
		return &LoadError{Line: node.Line, Message: fmt.Sprintf("invalid duration %q", node.Value), Cause: err}
	}
	if v < 0 {
		return &LoadError{Line: node.Line, Message: fmt.Sprintf("negative duration %q", node.Value)}
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML writes the duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// LogConfig selects operational and protocol logging.
type LogConfig struct {
	// Level is debug, info, warn or error (default info).
	Level string `yaml:"level"`

	// Protocol is the path of a CBOR protocol log (optional).
	Protocol string `yaml:"protocol"`
}

// SlogLevel returns Level as a slog level.
func (c LogConfig) SlogLevel() (slog.Level, error) {
	return ParseLogLevel(c.Level)
}

// ParseLogLevel maps a level name to a slog level. Empty is info.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, invalid("unknown log level %q", s)
	}
}

type validator interface {
	Validate() error
}

type defaulter interface {
	applyDefaults()
}

// decode parses YAML into v, rejecting unknown keys, then fills defaults and
// validates.
func decode(data []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		var le *LoadError
		if errors.As(err, &le) {
			return le
		}
		return &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	if d, ok := v.(defaulter); ok {
		d.applyDefaults()
	}
	if val, ok := v.(validator); ok {
		if err := val.Validate(); err != nil {
			return &LoadError{Message: "validation failed", Cause: err}
		}
	}
	return nil
}

func load(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &LoadError{
			File:    path,
			Message: "failed to read file",
			Cause:   err,
		}
	}
	if err := decode(data, v); err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.File = path
			return le
		}
		return &LoadError{File: path, Message: err.Error()}
	}
	return nil
}

// terminator decodes a one-byte terminator string such as "\n".
func terminator(s string) (byte, error) {
	if len(s) != 1 {
		return 0, invalid("terminator %q must be a single byte", s)
	}
	return s[0], nil
}
