// Package logging builds the slog.Logger used by a sync run.
//
// Level names follow the classic CRITICAL..NOTSET ladder accepted on the
// command line. CRITICAL and FATAL share LevelFatal, which sits above
// slog.LevelError and renders as "FATAL".
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// LevelFatal marks conditions that abort or skip work, such as a malformed
// manifest record.
const LevelFatal = slog.Level(12)

// Format selects the slog handler
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// LevelNames lists the accepted level names in descending severity
var LevelNames = []string{"CRITICAL", "FATAL", "ERROR", "WARN", "WARNING", "INFO", "DEBUG", "NOTSET"}

// ParseLevel maps a level name to its slog level. Names must be given in
// upper case exactly as listed in LevelNames. NOTSET enables everything.
func ParseLevel(value string) (slog.Level, error) {
	switch value {
	case "CRITICAL", "FATAL":
		return LevelFatal, nil
	case "ERROR":
		return slog.LevelError, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "DEBUG", "NOTSET":
		return slog.LevelDebug, nil
	default:
		return slog.LevelDebug, fmt.Errorf("invalid log level %q (must be one of %s)", value, strings.Join(LevelNames, ", "))
	}
}

// ParseFormat validates a handler format name
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("invalid log format %q (must be text or json)", value)
	}
}

// New creates a logger writing to out. The returned logger is not installed
// as the slog default; callers pass it along explicitly.
func New(level, format string, out io.Writer) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	f, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{
		Level:       lvl,
		ReplaceAttr: replaceLevel,
	}

	var handler slog.Handler
	if f == FormatJSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler), nil
}

func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 || a.Key != slog.LevelKey {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= LevelFatal {
		a.Value = slog.StringValue("FATAL")
	}
	return a
}
