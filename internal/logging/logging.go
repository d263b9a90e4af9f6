// Package logging builds the process-wide structured logger.
//
// The logger is created once at startup and passed explicitly to every
// component that logs. It writes timestamped, leveled records to stderr so
// that stdout stays reserved for the run report.
package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Format selects the record encoding.
type Format string

const (
	FormatText   Format = "text"
	FormatJSON   Format = "json"
	FormatLogfmt Format = "logfmt"
)

// Options configures New.
type Options struct {
	// Level is a level name understood by log.ParseLevel ("debug",
	// "info", "warn", "error"). Empty means info.
	Level string

	// Format is the record encoding. Empty means text.
	Format Format

	// Prefix is prepended to every record.
	Prefix string
}

// New creates a logger writing to w.
func New(w io.Writer, opts Options) (*log.Logger, error) {
	level := log.InfoLevel
	if opts.Level != "" {
		parsed, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	formatter, err := formatterFor(opts.Format)
	if err != nil {
		return nil, err
	}

	return log.NewWithOptions(w, log.Options{
		Level:           level,
		Prefix:          opts.Prefix,
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Formatter:       formatter,
	}), nil
}

// Discard returns a logger that drops every record. Tests use it when log
// output is irrelevant.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

func formatterFor(f Format) (log.Formatter, error) {
	switch Format(strings.ToLower(string(f))) {
	case "", FormatText:
		return log.TextFormatter, nil
	case FormatJSON:
		return log.JSONFormatter, nil
	case FormatLogfmt:
		return log.LogfmtFormatter, nil
	default:
		return 0, fmt.Errorf("invalid log format %q (valid: text, json, logfmt)", f)
	}
}
