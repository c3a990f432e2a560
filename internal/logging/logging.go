// Package logging configures the process-wide logrus logger used by every
// runnerprobe component.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// Format selects how log entries are rendered.
type Format string

const (
	FormatText    Format = "text"
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

// NullLogger discards everything. Components fall back to it when no logger is supplied.
var NullLogger = &logrus.Logger{
	Out:       io.Discard,
	Formatter: new(logrus.TextFormatter),
	Hooks:     make(logrus.LevelHooks),
	Level:     logrus.PanicLevel,
}

// New builds a logger writing to out at the given level and format.
func New(out io.Writer, level string, format Format) (*logrus.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(lvl)
	switch Format(strings.ToLower(string(format))) {
	case "", FormatText:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case FormatJSON:
		logger.SetFormatter(&logrus.JSONFormatter{})
	case FormatConsole:
		logger.SetFormatter(&CommandLineFormatter{})
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}
	return logger, nil
}

// Configure applies level and format to the standard logrus logger.
func Configure(out io.Writer, level string, format Format) error {
	logger, err := New(out, level, format)
	if err != nil {
		return err
	}
	std := logrus.StandardLogger()
	std.SetOutput(logger.Out)
	std.SetLevel(logger.Level)
	std.SetFormatter(logger.Formatter)
	return nil
}

// Or returns entry when non-nil, otherwise an entry on NullLogger.
func Or(entry *logrus.Entry) *logrus.Entry {
	if entry != nil {
		return entry
	}
	return logrus.NewEntry(NullLogger)
}

func parseLevel(level string) (logrus.Level, error) {
	if strings.TrimSpace(level) == "" {
		return logrus.InfoLevel, nil
	}
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return lvl, nil
}
