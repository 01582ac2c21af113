package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	colorRed     = 31
	colorGreen   = 32
	colorYellow  = 33
	colorMagenta = 35
	colorBold    = 1
)

var (
	once   sync.Once
	logger *zerolog.Logger
)

var levelLabels = map[string]struct {
	label string
	color int
}{
	"trace": {"TRC", colorMagenta},
	"debug": {"DBG", colorYellow},
	"info":  {"INF", colorGreen},
	"warn":  {"WRN", colorRed},
	"error": {"ERR", colorRed},
	"fatal": {"FTL", colorRed},
	"panic": {"PNC", colorRed},
}

// Get returns the singleton logger instance, initializing it on first call.
func Get() *zerolog.Logger {
	once.Do(func() {
		logger = newLogger()
	})
	return logger
}

func colorize(s interface{}, c int) string {
	return fmt.Sprintf("\x1b[%dm%v\x1b[0m", c, s)
}

// newLogger builds the logger from ENV, LOG_LEVEL and LOG_FILE.
func newLogger() *zerolog.Logger {
	logLevel := zerolog.InfoLevel
	if levelStr := os.Getenv("LOG_LEVEL"); levelStr != "" {
		if parsedLevel, err := zerolog.ParseLevel(strings.ToLower(levelStr)); err == nil {
			logLevel = parsedLevel
		} else {
			fmt.Fprintf(os.Stderr, "Invalid LOG_LEVEL \"%s\"; defaulting to 'info'\n", levelStr)
		}
	}
	zerolog.SetGlobalLevel(logLevel)

	var console io.Writer
	switch os.Getenv("ENV") {
	case "", "dev", "development":
		console = newConsoleWriter(os.Stderr)
	default:
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		console = os.Stderr
	}

	out := console
	if path := os.Getenv("LOG_FILE"); path != "" {
		out = zerolog.MultiLevelWriter(console, newFileWriter(path))
	}

	zl := zerolog.New(out).With().Timestamp().Logger()
	return &zl
}

// newConsoleWriter renders colored, human readable lines for local use.
func newConsoleWriter(w io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "2006-01-02 15:04:05",
		FormatLevel: func(i interface{}) string {
			ll, ok := i.(string)
			if !ok {
				return strings.ToUpper(fmt.Sprintf("%3.3s", fmt.Sprint(i)))
			}
			if known, ok := levelLabels[ll]; ok {
				return colorize(known.label, known.color)
			}
			return colorize(strings.ToUpper(fmt.Sprintf("%3.3s", ll)), colorBold)
		},
	}
}

// newFileWriter rotates the JSON log file so a long-running proxy does not
// fill the disk.
func newFileWriter(path string) io.Writer {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
}
