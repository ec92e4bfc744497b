package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger

	fileSink io.WriteCloser
)

func init() {
	// Initialize with a default logger (info level, stderr output)
	// Can be reconfigured later with Init()
	Logger = zerolog.New(os.Stderr).
		With().
		Timestamp().
		Caller().
		Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = Logger
}

// Rotation defaults for the optional log file
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
)

// FileConfig describes an optional rotating log file.
// Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// ParseLevel maps a level name to a zerolog level, defaulting to info
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Init initializes the global logger with the specified level and output
func Init(level string, pretty bool) {
	InitWithFile(level, pretty, FileConfig{})
}

// InitWithFile initializes the global logger and, when file.Path is set,
// tees every record into a rotating log file.
func InitWithFile(level string, pretty bool, file FileConfig) {
	zerolog.SetGlobalLevel(ParseLevel(level))

	// Configure output
	var output io.Writer = os.Stderr
	if pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
			NoColor:    false,
		}
	}

	if fileSink != nil {
		fileSink.Close() //nolint:errcheck
		fileSink = nil
	}
	if file.Path != "" {
		fileSink = &lj.Logger{
			Filename:   file.Path,
			MaxSize:    valOr(file.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(file.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(file.MaxAgeDays, DefaultMaxAgeDays),
		}
		output = zerolog.MultiLevelWriter(output, fileSink)
	}

	Logger = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()

	// Set as global logger
	log.Logger = Logger
}

// Close flushes and closes the log file, if any
func Close() error {
	if fileSink == nil {
		return nil
	}
	err := fileSink.Close()
	fileSink = nil
	return err
}

// Get returns the global logger instance
func Get() *zerolog.Logger {
	return &Logger
}

// WithComponent returns a logger with a component field set
func WithComponent(component string) *zerolog.Logger {
	l := Logger.With().Str("component", component).Logger()
	return &l
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
