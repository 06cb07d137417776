// Package logx configures the process-wide zerolog logger: human-readable
// console output plus an optional rotating JSON file under LOG_DIR.
package logx

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config captures logger options.
type Config struct {
	Debug  bool
	Dir    string // rotating file directory; empty disables the file sink
	NoFile bool   // console only, regardless of Dir
}

// Setup builds the root logger. Call once from main; components derive
// children via With().Str("component", ...).
func Setup(cfg Config) zerolog.Logger {
	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	var w io.Writer = console
	if cfg.Dir != "" && !cfg.NoFile {
		w = zerolog.MultiLevelWriter(console, &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, "jellystream.log"),
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		})
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Nop returns a disabled logger for tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
