package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"skoll/internal/config"
)

// Setup configures the global zerolog logger: console output always, plus
// a size-rotated file when one is configured.
func Setup(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var w io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	if cfg.Logging.File != "" {
		w = io.MultiWriter(w, &lumberjack.Logger{
			Filename:   cfg.Logging.File,
			MaxSize:    cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAge:     cfg.Logging.MaxAgeDays,
			Compress:   true,
		})
	}
	log.Logger = zerolog.New(w).Level(level).With().Timestamp().Logger()
}
