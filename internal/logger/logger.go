package logger

import (
	"log/slog"
	"os"

	"kb-search-platform/internal/config"
)

// Logger is the process-wide structured logger. It defaults to JSON at info
// level so packages can log before InitLogger tightens the configuration.
var Logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// InitLogger reconfigures the process logger from the runtime config. Debug
// mode lowers the level and stamps records with their source location.
func InitLogger(cfg *config.Config) {
	level := slog.LevelInfo
	if cfg.GinMode == "debug" {
		level = slog.LevelDebug
	}

	Logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.GinMode == "debug",
	}))
	Logger.Info("Structured logging initialized", "level", level.String())
}

func Info(msg string, args ...any)  { Logger.Info(msg, args...) }
func Warn(msg string, args ...any)  { Logger.Warn(msg, args...) }
func Error(msg string, args ...any) { Logger.Error(msg, args...) }
func Debug(msg string, args ...any) { Logger.Debug(msg, args...) }
