package logging

import (
	"log/slog"
	"os"

	"gorm.io/gorm"
)

// Setup installs the JSON stdout logger and returns its handler so later sinks
// can be chained onto it.
func Setup(appEnv string) slog.Handler {
	level := slog.LevelInfo
	if appEnv == "development" {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
	return handler
}

// AttachDB makes ERROR records also land in system_logs. Stop the returned
// handler on shutdown to flush what is buffered.
func AttachDB(base slog.Handler, db *gorm.DB) *PGHandler {
	pg := NewPGHandler(db)
	slog.SetDefault(slog.New(NewMultiHandler(base, pg)))
	return pg
}
