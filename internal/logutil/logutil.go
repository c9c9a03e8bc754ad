// Package logutil configures the structured logger used by the engine and its CLI.
package logutil

import (
	"io"
	"log/slog"
	"path/filepath"
)

// LevelTrace is below debug; tuning candidates are logged at this level.
const LevelTrace slog.Level = slog.LevelDebug - 4

// NewLogger returns a text logger writing to w at level, rendering LevelTrace as TRACE
// and trimming source paths to their base name.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.LevelKey:
				if lvl, ok := attr.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					attr.Value = slog.StringValue("TRACE")
				}
			case slog.SourceKey:
				if source, ok := attr.Value.Any().(*slog.Source); ok {
					source.File = filepath.Base(source.File)
				}
			}
			return attr
		},
	}))
}
