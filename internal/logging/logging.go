package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config controls the server's log output.
type Config struct {
	// Level is the minimum level emitted. It shares the
	// debug/info/warn/error vocabulary of the server.log_level setting.
	Level string

	// FilePath is the log file location, rotated in place once it grows
	// past MaxSizeMB with MaxFiles numbered backups kept.
	FilePath  string
	MaxSizeMB int
	MaxFiles  int

	// WriteToStderr mirrors every line to stderr in addition to the file.
	WriteToStderr bool
}

// DefaultConfig logs at info to the default server log file, mirrored to
// stderr.
func DefaultConfig() Config {
	return Config{
		Level:         "info",
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}
}

// DebugConfig is DefaultConfig at debug level, for the --debug flag.
func DebugConfig() Config {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	return cfg
}

// Setup opens the rotating log file and returns a JSON slog.Logger over it,
// plus a cleanup that flushes and closes the file.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	if err := EnsureLogDir(); err != nil {
		return nil, nil, err
	}
	writer, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
	if err != nil {
		return nil, nil, err
	}

	var out io.Writer = writer
	if cfg.WriteToStderr {
		out = io.MultiWriter(writer, os.Stderr)
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
	}))

	cleanup := func() {
		_ = writer.Sync()
		_ = writer.Close()
	}
	return logger, cleanup, nil
}

// levelNames maps the level vocabulary shared by server.log_level and the
// viewer's --level filter to slog levels. "warning" is accepted as an alias
// so a hand-typed filter flag behaves.
var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ParseLevel maps a level name to its slog.Level. Unrecognised names fall
// back to info, the same default config validation applies.
func ParseLevel(name string) slog.Level {
	if lvl, ok := levelNames[strings.ToLower(name)]; ok {
		return lvl
	}
	return slog.LevelInfo
}
