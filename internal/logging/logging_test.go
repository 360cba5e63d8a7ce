package logging

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPaths(t *testing.T) {
	dir := DefaultLogDir()
	require.NotEmpty(t, dir)
	assert.Contains(t, dir, ".govrag")
	assert.Contains(t, dir, "logs")

	assert.Equal(t, "server.log", filepath.Base(DefaultLogPath()))
	assert.Equal(t, "embeddings.log", filepath.Base(EmbeddingLogPath()))
}

func TestEnsureLogDir(t *testing.T) {
	require.NoError(t, EnsureLogDir())

	info, err := os.Stat(DefaultLogDir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestConfigDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, 10, cfg.MaxSizeMB)
	assert.Equal(t, 5, cfg.MaxFiles)
	assert.True(t, cfg.WriteToStderr)

	assert.Equal(t, "debug", DebugConfig().Level)
}

func TestSetup_EmitsOneJSONLinePerEvent(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "server.log")

	logger, cleanup, err := Setup(Config{
		Level:     "debug",
		FilePath:  logPath,
		MaxSizeMB: 1,
		MaxFiles:  2,
	})
	require.NoError(t, err)
	defer cleanup()

	logger.Info("turn completed", "session_id", "s-42", "turn_id", "t-7")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry))
	assert.Equal(t, "turn completed", entry["msg"])
	assert.Equal(t, "s-42", entry["session_id"])
	assert.Equal(t, "t-7", entry["turn_id"])
	assert.Equal(t, "INFO", entry["level"])
}

func TestSetup_LevelFiltersOutput(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "server.log")

	logger, cleanup, err := Setup(Config{
		Level:     "warn",
		FilePath:  logPath,
		MaxSizeMB: 1,
		MaxFiles:  2,
	})
	require.NoError(t, err)
	defer cleanup()

	logger.Info("suppressed")
	logger.Warn("kept")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "suppressed")
	assert.Contains(t, string(data), "kept")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for name, want := range cases {
		assert.Equal(t, want, ParseLevel(name), "ParseLevel(%q)", name)
	}
}

func TestFindLogFile(t *testing.T) {
	_, err := FindLogFile("/nonexistent/server.log")
	assert.Error(t, err)

	logPath := filepath.Join(t.TempDir(), "server.log")
	require.NoError(t, os.WriteFile(logPath, []byte("x"), 0o644))

	found, err := FindLogFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, logPath, found)
}

func TestFindLogFileBySource(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "server.log")
	require.NoError(t, os.WriteFile(logPath, []byte("x"), 0o644))

	paths, err := FindLogFileBySource(LogSourceGo, logPath)
	require.NoError(t, err)
	assert.Equal(t, []string{logPath}, paths)

	_, err = FindLogFileBySource(LogSourceGo, "/nonexistent/server.log")
	assert.Error(t, err)

	_, err = FindLogFileBySource(LogSource("bogus"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown log source")
}

func TestParseLogSource(t *testing.T) {
	cases := map[string]LogSource{
		"go":         LogSourceGo,
		"embeddings": LogSourceEmbeddings,
		"all":        LogSourceAll,
		"bogus":      LogSourceGo,
		"":           LogSourceGo,
	}
	for input, want := range cases {
		assert.Equal(t, want, ParseLogSource(input), "ParseLogSource(%q)", input)
	}
}

func TestSourceFromPath(t *testing.T) {
	assert.Equal(t, "go", sourceFromPath("/var/log/server.log"))
	assert.Equal(t, "embeddings", sourceFromPath("embeddings.log"))
	assert.Equal(t, "unknown", sourceFromPath("/var/log/other.log"))
}

func writeLogLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

func TestViewer_ParseLine(t *testing.T) {
	v := NewViewer(ViewerConfig{}, &strings.Builder{})

	entry := v.parseLine(`{"time":"2026-01-15T10:30:00Z","level":"INFO","msg":"turn completed","session_id":"s-1"}`)
	require.True(t, entry.IsValid)
	assert.Equal(t, "INFO", entry.Level)
	assert.Equal(t, "turn completed", entry.Msg)
	assert.Equal(t, "s-1", entry.Attrs["session_id"])

	entry = v.parseLine(`{"time":"2026-01-15T10:30:00Z","level":"DEBUG","msg":"embed call","source":"embeddings"}`)
	require.True(t, entry.IsValid)
	assert.Equal(t, "embeddings", entry.Source)

	bad := v.parseLine("not json at all")
	assert.False(t, bad.IsValid)
	assert.Equal(t, "not json at all", bad.Raw)
}

func TestViewer_LevelFilter(t *testing.T) {
	cases := []struct {
		filter string
		level  string
		keep   bool
	}{
		{"info", "INFO", true},
		{"info", "ERROR", true},
		{"info", "DEBUG", false},
		{"warn", "INFO", false},
		{"error", "WARN", false},
		{"", "DEBUG", true},
	}
	for _, tc := range cases {
		v := NewViewer(ViewerConfig{Level: tc.filter}, &strings.Builder{})
		got := v.matchesFilter(LogEntry{IsValid: true, Level: tc.level})
		assert.Equal(t, tc.keep, got, "filter=%q level=%q", tc.filter, tc.level)
	}
}

func TestViewer_PatternFilter(t *testing.T) {
	v := NewViewer(ViewerConfig{Pattern: regexp.MustCompile(`retrieval.*degraded`)}, &strings.Builder{})

	assert.True(t, v.matchesFilter(LogEntry{IsValid: true, Raw: "retrieval degraded to a single source"}))
	assert.False(t, v.matchesFilter(LogEntry{IsValid: true, Raw: "degraded retrieval"}))
}

func TestViewer_FormatEntry(t *testing.T) {
	v := NewViewer(ViewerConfig{NoColor: true}, &strings.Builder{})

	formatted := v.FormatEntry(LogEntry{
		IsValid: true,
		Time:    mustParseTime("2026-01-15T10:30:00Z"),
		Level:   "INFO",
		Msg:     "turn completed",
		Attrs:   map[string]interface{}{"session_id": "s-1"},
	})
	assert.Contains(t, formatted, "10:30:00")
	assert.Contains(t, formatted, "INFO")
	assert.Contains(t, formatted, "turn completed")
	assert.Contains(t, formatted, "session_id=s-1")

	raw := v.FormatEntry(LogEntry{IsValid: false, Raw: "plain line"})
	assert.Equal(t, "plain line", raw)

	withSource := NewViewer(ViewerConfig{NoColor: true, ShowSource: true}, &strings.Builder{})
	formatted = withSource.FormatEntry(LogEntry{
		IsValid: true,
		Time:    mustParseTime("2026-01-15T10:30:00Z"),
		Level:   "INFO",
		Msg:     "embed call",
		Source:  "embeddings",
	})
	assert.Contains(t, formatted, "[embeddings]")
}

func TestViewer_FormatLevelPadsAndTruncates(t *testing.T) {
	v := NewViewer(ViewerConfig{NoColor: true}, &strings.Builder{})

	assert.Equal(t, "DEBUG", v.formatLevel("debug"))
	assert.Equal(t, "INFO ", v.formatLevel("info"))
	assert.Equal(t, "WARNI", v.formatLevel("warning"))
	assert.Equal(t, "[go]", v.formatSource("go"))
}

func TestViewer_Tail(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "server.log")
	writeLogLines(t, logPath,
		`{"time":"2026-01-15T10:00:00Z","level":"DEBUG","msg":"first"}`,
		`{"time":"2026-01-15T10:01:00Z","level":"INFO","msg":"second"}`,
		`{"time":"2026-01-15T10:02:00Z","level":"WARN","msg":"third"}`,
		`{"time":"2026-01-15T10:03:00Z","level":"ERROR","msg":"fourth"}`,
	)

	v := NewViewer(ViewerConfig{}, &strings.Builder{})
	entries, err := v.Tail(logPath, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "third", entries[0].Msg)
	assert.Equal(t, "fourth", entries[1].Msg)

	filtered := NewViewer(ViewerConfig{Level: "error"}, &strings.Builder{})
	entries, err = filtered.Tail(logPath, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "fourth", entries[0].Msg)

	_, err = v.Tail("/nonexistent/server.log", 10)
	assert.Error(t, err)
}

func TestViewer_TailMultipleMergesChronologically(t *testing.T) {
	dir := t.TempDir()
	goLog := filepath.Join(dir, "server.log")
	embLog := filepath.Join(dir, "embeddings.log")
	writeLogLines(t, goLog,
		`{"time":"2026-01-15T10:00:00Z","level":"INFO","msg":"go 1"}`,
		`{"time":"2026-01-15T10:02:00Z","level":"INFO","msg":"go 2"}`,
	)
	writeLogLines(t, embLog,
		`{"time":"2026-01-15T10:01:00Z","level":"INFO","msg":"emb 1"}`,
		`{"time":"2026-01-15T10:03:00Z","level":"INFO","msg":"emb 2"}`,
	)

	v := NewViewer(ViewerConfig{}, &strings.Builder{})
	entries, err := v.TailMultiple([]string{goLog, embLog}, 10)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	var msgs []string
	for _, e := range entries {
		msgs = append(msgs, e.Msg)
	}
	assert.Equal(t, []string{"go 1", "emb 1", "go 2", "emb 2"}, msgs)
}

func TestViewer_Print(t *testing.T) {
	var buf strings.Builder
	v := NewViewer(ViewerConfig{NoColor: true}, &buf)

	v.Print([]LogEntry{
		{IsValid: true, Time: mustParseTime("2026-01-15T10:00:00Z"), Level: "INFO", Msg: "first"},
		{IsValid: true, Time: mustParseTime("2026-01-15T10:01:00Z"), Level: "WARN", Msg: "second"},
	})

	assert.Contains(t, buf.String(), "first")
	assert.Contains(t, buf.String(), "second")
}

func TestRotatingWriter_SyncModes(t *testing.T) {
	line := []byte(`{"time":"2026-01-01T00:00:00Z","level":"INFO","msg":"x"}` + "\n")

	t.Run("immediate sync is readable without close", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "server.log")
		w, err := NewRotatingWriter(logPath, 1, 3)
		require.NoError(t, err)
		defer w.Close()

		n, err := w.Write(line)
		require.NoError(t, err)
		assert.Equal(t, len(line), n)

		content, err := os.ReadFile(logPath)
		require.NoError(t, err)
		assert.Equal(t, string(line), string(content))
	})

	t.Run("deferred sync flushes on Sync", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "server.log")
		w, err := NewRotatingWriter(logPath, 1, 3)
		require.NoError(t, err)
		defer w.Close()

		w.SetImmediateSync(false)
		_, err = w.Write(line)
		require.NoError(t, err)
		require.NoError(t, w.Sync())

		content, err := os.ReadFile(logPath)
		require.NoError(t, err)
		assert.Equal(t, string(line), string(content))
	})
}

func TestRotatingWriter_RotationKeepsBoundedBackups(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "server.log")

	// MaxSizeMB of 0 forces a rotation on every write.
	w, err := NewRotatingWriter(logPath, 0, 2)
	require.NoError(t, err)
	defer w.Close()

	chunk := []byte(strings.Repeat("x", 2048))
	for i := 0; i < 5; i++ {
		_, err = w.Write(chunk)
		require.NoError(t, err)
	}

	_, err = os.Stat(logPath)
	assert.NoError(t, err, "active log file should exist")
	_, err = os.Stat(logPath + ".1")
	assert.NoError(t, err, "first backup should exist")
	_, err = os.Stat(logPath + ".3")
	assert.True(t, os.IsNotExist(err), "backups beyond MaxFiles should be removed")
}

func TestRotatingWriter_CloseAndConcurrency(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "server.log")
	w, err := NewRotatingWriter(logPath, 10, 3)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = w.Write([]byte(fmt.Sprintf(`{"worker":%d,"n":%d}`+"\n", id, j)))
			}
		}(i)
	}
	wg.Wait()
	require.NoError(t, w.Close())

	info, err := os.Stat(logPath)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func mustParseTime(s string) time.Time {
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return ts
}
