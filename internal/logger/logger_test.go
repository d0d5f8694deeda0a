package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestNewDefaultsToStderrText(t *testing.T) {
	l, closer, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer closer()
	if l == nil {
		t.Fatal("expected a non-nil logger")
	}
}

func TestNewJSONFormatWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	l, closer, err := New(Config{Format: "json", Output: path, Level: "debug"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	l.Info("hello", "key", "value")
	if err := closer(); err != nil {
		t.Fatalf("closer() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !bytes.Contains(data, []byte(`"msg":"hello"`)) {
		t.Fatalf("expected JSON output to contain the message, got %s", data)
	}
}

func TestParseLevelRecognizesAllLevels(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
