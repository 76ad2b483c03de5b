package obslog

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestJSONToConsole(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Level: "info", Format: "json", Console: true}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	l.Debug("hidden")
	l.Info("match_create", zap.Int64("game_id", 7))
	_ = l.Sync()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("want one line, got %q", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["msg"] != "match_create" || rec["level"] != "info" || rec["game_id"] != float64(7) {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestFileTee(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "checkmate.log")
	l, err := New(Options{Level: "debug", Format: "legacy", File: path}, nil)
	if err != nil {
		t.Fatal(err)
	}
	l.Debug("rating_apply")
	_ = l.Sync()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "DEBUG | ") || !strings.Contains(string(b), "rating_apply") {
		t.Fatalf("unexpected file contents %q", b)
	}
}

func TestNoSinksIsNop(t *testing.T) {
	l, err := New(Options{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if l.Core().Enabled(zapcore.ErrorLevel) {
		t.Fatal("expected a no-op logger")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARNING": zapcore.WarnLevel,
		" error ": zapcore.ErrorLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
