package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"WARN", slog.LevelWarn, false},
		{" error ", slog.LevelError, false},
		{"verbose", 0, true},
		{"", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseLevel(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseLevel(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseLevel(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func newTestLogger(t *testing.T, lvl slog.Level) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	lg, err := New(Options{App: "test", Level: lvl, JsonFormat: true, Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return lg, &buf
}

func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("unmarshal log line %q: %v", lines[len(lines)-1], err)
	}
	return m
}

func TestInfo_EmitsAppAttrAndKV(t *testing.T) {
	lg, buf := newTestLogger(t, slog.LevelInfo)
	lg.Info(context.Background(), "hello", "bucket", "release-archive")

	m := lastRecord(t, buf)
	if m["app"] != "test" {
		t.Errorf("app = %v, want test", m["app"])
	}
	if m["msg"] != "hello" {
		t.Errorf("msg = %v", m["msg"])
	}
	if m["bucket"] != "release-archive" {
		t.Errorf("bucket = %v", m["bucket"])
	}
}

func TestDebug_SuppressedAtInfoLevel(t *testing.T) {
	lg, buf := newTestLogger(t, slog.LevelInfo)
	lg.Debug(context.Background(), "quiet")
	if buf.Len() != 0 {
		t.Fatalf("debug record emitted at info level: %s", buf.String())
	}
}

func TestWith_AttrsPersistAcrossCalls(t *testing.T) {
	lg, buf := newTestLogger(t, slog.LevelInfo)
	child := lg.With("component", "extractor")
	child.Info(context.Background(), "one")
	child.Info(context.Background(), "two")

	m := lastRecord(t, buf)
	if m["component"] != "extractor" {
		t.Errorf("component = %v", m["component"])
	}
}

func TestWith_DoesNotMutateParent(t *testing.T) {
	lg, buf := newTestLogger(t, slog.LevelInfo)
	_ = lg.With("component", "indexer")
	lg.Info(context.Background(), "parent record")

	m := lastRecord(t, buf)
	if _, ok := m["component"]; ok {
		t.Error("parent logger gained child attribute")
	}
}

func TestError_IncludesErrAndChain(t *testing.T) {
	lg, buf := newTestLogger(t, slog.LevelInfo)
	base := errors.New("connection refused")
	err := fmt.Errorf("download archive: %w", base)
	lg.Error(context.Background(), err, "request failed")

	m := lastRecord(t, buf)
	if m["err"] != "download archive: connection refused" {
		t.Errorf("err = %v", m["err"])
	}
	chain, ok := m["error_chain"].([]any)
	if !ok || len(chain) != 2 {
		t.Fatalf("error_chain = %v", m["error_chain"])
	}
	if chain[1] != "connection refused" {
		t.Errorf("chain root = %v", chain[1])
	}
}

func TestFromContext_FallsBackToNop(t *testing.T) {
	l := FromContext(context.Background())
	if l == nil {
		t.Fatal("FromContext returned nil")
	}
	// must not panic
	l.Info(context.Background(), "ignored")
}

func TestWithContext_RoundTrip(t *testing.T) {
	lg, _ := newTestLogger(t, slog.LevelInfo)
	ctx := WithContext(context.Background(), lg)
	if got := FromContext(ctx); got != lg {
		t.Fatal("FromContext did not return the stored logger")
	}
}
