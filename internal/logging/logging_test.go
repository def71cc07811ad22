package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigureLevel(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	m := newManager(&buf)
	if err := m.Configure(slog.LevelWarn, ""); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	log := m.Logger("ble")
	log.Info("hidden")
	log.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record written at warn level")
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "component=ble") {
		t.Errorf("warn record missing or untagged: %q", out)
	}
}

func TestConfigureLogFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "kv4p.log")
	m := newManager(&buf)
	if err := m.Configure(slog.LevelDebug, path); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	slog.Debug("to both")
	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "to both") {
		t.Errorf("log file = %q, want the record", data)
	}
	if !strings.Contains(buf.String(), "to both") {
		t.Errorf("stderr = %q, want the record", buf.String())
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestFanoutWriterToleratesOneFailure(t *testing.T) {
	var buf bytes.Buffer
	w := newFanoutWriter(failingWriter{}, &buf)

	n, err := w.Write([]byte("record"))
	if err != nil || n != 6 {
		t.Fatalf("Write() = %d, %v, want 6, nil", n, err)
	}
	if buf.String() != "record" {
		t.Errorf("buffer = %q", buf.String())
	}

	if _, err := newFanoutWriter(failingWriter{}).Write([]byte("x")); err == nil {
		t.Error("Write() should fail when every destination fails")
	}
}
