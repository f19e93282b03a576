package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewSessionLoggerWritesToFile(t *testing.T) {
	dir := t.TempDir()
	logger, closer, err := NewSessionLogger(dir, slog.LevelInfo, "session_id", "shoot-test")
	if err != nil {
		t.Fatalf("NewSessionLogger: %v", err)
	}
	defer closer()

	logger.Info("volume mounted", "volume", "/Volumes/EOS_DIGITAL")

	if err := closer(); err != nil {
		t.Fatalf("closer: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "run.log"))
	if err != nil {
		t.Fatalf("reading run.log: %v", err)
	}

	got := string(data)
	if !strings.Contains(got, "volume mounted") {
		t.Errorf("run.log missing message: %q", got)
	}
	if !strings.Contains(got, "shoot-test") {
		t.Errorf("run.log missing session_id attribute: %q", got)
	}
}

func TestNewSessionLoggerErrorsOnBadDir(t *testing.T) {
	_, _, err := NewSessionLogger(filepath.Join(t.TempDir(), "does", "not", "exist"), slog.LevelInfo)
	if err == nil {
		t.Error("expected an error opening run.log under a missing directory")
	}
}
