package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewIDFormat(t *testing.T) {
	now := time.Date(2026, 7, 30, 10, 15, 0, 123456000, time.UTC)
	id := NewID(now)
	want := "shoot-2026-07-30_101500_123456"
	if id != want {
		t.Errorf("NewID() = %q, want %q", id, want)
	}
}

func TestNewIDDiffersWithinSameSecond(t *testing.T) {
	base := time.Date(2026, 7, 30, 10, 15, 0, 0, time.UTC)
	a := NewID(base)
	b := NewID(base.Add(500 * time.Microsecond))
	if a == b {
		t.Error("two IDs within the same second but different microseconds should differ")
	}
}

func TestCreateBuildsTree(t *testing.T) {
	base := t.TempDir()
	id := "shoot-2026-07-30_101500_000001"

	p, err := Create(base, id)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for _, dir := range []string{p.Originals, p.DCIM, p.Share, p.Thumbs} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("stat %s: %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}

	if want := filepath.Join(base, id, "originals", "DCIM"); p.DCIM != want {
		t.Errorf("DCIM = %q, want %q", p.DCIM, want)
	}
	if want := filepath.Join(base, id, "derived", "share"); p.Share != want {
		t.Errorf("Share = %q, want %q", p.Share, want)
	}
	if want := filepath.Join(base, id, "derived", "thumbs"); p.Thumbs != want {
		t.Errorf("Thumbs = %q, want %q", p.Thumbs, want)
	}
}

func TestSafeRelUnderRejectsEscape(t *testing.T) {
	base := t.TempDir()
	if _, err := SafeRelUnder(base, "../../etc/passwd"); err == nil {
		t.Error("expected an error for a path escaping base")
	}
}

func TestSafeRelUnderRejectsAbsolute(t *testing.T) {
	base := t.TempDir()
	if _, err := SafeRelUnder(base, "/etc/passwd"); err == nil {
		t.Error("expected an error for an absolute rel path")
	}
}

func TestSafeRelUnderAllowsNestedPath(t *testing.T) {
	base := t.TempDir()
	got, err := SafeRelUnder(base, filepath.Join("100CANON", "IMG_0001.JPG"))
	if err != nil {
		t.Fatalf("SafeRelUnder: %v", err)
	}
	want := filepath.Join(base, "100CANON", "IMG_0001.JPG")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
