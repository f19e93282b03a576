package dedup

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "dedup.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMarkIngestedThenIsIngested(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	const sum = "abc123"
	seen, err := s.IsIngested(ctx, sum)
	if err != nil {
		t.Fatalf("IsIngested: %v", err)
	}
	if seen {
		t.Fatal("expected not-yet-seen sha256 to report false")
	}

	if err := s.MarkIngested(ctx, sum, 1024, "DCIM/100CANON/IMG_0001.CR2"); err != nil {
		t.Fatalf("MarkIngested: %v", err)
	}

	seen, err = s.IsIngested(ctx, sum)
	if err != nil {
		t.Fatalf("IsIngested after mark: %v", err)
	}
	if !seen {
		t.Fatal("expected marked sha256 to report true")
	}
}

func TestMarkIngestedTwiceIsNotAnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.MarkIngested(ctx, "dup", 10, "a.jpg"); err != nil {
		t.Fatalf("first MarkIngested: %v", err)
	}
	if err := s.MarkIngested(ctx, "dup", 10, "b.jpg"); err != nil {
		t.Fatalf("second MarkIngested should be a no-op, got: %v", err)
	}
}

func TestMarkUploadedThenIsUploaded(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	const key = "shoot-2026-07-30_101500_000001/share/IMG_0001.jpg"
	uploaded, err := s.IsUploaded(ctx, key)
	if err != nil {
		t.Fatalf("IsUploaded: %v", err)
	}
	if uploaded {
		t.Fatal("expected not-yet-uploaded key to report false")
	}

	if err := s.MarkUploaded(ctx, key, "abc123", 2048); err != nil {
		t.Fatalf("MarkUploaded: %v", err)
	}

	uploaded, err = s.IsUploaded(ctx, key)
	if err != nil {
		t.Fatalf("IsUploaded after mark: %v", err)
	}
	if !uploaded {
		t.Fatal("expected marked key to report true")
	}
}

func TestMarkUploadedReplacesExisting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	const key = "shoot/share/a.jpg"
	if err := s.MarkUploaded(ctx, key, "sha-old", 100); err != nil {
		t.Fatalf("first MarkUploaded: %v", err)
	}
	if err := s.MarkUploaded(ctx, key, "sha-new", 200); err != nil {
		t.Fatalf("second MarkUploaded: %v", err)
	}

	var localSHA string
	row := s.db.QueryRowContext(ctx, `SELECT local_sha256 FROM uploads WHERE s3_key = ?`, key)
	if err := row.Scan(&localSHA); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if localSHA != "sha-new" {
		t.Errorf("local_sha256 = %q, want sha-new", localSHA)
	}
}

func TestReopenPreservesData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dedup.sqlite")
	ctx := context.Background()

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s1.MarkIngested(ctx, "persisted", 1, "x.jpg"); err != nil {
		t.Fatalf("MarkIngested: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen Open: %v", err)
	}
	defer s2.Close()

	seen, err := s2.IsIngested(ctx, "persisted")
	if err != nil {
		t.Fatalf("IsIngested after reopen: %v", err)
	}
	if !seen {
		t.Fatal("expected data to survive reopen")
	}
}

func TestIsBusyRecognizesLockMessages(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"database is locked", true},
		{"database table is busy", true},
		{"no such table: ingested_files", false},
		{"", false},
	}
	for _, c := range cases {
		got := isBusy(errString(c.msg))
		if got != c.want {
			t.Errorf("isBusy(%q) = %v, want %v", c.msg, got, c.want)
		}
	}
}

type errString string

func (e errString) Error() string { return string(e) }
