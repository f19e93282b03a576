package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/samjhill/ghostroll/internal/config"
	"github.com/samjhill/ghostroll/pkg/status"
)

func writeTestJPEG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encoding test jpeg: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("writing test jpeg: %v", err)
	}
}

// fakeDedup is an in-memory stand-in for *internal/dedup.Store.
type fakeDedup struct {
	mu       sync.Mutex
	ingested map[string]bool
	uploaded map[string]bool
}

func newFakeDedup() *fakeDedup {
	return &fakeDedup{ingested: map[string]bool{}, uploaded: map[string]bool{}}
}

func (f *fakeDedup) IsIngested(ctx context.Context, sha256 string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ingested[sha256], nil
}

func (f *fakeDedup) MarkIngested(ctx context.Context, sha256 string, sizeBytes int64, sourceHint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingested[sha256] = true
	return nil
}

func (f *fakeDedup) IsUploaded(ctx context.Context, s3Key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploaded[s3Key], nil
}

func (f *fakeDedup) MarkUploaded(ctx context.Context, s3Key, localSHA256 string, sizeBytes int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploaded[s3Key] = true
	return nil
}

// fakeStore is an in-memory stand-in for *internal/objectstore.Client.
type fakeStore struct {
	mu       sync.Mutex
	uploaded map[string]string // key -> local path
}

func newFakeStore() *fakeStore {
	return &fakeStore{uploaded: map[string]string{}}
}

func (f *fakeStore) Upload(ctx context.Context, localPath, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploaded[key] = localPath
	return nil
}

func (f *fakeStore) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://example.invalid/" + key, nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploaded)
}

var errUploadFailed = &testUploadError{}

type testUploadError struct{}

func (e *testUploadError) Error() string { return "simulated upload failure" }

func testConfig(baseDir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseOutputDir = baseDir
	cfg.S3PrefixRoot = "ghostroll"
	cfg.PresignExpirySeconds = 3600
	cfg.HashWorkers = 2
	cfg.CopyWorkers = 2
	cfg.ProcessWorkers = 2
	cfg.UploadWorkers = 2
	cfg.PresignWorkers = 2
	cfg.Share = config.DerivativeConfig{MaxLongEdge: 400, Quality: 85}
	cfg.Thumb = config.DerivativeConfig{MaxLongEdge: 100, Quality: 80}
	return cfg
}

func TestRunEndToEndUploadsAndPublishesGallery(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "card", "DCIM", "100CANON")
	if err := os.MkdirAll(src, 0o750); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	writeTestJPEG(t, filepath.Join(src, "IMG_0001.JPG"), 800, 400)
	writeTestJPEG(t, filepath.Join(src, "IMG_0002.JPG"), 800, 400)

	dedupStore := newFakeDedup()
	store := newFakeStore()
	cfg := testConfig(filepath.Join(root, "sessions"))

	deps := Deps{
		Config: cfg,
		Dedup:  dedupStore,
		Store:  store,
		Status: status.NewWriter(filepath.Join(root, "status.json"), "", [2]int{0, 0}),
	}

	result, err := Run(context.Background(), deps, filepath.Join(root, "card"), "EOS_DIGITAL")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.NoOp {
		t.Fatal("expected a real run, got NoOp")
	}
	if result.Counts.Hashed != 2 {
		t.Errorf("Hashed = %d, want 2", result.Counts.Hashed)
	}
	if result.Counts.Copied != 2 {
		t.Errorf("Copied = %d, want 2", result.Counts.Copied)
	}
	if result.Counts.Rendered != 2 {
		t.Errorf("Rendered = %d, want 2", result.Counts.Rendered)
	}
	if result.GalleryURL == "" {
		t.Error("expected a non-empty gallery URL")
	}

	// Two share + two thumb derivatives, one share.zip, one index.html,
	// and the shipped run.log.
	if store.count() != 7 {
		t.Errorf("uploaded object count = %d, want 7", store.count())
	}

	if _, err := os.Stat(filepath.Join(result.Paths.Root, "index.html")); err != nil {
		t.Errorf("local gallery not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(result.Paths.Root, "share.txt")); err != nil {
		t.Errorf("share.txt not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(result.Paths.Root, "share-qr.png")); err != nil {
		t.Errorf("share-qr.png not written: %v", err)
	}
}

func TestRunIsNoOpWhenNoMediaFound(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "card")
	if err := os.MkdirAll(src, 0o750); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "readme.txt"), []byte("not media"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg := testConfig(filepath.Join(root, "sessions"))
	deps := Deps{Config: cfg, Dedup: newFakeDedup(), Store: newFakeStore()}

	result, err := Run(context.Background(), deps, src, "EOS_DIGITAL")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.NoOp {
		t.Error("expected NoOp for a card with no recognized media")
	}
	if _, err := os.Stat(filepath.Join(root, "sessions")); err == nil {
		t.Error("expected no session directory to be created for a no-op run")
	}
}

// TestRunSkipsAlreadyIngestedFiles re-runs over a card that has gained
// one new file since the first pass: the file seen before must be
// counted as deduplicated, not recopied, while the genuinely new file
// still goes through ingest.
func TestRunSkipsAlreadyIngestedFiles(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "card", "DCIM")
	if err := os.MkdirAll(src, 0o750); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	imgPath := filepath.Join(src, "IMG_0001.JPG")
	writeTestJPEG(t, imgPath, 200, 200)

	dedupStore := newFakeDedup()
	store := newFakeStore()
	cfg := testConfig(filepath.Join(root, "sessions"))
	deps := Deps{Config: cfg, Dedup: dedupStore, Store: store}

	result, err := Run(context.Background(), deps, filepath.Join(root, "card"), "EOS_DIGITAL")
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if result.Counts.Copied != 1 {
		t.Fatalf("first run Copied = %d, want 1", result.Counts.Copied)
	}

	writeTestJPEG(t, filepath.Join(src, "IMG_0002.JPG"), 200, 200)

	result2, err := Run(context.Background(), deps, filepath.Join(root, "card"), "EOS_DIGITAL")
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if result2.NoOp {
		t.Fatal("expected a real run since one new file was added")
	}
	if result2.Counts.Deduplicated != 1 {
		t.Errorf("second run Deduplicated = %d, want 1", result2.Counts.Deduplicated)
	}
	if result2.Counts.Copied != 1 {
		t.Errorf("second run Copied = %d, want 1 (only the new file)", result2.Counts.Copied)
	}
}

// TestRunIsNoOpWhenEveryFileAlreadyIngested covers the boundary where
// discovery finds files but every one of them was already ingested by
// a prior run: no second session directory should be created.
func TestRunIsNoOpWhenEveryFileAlreadyIngested(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "card", "DCIM")
	if err := os.MkdirAll(src, 0o750); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	writeTestJPEG(t, filepath.Join(src, "IMG_0001.JPG"), 200, 200)

	dedupStore := newFakeDedup()
	store := newFakeStore()
	cfg := testConfig(filepath.Join(root, "sessions"))
	deps := Deps{Config: cfg, Dedup: dedupStore, Store: store}

	if _, err := Run(context.Background(), deps, filepath.Join(root, "card"), "EOS_DIGITAL"); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	entriesBefore, err := os.ReadDir(filepath.Join(root, "sessions"))
	if err != nil {
		t.Fatalf("ReadDir sessions: %v", err)
	}

	result2, err := Run(context.Background(), deps, filepath.Join(root, "card"), "EOS_DIGITAL")
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if !result2.NoOp {
		t.Error("expected NoOp when every discovered file was already ingested")
	}

	entriesAfter, err := os.ReadDir(filepath.Join(root, "sessions"))
	if err != nil {
		t.Fatalf("ReadDir sessions: %v", err)
	}
	if len(entriesAfter) != len(entriesBefore) {
		t.Errorf("session count changed from %d to %d on an all-known re-run", len(entriesBefore), len(entriesAfter))
	}
}

// TestRunAlwaysCreateSessionForcesSessionOnAllKnown verifies
// Deps.AlwaysCreateSession overrides the no-op decision even when
// every discovered file was already ingested.
func TestRunAlwaysCreateSessionForcesSessionOnAllKnown(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "card", "DCIM")
	if err := os.MkdirAll(src, 0o750); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	writeTestJPEG(t, filepath.Join(src, "IMG_0001.JPG"), 200, 200)

	dedupStore := newFakeDedup()
	store := newFakeStore()
	cfg := testConfig(filepath.Join(root, "sessions"))
	deps := Deps{Config: cfg, Dedup: dedupStore, Store: store}

	if _, err := Run(context.Background(), deps, filepath.Join(root, "card"), "EOS_DIGITAL"); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	deps.AlwaysCreateSession = true
	result2, err := Run(context.Background(), deps, filepath.Join(root, "card"), "EOS_DIGITAL")
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if result2.NoOp {
		t.Error("expected AlwaysCreateSession to force a real run even with zero new files")
	}
	if result2.Counts.Deduplicated != 1 {
		t.Errorf("second run Deduplicated = %d, want 1", result2.Counts.Deduplicated)
	}
	if result2.Counts.Copied != 0 {
		t.Errorf("second run Copied = %d, want 0", result2.Counts.Copied)
	}
}

func TestRunFailsFatallyWhenUploadNeverSucceeds(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "card", "DCIM")
	if err := os.MkdirAll(src, 0o750); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	writeTestJPEG(t, filepath.Join(src, "IMG_0001.JPG"), 200, 200)

	cfg := testConfig(filepath.Join(root, "sessions"))
	deps := Deps{Config: cfg, Dedup: newFakeDedup(), Store: &alwaysFailingStore{}}

	_, err := Run(context.Background(), deps, filepath.Join(root, "card"), "EOS_DIGITAL")
	if err == nil {
		t.Fatal("expected a fatal error when every upload attempt fails")
	}
}

type alwaysFailingStore struct{}

func (a *alwaysFailingStore) Upload(ctx context.Context, localPath, key string) error {
	return errUploadFailed
}

func (a *alwaysFailingStore) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "", errUploadFailed
}
