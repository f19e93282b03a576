package status

import (
	"encoding/json"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteProducesValidJSON(t *testing.T) {
	dir := t.TempDir()
	statusPath := filepath.Join(dir, "status.json")
	w := NewWriter(statusPath, "", [2]int{})

	snap := Snapshot{
		State:     StateRunning,
		Step:      "upload",
		Message:   "uploading 4/10",
		SessionID: "shoot-2026-07-30_101500_000001",
		Counts:    Counts{Total: 10, Uploaded: 4},
	}
	if err := w.Write(snap); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(statusPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	var got Snapshot
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.State != StateRunning || got.Counts.Uploaded != 4 {
		t.Errorf("got %+v", got)
	}
	if got.UpdatedUnix == 0 {
		t.Error("expected UpdatedUnix to be filled in")
	}
}

func TestWriteProducesValidPNG(t *testing.T) {
	dir := t.TempDir()
	statusPath := filepath.Join(dir, "status.json")
	imagePath := filepath.Join(dir, "status.png")
	w := NewWriter(statusPath, imagePath, [2]int{250, 122})

	snap := Snapshot{State: StateDone, Step: "done", Message: "ready", URL: "https://example.com/share/abc"}
	if err := w.Write(snap); err != nil {
		t.Fatalf("Write: %v", err)
	}

	f, err := os.Open(imagePath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("png.Decode: %v", err)
	}
	if img.Bounds().Dx() != 250 || img.Bounds().Dy() != 122 {
		t.Errorf("image size = %v, want 250x122", img.Bounds())
	}
}

func TestWriteIsAtomicNoPartialFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	statusPath := filepath.Join(dir, "status.json")
	w := NewWriter(statusPath, "", [2]int{})

	if err := w.Write(Snapshot{State: StateIdle}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected exactly one file in %s, got %d", dir, len(entries))
	}
}
