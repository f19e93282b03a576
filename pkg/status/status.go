// Package status publishes the pipeline's current state to a JSON
// snapshot and an optional e-ink-friendly 1-bit PNG, both written
// atomically (write-to-temp, then rename) so a reader never observes a
// partially written file.
package status

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// State is the pipeline's coarse-grained tagged state; a run is always
// in exactly one of these, unlike the teacher's multi-operation
// tracker which allowed several concurrent named operations.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateError   State = "error"
	StateDone    State = "done"
)

// Counts summarizes per-stage progress for the current run.
type Counts struct {
	Total        int `json:"total"`
	Hashed       int `json:"hashed"`
	Copied       int `json:"copied"`
	Rendered     int `json:"rendered"`
	RenderFailed int `json:"render_failed"`
	Uploaded     int `json:"uploaded"`
	UploadFailed int `json:"upload_failed"`
	Presigned    int `json:"presigned"`
	Deduplicated int `json:"deduplicated"`
}

// Snapshot is the complete status document written to status.json.
type Snapshot struct {
	State       State  `json:"state"`
	Step        string `json:"step"`
	Message     string `json:"message"`
	SessionID   string `json:"session_id,omitempty"`
	Volume      string `json:"volume,omitempty"`
	Counts      Counts `json:"counts"`
	URL         string `json:"url,omitempty"`
	UpdatedUnix int64  `json:"updated_unix"`
}

// Writer publishes Snapshots to disk. Every Write rewrites status.json
// and, when an image path is set, the PNG; it does no debouncing, so
// callers decide how often to write.
type Writer struct {
	statusPath string
	imagePath  string
	imageSize  [2]int

	mu sync.Mutex
}

// NewWriter creates a Writer targeting statusPath for JSON and, if
// imagePath is non-empty, imagePath for the rendered PNG.
func NewWriter(statusPath, imagePath string, imageSize [2]int) *Writer {
	return &Writer{
		statusPath: statusPath,
		imagePath:  imagePath,
		imageSize:  imageSize,
	}
}

// Write persists snap as the current status: status.json always, and
// the PNG if an image path was configured. Concurrent callers (upload
// and presign stages can both report progress at once) are serialized
// so two writers never race on the same temp-file name.
func (w *Writer) Write(snap Snapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if snap.UpdatedUnix == 0 {
		snap.UpdatedUnix = time.Now().Unix()
	}

	if err := w.writeJSON(snap); err != nil {
		return err
	}
	if w.imagePath != "" {
		if err := w.writeImage(snap); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeJSON(snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling status: %w", err)
	}
	return atomicWrite(w.statusPath, data)
}

func (w *Writer) writeImage(snap Snapshot) error {
	width, height := w.imageSize[0], w.imageSize[1]
	if width <= 0 || height <= 0 {
		width, height = 250, 122
	}

	img := image.NewPaletted(image.Rect(0, 0, width, height), color.Palette{color.White, color.Black})
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	lines := []string{
		fmt.Sprintf("state: %s", snap.State),
		fmt.Sprintf("session: %s", snap.SessionID),
		fmt.Sprintf("step: %s", snap.Step),
		snap.Message,
		fmt.Sprintf("%d/%d uploaded", snap.Counts.Uploaded, snap.Counts.Total),
	}
	if snap.URL != "" {
		lines = append(lines, "url ready")
	}

	face := basicfont.Face7x13
	y := face.Metrics().Ascent.Ceil() + 2
	lineHeight := face.Metrics().Height.Ceil() + 2
	for _, line := range lines {
		drawLine(img, face, line, 4, y)
		y += lineHeight
	}

	var buf []byte
	bw := &byteWriter{buf: &buf}
	if err := png.Encode(bw, img); err != nil {
		return fmt.Errorf("encoding status PNG: %w", err)
	}
	return atomicWrite(w.imagePath, buf)
}

func drawLine(dst draw.Image, face font.Face, text string, x, y int) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.Black),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

// byteWriter adapts a []byte accumulator to io.Writer for png.Encode.
type byteWriter struct {
	buf *[]byte
}

func (b *byteWriter) Write(p []byte) (int, error) {
	*b.buf = append(*b.buf, p...)
	return len(p), nil
}

// atomicWrite writes data to a temp file in the same directory as
// path, then renames it into place, so a reader (the gallery server,
// the e-ink refresher) never observes a partially written file.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".status-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}
