package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, size int) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestSHA256FileMatchesStdlib(t *testing.T) {
	path := writeTempFile(t, 4096)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := sha256.Sum256(data)

	digest, size, err := SHA256File(path)
	if err != nil {
		t.Fatalf("SHA256File: %v", err)
	}
	if digest != hex.EncodeToString(want[:]) {
		t.Errorf("digest = %q, want %q", digest, hex.EncodeToString(want[:]))
	}
	if size != int64(len(data)) {
		t.Errorf("size = %d, want %d", size, len(data))
	}
}

func TestChunkSizeForScalesWithFileSize(t *testing.T) {
	cases := []struct {
		size int64
		want int
	}{
		{1 << 10, smallChunk},
		{mediumCut + 1, mediumChunk},
		{largeCut + 1, largeChunk},
	}
	for _, c := range cases {
		if got := chunkSizeFor(c.size); got != c.want {
			t.Errorf("chunkSizeFor(%d) = %d, want %d", c.size, got, c.want)
		}
	}
}

func TestSHA256FileMissingPath(t *testing.T) {
	_, _, err := SHA256File(filepath.Join(t.TempDir(), "missing.bin"))
	if err == nil {
		t.Error("expected an error for a missing file")
	}
}
