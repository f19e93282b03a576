package qrcode

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWritePNGProducesNonEmptyFile(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "share-qr.png")
	if err := WritePNG("https://example.com/share/abc123", dst); err != nil {
		t.Fatalf("WritePNG: %v", err)
	}

	info, err := os.Stat(dst)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() == 0 {
		t.Error("expected a non-empty PNG file")
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data[:4]) != "\x89PNG" {
		t.Error("file does not start with the PNG magic bytes")
	}
}

func TestRenderASCIIProducesMultilineOutput(t *testing.T) {
	out, err := RenderASCII("https://example.com/share/abc123")
	if err != nil {
		t.Fatalf("RenderASCII: %v", err)
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) < 5 {
		t.Errorf("expected a multi-row ASCII QR code, got %d lines", len(lines))
	}
	if out == "" {
		t.Error("expected non-empty ASCII output")
	}
}

func TestHalfBlockMapping(t *testing.T) {
	cases := []struct {
		top, bottom bool
		want        rune
	}{
		{true, true, '█'},
		{true, false, '▀'},
		{false, true, '▄'},
		{false, false, ' '},
	}
	for _, c := range cases {
		if got := halfBlock(c.top, c.bottom); got != c.want {
			t.Errorf("halfBlock(%v, %v) = %q, want %q", c.top, c.bottom, got, c.want)
		}
	}
}
