// Package qrcode implements the "accept a list of items and a URL"
// QR-encoder collaborator named in the pipeline's external interfaces:
// a high-error-correction PNG suitable for an e-ink display, and a
// half-block ASCII rendering suitable for a terminal or log stream.
package qrcode

import (
	"fmt"
	"os"
	"strings"

	"github.com/skip2/go-qrcode"
)

// WritePNG encodes data at error-correction level H (the level the
// e-ink status display needs headroom for smudges and glare) and
// writes it to outPath as a 12px-per-module PNG with a 4-module quiet
// border, fsyncing before return so a power loss right after ingest
// can't leave a truncated file.
func WritePNG(data, outPath string) error {
	q, err := qrcode.New(data, qrcode.Highest)
	if err != nil {
		return fmt.Errorf("encoding QR code: %w", err)
	}
	q.DisableBorder = false

	const boxSize = 12
	modules := len(q.Bitmap())
	png, err := q.PNG(modules * boxSize)
	if err != nil {
		return fmt.Errorf("rendering QR PNG: %w", err)
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", outPath, err)
	}
	defer f.Close()

	if _, err := f.Write(png); err != nil {
		return fmt.Errorf("writing %s: %w", outPath, err)
	}
	return f.Sync()
}

// RenderASCII renders data at error-correction level M with no quiet
// border, packing two matrix rows into each output line using
// half-block Unicode characters so a QR code fits readably in a
// tailed log stream without a full terminal-sized block per module.
func RenderASCII(data string) (string, error) {
	q, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("encoding QR code: %w", err)
	}
	q.DisableBorder = true

	bitmap := q.Bitmap()
	var b strings.Builder
	for y := 0; y < len(bitmap); y += 2 {
		for x := 0; x < len(bitmap[y]); x++ {
			top := bitmap[y][x]
			bottom := false
			if y+1 < len(bitmap) {
				bottom = bitmap[y+1][x]
			}
			b.WriteRune(halfBlock(top, bottom))
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// halfBlock returns the Unicode block character representing one
// column of two stacked pixels: both dark, both light, or a split.
func halfBlock(top, bottom bool) rune {
	switch {
	case top && bottom:
		return '█'
	case top && !bottom:
		return '▀'
	case !top && bottom:
		return '▄'
	default:
		return ' '
	}
}
