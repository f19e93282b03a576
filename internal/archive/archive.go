// Package archive packs a session's share derivatives (and, optionally,
// its RAW originals) into deterministic zip files for bulk download.
package archive

import (
	"archive/zip"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
)

// BuildZip writes a deflate-compressed zip of every regular file under
// srcDir into dstPath, with entries stored using their path relative
// to srcDir in sorted order so repeated runs over the same input
// produce byte-identical archives.
func BuildZip(srcDir, dstPath string) (fileCount int, err error) {
	var entries []string
	err = filepath.WalkDir(srcDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(srcDir, path)
		if relErr != nil {
			return relErr
		}
		entries = append(entries, rel)
		return nil
	})
	if err != nil {
		return 0, err
	}
	sort.Strings(entries)

	out, err := os.Create(dstPath)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, rel := range entries {
		if err := addFileToZip(zw, srcDir, rel, ""); err != nil {
			zw.Close()
			return 0, err
		}
	}
	if err := zw.Close(); err != nil {
		return 0, err
	}

	return len(entries), nil
}

// BuildZipFromPaths writes a deflate-compressed zip containing exactly
// the given absolute paths, stored under their path relative to
// srcRoot — used for the raw-originals archive, whose membership is
// the media classifier's RAW set rather than "everything under a
// directory". arcPrefix, when non-empty, is prepended to every entry
// name (e.g. "share" so a zip built from the share derivatives
// directory stores entries as "share/<rel>" rather than bare "<rel>").
func BuildZipFromPaths(srcRoot string, absPaths []string, dstPath, arcPrefix string) (fileCount int, err error) {
	rels := make([]string, 0, len(absPaths))
	for _, p := range absPaths {
		rel, relErr := filepath.Rel(srcRoot, p)
		if relErr != nil {
			return 0, relErr
		}
		rels = append(rels, rel)
	}
	sort.Strings(rels)

	out, err := os.Create(dstPath)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, rel := range rels {
		if err := addFileToZip(zw, srcRoot, rel, arcPrefix); err != nil {
			zw.Close()
			return 0, err
		}
	}
	if err := zw.Close(); err != nil {
		return 0, err
	}

	return len(rels), nil
}

func addFileToZip(zw *zip.Writer, root, rel, arcPrefix string) error {
	src, err := os.Open(filepath.Join(root, rel))
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	name := filepath.ToSlash(rel)
	if arcPrefix != "" {
		name = path.Join(arcPrefix, name)
	}
	header.Name = name
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}
