package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.S3Bucket = "example-bucket"
	cfg.BaseOutputDir = filepath.Join(t.TempDir(), "sessions")
	cfg.DBPath = filepath.Join(t.TempDir(), "ingested.sqlite3")
	cfg.StatusPath = filepath.Join(t.TempDir(), "status.json")

	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig should validate once a bucket is set: %v", err)
	}
}

func TestValidateRejectsMissingBucket(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseOutputDir = t.TempDir()
	if err := cfg.Validate(); err == nil {
		t.Error("expected a validation error for an empty s3_bucket")
	}
}

func TestValidateRejectsZeroWorkerPools(t *testing.T) {
	cfg := DefaultConfig()
	cfg.S3Bucket = "example-bucket"
	cfg.BaseOutputDir = t.TempDir()
	cfg.HashWorkers = 0

	if err := cfg.Validate(); err == nil {
		t.Error("expected a validation error for hash_workers=0")
	}
}

func TestValidateRejectsBadQuality(t *testing.T) {
	cfg := DefaultConfig()
	cfg.S3Bucket = "example-bucket"
	cfg.BaseOutputDir = t.TempDir()
	cfg.Share.Quality = 150

	if err := cfg.Validate(); err == nil {
		t.Error("expected a validation error for share.quality > 100")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ghostroll.yaml")

	original := DefaultConfig()
	original.S3Bucket = "roundtrip-bucket"
	original.SDLabel = "MY_CAMERA"

	if err := original.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile: %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if loaded.S3Bucket != original.S3Bucket {
		t.Errorf("S3Bucket = %q, want %q", loaded.S3Bucket, original.S3Bucket)
	}
	if loaded.SDLabel != original.SDLabel {
		t.Errorf("SDLabel = %q, want %q", loaded.SDLabel, original.SDLabel)
	}
	if loaded.Share.MaxLongEdge != original.Share.MaxLongEdge {
		t.Errorf("Share.MaxLongEdge = %d, want %d", loaded.Share.MaxLongEdge, original.Share.MaxLongEdge)
	}
}

func TestLoadFromFileMissingPath(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Error("expected an error for a missing config file")
	}
}
