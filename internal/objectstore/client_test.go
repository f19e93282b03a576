package objectstore

import (
	stderr "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samjhill/ghostroll/pkg/ghosterr"
)

func TestDetectContentType(t *testing.T) {
	cases := map[string]string{
		"a/b/share.jpg":    "image/jpeg",
		"a/thumb.jpeg":     "image/jpeg",
		"index.html":       "text/html",
		"share.zip":        "application/zip",
		"share.txt":        "text/plain",
		"status.json":      "application/json",
		"weird.unknownext": "application/octet-stream",
	}
	for key, want := range cases {
		assert.Equal(t, want, detectContentType(key), "detectContentType(%q)", key)
	}
}

func TestTranslateErrorCategorizesAccessDenied(t *testing.T) {
	err := translateError(stderr.New("AccessDenied: permission denied"), "Upload", "k", "b")
	var ge *ghosterr.Error
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, ghosterr.CodePermissionDenied, ge.Code)
	assert.False(t, ge.Retryable, "permission errors should not be retryable")
}

func TestTranslateErrorCategorizesNetworkError(t *testing.T) {
	err := translateError(stderr.New("dial tcp: connection refused"), "Upload", "k", "b")
	var ge *ghosterr.Error
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, ghosterr.CodeNetworkError, ge.Code)
	assert.True(t, ge.Retryable, "network errors should be retryable")
}

func TestTranslateErrorFallsBackToUploadFailed(t *testing.T) {
	err := translateError(stderr.New("some unrecognized failure"), "Upload", "k", "b")
	var ge *ghosterr.Error
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, ghosterr.CodeUploadFailed, ge.Code)
}

func TestDefaultConfigMatchesTeacherDefaults(t *testing.T) {
	cfg := DefaultConfig("my-bucket", "us-west-2")
	assert.Equal(t, int64(100*1024*1024), cfg.MultipartThreshold, "MultipartThreshold")
	assert.Equal(t, int64(8*1024*1024), cfg.MultipartChunkSize, "MultipartChunkSize")
	assert.Equal(t, 8, cfg.PoolSize, "PoolSize")
}
