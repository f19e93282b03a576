// Package dedup is the persistent content-fingerprint store backing
// the pipeline's deduplication stage: one row per distinct SHA-256
// ever ingested, and one row per object key ever uploaded.
package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/samjhill/ghostroll/pkg/ghosterr"
	"github.com/samjhill/ghostroll/pkg/retry"
)

const schema = `
CREATE TABLE IF NOT EXISTS ingested_files (
	sha256          TEXT PRIMARY KEY,
	size_bytes      INTEGER NOT NULL,
	first_seen_utc  TEXT NOT NULL,
	source_hint     TEXT
);
CREATE INDEX IF NOT EXISTS idx_ingested_files_first_seen ON ingested_files(first_seen_utc);

CREATE TABLE IF NOT EXISTS uploads (
	s3_key          TEXT PRIMARY KEY,
	local_sha256    TEXT NOT NULL,
	size_bytes      INTEGER NOT NULL,
	uploaded_utc    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_uploads_sha256 ON uploads(local_sha256);
`

// Store wraps a WAL-mode SQLite database tracking ingested files and
// uploaded objects. A single writer goroutine is assumed per process;
// SQLite's own locking combined with the retry wrapper handles the
// occasional busy error from an external reader (e.g. a backup tool).
type Store struct {
	db      *sql.DB
	retryer *retry.Retryer
}

// Open opens (creating if absent) the SQLite database at path in WAL
// mode with relaxed (NORMAL) synchronous durability — fsync at commit
// boundaries rather than on every page write, which is the tradeoff
// the pipeline accepts in exchange for not stalling on each hashed
// file during a multi-thousand-photo import.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("opening dedup store: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer semantics; SQLite serializes anyway

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating dedup schema: %w", err)
	}

	return &Store{
		db:      db,
		retryer: retry.New(retry.LinearConfig()),
	}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// IsIngested reports whether sha256 has already been recorded as
// ingested.
func (s *Store) IsIngested(ctx context.Context, sha256 string) (bool, error) {
	var exists bool
	err := s.withRetry(ctx, func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, `SELECT 1 FROM ingested_files WHERE sha256 = ?`, sha256)
		switch scanErr := row.Scan(new(int)); scanErr {
		case nil:
			exists = true
			return nil
		case sql.ErrNoRows:
			exists = false
			return nil
		default:
			return scanErr
		}
	})
	return exists, err
}

// MarkIngested records sha256 as ingested; a duplicate insert (the
// same file seen twice in one run) is a no-op, not an error.
func (s *Store) MarkIngested(ctx context.Context, sha256 string, sizeBytes int64, sourceHint string) error {
	return s.withRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO ingested_files (sha256, size_bytes, first_seen_utc, source_hint) VALUES (?, ?, ?, ?)`,
			sha256, sizeBytes, nowUTC(), sourceHint)
		return err
	})
}

// IsUploaded reports whether s3Key has already been recorded as
// uploaded.
func (s *Store) IsUploaded(ctx context.Context, s3Key string) (bool, error) {
	var exists bool
	err := s.withRetry(ctx, func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, `SELECT 1 FROM uploads WHERE s3_key = ?`, s3Key)
		switch scanErr := row.Scan(new(int)); scanErr {
		case nil:
			exists = true
			return nil
		case sql.ErrNoRows:
			exists = false
			return nil
		default:
			return scanErr
		}
	})
	return exists, err
}

// MarkUploaded records s3Key as uploaded, associated with the local
// sha256 it was derived from.
func (s *Store) MarkUploaded(ctx context.Context, s3Key, localSHA256 string, sizeBytes int64) error {
	return s.withRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO uploads (s3_key, local_sha256, size_bytes, uploaded_utc) VALUES (?, ?, ?, ?)`,
			s3Key, localSHA256, sizeBytes, nowUTC())
		return err
	})
}

// withRetry wraps fn so transient "database is locked"/"database is
// busy" failures are retried with linear backoff rather than aborting
// the whole run.
func (s *Store) withRetry(ctx context.Context, fn func(context.Context) error) error {
	return s.retryer.Do(ctx, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if isBusy(err) {
			return ghosterr.Wrap(ghosterr.CodeDBBusy, err, "dedup store busy").AsRetryable(true)
		}
		return ghosterr.Wrap(ghosterr.CodeDBCorrupt, err, "dedup store query failed")
	})
}

func isBusy(err error) bool {
	msg := err.Error()
	return contains(msg, "busy") || contains(msg, "locked")
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

func nowUTC() string {
	return timeNow().UTC().Format(time.RFC3339)
}

// timeNow is a seam for tests that need deterministic timestamps; it
// is not itself overridden anywhere in this package today.
var timeNow = time.Now
