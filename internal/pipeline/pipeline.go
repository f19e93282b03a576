// Package pipeline orchestrates one ingest run end to end: discover
// media on a freshly mounted card, dedup and copy originals, render
// share/thumbnail derivatives, pack archives, upload everything to the
// object store, and publish a presigned gallery — stages S0 through
// S6. Hashing, copying, rendering, uploading and presigning each run on
// a bounded worker pool sized from config.Config.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/samjhill/ghostroll/internal/archive"
	"github.com/samjhill/ghostroll/internal/config"
	"github.com/samjhill/ghostroll/internal/gallery"
	"github.com/samjhill/ghostroll/internal/hashutil"
	"github.com/samjhill/ghostroll/internal/logging"
	"github.com/samjhill/ghostroll/internal/logship"
	"github.com/samjhill/ghostroll/internal/media"
	"github.com/samjhill/ghostroll/internal/metrics"
	"github.com/samjhill/ghostroll/internal/qrcode"
	"github.com/samjhill/ghostroll/internal/render"
	"github.com/samjhill/ghostroll/internal/session"
	"github.com/samjhill/ghostroll/pkg/ghosterr"
	"github.com/samjhill/ghostroll/pkg/retry"
	"github.com/samjhill/ghostroll/pkg/status"
)

// Dedup is the content-fingerprint store capability pipeline needs;
// satisfied by *internal/dedup.Store.
type Dedup interface {
	IsIngested(ctx context.Context, sha256 string) (bool, error)
	MarkIngested(ctx context.Context, sha256 string, sizeBytes int64, sourceHint string) error
	IsUploaded(ctx context.Context, s3Key string) (bool, error)
	MarkUploaded(ctx context.Context, s3Key, localSHA256 string, sizeBytes int64) error
}

// Store is the object-store capability pipeline needs; satisfied by
// *internal/objectstore.Client.
type Store interface {
	Upload(ctx context.Context, localPath, key string) error
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Deps bundles the collaborators one Run needs. A Deps value is shared
// across every run a supervisor launches; only the per-run state lives
// in run.
type Deps struct {
	Config  *config.Config
	Dedup   Dedup
	Store   Store
	Status  *status.Writer
	Metrics *metrics.Collector
	Logger  *slog.Logger

	// StatusInterval caps how often mid-stage progress is published to
	// Status while a stage's worker pool is still running; it does not
	// affect the once-per-stage-transition publishes. Defaults to
	// 750ms, matching the display refresh rate the status PNG targets.
	StatusInterval time.Duration

	// AlwaysCreateSession forces a session directory to be created
	// even when every discovered file was already ingested by a prior
	// run. Default false matches a card full of nothing new being a
	// silent no-op.
	AlwaysCreateSession bool
}

// Result summarizes a completed run for the caller (the supervisor and
// its logs); NoOp is set when discovery found no new media (none at
// all, or every file already ingested) and AlwaysCreateSession is
// false, in which case no session directory was created.
type Result struct {
	SessionID  string
	Paths      session.Paths
	Counts     status.Counts
	GalleryURL string
	NoOp       bool
}

// fileRecord tracks one discovered source file through fingerprinting,
// ingest, and upload.
type fileRecord struct {
	absSrc   string
	relPath  string
	sha256   string
	size     int64
	dedupHit bool
}

// run holds the mutable state of a single ingest pass; Deps is
// read-only shared configuration, everything else here is private to
// this run.
type run struct {
	deps   Deps
	id     string
	volume string
	paths  session.Paths
	logger *slog.Logger

	mu     sync.Mutex
	counts status.Counts

	throttle throttle
}

// Run executes one complete ingest pass over sourceRoot (the mounted
// card's media root, e.g. its DCIM parent) and returns once every
// stage has either completed or failed fatally. volumeLabel is the
// detected volume's label, carried through only for status reporting.
//
// Every discovered file is hashed and checked against the dedup store
// before any session directory exists: if nothing new turns up and
// Deps.AlwaysCreateSession is false, Run returns a NoOp result without
// ever creating a session (§8's "discovered files all known" boundary
// behavior), matching the zero-discovered-files case with the same
// decision point rather than a separate early return.
func Run(ctx context.Context, deps Deps, sourceRoot, volumeLabel string) (Result, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	groups, err := discover(sourceRoot)
	if err != nil {
		return Result{}, ghosterr.Wrap(ghosterr.CodeNoDCIM, err, "scanning source media root "+sourceRoot)
	}

	total := countFiles(groups)
	writeStatus(deps, deps.Logger, status.Snapshot{
		State:   status.StateRunning,
		Step:    "scan",
		Message: fmt.Sprintf("found %d files", total),
		Volume:  volumeLabel,
		Counts:  status.Counts{Total: total},
	})

	dcimDir := filepath.Join(sourceRoot, "DCIM")
	records, byPath, newCount, err := fingerprintAll(ctx, deps, groups, dcimDir)
	if err != nil {
		return Result{}, err
	}

	if newCount == 0 && !deps.AlwaysCreateSession {
		deps.Logger.Info("no new media on card, nothing to do",
			"volume", volumeLabel, "discovered", total, "skipped", total)
		writeStatus(deps, deps.Logger, status.Snapshot{
			State:   status.StateIdle,
			Step:    "noop",
			Message: "no new files detected",
			Volume:  volumeLabel,
			Counts:  status.Counts{Total: total, Hashed: total, Deduplicated: total},
		})
		return Result{NoOp: true}, nil
	}

	id := session.NewID(time.Now())
	paths, err := session.Create(deps.Config.BaseOutputDir, id)
	if err != nil {
		return Result{}, ghosterr.Wrap(ghosterr.CodeInternal, err, "creating session directory").WithSession(id)
	}

	logger, closeLog, err := logging.NewSessionLogger(paths.Root, slog.LevelInfo, "session", id, "volume", volumeLabel)
	if err != nil {
		return Result{}, ghosterr.Wrap(ghosterr.CodeInternal, err, "opening run log").WithSession(id)
	}
	defer closeLog()

	r := &run{deps: deps, id: id, volume: volumeLabel, paths: paths, logger: logger}
	r.counts.Total = total
	r.counts.Hashed = total
	r.counts.Deduplicated = total - newCount

	var shipper *logship.Shipper
	if deps.Store != nil {
		runLogPath := filepath.Join(paths.Root, "run.log")
		shipper = logship.New(deps.Store, runLogPath, objectKey(deps.Config, id, "run.log"), 30*time.Second, logger)
		shipper.Start(ctx)
		defer shipper.Stop()
	}

	result, runErr := r.execute(ctx, groups, records, byPath)
	if runErr != nil {
		r.publish(status.StateError, "error", runErr.Error())
		return result, runErr
	}

	if shipper != nil {
		if err := shipper.UploadNow(ctx); err != nil {
			logger.Warn("final log upload failed", "error", err)
		}
	}
	r.publish(status.StateDone, "done", "ingest complete")
	return result, nil
}

func (r *run) execute(ctx context.Context, groups []media.Group, records []*fileRecord, byPath map[string]*fileRecord) (Result, error) {
	r.publish(status.StateRunning, "ingest", "copying originals")
	if err := r.ingest(ctx, records); err != nil {
		return Result{}, err
	}

	r.publish(status.StateRunning, "process", "rendering derivatives")
	items, shareFiles := r.derive(ctx, groups, byPath)

	if err := r.writeLocalGallery(items); err != nil {
		r.logger.Warn("writing local gallery failed", "error", err)
	}

	var rawFiles []string
	if r.deps.Config.BuildRawArchive {
		rawFiles = rawOriginals(groups, byPath)
	}

	r.publish(status.StateRunning, "upload", "packing and uploading")
	uploaded, err := r.packAndUpload(ctx, shareFiles, rawFiles)
	if err != nil {
		return Result{}, err
	}

	r.publish(status.StateRunning, "presign", "publishing gallery")
	url, err := r.publish6(ctx, items, uploaded)
	if err != nil {
		return Result{}, err
	}

	return Result{
		SessionID:  r.id,
		Paths:      r.paths,
		Counts:     r.snapshotCounts(),
		GalleryURL: url,
	}, nil
}

// discover walks sourceRoot once and groups recognized media files by
// (directory, filename stem) so a RAW+JPEG pair from the same shutter
// press is treated as one logical capture.
func discover(sourceRoot string) ([]media.Group, error) {
	var paths []string
	err := filepath.WalkDir(sourceRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return media.PairPreferJPEG(paths), nil
}

func countFiles(groups []media.Group) int {
	n := 0
	for _, g := range groups {
		n += len(g.Files)
	}
	return n
}

// fingerprintAll hashes every discovered file and checks it against
// the ingested-files dedup store, bounded by HashWorkers. It runs
// before any session directory exists — mirroring the Python
// pipeline's decide-before-create ordering — so its progress
// publishes carry no session ID and its stage timings go straight
// through deps.Metrics rather than a run's bound helpers.
//
// rec.relPath is rebased on dcimDir, not the card's mount root, so
// downstream stages that join it onto a session subtree (originals,
// derived/share, derived/thumbs) never double up the "DCIM" segment.
func fingerprintAll(ctx context.Context, deps Deps, groups []media.Group, dcimDir string) (all []*fileRecord, byPath map[string]*fileRecord, newCount int, err error) {
	for _, g := range groups {
		for _, f := range g.Files {
			rel, relErr := filepath.Rel(dcimDir, f)
			if relErr != nil {
				rel = filepath.Base(f)
			}
			all = append(all, &fileRecord{absSrc: f, relPath: rel})
		}
	}
	total := len(all)

	var mu sync.Mutex
	var hashed int
	var th throttle

	publish := func() {
		if !th.ready(deps.StatusInterval) {
			return
		}
		mu.Lock()
		h, n := hashed, newCount
		mu.Unlock()
		writeStatus(deps, deps.Logger, status.Snapshot{
			State:   status.StateRunning,
			Step:    "scan",
			Message: fmt.Sprintf("%d/%d hashed", h, total),
			Counts:  status.Counts{Total: total, Hashed: h, Deduplicated: h - n},
		})
	}

	poolErr := runPool(ctx, deps.Config.HashWorkers, all, func(ctx context.Context, rec *fileRecord) error {
		start := time.Now()
		digest, size, hashErr := hashutil.SHA256File(rec.absSrc)
		if hashErr != nil {
			recordStage(deps, "hash", start, false)
			return ghosterr.Wrap(ghosterr.CodeInternal, hashErr, "hashing "+rec.relPath)
		}
		rec.sha256 = digest
		rec.size = size

		hit, hitErr := deps.Dedup.IsIngested(ctx, digest)
		if hitErr != nil {
			recordStage(deps, "hash", start, false)
			return hitErr
		}
		rec.dedupHit = hit
		recordStage(deps, "hash", start, true)

		mu.Lock()
		hashed++
		if !hit {
			newCount++
		}
		mu.Unlock()
		publish()
		return nil
	})
	if poolErr != nil {
		return nil, nil, 0, poolErr
	}

	byPath = make(map[string]*fileRecord, len(all))
	for _, rec := range all {
		byPath[rec.absSrc] = rec
	}
	return all, byPath, newCount, nil
}

// ingest copies every non-deduplicated record into the session's
// originals tree and marks it ingested, bounded by CopyWorkers.
func (r *run) ingest(ctx context.Context, records []*fileRecord) error {
	var pending []*fileRecord
	for _, rec := range records {
		if !rec.dedupHit {
			pending = append(pending, rec)
		}
	}

	return runPool(ctx, r.deps.Config.CopyWorkers, pending, func(ctx context.Context, rec *fileRecord) error {
		start := time.Now()
		dst, err := session.SafeRelUnder(r.paths.DCIM, rec.relPath)
		if err != nil {
			r.recordStage("copy", start, false)
			return ghosterr.Wrap(ghosterr.CodeInternal, err, "resolving destination for "+rec.relPath).WithSession(r.id)
		}
		if err := copyFile(rec.absSrc, dst); err != nil {
			r.recordStage("copy", start, false)
			return ghosterr.Wrap(ghosterr.CodeInternal, err, "copying "+rec.relPath).WithSession(r.id)
		}
		if err := r.deps.Dedup.MarkIngested(ctx, rec.sha256, rec.size, rec.absSrc); err != nil {
			r.recordStage("copy", start, false)
			return err
		}
		r.recordStage("copy", start, true)
		r.mu.Lock()
		r.counts.Copied++
		copied := r.counts.Copied
		r.mu.Unlock()
		r.publishThrottled("ingest", fmt.Sprintf("%d/%d copied", copied, len(pending)))
		return nil
	})
}

// deriveTask pairs a capture group with the fingerprint record of its
// chosen derivative source (the JPEG, when one exists in the group).
type deriveTask struct {
	group media.Group
	rec   *fileRecord
}

// derive renders the share and thumbnail JPEGs for every group whose
// source file was newly ingested, bounded by ProcessWorkers. A single
// file's render failure is logged and counted, never fatal to the run.
func (r *run) derive(ctx context.Context, groups []media.Group, byPath map[string]*fileRecord) ([]gallery.Item, []string) {
	var tasks []deriveTask
	for _, g := range groups {
		src := g.DerivativeSource()
		if src == "" {
			continue
		}
		rec, ok := byPath[src]
		if !ok || rec.dedupHit {
			continue
		}
		tasks = append(tasks, deriveTask{group: g, rec: rec})
	}

	var mu sync.Mutex
	var items []gallery.Item
	var shareFiles []string

	_ = runPool(ctx, r.deps.Config.ProcessWorkers, tasks, func(ctx context.Context, t deriveTask) error {
		start := time.Now()
		rel := jpgRelPath(t.rec.relPath)
		shareDst := filepath.Join(r.paths.Share, rel)
		thumbDst := filepath.Join(r.paths.Thumbs, rel)
		if err := os.MkdirAll(filepath.Dir(shareDst), 0o750); err != nil {
			r.recordStage("render", start, false)
			return ghosterr.Wrap(ghosterr.CodeInternal, err, "creating share directory for "+rel).WithSession(r.id)
		}
		if err := os.MkdirAll(filepath.Dir(thumbDst), 0o750); err != nil {
			r.recordStage("render", start, false)
			return ghosterr.Wrap(ghosterr.CodeInternal, err, "creating thumbnail directory for "+rel).WithSession(r.id)
		}

		shareOpts := render.Options{MaxLongEdge: r.deps.Config.Share.MaxLongEdge, Quality: r.deps.Config.Share.Quality}
		thumbOpts := render.Options{MaxLongEdge: r.deps.Config.Thumb.MaxLongEdge, Quality: r.deps.Config.Thumb.Quality}

		shareErr := render.RenderDerivative(t.rec.absSrc, shareDst, shareOpts)
		thumbErr := render.RenderDerivative(t.rec.absSrc, thumbDst, thumbOpts)
		if shareErr != nil || thumbErr != nil {
			r.recordStage("render", start, false)
			r.mu.Lock()
			r.counts.RenderFailed++
			r.mu.Unlock()
			r.logger.Warn("rendering derivative failed", "file", rel, "share_error", shareErr, "thumb_error", thumbErr)
			return nil
		}

		caption, _ := render.ExtractCaption(t.rec.absSrc)
		r.recordStage("render", start, true)

		mu.Lock()
		items = append(items, gallery.Item{
			RelPath:       rel,
			ThumbHref:     path.Join("derived", "thumbs", filepath.ToSlash(rel)),
			ShareHref:     path.Join("derived", "share", filepath.ToSlash(rel)),
			CapturedAt:    caption.CapturedAt,
			HasCapturedAt: caption.HasCapturedAt,
			Camera:        caption.Camera,
		})
		shareFiles = append(shareFiles, shareDst)
		mu.Unlock()

		r.mu.Lock()
		r.counts.Rendered++
		rendered := r.counts.Rendered
		r.mu.Unlock()
		r.publishThrottled("process", fmt.Sprintf("%d/%d rendered", rendered, len(tasks)))
		return nil
	})

	gallery.Sort(items)
	return items, shareFiles
}

// jpgRelPath normalizes rel's extension to lowercase ".jpg" — a
// derivative is always a JPEG regardless of the source's own
// extension casing (".JPG", ".JPEG", ...).
func jpgRelPath(rel string) string {
	return strings.TrimSuffix(rel, filepath.Ext(rel)) + ".jpg"
}

// rawOriginals lists the DCIM-relative paths of every RAW file in
// groups whose record was newly ingested; packArchives joins them onto
// the session's DCIM copy for the optional raw originals archive.
func rawOriginals(groups []media.Group, byPath map[string]*fileRecord) []string {
	var out []string
	for _, g := range groups {
		for _, f := range g.Files {
			if !media.IsRAW(f) {
				continue
			}
			rec, ok := byPath[f]
			if !ok || rec.dedupHit {
				continue
			}
			out = append(out, rec.relPath)
		}
	}
	return out
}

// uploadTarget is one local file destined for a fixed object-store key.
type uploadTarget struct {
	localPath string
	key       string
}

// packAndUpload builds the zip archives (S4) and uploads derivatives
// and archives to the object store (S5). Uploading the already-
// rendered share and thumbnail derivatives runs concurrently with
// packing, per the overlap the scheduling model allows; archive
// uploads only start once their zip exists.
func (r *run) packAndUpload(ctx context.Context, shareFiles, rawRelPaths []string) ([]uploadTarget, error) {
	var uploaded []uploadTarget
	var uploadedMu sync.Mutex
	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	derivativeTargets := r.derivativeUploadTargets(shareFiles)

	wg.Add(1)
	go func() {
		defer wg.Done()
		done, err := r.uploadAll(ctx, derivativeTargets)
		uploadedMu.Lock()
		uploaded = append(uploaded, done...)
		uploadedMu.Unlock()
		if err != nil {
			errCh <- err
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		archiveTargets, err := r.packArchives(shareFiles, rawRelPaths)
		if err != nil {
			errCh <- err
			return
		}
		done, err := r.uploadAll(ctx, archiveTargets)
		uploadedMu.Lock()
		uploaded = append(uploaded, done...)
		uploadedMu.Unlock()
		if err != nil {
			errCh <- err
		}
	}()

	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return uploaded, errors.Join(errs...)
	}
	return uploaded, nil
}

func (r *run) derivativeUploadTargets(shareFiles []string) []uploadTarget {
	targets := make([]uploadTarget, 0, 2*len(shareFiles))
	for _, shareDst := range shareFiles {
		rel, err := filepath.Rel(r.paths.Share, shareDst)
		if err != nil {
			continue
		}
		thumbDst := filepath.Join(r.paths.Thumbs, rel)
		targets = append(targets,
			uploadTarget{localPath: shareDst, key: objectKey(r.deps.Config, r.id, "share", filepath.ToSlash(rel))},
			uploadTarget{localPath: thumbDst, key: objectKey(r.deps.Config, r.id, "thumbs", filepath.ToSlash(rel))},
		)
	}
	return targets
}

// packArchives builds share.zip from the rendered share derivatives
// (excluding thumbnails, which are served individually rather than
// bundled) and, if requested, originals-raw.zip from the copied RAW
// originals.
func (r *run) packArchives(shareFiles, rawRelPaths []string) ([]uploadTarget, error) {
	var targets []uploadTarget

	shareZip := filepath.Join(r.paths.Root, "share.zip")
	if _, err := archive.BuildZipFromPaths(r.paths.Share, shareFiles, shareZip, "share"); err != nil {
		return nil, ghosterr.Wrap(ghosterr.CodeInternal, err, "packing share.zip").WithSession(r.id)
	}
	targets = append(targets, uploadTarget{localPath: shareZip, key: objectKey(r.deps.Config, r.id, "share.zip")})

	if len(rawRelPaths) > 0 {
		abs := make([]string, len(rawRelPaths))
		for i, rel := range rawRelPaths {
			abs[i] = filepath.Join(r.paths.DCIM, rel)
		}
		rawZip := filepath.Join(r.paths.Root, "originals-raw.zip")
		if _, err := archive.BuildZipFromPaths(r.paths.Originals, abs, rawZip, ""); err != nil {
			return nil, ghosterr.Wrap(ghosterr.CodeInternal, err, "packing originals-raw.zip").WithSession(r.id)
		}
		targets = append(targets, uploadTarget{localPath: rawZip, key: objectKey(r.deps.Config, r.id, "originals", "raw.zip")})
	}

	return targets, nil
}

// uploadAll uploads every target not already recorded in the uploads
// ledger, bounded by UploadWorkers and retried with a linear backoff;
// any upload that still fails after retries is fatal to the run.
func (r *run) uploadAll(ctx context.Context, targets []uploadTarget) ([]uploadTarget, error) {
	if len(targets) == 0 {
		return nil, nil
	}

	var uploaded []uploadTarget
	var mu sync.Mutex
	retryer := retry.New(retry.LinearConfig())

	err := runPool(ctx, r.deps.Config.UploadWorkers, targets, func(ctx context.Context, t uploadTarget) error {
		already, err := r.deps.Dedup.IsUploaded(ctx, t.key)
		if err != nil {
			return err
		}
		if already {
			mu.Lock()
			uploaded = append(uploaded, t)
			mu.Unlock()
			r.mu.Lock()
			r.counts.Uploaded++
			uploadedSoFar := r.counts.Uploaded
			r.mu.Unlock()
			r.publishThrottled("upload", fmt.Sprintf("%d/%d uploaded", uploadedSoFar, len(targets)))
			return nil
		}

		start := time.Now()
		err = retryer.Do(ctx, func(ctx context.Context) error {
			return r.deps.Store.Upload(ctx, t.localPath, t.key)
		})
		if err != nil {
			r.recordStage("upload", start, false)
			r.mu.Lock()
			r.counts.UploadFailed++
			r.mu.Unlock()
			return ghosterr.Wrap(ghosterr.CodeUploadFailed, err, "uploading "+t.key).WithSession(r.id)
		}
		r.recordStage("upload", start, true)

		digest, size, hashErr := hashutil.SHA256File(t.localPath)
		if hashErr == nil {
			_ = r.deps.Dedup.MarkUploaded(ctx, t.key, digest, size)
		}

		mu.Lock()
		uploaded = append(uploaded, t)
		mu.Unlock()
		r.mu.Lock()
		r.counts.Uploaded++
		uploadedSoFar := r.counts.Uploaded
		r.mu.Unlock()
		r.publishThrottled("upload", fmt.Sprintf("%d/%d uploaded", uploadedSoFar, len(targets)))
		return nil
	})
	return uploaded, err
}

// publish6 presigns every uploaded derivative, writes the cloud gallery
// variant, uploads it in place of the local index.html, and renders
// the share link as a QR code and a plain-text note.
func (r *run) publish6(ctx context.Context, items []gallery.Item, uploaded []uploadTarget) (string, error) {
	ttl := time.Duration(r.deps.Config.PresignExpirySeconds) * time.Second
	cloudItems := make([]gallery.Item, len(items))
	copy(cloudItems, items)

	indexes := make([]int, len(cloudItems))
	for i := range indexes {
		indexes[i] = i
	}
	_ = runPool(ctx, r.deps.Config.PresignWorkers, indexes, func(ctx context.Context, i int) error {
		it := cloudItems[i]
		shareKey := objectKey(r.deps.Config, r.id, "share", it.RelPath)
		thumbKey := objectKey(r.deps.Config, r.id, "thumbs", it.RelPath)

		if url, err := r.presign(ctx, shareKey, ttl); err == nil {
			cloudItems[i].ShareHref = url
		}
		if url, err := r.presign(ctx, thumbKey, ttl); err == nil {
			cloudItems[i].ThumbHref = url
		}
		r.mu.Lock()
		r.counts.Presigned++
		r.mu.Unlock()
		return nil
	})

	cloudIndexPath := filepath.Join(r.paths.Root, "index.cloud.html")
	f, err := os.Create(cloudIndexPath)
	if err != nil {
		return "", ghosterr.Wrap(ghosterr.CodeInternal, err, "creating index.cloud.html").WithSession(r.id)
	}
	if err := gallery.WriteHTML(f, r.volume, cloudItems); err != nil {
		f.Close()
		return "", ghosterr.Wrap(ghosterr.CodeInternal, err, "rendering cloud gallery").WithSession(r.id)
	}
	if err := f.Close(); err != nil {
		return "", ghosterr.Wrap(ghosterr.CodeInternal, err, "closing index.cloud.html").WithSession(r.id)
	}

	indexKey := objectKey(r.deps.Config, r.id, "index.html")
	if err := r.deps.Store.Upload(ctx, cloudIndexPath, indexKey); err != nil {
		return "", ghosterr.Wrap(ghosterr.CodePresignFailed, err, "uploading index.html").WithSession(r.id)
	}

	url, err := r.presign(ctx, indexKey, ttl)
	if err != nil {
		return "", ghosterr.Wrap(ghosterr.CodePresignFailed, err, "presigning gallery index").WithSession(r.id)
	}

	if err := os.WriteFile(filepath.Join(r.paths.Root, "share.txt"), []byte(url+"\n"), 0o640); err != nil {
		r.logger.Warn("writing share.txt failed", "error", err)
	}
	if err := qrcode.WritePNG(url, filepath.Join(r.paths.Root, "share-qr.png")); err != nil {
		r.logger.Warn("rendering share QR code failed", "error", err)
	}
	if ascii, err := qrcode.RenderASCII(url); err == nil {
		r.logger.Info("gallery ready", "url", url, "qr", "\n"+ascii)
	}

	return url, nil
}

func (r *run) presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	start := time.Now()
	url, err := r.deps.Store.Presign(ctx, key, ttl)
	r.recordStage("presign", start, err == nil)
	return url, err
}

// recordStage feeds one stage's timing into deps.Metrics, if any.
// Package-level rather than a *run method so the pre-session hash
// pass (which has no *run yet) can share it.
func recordStage(deps Deps, stage string, start time.Time, success bool) {
	if deps.Metrics != nil {
		deps.Metrics.RecordStage(stage, time.Since(start), success)
	}
}

func (r *run) recordStage(stage string, start time.Time, success bool) {
	recordStage(r.deps, stage, start, success)
}

func (r *run) snapshotCounts() status.Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts
}

// throttle gates a repeatable action to at most once per interval,
// defaulting to 750ms when interval is zero — matching the Python
// pipeline's hardcoded status-write debounce, lifted here into a
// reusable value so both the pre-session hash pass and a run's
// worker-pool stages can share the same cheap compare-and-swap.
type throttle struct {
	mu   sync.Mutex
	last time.Time
}

func (t *throttle) ready(interval time.Duration) bool {
	if interval <= 0 {
		interval = 750 * time.Millisecond
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if time.Since(t.last) < interval {
		return false
	}
	t.last = time.Now()
	return true
}

// publishThrottled reports mid-stage progress at most once per
// Deps.StatusInterval (default 750ms) — a stage's worker pool can
// complete hundreds of items between two publishes, so every item
// calling this is cheap even though the debounce itself does no I/O
// on a skipped call.
func (r *run) publishThrottled(step, message string) {
	if !r.throttle.ready(r.deps.StatusInterval) {
		return
	}
	r.publish(status.StateRunning, step, message)
}

func (r *run) publish(state status.State, step, message string) {
	writeStatus(r.deps, r.logger, status.Snapshot{
		State:     state,
		Step:      step,
		Message:   message,
		SessionID: r.id,
		Volume:    r.volume,
		Counts:    r.snapshotCounts(),
	})
}

// writeStatus is the shared sink for both pre-session (no session ID
// yet) and in-session status publishes.
func writeStatus(deps Deps, logger *slog.Logger, snap status.Snapshot) {
	if deps.Status == nil {
		return
	}
	if err := deps.Status.Write(snap); err != nil {
		if logger != nil {
			logger.Warn("status write failed", "error", err)
		}
	}
}

// objectKey joins the configured root prefix, session ID, and suffix
// segments into an object-store key, always using forward slashes
// regardless of host OS path conventions.
func objectKey(cfg *config.Config, sessionID string, suffix ...string) string {
	segs := append([]string{cfg.S3PrefixRoot, sessionID}, suffix...)
	return path.Join(segs...)
}

// copyFile atomically copies src to dst, skipping the copy if dst
// already exists with the same size (a rerun over a partially ingested
// session tree shouldn't recopy originals it already has).
func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	if dstInfo, err := os.Stat(dst); err == nil {
		if srcInfo, err := os.Stat(src); err == nil && srcInfo.Size() == dstInfo.Size() {
			return nil
		}
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// writeLocalGallery writes index.html under the session root for the
// local gallery variant, with hrefs relative to the session tree.
func (r *run) writeLocalGallery(items []gallery.Item) error {
	f, err := os.Create(filepath.Join(r.paths.Root, "index.html"))
	if err != nil {
		return err
	}
	defer f.Close()
	return gallery.WriteHTML(f, r.volume, items)
}

// runPool runs fn over items with at most workers concurrent calls,
// collecting every error rather than stopping at the first one —
// matching the fan-out/join shape the batch processor uses for its
// per-type operation flushes.
func runPool[T any](ctx context.Context, workers int, items []T, fn func(context.Context, T) error) error {
	if workers <= 0 {
		workers = 1
	}
	if len(items) == 0 {
		return nil
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	errCh := make(chan error, len(items))

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(item T) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := fn(ctx, item); err != nil {
				errCh <- err
			}
		}(item)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	if ctx.Err() != nil {
		errs = append(errs, ghosterr.Wrap(ghosterr.CodeCanceled, ctx.Err(), "pipeline canceled"))
	}
	return errors.Join(errs...)
}
