// Package logship periodically uploads a running session's log file
// to the object store and guarantees one final upload on normal exit,
// SIGINT, or SIGTERM, so a crashed or killed run still leaves its log
// behind for diagnosis.
package logship

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Uploader uploads a single local file to a fixed object-store key.
// Satisfied by *internal/objectstore.Client.
type Uploader interface {
	Upload(ctx context.Context, localPath, key string) error
}

// Shipper periodically uploads logPath to key and guarantees a
// final upload when Stop is called or the process receives SIGINT/SIGTERM.
type Shipper struct {
	logPath  string
	key      string
	uploader Uploader
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	lastCount int

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	sigCh    chan os.Signal
}

// New creates a Shipper. Call Start to begin periodic uploads and
// register the exit handlers; before Start, only UploadNow uploads.
func New(uploader Uploader, logPath, key string, interval time.Duration, logger *slog.Logger) *Shipper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Shipper{
		logPath:  logPath,
		key:      key,
		uploader: uploader,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the periodic upload goroutine and registers a signal
// handler for SIGINT/SIGTERM that forces one last upload, then stops
// listening for signals and ends the loop. The signal is not re-raised;
// the Shipper does not terminate the process.
func (s *Shipper) Start(ctx context.Context) {
	s.sigCh = make(chan os.Signal, 1)
	signal.Notify(s.sigCh, syscall.SIGINT, syscall.SIGTERM)

	go s.run(ctx)
}

func (s *Shipper) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.uploadOnce(context.Background())
			return
		case <-s.stopCh:
			s.uploadOnce(context.Background())
			return
		case sig := <-s.sigCh:
			s.logger.Warn("received signal, uploading log before exit", "signal", sig)
			s.uploadOnce(context.Background())
			signal.Stop(s.sigCh)
			return
		case <-ticker.C:
			if info, err := os.Stat(s.logPath); err == nil && info.Size() > 0 {
				s.uploadOnce(ctx)
			}
		}
	}
}

// Stop halts periodic uploads and performs one final upload, blocking
// until it completes.
func (s *Shipper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

// UploadNow performs a single synchronous upload outside the periodic
// schedule, used at session "done" to guarantee the final log state is
// shipped before the run reports success.
func (s *Shipper) UploadNow(ctx context.Context) error {
	return s.uploader.Upload(ctx, s.logPath, s.key)
}

func (s *Shipper) uploadOnce(ctx context.Context) {
	if _, err := os.Stat(s.logPath); err != nil {
		return
	}
	if err := s.uploader.Upload(ctx, s.logPath, s.key); err != nil {
		s.logger.Debug("log upload failed", "error", err)
		return
	}
	s.mu.Lock()
	s.lastCount++
	s.mu.Unlock()
}

// UploadCount returns how many successful uploads have completed, for
// diagnostics.
func (s *Shipper) UploadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCount
}
