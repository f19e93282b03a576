// Package supervisor runs the outer watch loop: wait for a configured
// SD volume to appear, run one ingest pass over it, then wait for the
// card to be removed before arming for the next insertion.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/samjhill/ghostroll/internal/mountwatch"
	"github.com/samjhill/ghostroll/internal/pipeline"
)

// Supervisor owns the mount-watch loop and launches one pipeline.Run
// per card insertion.
type Supervisor struct {
	deps         pipeline.Deps
	mountRoots   []string
	label        string
	pollInterval time.Duration
	logger       *slog.Logger
}

// New creates a Supervisor. logger may be nil, in which case
// slog.Default() is used.
func New(deps pipeline.Deps, mountRoots []string, label string, pollInterval time.Duration, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		deps:         deps,
		mountRoots:   mountRoots,
		label:        label,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Run blocks until ctx is canceled, launching one ingest pass each time
// the watched volume transitions to ready and waiting for it to go
// away again before reacting to the next ready event — a volume left
// mounted never triggers a second run of its own accord.
func (s *Supervisor) Run(ctx context.Context) {
	s.logger.Info("watching for volume", "label", s.label, "roots", s.mountRoots)

	events := mountwatch.Watch(ctx, s.mountRoots, s.label, s.pollInterval)
	for ev := range events {
		switch ev.Kind {
		case mountwatch.VolumeReady:
			s.logger.Info("volume ready, starting ingest", "path", ev.Path)
			s.runOnce(ctx, ev.Path)
			s.logger.Info("remove card to arm for the next insertion")
		case mountwatch.VolumeLabelOnly:
			s.logger.Warn("volume detected but no DCIM directory yet, waiting", "path", ev.Path)
		case mountwatch.VolumeGone:
			s.logger.Info("volume removed", "label", s.label)
		}
	}

	s.logger.Info("watch loop stopped")
}

func (s *Supervisor) runOnce(ctx context.Context, volumePath string) {
	result, err := pipeline.Run(ctx, s.deps, volumePath, s.label)
	if err != nil {
		s.logger.Error("ingest run failed", "error", err, "volume", volumePath)
		return
	}
	if result.NoOp {
		s.logger.Info("no new media on card", "volume", volumePath)
		return
	}
	s.logger.Info("ingest run complete",
		"session", result.SessionID,
		"gallery", result.GalleryURL,
		"hashed", result.Counts.Hashed,
		"copied", result.Counts.Copied,
		"rendered", result.Counts.Rendered,
		"uploaded", result.Counts.Uploaded,
		"deduplicated", result.Counts.Deduplicated,
	)
}
