// Package mountwatch polls for a removable camera volume matching a
// configured label and reports when it becomes ready for ingest (has a
// readable DCIM directory), when it disappears, or when it's present
// but not yet ready.
package mountwatch

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/moby/sys/mountinfo"
)

// EventKind distinguishes the three states the watcher can report.
type EventKind int

const (
	// VolumeReady means a mount matching the label has a readable
	// DCIM directory and is ready for ingest.
	VolumeReady EventKind = iota
	// VolumeGone means the previously ready volume is no longer
	// mounted.
	VolumeGone
	// VolumeLabelOnly means a directory matching the label exists but
	// has no DCIM subdirectory yet — still mounting, or the wrong
	// card. A supplement over the distilled spec, which stayed silent
	// in this case.
	VolumeLabelOnly
)

// Event is one observation from the watcher.
type Event struct {
	Kind EventKind
	Path string
}

// Watch polls mountRoots every pollInterval for a volume named label
// and sends Events on the returned channel until ctx is canceled, at
// which point the channel is closed.
func Watch(ctx context.Context, mountRoots []string, label string, pollInterval time.Duration) <-chan Event {
	out := make(chan Event)

	go func() {
		defer close(out)

		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		ready := false
		for {
			ev, found := pollOnce(mountRoots, label)
			switch {
			case found && ev.Kind == VolumeReady && !ready:
				ready = true
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			case found && ev.Kind == VolumeLabelOnly:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			case !found && ready:
				ready = false
				select {
				case out <- Event{Kind: VolumeGone}:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return out
}

// pollOnce checks every configured mount root once for a volume
// matching label, returning the strongest signal found (ready beats
// label-only).
func pollOnce(mountRoots []string, label string) (Event, bool) {
	var fallback Event
	haveFallback := false
	for _, root := range mountRoots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			if !candidateNameMatches(e.Name(), label) {
				// Two-level `/media/<user>/<label>` mounts are handled
				// here; macOS/`/media` one-level mounts match below.
				nested := filepath.Join(root, e.Name())
				if subEntries, err := os.ReadDir(nested); err == nil {
					for _, sub := range subEntries {
						if sub.IsDir() && candidateNameMatches(sub.Name(), label) {
							if ev, ok := checkCandidate(filepath.Join(nested, sub.Name())); ok && ev.Kind == VolumeReady {
								return ev, true
							} else if ok && !haveFallback {
								fallback, haveFallback = ev, true
							}
						}
					}
				}
				continue
			}

			candidate := filepath.Join(root, e.Name())
			if ev, ok := checkCandidate(candidate); ok && ev.Kind == VolumeReady {
				return ev, true
			} else if ok && !haveFallback {
				fallback, haveFallback = ev, true
			}
		}
	}
	if haveFallback {
		return fallback, true
	}
	return Event{}, false
}

func checkCandidate(path string) (Event, bool) {
	if !isMountAccessible(path) {
		return Event{}, false
	}
	if !isRealDeviceMount(path) {
		return Event{}, false
	}
	if hasReadableDCIM(path) {
		return Event{Kind: VolumeReady, Path: path}, true
	}
	return Event{Kind: VolumeLabelOnly, Path: path}, true
}

// candidateNameMatches accepts either an exact label match or a
// "label <suffix>" prefix, the convention some camera firmwares use
// when multiple cards share a volume name.
func candidateNameMatches(name, label string) bool {
	if name == label {
		return true
	}
	return strings.HasPrefix(name, label+" ")
}

func isMountAccessible(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

func hasReadableDCIM(mountPath string) bool {
	dcim := filepath.Join(mountPath, "DCIM")
	info, err := os.Stat(dcim)
	if err != nil || !info.IsDir() {
		return false
	}
	_, err = os.ReadDir(dcim)
	return err == nil
}

// isRealDeviceMount reports whether path is backed by a genuine
// removable-device mount rather than an autofs placeholder that
// hasn't triggered yet.
func isRealDeviceMount(path string) bool {
	switch runtime.GOOS {
	case "darwin":
		return strings.HasPrefix(path, "/Volumes/")
	default:
		if strings.HasPrefix(path, "/media/") || strings.HasPrefix(path, "/run/media/") {
			return true
		}
		return isRealMountLinux(path)
	}
}

// isRealMountLinux interrogates the kernel mount table for mount
// points outside the trusted /media prefixes (e.g. /mnt), rejecting
// autofs entries that haven't actually triggered an automount yet.
func isRealMountLinux(path string) bool {
	clean := filepath.Clean(path)
	mounts, err := mountinfo.GetMounts(func(m *mountinfo.Info) (skip, stop bool) {
		return m.Mountpoint != clean, false
	})
	if err != nil || len(mounts) == 0 {
		return false
	}

	// Later entries in the mount table shadow earlier ones at the
	// same mountpoint; the last match reflects the current mount.
	m := mounts[len(mounts)-1]
	if m.FSType == "autofs" {
		return false
	}
	if strings.HasPrefix(m.Source, "systemd-1") || strings.Contains(strings.ToLower(m.Source), "autofs") {
		return false
	}
	if strings.HasPrefix(m.Source, "/dev/") {
		if _, err := os.Stat(m.Source); err != nil {
			return false
		}
	}

	return true
}
