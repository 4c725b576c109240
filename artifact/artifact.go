package artifact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Slot is the single persistent "most recent plot" reference shown to the
// user. At most one file occupies it at any time.
type Slot struct {
	Path string // absolute path in long-lived storage
	Name string // display name
}

// Empty reports whether the slot has no occupant.
func (s Slot) Empty() bool { return s.Path == "" }

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
}

// Reconciler promotes the newest image produced in a run directory into the
// long-lived artifact store.
type Reconciler struct {
	storeDir string
	logger   *zap.Logger
}

func NewReconciler(storeDir string, logger *zap.Logger) *Reconciler {
	return &Reconciler{storeDir: storeDir, logger: logger}
}

// PromoteLatest scans runDir for image files and promotes the one with the
// latest modification time (ties broken lexicographically by name) into the
// store under a name embedding runID. The previous occupant is deleted only
// after the copy succeeded and only when it is a different file. With no
// image present the previous slot is returned unchanged, not cleared.
// All failures are logged; the previous slot is returned on any failure.
func (r *Reconciler) PromoteLatest(runDir, runID string, prev Slot) Slot {
	latest := r.findLatestImage(runDir)
	if latest == "" {
		return prev
	}

	if err := os.MkdirAll(r.storeDir, 0o755); err != nil {
		r.logger.Warn("Could not create artifact store", zap.Error(err))
		return prev
	}

	name := fmt.Sprintf("%s_%s", runID, filepath.Base(latest))
	dest := filepath.Join(r.storeDir, name)
	if err := copyFile(latest, dest); err != nil {
		r.logger.Warn("Failed to copy artifact to persistent storage",
			zap.String("src", latest),
			zap.String("dest", dest),
			zap.Error(err))
		return prev
	}

	absDest, err := filepath.Abs(dest)
	if err != nil {
		absDest = dest
	}
	next := Slot{Path: absDest, Name: name}

	// Retire the previous occupant only now that the new copy is in place,
	// and only when it is actually a different file.
	if !prev.Empty() && !sameFile(prev.Path, absDest) {
		if err := os.Remove(prev.Path); err != nil && !os.IsNotExist(err) {
			r.logger.Warn("Could not remove previous persistent artifact",
				zap.String("path", prev.Path),
				zap.Error(err))
		}
	}

	r.logger.Info("Artifact promoted",
		zap.String("run_id", runID),
		zap.String("path", absDest))
	return next
}

// findLatestImage returns the image file in dir with the newest modification
// time; ties are broken lexicographically by name so the choice is
// deterministic regardless of directory iteration order.
func (r *Reconciler) findLatestImage(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		r.logger.Warn("Could not scan run directory for images", zap.String("dir", dir), zap.Error(err))
		return ""
	}

	type candidate struct {
		name  string
		mtime int64
	}
	var candidates []candidate
	for _, entry := range entries {
		if entry.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{name: entry.Name(), mtime: info.ModTime().UnixNano()})
	}
	if len(candidates) == 0 {
		return ""
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].mtime != candidates[j].mtime {
			return candidates[i].mtime > candidates[j].mtime
		}
		return candidates[i].name > candidates[j].name
	})
	return filepath.Join(dir, candidates[0].name)
}

// SweepStale removes image files in dir that are not the current slot
// occupant. Used to keep the long-lived working area from accumulating plots.
func (r *Reconciler) SweepStale(dir string, slot Slot) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if !slot.Empty() && sameFile(path, slot.Path) {
			continue
		}
		if err := os.Remove(path); err != nil {
			r.logger.Warn("Could not remove stale image", zap.String("path", path), zap.Error(err))
		}
	}
}

func sameFile(a, b string) bool {
	ai, err := os.Stat(a)
	if err != nil {
		return filepath.Base(a) == filepath.Base(b)
	}
	bi, err := os.Stat(b)
	if err != nil {
		return filepath.Base(a) == filepath.Base(b)
	}
	return os.SameFile(ai, bi)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
