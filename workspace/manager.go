package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DatasetExtensions lists the file extensions accepted as tabular datasets.
var DatasetExtensions = map[string]bool{
	".csv":  true,
	".tsv":  true,
	".xlsx": true,
	".xls":  true,
	".json": true,
}

var datasetNamePattern = regexp.MustCompile(`^data\d+$`)

// IsDatasetFile reports whether name follows the data<N>.<ext> convention.
func IsDatasetFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if !DatasetExtensions[ext] {
		return false
	}
	base := strings.TrimSuffix(name, filepath.Ext(name))
	return datasetNamePattern.MatchString(strings.ToLower(base))
}

// Run is an isolated working directory for a single query. It owns copies of
// the session's dataset files plus anything the agents write during the run.
type Run struct {
	ID  string
	Dir string
}

// DatasetPaths returns the absolute paths of dataset files inside the run
// directory, sorted lexicographically by filename.
func (r *Run) DatasetPaths() []string {
	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		return nil
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !IsDatasetFile(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(r.Dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths
}

// Manager creates and destroys per-query run directories under a base
// workspace directory.
type Manager struct {
	baseDir string
	logger  *zap.Logger
}

func NewManager(baseDir string, logger *zap.Logger) *Manager {
	return &Manager{
		baseDir: baseDir,
		logger:  logger,
	}
}

// CreateRun allocates a fresh uniquely-named run directory and seeds it with
// copies of every dataset file found in sessionDir. A copy failure for a
// single file logs a warning and does not abort the run.
func (m *Manager) CreateRun(sessionDir string) (*Run, error) {
	runID := strings.ReplaceAll(uuid.New().String(), "-", "")
	runDir := filepath.Join(m.baseDir, "runs", runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}

	entries, err := os.ReadDir(sessionDir)
	if err != nil && !os.IsNotExist(err) {
		m.logger.Warn("Could not list session workspace for dataset seeding",
			zap.String("session_dir", sessionDir),
			zap.Error(err))
	}
	for _, entry := range entries {
		if entry.IsDir() || !IsDatasetFile(entry.Name()) {
			continue
		}
		src := filepath.Join(sessionDir, entry.Name())
		dst := filepath.Join(runDir, entry.Name())
		if err := copyFile(src, dst); err != nil {
			m.logger.Warn("Could not copy dataset into run directory",
				zap.String("file", src),
				zap.String("run_id", runID),
				zap.Error(err))
		}
	}

	m.logger.Info("Run workspace created",
		zap.String("run_id", runID),
		zap.String("dir", runDir))
	return &Run{ID: runID, Dir: runDir}, nil
}

// DestroyRun recursively removes the run directory. Failure is logged, never
// returned: teardown must not break the caller's cleanup path.
func (m *Manager) DestroyRun(run *Run) {
	if run == nil {
		return
	}
	if err := os.RemoveAll(run.Dir); err != nil {
		m.logger.Warn("Could not remove run directory",
			zap.String("run_id", run.ID),
			zap.String("dir", run.Dir),
			zap.Error(err))
		return
	}
	m.logger.Debug("Run workspace removed", zap.String("run_id", run.ID))
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
