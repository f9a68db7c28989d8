// Package artifacts manages the on disk lifetime of generated images
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"atelier-api/internal/metrics"
	"atelier-api/internal/shared"

	"github.com/aidarkhanov/nanoid"
	"go.uber.org/zap"
)

// Handle points at one persisted artifact. Artifacts are never mutated after
// creation; the reaper is the only thing that removes them.
type Handle struct {
	Path      string
	CreatedAt time.Time
}

type Store struct {
	root string
	log  *zap.SugaredLogger
	now  func() time.Time
}

func NewStore(root string, log *zap.SugaredLogger) *Store {
	return &Store{root: root, log: log, now: time.Now}
}

// WithClock swaps the time source, for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Root() string {
	return s.root
}

// Save writes the image under a fresh collision resistant name. The bytes go
// to a temp file first and are renamed into place, so a canceled or failed
// write never leaves a visible partial artifact.
func (s *Store) Save(data []byte, format string) (*Handle, error) {
	if err := os.MkdirAll(s.root, shared.ArtifactDirPerm); err != nil {
		return nil, shared.NewPipelineError(shared.OutcomeStorageFailed, "failed creating artifact root", err)
	}

	now := s.now()
	id, err := nanoid.Generate(shared.IDAlphabet, shared.ArtifactIDLen)
	if err != nil {
		return nil, shared.NewPipelineError(shared.OutcomeStorageFailed, "failed generating artifact id", err)
	}
	name := fmt.Sprintf("img_%s_%s.%s", now.Format("20060102_150405"), id, format)
	path := filepath.Join(s.root, name)

	tmp, err := os.CreateTemp(s.root, ".tmp_"+id+"_*")
	if err != nil {
		return nil, shared.NewPipelineError(shared.OutcomeStorageFailed, "failed creating artifact file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return nil, shared.NewPipelineError(shared.OutcomeStorageFailed, "failed writing artifact", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return nil, shared.NewPipelineError(shared.OutcomeStorageFailed, "failed writing artifact", err)
	}
	if err := os.Chmod(tmpName, shared.ArtifactFilePerm); err != nil {
		_ = os.Remove(tmpName)
		return nil, shared.NewPipelineError(shared.OutcomeStorageFailed, "failed writing artifact", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return nil, shared.NewPipelineError(shared.OutcomeStorageFailed, "failed placing artifact", err)
	}

	metrics.ArtifactsWritten.Inc()
	s.log.Infow("Artifact saved", "path", path, "bytes", len(data))
	return &Handle{Path: path, CreatedAt: now}, nil
}

// Reap deletes every artifact older than maxAge, by mtime. Best effort and
// idempotent: per file errors are logged and skipped, and a file already
// removed by a concurrent reap counts as done. Age based exclusion is the
// only concurrency control against in flight saves; a freshly written
// artifact is always far younger than any sane retention window.
func (s *Store) Reap(maxAge time.Duration) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warnw("Failed reading artifact root", "root", s.root, "error", err)
		}
		return
	}

	cutoff := s.now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if !os.IsNotExist(err) {
				s.log.Warnw("Failed to stat artifact", "name", entry.Name(), "error", err)
			}
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(s.root, entry.Name())
		if err := os.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				s.log.Warnw("Failed to reap artifact", "path", path, "error", err)
			}
			continue
		}
		metrics.ArtifactsReaped.Inc()
		s.log.Infow("Reaped expired artifact", "path", path)
	}
}
