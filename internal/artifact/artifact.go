package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"loom/internal/phase"
	"loom/internal/pipeline"
)

// Store reads and writes named artifacts inside the workspace directory.
// Artifacts are plain files owned by the phase that produces them; on-disk
// existence is always derived by stat, never cached.
type Store struct {
	root string
}

// NewStore builds an artifact store rooted at the workspace directory.
func NewStore(root string) (*Store, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return nil, errors.New("workspace directory is required")
	}
	if err := os.MkdirAll(trimmed, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace %q: %w", trimmed, err)
	}
	return &Store{root: trimmed}, nil
}

// Root returns the workspace directory.
func (s *Store) Root() string { return s.root }

// Path resolves an artifact name to its workspace location. Names must be
// bare file names; anything that escapes the workspace is rejected.
func (s *Store) Path(name string) (string, error) {
	cleaned := filepath.Clean(strings.TrimSpace(name))
	if cleaned == "" || cleaned == "." || cleaned == ".." || cleaned != filepath.Base(cleaned) {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	return filepath.Join(s.root, cleaned), nil
}

// Exists reports whether the artifact is present on disk.
func (s *Store) Exists(name string) (bool, error) {
	path, err := s.Path(name)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	switch {
	case err == nil:
		return !info.IsDir(), nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat artifact %q: %w", name, err)
	}
}

// ModTime returns the artifact's last modification time.
func (s *Store) ModTime(name string) (time.Time, error) {
	path, err := s.Path(name)
	if err != nil {
		return time.Time{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("stat artifact %q: %w", name, err)
	}
	return info.ModTime(), nil
}

// Read returns the artifact's contents.
func (s *Store) Read(name string) ([]byte, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact %q: %w", name, err)
	}
	return data, nil
}

// Write replaces the artifact's contents.
func (s *Store) Write(name string, data []byte) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write artifact %q: %w", name, err)
	}
	return nil
}

// Missing returns the subset of names absent from the workspace.
func (s *Store) Missing(names []string) ([]string, error) {
	var missing []string
	for _, name := range names {
		ok, err := s.Exists(name)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, name)
		}
	}
	return missing, nil
}

// Info describes one artifact's on-disk condition relative to the pipeline
// record of the phase that produced it.
type Info struct {
	Name           string
	ProducedBy     phase.Name
	LogicalVersion int
	Exists         bool
	ModTime        time.Time
	// Stale is set when the file changed after the producing phase recorded
	// completion, meaning the recorded version no longer reflects disk.
	Stale bool
}

// Snapshot derives the condition of every declared artifact from the
// workspace and the pipeline state.
func (s *Store) Snapshot(state *pipeline.State) ([]Info, error) {
	var infos []Info
	for _, spec := range phase.All() {
		record := state.Record(spec.Name)
		for _, name := range spec.ProducedOutputs {
			info := Info{Name: name, ProducedBy: spec.Name}
			if record != nil {
				info.LogicalVersion = record.OutputVersion(name)
			}
			exists, err := s.Exists(name)
			if err != nil {
				return nil, err
			}
			info.Exists = exists
			if exists {
				modTime, err := s.ModTime(name)
				if err != nil {
					return nil, err
				}
				info.ModTime = modTime
				if record != nil && record.CompletedAt != nil && modTime.After(*record.CompletedAt) {
					info.Stale = true
				}
			}
			infos = append(infos, info)
		}
	}
	return infos, nil
}
