package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flowsentry/flowsentry/internal/ml"
)

// Package artifact persists the trained (Scaler, Forest) pair as a matched,
// versioned unit. Both files live inside one versioned directory and carry
// the same version stamp; a CURRENT pointer file is swapped into place with
// an atomic rename only after the whole pair is on disk. A crash mid-write
// therefore leaves the previous pair fully intact, and a reader can never
// observe a forest whose matching scaler is missing or stale.

// ErrMissing reports that no trained artifact pair exists yet.
var ErrMissing = errors.New("model artifacts not found")

const (
	currentFile   = "CURRENT"
	scalerFile    = "scaler.json"
	forestFile    = "forest.json"
	versionDirFmt = "v-%s"
)

// Pair is a matched scaler/forest pair plus its shared version metadata.
type Pair struct {
	Version   string
	CreatedAt time.Time
	Columns   []string
	Scaler    *ml.Scaler
	Forest    *ml.Forest
}

type scalerDoc struct {
	Version   string     `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	Columns   []string   `json:"columns"`
	Scaler    *ml.Scaler `json:"scaler"`
}

type forestDoc struct {
	Version   string     `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	Forest    *ml.Forest `json:"forest"`
}

// Store reads and writes artifact pairs under a base directory.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir. The directory is created on first
// Save.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// NewVersion mints a version stamp shared by both halves of a pair.
func NewVersion() string {
	return uuid.NewString()
}

// Save writes the pair to a fresh versioned directory, fsyncs it, then swaps
// the CURRENT pointer atomically. Older version directories are pruned
// best-effort once the swap has succeeded.
func (s *Store) Save(p *Pair) error {
	if p.Scaler == nil || p.Forest == nil {
		return fmt.Errorf("save artifacts: incomplete pair")
	}
	if p.Version == "" {
		return fmt.Errorf("save artifacts: missing version stamp")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	versionDir := fmt.Sprintf(versionDirFmt, p.Version)
	dst := filepath.Join(s.dir, versionDir)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("create version dir: %w", err)
	}

	sd := scalerDoc{Version: p.Version, CreatedAt: p.CreatedAt, Columns: p.Columns, Scaler: p.Scaler}
	if err := writeJSON(filepath.Join(dst, scalerFile), sd); err != nil {
		return fmt.Errorf("write scaler: %w", err)
	}
	fd := forestDoc{Version: p.Version, CreatedAt: p.CreatedAt, Forest: p.Forest}
	if err := writeJSON(filepath.Join(dst, forestFile), fd); err != nil {
		return fmt.Errorf("write forest: %w", err)
	}

	// Swap the pointer only after both halves are durable.
	if err := writePointer(filepath.Join(s.dir, currentFile), versionDir); err != nil {
		return fmt.Errorf("swap current pointer: %w", err)
	}

	s.pruneExcept(versionDir)
	return nil
}

// Load reads the pair the CURRENT pointer names. It fails with ErrMissing if
// no pair has been persisted, and refuses a pair whose halves carry different
// version stamps.
func (s *Store) Load() (*Pair, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, currentFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrMissing
		}
		return nil, fmt.Errorf("read current pointer: %w", err)
	}
	versionDir := strings.TrimSpace(string(raw))
	dst := filepath.Join(s.dir, versionDir)

	var sd scalerDoc
	if err := readJSON(filepath.Join(dst, scalerFile), &sd); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrMissing
		}
		return nil, fmt.Errorf("read scaler: %w", err)
	}
	var fd forestDoc
	if err := readJSON(filepath.Join(dst, forestFile), &fd); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrMissing
		}
		return nil, fmt.Errorf("read forest: %w", err)
	}

	if sd.Version != fd.Version {
		return nil, fmt.Errorf("artifact version mismatch: scaler %s, forest %s", sd.Version, fd.Version)
	}
	if sd.Scaler == nil || fd.Forest == nil {
		return nil, fmt.Errorf("artifact pair incomplete in %s", versionDir)
	}

	return &Pair{
		Version:   sd.Version,
		CreatedAt: sd.CreatedAt,
		Columns:   sd.Columns,
		Scaler:    sd.Scaler,
		Forest:    fd.Forest,
	}, nil
}

// pruneExcept removes stale version directories, ignoring failures: pruning
// is housekeeping, never a reason to fail a training run.
func (s *Store) pruneExcept(keep string) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == keep || !strings.HasPrefix(e.Name(), "v-") {
			continue
		}
		_ = os.RemoveAll(filepath.Join(s.dir, e.Name()))
	}
}

// writeJSON writes v to a temporary file and renames it into place.
func writeJSON(path string, v any) error {
	blob, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeRaw(path, blob)
}

func writePointer(path, value string) error {
	return writeRaw(path, []byte(value+"\n"))
}

func writeRaw(path string, blob []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(blob); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v any) error {
	blob, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(blob, v)
}
