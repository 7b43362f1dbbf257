// Package checkpoint persists point-in-time monitor state as JSON files.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"vigil/logger"
	"vigil/models"
)

// ErrNotFound is returned when no checkpoint exists under the given ID.
var ErrNotFound = errors.New("checkpoint not found")

// CorruptError is returned when a checkpoint file exists but cannot be
// parsed. The file is left in place for inspection.
type CorruptError struct {
	ID   string
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("checkpoint %s is corrupt: %v", e.ID, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

const (
	idPrefix      = "checkpoint_"
	fileExtension = ".json"
)

// Store keeps checkpoints as one JSON file each inside a directory, with a
// bounded count. When the cap is exceeded the oldest checkpoints are
// evicted, on disk and in the index.
type Store struct {
	mu    sync.Mutex
	dir   string
	max   int
	index []models.CheckpointMeta

	log *logger.Logger
}

// NewStore opens (or creates) the checkpoint directory and indexes the
// checkpoints already present. Files that fail to parse are skipped with a
// warning and left on disk.
func NewStore(dir string, maxCheckpoints int, log *logger.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating checkpoint directory: %w", err)
	}

	s := &Store{
		dir: dir,
		max: maxCheckpoints,
		log: log,
	}
	if err := s.scan(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.enforceLimitLocked()
	s.mu.Unlock()
	return s, nil
}

// scan rebuilds the index from the files on disk.
func (s *Store) scan() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("reading checkpoint directory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.index = s.index[:0]
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, fileExtension) {
			continue
		}
		id := strings.TrimSuffix(name, fileExtension)
		if !validID(id) {
			continue
		}

		path := filepath.Join(s.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			s.log.Component("checkpoint").Warnf("Skipping unreadable checkpoint %s: %v", name, err)
			continue
		}

		var cp models.SystemCheckpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			s.log.Component("checkpoint").Warnf("Skipping corrupt checkpoint %s: %v", name, err)
			continue
		}

		s.index = append(s.index, models.CheckpointMeta{
			ID:        id,
			Timestamp: cp.Timestamp,
			SizeBytes: int64(len(data)),
		})
	}

	s.sortLocked()
	s.log.Component("checkpoint").Infof("Indexed %d checkpoints in %s", len(s.index), s.dir)
	return nil
}

// Create writes the checkpoint atomically and evicts the oldest entries if
// the cap is now exceeded. A missing ID is derived from the timestamp; an
// ID already taken is nudged forward one second at a time.
func (s *Store) Create(cp *models.SystemCheckpoint) error {
	if cp == nil {
		return errors.New("checkpoint must not be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now()
	}
	if cp.ID == "" {
		ts := cp.Timestamp
		for {
			cp.ID = fmt.Sprintf("%s%d", idPrefix, ts.Unix())
			if !s.existsLocked(cp.ID) {
				break
			}
			ts = ts.Add(time.Second)
		}
		cp.Timestamp = ts
	}
	if !validID(cp.ID) {
		return fmt.Errorf("invalid checkpoint ID %q", cp.ID)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing checkpoint: %w", err)
	}

	path := filepath.Join(s.dir, cp.ID+fileExtension)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("writing checkpoint file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("committing checkpoint file: %w", err)
	}

	s.index = append(s.index, models.CheckpointMeta{
		ID:        cp.ID,
		Timestamp: cp.Timestamp,
		SizeBytes: int64(len(data)),
	})
	s.sortLocked()
	s.enforceLimitLocked()

	s.log.Component("checkpoint").Debugf("Checkpoint %s written (%d bytes)", cp.ID, len(data))
	return nil
}

// Get loads one checkpoint by ID.
func (s *Store) Get(id string) (*models.SystemCheckpoint, error) {
	if !validID(id) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	path := filepath.Join(s.dir, id+fileExtension)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("reading checkpoint %s: %w", id, err)
	}

	var cp models.SystemCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, &CorruptError{ID: id, Path: path, Err: err}
	}
	return &cp, nil
}

// Latest loads the most recent checkpoint.
func (s *Store) Latest() (*models.SystemCheckpoint, error) {
	s.mu.Lock()
	if len(s.index) == 0 {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	id := s.index[len(s.index)-1].ID
	s.mu.Unlock()

	return s.Get(id)
}

// List returns the stored checkpoints, oldest first.
func (s *Store) List() []models.CheckpointMeta {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]models.CheckpointMeta, len(s.index))
	copy(result, s.index)
	return result
}

// Count returns the number of indexed checkpoints.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// Dir returns the checkpoint directory.
func (s *Store) Dir() string { return s.dir }

// SetLimit changes the retention cap, for config hot reload, and evicts
// immediately if the new cap is tighter.
func (s *Store) SetLimit(maxCheckpoints int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.max = maxCheckpoints
	s.enforceLimitLocked()
}

func (s *Store) existsLocked(id string) bool {
	for _, meta := range s.index {
		if meta.ID == id {
			return true
		}
	}
	return false
}

func (s *Store) sortLocked() {
	sort.Slice(s.index, func(i, j int) bool {
		if s.index[i].Timestamp.Equal(s.index[j].Timestamp) {
			return s.index[i].ID < s.index[j].ID
		}
		return s.index[i].Timestamp.Before(s.index[j].Timestamp)
	})
}

// enforceLimitLocked evicts the oldest checkpoints until the cap holds.
// Eviction is logical even when the file removal fails; a leftover file is
// re-indexed on the next start.
func (s *Store) enforceLimitLocked() {
	if s.max <= 0 {
		return
	}
	for len(s.index) > s.max {
		oldest := s.index[0]
		s.index = s.index[1:]

		path := filepath.Join(s.dir, oldest.ID+fileExtension)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.log.Component("checkpoint").Warnf("Evicting checkpoint %s failed: %v", oldest.ID, err)
			continue
		}
		s.log.Component("checkpoint").Debugf("Evicted checkpoint %s", oldest.ID)
	}
}

// validID reports whether id has the checkpoint_<unix-seconds> shape. It
// doubles as a path-safety check, since IDs become file names.
func validID(id string) bool {
	if !strings.HasPrefix(id, idPrefix) {
		return false
	}
	digits := id[len(idPrefix):]
	if digits == "" {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
