package backend

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Checkpoint marks the last record produced for an origin. LastUpdated
// is the UpdatedOn value of that record; resuming a fetch with it as
// the FromDate continues without gaps. The fetcher only produces and
// consumes checkpoints, persisting them is the caller's job.
type Checkpoint struct {
	Origin      string    `json:"origin"`
	LastUpdated float64   `json:"last_updated"`
	SavedAt     time.Time `json:"saved_at"`
}

// Zero reports whether the checkpoint carries no resume position.
func (c Checkpoint) Zero() bool { return c.LastUpdated == 0 }

// FromDate converts the checkpoint into a fetch lower bound.
func (c Checkpoint) FromDate() time.Time {
	if c.Zero() {
		return time.Time{}
	}
	sec := int64(c.LastUpdated)
	nsec := int64((c.LastUpdated - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

// CheckpointStore persists checkpoints to disk, one JSON file per
// origin, so interrupted collections can resume across runs.
type CheckpointStore struct {
	mu  sync.Mutex
	dir string
}

// NewCheckpointStore creates (or reuses) dir as checkpoint storage.
func NewCheckpointStore(dir string) (*CheckpointStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &CheckpointStore{dir: dir}, nil
}

// Load returns the stored checkpoint for origin, or a zero checkpoint
// when none has been saved yet.
func (s *CheckpointStore) Load(origin string) (Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(origin))
	if err != nil {
		if os.IsNotExist(err) {
			return Checkpoint{Origin: origin}, nil
		}
		return Checkpoint{}, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("parse checkpoint: %w", err)
	}
	cp.Origin = origin
	return cp, nil
}

// Save writes the checkpoint atomically (write to a temp file, then
// rename) so a crash never leaves a truncated checkpoint behind.
func (s *CheckpointStore) Save(cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp.SavedAt = time.Now().UTC()
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	path := s.path(cp.Origin)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

func (s *CheckpointStore) path(origin string) string {
	return filepath.Join(s.dir, sanitize(origin)+".json")
}

// sanitize turns an origin into a safe file name.
func sanitize(name string) string {
	if name == "" {
		return "default"
	}
	out := make([]byte, 0, len(name))
	for _, b := range []byte(name) {
		if (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '-' || b == '_' {
			out = append(out, b)
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}
