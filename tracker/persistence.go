package tracker

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// Snapshot is the on-disk connection-history record (spec §4.10
// Persistence): one {time, connections, completed} sample appended each
// time /database.json is served, reloaded and appended-to across restarts.
// Save writes the samples recorded so far and adds none of its own.
type Snapshot struct {
	mu sync.Mutex

	Times       []string `json:"times"`
	Connections []int64  `json:"connections"`
	Completed   []int64  `json:"completed"`

	path string
}

// LoadSnapshot reads path if it exists, or returns an empty Snapshot bound
// to path if it does not (spec §4.10: "if the file exists, reload and
// continue appending").
func LoadSnapshot(path string) (*Snapshot, error) {
	snap := &Snapshot{path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return snap, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "tracker: read snapshot")
	}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, errors.Wrap(err, "tracker: parse snapshot")
	}
	return snap, nil
}

// Record appends one sample.
func (s *Snapshot) Record(timestamp string, connections, completed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Times = append(s.Times, timestamp)
	s.Connections = append(s.Connections, connections)
	s.Completed = append(s.Completed, completed)
}

// Save writes the snapshot to its path, used on the `q\n` shutdown signal
// (spec §4.10).
func (s *Snapshot) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, "tracker: marshal snapshot")
	}
	return errors.Wrap(os.WriteFile(s.path, data, 0o644), "tracker: write snapshot")
}
