package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
)

// Store is the single writer of the task graph's on-disk representation. It
// is not concurrency-safe by itself; callers (the scheduler) serialize
// access through their own mutex, exactly as spec section 4.1 requires.
type Store struct {
	path string
	log  zerolog.Logger
}

// New builds a Store rooted at path. It does not touch the filesystem; call
// Load to materialize a default empty state if none exists yet.
func New(path string, log zerolog.Logger) *Store {
	return &Store{path: path, log: log.With().Str("component", "store").Logger()}
}

// Load reads the state file, creating a default empty document on first
// run. A malformed file is a fatal error: the scheduler has nothing safe to
// fall back to.
func (s *Store) Load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.log.Info().Str("path", s.path).Msg("no state file found, initializing empty state")
		state := NewState()
		if err := s.Save(state); err != nil {
			return nil, fmt.Errorf("initializing state file: %w", err)
		}
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	state := NewState()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("parsing state file %s: %w", s.path, err)
	}
	state.Normalize()
	return state, nil
}

// Save serializes state and atomically replaces the state file: write to a
// temp sibling, fsync, rename over the target. On failure the file keeps
// its previous content; the scheduler logs the error, keeps the mutation
// in memory, and writes it out again with the next state change rather
// than crashing the process.
func (s *Store) Save(state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating state directory: %w", err)
		}
	}
	if err := renameio.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("atomically writing state file: %w", err)
	}
	return nil
}
