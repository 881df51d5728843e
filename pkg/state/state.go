// Package state persists the operator's choices between invocations: the
// selected drive and firmware files picked by hand.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/adrg/xdg"

	"github.com/picorevive/picorevive/pkg/assets"
)

// State is what is kept on disk.
type State struct {
	Drive  string                 `json:"drive,omitempty"`
	Assets map[assets.Kind]string `json:"assets,omitempty"`
}

// Store reads and writes State at a single path.
type Store struct {
	Path string
	mu   sync.Mutex
}

// DefaultPath returns the state file location under the XDG state home,
// creating its directory.
func DefaultPath() (string, error) {
	p, err := xdg.StateFile(filepath.Join("picorevive", "state.json"))
	if err != nil {
		return "", fmt.Errorf("resolving state file: %w", err)
	}
	return p, nil
}

// Load returns the stored state. A missing file is an empty State.
func (s *Store) Load() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (State, error) {
	var st State
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("reading state: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("parsing %s: %w", s.Path, err)
	}
	return st, nil
}

// Update applies fn to the stored state and writes the result back.
func (s *Store) Update(fn func(*State)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load()
	if err != nil {
		return err
	}
	fn(&st)
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing state: %w", err)
	}
	return nil
}

// SetDrive records the selected drive; an empty path clears it.
func (s *Store) SetDrive(path string) error {
	return s.Update(func(st *State) {
		st.Drive = path
	})
}

// SetAsset records the operator's file for kind.
func (s *Store) SetAsset(kind assets.Kind, path string) error {
	return s.Update(func(st *State) {
		if st.Assets == nil {
			st.Assets = make(map[assets.Kind]string)
		}
		st.Assets[kind] = path
	})
}
