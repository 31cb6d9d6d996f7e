package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pondok-erp/pondok-erp/internal/session"
)

// ErrNoState is returned by Load when nothing has been saved yet.
var ErrNoState = errors.New("client: no saved session")

// State is what the CLI remembers between invocations.
type State struct {
	Server  string           `json:"server"`
	Token   string           `json:"token"`
	User    session.Snapshot `json:"user"`
	SavedAt time.Time        `json:"savedAt"`
}

// StateFile persists State as JSON readable only by the owner.
type StateFile struct {
	path string
}

// NewStateFile uses path, or <user config dir>/pondok/session.json when
// path is empty.
func NewStateFile(path string) (*StateFile, error) {
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("client: config dir: %w", err)
		}
		path = filepath.Join(dir, "pondok", "session.json")
	}
	return &StateFile{path: path}, nil
}

// Path returns the file location.
func (f *StateFile) Path() string { return f.path }

// Load reads the saved state.
func (f *StateFile) Load() (State, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(raw) == 0) {
		return State{}, ErrNoState
	}
	if err != nil {
		return State{}, err
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, fmt.Errorf("client: parse %s: %w", f.path, err)
	}
	if st.Token == "" {
		return State{}, ErrNoState
	}
	return st, nil
}

// Save writes st, replacing any previous state.
func (f *StateFile) Save(st State) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	if st.SavedAt.IsZero() {
		st.SavedAt = time.Now().UTC()
	}
	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

// Clear removes the saved state. A missing file is not an error.
func (f *StateFile) Clear() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
