package client

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// state is the on-disk snapshot of the registry: thread ids and the active
// pointer, enough to resume the same server sessions after a restart.
type state struct {
	Active  string   `json:"active"`
	Threads []string `json:"threads"`
}

// SaveState writes the registry snapshot to path, creating parent
// directories as needed.
func (m *Manager) SaveState(path string) error {
	m.mu.Lock()
	snap := state{Active: m.active, Threads: make([]string, 0, len(m.threads))}
	for id := range m.threads {
		snap.Threads = append(snap.Threads, id)
	}
	m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

// LoadState restores threads from a snapshot. Transcripts are not stored
// locally; history lives on the server under the same session ids. A
// missing file is not an error.
func (m *Manager) LoadState(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var snap state
	if err := json.Unmarshal(raw, &snap); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range snap.Threads {
		if _, ok := m.threads[id]; !ok {
			m.threads[id] = &Thread{ID: id}
		}
	}
	if _, ok := m.threads[snap.Active]; ok {
		m.active = snap.Active
	}
	return nil
}

// ClientToken returns the stable token identifying this client install,
// minting and persisting a fresh one when the file is absent or empty.
func ClientToken(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		if token := strings.TrimSpace(string(raw)); token != "" {
			return token, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	token := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return "", err
	}
	return token, nil
}
