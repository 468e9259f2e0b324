// Package settings persists small operator-facing state. Currently it holds
// one key: the list of MCP server names administratively disabled, which must
// survive restarts independently of connection state.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Store exposes the persisted disabled-server list.
type Store interface {
	// DisabledServers returns the persisted list, default empty.
	DisabledServers() []string

	// SetServerDisabled updates the persisted flag for name.
	SetServerDisabled(name string, disabled bool) error

	// IsServerDisabled reports whether name is persisted as disabled.
	IsServerDisabled(name string) bool
}

type fileState struct {
	DisabledMCPServers []string `json:"disabled_mcp_servers"`
}

// FileStore is a JSON-file-backed Store. The file is read once at open and
// rewritten in full on every update.
type FileStore struct {
	mu       sync.RWMutex
	path     string
	disabled map[string]bool
}

var _ Store = (*FileStore)(nil)

// OpenFileStore loads or initializes the settings file at path. A missing
// file is not an error; it is created on first write.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, disabled: make(map[string]bool)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}

	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing settings file %s: %w", path, err)
	}
	for _, name := range state.DisabledMCPServers {
		s.disabled[name] = true
	}
	return s, nil
}

// DisabledServers implements Store.
func (s *FileStore) DisabledServers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disabledLocked()
}

// IsServerDisabled implements Store.
func (s *FileStore) IsServerDisabled(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disabled[name]
}

// SetServerDisabled implements Store.
func (s *FileStore) SetServerDisabled(name string, disabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disabled[name] == disabled {
		return nil
	}
	if disabled {
		s.disabled[name] = true
	} else {
		delete(s.disabled, name)
	}
	return s.saveLocked()
}

func (s *FileStore) disabledLocked() []string {
	names := make([]string, 0, len(s.disabled))
	for name := range s.disabled {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *FileStore) saveLocked() error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating settings dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(fileState{DisabledMCPServers: s.disabledLocked()}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing settings file: %w", err)
	}
	return nil
}

// MemoryStore is an in-memory Store for tests and ephemeral deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	disabled map[string]bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{disabled: make(map[string]bool)}
}

func (s *MemoryStore) DisabledServers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.disabled))
	for name := range s.disabled {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *MemoryStore) IsServerDisabled(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disabled[name]
}

func (s *MemoryStore) SetServerDisabled(name string, disabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if disabled {
		s.disabled[name] = true
	} else {
		delete(s.disabled, name)
	}
	return nil
}
