// Package prompts models the prompt-store collaborator: the latest built
// system prompt per user and the self-improvement notes recorded per panel.
package prompts

import "sync"

// Store exposes prompt material the orchestrator injects into a run.
type Store interface {
	// SystemPrompt returns the latest system prompt snapshot for userID.
	// An empty string means no prompt has been built; the run proceeds
	// without a system message.
	SystemPrompt(userID string) string

	// Notes returns the recorded self-improvement notes for panelID, oldest
	// first. May be empty.
	Notes(panelID string) []string
}

// MemoryStore is a mutex-guarded in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	prompts map[string]string
	notes   map[string][]string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		prompts: make(map[string]string),
		notes:   make(map[string][]string),
	}
}

// SetSystemPrompt records the system prompt snapshot for userID.
func (s *MemoryStore) SetSystemPrompt(userID, prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts[userID] = prompt
}

// AddNote appends a self-improvement note for panelID.
func (s *MemoryStore) AddNote(panelID, note string) {
	if note == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[panelID] = append(s.notes[panelID], note)
}

// SystemPrompt implements Store.
func (s *MemoryStore) SystemPrompt(userID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prompts[userID]
}

// Notes implements Store.
func (s *MemoryStore) Notes(panelID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	notes := s.notes[panelID]
	out := make([]string, len(notes))
	copy(out, notes)
	return out
}
