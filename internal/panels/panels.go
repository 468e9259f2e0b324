// Package panels models the UI-panel collaborator: per-panel tool manifests
// and the ambient editor context used for context injection. The orchestrator
// consumes this through the Registry interface; the in-memory implementation
// backs tests and single-process deployments.
package panels

import (
	"sort"
	"sync"
)

// Parameter is one raw tool-parameter descriptor as declared by a panel
// manifest. Discovery converts the descriptor list into the object-schema
// form provider adapters consume.
type Parameter struct {
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Required    bool           `json:"required"`
	Description string         `json:"description,omitempty"`
	Items       map[string]any `json:"items,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
}

// Tool is one panel-scoped tool entry: the model-facing descriptor plus the
// endpoint the panel executor calls to perform it.
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Endpoint    string      `json:"endpoint"`
	Method      string      `json:"method"`
	Parameters  []Parameter `json:"parameters,omitempty"`
}

// Manifest is the full tool manifest for one panel.
type Manifest struct {
	PanelID string `json:"panel_id"`
	BaseURL string `json:"base_url,omitempty"`
	Tools   []Tool `json:"tools,omitempty"`
}

// Tool returns the manifest entry for name, if present.
func (m *Manifest) Tool(name string) (*Tool, bool) {
	if m == nil {
		return nil, false
	}
	for i := range m.Tools {
		if m.Tools[i].Name == name {
			return &m.Tools[i], true
		}
	}
	return nil, false
}

// AmbientContext is the live editor state a rich-context panel exposes.
type AmbientContext struct {
	FilePath      string `json:"file_path,omitempty"`
	WorkspaceRoot string `json:"workspace_root,omitempty"`
	Language      string `json:"language,omitempty"`
	Dirty         bool   `json:"dirty"`
	Mode          string `json:"mode,omitempty"`
	Content       string `json:"content,omitempty"`
}

// Registry exposes panel manifests and ambient state. Implementations must be
// safe for concurrent readers; queries never mutate state.
type Registry interface {
	// Manifest returns the tool manifest for panelID. Unknown panels return
	// false, not an error.
	Manifest(panelID string) (*Manifest, bool)

	// AmbientContext returns the live editor context for panelID, if the
	// panel publishes one.
	AmbientContext(panelID string) (*AmbientContext, bool)

	// PanelIDs lists the registered panels in sorted order.
	PanelIDs() []string
}

// MemoryRegistry is a mutex-guarded in-memory Registry.
type MemoryRegistry struct {
	mu        sync.RWMutex
	manifests map[string]*Manifest
	ambient   map[string]*AmbientContext
}

var _ Registry = (*MemoryRegistry)(nil)

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		manifests: make(map[string]*Manifest),
		ambient:   make(map[string]*AmbientContext),
	}
}

// Register installs or replaces the manifest for its panel.
func (r *MemoryRegistry) Register(manifest *Manifest) {
	if manifest == nil || manifest.PanelID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manifests[manifest.PanelID] = manifest
}

// SetAmbientContext installs or replaces the ambient context for panelID.
func (r *MemoryRegistry) SetAmbientContext(panelID string, ctx *AmbientContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx == nil {
		delete(r.ambient, panelID)
		return
	}
	r.ambient[panelID] = ctx
}

// Manifest implements Registry.
func (r *MemoryRegistry) Manifest(panelID string) (*Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.manifests[panelID]
	return m, ok
}

// AmbientContext implements Registry.
func (r *MemoryRegistry) AmbientContext(panelID string) (*AmbientContext, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.ambient[panelID]
	return c, ok
}

// PanelIDs implements Registry.
func (r *MemoryRegistry) PanelIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.manifests))
	for id := range r.manifests {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
