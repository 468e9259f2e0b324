package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/strandlabs/strand/internal/settings"
	"github.com/strandlabs/strand/pkg/models"
)

// DefaultReloadDebounce coalesces rapid successive config edits into one
// reload cycle.
const DefaultReloadDebounce = 500 * time.Millisecond

// EventType labels a bridge lifecycle notification.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
)

// Event is one lifecycle notification delivered to observers.
type Event struct {
	Type   EventType
	Server string
}

// Observer receives lifecycle events. Observers are invoked synchronously
// and must not block.
type Observer func(Event)

// ServerStatus is the read-only operational view of one configured server.
type ServerStatus struct {
	Name              string   `json:"name"`
	ToolCount         int      `json:"tool_count"`
	Tools             []string `json:"tools"`
	Enabled           bool     `json:"enabled"`
	Connected         bool     `json:"connected"`
	PersistedDisabled bool     `json:"persisted_disabled"`
}

type registeredTool struct {
	server   string
	original string
	def      models.ToolDefinition
}

// Bridge manages N independent tool-server processes: connection lifecycle,
// the merged registry under composite {server}_{tool} keys, hot reload on
// config change, and call proxying.
//
// All state mutation (connect, disconnect, reload, shutdown) is serialized
// through initMu: an in-flight initialization makes concurrent callers wait
// rather than race. Registry reads take the lighter mu.
type Bridge struct {
	configPath string
	settings   settings.Store
	logger     *slog.Logger
	debounce   time.Duration
	transports TransportFactory

	initMu sync.Mutex

	mu      sync.RWMutex
	configs map[string]ServerConfig
	clients map[string]*Client
	tools   map[string]registeredTool

	obsMu     sync.Mutex
	observers []Observer

	watcher   *fsnotify.Watcher
	watchStop chan struct{}
	watchWg   sync.WaitGroup
}

// Options configures a Bridge.
type Options struct {
	// ConfigPath locates the JSON server configuration file.
	ConfigPath string

	// Settings persists the administratively-disabled server list.
	Settings settings.Store

	// ReloadDebounce overrides the hot-reload coalescing window.
	ReloadDebounce time.Duration

	// Transports overrides transport construction. Defaults to stdio.
	Transports TransportFactory

	Logger *slog.Logger
}

// NewBridge creates a bridge. Call Initialize to load config and connect.
func NewBridge(opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := opts.ReloadDebounce
	if debounce <= 0 {
		debounce = DefaultReloadDebounce
	}
	factory := opts.Transports
	if factory == nil {
		factory = func(name string, cfg ServerConfig) Transport {
			return NewStdioTransport(name, cfg)
		}
	}
	store := opts.Settings
	if store == nil {
		store = settings.NewMemoryStore()
	}
	return &Bridge{
		configPath: opts.ConfigPath,
		settings:   store,
		logger:     logger.With("component", "mcp-bridge"),
		debounce:   debounce,
		transports: factory,
		configs:    make(map[string]ServerConfig),
		clients:    make(map[string]*Client),
		tools:      make(map[string]registeredTool),
	}
}

// Subscribe registers an observer for connect/disconnect notifications.
func (b *Bridge) Subscribe(obs Observer) {
	if obs == nil {
		return
	}
	b.obsMu.Lock()
	defer b.obsMu.Unlock()
	b.observers = append(b.observers, obs)
}

func (b *Bridge) notify(event Event) {
	b.obsMu.Lock()
	observers := make([]Observer, len(b.observers))
	copy(observers, b.observers)
	b.obsMu.Unlock()
	for _, obs := range observers {
		obs(event)
	}
}

// Initialize loads the configuration file and connects every enabled server
// that is not persisted-disabled. A single server's failure is logged and
// skipped; it never aborts the remaining servers. Starts the config watcher.
func (b *Bridge) Initialize(ctx context.Context) error {
	b.initMu.Lock()
	defer b.initMu.Unlock()

	if err := b.initializeLocked(ctx); err != nil {
		return err
	}
	b.startWatcher()
	return nil
}

func (b *Bridge) initializeLocked(ctx context.Context) error {
	configs, err := b.loadConfig()
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.configs = configs
	b.mu.Unlock()

	for _, name := range sortedNames(configs) {
		cfg := configs[name]
		if !cfg.Enabled {
			b.logger.Debug("server disabled in config", "server", name)
			continue
		}
		if b.settings.IsServerDisabled(name) {
			b.logger.Debug("server administratively disabled", "server", name)
			continue
		}
		if err := b.connectLocked(ctx, name, cfg); err != nil {
			b.logger.Warn("server connection failed, skipping", "server", name, "error", err)
		}
	}
	return nil
}

func (b *Bridge) loadConfig() (map[string]ServerConfig, error) {
	if b.configPath == "" {
		return map[string]ServerConfig{}, nil
	}
	data, err := os.ReadFile(b.configPath)
	if os.IsNotExist(err) {
		b.logger.Debug("no bridge config file", "path", b.configPath)
		return map[string]ServerConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading bridge config: %w", err)
	}
	var cfg BridgeConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing bridge config %s: %w", b.configPath, err)
	}
	if cfg.Servers == nil {
		cfg.Servers = map[string]ServerConfig{}
	}
	return cfg.Servers, nil
}

// connectLocked spawns, handshakes, and registers one server. Caller holds
// initMu.
func (b *Bridge) connectLocked(ctx context.Context, name string, cfg ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	client := NewClient(name, b.transports(name, cfg), b.logger)
	if err := client.Connect(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	b.clients[name] = client
	for _, tool := range client.Tools() {
		composite := name + "_" + tool.Name
		b.tools[composite] = registeredTool{
			server:   name,
			original: tool.Name,
			def: models.ToolDefinition{
				Name:        composite,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		}
	}
	b.mu.Unlock()

	b.notify(Event{Type: EventConnected, Server: name})
	return nil
}

// disconnectLocked removes a server's registry entries before closing its
// client, so callers never observe stale overlapping state. Close failures
// are logged, not raised. Caller holds initMu.
func (b *Bridge) disconnectLocked(name string) {
	b.mu.Lock()
	client := b.clients[name]
	delete(b.clients, name)
	for composite, entry := range b.tools {
		if entry.server == name {
			delete(b.tools, composite)
		}
	}
	b.mu.Unlock()

	if client != nil {
		if err := client.Close(); err != nil {
			b.logger.Warn("closing client failed", "server", name, "error", err)
		}
		b.notify(Event{Type: EventDisconnected, Server: name})
	}
}

// ConnectServer explicitly connects one named server; unlike bulk
// initialization, failures propagate to the caller.
func (b *Bridge) ConnectServer(ctx context.Context, name string) error {
	b.initMu.Lock()
	defer b.initMu.Unlock()

	b.mu.RLock()
	cfg, known := b.configs[name]
	_, connected := b.clients[name]
	b.mu.RUnlock()

	if !known {
		return fmt.Errorf("unknown server %q", name)
	}
	if connected {
		return nil
	}
	return b.connectLocked(ctx, name, cfg)
}

// DisconnectServer disconnects one named server.
func (b *Bridge) DisconnectServer(ctx context.Context, name string) error {
	b.initMu.Lock()
	defer b.initMu.Unlock()

	b.mu.RLock()
	_, connected := b.clients[name]
	b.mu.RUnlock()
	if !connected {
		return fmt.Errorf("server %q is not connected", name)
	}
	b.disconnectLocked(name)
	return nil
}

// ToggleServer enables or disables a server and keeps the persisted flag
// consistent with the request even when no process is running.
func (b *Bridge) ToggleServer(ctx context.Context, name string, enabled bool) error {
	b.initMu.Lock()
	defer b.initMu.Unlock()

	b.mu.RLock()
	cfg, known := b.configs[name]
	_, connected := b.clients[name]
	b.mu.RUnlock()

	if enabled {
		if !known {
			return fmt.Errorf("unknown server %q", name)
		}
		if err := b.settings.SetServerDisabled(name, false); err != nil {
			return fmt.Errorf("persisting enable: %w", err)
		}
		if connected {
			// Already running; the cleared flag is the whole effect.
			b.notify(Event{Type: EventConnected, Server: name})
			return nil
		}
		return b.connectLocked(ctx, name, cfg)
	}

	if connected {
		b.disconnectLocked(name)
	}
	if err := b.settings.SetServerDisabled(name, true); err != nil {
		return fmt.Errorf("persisting disable: %w", err)
	}
	if !connected {
		// Nothing was running; still notify so state stays observable.
		b.notify(Event{Type: EventDisconnected, Server: name})
	}
	return nil
}

// CallTool invokes a tool by its composite {server}_{tool} name, forwarding
// the original tool name to the owning server. A result flagged as an error
// is normalized into a Go error carrying the flattened content.
func (b *Bridge) CallTool(ctx context.Context, compositeName string, args map[string]any) (any, error) {
	b.mu.RLock()
	entry, ok := b.tools[compositeName]
	var client *Client
	if ok {
		client = b.clients[entry.server]
	}
	b.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown tool %q", compositeName)
	}
	if client == nil {
		return nil, fmt.Errorf("server %q for tool %q is not connected", entry.server, compositeName)
	}

	result, err := client.CallTool(ctx, entry.original, args)
	if err != nil {
		return nil, err
	}
	if result.IsError {
		msg := result.Text()
		if msg == "" {
			msg = "tool reported an error"
		}
		return nil, fmt.Errorf("%s", msg)
	}
	return result.Content, nil
}

// ConnectedTools returns the composite-named definitions of every tool whose
// server is currently connected. Registry entries from a server that dropped
// its connection are not exposed.
func (b *Bridge) ConnectedTools() []models.ToolDefinition {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var defs []models.ToolDefinition
	for _, entry := range b.tools {
		client := b.clients[entry.server]
		if client == nil || !client.Connected() {
			continue
		}
		defs = append(defs, entry.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// ServerTools returns the composite-named definitions for one server.
func (b *Bridge) ServerTools(name string) []models.ToolDefinition {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var defs []models.ToolDefinition
	for _, entry := range b.tools {
		if entry.server == name {
			defs = append(defs, entry.def)
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// ConfiguredServers merges static configuration with live status. Read-only;
// querying never mutates connection state.
func (b *Bridge) ConfiguredServers() []ServerStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()

	statuses := make([]ServerStatus, 0, len(b.configs))
	for _, name := range sortedNames(b.configs) {
		cfg := b.configs[name]
		status := ServerStatus{
			Name:              name,
			Enabled:           cfg.Enabled,
			PersistedDisabled: b.settings.IsServerDisabled(name),
			Tools:             []string{},
		}
		if client, ok := b.clients[name]; ok {
			status.Connected = client.Connected()
		}
		for composite, entry := range b.tools {
			if entry.server == name {
				status.Tools = append(status.Tools, composite)
			}
		}
		sort.Strings(status.Tools)
		status.ToolCount = len(status.Tools)
		statuses = append(statuses, status)
	}
	return statuses
}

// Shutdown disconnects all servers and stops the watcher. The context is a
// teardown deadline: if disconnects are still in flight when it expires,
// Shutdown returns and lets them finish in the background.
func (b *Bridge) Shutdown(ctx context.Context) {
	b.stopWatcher()

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.initMu.Lock()
		defer b.initMu.Unlock()
		for _, name := range b.connectedNames() {
			b.disconnectLocked(name)
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("bridge shutdown deadline exceeded", "error", ctx.Err())
	}
}

// Reload performs a full teardown-and-reinitialize cycle. Deliberately no
// incremental diffing; correctness over minimizing churn.
func (b *Bridge) Reload(ctx context.Context) error {
	b.initMu.Lock()
	defer b.initMu.Unlock()

	for _, name := range b.connectedNames() {
		b.disconnectLocked(name)
	}
	return b.initializeLocked(ctx)
}

func (b *Bridge) connectedNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.clients))
	for name := range b.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// startWatcher watches the config file and schedules a debounced reload on
// any change event. Caller holds initMu.
func (b *Bridge) startWatcher() {
	if b.configPath == "" || b.watcher != nil {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		b.logger.Warn("config watch unavailable", "error", err)
		return
	}
	if err := watcher.Add(b.configPath); err != nil {
		b.logger.Warn("cannot watch bridge config", "path", b.configPath, "error", err)
		watcher.Close()
		return
	}

	b.watcher = watcher
	b.watchStop = make(chan struct{})
	b.watchWg.Add(1)
	go b.watchLoop(watcher, b.watchStop)
	b.logger.Debug("watching bridge config", "path", b.configPath)
}

func (b *Bridge) watchLoop(watcher *fsnotify.Watcher, stop chan struct{}) {
	defer b.watchWg.Done()

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(b.debounce, func() {
			if err := b.Reload(context.Background()); err != nil {
				b.logger.Warn("bridge reload failed", "error", err)
			}
		})
	}

	for {
		select {
		case <-stop:
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			b.logger.Warn("config watch error", "error", err)
		}
	}
}

func (b *Bridge) stopWatcher() {
	if b.watcher == nil {
		return
	}
	close(b.watchStop)
	b.watcher.Close()
	b.watchWg.Wait()
	b.watcher = nil
}

func sortedNames(configs map[string]ServerConfig) []string {
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
