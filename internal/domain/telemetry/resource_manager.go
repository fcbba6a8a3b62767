package telemetry

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Resource is one hot-reloadable, versioned artifact (a system prompt
// template, a subtype/skill config bundle, a toolset policy) that the
// running dispatch pipeline reads without restarting.
type Resource struct {
	Name    string
	Version int
	Body    string // raw text or JSON, caller decides how to parse
}

// ResourceManager polls a directory of resource files and hot-reloads
// them, grounded on the same poll-and-diff pattern used for AgentLoopConfig
// reload: track each file's mtime, re-read and bump the version on change.
type ResourceManager struct {
	dir      string
	interval time.Duration
	logger   *zap.Logger

	mu        sync.RWMutex
	resources map[string]Resource
	modTimes  map[string]time.Time

	stopCh  chan struct{}
	stopped bool
}

// NewResourceManager creates a manager polling dir for resource files:
// every file in dir (subdirectories are skipped), keyed by file name.
// logger may be nil.
func NewResourceManager(dir string, logger *zap.Logger) *ResourceManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &ResourceManager{
		dir:       dir,
		interval:  5 * time.Second,
		logger:    logger.With(zap.String("component", "resource-manager")),
		resources: make(map[string]Resource),
		modTimes:  make(map[string]time.Time),
		stopCh:    make(chan struct{}),
	}
	m.reloadAll()
	return m
}

// SetInterval overrides the polling interval (for tests).
func (m *ResourceManager) SetInterval(d time.Duration) {
	m.interval = d
}

// Get returns the current version of a named resource.
func (m *ResourceManager) Get(name string) (Resource, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.resources[name]
	return r, ok
}

// Put registers or overwrites a resource directly (used in tests, or for
// resources sourced from the database rather than the filesystem).
func (m *ResourceManager) Put(name, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.resources[name]
	m.resources[name] = Resource{Name: name, Version: prev.Version + 1, Body: body}
}

// Start begins polling the resource directory. Blocks until Stop is called.
func (m *ResourceManager) Start() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.reloadAll()
		}
	}
}

// Stop halts polling.
func (m *ResourceManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stopped {
		close(m.stopCh)
		m.stopped = true
	}
}

func (m *ResourceManager) reloadAll() {
	if m.dir == "" {
		return
	}
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		m.logger.Warn("resource dir read failed", zap.String("dir", m.dir), zap.Error(err))
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := m.dir + "/" + entry.Name()
		info, err := entry.Info()
		if err != nil {
			continue
		}

		m.mu.RLock()
		last, seen := m.modTimes[entry.Name()]
		m.mu.RUnlock()
		if seen && !info.ModTime().After(last) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			m.logger.Warn("resource read failed", zap.String("file", path), zap.Error(err))
			continue
		}

		m.mu.Lock()
		prev := m.resources[entry.Name()]
		m.resources[entry.Name()] = Resource{Name: entry.Name(), Version: prev.Version + 1, Body: string(data)}
		m.modTimes[entry.Name()] = info.ModTime()
		m.mu.Unlock()

		m.logger.Info("resource reloaded", zap.String("name", entry.Name()), zap.Int("version", prev.Version+1))
	}
}

// DecodeJSON unmarshals a resource's body into dst.
func (r Resource) DecodeJSON(dst any) error {
	return json.Unmarshal([]byte(r.Body), dst)
}
