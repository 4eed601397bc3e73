package dynlib

import (
	"log"
	"sync"
)

// Manager caches loaded libraries by name, loading on first request. Reads
// dominate; a read-write lock guards the name→library map.
type Manager struct {
	mu          sync.RWMutex
	libraries   map[string]*Library
	libraryPath string
	logger      *log.Logger
}

// NewManager creates a registry rooted at libraryPath, the directory
// plugin files are loaded from (the configuration surface's library_path
// option, §6).
func NewManager(libraryPath string) *Manager {
	return &Manager{
		libraries:   make(map[string]*Library),
		libraryPath: libraryPath,
		logger:      log.New(log.Writer(), "[DYNLIB] ", log.LstdFlags),
	}
}

// Get returns the cached Library handle, loading it on first reference.
func (m *Manager) Get(name string) *Library {
	m.mu.RLock()
	if lib, ok := m.libraries[name]; ok {
		m.mu.RUnlock()
		return lib
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if lib, ok := m.libraries[name]; ok {
		return lib
	}
	lib := newLibrary(name, m.libraryPath)
	m.libraries[name] = lib
	return lib
}

// Reload forces a reload of an already-loaded library by name; a no-op if
// the library has never been referenced.
func (m *Manager) Reload(name string) bool {
	m.mu.RLock()
	lib, ok := m.libraries[name]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	lib.Reload()
	return true
}

// List returns the name and generation of every library referenced so
// far, for the admin surface's "list libraries" operation.
type LibraryInfo struct {
	Name       string
	Generation uint64
}

func (m *Manager) List() []LibraryInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]LibraryInfo, 0, len(m.libraries))
	for name, lib := range m.libraries {
		out = append(out, LibraryInfo{Name: name, Generation: lib.Generation()})
	}
	return out
}
