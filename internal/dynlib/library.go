// Package dynlib implements the hot-reloadable plugin registry: shared
// objects are loaded by name, cached, versioned by a monotonic generation
// counter, and handed out as typed function pointers that per-system
// caches re-resolve only when their cached generation goes stale.
//
// Go's plugin package (plugin.Open/plugin.Lookup) is the closest in-process
// analogue to the source's libloading-based dlsym-by-name resolution: both
// resolve an exported symbol from a shared object by string name into an
// untyped value the caller type-asserts. No third-party library in this
// module's dependency graph does dlopen-style in-process symbol
// resolution — RPC-over-subprocess plugin frameworks are a different model
// entirely — so this package is the one place stdlib is used on purpose.
//
// plugin.Open has no unload primitive, and it caches by the resolved file
// path: opening the same path twice returns the already-loaded plugin even
// if the file on disk changed. Unlike the source language (where copying
// the .so to a uniquely-named path before load is an optional debug-only
// trick), here it is load-bearing on every reload — without it, "reload"
// would silently hand back the stale cached plugin.
package dynlib

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"plugin"
	"sync"
	"time"
)

// pluginHandle is the subset of *plugin.Plugin this package depends on.
// Abstracting it lets tests substitute a fake loader instead of building
// a real .so, which the Go toolchain's plugin buildmode needs to produce.
type pluginHandle interface {
	Lookup(symName string) (plugin.Symbol, error)
}

// openPlugin is plugin.Open by default; tests override it.
var openPlugin = func(path string) (pluginHandle, error) {
	return plugin.Open(path)
}

// Library is a loaded shared object: name, generation, and current handle.
// Multiple Symbols may reference the same Library.
type Library struct {
	mu         sync.RWMutex
	name       string
	root       string
	handle     pluginHandle
	generation uint64
	logger     *log.Logger
}

// newLibrary constructs a Library and performs its first load.
func newLibrary(name, root string) *Library {
	l := &Library{
		name:   name,
		root:   root,
		logger: log.New(log.Writer(), fmt.Sprintf("[DYNLIB %s] ", name), log.LstdFlags),
	}
	l.reload()
	return l
}

// libraryFilename mirrors libloading::library_filename: a platform shared
// object name for a bare library name.
func libraryFilename(name string) string {
	return name + ".so"
}

// reload attempts to (re)load the shared object from <root>/<name>.so. On
// success, generation strictly increases and init_logger (if exported) is
// invoked once. On failure, the previous handle and generation are left
// untouched — per §4.1 failure semantics, systems keep running the old
// code until an explicit reload succeeds.
func (l *Library) reload() {
	srcPath := filepath.Join(l.root, libraryFilename(l.name))

	// Copy to a generation-unique path so plugin.Open's per-path cache
	// can't hand back a stale plugin for an unchanged file name.
	loadPath := fmt.Sprintf("%s.%d", srcPath, time.Now().UnixNano())
	if err := copyFile(srcPath, loadPath); err != nil {
		l.logger.Printf("copy library file from %s to %s failed: %v", srcPath, loadPath, err)
		return
	}
	defer os.Remove(loadPath)

	l.logger.Printf("loading library %s", loadPath)
	handle, err := openPlugin(loadPath)
	if err != nil {
		l.logger.Printf("open library %q failed: %v", l.name, err)
		return
	}

	l.mu.Lock()
	l.handle = handle
	l.generation++
	gen := l.generation
	l.mu.Unlock()

	l.logger.Printf("loaded library %q generation=%d", l.name, gen)

	if initSym, err := handle.Lookup("InitLogger"); err == nil {
		if initFn, ok := initSym.(func(*log.Logger)); ok {
			initFn(l.logger)
		} else {
			l.logger.Printf("InitLogger export has unexpected signature, skipping")
		}
	}
}

// Reload forces a fresh load attempt, the Go equivalent of the explicit
// reload trigger in §4.1.
func (l *Library) Reload() {
	l.reload()
}

// Get resolves a symbol by name; callers declare the Go func type they
// expect via a type assertion on the returned value, mirroring the
// source's "callers are responsible for signature correctness" tradeoff.
func (l *Library) Get(name string) (plugin.Symbol, bool) {
	l.mu.RLock()
	handle := l.handle
	l.mu.RUnlock()
	if handle == nil {
		l.logger.Printf("library is not loaded")
		return nil, false
	}
	sym, err := handle.Lookup(name)
	if err != nil {
		l.logger.Printf("get function %s from library %s failed: %v", name, l.name, err)
		return nil, false
	}
	return sym, true
}

// Generation returns the current load generation.
func (l *Library) Generation() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.generation
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o755)
}
