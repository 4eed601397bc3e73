package dynlib

import (
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"sync/atomic"
	"testing"
)

// fakeHandle is a pluginHandle whose exported symbols are supplied by the
// test, standing in for a real .so built with `go build -buildmode=plugin`.
type fakeHandle struct {
	symbols map[string]plugin.Symbol
}

func (f *fakeHandle) Lookup(name string) (plugin.Symbol, error) {
	if sym, ok := f.symbols[name]; ok {
		return sym, nil
	}
	return nil, fmt.Errorf("symbol %s not found", name)
}

func withFakeLoader(t *testing.T, openers ...func(path string) (pluginHandle, error)) {
	t.Helper()
	prevOpen := openPlugin
	idx := 0
	openPlugin = func(path string) (pluginHandle, error) {
		if idx >= len(openers) {
			idx = len(openers) - 1
		}
		f := openers[idx]
		idx++
		return f(path)
	}
	t.Cleanup(func() { openPlugin = prevOpen })
}

func writeFakeLibraryFile(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".so"), []byte("not a real plugin, just bytes to copy"), 0o644); err != nil {
		t.Fatalf("write fake library file: %v", err)
	}
}

func TestReloadIncrementsGenerationOnSuccess(t *testing.T) {
	dir := t.TempDir()
	writeFakeLibraryFile(t, dir, "gameplay")

	var greetVersion atomic.Value
	greetVersion.Store("v1")

	withFakeLoader(t, func(path string) (pluginHandle, error) {
		return &fakeHandle{symbols: map[string]plugin.Symbol{
			"Greet": func() string { return greetVersion.Load().(string) },
		}}, nil
	})

	mgr := NewManager(dir)
	lib := mgr.Get("gameplay")
	if lib.Generation() != 1 {
		t.Fatalf("expected generation 1 after first load, got %d", lib.Generation())
	}

	bound := NewBoundSystem[func() string]("gameplay", "Greet", mgr)
	fn, ok := bound.Resolve()
	if !ok {
		t.Fatal("expected symbol resolution to succeed")
	}
	if got := fn(); got != "v1" {
		t.Fatalf("got %q, want v1", got)
	}

	// Hot reload: the plugin now reports v2.
	greetVersion.Store("v2")
	mgr.Reload("gameplay")

	if lib.Generation() != 2 {
		t.Fatalf("expected generation 2 after reload, got %d", lib.Generation())
	}

	fn, ok = bound.Resolve()
	if !ok {
		t.Fatal("expected re-resolution to succeed")
	}
	if got := fn(); got != "v2" {
		t.Fatalf("got %q, want v2 after reload", got)
	}
	if bound.Generation() != 2 {
		t.Fatalf("bound system should have re-pinned to generation 2, got %d", bound.Generation())
	}
}

func TestFailedReloadRetainsPreviousGeneration(t *testing.T) {
	dir := t.TempDir()
	writeFakeLibraryFile(t, dir, "gameplay")

	withFakeLoader(t,
		func(path string) (pluginHandle, error) {
			return &fakeHandle{symbols: map[string]plugin.Symbol{
				"Greet": func() string { return "v1" },
			}}, nil
		},
		func(path string) (pluginHandle, error) {
			return nil, fmt.Errorf("simulated corrupt library")
		},
	)

	mgr := NewManager(dir)
	lib := mgr.Get("gameplay")
	if lib.Generation() != 1 {
		t.Fatalf("expected generation 1, got %d", lib.Generation())
	}

	mgr.Reload("gameplay")

	if lib.Generation() != 1 {
		t.Fatalf("failed reload must not change generation, got %d", lib.Generation())
	}

	sym, found := lib.Get("Greet")
	if !found {
		t.Fatal("expected previous symbol to remain resolvable after failed reload")
	}
	fn := sym.(func() string)
	if fn() != "v1" {
		t.Fatal("expected previous handle's behavior to persist after failed reload")
	}
}

func TestBoundSystemMissingSymbolSurfacesAsNotOK(t *testing.T) {
	dir := t.TempDir()
	writeFakeLibraryFile(t, dir, "gameplay")

	withFakeLoader(t, func(path string) (pluginHandle, error) {
		return &fakeHandle{symbols: map[string]plugin.Symbol{}}, nil
	})

	mgr := NewManager(dir)
	bound := NewBoundSystem[func() string]("gameplay", "DoesNotExist", mgr)
	if _, ok := bound.Resolve(); ok {
		t.Fatal("expected missing symbol to resolve as not-ok")
	}
}

func TestManagerGetIsCachedPerName(t *testing.T) {
	dir := t.TempDir()
	writeFakeLibraryFile(t, dir, "gameplay")

	loadCount := 0
	withFakeLoader(t, func(path string) (pluginHandle, error) {
		loadCount++
		return &fakeHandle{symbols: map[string]plugin.Symbol{}}, nil
	})

	mgr := NewManager(dir)
	a := mgr.Get("gameplay")
	b := mgr.Get("gameplay")
	if a != b {
		t.Fatal("expected the same *Library instance for repeated Get calls")
	}
	if loadCount != 1 {
		t.Fatalf("expected exactly one load, got %d", loadCount)
	}
}
