package dynlib

import "fmt"

// BoundSystem binds a reloadable function to an ECS system across ticks.
// It re-resolves the symbol only when the backing library's generation
// has advanced past what was last cached — the per-system cache from
// §4.1 that makes hot reload memory-safe: each tick takes a fresh
// reference and the dispatcher guarantees no two ticks of the same
// system overlap, so there is never a stale pointer live across a swap.
type BoundSystem[T any] struct {
	libraryName    string
	functionName   string
	manager        *Manager
	cachedGen      uint64
	cachedLib      *Library
	cachedSym      T
	cachedSymValid bool
}

// NewBoundSystem creates a bound system for (libraryName, functionName).
// T is the Go func type the caller expects the exported symbol to satisfy.
func NewBoundSystem[T any](libraryName, functionName string, manager *Manager) *BoundSystem[T] {
	return &BoundSystem[T]{
		libraryName:  libraryName,
		functionName: functionName,
		manager:      manager,
	}
}

// Resolve returns the current symbol, re-binding it if the library has
// been reloaded since the last call. A missing symbol or a signature
// mismatch surfaces as ok=false — the caller logs and skips the tick's
// work rather than panicking.
func (b *BoundSystem[T]) Resolve() (fn T, ok bool) {
	if b.cachedLib != nil && b.cachedLib.Generation() == b.cachedGen && b.cachedSymValid {
		return b.cachedSym, true
	}

	b.cachedLib = b.manager.Get(b.libraryName)
	b.cachedGen = b.cachedLib.Generation()
	b.cachedSymValid = false

	sym, found := b.cachedLib.Get(b.functionName)
	if !found {
		var zero T
		b.cachedSym = zero
		return zero, false
	}

	typed, assertOK := sym.(T)
	if !assertOK {
		var zero T
		b.cachedSym = zero
		return zero, false
	}

	b.cachedSym = typed
	b.cachedSymValid = true
	return typed, true
}

// Generation reports the generation this bound system is currently
// pinned to, mostly useful for tests and the admin surface.
func (b *BoundSystem[T]) Generation() uint64 {
	return b.cachedGen
}

func (b *BoundSystem[T]) String() string {
	return fmt.Sprintf("%s::%s@gen%d", b.libraryName, b.functionName, b.cachedGen)
}
