package commit

import "sync/atomic"

// DirtyFlag is the global "storage dirty" flag for one tracked component
// type (§4.6 step 2, §5 shared-resource policy): a cheap atomic short-
// circuit so the commit pass can skip scanning a storage with thousands of
// entries when nothing changed this tick. Mutators set it; the commit pass
// clears it once it has processed the storage.
type DirtyFlag struct {
	v atomic.Bool
}

// Set marks the storage dirty. Called by mutation call sites alongside
// Wrapped.Mutate.
func (f *DirtyFlag) Set() {
	f.v.Store(true)
}

// Load reports whether the storage has unprocessed changes.
func (f *DirtyFlag) Load() bool {
	return f.v.Load()
}

// Clear resets the flag once the commit pass has scanned the storage.
func (f *DirtyFlag) Clear() {
	f.v.Store(false)
}
