package component

import (
	"sync"

	"github.com/ocx/ecsforge/internal/wire"
)

// EncodeFunc produces the wire body for a tracked value given the mask to
// write into its reserved _mask field. Callers typically implement this
// with AppendMaskField plus their own field serialization.
type EncodeFunc[T any] func(data T, mask uint64) ([]byte, error)

// Wrapped is the generic tracked-component wrapper: a protobuf-backed
// value T together with up to four per-direction dirty-mask sets and a
// command identifier used as the wire opcode. A direction slot exists iff
// it was enabled at construction time (the mask-direction invariant).
type Wrapped[T any] struct {
	mu        sync.Mutex
	data      T
	direction Direction
	fieldMask uint64
	maskSets  map[Direction]*MaskSet
	fields    FieldDirections
	commandID uint32
	encode    EncodeFunc[T]
}

// New constructs a Wrapped component. enabled is the compile-time (here,
// construction-time) direction bitmask; only directions present in it get
// a MaskSet allocated, matching the source's "bits unset yield None".
func New[T any](data T, enabled Direction, commandID uint32, fields FieldDirections, encode EncodeFunc[T]) *Wrapped[T] {
	w := &Wrapped[T]{
		data:      data,
		direction: enabled,
		maskSets:  make(map[Direction]*MaskSet),
		fields:    fields,
		commandID: commandID,
		encode:    encode,
	}
	for _, d := range AllDirections {
		if enabled.Has(d) {
			w.maskSets[d] = NewMaskSet()
		}
	}
	return w
}

// Data returns a copy of the wrapped value for read-only inspection.
func (w *Wrapped[T]) Data() T {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.data
}

// Mutate applies fn to the wrapped value and sets the given field-mask
// bits, marking them written since the last commit. Systems call this
// from within their owning ECS storage borrow (single writer at a time).
func (w *Wrapped[T]) Mutate(fn func(*T), dirtyBits uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(&w.data)
	w.fieldMask |= dirtyBits
}

// IsDataDirty returns true iff any inner-field mask bit is set.
func (w *Wrapped[T]) IsDataDirty() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fieldMask != 0
}

// Commit snapshots the inner field mask, ORs it into every enabled
// direction's MaskSet, then clears the inner mask. Per the monotonic-
// accumulation invariant, bits survive across ticks in each direction's
// set until that direction's encode() drains them.
func (w *Wrapped[T]) Commit() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fieldMask == 0 {
		return
	}
	for _, set := range w.maskSets {
		set.OrScalar(w.fieldMask)
	}
	w.fieldMask = 0
}

// Encode filters direction's accumulated mask through the per-field
// visibility table, serializes the value with that mask, frames it, and
// clears only that direction's mask set. Returns ok=false if direction is
// not enabled for this component or there is nothing to send.
func (w *Wrapped[T]) Encode(entityID uint32, dir Direction) (framed []byte, ok bool, err error) {
	w.mu.Lock()
	if !w.direction.Has(dir) {
		w.mu.Unlock()
		return nil, false, nil
	}
	set, present := w.maskSets[dir]
	if !present {
		w.mu.Unlock()
		return nil, false, nil
	}
	raw := set.Scalar()
	filtered := w.fields.FilterMask(raw, dir)
	if filtered == 0 {
		w.mu.Unlock()
		return nil, false, nil
	}
	body, err := w.encode(w.data, filtered)
	if err != nil {
		w.mu.Unlock()
		return nil, false, err
	}
	set.Clear()
	cmdID := w.commandID
	w.mu.Unlock()

	frame := wire.OutboundFrame{EntityID: entityID, CommandID: cmdID, Body: body}
	return frame.Marshal(), true, nil
}

// Direction reports the compile-time (construction-time) enabled set.
func (w *Wrapped[T]) Direction() Direction {
	return w.direction
}

// EncodeFull serializes every field visible to dir regardless of dirty
// state, for the "full-state sync on enter" path (§4.6): an observer that
// just entered AoI needs the whole component, not just the pending delta,
// and draining it must not disturb dir's accumulated dirty-mask set.
func (w *Wrapped[T]) EncodeFull(entityID uint32, dir Direction) (framed []byte, ok bool, err error) {
	w.mu.Lock()
	if !w.direction.Has(dir) {
		w.mu.Unlock()
		return nil, false, nil
	}
	fullMask := w.fields.FilterMask(^uint64(0), dir)
	if fullMask == 0 {
		w.mu.Unlock()
		return nil, false, nil
	}
	body, err := w.encode(w.data, fullMask)
	cmdID := w.commandID
	w.mu.Unlock()
	if err != nil {
		return nil, false, err
	}
	frame := wire.OutboundFrame{EntityID: entityID, CommandID: cmdID, Body: body}
	return frame.Marshal(), true, nil
}
