package component

// FieldDirections maps a field-mask bit index to the set of directions
// allowed to observe changes to that field, precomputed per message type
// (in the source system, by the schema code generator; here, supplied by
// the caller when constructing a Wrapped). In a non-nil table, a bit with
// no entry is visible to no direction; a nil table filters nothing, so
// every bit is visible to every direction.
type FieldDirections map[uint]Direction

// FilterMask ANDs the pending mask with the direction's per-field
// visibility, per §4.2.1: walks the bit-indexed field list and keeps only
// bits the direction is permitted to see. Nested message/map filtering is
// the caller's responsibility (see MaskSet.MapKeys) — this only handles
// the outer field mask.
func (fd FieldDirections) FilterMask(mask uint64, dir Direction) uint64 {
	if fd == nil {
		return mask
	}
	var out uint64
	for bit := uint(0); bit < 64; bit++ {
		bitMask := uint64(1) << bit
		if mask&bitMask == 0 {
			continue
		}
		if fd[bit].Has(dir) {
			out |= bitMask
		}
	}
	return out
}
