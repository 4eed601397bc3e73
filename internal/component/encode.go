package component

import "google.golang.org/protobuf/encoding/protowire"

// MaskFieldNumber and DeletedFieldNumber are the two highest field numbers
// every tracked message reserves, per the wire convention: uint64 _mask
// and bool _deleted. Message-specific Marshal funcs append these after
// their own fields using the helpers below, rather than depending on the
// full protobuf reflection/descriptor machinery.
const (
	MaskFieldNumber     = 62
	DeletedFieldNumber  = 63
)

// AppendMaskField appends the reserved uint64 _mask field in standard
// protobuf wire format (tag + varint), using the low-level protowire
// primitives rather than full message reflection.
func AppendMaskField(b []byte, mask uint64) []byte {
	b = protowire.AppendTag(b, MaskFieldNumber, protowire.VarintType)
	b = protowire.AppendVarint(b, mask)
	return b
}

// AppendDeletedField appends the reserved bool _deleted field.
func AppendDeletedField(b []byte, deleted bool) []byte {
	var v uint64
	if deleted {
		v = 1
	}
	b = protowire.AppendTag(b, DeletedFieldNumber, protowire.VarintType)
	b = protowire.AppendVarint(b, v)
	return b
}

// ConsumeMaskField scans a serialized message for the reserved _mask
// field and returns its value, for the receiving end of a tracked
// component (in this module, tests reading back a server delta).
func ConsumeMaskField(b []byte) (mask uint64, found bool) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, false
		}
		b = b[n:]
		if num == MaskFieldNumber && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, false
			}
			return v, true
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return 0, false
		}
		b = b[n:]
	}
	return 0, false
}
