// Package keys defines the serialized key and value formats stored in the
// ordered key/value environments.
//
// Keys are written so that the store's plain byte comparator yields the
// ordering the cursors rely on: all keys of one (row group, column) share a
// common prefix `be32(rg) · dotted_path · 0x00`, and inside that block they
// sort by bitmap ordinal respectively by attribute value. Integer and float
// key parts therefore use order-preserving big-endian encodings, while
// values (offset ranges, ordinals, aux data) use the fixed little-endian
// layouts of the on-disk format.
package keys

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// ColumnPrefix returns the common key prefix of every entry belonging to
// one (row group, column) block.
func ColumnPrefix(rgID uint32, dottedPath string) []byte {
	b := make([]byte, 0, 4+len(dottedPath)+1)
	b = binary.BigEndian.AppendUint32(b, rgID)
	b = append(b, dottedPath...)
	b = append(b, 0x00)
	return b
}

// PrefixSuccessor returns the smallest key greater than every key that
// starts with prefix, for use as an exclusive iterator upper bound.
// Returns nil when no such key exists (all-0xff prefix).
func PrefixSuccessor(prefix []byte) []byte {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] != 0xff {
			succ := append([]byte(nil), prefix[:i+1]...)
			succ[i]++
			return succ
		}
	}
	return nil
}

// StorageKey addresses one bitmap storage (and its aux data).
type StorageKey struct {
	RGID       uint32
	DottedPath string
}

// Encode serializes the key: be32(rg) · path · 0x00.
func (k StorageKey) Encode() []byte {
	return ColumnPrefix(k.RGID, k.DottedPath)
}

// DecodeStorageKey parses an encoded StorageKey.
func DecodeStorageKey(b []byte) (StorageKey, error) {
	if len(b) < 5 {
		return StorageKey{}, fmt.Errorf("storage key too short: %d bytes", len(b))
	}
	nul := bytes.IndexByte(b[4:], 0x00)
	if nul < 0 {
		return StorageKey{}, fmt.Errorf("storage key missing path terminator")
	}
	return StorageKey{
		RGID:       binary.BigEndian.Uint32(b),
		DottedPath: string(b[4 : 4+nul]),
	}, nil
}

// BitmapKey addresses one bitmap inside a storage. Ordinal 0 is reserved
// for the all-values bitmap; component bitmaps follow in iteration order.
type BitmapKey struct {
	RGID       uint32
	DottedPath string
	Ordinal    uint16
}

// Encode serializes the key: be32(rg) · path · 0x00 · be16(ordinal).
// The NUL terminator keeps all ordinals of one column consecutive.
func (k BitmapKey) Encode() []byte {
	b := make([]byte, 0, 4+len(k.DottedPath)+3)
	b = binary.BigEndian.AppendUint32(b, k.RGID)
	b = append(b, k.DottedPath...)
	b = append(b, 0x00)
	b = binary.BigEndian.AppendUint16(b, k.Ordinal)
	return b
}

// DecodeBitmapKey parses an encoded BitmapKey.
func DecodeBitmapKey(b []byte) (BitmapKey, error) {
	if len(b) < 7 {
		return BitmapKey{}, fmt.Errorf("bitmap key too short: %d bytes", len(b))
	}
	nul := bytes.IndexByte(b[4:], 0x00)
	if nul < 0 {
		return BitmapKey{}, fmt.Errorf("bitmap key missing path terminator")
	}
	rest := b[4+nul+1:]
	if len(rest) != 2 {
		return BitmapKey{}, fmt.Errorf("bitmap key has %d trailing bytes, want 2", len(rest))
	}
	return BitmapKey{
		RGID:       binary.BigEndian.Uint32(b),
		DottedPath: string(b[4 : 4+nul]),
		Ordinal:    binary.BigEndian.Uint16(rest),
	}, nil
}

// AttributeKey addresses one attribute value of a mapped column:
// be32(rg) · path · 0x00 · ordered(value). The value part must come from
// one of the AppendOrdered* encoders below so the block sorts by value.
func AttributeKey(rgID uint32, dottedPath string, orderedValue []byte) []byte {
	b := make([]byte, 0, 4+len(dottedPath)+1+len(orderedValue))
	b = binary.BigEndian.AppendUint32(b, rgID)
	b = append(b, dottedPath...)
	b = append(b, 0x00)
	b = append(b, orderedValue...)
	return b
}

// AppendOrderedUint appends a big-endian unsigned value of the given byte
// width. Wider columns use wider fixed widths so keys inside one column
// stay comparable.
func AppendOrderedUint(b []byte, v uint64, width int) []byte {
	for i := width - 1; i >= 0; i-- {
		b = append(b, byte(v>>(8*i)))
	}
	return b
}

// AppendOrderedInt appends a signed value with the sign bit flipped, so
// negative values sort before positive ones under the byte comparator.
func AppendOrderedInt(b []byte, v int64, width int) []byte {
	u := uint64(v) ^ (uint64(1) << (8*uint(width) - 1))
	return AppendOrderedUint(b, u, width)
}

// AppendOrderedFloat32 appends an order-preserving transform of an IEEE-754
// float: positive values get the sign bit set, negative values are fully
// inverted.
func AppendOrderedFloat32(b []byte, v float32) []byte {
	u := math.Float32bits(v)
	if u&0x8000_0000 != 0 {
		u = ^u
	} else {
		u |= 0x8000_0000
	}
	return AppendOrderedUint(b, uint64(u), 4)
}

// AppendOrderedFloat64 is AppendOrderedFloat32 for float64.
func AppendOrderedFloat64(b []byte, v float64) []byte {
	u := math.Float64bits(v)
	if u&0x8000_0000_0000_0000 != 0 {
		u = ^u
	} else {
		u |= 0x8000_0000_0000_0000
	}
	return AppendOrderedUint(b, u, 8)
}

// AppendOrderedBool appends false as 0x00 and true as 0x01.
func AppendOrderedBool(b []byte, v bool) []byte {
	if v {
		return append(b, 0x01)
	}
	return append(b, 0x00)
}

// AppendOrderedString appends the raw bytes plus a NUL terminator.
func AppendOrderedString(b []byte, v string) []byte {
	b = append(b, v...)
	return append(b, 0x00)
}
