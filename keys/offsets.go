package keys

import (
	"encoding/binary"
	"fmt"
)

// OffsetRange is a half-open [Start, End) byte range inside the shared
// bitmaps file. Stored little-endian as the value of bitmap-offset and
// storage-offset entries.
type OffsetRange struct {
	Start uint32
	End   uint32
}

// Len returns the number of bytes the range covers.
func (r OffsetRange) Len() uint32 { return r.End - r.Start }

// Encode serializes the range: le32(start) · le32(end).
func (r OffsetRange) Encode() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b, r.Start)
	binary.LittleEndian.PutUint32(b[4:], r.End)
	return b
}

// DecodeOffsetRange parses an encoded OffsetRange.
func DecodeOffsetRange(b []byte) (OffsetRange, error) {
	if len(b) != 8 {
		return OffsetRange{}, fmt.Errorf("offset range is %d bytes, want 8", len(b))
	}
	return OffsetRange{
		Start: binary.LittleEndian.Uint32(b),
		End:   binary.LittleEndian.Uint32(b[4:]),
	}, nil
}

// EncodeOrdinal serializes an attribute ordinal value: le32.
func EncodeOrdinal(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// DecodeOrdinal parses an encoded ordinal.
func DecodeOrdinal(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("ordinal is %d bytes, want 4", len(b))
	}
	return binary.LittleEndian.Uint32(b), nil
}
