package keys

import (
	"encoding/binary"
	"fmt"

	"github.com/martun/bitmap-index/decompose"
)

// AuxData is the per-index descriptor persisted next to each bitmap
// storage. It carries everything needed to reopen a persisted index:
// the decomposition basis, per-component bitmap counts, the encoding, and
// the mapped value domain.
type AuxData struct {
	// Decomposer rebuilt from the persisted basis.
	Decomposer *decompose.Decomposer

	// BitmapCounts[i] is the number of bitmaps kept for component i.
	BitmapCounts []uint32

	// Cardinality is the number of distinct attribute values observed.
	Cardinality uint32

	// Encoding used by the index.
	Encoding decompose.Encoding

	// UseValueMapping is true when attribute values go through the
	// value→ordinal mapping table.
	UseValueMapping bool

	// MinMapped/MaxMapped bound the mapped domain: [0, cardinality] for
	// mapped indexes, the observed min/max for unmapped integer ones.
	MinMapped int64
	MaxMapped int64
}

// MappedRange returns MaxMapped − MinMapped, the largest valid ordinal
// distance inside the index.
func (a *AuxData) MappedRange() int64 { return a.MaxMapped - a.MinMapped }

// TotalBitmaps returns the component bitmap count summed over components,
// excluding the all-values bitmap.
func (a *AuxData) TotalBitmaps() uint32 {
	var total uint32
	for _, c := range a.BitmapCounts {
		total += c
	}
	return total
}

// Encode serializes the descriptor with the fixed little-endian layout:
//
//	u32 basis_len · basis · u32 counts_len · counts ·
//	u8 enc · u32 cardinality · i32 enc · u8 mapping · i64 min · i64 max
//
// The encoding tag appears twice for compatibility with the established
// on-disk format; Decode verifies both copies agree.
func (a *AuxData) Encode() []byte {
	basis := a.Decomposer.Basis()
	size := 4 + 4*len(basis) + 4 + 4*len(a.BitmapCounts) + 1 + 4 + 4 + 1 + 8 + 8
	b := make([]byte, 0, size)

	b = binary.LittleEndian.AppendUint32(b, uint32(len(basis)))
	for _, base := range basis {
		b = binary.LittleEndian.AppendUint32(b, base)
	}
	b = binary.LittleEndian.AppendUint32(b, uint32(len(a.BitmapCounts)))
	for _, c := range a.BitmapCounts {
		b = binary.LittleEndian.AppendUint32(b, c)
	}
	b = append(b, byte(a.Encoding))
	b = binary.LittleEndian.AppendUint32(b, a.Cardinality)
	b = binary.LittleEndian.AppendUint32(b, uint32(int32(a.Encoding)))
	if a.UseValueMapping {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	b = binary.LittleEndian.AppendUint64(b, uint64(a.MinMapped))
	b = binary.LittleEndian.AppendUint64(b, uint64(a.MaxMapped))
	return b
}

// DecodeAuxData parses an encoded descriptor and rebuilds its Decomposer.
func DecodeAuxData(b []byte) (*AuxData, error) {
	rd := byteReader{buf: b}

	basisLen, err := rd.uint32()
	if err != nil {
		return nil, err
	}
	if basisLen > uint32(len(b)/4) {
		return nil, fmt.Errorf("aux data basis length %d exceeds buffer", basisLen)
	}
	basis := make([]uint32, basisLen)
	for i := range basis {
		if basis[i], err = rd.uint32(); err != nil {
			return nil, err
		}
	}

	countsLen, err := rd.uint32()
	if err != nil {
		return nil, err
	}
	if countsLen > uint32(len(b)/4) {
		return nil, fmt.Errorf("aux data counts length %d exceeds buffer", countsLen)
	}
	counts := make([]uint32, countsLen)
	for i := range counts {
		if counts[i], err = rd.uint32(); err != nil {
			return nil, err
		}
	}

	encByte, err := rd.byte()
	if err != nil {
		return nil, err
	}
	cardinality, err := rd.uint32()
	if err != nil {
		return nil, err
	}
	encWord, err := rd.uint32()
	if err != nil {
		return nil, err
	}
	if uint32(encByte) != encWord {
		return nil, fmt.Errorf("aux data encoding tags disagree: %d vs %d", encByte, encWord)
	}
	mapping, err := rd.byte()
	if err != nil {
		return nil, err
	}
	minMapped, err := rd.uint64()
	if err != nil {
		return nil, err
	}
	maxMapped, err := rd.uint64()
	if err != nil {
		return nil, err
	}

	return &AuxData{
		Decomposer:      decompose.New(basis),
		BitmapCounts:    counts,
		Cardinality:     cardinality,
		Encoding:        decompose.Encoding(encByte),
		UseValueMapping: mapping != 0,
		MinMapped:       int64(minMapped),
		MaxMapped:       int64(maxMapped),
	}, nil
}

type byteReader struct {
	buf []byte
	off int
}

func (r *byteReader) byte() (byte, error) {
	if r.off+1 > len(r.buf) {
		return 0, fmt.Errorf("aux data truncated at offset %d", r.off)
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *byteReader) uint32() (uint32, error) {
	if r.off+4 > len(r.buf) {
		return 0, fmt.Errorf("aux data truncated at offset %d", r.off)
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *byteReader) uint64() (uint64, error) {
	if r.off+8 > len(r.buf) {
		return 0, fmt.Errorf("aux data truncated at offset %d", r.off)
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}
