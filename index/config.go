package index

import (
	"github.com/martun/bitmap-index/decompose"
	"github.com/martun/bitmap-index/keys"
	"github.com/martun/bitmap-index/model"
)

// Configure derives the index descriptor for a value set: cardinality,
// the mapping decision, the mapped value domain, and the decomposition
// basis with its per-component bitmap counts.
//
// Integer columns skip the value-mapping table when the data is spread out
// (more than one distinct value per ten rows); dense integer columns and
// every float or string column map values to ordinals.
func Configure[T Value](values []model.Entry[T], enc decompose.Encoding,
	indexType decompose.IndexType) *keys.AuxData {

	aux := &keys.AuxData{Encoding: enc}
	aux.Cardinality = estimateCardinality(values)

	if isIntegral[T]() && uint64(aux.Cardinality) > uint64(len(values))/10 {
		aux.UseValueMapping = false
	} else {
		aux.UseValueMapping = true
	}

	var basis []uint32
	if aux.UseValueMapping {
		aux.MinMapped = 0
		aux.MaxMapped = int64(aux.Cardinality)
		basis = decompose.BasisFor(uint64(aux.Cardinality), indexType)
	} else {
		first := true
		for _, e := range values {
			v := asInt64(e.Value)
			if first || v < aux.MinMapped {
				aux.MinMapped = v
			}
			if first || v > aux.MaxMapped {
				aux.MaxMapped = v
			}
			first = false
		}
		basis = decompose.BasisFor(uint64(aux.MaxMapped-aux.MinMapped+1), indexType)
	}

	aux.Decomposer = decompose.New(basis)
	aux.BitmapCounts = decompose.BitmapCounts(basis, enc)
	return aux
}

// estimateCardinality counts distinct attribute values. Kept as its own
// seam so a sketch can replace the exact count for very wide columns.
func estimateCardinality[T Value](values []model.Entry[T]) uint32 {
	distinct := make(map[T]struct{}, len(values))
	for _, e := range values {
		distinct[e.Value] = struct{}{}
	}
	return uint32(len(distinct))
}
