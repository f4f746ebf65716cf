package index

import (
	"github.com/martun/bitmap-index/keys"
	"github.com/martun/bitmap-index/model"
)

// Value is the set of attribute types an index can be built over.
type Value interface {
	bool | int8 | int16 | int32 | int64 |
		uint8 | uint16 | uint32 | uint64 |
		float32 | float64 | string
}

// encodeOrdered returns the order-preserving byte encoding of v used both
// for attribute-mapping keys and for ordinal assignment: sorting values by
// these bytes equals sorting them by value.
func encodeOrdered[T Value](v T) []byte {
	switch x := any(v).(type) {
	case bool:
		return keys.AppendOrderedBool(nil, x)
	case int8:
		return keys.AppendOrderedInt(nil, int64(x), 1)
	case int16:
		return keys.AppendOrderedInt(nil, int64(x), 2)
	case int32:
		return keys.AppendOrderedInt(nil, int64(x), 4)
	case int64:
		return keys.AppendOrderedInt(nil, x, 8)
	case uint8:
		return keys.AppendOrderedUint(nil, uint64(x), 1)
	case uint16:
		return keys.AppendOrderedUint(nil, uint64(x), 2)
	case uint32:
		return keys.AppendOrderedUint(nil, uint64(x), 4)
	case uint64:
		return keys.AppendOrderedUint(nil, x, 8)
	case float32:
		return keys.AppendOrderedFloat32(nil, x)
	case float64:
		return keys.AppendOrderedFloat64(nil, x)
	case string:
		return keys.AppendOrderedString(nil, x)
	default:
		panic("unreachable value type")
	}
}

// isIntegral reports whether T is an integer-like type (bool included),
// which enables the no-mapping fast path `ordinal = value - min`.
func isIntegral[T Value]() bool {
	var zero T
	switch any(zero).(type) {
	case bool, int8, int16, int32, int64, uint8, uint16, uint32, uint64:
		return true
	default:
		return false
	}
}

// asInt64 converts an integral value to int64. Must only be called when
// isIntegral[T]() holds.
func asInt64[T Value](v T) int64 {
	switch x := any(v).(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	default:
		panic("asInt64 on non-integral value type")
	}
}

// TypeOf returns the model.ValueType tag for T.
func TypeOf[T Value]() model.ValueType {
	var zero T
	switch any(zero).(type) {
	case bool:
		return model.TypeBool
	case int8:
		return model.TypeInt8
	case int16:
		return model.TypeInt16
	case int32:
		return model.TypeInt32
	case int64:
		return model.TypeInt64
	case uint8:
		return model.TypeUint8
	case uint16:
		return model.TypeUint16
	case uint32:
		return model.TypeUint32
	case uint64:
		return model.TypeUint64
	case float32:
		return model.TypeFloat32
	case float64:
		return model.TypeFloat64
	case string:
		return model.TypeString
	default:
		return model.TypeInvalid
	}
}
