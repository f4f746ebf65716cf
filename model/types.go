package model

// DocumentID identifies a document inside one row group.
// IDs are row-local: every row group counts from zero.
type DocumentID = uint32

// ValueType enumerates the column types an index can be built over.
type ValueType uint8

const (
	TypeInvalid ValueType = iota
	TypeBool
	TypeInt8
	TypeInt16
	TypeInt32
	TypeInt64
	TypeUint8
	TypeUint16
	TypeUint32
	TypeUint64
	TypeFloat32
	TypeFloat64
	TypeString
)

// String implements fmt.Stringer.
func (t ValueType) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInt8:
		return "int8"
	case TypeInt16:
		return "int16"
	case TypeInt32:
		return "int32"
	case TypeInt64:
		return "int64"
	case TypeUint8:
		return "uint8"
	case TypeUint16:
		return "uint16"
	case TypeUint32:
		return "uint32"
	case TypeUint64:
		return "uint64"
	case TypeFloat32:
		return "float32"
	case TypeFloat64:
		return "float64"
	case TypeString:
		return "string"
	default:
		return "invalid"
	}
}

// ColumnReference addresses one column of a batch by its dotted path,
// e.g. "payload.geo.country".
type ColumnReference struct {
	DottedPath string
	Type       ValueType
}

// RowGroupInfo addresses a contiguous horizontal partition of a batch.
type RowGroupInfo struct {
	ID      uint32
	NumDocs uint32
}

// SnapshotRange is the snapshot interval a batch covers.
type SnapshotRange struct {
	Start uint64
	End   uint64
}

// BatchInfo describes one batch and its row groups.
type BatchInfo struct {
	ID        uint32
	BatchSize uint32
	Snapshot  SnapshotRange
	RowGroups []RowGroupInfo
}

// Entry is one (document, attribute value) pair handed to the builder.
type Entry[T any] struct {
	Doc   DocumentID
	Value T
}
