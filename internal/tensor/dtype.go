// Package tensor provides the tensor storage, data types and devices consumed by kernels.
package tensor

// DataType represents runtime type information for tensors.
// Kernels are registered per DataType; lookups never promote between types.
type DataType int

// Supported data types for tensors.
const (
	Float32 DataType = iota
	Float64
	Int32
	Int64
	Uint8
	Bool
	UInt32
	Float16
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32, UInt32:
		return 4
	case Float64, Int64:
		return 8
	case Float16:
		return 2
	case Uint8, Bool:
		return 1
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "Float32"
	case Float64:
		return "Float64"
	case Int32:
		return "Int32"
	case Int64:
		return "Int64"
	case Uint8:
		return "Uint8"
	case Bool:
		return "Bool"
	case UInt32:
		return "UInt32"
	case Float16:
		return "Float16"
	default:
		return "Unknown"
	}
}

// IsFloat reports whether the type is a floating point type.
func (dt DataType) IsFloat() bool {
	return dt == Float32 || dt == Float64 || dt == Float16
}

// ParseDataType is the inverse of DataType.String.
func ParseDataType(s string) (DataType, bool) {
	for dt := Float32; dt <= Float16; dt++ {
		if dt.String() == s {
			return dt, true
		}
	}
	return 0, false
}
