package unpack

import (
	"fmt"
	"math"
)

// Kind is the MessagePack family of an item
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindUint
	KindFloat
	KindString
	KindBinary
	KindExt
	KindArray
	KindMap
)

// String returns the name of the kind
func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBinary:
		return "binary"
	case KindExt:
		return "ext"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Item is one decoded MessagePack item. Arrays and maps are returned as headers,
// their children follow in the stream.
type Item struct {
	Kind    Kind
	Bool    bool
	Int     int64
	Uint    uint64
	Float   float64
	Bytes   []byte // payload of strings, binaries and extensions
	ExtType int8
	Count   int // number of array elements or map entries
}

// IsArrayHeader reports whether the item is an array header
func (it Item) IsArrayHeader() bool { return it.Kind == KindArray }

// IsMapHeader reports whether the item is a map header
func (it Item) IsMapHeader() bool { return it.Kind == KindMap }

// ChildCount returns the number of values that follow a container header
func (it Item) ChildCount() int64 {
	switch it.Kind {
	case KindArray:
		return int64(it.Count)
	case KindMap:
		return 2 * int64(it.Count)
	default:
		return 0
	}
}

// AsInt32 converts an integer item to int32
func (it Item) AsInt32() (int32, error) {
	switch it.Kind {
	case KindInt:
		if it.Int < math.MinInt32 || it.Int > math.MaxInt32 {
			return 0, fmt.Errorf("value %d overflows int32", it.Int)
		}
		return int32(it.Int), nil
	case KindUint:
		if it.Uint > math.MaxInt32 {
			return 0, fmt.Errorf("value %d overflows int32", it.Uint)
		}
		return int32(it.Uint), nil
	default:
		return 0, fmt.Errorf("cannot convert %s to int32", it.Kind)
	}
}

// AsUint32 converts an integer item to uint32
func (it Item) AsUint32() (uint32, error) {
	switch it.Kind {
	case KindInt:
		if it.Int < 0 || it.Int > math.MaxUint32 {
			return 0, fmt.Errorf("value %d overflows uint32", it.Int)
		}
		return uint32(it.Int), nil
	case KindUint:
		if it.Uint > math.MaxUint32 {
			return 0, fmt.Errorf("value %d overflows uint32", it.Uint)
		}
		return uint32(it.Uint), nil
	default:
		return 0, fmt.Errorf("cannot convert %s to uint32", it.Kind)
	}
}

// AsString returns the payload of a string item. Binaries are accepted as UTF-8 strings.
func (it Item) AsString() (string, error) {
	switch it.Kind {
	case KindString, KindBinary:
		return string(it.Bytes), nil
	default:
		return "", fmt.Errorf("cannot convert %s to string", it.Kind)
	}
}
