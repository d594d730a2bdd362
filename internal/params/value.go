package params

import (
	"fmt"
	"math"
	"strconv"
)

// Kind is the scalar type carried by a Value.
type Kind uint8

const (
	KindInt Kind = iota
	KindFloat
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a tagged int or float scalar. The payload fits in one 64-bit
// word so a Param can publish it with a single atomic store.
type Value struct {
	kind Kind
	bits uint64
}

// Int returns an int-kinded Value.
func Int(v int32) Value {
	return Value{kind: KindInt, bits: uint64(int64(v))}
}

// Float returns a float-kinded Value.
func Float(v float64) Value {
	return Value{kind: KindFloat, bits: math.Float64bits(v)}
}

func (v Value) Kind() Kind { return v.kind }

// Int returns the value as an int, truncating floats.
func (v Value) Int() int32 {
	if v.kind == KindFloat {
		return int32(math.Float64frombits(v.bits))
	}
	return int32(int64(v.bits))
}

// Float returns the value as a float, converting ints.
func (v Value) Float() float64 {
	if v.kind == KindInt {
		return float64(int32(int64(v.bits)))
	}
	return math.Float64frombits(v.bits)
}

// String formats the value the way it is persisted.
func (v Value) String() string {
	if v.kind == KindInt {
		return strconv.FormatInt(int64(v.Int()), 10)
	}
	return strconv.FormatFloat(v.Float(), 'g', -1, 64)
}

// Parse reads s as a value of the given kind. An int kind rejects
// fractional input so a float never silently lands in an int parameter.
func Parse(kind Kind, s string) (Value, error) {
	switch kind {
	case KindInt:
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not an int", ErrParse, s)
		}
		return Int(int32(n)), nil
	case KindFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return Value{}, fmt.Errorf("%w: %q is not a float", ErrParse, s)
		}
		return Float(f), nil
	default:
		return Value{}, fmt.Errorf("%w: unknown kind %v", ErrParse, kind)
	}
}
