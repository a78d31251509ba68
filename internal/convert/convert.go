package convert

import (
	"fmt"
	"reflect"

	"github.com/godbus/dbus/v5"
)

// Int32Pair marshals as a D-Bus (ii) struct.
type Int32Pair struct {
	A int32
	B int32
}

var (
	boolSignature   = dbus.SignatureOfType(reflect.TypeOf(false))
	stringSignature = dbus.SignatureOfType(reflect.TypeOf(""))
	uint32Signature = dbus.SignatureOfType(reflect.TypeOf(uint32(0)))
	pairSignature   = dbus.SignatureOfType(reflect.TypeOf(Int32Pair{}))
)

func FromBool(input bool) dbus.Variant {
	return dbus.MakeVariantWithSignature(input, boolSignature)
}

func FromString(input string) dbus.Variant {
	return dbus.MakeVariantWithSignature(input, stringSignature)
}

func FromUint32(input uint32) dbus.Variant {
	return dbus.MakeVariantWithSignature(input, uint32Signature)
}

func FromInt32Pair(a, b int32) dbus.Variant {
	return dbus.MakeVariantWithSignature(Int32Pair{A: a, B: b}, pairSignature)
}

// ToUint32 accepts any unsigned or non-negative signed integer variant, since
// clients differ in which integer type they send for enum-like options.
func ToUint32(v dbus.Variant) (uint32, error) {
	switch n := v.Value().(type) {
	case uint32:
		return n, nil
	case uint16:
		return uint32(n), nil
	case byte:
		return uint32(n), nil
	case int32:
		if n >= 0 {
			return uint32(n), nil
		}
	case uint64:
		if n <= 1<<32-1 {
			return uint32(n), nil
		}
	case int64:
		if n >= 0 && n <= 1<<32-1 {
			return uint32(n), nil
		}
	}
	return 0, fmt.Errorf("expected unsigned integer, got %s", v.Signature())
}

func ToBool(v dbus.Variant) (bool, error) {
	b, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expected boolean, got %s", v.Signature())
	}
	return b, nil
}

func ToString(v dbus.Variant) (string, error) {
	s, ok := v.Value().(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %s", v.Signature())
	}
	return s, nil
}

// ParseInt32Pair decodes a (ii) struct as delivered by godbus to an untyped
// destination.
func ParseInt32Pair(value any) ([2]int32, bool) {
	if pair, ok := value.(Int32Pair); ok {
		return [2]int32{pair.A, pair.B}, true
	}
	values, ok := value.([]any)
	if !ok || len(values) < 2 {
		return [2]int32{}, false
	}

	left, ok := values[0].(int32)
	if !ok {
		return [2]int32{}, false
	}
	right, ok := values[1].(int32)
	if !ok {
		return [2]int32{}, false
	}

	return [2]int32{left, right}, true
}
