package blackboard

import (
	"fmt"
	"reflect"
	"strings"
)

// Vector is the payload of a KindVector value.
type Vector struct {
	X, Y, Z float64
}

// Value is a single blackboard value. The zero Value is empty (KindNone).
//
// Struct values own their fields: copying a Value by assignment shares the
// field storage, so use Clone whenever a copy must be independent.
type Value struct {
	typ    *Type
	b      bool
	i      int64
	f      float64
	s      string
	v      Vector
	obj    any
	fields []Value
}

func Bool(b bool) Value { return Value{typ: boolType, b: b} }
func Int(i int64) Value { return Value{typ: intType, i: i} }
func Float(f float64) Value { return Value{typ: floatType, f: f} }
func String(s string) Value { return Value{typ: stringType, s: s} }
func Vec(x, y, z float64) Value { return Value{typ: vectorType, v: Vector{x, y, z}} }

// Object wraps an opaque Go value. t must be an object type.
func Object(t *Type, obj any) (Value, error) {
	if t.Kind() != KindObject {
		return Value{}, fmt.Errorf("%w: %s is not an object type", ErrTypeMismatch, t)
	}
	return Value{typ: t, obj: obj}, nil
}

// Type returns the value's type, nil when empty.
func (v Value) Type() *Type { return v.typ }

// Kind returns the value's runtime tag.
func (v Value) Kind() Kind { return v.typ.Kind() }

// IsEmpty reports whether v is the empty value.
func (v Value) IsEmpty() bool { return v.typ.Kind() == KindNone }

func (v Value) Bool() (bool, bool) { return v.b, v.Kind() == KindBool }
func (v Value) Int() (int64, bool) { return v.i, v.Kind() == KindInt }
func (v Value) Float() (float64, bool) { return v.f, v.Kind() == KindFloat }
func (v Value) Str() (string, bool) { return v.s, v.Kind() == KindString }
func (v Value) Vector() (Vector, bool) { return v.v, v.Kind() == KindVector }
func (v Value) Object() (any, bool) { return v.obj, v.Kind() == KindObject }

// Len returns the number of fields of a struct value.
func (v Value) Len() int { return len(v.fields) }

// Keys returns the field names of a struct value, in declaration order.
func (v Value) Keys() []string {
	if v.Kind() != KindStruct {
		return nil
	}
	keys := make([]string, len(v.typ.fields))
	for i, f := range v.typ.fields {
		keys[i] = f.Name
	}
	return keys
}

// Has reports whether a struct value declares key.
func (v Value) Has(key string) bool {
	_, ok := v.typ.FieldIndex(key)
	return ok
}

// Get returns a copy of the named field.
func (v Value) Get(key string) (Value, error) {
	i, err := v.fieldIndex(key)
	if err != nil {
		return Value{}, err
	}
	return v.fields[i].Clone(), nil
}

// GetIndex returns a copy of the i-th field.
func (v Value) GetIndex(i int) (Value, error) {
	if v.Kind() != KindStruct {
		return Value{}, ErrNotStruct
	}
	if i < 0 || i >= len(v.fields) {
		return Value{}, fmt.Errorf("%w: field %d of %d", ErrIndexOutOfRange, i, len(v.fields))
	}
	return v.fields[i].Clone(), nil
}

// Set assigns the named field. The assigned value must have exactly the
// field's declared type; on error v is left unchanged.
func (v *Value) Set(key string, x Value) error {
	i, err := v.fieldIndex(key)
	if err != nil {
		return err
	}
	return v.SetIndex(i, x)
}

// SetIndex assigns the i-th field, see Set.
func (v *Value) SetIndex(i int, x Value) error {
	if v.Kind() != KindStruct {
		return ErrNotStruct
	}
	if i < 0 || i >= len(v.fields) {
		return fmt.Errorf("%w: field %d of %d", ErrIndexOutOfRange, i, len(v.fields))
	}
	f := v.typ.fields[i]
	if !f.Type.Equal(x.typ) {
		return fmt.Errorf("%w: field %q is %s, got %s", ErrTypeMismatch, f.Name, f.Type, x.typ)
	}
	v.fields[i] = x.Clone()
	return nil
}

func (v Value) fieldIndex(key string) (int, error) {
	if v.Kind() != KindStruct {
		return 0, ErrNotStruct
	}
	i, ok := v.typ.FieldIndex(key)
	if !ok {
		return 0, fmt.Errorf("%w: %q in %s", ErrUnknownKey, key, v.typ.name)
	}
	return i, nil
}

// Clone returns a deep copy. Object payloads are shared, they are opaque.
func (v Value) Clone() Value {
	if v.fields != nil {
		fields := make([]Value, len(v.fields))
		for i := range v.fields {
			fields[i] = v.fields[i].Clone()
		}
		v.fields = fields
	}
	return v
}

// Equal reports whether two values have equal types and payloads. Object
// payloads are compared with == where comparable (so pointers by identity),
// and with reflect.DeepEqual otherwise.
func (v Value) Equal(o Value) bool {
	if !v.typ.Equal(o.typ) {
		return false
	}
	switch v.Kind() {
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindVector:
		return v.v == o.v
	case KindObject:
		return objectsEqual(v.obj, o.obj)
	case KindStruct:
		for i := range v.fields {
			if !v.fields[i].Equal(o.fields[i]) {
				return false
			}
		}
	}
	return true
}

func objectsEqual(a, b any) bool {
	if reflect.ValueOf(a).Comparable() && reflect.ValueOf(b).Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// Interface converts the value to plain Go data: bool, int, float64, string,
// map[string]any for vectors (x, y, z) and structs, the payload for objects,
// and nil for the empty value.
func (v Value) Interface() any {
	switch v.Kind() {
	case KindBool:
		return v.b
	case KindInt:
		return int(v.i)
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindVector:
		return map[string]any{"x": v.v.X, "y": v.v.Y, "z": v.v.Z}
	case KindObject:
		return v.obj
	case KindStruct:
		m := make(map[string]any, len(v.fields))
		for i, f := range v.typ.fields {
			m[f.Name] = v.fields[i].Interface()
		}
		return m
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.Kind() {
	case KindNone:
		return "<empty>"
	case KindString:
		return fmt.Sprintf("%q", v.s)
	case KindVector:
		return fmt.Sprintf("(%g, %g, %g)", v.v.X, v.v.Y, v.v.Z)
	case KindObject:
		return fmt.Sprintf("%s(%v)", v.typ.name, v.obj)
	case KindStruct:
		var b strings.Builder
		b.WriteString(v.typ.name)
		b.WriteByte('{')
		for i, f := range v.typ.fields {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(f.Name)
			b.WriteString(": ")
			b.WriteString(v.fields[i].String())
		}
		b.WriteByte('}')
		return b.String()
	default:
		return fmt.Sprint(v.Interface())
	}
}
