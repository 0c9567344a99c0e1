// Package blackboard implements the dynamically-typed value that backs an
// agent's blackboard: a closed tagged union over a fixed set of kinds, with a
// Type descriptor declared up front by the tree asset.
//
// Values are assigned by type descriptor comparison, never by coercion. The
// only conversion path is Convert, which is used at the scripting and
// expression boundaries where native Go values come back in.
package blackboard

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTypeMismatch is returned when a value's type does not match the
	// declared type of its destination.
	ErrTypeMismatch = errors.New("blackboard: type mismatch")
	// ErrUnknownKey is returned when a struct value has no field with the
	// requested name.
	ErrUnknownKey = errors.New("blackboard: unknown key")
	// ErrIndexOutOfRange is returned for a field index outside the struct.
	ErrIndexOutOfRange = errors.New("blackboard: index out of range")
	// ErrNotStruct is returned for keyed access on a non-struct value.
	ErrNotStruct = errors.New("blackboard: value is not a struct")
)

// Kind is the runtime tag of a Value.
type Kind uint8

const (
	// KindNone is the empty value, the zero Value.
	KindNone Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindVector
	KindStruct
	KindObject
)

var kindNames = [...]string{
	KindNone:   "none",
	KindBool:   "bool",
	KindInt:    "int",
	KindFloat:  "float",
	KindString: "string",
	KindVector: "vector",
	KindStruct: "struct",
	KindObject: "object",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// ParseKind maps a kind name, as used in asset files, to a Kind.
func ParseKind(s string) (Kind, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return Kind(k), true
		}
	}
	return KindNone, false
}

// Field is a named member of a struct Type.
type Field struct {
	Name string
	Type *Type
}

// Type describes the shape of a Value. Types are immutable once built and
// may be shared freely between trees and knowledge containers.
type Type struct {
	kind   Kind
	name   string
	fields []Field
	index  map[string]int
}

var (
	boolType   = &Type{kind: KindBool}
	intType    = &Type{kind: KindInt}
	floatType  = &Type{kind: KindFloat}
	stringType = &Type{kind: KindString}
	vectorType = &Type{kind: KindVector}
)

func BoolType() *Type { return boolType }
func IntType() *Type { return intType }
func FloatType() *Type { return floatType }
func StringType() *Type { return stringType }
func VectorType() *Type { return vectorType }

// ObjectType returns an opaque object type identified by name.
func ObjectType(name string) *Type {
	return &Type{kind: KindObject, name: name}
}

// StructType builds a struct type. Field names must be unique and non-empty,
// and every field must carry a type.
func StructType(name string, fields ...Field) (*Type, error) {
	t := &Type{
		kind:   KindStruct,
		name:   name,
		fields: make([]Field, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("blackboard: struct %q: field %d has no name", name, i)
		}
		if f.Type == nil {
			return nil, fmt.Errorf("blackboard: struct %q: field %q has no type", name, f.Name)
		}
		if _, dup := t.index[f.Name]; dup {
			return nil, fmt.Errorf("blackboard: struct %q: duplicate field %q", name, f.Name)
		}
		t.fields[i] = f
		t.index[f.Name] = i
	}
	return t, nil
}

// MustStructType is StructType that panics on error, for static declarations.
func MustStructType(name string, fields ...Field) *Type {
	t, err := StructType(name, fields...)
	if err != nil {
		panic(err)
	}
	return t
}

// Kind returns the kind, KindNone for a nil type.
func (t *Type) Kind() Kind {
	if t == nil {
		return KindNone
	}
	return t.kind
}

// Name returns the declared name of a struct or object type.
func (t *Type) Name() string {
	if t == nil {
		return ""
	}
	return t.name
}

// NumFields returns the number of struct fields.
func (t *Type) NumFields() int {
	if t == nil {
		return 0
	}
	return len(t.fields)
}

// Field returns the i-th struct field.
func (t *Type) Field(i int) Field {
	return t.fields[i]
}

// FieldIndex looks up a struct field by name.
func (t *Type) FieldIndex(name string) (int, bool) {
	if t == nil || t.kind != KindStruct {
		return 0, false
	}
	i, ok := t.index[name]
	return i, ok
}

// Equal reports whether two types describe the same shape. A nil type is
// equal only to another nil type or a KindNone type.
func (t *Type) Equal(o *Type) bool {
	if t == o {
		return true
	}
	if t.Kind() != o.Kind() {
		return false
	}
	switch t.Kind() {
	case KindNone:
		return true
	case KindObject:
		return t.name == o.name
	case KindStruct:
		if t.name != o.name || len(t.fields) != len(o.fields) {
			return false
		}
		for i := range t.fields {
			if t.fields[i].Name != o.fields[i].Name || !t.fields[i].Type.Equal(o.fields[i].Type) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func (t *Type) String() string {
	switch t.Kind() {
	case KindObject:
		return "object<" + t.name + ">"
	case KindStruct:
		var b strings.Builder
		b.WriteString(t.name)
		b.WriteByte('{')
		for i, f := range t.fields {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(f.Name)
			b.WriteByte(' ')
			b.WriteString(f.Type.String())
		}
		b.WriteByte('}')
		return b.String()
	default:
		return t.Kind().String()
	}
}

// Zero returns the default value of the type. A nil type yields the empty
// value.
func (t *Type) Zero() Value {
	switch t.Kind() {
	case KindNone:
		return Value{}
	case KindStruct:
		fields := make([]Value, len(t.fields))
		for i, f := range t.fields {
			fields[i] = f.Type.Zero()
		}
		return Value{typ: t, fields: fields}
	default:
		return Value{typ: t}
	}
}
