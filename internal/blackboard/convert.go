package blackboard

import (
	"fmt"
	"math"
	"sort"
)

// Convert builds a Value of type t from plain Go data, as produced by
// Interface, expression evaluation or a script runtime's export. Numeric
// inputs are widened; a float is accepted for an int type only when it is
// integral. Maps convert to structs field by field, with missing fields left
// at their zero value. Anything else fails with ErrTypeMismatch.
func Convert(t *Type, x any) (Value, error) {
	if v, ok := x.(Value); ok {
		if !t.Equal(v.typ) {
			return Value{}, fmt.Errorf("%w: want %s, got %s", ErrTypeMismatch, t, v.typ)
		}
		return v.Clone(), nil
	}
	switch t.Kind() {
	case KindNone:
		if x == nil {
			return Value{}, nil
		}
	case KindBool:
		if b, ok := x.(bool); ok {
			return Bool(b), nil
		}
	case KindInt:
		if i, ok := toInt(x); ok {
			return Int(i), nil
		}
	case KindFloat:
		if f, ok := toFloat(x); ok {
			return Float(f), nil
		}
	case KindString:
		if s, ok := x.(string); ok {
			return String(s), nil
		}
	case KindVector:
		switch vec := x.(type) {
		case Vector:
			return Value{typ: vectorType, v: vec}, nil
		case map[string]any:
			var out Vector
			for key, dst := range map[string]*float64{"x": &out.X, "y": &out.Y, "z": &out.Z} {
				if raw, ok := vec[key]; ok {
					f, ok := toFloat(raw)
					if !ok {
						return Value{}, fmt.Errorf("%w: vector component %s: %T", ErrTypeMismatch, key, raw)
					}
					*dst = f
				}
			}
			return Value{typ: vectorType, v: out}, nil
		case []any:
			if len(vec) == 3 {
				var c [3]float64
				for i, raw := range vec {
					f, ok := toFloat(raw)
					if !ok {
						return Value{}, fmt.Errorf("%w: vector component %d: %T", ErrTypeMismatch, i, raw)
					}
					c[i] = f
				}
				return Vec(c[0], c[1], c[2]), nil
			}
		}
	case KindObject:
		return Value{typ: t, obj: x}, nil
	case KindStruct:
		m, ok := x.(map[string]any)
		if !ok {
			break
		}
		out := t.Zero()
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			i, ok := t.FieldIndex(k)
			if !ok {
				return Value{}, fmt.Errorf("%w: %q in %s", ErrUnknownKey, k, t.name)
			}
			fv, err := Convert(t.fields[i].Type, m[k])
			if err != nil {
				return Value{}, fmt.Errorf("field %q: %w", k, err)
			}
			out.fields[i] = fv
		}
		return out, nil
	}
	return Value{}, fmt.Errorf("%w: cannot use %T as %s", ErrTypeMismatch, x, t)
}

func toInt(x any) (int64, bool) {
	switch n := x.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), n <= math.MaxInt64
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), n <= math.MaxInt64
	case float32:
		return toInt(float64(n))
	case float64:
		if n != math.Trunc(n) || n < math.MinInt64 || n >= math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}

func toFloat(x any) (float64, bool) {
	switch n := x.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	if i, ok := toInt(x); ok {
		return float64(i), true
	}
	return 0, false
}
