package asset

import (
	"bytes"
	"fmt"
	"time"

	"github.com/joeycumines/behavior-knowledge/internal/blackboard"
	"gopkg.in/yaml.v3"
)

// Definition is the authored form of a tree asset.
type Definition struct {
	Name       string   `yaml:"name"`
	Blackboard *TypeDef `yaml:"blackboard,omitempty"`
	Root       *NodeDef `yaml:"root"`
}

// TypeDef describes a blackboard type. At the top level Name is the type
// name; inside Fields it is the field name.
//
//	blackboard:
//	  name: Agent
//	  fields:
//	    - {name: health, type: float}
//	    - {name: target, type: vector}
//	    - {name: squad, type: object, object: Squad}
type TypeDef struct {
	Name   string    `yaml:"name"`
	Type   string    `yaml:"type,omitempty"`
	Object string    `yaml:"object,omitempty"`
	Fields []TypeDef `yaml:"fields,omitempty"`
}

// NodeDef is one authored node.
type NodeDef struct {
	Name     string         `yaml:"name,omitempty"`
	Kind     string         `yaml:"kind"`
	Params   map[string]any `yaml:"params,omitempty"`
	Children []*NodeDef     `yaml:"children,omitempty"`
}

// BuildType resolves the descriptor. A missing type defaults to struct, so
// the usual top-level form only lists fields.
func (d *TypeDef) BuildType() (*blackboard.Type, error) {
	if d == nil {
		return nil, nil
	}
	kindName := d.Type
	if kindName == "" {
		kindName = blackboard.KindStruct.String()
	}
	kind, ok := blackboard.ParseKind(kindName)
	if !ok || kind == blackboard.KindNone {
		return nil, fmt.Errorf("%w: %q has unknown type %q", ErrInvalidDefinition, d.Name, d.Type)
	}
	switch kind {
	case blackboard.KindBool:
		return blackboard.BoolType(), nil
	case blackboard.KindInt:
		return blackboard.IntType(), nil
	case blackboard.KindFloat:
		return blackboard.FloatType(), nil
	case blackboard.KindString:
		return blackboard.StringType(), nil
	case blackboard.KindVector:
		return blackboard.VectorType(), nil
	case blackboard.KindObject:
		name := d.Object
		if name == "" {
			name = d.Name
		}
		return blackboard.ObjectType(name), nil
	}
	fields := make([]blackboard.Field, 0, len(d.Fields))
	for i := range d.Fields {
		f := &d.Fields[i]
		t, err := f.BuildType()
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		fields = append(fields, blackboard.Field{Name: f.Name, Type: t})
	}
	name := d.Name
	if d.Object != "" {
		name = d.Object
	}
	t, err := blackboard.StructType(name, fields...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}
	return t, nil
}

// DisplayName returns Name, falling back to Kind.
func (d *NodeDef) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Kind
}

// Param returns a raw parameter.
func (d *NodeDef) Param(key string) (any, bool) {
	v, ok := d.Params[key]
	return v, ok
}

// StringParam returns a required string parameter.
func (d *NodeDef) StringParam(key string) (string, error) {
	v, ok := d.Params[key]
	if !ok {
		return "", fmt.Errorf("%w: node %q: missing param %q", ErrInvalidDefinition, d.DisplayName(), key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: node %q: param %q must be a string, got %T", ErrInvalidDefinition, d.DisplayName(), key, v)
	}
	return s, nil
}

// IntParam returns an integer parameter, or def when absent.
func (d *NodeDef) IntParam(key string, def int) (int, error) {
	v, ok := d.Params[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n == float64(int(n)) {
			return int(n), nil
		}
	}
	return 0, fmt.Errorf("%w: node %q: param %q must be an integer, got %v", ErrInvalidDefinition, d.DisplayName(), key, v)
}

// DurationParam returns a duration parameter, written either as a Go
// duration string ("250ms") or as a number of milliseconds.
func (d *NodeDef) DurationParam(key string) (time.Duration, error) {
	v, ok := d.Params[key]
	if !ok {
		return 0, fmt.Errorf("%w: node %q: missing param %q", ErrInvalidDefinition, d.DisplayName(), key)
	}
	switch x := v.(type) {
	case string:
		dur, err := time.ParseDuration(x)
		if err != nil {
			return 0, fmt.Errorf("%w: node %q: param %q: %w", ErrInvalidDefinition, d.DisplayName(), key, err)
		}
		return dur, nil
	case int:
		return time.Duration(x) * time.Millisecond, nil
	case float64:
		return time.Duration(x * float64(time.Millisecond)), nil
	}
	return 0, fmt.Errorf("%w: node %q: param %q must be a duration, got %T", ErrInvalidDefinition, d.DisplayName(), key, v)
}

// DecodeParams decodes the params into out, a pointer to a struct with yaml
// tags, for node kinds with structured parameters. Unknown keys are
// rejected.
func (d *NodeDef) DecodeParams(out any) error {
	raw, err := yaml.Marshal(d.Params)
	if err != nil {
		return fmt.Errorf("%w: node %q params: %w", ErrInvalidDefinition, d.DisplayName(), err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: node %q params: %w", ErrInvalidDefinition, d.DisplayName(), err)
	}
	return nil
}
