package blackboard

import (
	"github.com/dop251/goja"
)

// ExposeToJS creates a JavaScript object with accessor methods bound to the
// struct value v. The value is read and written in place, so the object must
// not outlive the owner of v. Failed writes throw in JavaScript:
//
//	bb.get("health")
//	bb.set("health", 42)
//	bb.has("health")
//	bb.keys()
func ExposeToJS(vm *goja.Runtime, v *Value) goja.Value {
	obj := vm.NewObject()
	// Set cannot fail for these keys, they are valid identifiers.
	_ = obj.Set("get", func(key string) any {
		field, err := v.Get(key)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return field.Interface()
	})
	_ = obj.Set("set", func(key string, x any) {
		i, ok := v.typ.FieldIndex(key)
		if !ok {
			panic(vm.NewGoError(ErrUnknownKey))
		}
		field, err := Convert(v.typ.fields[i].Type, x)
		if err == nil {
			err = v.SetIndex(i, field)
		}
		if err != nil {
			panic(vm.NewGoError(err))
		}
	})
	_ = obj.Set("has", func(key string) bool { return v.Has(key) })
	_ = obj.Set("keys", func() []string { return v.Keys() })
	return obj
}
