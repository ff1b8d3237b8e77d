// Package codec converts script values to and from CBOR so hosts can
// move them across process boundaries.
//
// Numbers, strings, booleans, undefined, arrays, objects and buffers
// survive a round trip. Integral numbers are written as CBOR integers,
// undefined as null, buffers as byte strings and objects as maps. Script
// functions, natives and foreign values have no portable form.
package codec

import (
	"fmt"
	"math"
	"reflect"
	"sort"

	"github.com/chazu/ember/vm"
	"github.com/fxamacker/cbor/v2"
)

// MaxDepth bounds container nesting in both directions. Arrays and
// objects may contain themselves; encoding stops here instead of looping.
const MaxDepth = 64

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: failed to create CBOR enc mode: %v", err))
	}
	encMode = em

	dm, err := cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		MaxNestedLevels: MaxDepth + 1,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("codec: failed to create CBOR dec mode: %v", err))
	}
	decMode = dm
}

// Marshal encodes v as canonical CBOR.
func Marshal(e *vm.Env, v vm.Value) ([]byte, error) {
	x, err := Export(e, v)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(x)
}

// Export converts v into plain Go values: float64 or int64, string, bool,
// nil, []any, map[string]any and []byte.
func Export(e *vm.Env, v vm.Value) (any, error) {
	return export(e, v, 0)
}

func export(e *vm.Env, v vm.Value, depth int) (any, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("codec: value nested deeper than %d", MaxDepth)
	}
	switch t := v.Tag(); t {
	case vm.TagNumber:
		f := v.Num()
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 && !(f == 0 && math.Signbit(f)) {
			return int64(f), nil
		}
		return f, nil
	case vm.TagNaN:
		return math.NaN(), nil
	case vm.TagUndefined:
		return nil, nil
	case vm.TagBoolean:
		return v == vm.True, nil
	case vm.TagInlineString, vm.TagString, vm.TagStaticString:
		s, _ := e.Str(v)
		return s, nil
	case vm.TagBuffer:
		return append([]byte(nil), e.Bytes(v)...), nil
	case vm.TagArray:
		out := make([]any, e.Len(v))
		for i := range out {
			x, err := export(e, e.Index(v, i), depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = x
		}
		return out, nil
	case vm.TagObject:
		keys := e.Keys(v)
		out := make(map[string]any, len(keys))
		for _, k := range keys {
			x, err := export(e, e.Prop(v, k), depth+1)
			if err != nil {
				return nil, fmt.Errorf("codec: property %q: %w", k, err)
			}
			out[k] = x
		}
		return out, nil
	default:
		return nil, fmt.Errorf("codec: cannot encode %s", t)
	}
}

// Unmarshal decodes CBOR data into a new value of e. The result is valid
// until the next allocation; hosts that keep it store it in their refs.
func Unmarshal(e *vm.Env, data []byte) (vm.Value, error) {
	var x any
	if err := decMode.Unmarshal(data, &x); err != nil {
		return vm.Undefined, fmt.Errorf("codec: unmarshal: %w", err)
	}
	return Import(e, x)
}

// Import builds a value of e from plain Go values as produced by Export
// or by a CBOR or JSON decoder.
func Import(e *vm.Env, x any) (vm.Value, error) {
	depth := e.Depth()
	if err := importValue(e, x, 0); err != nil {
		e.Truncate(depth)
		return vm.Undefined, err
	}
	return e.Pop(), nil
}

// importValue pushes the value of x on the environment stack. Containers
// push their elements first and collapse them with PushArray or
// PushObject, so partial results stay rooted while strings allocate.
func importValue(e *vm.Env, x any, depth int) error {
	if depth > MaxDepth {
		return fmt.Errorf("codec: value nested deeper than %d", MaxDepth)
	}
	var v vm.Value
	switch x := x.(type) {
	case nil:
		v = vm.Undefined
	case bool:
		v = vm.Bool(x)
	case float64:
		v = vm.Number(x)
	case float32:
		v = vm.Number(float64(x))
	case int64:
		v = vm.Number(float64(x))
	case uint64:
		v = vm.Number(float64(x))
	case int:
		v = vm.Number(float64(x))
	case string:
		v = e.NewString(x)
		if v == vm.Undefined {
			return allocErr(e)
		}
	case []byte:
		v = e.NewBuffer(len(x))
		if v == vm.Undefined {
			return allocErr(e)
		}
		copy(e.Bytes(v), x)
	case []any:
		for _, item := range x {
			if err := importValue(e, item, depth+1); err != nil {
				return err
			}
		}
		if !e.PushArray(len(x)) {
			return allocErr(e)
		}
		return nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := importValue(e, x[k], depth+1); err != nil {
				return err
			}
		}
		if !e.PushObject(keys) {
			return allocErr(e)
		}
		return nil
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, val := range x {
			s, ok := k.(string)
			if !ok {
				return fmt.Errorf("codec: map key %v is not a string", k)
			}
			m[s] = val
		}
		return importValue(e, m, depth)
	case cbor.Tag:
		return importValue(e, x.Content, depth)
	default:
		return fmt.Errorf("codec: cannot decode %T", x)
	}
	if !e.Push(v) {
		return allocErr(e)
	}
	return nil
}

func allocErr(e *vm.Env) error {
	if err := e.Err(); err != nil {
		return fmt.Errorf("codec: %w", err)
	}
	return fmt.Errorf("codec: out of memory")
}
