package vm

import (
	"fmt"
	"io"
	"strings"

	"github.com/chazu/ember/pkg/errcode"
)

// NativeFunc is a host function callable from scripts. args aliases the
// evaluation stack: the collector updates it in place, so a native re-reads
// args after anything that allocates. For method calls args[0] is the
// receiver.
type NativeFunc func(e *Env, args []Value) Value

// Native pairs a host function with the identifier scripts call it by.
type Native struct {
	Name string
	Fn   NativeFunc
}

// RegisterNative makes fn callable by name from scripts compiled after the
// call. Registering a name again replaces the function.
func (e *Env) RegisterNative(name string, fn NativeFunc) int {
	if i, ok := e.nativeIndex[name]; ok {
		e.natives[i].Fn = fn
		return i
	}
	e.natives = append(e.natives, Native{Name: name, Fn: fn})
	e.nativeIndex[name] = len(e.natives) - 1
	return len(e.natives) - 1
}

// LookupNative resolves a native by name. The compiler calls it for
// identifiers no enclosing scope declares.
func (e *Env) LookupNative(name string) (int, bool) {
	i, ok := e.nativeIndex[name]
	return i, ok
}

// NativeNames returns the registered native names in index order.
func (e *Env) NativeNames() []string {
	names := make([]string, len(e.natives))
	for i, n := range e.natives {
		names[i] = n.Name
	}
	return names
}

// Resolver maps native names to the indexes an environment configured
// with the same natives assigns them. It lets source be compiled ahead of
// time, without an environment.
type Resolver map[string]int

// NewResolver indexes natives the way New registers them.
func NewResolver(natives []Native) Resolver {
	r := Resolver{}
	next := 0
	for _, n := range natives {
		if _, ok := r[n.Name]; !ok {
			r[n.Name] = next
			next++
		}
	}
	return r
}

// LookupNative resolves a native by name.
func (r Resolver) LookupNative(name string) (int, bool) {
	i, ok := r[name]
	return i, ok
}

// Names returns the native names in index order.
func (r Resolver) Names() []string {
	names := make([]string, len(r))
	for name, i := range r {
		names[i] = name
	}
	return names
}

// Arg returns args[i], or Undefined when fewer arguments were passed.
func Arg(args []Value, i int) Value {
	if i < len(args) {
		return args[i]
	}
	return Undefined
}

// Push pushes a value for PushArray, PushObject or a later Pop. Values on
// the stack are collection roots.
func (e *Env) Push(v Value) bool {
	if e.sp >= len(e.stack) {
		e.fail(errcode.StackOverflow, "host push beyond %d slots", len(e.stack))
		return false
	}
	e.push(v)
	return true
}

// Pop removes and returns the top of the stack.
func (e *Env) Pop() Value {
	if e.sp == 0 {
		return Undefined
	}
	return e.pop()
}

// Depth returns the number of values on the stack.
func (e *Env) Depth() int { return e.sp }

// Truncate drops values from the stack until it holds n.
func (e *Env) Truncate(n int) {
	if n >= 0 && n < e.sp {
		e.sp = n
	}
}

// CoreNatives returns the standard host functions: print writes its
// arguments to w, Buffer(n) allocates a byte buffer, gc() forces a
// collection and gcCount() reports how many have run.
func CoreNatives(w io.Writer) []Native {
	return []Native{
		{Name: "print", Fn: func(e *Env, args []Value) Value {
			parts := make([]string, len(args))
			for i, a := range args {
				parts[i] = e.Format(a)
			}
			fmt.Fprintln(w, strings.Join(parts, " "))
			return Undefined
		}},
		{Name: "Buffer", Fn: func(e *Env, args []Value) Value {
			n := Arg(args, 0)
			if n.Tag() != TagNumber {
				return Undefined
			}
			return e.NewBuffer(int(n.Num()))
		}},
		{Name: "gc", Fn: func(e *Env, args []Value) Value {
			e.GC()
			return Undefined
		}},
		{Name: "gcCount", Fn: func(e *Env, args []Value) Value {
			return Number(float64(e.collections))
		}},
	}
}
