// Package vm implements the ember runtime.
//
// This package contains:
//   - NaN-boxed value representation
//   - Heap layout of strings, arrays, objects, buffers, closures and scopes
//   - Semi-space copying garbage collector
//   - Bytecode interpreter with script exceptions
//   - Intrinsic methods of the built-in types and the core host natives
//
// An Env owns one heap and one evaluation stack. Heap values are byte
// offsets into the heap and move when the collector runs, so a Value held
// in a Go variable is only valid until the next allocation. Values on the
// evaluation stack, in the slice given to SetRefs and in the arguments of
// a running native are roots and are updated in place.
package vm
