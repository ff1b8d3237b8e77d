package vm

import (
	"encoding/binary"
)

// ---------------------------------------------------------------------------
// Intrinsic methods of the built-in types
// ---------------------------------------------------------------------------

// Intrinsics are natives addressed with the host bit of a native value.
// Property access on a built-in type scans the small method table of its
// type, then the methods every type has.

type intrinsic struct {
	name string
	fn   NativeFunc
}

var intrinsics []intrinsic

// Method tables hold indexes into intrinsics.
var (
	commonMethods []int
	stringMethods []int
	arrayMethods  []int
	objectMethods []int
	bufferMethods []int
)

func defineMethod(table *[]int, name string, fn NativeFunc) {
	intrinsics = append(intrinsics, intrinsic{name: name, fn: fn})
	*table = append(*table, len(intrinsics)-1)
}

func init() {
	defineMethod(&commonMethods, "toString", methodToString)

	defineMethod(&stringMethods, "length", methodLength)
	defineMethod(&stringMethods, "indexOf", func(e *Env, args []Value) Value {
		return e.strIndexOf(Arg(args, 0), Arg(args, 1))
	})

	defineMethod(&arrayMethods, "length", methodLength)
	defineMethod(&arrayMethods, "push", arrayMethodPush)
	defineMethod(&arrayMethods, "pop", func(e *Env, args []Value) Value {
		if !receiver(args, TagArray) {
			return Undefined
		}
		return e.arrayPop(args[0])
	})
	defineMethod(&arrayMethods, "shift", func(e *Env, args []Value) Value {
		if !receiver(args, TagArray) {
			return Undefined
		}
		return e.arrayShift(args[0])
	})
	defineMethod(&arrayMethods, "unshift", arrayMethodUnshift)
	defineMethod(&arrayMethods, "foreach", arrayMethodForeach)
	defineMethod(&arrayMethods, "indexOf", func(e *Env, args []Value) Value {
		if !receiver(args, TagArray) {
			return Undefined
		}
		x := Arg(args, 1)
		for i, n := 0, e.arrayLen(args[0]); i < n; i++ {
			if e.Equal(e.arrayAt(args[0], i), x) {
				return Number(float64(i))
			}
		}
		return Number(-1)
	})

	defineMethod(&objectMethods, "length", methodLength)
	defineMethod(&objectMethods, "toString", methodToString)
	defineMethod(&objectMethods, "foreach", objectMethodForeach)

	defineMethod(&bufferMethods, "length", methodLength)
	defineMethod(&bufferMethods, "readInt", bufferMethodReadInt)
	defineMethod(&bufferMethods, "writeInt", bufferMethodWriteInt)
	defineMethod(&bufferMethods, "slice", bufferMethodSlice)
}

// receiver reports whether a method was called on a value of type t.
func receiver(args []Value, t Tag) bool {
	return len(args) > 0 && args[0].Tag() == t
}

// intrinsicIndex finds a method by name in a table.
func intrinsicIndex(name string, table []int) (int, bool) {
	for _, i := range table {
		if intrinsics[i].name == name {
			return i, true
		}
	}
	return 0, false
}

// intrinsicFor returns the method name of a value of type t, or Undefined.
func intrinsicFor(t Tag, name string) Value {
	var table []int
	switch t {
	case TagInlineString, TagString, TagStaticString:
		table = stringMethods
	case TagArray:
		table = arrayMethods
	case TagBuffer:
		table = bufferMethods
	}
	if i, ok := intrinsicIndex(name, table); ok {
		return nativeValue(i, true)
	}
	if i, ok := intrinsicIndex(name, commonMethods); ok {
		return nativeValue(i, true)
	}
	return Undefined
}

func methodToString(e *Env, args []Value) Value {
	v := Arg(args, 0)
	if v.IsString() {
		return v
	}
	return e.NewString(e.Format(v))
}

func methodLength(e *Env, args []Value) Value {
	return Number(float64(e.Len(Arg(args, 0))))
}

func arrayMethodPush(e *Env, args []Value) Value {
	if !receiver(args, TagArray) {
		return Undefined
	}
	for i := 1; i < len(args); i++ {
		e.arrayPush(&args[0], &args[i])
	}
	return Number(float64(e.arrayLen(args[0])))
}

func arrayMethodUnshift(e *Env, args []Value) Value {
	if !receiver(args, TagArray) {
		return Undefined
	}
	for i := len(args) - 1; i >= 1; i-- {
		e.arrayUnshift(&args[0], &args[i])
	}
	return Number(float64(e.arrayLen(args[0])))
}

// arrayMethodForeach calls fn(element, index) for each element. It stops
// early when fn throws.
func arrayMethodForeach(e *Env, args []Value) Value {
	if !receiver(args, TagArray) || !Arg(args, 1).IsFunction() {
		return Undefined
	}
	for i := 0; i < e.arrayLen(args[0]); i++ {
		if _, err := e.Call(args[1], e.arrayAt(args[0], i), Number(float64(i))); err != nil {
			break
		}
	}
	return Undefined
}

// objectMethodForeach calls fn(key, value) for each own property.
func objectMethodForeach(e *Env, args []Value) Value {
	if !receiver(args, TagObject) || !Arg(args, 1).IsFunction() {
		return Undefined
	}
	for i := 0; i < e.objectLen(args[0]); i++ {
		name, _ := e.objectEntry(args[0], i)
		key := e.NewString(name)
		_, v := e.objectEntry(args[0], i)
		if _, err := e.Call(args[1], key, v); err != nil {
			break
		}
	}
	return Undefined
}

// intArgs reads the offset, size and byte order arguments of readInt and
// writeInt starting at args[first].
func intArgs(args []Value, first int) (size int, big bool) {
	size = 1
	if s := Arg(args, first); s.IsNumber() {
		size = int(s.Num())
	}
	big = Arg(args, first+1) == True
	return size, big
}

func byteOrder(big bool) binary.ByteOrder {
	if big {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// bufferMethodReadInt implements buf.readInt(offset, size=1, bigEndian=false).
func bufferMethodReadInt(e *Env, args []Value) Value {
	if !receiver(args, TagBuffer) {
		return Undefined
	}
	buf := e.Bytes(args[0])
	off := Arg(args, 1)
	if !off.IsNumber() {
		return Undefined
	}
	i := int(off.Num())
	size, big := intArgs(args, 2)
	if i < 0 || i+size > len(buf) {
		return Undefined
	}
	order := byteOrder(big)
	switch size {
	case 1:
		return Number(float64(buf[i]))
	case 2:
		return Number(float64(order.Uint16(buf[i:])))
	case 4:
		return Number(float64(order.Uint32(buf[i:])))
	case 8:
		return Number(float64(int64(order.Uint64(buf[i:]))))
	}
	return Undefined
}

// bufferMethodWriteInt implements buf.writeInt(offset, value, size=1,
// bigEndian=false). It returns the offset past the written bytes.
func bufferMethodWriteInt(e *Env, args []Value) Value {
	if !receiver(args, TagBuffer) {
		return Undefined
	}
	buf := e.Bytes(args[0])
	off, v := Arg(args, 1), Arg(args, 2)
	if !off.IsNumber() || !v.IsNumber() {
		return Undefined
	}
	i := int(off.Num())
	size, big := intArgs(args, 3)
	if i < 0 || i+size > len(buf) {
		return Undefined
	}
	n := int64(v.Num())
	order := byteOrder(big)
	switch size {
	case 1:
		buf[i] = byte(n)
	case 2:
		order.PutUint16(buf[i:], uint16(n))
	case 4:
		order.PutUint32(buf[i:], uint32(n))
	case 8:
		order.PutUint64(buf[i:], uint64(n))
	default:
		return Undefined
	}
	return Number(float64(i + size))
}

// bufferMethodSlice implements buf.slice(start, end=length) as a copy.
func bufferMethodSlice(e *Env, args []Value) Value {
	if !receiver(args, TagBuffer) {
		return Undefined
	}
	n := e.Len(args[0])
	start, end := 0, n
	if s := Arg(args, 1); s.IsNumber() {
		start = int(s.Num())
	}
	if s := Arg(args, 2); s.IsNumber() {
		end = int(s.Num())
	}
	start, end = max(0, min(start, n)), max(0, min(end, n))
	if end < start {
		end = start
	}
	out := e.NewBuffer(end - start)
	if out == Undefined {
		return Undefined
	}
	copy(e.Bytes(out), e.Bytes(args[0])[start:end])
	return out
}
