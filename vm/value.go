package vm

import (
	"math"
)

// Value represents an ember value using NaN-boxing.
//
// Every value is a 64-bit word. A word whose top 16 bits are at most
// 0xFFF0 is an IEEE 754 double (negative infinity included). The words
// above that encode the other types: the low nibble of the top 16 bits is
// the tag and the remaining 48 bits are the payload.
//
// Encoding scheme:
//   - Number: native double, never NaN (NaN has its own tag)
//   - InlineString: bit 8 set when the string holds one byte, bits 0-7 the byte
//   - StaticString: string constant index; bit 47 selects the host table
//   - Native: native index; bit 47 marks a built-in method
//   - Ref: variable slot | generation<<16
//   - heap types: byte offset of the object in the heap
type Value uint64

// Tag identifies the type of a Value.
type Tag uint8

const (
	TagNumber Tag = iota
	TagUndefined
	TagNaN
	TagBoolean
	TagInlineString
	TagString
	TagStaticString
	TagScript
	TagNative
	TagArray
	TagObject
	TagBuffer
	TagForeign
	TagRef   // variable reference, only seen by assignment instructions
	TagScope // lexical scope, never visible to scripts
	TagBlock // raw heap block owned by another object
)

var tagNames = [...]string{
	TagNumber:       "number",
	TagUndefined:    "undefined",
	TagNaN:          "NaN",
	TagBoolean:      "boolean",
	TagInlineString: "string",
	TagString:       "string",
	TagStaticString: "string",
	TagScript:       "function",
	TagNative:       "function",
	TagArray:        "array",
	TagObject:       "object",
	TagBuffer:       "buffer",
	TagForeign:      "foreign",
	TagRef:          "ref",
	TagScope:        "scope",
	TagBlock:        "block",
}

func (t Tag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return "invalid"
}

// NaN-boxing constants
const (
	tagShift          = 48
	boxBits    uint64 = 0xFFF0 << tagShift
	payloadMask       = uint64(1)<<tagShift - 1

	// Bit 47 of the payload splits StaticString and Native index spaces.
	hostBit uint64 = 1 << 47
)

// Pre-defined values
var (
	Undefined = box(TagUndefined, 0)
	NaN       = box(TagNaN, 0)
	True      = box(TagBoolean, 1)
	False     = box(TagBoolean, 0)
	Zero      = Value(0)
	// EmptyString is the inline string of length zero.
	EmptyString = box(TagInlineString, 0)
)

func box(tag Tag, payload uint64) Value {
	return Value(boxBits | uint64(tag)<<tagShift | payload&payloadMask)
}

func (v Value) payload() uint64 { return uint64(v) & payloadMask }

// Tag returns the type tag of v.
func (v Value) Tag() Tag {
	hi := uint64(v) >> tagShift
	if hi <= 0xFFF0 {
		return TagNumber
	}
	return Tag(hi & 0xF)
}

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

func (v Value) IsNumber() bool    { return v.Tag() == TagNumber }
func (v Value) IsUndefined() bool { return v == Undefined }
func (v Value) IsNaN() bool       { return v.Tag() == TagNaN }
func (v Value) IsBoolean() bool   { return v.Tag() == TagBoolean }
func (v Value) IsArray() bool     { return v.Tag() == TagArray }
func (v Value) IsObject() bool    { return v.Tag() == TagObject }
func (v Value) IsBuffer() bool    { return v.Tag() == TagBuffer }
func (v Value) IsForeign() bool   { return v.Tag() == TagForeign }
func (v Value) IsRef() bool       { return v.Tag() == TagRef }

// IsString reports whether v is any of the three string representations.
func (v Value) IsString() bool {
	switch v.Tag() {
	case TagInlineString, TagString, TagStaticString:
		return true
	}
	return false
}

// IsFunction reports whether v is a script function or a native.
func (v Value) IsFunction() bool {
	t := v.Tag()
	return t == TagScript || t == TagNative
}

// isHeap reports whether the payload of v is a heap offset.
func (v Value) isHeap() bool {
	switch v.Tag() {
	case TagString, TagScript, TagArray, TagObject, TagBuffer, TagForeign, TagScope, TagBlock:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Numbers and booleans
// ---------------------------------------------------------------------------

// Number creates a Value from a float64. Every NaN maps to the NaN value.
func Number(f float64) Value {
	if f != f {
		return NaN
	}
	return Value(math.Float64bits(f))
}

// Num returns v as a float64. NaN yields math.NaN(); other non-numbers
// yield 0.
func (v Value) Num() float64 {
	switch v.Tag() {
	case TagNumber:
		return math.Float64frombits(uint64(v))
	case TagNaN:
		return math.NaN()
	}
	return 0
}

// Bool creates a boolean Value.
func Bool(b bool) Value {
	if b {
		return True
	}
	return False
}

// ---------------------------------------------------------------------------
// Immediate strings, natives and references
// ---------------------------------------------------------------------------

// inlineString encodes a string of at most one byte.
func inlineString(s string) Value {
	if s == "" {
		return EmptyString
	}
	return box(TagInlineString, 1<<8|uint64(s[0]))
}

func staticString(i int, host bool) Value {
	p := uint64(i)
	if host {
		p |= hostBit
	}
	return box(TagStaticString, p)
}

func nativeValue(i int, intrinsic bool) Value {
	p := uint64(i)
	if intrinsic {
		p |= hostBit
	}
	return box(TagNative, p)
}

// nativeIndex returns the table index of a native and whether it is a
// built-in method.
func (v Value) nativeIndex() (int, bool) {
	p := v.payload()
	return int(p &^ hostBit), p&hostBit != 0
}

func refValue(slot, gen int) Value {
	return box(TagRef, uint64(slot)|uint64(gen)<<16)
}

func (v Value) ref() (slot, gen int) {
	p := v.payload()
	return int(p & 0xFFFF), int(p >> 16 & 0xFFFF)
}

// heapValue makes a value of a heap tag pointing at off.
func heapValue(tag Tag, off int) Value { return box(tag, uint64(off)) }

// offset returns the heap offset of a heap value.
func (v Value) offset() int { return int(v.payload()) }

// moved returns v pointing at a new heap offset.
func (v Value) moved(off int) Value { return heapValue(v.Tag(), off) }
