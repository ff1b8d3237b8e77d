package vm

import (
	"math"
	"strconv"
	"strings"
)

// maxFormatDepth bounds nested containers in Format.
const maxFormatDepth = 8

// Format returns the text form of v used by toString, print and the REPL.
// Strings are returned as is; inside containers they are quoted.
func (e *Env) Format(v Value) string {
	if s, ok := e.Str(v); ok {
		return s
	}
	var sb strings.Builder
	e.format(&sb, v, 0)
	return sb.String()
}

// FormatNumber formats a number the way scripts print it.
func FormatNumber(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case math.IsNaN(f):
		return "NaN"
	case f == math.Trunc(f) && math.Abs(f) < 1e15:
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func (e *Env) format(sb *strings.Builder, v Value, depth int) {
	switch v.Tag() {
	case TagNumber:
		sb.WriteString(FormatNumber(v.Num()))
	case TagUndefined:
		sb.WriteString("undefined")
	case TagNaN:
		sb.WriteString("NaN")
	case TagBoolean:
		sb.WriteString(strconv.FormatBool(v == True))
	case TagInlineString, TagString, TagStaticString:
		s, _ := e.Str(v)
		sb.WriteString(strconv.Quote(s))
	case TagScript:
		sb.WriteString("<function>")
	case TagNative:
		sb.WriteString("<native ")
		if i, intrinsic := v.nativeIndex(); intrinsic && i < len(intrinsics) {
			sb.WriteString(intrinsics[i].name)
		} else if !intrinsic && i < len(e.natives) {
			sb.WriteString(e.natives[i].Name)
		}
		sb.WriteByte('>')
	case TagArray:
		if depth >= maxFormatDepth {
			sb.WriteString("[...]")
			return
		}
		sb.WriteByte('[')
		for i, n := 0, e.arrayLen(v); i < n; i++ {
			if i > 0 {
				sb.WriteString(", ")
			}
			e.format(sb, e.arrayAt(v, i), depth+1)
		}
		sb.WriteByte(']')
	case TagObject:
		if depth >= maxFormatDepth {
			sb.WriteString("{...}")
			return
		}
		sb.WriteByte('{')
		for i, n := 0, e.objectLen(v); i < n; i++ {
			if i > 0 {
				sb.WriteString(", ")
			}
			k, val := e.objectEntry(v, i)
			sb.WriteString(k)
			sb.WriteString(": ")
			e.format(sb, val, depth+1)
		}
		sb.WriteByte('}')
	case TagBuffer:
		sb.WriteString("<buffer ")
		sb.WriteString(strconv.Itoa(e.count(v.offset())))
		sb.WriteByte('>')
	case TagForeign:
		t, data := e.foreign(v)
		switch {
		case t != nil && t.String != nil:
			sb.WriteString(t.String(e, data))
		case t != nil:
			sb.WriteString("<" + t.Name + ">")
		default:
			sb.WriteString("<foreign>")
		}
	default:
		sb.WriteString("<" + v.Tag().String() + ">")
	}
}
