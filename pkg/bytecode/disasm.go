package bytecode

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Instruction is one decoded instruction.
type Instruction struct {
	Offset int    // Offset of the opcode byte
	Op     Opcode // Opcode
	Args   []int  // Decoded operands, sign-extended for displacements
	Len    int    // Total encoded length
}

// Target returns the absolute jump target of a relative jump.
func (in Instruction) Target() int {
	if !in.Op.IsJump() || len(in.Args) == 0 {
		return -1
	}
	return in.Offset + in.Len + in.Args[0]
}

// String formats the instruction as "MNEMONIC arg arg", the syntax the
// assembler accepts.
func (in Instruction) String() string {
	var sb strings.Builder
	sb.WriteString(in.Op.String())
	for _, a := range in.Args {
		fmt.Fprintf(&sb, " %d", a)
	}
	return sb.String()
}

// readOperand decodes one operand at code[pos:].
func readOperand(code []byte, pos int, k OperandKind) int {
	switch k {
	case U8:
		return int(code[pos])
	case I8:
		return int(int8(code[pos]))
	case U16:
		return int(binary.BigEndian.Uint16(code[pos:]))
	case I16:
		return int(int16(binary.BigEndian.Uint16(code[pos:])))
	}
	return 0
}

// Fetch decodes the instruction at pc for the interpreter. It returns the
// opcode, up to two operands and the offset of the next instruction; ok is
// false for an undefined opcode or a truncated instruction.
func Fetch(code []byte, pc int) (op Opcode, a, b int, next int, ok bool) {
	if pc < 0 || pc >= len(code) {
		return 0, 0, 0, pc, false
	}
	op = Opcode(code[pc])
	info := &opcodeTable[op]
	if info.Name == "" {
		return op, 0, 0, pc, false
	}
	pos := pc + 1
	for i, k := range info.Operands {
		w := k.Width()
		if pos+w > len(code) {
			return op, 0, 0, pc, false
		}
		v := readOperand(code, pos, k)
		if i == 0 {
			a = v
		} else {
			b = v
		}
		pos += w
	}
	return op, a, b, pos, true
}

// Decode decodes the instruction at pc.
func Decode(code []byte, pc int) (Instruction, error) {
	op, a, b, next, ok := Fetch(code, pc)
	if !ok {
		if pc < len(code) && !op.Valid() {
			return Instruction{}, fmt.Errorf("offset %04X: undefined opcode 0x%02X", pc, byte(op))
		}
		return Instruction{}, fmt.Errorf("offset %04X: truncated %s", pc, op)
	}
	in := Instruction{Offset: pc, Op: op, Len: next - pc}
	switch len(opcodeTable[op].Operands) {
	case 1:
		in.Args = []int{a}
	case 2:
		in.Args = []int{a, b}
	}
	return in, nil
}

// DecodeAll decodes a whole code buffer.
func DecodeAll(code []byte) ([]Instruction, error) {
	var out []Instruction
	for pc := 0; pc < len(code); {
		in, err := Decode(code, pc)
		if err != nil {
			return out, err
		}
		out = append(out, in)
		pc += in.Len
	}
	return out, nil
}

// Append encodes one instruction onto dst. Operands are range-checked
// against their encodings.
func Append(dst []byte, op Opcode, args ...int) ([]byte, error) {
	info := &opcodeTable[op]
	if info.Name == "" {
		return dst, fmt.Errorf("undefined opcode 0x%02X", byte(op))
	}
	if len(args) != len(info.Operands) {
		return dst, fmt.Errorf("%s takes %d operands, got %d", info.Name, len(info.Operands), len(args))
	}
	dst = append(dst, byte(op))
	for i, k := range info.Operands {
		v := args[i]
		switch k {
		case U8:
			if v < 0 || v > 0xFF {
				return dst, fmt.Errorf("%s: operand %d out of u8 range", info.Name, v)
			}
			dst = append(dst, byte(v))
		case I8:
			if v < -128 || v > 127 {
				return dst, fmt.Errorf("%s: operand %d out of i8 range", info.Name, v)
			}
			dst = append(dst, byte(int8(v)))
		case U16:
			if v < 0 || v > 0xFFFF {
				return dst, fmt.Errorf("%s: operand %d out of u16 range", info.Name, v)
			}
			dst = binary.BigEndian.AppendUint16(dst, uint16(v))
		case I16:
			if v < -32768 || v > 32767 {
				return dst, fmt.Errorf("%s: operand %d out of i16 range", info.Name, v)
			}
			dst = binary.BigEndian.AppendUint16(dst, uint16(int16(v)))
		}
	}
	return dst, nil
}

// Disassemble returns a human-readable listing, one instruction per line,
// prefixed by its hex offset. Jumps carry their absolute target as a
// comment. Assemble accepts the output.
func Disassemble(code []byte) (string, error) {
	var sb strings.Builder
	for pc := 0; pc < len(code); {
		in, err := Decode(code, pc)
		if err != nil {
			return sb.String(), err
		}
		if in.Op.IsJump() {
			fmt.Fprintf(&sb, "%04X  %-24s ; -> %04X\n", in.Offset, in.String(), in.Target())
		} else {
			fmt.Fprintf(&sb, "%04X  %s\n", in.Offset, in.String())
		}
		pc += in.Len
	}
	return sb.String(), nil
}
