package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Control (0x00-0x0F)
	// ========================================================================

	OpStop      Opcode = 0x00 // End of program
	OpPass      Opcode = 0x01 // No operation
	OpPop       Opcode = 0x02 // Pop top of stack
	OpPopResult Opcode = 0x03 // Pop top of stack into the result register
	OpRet       Opcode = 0x04 // Return top of stack from the current function
	OpRet0      Opcode = 0x05 // Return undefined

	// ========================================================================
	// Push (0x10-0x1F)
	// ========================================================================

	OpPushUnd    Opcode = 0x10
	OpPushNaN    Opcode = 0x11
	OpPushTrue   Opcode = 0x12
	OpPushFalse  Opcode = 0x13
	OpPushZero   Opcode = 0x14
	OpPushNum    Opcode = 0x15 // PUSH_NUM <index:u16>
	OpPushStr    Opcode = 0x16 // PUSH_STR <index:u16>
	OpPushScript Opcode = 0x17 // PUSH_SCRIPT <function:u16>, captures the current scope
	OpPushNative Opcode = 0x18 // PUSH_NATIVE <native:u16>
	OpPushVar    Opcode = 0x19 // PUSH_VAR <slot:u8> <generation:u8>
	OpPushRef    Opcode = 0x1A // PUSH_REF <slot:u8> <generation:u8>
	OpArray      Opcode = 0x1B // ARRAY <count:u16>, pops count elements
	OpDict       Opcode = 0x1C // DICT <count:u16>, pops count key/value pairs
	OpIsUnd      Opcode = 0x1D // IS_UND <slot:u8>, tests a local of the current scope
	OpStoreVar   Opcode = 0x1E // STORE_VAR <slot:u8> <generation:u8>, pops

	// ========================================================================
	// Unary (0x20-0x27)
	// ========================================================================

	OpNeg      Opcode = 0x20
	OpNot      Opcode = 0x21 // bitwise ~
	OpLogicNot Opcode = 0x22 // !

	// ========================================================================
	// Binary (0x28-0x31). The order matters: compound assignment opcodes
	// are derived from it.
	// ========================================================================

	OpMul    Opcode = 0x28
	OpDiv    Opcode = 0x29
	OpMod    Opcode = 0x2A
	OpAdd    Opcode = 0x2B
	OpSub    Opcode = 0x2C
	OpLShift Opcode = 0x2D
	OpRShift Opcode = 0x2E
	OpAnd    Opcode = 0x2F
	OpOr     Opcode = 0x30
	OpXor    Opcode = 0x31

	// ========================================================================
	// Comparison (0x38-0x3E)
	// ========================================================================

	OpTEq Opcode = 0x38
	OpTNe Opcode = 0x39
	OpTGt Opcode = 0x3A
	OpTGe Opcode = 0x3B
	OpTLt Opcode = 0x3C
	OpTLe Opcode = 0x3D
	OpTIn Opcode = 0x3E

	// ========================================================================
	// Assignment families (0x40-0x6A): base, then base+1+binop for each
	// compound form.
	// ========================================================================

	OpAssign     Opcode = 0x40 // ref value -> value
	OpPropAssign Opcode = 0x50 // object key value -> value
	OpElemAssign Opcode = 0x60 // object index value -> value

	// ========================================================================
	// Increment/decrement families (0x70-0x7B)
	// ========================================================================

	OpIncPre      Opcode = 0x70 // ref -> value
	OpDecPre      Opcode = 0x71
	OpIncPost     Opcode = 0x72
	OpDecPost     Opcode = 0x73
	OpPropIncPre  Opcode = 0x74 // object key -> value
	OpPropDecPre  Opcode = 0x75
	OpPropIncPost Opcode = 0x76
	OpPropDecPost Opcode = 0x77
	OpElemIncPre  Opcode = 0x78 // object index -> value
	OpElemDecPre  Opcode = 0x79
	OpElemIncPost Opcode = 0x7A
	OpElemDecPost Opcode = 0x7B

	// ========================================================================
	// Member access and calls (0x80-0x8F)
	// ========================================================================

	OpProp     Opcode = 0x80 // object key -> value
	OpPropMeth Opcode = 0x81 // object key -> object function
	OpElem     Opcode = 0x82 // object index -> value
	OpElemMeth Opcode = 0x83 // object index -> object function
	OpCall     Opcode = 0x88 // CALL <argc:u8>: args... function -> result
	OpCallMeth Opcode = 0x89 // CALL_METH <argc:u8>: args... self function -> result

	// ========================================================================
	// Jumps (0x90-0x99). Short forms are even, the long form is short|1.
	// Displacements are relative to the end of the jump instruction.
	// ========================================================================

	OpJmp        Opcode = 0x90 // JMP <rel:i8>
	OpJmpL       Opcode = 0x91 // JMP_L <rel:i16>
	OpJmpT       Opcode = 0x92 // pop, jump if truthy
	OpJmpTL      Opcode = 0x93
	OpJmpF       Opcode = 0x94 // pop, jump if falsy
	OpJmpFL      Opcode = 0x95
	OpJmpFOrPop  Opcode = 0x96 // jump if falsy keeping the value, else pop
	OpJmpFOrPopL Opcode = 0x97
	OpJmpTOrPop  Opcode = 0x98 // jump if truthy keeping the value, else pop
	OpJmpTOrPopL Opcode = 0x99

	// ========================================================================
	// Exceptions (0xA0-0xA2)
	// ========================================================================

	OpTry   Opcode = 0xA0 // TRY <rel:i16>: install a handler at the target
	OpUntry Opcode = 0xA1 // drop the innermost handler
	OpThrow Opcode = 0xA2 // pop and throw
)

// OperandKind describes the encoding of one operand. Multi-byte operands
// are big-endian.
type OperandKind uint8

const (
	U8 OperandKind = iota + 1
	U16
	I8
	I16
)

// Width returns the number of bytes an operand occupies.
func (k OperandKind) Width() int {
	switch k {
	case U16, I16:
		return 2
	case U8, I8:
		return 1
	}
	return 0
}

// Signed reports whether the operand is a signed displacement.
func (k OperandKind) Signed() bool { return k == I8 || k == I16 }

// Variable is the StackPop value for instructions whose pop count depends
// on an operand.
const Variable = -1

// OpcodeInfo provides metadata about each opcode. The same table drives
// the compiler's emitter, the interpreter's fetch step, the disassembler and
// the assembler.
type OpcodeInfo struct {
	Name      string        // Mnemonic
	Operands  []OperandKind // Operand encodings, in order
	StackPop  int           // Values popped (Variable when operand dependent)
	StackPush int           // Values pushed
}

// OperandLen returns the number of operand bytes following the opcode.
func (info OpcodeInfo) OperandLen() int {
	n := 0
	for _, k := range info.Operands {
		n += k.Width()
	}
	return n
}

var (
	u8     = []OperandKind{U8}
	u16    = []OperandKind{U16}
	u8u8   = []OperandKind{U8, U8}
	i8     = []OperandKind{I8}
	i16    = []OperandKind{I16}
	noArgs []OperandKind
)

// binaryNames lists the binary operators in opcode order.
var binaryNames = []string{"MUL", "DIV", "MOD", "ADD", "SUB", "LSHIFT", "RSHIFT", "AND", "OR", "XOR"}

// opcodeTable is indexed by opcode; entries with an empty Name are unused.
var opcodeTable [256]OpcodeInfo

func define(op Opcode, name string, operands []OperandKind, pop, push int) {
	opcodeTable[op] = OpcodeInfo{Name: name, Operands: operands, StackPop: pop, StackPush: push}
}

func init() {
	define(OpStop, "STOP", noArgs, 0, 0)
	define(OpPass, "PASS", noArgs, 0, 0)
	define(OpPop, "POP", noArgs, 1, 0)
	define(OpPopResult, "POP_RESULT", noArgs, 1, 0)
	define(OpRet, "RET", noArgs, 1, 0)
	define(OpRet0, "RET0", noArgs, 0, 0)

	define(OpPushUnd, "PUSH_UND", noArgs, 0, 1)
	define(OpPushNaN, "PUSH_NAN", noArgs, 0, 1)
	define(OpPushTrue, "PUSH_TRUE", noArgs, 0, 1)
	define(OpPushFalse, "PUSH_FALSE", noArgs, 0, 1)
	define(OpPushZero, "PUSH_ZERO", noArgs, 0, 1)
	define(OpPushNum, "PUSH_NUM", u16, 0, 1)
	define(OpPushStr, "PUSH_STR", u16, 0, 1)
	define(OpPushScript, "PUSH_SCRIPT", u16, 0, 1)
	define(OpPushNative, "PUSH_NATIVE", u16, 0, 1)
	define(OpPushVar, "PUSH_VAR", u8u8, 0, 1)
	define(OpPushRef, "PUSH_REF", u8u8, 0, 1)
	define(OpArray, "ARRAY", u16, Variable, 1)
	define(OpDict, "DICT", u16, Variable, 1)
	define(OpIsUnd, "IS_UND", u8, 0, 1)
	define(OpStoreVar, "STORE_VAR", u8u8, 1, 0)

	define(OpNeg, "NEG", noArgs, 1, 1)
	define(OpNot, "NOT", noArgs, 1, 1)
	define(OpLogicNot, "LOGIC_NOT", noArgs, 1, 1)

	for i, name := range binaryNames {
		define(OpMul+Opcode(i), name, noArgs, 2, 1)
		define(OpAssign+1+Opcode(i), name+"_ASSIGN", noArgs, 2, 1)
		define(OpPropAssign+1+Opcode(i), "PROP_"+name+"_ASSIGN", noArgs, 3, 1)
		define(OpElemAssign+1+Opcode(i), "ELEM_"+name+"_ASSIGN", noArgs, 3, 1)
	}
	define(OpAssign, "ASSIGN", noArgs, 2, 1)
	define(OpPropAssign, "PROP_ASSIGN", noArgs, 3, 1)
	define(OpElemAssign, "ELEM_ASSIGN", noArgs, 3, 1)

	define(OpTEq, "TEQ", noArgs, 2, 1)
	define(OpTNe, "TNE", noArgs, 2, 1)
	define(OpTGt, "TGT", noArgs, 2, 1)
	define(OpTGe, "TGE", noArgs, 2, 1)
	define(OpTLt, "TLT", noArgs, 2, 1)
	define(OpTLe, "TLE", noArgs, 2, 1)
	define(OpTIn, "TIN", noArgs, 2, 1)

	define(OpIncPre, "INC_PRE", noArgs, 1, 1)
	define(OpDecPre, "DEC_PRE", noArgs, 1, 1)
	define(OpIncPost, "INC_POST", noArgs, 1, 1)
	define(OpDecPost, "DEC_POST", noArgs, 1, 1)
	define(OpPropIncPre, "PROP_INC_PRE", noArgs, 2, 1)
	define(OpPropDecPre, "PROP_DEC_PRE", noArgs, 2, 1)
	define(OpPropIncPost, "PROP_INC_POST", noArgs, 2, 1)
	define(OpPropDecPost, "PROP_DEC_POST", noArgs, 2, 1)
	define(OpElemIncPre, "ELEM_INC_PRE", noArgs, 2, 1)
	define(OpElemDecPre, "ELEM_DEC_PRE", noArgs, 2, 1)
	define(OpElemIncPost, "ELEM_INC_POST", noArgs, 2, 1)
	define(OpElemDecPost, "ELEM_DEC_POST", noArgs, 2, 1)

	define(OpProp, "PROP", noArgs, 2, 1)
	define(OpPropMeth, "PROP_METH", noArgs, 2, 2)
	define(OpElem, "ELEM", noArgs, 2, 1)
	define(OpElemMeth, "ELEM_METH", noArgs, 2, 2)
	define(OpCall, "CALL", u8, Variable, 1)
	define(OpCallMeth, "CALL_METH", u8, Variable, 1)

	define(OpJmp, "JMP", i8, 0, 0)
	define(OpJmpL, "JMP_L", i16, 0, 0)
	define(OpJmpT, "JMP_T", i8, 1, 0)
	define(OpJmpTL, "JMP_T_L", i16, 1, 0)
	define(OpJmpF, "JMP_F", i8, 1, 0)
	define(OpJmpFL, "JMP_F_L", i16, 1, 0)
	define(OpJmpFOrPop, "JMP_F_OR_POP", i8, 1, 0)
	define(OpJmpFOrPopL, "JMP_F_OR_POP_L", i16, 1, 0)
	define(OpJmpTOrPop, "JMP_T_OR_POP", i8, 1, 0)
	define(OpJmpTOrPopL, "JMP_T_OR_POP_L", i16, 1, 0)

	define(OpTry, "TRY", i16, 0, 0)
	define(OpUntry, "UNTRY", noArgs, 0, 0)
	define(OpThrow, "THROW", noArgs, 1, 0)

	for op := range opcodeTable {
		if name := opcodeTable[op].Name; name != "" {
			byName[name] = Opcode(op)
		}
	}
}

// byName maps mnemonics back to opcodes for the assembler.
var byName = map[string]Opcode{}

// Lookup returns the opcode for a mnemonic.
func Lookup(name string) (Opcode, bool) {
	op, ok := byName[name]
	return op, ok
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info := opcodeTable[op]; info.Name != "" {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool { return opcodeTable[op].Name != "" }

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return opcodeTable[op].OperandLen()
}

// InstructionLen returns the total length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// IsJump returns true if this opcode is a relative jump.
func (op Opcode) IsJump() bool {
	return (op >= OpJmp && op <= OpJmpTOrPopL) || op == OpTry
}

// IsBinary returns true for the arithmetic/bitwise binary operators.
func (op Opcode) IsBinary() bool {
	return op >= OpMul && op <= OpXor
}

// Long returns the 16-bit displacement form of a short jump.
func (op Opcode) Long() Opcode {
	if op >= OpJmp && op <= OpJmpTOrPopL {
		return op | 1
	}
	return op
}

// Compound returns the compound-assignment opcode of an assignment family
// for a binary operator, e.g. Compound(OpAssign, OpAdd) == ADD_ASSIGN.
func Compound(base, binary Opcode) Opcode {
	return base + 1 + (binary - OpMul)
}

// BinaryOf returns the binary operator applied by a compound assignment
// opcode, and false for a plain assignment.
func BinaryOf(base, op Opcode) (Opcode, bool) {
	if op == base {
		return 0, false
	}
	return OpMul + (op - base - 1), true
}

// AllOpcodes returns every defined opcode in numeric order.
func AllOpcodes() []Opcode {
	var ops []Opcode
	for op := range opcodeTable {
		if opcodeTable[op].Name != "" {
			ops = append(ops, Opcode(op))
		}
	}
	return ops
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(AllOpcodes())
}
