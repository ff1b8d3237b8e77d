package bytecode

import (
	"strings"
	"testing"
)

func TestAllOpcodesHaveMetadata(t *testing.T) {
	for _, op := range AllOpcodes() {
		info := GetOpcodeInfo(op)
		if info.Name == "" || strings.HasPrefix(info.Name, "UNKNOWN") {
			t.Errorf("Opcode 0x%02X has no metadata", byte(op))
		}
		if got, ok := Lookup(info.Name); !ok || got != op {
			t.Errorf("Lookup(%q) = %s, %v", info.Name, got, ok)
		}
	}
}

func TestOpcodeCount(t *testing.T) {
	// 6 control, 15 push, 3 unary, 10 binary, 7 compare, 33 assign,
	// 12 inc/dec, 6 member/call, 10 jumps, 3 exceptions.
	if got := OpcodeCount(); got != 105 {
		t.Errorf("OpcodeCount() = %d, want 105", got)
	}
}

func TestOpcodeString(t *testing.T) {
	tests := []struct {
		op   Opcode
		want string
	}{
		{OpStop, "STOP"},
		{OpPushVar, "PUSH_VAR"},
		{OpAdd, "ADD"},
		{Compound(OpAssign, OpAdd), "ADD_ASSIGN"},
		{Compound(OpPropAssign, OpXor), "PROP_XOR_ASSIGN"},
		{Compound(OpElemAssign, OpMul), "ELEM_MUL_ASSIGN"},
		{OpJmpFOrPopL, "JMP_F_OR_POP_L"},
		{OpTry, "TRY"},
	}
	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("Opcode(0x%02X).String() = %q, want %q", byte(tt.op), got, tt.want)
		}
	}
}

func TestUnknownOpcodeString(t *testing.T) {
	op := Opcode(0xEE)
	if op.Valid() {
		t.Fatalf("0xEE is defined")
	}
	if got := op.String(); !strings.HasPrefix(got, "UNKNOWN") {
		t.Errorf("unknown opcode String() = %q", got)
	}
}

func TestOpcodeInstructionLen(t *testing.T) {
	tests := []struct {
		op   Opcode
		want int
	}{
		{OpPass, 1},
		{OpPushNum, 3},
		{OpPushVar, 3},
		{OpIsUnd, 2},
		{OpCall, 2},
		{OpJmp, 2},
		{OpJmpL, 3},
		{OpTry, 3},
	}
	for _, tt := range tests {
		if got := tt.op.InstructionLen(); got != tt.want {
			t.Errorf("%s.InstructionLen() = %d, want %d", tt.op, got, tt.want)
		}
	}
}

func TestJumpForms(t *testing.T) {
	shorts := []Opcode{OpJmp, OpJmpT, OpJmpF, OpJmpFOrPop, OpJmpTOrPop}
	for _, op := range shorts {
		if !op.IsJump() || !op.Long().IsJump() {
			t.Errorf("%s is not a jump", op)
		}
		if op.Long() != op+1 {
			t.Errorf("%s.Long() = %s", op, op.Long())
		}
		if GetOpcodeInfo(op).Operands[0] != I8 || GetOpcodeInfo(op.Long()).Operands[0] != I16 {
			t.Errorf("%s operand widths wrong", op)
		}
	}
	for _, op := range []Opcode{OpAdd, OpCall, OpRet} {
		if op.IsJump() {
			t.Errorf("%s.IsJump() = true", op)
		}
	}
}

func TestCompoundRoundTrip(t *testing.T) {
	for _, base := range []Opcode{OpAssign, OpPropAssign, OpElemAssign} {
		if _, ok := BinaryOf(base, base); ok {
			t.Errorf("BinaryOf(%s, %s) reported a binary operator", base, base)
		}
		for op := OpMul; op <= OpXor; op++ {
			got, ok := BinaryOf(base, Compound(base, op))
			if !ok || got != op {
				t.Errorf("BinaryOf(%s, %s) = %s, want %s", base, Compound(base, op), got, op)
			}
		}
	}
}
