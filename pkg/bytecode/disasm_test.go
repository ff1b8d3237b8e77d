package bytecode

import (
	"bytes"
	"strings"
	"testing"
)

func mustAppend(t *testing.T, code []byte, op Opcode, args ...int) []byte {
	t.Helper()
	code, err := Append(code, op, args...)
	if err != nil {
		t.Fatalf("Append(%s, %v): %v", op, args, err)
	}
	return code
}

func sampleCode(t *testing.T) []byte {
	t.Helper()
	var code []byte
	code = mustAppend(t, code, OpPushVar, 1, 0)
	code = mustAppend(t, code, OpPushNum, 300)
	code = mustAppend(t, code, OpAdd)
	code = mustAppend(t, code, OpJmpF, 4)
	code = mustAppend(t, code, OpPushStr, 2)
	code = mustAppend(t, code, OpCallMeth, 1)
	code = mustAppend(t, code, OpJmpL, -1000)
	code = mustAppend(t, code, OpTry, 7)
	code = mustAppend(t, code, OpStop)
	return code
}

func TestDecodeOperands(t *testing.T) {
	code := sampleCode(t)
	ins, err := DecodeAll(code)
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	want := []string{
		"PUSH_VAR 1 0",
		"PUSH_NUM 300",
		"ADD",
		"JMP_F 4",
		"PUSH_STR 2",
		"CALL_METH 1",
		"JMP_L -1000",
		"TRY 7",
		"STOP",
	}
	if len(ins) != len(want) {
		t.Fatalf("decoded %d instructions, want %d", len(ins), len(want))
	}
	for i, in := range ins {
		if in.String() != want[i] {
			t.Errorf("instruction %d = %q, want %q", i, in.String(), want[i])
		}
	}
	if ins[3].Target() != ins[3].Offset+2+4 {
		t.Errorf("JMP_F target = %d", ins[3].Target())
	}
}

func TestFetchRejectsTruncated(t *testing.T) {
	code := []byte{byte(OpPushNum), 0x01}
	if _, _, _, _, ok := Fetch(code, 0); ok {
		t.Errorf("Fetch accepted a truncated PUSH_NUM")
	}
	if _, err := Decode([]byte{0xEE}, 0); err == nil {
		t.Errorf("Decode accepted an undefined opcode")
	}
}

func TestAppendRangeChecks(t *testing.T) {
	tests := []struct {
		op   Opcode
		args []int
	}{
		{OpJmp, []int{128}},
		{OpJmpL, []int{-40000}},
		{OpPushVar, []int{256, 0}},
		{OpPushNum, []int{-1}},
		{OpAdd, []int{1}},
	}
	for _, tt := range tests {
		if _, err := Append(nil, tt.op, tt.args...); err == nil {
			t.Errorf("Append(%s, %v) succeeded", tt.op, tt.args)
		}
	}
}

func TestDisassembleListing(t *testing.T) {
	out, err := Disassemble(sampleCode(t))
	if err != nil {
		t.Fatalf("Disassemble: %v", err)
	}
	for _, want := range []string{"0000  PUSH_VAR 1 0", "0003  PUSH_NUM 300", "; -> 000D"} {
		if !strings.Contains(out, want) {
			t.Errorf("listing missing %q:\n%s", want, out)
		}
	}
}

func TestAssembleRoundTrip(t *testing.T) {
	code := sampleCode(t)
	listing, err := Disassemble(code)
	if err != nil {
		t.Fatalf("Disassemble: %v", err)
	}
	again, err := Assemble(listing)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !bytes.Equal(again, code) {
		t.Errorf("round trip mismatch\n got % X\nwant % X", again, code)
	}
}

func TestAssembleWithoutOffsets(t *testing.T) {
	code, err := Assemble("PUSH_ZERO\n  ; comment only\nRET\n")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !bytes.Equal(code, []byte{byte(OpPushZero), byte(OpRet)}) {
		t.Errorf("Assemble = % X", code)
	}
	if _, err := Assemble("FROB 1"); err == nil {
		t.Errorf("Assemble accepted an unknown mnemonic")
	}
}
