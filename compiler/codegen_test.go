package compiler

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"testing"

	"github.com/chazu/ember/pkg/bytecode"
	"github.com/chazu/ember/pkg/errcode"
	"github.com/chazu/ember/pkg/image"
)

type nativeTable map[string]int

func (n nativeTable) LookupNative(name string) (int, bool) {
	idx, ok := n[name]
	return idx, ok
}

func listing(t *testing.T, fn *image.Function) []string {
	t.Helper()
	ins, err := bytecode.DecodeAll(fn.Code)
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	out := make([]string, len(ins))
	for i, in := range ins {
		out[i] = in.String()
	}
	return out
}

func compileUnit(t *testing.T, src string, opts Options) *Unit {
	t.Helper()
	u, err := CompileUnit(src, opts)
	if err != nil {
		t.Fatalf("CompileUnit(%q): %v", src, err)
	}
	return u
}

func TestCodegen(t *testing.T) {
	globals := Options{Interactive: true, Globals: []string{"a", "b"}}
	tests := []struct {
		name string
		src  string
		opts Options
		want []string
	}{
		{
			name: "arithmetic",
			src:  "1 + 2",
			want: []string{"PUSH_NUM 0", "PUSH_NUM 1", "ADD", "POP_RESULT", "STOP"},
		},
		{
			name: "compound assignment",
			src:  "var a = 0; a += 1",
			want: []string{
				"PUSH_REF 0 0", "PUSH_ZERO", "ASSIGN", "POP",
				"PUSH_REF 0 0", "PUSH_NUM 0", "ADD_ASSIGN", "POP_RESULT", "STOP",
			},
		},
		{
			name: "if else",
			src:  "var x; if (x) x = 1 else x = 2",
			want: []string{
				"PUSH_VAR 0 0", "JMP_F 10",
				"PUSH_REF 0 0", "PUSH_NUM 0", "ASSIGN", "POP_RESULT", "JMP 8",
				"PUSH_REF 0 0", "PUSH_NUM 1", "ASSIGN", "POP_RESULT", "STOP",
			},
		},
		{
			name: "while with break",
			src:  "var i = 0; while (i < 3) { if (i == 1) break; i++ }",
			want: []string{
				"PUSH_REF 0 0", "PUSH_ZERO", "ASSIGN", "POP",
				"PUSH_VAR 0 0", "PUSH_NUM 0", "TLT", "JMP_T 3", "JMP_L 19",
				"PUSH_VAR 0 0", "PUSH_NUM 1", "TEQ", "JMP_F 3", "JMP_L -15",
				"PUSH_REF 0 0", "INC_POST", "POP_RESULT", "JMP -31", "STOP",
			},
		},
		{
			name: "logical and",
			src:  "a && b",
			opts: globals,
			want: []string{"PUSH_VAR 0 0", "JMP_F_OR_POP 3", "PUSH_VAR 1 0", "POP_RESULT", "STOP"},
		},
		{
			name: "ternary",
			src:  "a ? 1 : 2",
			opts: globals,
			want: []string{"PUSH_VAR 0 0", "JMP_F 5", "PUSH_NUM 0", "JMP 3", "PUSH_NUM 1", "POP_RESULT", "STOP"},
		},
		{
			name: "try catch",
			src:  "try { throw 1 } catch (e) { e }",
			want: []string{
				"TRY 8", "PUSH_NUM 0", "THROW", "UNTRY", "JMP_L 7",
				"STORE_VAR 0 0", "PUSH_VAR 0 0", "POP_RESULT", "STOP",
			},
		},
		{
			name: "method call",
			src:  "a.push(1)",
			opts: globals,
			want: []string{"PUSH_NUM 0", "PUSH_VAR 0 0", "PUSH_STR 0", "PROP_METH", "CALL_METH 1", "POP_RESULT", "STOP"},
		},
		{
			name: "element method call",
			src:  "a[0](b)",
			opts: globals,
			want: []string{"PUSH_VAR 1 0", "PUSH_VAR 0 0", "PUSH_ZERO", "ELEM_METH", "CALL_METH 1", "POP_RESULT", "STOP"},
		},
		{
			name: "native call",
			src:  "print('hi', NaN)",
			opts: Options{Natives: nativeTable{"print": 7}},
			want: []string{"PUSH_STR 0", "PUSH_NAN", "PUSH_NATIVE 7", "CALL 2", "POP_RESULT", "STOP"},
		},
		{
			name: "property assignment and increment",
			src:  "a.n = 1; --a[b]",
			opts: globals,
			want: []string{
				"PUSH_VAR 0 0", "PUSH_STR 0", "PUSH_NUM 0", "PROP_ASSIGN", "POP_RESULT",
				"PUSH_VAR 0 0", "PUSH_VAR 1 0", "ELEM_DEC_PRE", "POP_RESULT", "STOP",
			},
		},
		{
			name: "literals",
			src:  "[true, {k: undefined}]",
			want: []string{"PUSH_TRUE", "PUSH_STR 0", "PUSH_UND", "DICT 1", "ARRAY 2", "POP_RESULT", "STOP"},
		},
		{
			name: "pass",
			src:  ";",
			want: []string{"STOP"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := compileUnit(t, tt.src, tt.opts)
			got := listing(t, u.Exe.Funcs[u.Main])
			if strings.Join(got, "\n") != strings.Join(tt.want, "\n") {
				t.Errorf("code:\n%s\nwant:\n%s", strings.Join(got, "\n"), strings.Join(tt.want, "\n"))
			}
		})
	}
}

func TestCodegenStackHigh(t *testing.T) {
	tests := []struct {
		src  string
		want int
	}{
		{"1 + 2", 2},
		{"1 + (2 + (3 + 4))", 4},
		{"var a = [1, 2, 3]", 4},
		{"var a; a ? 1 : 2", 1},
		{"var a; a.push(1)", 3},
	}
	for _, tt := range tests {
		u := compileUnit(t, tt.src, Options{})
		if got := u.Exe.Funcs[u.Main].StackHigh; got != tt.want {
			t.Errorf("%q: StackHigh = %d, want %d", tt.src, got, tt.want)
		}
	}
}

func TestCodegenNegativeLiteralFolded(t *testing.T) {
	u := compileUnit(t, "-5", Options{})
	got := listing(t, u.Exe.Funcs[0])
	if got[0] != "PUSH_NUM 0" || u.Exe.Numbers[0] != -5 {
		t.Errorf("code %v numbers %v, want folded -5", got, u.Exe.Numbers)
	}
}

func TestCodegenDefaultParameter(t *testing.T) {
	u := compileUnit(t, "def f(a, b = 2) { return b }", Options{})
	f := u.Exe.Funcs[1]
	want := []string{
		"IS_UND 1", "JMP_F 8",
		"PUSH_REF 1 0", "PUSH_NUM 0", "ASSIGN", "POP",
		"PUSH_VAR 1 0", "RET", "RET0",
	}
	if got := listing(t, f); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("f code = %v, want %v", got, want)
	}
	if f.ArgCount != 2 || f.VarCount != 2 {
		t.Errorf("f args=%d vars=%d, want 2 2", f.ArgCount, f.VarCount)
	}
}

func TestCodegenClosures(t *testing.T) {
	u := compileUnit(t, "def adder(x){return def(b){return a + x + b}}; var f = adder(10); f(100)",
		Options{Interactive: true, Globals: []string{"a"}})
	if len(u.Exe.Funcs) != 3 {
		t.Fatalf("%d functions, want 3", len(u.Exe.Funcs))
	}
	main, adder, inner := u.Exe.Funcs[0], u.Exe.Funcs[1], u.Exe.Funcs[2]
	if !adder.Closure || !inner.Closure || !main.Closure {
		t.Errorf("closure flags main=%v adder=%v inner=%v, want all set", main.Closure, adder.Closure, inner.Closure)
	}
	want := []string{"PUSH_VAR 0 2", "PUSH_VAR 0 1", "ADD", "PUSH_VAR 0 0", "ADD", "RET", "RET0"}
	if got := listing(t, inner); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("inner code = %v, want %v", got, want)
	}
	if got := strings.Join(u.Globals, ","); got != "a,adder,f" {
		t.Errorf("globals = %s, want a,adder,f", got)
	}
	head := listing(t, main)[:4]
	if want := "PUSH_REF 1 0,PUSH_SCRIPT 1,ASSIGN,POP"; strings.Join(head, ",") != want {
		t.Errorf("main starts %v, want %s", head, want)
	}
}

func TestCodegenLocalFunctionNotClosure(t *testing.T) {
	u := compileUnit(t, "def f(x) { var y = x; return y }", Options{})
	if u.Exe.Funcs[1].Closure || u.Exe.Funcs[0].Closure {
		t.Error("function without captures marked as closure")
	}
}

func TestCodegenErrors(t *testing.T) {
	tests := []struct {
		src  string
		code errcode.Code
	}{
		{"x", errcode.NotDefinedIdentifier},
		{"x = 1", errcode.NotDefinedIdentifier},
		{"print(1)", errcode.NotDefinedIdentifier},
		{"break", errcode.InvalidSemantic},
		{"def f() { continue }", errcode.InvalidSemantic},
		{"def f(a, a) {}", errcode.InvalidSemantic},
		{"def f(a) { var a }", errcode.InvalidSemantic},
		{"1 +", errcode.InvalidSyntax},
	}
	for _, tt := range tests {
		_, err := Compile(tt.src, Options{})
		if got := errcode.CodeOf(err); got != tt.code {
			t.Errorf("Compile(%q) error = %v, want %s", tt.src, err, tt.code)
		}
	}
}

func TestCodegenVariableLimit(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("var v0")
	for i := 1; i <= maxVars; i++ {
		fmt.Fprintf(&sb, ", v%d", i)
	}
	_, err := Compile(sb.String(), Options{BufferSize: 64 * 1024})
	if errcode.CodeOf(err) != errcode.ResourceLimit {
		t.Errorf("error = %v, want resource limit", err)
	}
}

func TestCodegenRedeclareReusesSlot(t *testing.T) {
	u := compileUnit(t, "var a = 1; var a = 2; a", Options{})
	if u.Exe.Funcs[0].VarCount != 1 {
		t.Errorf("VarCount = %d, want 1", u.Exe.Funcs[0].VarCount)
	}
}

func TestScratchCompaction(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&sb, "def f%d(x) { return x + %d }\n", i, i+1)
	}
	c := NewCompiler(Options{BufferSize: 256})
	prog, err := Parse(sb.String())
	if err != nil {
		t.Fatal(err)
	}
	if err := c.CompileStatement(prog); err != nil {
		t.Fatalf("CompileStatement: %v", err)
	}
	main, err := c.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if c.Compactions() == 0 {
		t.Error("no scratch compaction with a 256 byte buffer")
	}
	x := c.Executable()
	if len(x.Funcs) != 11 {
		t.Fatalf("%d functions, want 11", len(x.Funcs))
	}
	for i := 1; i < len(x.Funcs); i++ {
		want := []string{"PUSH_VAR 0 0", fmt.Sprintf("PUSH_NUM %d", i-1), "ADD", "RET", "RET0"}
		if got := listing(t, x.Funcs[i]); strings.Join(got, ",") != strings.Join(want, ",") {
			t.Errorf("function %d = %v, want %v", i, got, want)
		}
	}
	if n := len(listing(t, x.Funcs[main])); n != 41 {
		t.Errorf("main has %d instructions, want 41", n)
	}
}

func TestScratchExhausted(t *testing.T) {
	_, err := Compile("1 + 2", Options{BufferSize: 32})
	if errcode.CodeOf(err) != errcode.NotEnoughMemory {
		t.Errorf("error = %v, want not enough memory", err)
	}
}

func TestCompileInteractiveExtendsExecutable(t *testing.T) {
	u1 := compileUnit(t, "var a = 1", Options{Interactive: true})
	u2 := compileUnit(t, "a + 1", Options{Interactive: true, Globals: u1.Globals, Exe: u1.Exe})
	if u2.Exe != u1.Exe || u2.Main != 1 {
		t.Fatalf("second unit main = %d, want 1 in the same executable", u2.Main)
	}
	want := []string{"PUSH_VAR 0 0", "PUSH_NUM 0", "ADD", "POP_RESULT", "STOP"}
	if got := listing(t, u2.Exe.Funcs[1]); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("code = %v, want %v", got, want)
	}
}

func TestCompileImageRoundTrip(t *testing.T) {
	src := "def f(n) { if (n < 2) return n; return f(n - 1) + f(n - 2) } f(10)"
	x, err := Compile(src, Options{})
	if err != nil {
		t.Fatal(err)
	}
	buf, err := CompileImage(src, Options{}, binary.BigEndian)
	if err != nil {
		t.Fatal(err)
	}
	y, err := image.Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(y.Funcs) != len(x.Funcs) {
		t.Fatalf("%d functions after decode, want %d", len(y.Funcs), len(x.Funcs))
	}
	for i := range x.Funcs {
		if !bytes.Equal(x.Funcs[i].Code, y.Funcs[i].Code) || x.Funcs[i].StackHigh != y.Funcs[i].StackHigh {
			t.Errorf("function %d differs after round trip", i)
		}
	}
}

func TestCompileDisassemblyReassembles(t *testing.T) {
	x, err := Compile("var i = 0; while (i < 200) { i += 1; if (i > 5) continue; i = i * 2 }", Options{})
	if err != nil {
		t.Fatal(err)
	}
	code := x.Funcs[0].Code
	text, err := bytecode.Disassemble(code)
	if err != nil {
		t.Fatal(err)
	}
	back, err := bytecode.Assemble(text)
	if err != nil {
		t.Fatalf("Assemble: %v\n%s", err, text)
	}
	if !bytes.Equal(back, code) {
		t.Errorf("reassembled code differs:\n%s", text)
	}
}

func TestCompileFailureLeavesExecutable(t *testing.T) {
	u := compileUnit(t, "var a = 'x'; def f() { return 1 }", Options{Interactive: true})
	x := u.Exe
	funcs, nums, strs := len(x.Funcs), len(x.Numbers), len(x.Strings)

	_, err := CompileUnit("def g() { return 1 }; a +", Options{Interactive: true, Globals: u.Globals, Exe: x})
	if errcode.CodeOf(err) != errcode.InvalidSyntax {
		t.Fatalf("error = %v, want invalid syntax", err)
	}
	_, err = CompileUnit("def h() { return 'fresh' + 2.5 }; nope", Options{Interactive: true, Globals: u.Globals, Exe: x})
	if errcode.CodeOf(err) != errcode.NotDefinedIdentifier {
		t.Fatalf("error = %v, want not defined identifier", err)
	}
	if len(x.Funcs) != funcs || len(x.Numbers) != nums || len(x.Strings) != strs {
		t.Errorf("executable grew to %d/%d/%d, want %d/%d/%d",
			len(x.Funcs), len(x.Numbers), len(x.Strings), funcs, nums, strs)
	}
	for i, f := range x.Funcs {
		if f == nil {
			t.Errorf("function %d is nil", i)
		}
	}

	u2 := compileUnit(t, "'fresh' + a", Options{Interactive: true, Globals: u.Globals, Exe: x})
	if u2.Main != funcs {
		t.Errorf("next unit main = %d, want %d", u2.Main, funcs)
	}
	if i, _ := x.AddString("fresh"); i != strs {
		t.Errorf("string index = %d, want %d", i, strs)
	}
}
