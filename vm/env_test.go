package vm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/ember/compiler"
	"github.com/chazu/ember/pkg/bytecode"
	"github.com/chazu/ember/pkg/errcode"
	"github.com/chazu/ember/pkg/image"
)

func newTestEnv(t *testing.T, mode Mode, cfg Config) *Env {
	t.Helper()
	if cfg.Natives == nil {
		cfg.Natives = CoreNatives(&bytes.Buffer{})
	}
	e, err := New(mode, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func exec(t *testing.T, e *Env, src string) Value {
	t.Helper()
	v, err := e.Execute(src)
	if err != nil {
		t.Fatalf("Execute(%q): %v", src, err)
	}
	return v
}

func global(t *testing.T, e *Env, name string) Value {
	t.Helper()
	v, ok := e.Global(name)
	if !ok {
		t.Fatalf("no global %q", name)
	}
	return v
}

func TestArithmetic(t *testing.T) {
	e := newTestEnv(t, ModeInterpreter, Config{})
	tests := []struct {
		src  string
		want string
	}{
		{"1 + 2 * 3", "7"},
		{"(1 + 2) * 3", "9"},
		{"6 / 0", "Infinity"},
		{"6 % 0", "NaN"},
		{"7 % 3", "1"},
		{"7.5 % 2", "1"},
		{"1 << 4", "16"},
		{"-8 >> 1", "-4"},
		{"5 & 3", "1"},
		{"5 | 3", "7"},
		{"5 ^ 3", "6"},
		{"~0", "-1"},
		{"-(2 + 3)", "-5"},
		{"'ab' + 'cd'", "abcd"},
		{"'n' + 1", "n1"},
		{"1 + 'x'", "NaN"},
		{"true + 1", "NaN"},
		{"[1] * 2", "NaN"},
		{"undefined - 1", "NaN"},
		{"NaN + 1", "NaN"},
		{"1 + NaN", "NaN"},
	}
	for _, tt := range tests {
		v := exec(t, e, tt.src)
		if got := e.Format(v); got != tt.want {
			t.Errorf("%s = %s, want %s", tt.src, got, tt.want)
		}
	}
}

func TestComparison(t *testing.T) {
	e := newTestEnv(t, ModeInterpreter, Config{})
	tests := []struct {
		src  string
		want bool
	}{
		{"1 == 1", true},
		{"1 != 2", true},
		{"NaN == NaN", false},
		{"undefined == undefined", false},
		{"'ab' == 'a' + 'b'", true},
		{"'a' + 'b' == 'ab'", true},
		{"0 == -0", true},
		{"1 == '1'", false},
		{"'1' == 1", false},
		{"true == true", true},
		{"'b' > 'a'", true},
		{"'abc' <= 'abd'", true},
		{"true > false", true},
		{"2 >= 2", true},
		{"1 < 'a'", false},
		{"[] < 1", false},
		{"[] >= 1", false},
		{"'a' in 'cat'", true},
		{"'z' in 'cat'", false},
		{"2 in [1, 2, 3]", true},
		{"4 in [1, 2, 3]", false},
		{"'x' in {x: 1}", true},
		{"'y' in {x: 1}", false},
		{"'length' in {x: 1}", true},
		{"!0", true},
		{"!''", true},
		{"!'a'", false},
		{"!{}", true},
		{"!{a: 1}", false},
		{"![]", true},
		{"![0]", false},
		{"!Buffer(4)", true},
		{"!def(){}", false},
		{"!undefined", true},
		{"!NaN", true},
		{"1 && 2 == 2", true},
		{"0 || 'x' == 'x'", true},
		{"(0 && 1) == 0", true},
		{"('' || 5) == 5", true},
		{"(1 ? 2 : 3) == 2", true},
		{"(0 ? 2 : 3) == 3", true},
	}
	for _, tt := range tests {
		v := exec(t, e, tt.src)
		if v != Bool(tt.want) {
			t.Errorf("%s = %s, want %v", tt.src, e.Format(v), tt.want)
		}
	}
}

func TestClosures(t *testing.T) {
	e := newTestEnv(t, ModeInteractive, Config{})
	exec(t, e, "var a = 1;")
	v := exec(t, e, "def adder(x){return def(b){return a + x + b}}; var f = adder(10); f(100)")
	if !v.IsNumber() || v.Num() != 111 {
		t.Fatalf("f(100) = %s, want 111", e.Format(v))
	}

	// Closures over distinct activations keep their own state.
	v = exec(t, e, `
		def counter() { var n = 0; return def() { n += 1; return n } }
		var c1 = counter(), c2 = counter();
		c1(); c1(); c2();
		[c1(), c2()]`)
	if got := e.Format(v); got != "[3, 2]" {
		t.Errorf("counters = %s, want [3, 2]", got)
	}

	// A later input reassigns a global an earlier closure captured.
	if v := exec(t, e, "a = 2; f(100)"); v.Num() != 112 {
		t.Errorf("f(100) after a = 2: %s, want 112", e.Format(v))
	}
}

func TestInterpreterModeForgetsGlobals(t *testing.T) {
	e := newTestEnv(t, ModeInterpreter, Config{})
	exec(t, e, "var a = 5")
	_, err := e.Execute("a")
	if !errors.Is(err, errcode.ErrNotDefinedIdentifier) {
		t.Errorf("error = %v, want not defined identifier", err)
	}
	// Compile errors do not latch the environment.
	if v := exec(t, e, "2 + 2"); v.Num() != 4 {
		t.Errorf("2 + 2 = %s", e.Format(v))
	}
}

func TestDefaultsAndVarargs(t *testing.T) {
	e := newTestEnv(t, ModeInterpreter, Config{})
	v := exec(t, e, `
		def f(a, b = 10) { return a + b };
		[f(1), f(1, 2)]`)
	if got := e.Format(v); got != "[11, 3]" {
		t.Errorf("defaults = %s, want [11, 3]", got)
	}
	v = exec(t, e, "def g(a) { return a }; [g(), g(1, 2, 3)]")
	if got := e.Format(v); got != "[undefined, 1]" {
		t.Errorf("varargs = %s, want [undefined, 1]", got)
	}
}

func TestControlFlow(t *testing.T) {
	e := newTestEnv(t, ModeInterpreter, Config{})
	v := exec(t, e, `
		var i = 0, s = 0;
		while (i < 10) {
			i++;
			if (i % 2 == 0) continue;
			if (i > 7) break;
			s += i
		}
		[i, s]`)
	if got := e.Format(v); got != "[9, 16]" {
		t.Errorf("loop = %s, want [9, 16]", got)
	}
	v = exec(t, e, `
		def sign(n) { if (n < 0) return -1 elif (n == 0) return 0 else return 1 }
		[sign(-5), sign(0), sign(5)]`)
	if got := e.Format(v); got != "[-1, 0, 1]" {
		t.Errorf("sign = %s, want [-1, 0, 1]", got)
	}
	v = exec(t, e, "def fib(n) { return n < 2 ? n : fib(n - 1) + fib(n - 2) }; fib(15)")
	if v.Num() != 610 {
		t.Errorf("fib(15) = %s, want 610", e.Format(v))
	}
}

func TestFunctionStatementBoundaries(t *testing.T) {
	e := newTestEnv(t, ModeInteractive, Config{})
	tests := []struct {
		src  string
		want string
	}{
		{"def f(n) { return n }\n[f(1), f(2)]", "[1, 2]"},
		{"var g = def(x, y = 2) return x * y; [g(3), g(3, 4)]", "[6, 12]"},
		{"def h(x) return -x; (h(4))", "-4"},
		{"def k() {}", "undefined"},
	}
	for _, tt := range tests {
		if got := e.Format(exec(t, e, tt.src)); got != tt.want {
			t.Errorf("%q = %s, want %s", tt.src, got, tt.want)
		}
	}
	if got := e.Format(global(t, e, "k")); got != "<function>" {
		t.Errorf("k = %s, want <function>", got)
	}
}

func TestFailedCompileKeepsExecutable(t *testing.T) {
	for _, mode := range []Mode{ModeInteractive, ModeInterpreter} {
		e := newTestEnv(t, mode, Config{})
		exec(t, e, "var a = 1; def f() { return a }")
		n := len(e.Executable().Funcs)

		if _, err := e.Execute("def g() { return 'x' }; missing"); errcode.CodeOf(err) != errcode.NotDefinedIdentifier {
			t.Fatalf("%v: error = %v, want not defined identifier", mode, err)
		}
		if got := len(e.Executable().Funcs); got != n {
			t.Errorf("%v: %d functions after a failed compile, want %d", mode, got, n)
		}
		if _, err := image.Disassemble(e.Executable()); err != nil {
			t.Errorf("%v: Disassemble: %v", mode, err)
		}
		if _, err := image.Encode(e.Executable(), binary.LittleEndian); err != nil {
			t.Errorf("%v: Encode: %v", mode, err)
		}
	}
}

func TestGCUnderPressure(t *testing.T) {
	var callbacks int
	e := newTestEnv(t, ModeInteractive, Config{
		Memory: 16 * 1024,
		OnGC:   func() { callbacks++ },
	})
	v := exec(t, e, `
		var b = 'hello' + ' world', c = 'foo' + 'bar';
		var a = [b, c, 0], o = {a: b, b: c};
		var i = 0, s = '';
		while (i < 1000) { s = 'x' + i; i++ }
		a[0] == b && a[1] == c && o.a == b && o.b == c`)
	if v != True {
		t.Errorf("values changed across collections: %s", e.Format(v))
	}
	if callbacks == 0 {
		t.Fatal("no collection ran")
	}
	if n := exec(t, e, "gcCount()"); int(n.Num()) != callbacks {
		t.Errorf("gcCount() = %s, callbacks = %d", e.Format(n), callbacks)
	}
	if got := e.Format(global(t, e, "o")); got != `{a: "hello world", b: "foobar"}` {
		t.Errorf("o = %s", got)
	}
	if got := e.Format(global(t, e, "s")); got != "x999" {
		t.Errorf("s = %s, want x999", got)
	}
	if st := e.Stats(); st.Collections != callbacks {
		t.Errorf("stats = %+v, want %d collections", st, callbacks)
	}
}

func TestHostRefsSurviveCollection(t *testing.T) {
	e := newTestEnv(t, ModeInterpreter, Config{Memory: 8 * 1024})
	refs := []Value{e.NewString("pinned value"), Undefined}
	e.SetRefs(refs)
	refs[1] = exec(t, e, "[1, 'two', [3]]")
	exec(t, e, "var i = 0; while (i < 500) { var s = 'garbage' + i; i++ }")
	e.GC()
	if s, _ := e.Str(refs[0]); s != "pinned value" {
		t.Errorf("refs[0] = %q", s)
	}
	if got := e.Format(refs[1]); got != `[1, "two", [3]]` {
		t.Errorf("refs[1] = %s", got)
	}
}

func TestOutOfMemory(t *testing.T) {
	e := newTestEnv(t, ModeInteractive, Config{Memory: 4 * 1024})
	_, err := e.Execute("var a = []; while (true) { a.push('item' + a.length()) }")
	if !errors.Is(err, errcode.ErrNotEnoughMemory) {
		t.Fatalf("error = %v, want not enough memory", err)
	}
	if _, again := e.Execute("1"); !errors.Is(again, errcode.ErrNotEnoughMemory) {
		t.Errorf("latched error = %v", again)
	}
}

func TestStackOverflow(t *testing.T) {
	e := newTestEnv(t, ModeInteractive, Config{Stack: 64})
	_, err := e.Execute("var a = 1, b = 2, c = 3; def deep(){return a+b+c+deep()}; deep()")
	if errcode.CodeOf(err) != errcode.StackOverflow {
		t.Fatalf("error = %v, want stack overflow", err)
	}
	// The error is latched until the host recovers.
	if _, again := e.Execute("1"); errcode.CodeOf(again) != errcode.StackOverflow {
		t.Errorf("second Execute = %v, want the latched error", again)
	}
	e.Recover()
	if v := exec(t, e, "a + b + c"); v.Num() != 6 {
		t.Errorf("after Recover a+b+c = %s", e.Format(v))
	}
}

func TestArrayDoubleEnded(t *testing.T) {
	e := newTestEnv(t, ModeInterpreter, Config{})
	v := exec(t, e, `
		var a = [1, 2, 3, 4, 5];
		var x = a.shift();
		a.unshift(9);
		a.push(6);
		var y = a.pop();
		[a.length(), a[0], x, y, a[4]]`)
	if got := e.Format(v); got != "[5, 9, 1, 6, 5]" {
		t.Errorf("got %s", got)
	}

	v = exec(t, e, `
		var a = [], i = 0;
		while (i < 100) { a.unshift(i); a.push(i); i++ }
		var ok = a[0] == 99 && a[199] == 99 && a[100] == 0 && a.length() == 200;
		var s = 0;
		while (a.length() > 0) { s += a.shift() }
		[ok, s]`)
	if got := e.Format(v); got != "[true, 9900]" {
		t.Errorf("got %s", got)
	}

	v = exec(t, e, "var a = [1]; a[3] = 4; a[0] += 10; [a, a.indexOf(4), a.pop(), a.length()]")
	if got := e.Format(v); got != "[[11, undefined, undefined], 3, 4, 3]" {
		t.Errorf("got %s", got)
	}
}

func TestArrayForeach(t *testing.T) {
	e := newTestEnv(t, ModeInterpreter, Config{})
	v := exec(t, e, `
		var out = [];
		[10, 20, 30].foreach(def(v, i) { out.push(v + i) });
		var keys = '';
		({p: 1, q: 2}).foreach(def(k, v) { keys += k + v });
		[out, keys]`)
	if got := e.Format(v); got != `[[10, 21, 32], "p1q2"]` {
		t.Errorf("got %s", got)
	}
}

func TestObjects(t *testing.T) {
	e := newTestEnv(t, ModeInterpreter, Config{})
	v := exec(t, e, `
		var o = {a: 1};
		o.b = 2;
		o.a += 5;
		o['c'] = 3;
		o.c++;
		[o.a, o.b, o.c, o.length(), o.d, o['b']]`)
	if got := e.Format(v); got != "[6, 2, 4, 3, undefined, 2]" {
		t.Errorf("got %s", got)
	}
	v = exec(t, e, "var o = {a: 1, 'two words': 2}; o.toString()")
	if got := e.Format(v); got != "{a: 1, two words: 2}" {
		t.Errorf("toString = %s", got)
	}
	v = exec(t, e, "var o = {}; var i = 0; while (i < 20) { o['k' + i] = i; i++ }; [o.length(), o.k0, o.k19]")
	if got := e.Format(v); got != "[20, 0, 19]" {
		t.Errorf("growth = %s", got)
	}
}

func TestStrings(t *testing.T) {
	e := newTestEnv(t, ModeInterpreter, Config{})
	v := exec(t, e, "var s = 'hel' + 'lo'; [s.length(), s[1], s.indexOf('ll'), s[9], 'x'.length(), ''.length(), (42).toString() + '!']")
	if got := e.Format(v); got != `[5, "e", 2, undefined, 1, 0, "42!"]` {
		t.Errorf("got %s", got)
	}
	if v := exec(t, e, "'abc'['length']()"); v.Num() != 3 {
		t.Errorf("'abc'['length']() = %s", e.Format(v))
	}
}

func TestBuffers(t *testing.T) {
	e := newTestEnv(t, ModeInterpreter, Config{})
	v := exec(t, e, `
		var b = Buffer(8);
		b.writeInt(0, 258, 2, true);
		b.writeInt(4, 1027, 2);
		b[7] = 255;
		var c = b.slice(0, 2);
		[b[0], b[1], b.readInt(0, 2, true), b.readInt(4, 2), b[7], b.length(), c.length(), c[1], b.readInt(7, 2)]`)
	if got := e.Format(v); got != "[1, 2, 258, 1027, 255, 8, 2, 2, undefined]" {
		t.Errorf("got %s", got)
	}
}

func TestTryCatch(t *testing.T) {
	e := newTestEnv(t, ModeInterpreter, Config{})
	tests := []struct {
		src  string
		want string
	}{
		{"var r = 0; try { throw 'boom' } catch (x) { r = x }; r", "boom"},
		{"def f() { throw 42 }; var r = 0; try { f() } catch (x) { r = x + 1 }; r", "43"},
		{"var r = 'none'; try { r = 'body' } catch (x) { r = 'handler' }; r", "body"},
		{"var r = 0; try { try { throw 1 } catch (x) { throw x + 1 } } catch (y) { r = y * 10 }; r", "20"},
		{"var r = 0; try { throw 1 } catch { r = 'anon' }; r", "anon"},
		{"var i = 0; while (true) { try { i++; if (i > 3) break } catch { } }; i", "4"},
		{"def g() { try { return 5 } catch { } }; var r = 0; try { g(); throw 6 } catch (x) { r = x }; r", "6"},
	}
	for _, tt := range tests {
		v := exec(t, e, tt.src)
		if got := e.Format(v); got != tt.want {
			t.Errorf("%s = %s, want %s", tt.src, got, tt.want)
		}
		if len(e.handlers) != 0 {
			t.Errorf("%s left %d handlers installed", tt.src, len(e.handlers))
		}
	}
}

func TestUncaughtThrow(t *testing.T) {
	e := newTestEnv(t, ModeInterpreter, Config{})
	_, err := e.Execute("throw 'bad thing'")
	if errcode.CodeOf(err) != errcode.Uncaught || !strings.Contains(err.Error(), "bad thing") {
		t.Fatalf("error = %v, want uncaught bad thing", err)
	}
	e.Recover()
	if v := exec(t, e, "1 + 1"); v.Num() != 2 {
		t.Errorf("after Recover 1+1 = %s", e.Format(v))
	}
}

func TestCallInvalidCallor(t *testing.T) {
	e := newTestEnv(t, ModeInterpreter, Config{})
	_, err := e.Execute("var x = 1; x()")
	if !errors.Is(err, errcode.ErrInvalidCallor) {
		t.Errorf("error = %v, want invalid callor", err)
	}
}

func TestNativeReentrancy(t *testing.T) {
	natives := append(CoreNatives(&bytes.Buffer{}),
		Native{Name: "apply", Fn: func(e *Env, args []Value) Value {
			v, _ := e.Call(Arg(args, 0), Arg(args, 1))
			return v
		}},
		Native{Name: "fail", Fn: func(e *Env, args []Value) Value {
			e.Throw(e.NewString("nope" + e.Format(Arg(args, 0))))
			return Undefined
		}},
		Native{Name: "guard", Fn: func(e *Env, args []Value) Value {
			if _, err := e.Call(Arg(args, 0)); err != nil {
				if v, ok := e.Catch(); ok {
					return v
				}
			}
			return Undefined
		}},
	)
	e := newTestEnv(t, ModeInterpreter, Config{Natives: natives})
	tests := []struct {
		src  string
		want string
	}{
		{"def twice(x) { return x * 2 }; apply(twice, 21)", "42"},
		{"apply(def(x) { return apply(def(y) { return y + 1 }, x) * 3 }, 4)", "15"},
		{"var r = 0; try { fail(1) } catch (m) { r = m }; r", "nope1"},
		{"guard(def() { throw 7 })", "7"},
		{"var r = 0; try { apply(def(x) { throw x }, 'inner') } catch (m) { r = m }; r", "inner"},
		{"var r = 0; try { apply(def(x) { try { fail(x) } catch (m) { return m + '!' } }, 2) } catch { r = 'outer' }; r == 0", "true"},
	}
	for _, tt := range tests {
		v := exec(t, e, tt.src)
		if got := e.Format(v); got != tt.want {
			t.Errorf("%s = %s, want %s", tt.src, got, tt.want)
		}
	}

	_, err := e.Execute("apply(def() { throw 'loose' })")
	if errcode.CodeOf(err) != errcode.Uncaught {
		t.Errorf("escaped throw: %v, want uncaught", err)
	}
}

func TestHostCall(t *testing.T) {
	e := newTestEnv(t, ModeInteractive, Config{})
	refs := []Value{exec(t, e, "var k = 3; def(x) { return x * x + k }")}
	e.SetRefs(refs)
	v, err := e.Call(refs[0], Number(7))
	if err != nil || v.Num() != 52 {
		t.Fatalf("Call = %s, %v; want 52", e.Format(v), err)
	}
	if _, err := e.Call(Number(1)); !errors.Is(err, errcode.ErrInvalidCallor) {
		t.Errorf("calling a number: %v", err)
	}
}

func TestHostCallNativeThrow(t *testing.T) {
	natives := append(CoreNatives(&bytes.Buffer{}), Native{Name: "boom", Fn: func(e *Env, args []Value) Value {
		e.Throw(e.NewString("stale"))
		return Undefined
	}})
	e := newTestEnv(t, ModeInteractive, Config{Natives: natives})
	boom := exec(t, e, "boom")

	if _, err := e.Call(boom); errcode.CodeOf(err) != errcode.Uncaught {
		t.Fatalf("Call(boom) = %v, want uncaught", err)
	}
	if _, pending := e.Catch(); pending {
		t.Error("exception still pending after the host call")
	}
	e.Recover()

	v := exec(t, e, "var r = 0; try { print(1) } catch (x) { r = x }; r")
	if got := e.Format(v); got != "0" {
		t.Errorf("later run caught %s, want nothing", got)
	}
}

func TestPrint(t *testing.T) {
	var out bytes.Buffer
	e := newTestEnv(t, ModeInterpreter, Config{Natives: CoreNatives(&out)})
	exec(t, e, "print('a', 1, [2], undefined)")
	if got := out.String(); got != "a 1 [2] undefined\n" {
		t.Errorf("print wrote %q", got)
	}
}

func TestForeignHooks(t *testing.T) {
	e := newTestEnv(t, ModeInterpreter, Config{})
	counter := e.RegisterForeign(&ForeignType{
		Name:   "counter",
		IsTrue: func(e *Env, data int64) bool { return data != 0 },
		Binary: func(e *Env, op bytecode.Opcode, data int64, right Value) Value {
			return Number(float64(data) + right.Num())
		},
		Prop: func(e *Env, data int64, name string) Value {
			if name == "value" {
				return Number(float64(data))
			}
			return Undefined
		},
		String: func(e *Env, data int64) string { return "counter" },
	})
	e.RegisterNative("Counter", func(e *Env, args []Value) Value {
		return e.NewForeign(counter, int64(Arg(args, 0).Num()))
	})
	v := exec(t, e, "var c = Counter(5); [c + 1, c.value, !c, !Counter(0), c * 2, -c]")
	if got := e.Format(v); got != "[6, 5, false, true, 7, undefined]" {
		t.Errorf("got %s", got)
	}
	if got := e.Format(exec(t, e, "Counter(1)")); got != "counter" {
		t.Errorf("Format = %s", got)
	}
}

func TestImageRoundTrip(t *testing.T) {
	src := `
		var s = 'abc' + 'def';
		var n = 0.1 + 0.2;
		def sq(x) { return x * x };
		[s, n, 1e300, -0.5, sq(12), {k: 'v'}, 5 / 0]`
	direct := newTestEnv(t, ModeInterpreter, Config{})
	want := direct.Format(exec(t, direct, src))

	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		img, err := compiler.CompileImage(src, compiler.Options{}, order)
		if err != nil {
			t.Fatalf("CompileImage: %v", err)
		}
		e := newTestEnv(t, ModeImage, Config{Image: img})
		v, err := e.Run()
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if got := e.Format(v); got != want {
			t.Errorf("%v image = %s, want %s", order, got, want)
		}
		if _, err := e.Execute("1"); errcode.CodeOf(err) != errcode.InvalidInput {
			t.Errorf("Execute in image mode: %v", err)
		}
	}
}

func TestNewRejectsBadImage(t *testing.T) {
	if _, err := New(ModeImage, Config{Image: []byte("not an image")}); err == nil {
		t.Error("New accepted a bad image")
	}
}
