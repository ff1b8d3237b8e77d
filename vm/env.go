package vm

import (
	"github.com/tliron/commonlog"

	"github.com/chazu/ember/compiler"
	"github.com/chazu/ember/pkg/errcode"
	"github.com/chazu/ember/pkg/image"
)

var log = commonlog.GetLogger("ember.vm")

// Mode selects how an Env obtains its program.
type Mode int

const (
	// ModeInteractive keeps top-level variables across Execute calls.
	ModeInteractive Mode = iota
	// ModeInterpreter runs each source text with fresh top-level variables.
	ModeInterpreter
	// ModeImage runs a program loaded from a binary image.
	ModeImage
)

func (m Mode) String() string {
	switch m {
	case ModeInteractive:
		return "interactive"
	case ModeInterpreter:
		return "interpreter"
	case ModeImage:
		return "image"
	}
	return "unknown"
}

// Default sizes used when Config leaves them zero.
const (
	DefaultMemory = 64 * 1024
	DefaultStack  = 1024
)

// frameSize is the number of stack slots taken by a frame record:
// saved frame pointer, saved pc, saved scope and saved function.
const frameSize = 4

// stackSlack covers the values a call instruction leaves above the callee's
// high-water mark.
const stackSlack = 4

// Config holds the resources and host hooks of an Env.
type Config struct {
	// Memory is the heap size in bytes, split into two semi-spaces. It is
	// ignored when Heap is set.
	Memory int
	Heap   []byte

	// Stack is the evaluation stack size in slots. It is ignored when
	// StackBuffer is set.
	Stack       int
	StackBuffer []Value

	// CompileBuffer is the compiler scratch arena size in bytes.
	CompileBuffer int
	// NodeLimit bounds the syntax tree of one source text.
	NodeLimit int

	// Natives are host functions callable by name from scripts.
	Natives []Native

	// OnGC runs after every collection. It must not allocate.
	OnGC func()

	// Image is the serialized program for ModeImage.
	Image []byte
}

// handler is an installed catch block.
type handler struct {
	catchPC int
	fp, sp  int
	scope   Value
	fn      int
	entry   int // interpreter nesting level that installed it
}

// Env is one script environment: heap, evaluation stack, executable and
// host registrations. An Env is not safe for concurrent use.
type Env struct {
	mode Mode

	heap        heap
	toSpace     int
	collections int
	onGC        func()

	stack []Value
	sp    int
	fp    int
	fn    int
	pc    int
	code  []byte

	scope       Value
	globals     Value
	globalNames []string
	objectProto Value
	result      Value
	refs        []Value

	handlers     []handler
	entry        int
	pendingThrow bool
	thrown       Value

	exe           *image.Executable
	compileBuffer int
	nodeLimit     int

	natives      []Native
	nativeIndex  map[string]int
	foreignTypes []*ForeignType
	statics      []string
	keys         keyTable

	err errcode.Latch
}

// New creates an environment. In ModeImage the program in cfg.Image is
// loaded and checked; run it with Run.
func New(mode Mode, cfg Config) (*Env, error) {
	mem := cfg.Heap
	if mem == nil {
		size := cfg.Memory
		if size <= 0 {
			size = DefaultMemory
		}
		mem = make([]byte, size)
	}
	stack := cfg.StackBuffer
	if stack == nil {
		size := cfg.Stack
		if size <= 0 {
			size = DefaultStack
		}
		stack = make([]Value, size)
	}
	if len(stack) < frameSize+stackSlack {
		return nil, errcode.New(errcode.InvalidInput, "stack of %d slots is too small", len(stack))
	}

	e := &Env{
		mode:          mode,
		heap:          newHeap(mem),
		toSpace:       -1,
		onGC:          cfg.OnGC,
		stack:         stack,
		fn:            -1,
		scope:         Undefined,
		globals:       Undefined,
		objectProto:   Undefined,
		result:        Undefined,
		thrown:        Undefined,
		compileBuffer: cfg.CompileBuffer,
		nodeLimit:     cfg.NodeLimit,
		nativeIndex:   make(map[string]int),
		keys:          newKeyTable(),
	}
	for _, n := range cfg.Natives {
		e.RegisterNative(n.Name, n.Fn)
	}

	switch mode {
	case ModeInteractive, ModeInterpreter:
		e.exe = image.NewExecutable()
	case ModeImage:
		x, err := image.Decode(cfg.Image)
		if err != nil {
			return nil, err
		}
		if len(x.Funcs) == 0 {
			return nil, errcode.New(errcode.InvalidInput, "image has no functions")
		}
		e.exe = x
	default:
		return nil, errcode.New(errcode.InvalidInput, "unknown mode %d", int(mode))
	}

	if err := e.initObjectProto(); err != nil {
		return nil, err
	}
	log.Debugf("new %s environment: %d bytes heap, %d stack slots", mode, len(mem), len(stack))
	return e, nil
}

// fail latches a runtime error.
func (e *Env) fail(code errcode.Code, format string, args ...any) {
	if e.err.Failed() {
		return
	}
	err := e.err.Set(errcode.New(code, format, args...))
	log.Warningf("%s", err)
}

// Err returns the latched error, or nil.
func (e *Env) Err() error { return e.err.Err() }

// Recover clears a latched error so the environment can be used again.
// Top-level variables of an interactive environment are kept.
func (e *Env) Recover() {
	e.err = errcode.Latch{}
	e.sp, e.fp, e.entry = 0, 0, 0
	e.handlers = e.handlers[:0]
	e.pendingThrow = false
	e.thrown = Undefined
	e.scope = Undefined
}

// Mode returns the environment's mode.
func (e *Env) Mode() Mode { return e.mode }

// Executable returns the program the environment runs.
func (e *Env) Executable() *image.Executable { return e.exe }

// Globals returns the top-level variable names of an interactive
// environment in slot order.
func (e *Env) Globals() []string { return e.globalNames }

// Global returns the value of a top-level variable of an interactive
// environment.
func (e *Env) Global(name string) (Value, bool) {
	if e.globals == Undefined {
		return Undefined, false
	}
	for i, n := range e.globalNames {
		if n == name {
			if addr := e.slotAddr(e.globals, i); addr >= 0 {
				return e.val(addr), true
			}
		}
	}
	return Undefined, false
}

// SetRefs registers host-held values as collection roots. The collector
// updates the slice in place, so hosts re-read it after any script call.
func (e *Env) SetRefs(refs []Value) { e.refs = refs }

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// Execute compiles and runs src. It returns the value of the last
// top-level expression statement. The value is valid until the next
// allocation.
func (e *Env) Execute(src string) (Value, error) {
	return e.ExecuteMore(src, nil)
}

// ExecuteMore is Execute with a continuation callback supplying more
// lines when src ends inside a statement.
func (e *Env) ExecuteMore(src string, more func() (string, bool)) (Value, error) {
	if e.err.Failed() {
		return Undefined, e.err.Err()
	}
	if e.mode == ModeImage {
		return Undefined, errcode.New(errcode.InvalidInput, "image environment cannot compile source")
	}
	opts := compiler.Options{
		Natives:    e,
		BufferSize: e.compileBuffer,
		NodeLimit:  e.nodeLimit,
		More:       more,
		Exe:        e.exe,
	}
	interactive := e.mode == ModeInteractive
	if interactive {
		opts.Interactive = true
		opts.Globals = e.globalNames
	}
	u, err := compiler.CompileUnit(src, opts)
	if err != nil {
		return Undefined, err
	}
	if interactive {
		e.globalNames = u.Globals
	}
	return e.start(u.Main, interactive)
}

// Run executes the loaded image's top-level function.
func (e *Env) Run() (Value, error) {
	if e.err.Failed() {
		return Undefined, e.err.Err()
	}
	return e.start(0, false)
}

// start runs function main as the program with the globals scope.
func (e *Env) start(main int, keep bool) (Value, error) {
	f := e.exe.Lookup(main)
	if f == nil {
		return Undefined, errcode.New(errcode.InvalidBytecode, "no function %d", main)
	}
	e.sp, e.fp, e.entry = 0, 0, 0
	e.handlers = e.handlers[:0]
	e.pendingThrow = false
	e.thrown = Undefined
	e.result = Undefined
	if frameSize+f.StackHigh+stackSlack > len(e.stack) {
		e.fail(errcode.StackOverflow, "program needs %d stack slots, have %d", f.StackHigh+frameSize, len(e.stack))
		return Undefined, e.err.Err()
	}

	if !keep || e.globals == Undefined {
		if !e.ensure(scopeBytes(f.VarCount)) {
			return Undefined, e.err.Err()
		}
		e.globals = e.allocScope(f.VarCount, Undefined)
	} else if !e.growGlobals(f.VarCount) {
		return Undefined, e.err.Err()
	}

	e.stack[0] = Number(0)
	e.stack[1] = Number(-1)
	e.stack[2] = Undefined
	e.stack[3] = Number(-1)
	e.sp = frameSize
	e.scope = e.globals
	e.fn, e.code, e.pc = main, f.Code, 0

	e.run()
	e.sp = 0
	if e.err.Failed() {
		return Undefined, e.err.Err()
	}
	return e.result, nil
}

// Call invokes a script function or native with args. Natives use it to
// call back into script code. When the callee throws and no handler of
// this call catches it, Call returns an Uncaught error and the exception
// stays pending: it continues in the calling script once the native
// returns, unless the native clears it with Catch. Called by the host with
// no script running, an escaping exception is latched as Uncaught.
func (e *Env) Call(fn Value, args ...Value) (Value, error) {
	if e.err.Failed() {
		return Undefined, e.err.Err()
	}
	if e.pendingThrow {
		return Undefined, errcode.New(errcode.Uncaught, "%s", e.Format(e.thrown))
	}
	if e.sp+len(args)+1+frameSize+stackSlack > len(e.stack) {
		e.fail(errcode.StackOverflow, "no room for %d arguments", len(args))
		return Undefined, e.err.Err()
	}
	base := e.sp
	copy(e.stack[base:], args)
	e.stack[base+len(args)] = fn
	e.sp = base + len(args) + 1

	if fn.Tag() == TagNative {
		e.callNative(base, len(args))
		e.sp = base
		if e.entry == 0 {
			if v, ok := e.Catch(); ok {
				e.fail(errcode.Uncaught, "%s", e.Format(v))
			}
		}
		return e.finishCall(e.stack[base])
	}

	pc, code := e.pc, e.code
	if e.call(base, len(args), -1) {
		e.run()
	}
	if e.pendingThrow && !e.err.Failed() {
		// The exception escaped this call: drop its frames.
		e.fp = base
		e.ret(Undefined)
	}
	e.pc, e.code = pc, code
	e.sp = base
	return e.finishCall(e.stack[base])
}

func (e *Env) finishCall(v Value) (Value, error) {
	if e.err.Failed() {
		return Undefined, e.err.Err()
	}
	if e.pendingThrow {
		return Undefined, errcode.New(errcode.Uncaught, "%s", e.Format(e.thrown))
	}
	return v, nil
}

// Throw raises a script exception from a native. It takes effect when the
// native returns.
func (e *Env) Throw(v Value) {
	e.thrown = v
	e.pendingThrow = true
}

// Catch clears a pending exception and returns the thrown value.
func (e *Env) Catch() (Value, bool) {
	if !e.pendingThrow {
		return Undefined, false
	}
	v := e.thrown
	e.pendingThrow = false
	e.thrown = Undefined
	return v, true
}
