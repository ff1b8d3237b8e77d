package compiler

import (
	"encoding/binary"

	"github.com/tliron/commonlog"

	"github.com/chazu/ember/pkg/arena"
	"github.com/chazu/ember/pkg/bytecode"
	"github.com/chazu/ember/pkg/errcode"
	"github.com/chazu/ember/pkg/image"
)

var log = commonlog.GetLogger("ember.compiler")

// DefaultBufferSize is the scratch arena size used when Options leaves it
// zero.
const DefaultBufferSize = 32 * 1024

// Natives resolves identifiers that no enclosing function declares.
type Natives interface {
	LookupNative(name string) (int, bool)
}

// Options configures a compilation.
type Options struct {
	// Natives resolves host functions by name. May be nil.
	Natives Natives

	// Interactive compiles the top-level function against Globals, the
	// variables declared by earlier inputs, and reports the extended list
	// through Unit.Globals.
	Interactive bool
	Globals     []string

	// BufferSize is the size in bytes of the scratch arena holding code
	// buffers and variable tables while functions are compiled.
	BufferSize int

	// NodeLimit bounds the syntax tree size. Zero means unbounded.
	NodeLimit int

	// More supplies continuation lines when the source ends mid-statement.
	More func() (string, bool)

	// Exe is extended in place when set; otherwise a new executable is
	// created.
	Exe *image.Executable
}

// Compiler turns statements into functions of an Executable. The first
// error is latched; every later call returns it.
type Compiler struct {
	opts    Options
	exe     *image.Executable
	scratch *arena.Arena
	cur     *funcRecord
	main    *funcRecord

	names   []string
	nameIDs map[string]int

	err         errcode.Latch
	compactions int
}

// NewCompiler prepares a compiler and opens the top-level function.
func NewCompiler(opts Options) *Compiler {
	size := opts.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	exe := opts.Exe
	if exe == nil {
		exe = image.NewExecutable()
	}
	c := &Compiler{
		opts:    opts,
		exe:     exe,
		scratch: arena.New(make([]byte, size)),
		nameIDs: make(map[string]int),
	}
	c.main = c.enter()
	if opts.Interactive {
		for _, name := range opts.Globals {
			c.declare(c.main, name, Position{})
		}
	}
	return c
}

func (c *Compiler) failed() bool { return c.err.Failed() }

func (c *Compiler) fail(code errcode.Code, format string, args ...any) {
	c.err.Set(errcode.New(code, format, args...))
}

func (c *Compiler) failAt(code errcode.Code, pos Position, format string, args ...any) {
	c.err.Set(errcode.At(code, pos.Line, pos.Column, format, args...))
}

// Err returns the latched error, or nil.
func (c *Compiler) Err() error { return c.err.Err() }

// CompileStatement compiles a statement list into the top-level function.
func (c *Compiler) CompileStatement(s *Stmt) error {
	if c.cur != c.main && !c.failed() {
		c.fail(errcode.InvalidSemantic, "top-level function already finished")
	}
	c.compileBlock(s)
	return c.err.Err()
}

// Finish terminates the top-level function with STOP and returns its
// index in the executable.
func (c *Compiler) Finish() (int, error) {
	if c.cur != c.main {
		if !c.failed() {
			c.fail(errcode.InvalidSemantic, "top-level function already finished")
		}
		return 0, c.err.Err()
	}
	c.emit(bytecode.OpStop)
	globals := c.varNames(c.main)
	c.leave()
	if c.failed() {
		return 0, c.err.Err()
	}
	log.Debugf("compiled function %d: %d functions, %d numbers, %d strings, %d compactions",
		c.main.index, len(c.exe.Funcs), len(c.exe.Numbers), len(c.exe.Strings), c.compactions)
	c.opts.Globals = globals
	return c.main.index, nil
}

// Globals returns the top-level variable names in slot order.
func (c *Compiler) Globals() []string {
	if c.cur == c.main {
		return c.varNames(c.main)
	}
	return c.opts.Globals
}

// Executable returns the executable being built.
func (c *Compiler) Executable() *image.Executable { return c.exe }

// Compactions returns how many times the scratch arena was compacted.
func (c *Compiler) Compactions() int { return c.compactions }

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// Unit is the result of compiling one source text.
type Unit struct {
	Exe     *image.Executable
	Main    int      // index of the top-level function
	Globals []string // top-level variables in slot order
	Source  string   // the text compiled, continuation lines included
}

// CompileUnit parses and compiles src as a whole program. When opts.Exe
// is shared and the compile fails, the executable is left unchanged.
func CompileUnit(src string, opts Options) (*Unit, error) {
	if opts.Exe == nil {
		return compileInto(src, opts)
	}
	mark := opts.Exe.Mark()
	u, err := compileInto(src, opts)
	if err != nil {
		opts.Exe.Rollback(mark)
	}
	return u, err
}

func compileInto(src string, opts Options) (*Unit, error) {
	p := NewParser(src)
	p.SetContinuation(opts.More)
	p.SetNodeLimit(opts.NodeLimit)
	prog, err := p.ParseProgram()
	if err != nil {
		return nil, err
	}
	c := NewCompiler(opts)
	if err := c.CompileStatement(prog); err != nil {
		return nil, err
	}
	main, err := c.Finish()
	if err != nil {
		return nil, err
	}
	return &Unit{Exe: c.exe, Main: main, Globals: c.Globals(), Source: p.Source()}, nil
}

// Compile compiles src into a new executable whose function 0 is the
// program.
func Compile(src string, opts Options) (*image.Executable, error) {
	opts.Exe = nil
	u, err := CompileUnit(src, opts)
	if err != nil {
		return nil, err
	}
	return u.Exe, nil
}

// CompileImage compiles src straight to a binary image.
func CompileImage(src string, opts Options, order binary.ByteOrder) ([]byte, error) {
	x, err := Compile(src, opts)
	if err != nil {
		return nil, err
	}
	return image.Encode(x, order)
}
