package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/chazu/ember/vm"
)

const (
	historyFile = ".ember_history"
	promptMain  = "ember> "
	promptCont  = "...... "
	replHelp    = `REPL commands:
  :help      Show this help
  :quit      Exit the REPL
  :reset     Start over with no globals
  :globals   List the top-level variables
  :gc        Collect garbage and show heap statistics
`
)

func newReplCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive session",
		Long: `Start an interactive session. Top-level variables persist between
inputs; an unfinished statement continues on the next line.

When stdin is not a terminal the input is read line by line without
prompts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := vm.Config{Natives: vm.CoreNatives(os.Stdout)}
			if m, _, err := project(nil); err == nil {
				cfg = envConfig(m)
			}
			r, err := newREPL(cfg, os.Stdout)
			if err != nil {
				return err
			}
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return r.runPlain(os.Stdin)
			}
			return r.runTerminal()
		},
	}
}

type repl struct {
	cfg vm.Config
	env *vm.Env
	out io.Writer
}

func newREPL(cfg vm.Config, out io.Writer) (*repl, error) {
	r := &repl{cfg: cfg, out: out}
	return r, r.reset()
}

func (r *repl) reset() error {
	e, err := vm.New(vm.ModeInteractive, r.cfg)
	if err != nil {
		return err
	}
	r.env = e
	return nil
}

// eval runs one input and prints its value or error.
func (r *repl) eval(line string, more func() (string, bool)) {
	v, err := r.env.ExecuteMore(line, more)
	if err != nil {
		fmt.Fprintf(r.out, "error: %v\n", err)
		if r.env.Err() != nil {
			r.env.Recover()
		}
		return
	}
	if !v.IsUndefined() {
		fmt.Fprintln(r.out, r.env.Format(v))
	}
}

// command handles a :command line. It reports whether the REPL should
// exit.
func (r *repl) command(line string) bool {
	switch strings.TrimSpace(line) {
	case ":quit", ":exit":
		return true
	case ":help":
		fmt.Fprint(r.out, replHelp)
	case ":reset":
		if err := r.reset(); err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
	case ":globals":
		names := append([]string(nil), r.env.Globals()...)
		sort.Strings(names)
		for _, name := range names {
			v, _ := r.env.Global(name)
			fmt.Fprintf(r.out, "%s = %s\n", name, r.env.Format(v))
		}
	case ":gc":
		r.env.GC()
		st := r.env.Stats()
		fmt.Fprintf(r.out, "collections: %d, used: %d/%d bytes\n", st.Collections, st.Used, st.SpaceSize)
	default:
		fmt.Fprintf(r.out, "unknown command %s (try :help)\n", strings.TrimSpace(line))
	}
	return false
}

// runPlain reads input without line editing.
func (r *repl) runPlain(in io.Reader) error {
	sc := bufio.NewScanner(in)
	more := func() (string, bool) {
		if sc.Scan() {
			return sc.Text(), true
		}
		return "", false
	}
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasPrefix(strings.TrimSpace(line), ":") {
			if r.command(line) {
				return nil
			}
			continue
		}
		r.eval(line, more)
	}
	return sc.Err()
}

func (r *repl) runTerminal() error {
	fmt.Fprintln(r.out, "Ember REPL. Ctrl+D to exit, :help for commands.")

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)
	ln.SetMultiLineMode(true)

	// Load history (best-effort)
	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	more := func() (string, bool) {
		line, err := ln.Prompt(promptCont)
		if err != nil {
			return "", false
		}
		return line, true
	}

	for {
		line, err := ln.Prompt(promptMain)
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if err != nil {
			fmt.Fprintln(r.out)
			return nil
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		ln.AppendHistory(line)

		if strings.HasPrefix(strings.TrimSpace(line), ":") {
			if r.command(line) {
				return nil
			}
			continue
		}
		r.eval(line, more)
	}
}
