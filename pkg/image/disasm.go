package image

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/ember/pkg/bytecode"
)

// Disassemble renders the constant pools and every function of x.
func Disassemble(x *Executable) (string, error) {
	var sb strings.Builder

	if len(x.Numbers) > 0 {
		sb.WriteString("numbers:\n")
		for i, n := range x.Numbers {
			fmt.Fprintf(&sb, "  %4d  %s\n", i, strconv.FormatFloat(n, 'g', -1, 64))
		}
	}
	if len(x.Strings) > 0 {
		sb.WriteString("strings:\n")
		for i, s := range x.Strings {
			fmt.Fprintf(&sb, "  %4d  %q\n", i, s)
		}
	}

	for i, fn := range x.Funcs {
		fmt.Fprintf(&sb, "\nfunction %d: vars=%d args=%d stack=%d", i, fn.VarCount, fn.ArgCount, fn.StackHigh)
		if fn.Closure {
			sb.WriteString(" closure")
		}
		sb.WriteByte('\n')
		listing, err := bytecode.Disassemble(fn.Code)
		sb.WriteString(listing)
		if err != nil {
			return sb.String(), fmt.Errorf("function %d: %w", i, err)
		}
	}
	return sb.String(), nil
}
