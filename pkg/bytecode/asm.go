package bytecode

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// Assemble encodes a listing in the syntax produced by Disassemble. Each
// non-blank line holds an optional hex offset, a mnemonic and its decimal
// operands; everything after ';' is ignored.
func Assemble(text string) ([]byte, error) {
	var code []byte
	sc := bufio.NewScanner(strings.NewReader(text))
	line := 0
	for sc.Scan() {
		line++
		src := sc.Text()
		if i := strings.IndexByte(src, ';'); i >= 0 {
			src = src[:i]
		}
		fields := strings.Fields(src)
		if len(fields) == 0 {
			continue
		}

		op, ok := Lookup(fields[0])
		if !ok && len(fields) > 1 {
			// Leading offset column.
			if _, err := strconv.ParseUint(fields[0], 16, 32); err == nil {
				fields = fields[1:]
				op, ok = Lookup(fields[0])
			}
		}
		if !ok {
			return nil, fmt.Errorf("line %d: unknown mnemonic %q", line, fields[0])
		}

		args := make([]int, 0, 2)
		for _, f := range fields[1:] {
			n, err := strconv.Atoi(f)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad operand %q", line, f)
			}
			args = append(args, n)
		}

		var err error
		code, err = Append(code, op, args...)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return code, nil
}
