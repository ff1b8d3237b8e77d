// Package bytecode defines ember's instruction set.
//
// Instructions are one opcode byte followed by zero to two operands. An
// operand is an unsigned byte, an unsigned 16-bit index, or a signed 8 or
// 16-bit jump displacement; multi-byte operands are big-endian. Jump
// displacements are relative to the end of the jump instruction.
//
// # Metadata table
//
// Every opcode has one OpcodeInfo entry giving its mnemonic, operand
// encodings and stack effect. The compiler's emitter, the interpreter's
// Fetch, the disassembler and the assembler all read the same table, so
// adding an instruction means adding one define call.
//
// # Opcode families
//
//   - Assignment: ASSIGN, PROP_ASSIGN and ELEM_ASSIGN are bases; the
//     compound forms sit at base+1+(op-MUL) for each binary operator, see
//     Compound and BinaryOf.
//   - Jumps: the short (i8) form of each conditional jump is even and its
//     long (i16) form is short|1, see Long.
//
// # Listings
//
// Disassemble prints one instruction per line:
//
//	0000  PUSH_VAR 1 0
//	0003  PUSH_NUM 0
//	0006  ADD
//	0007  JMP_F 4                  ; -> 000D
//
// Assemble reads that format back, so Assemble(Disassemble(code)) == code.
package bytecode
