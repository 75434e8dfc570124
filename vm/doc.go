// Package vm implements the tape machine that runs compiled programs.
//
// This package contains:
//   - Opcode and Instruction definitions, Program validation and disassembly
//   - A fixed-capacity, bounds-checked byte tape
//   - The interpreter loop with wrapping cell arithmetic and loop jumps
package vm
