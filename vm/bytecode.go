package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode identifies the operation an Instruction performs.
type Opcode byte

// Tape movement
const (
	OpMoveRight Opcode = 0x01 // data pointer += n
	OpMoveLeft  Opcode = 0x02 // data pointer -= n
)

// Cell arithmetic
const (
	OpIncrement Opcode = 0x10 // cell += n (mod 256)
	OpDecrement Opcode = 0x11 // cell -= n (mod 256)
)

// I/O
const (
	OpOutput Opcode = 0x20 // write cell n times
	OpInput  Opcode = 0x21 // read n bytes into cell
)

// Control flow
const (
	OpJumpIfZero    Opcode = 0x30 // jump to target if cell == 0
	OpJumpIfNonZero Opcode = 0x31 // jump to target if cell != 0
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name   string // human-readable name
	Symbol byte   // source symbol the opcode is compiled from
	Jump   bool   // operand is a jump target rather than a run count
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpMoveRight:     {"MOVE_RIGHT", '>', false},
	OpMoveLeft:      {"MOVE_LEFT", '<', false},
	OpIncrement:     {"INC", '+', false},
	OpDecrement:     {"DEC", '-', false},
	OpOutput:        {"OUTPUT", '.', false},
	OpInput:         {"INPUT", ',', false},
	OpJumpIfZero:    {"JUMP_IF_ZERO", '[', true},
	OpJumpIfNonZero: {"JUMP_IF_NONZERO", ']', true},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// IsJump reports whether the opcode's operand is a jump target.
func (op Opcode) IsJump() bool {
	return op.Info().Jump
}

// Valid reports whether op is a known opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// ---------------------------------------------------------------------------
// Instructions and programs
// ---------------------------------------------------------------------------

// Instruction is a single compiled operation. For movement, arithmetic and
// I/O opcodes Operand is the run length; for jumps it is the target index.
type Instruction struct {
	Op      Opcode `cbor:"1,keyasint"`
	Operand int    `cbor:"2,keyasint"`
}

func (in Instruction) String() string {
	if in.Op.IsJump() {
		return fmt.Sprintf("%s -> %04d", in.Op, in.Operand)
	}
	return fmt.Sprintf("%s %d", in.Op, in.Operand)
}

// Program is a flat instruction sequence. It is not modified once the
// parser hands it over.
type Program struct {
	Code []Instruction
}

// NewProgram wraps code in a Program without validating it.
func NewProgram(code []Instruction) *Program {
	return &Program{Code: code}
}

// Len returns the number of instructions.
func (p *Program) Len() int {
	return len(p.Code)
}

// At returns the instruction at index i.
func (p *Program) At(i int) Instruction {
	return p.Code[i]
}

// InvalidProgramError describes a structural defect found by Validate.
type InvalidProgramError struct {
	Index  int
	Reason string
}

func (e *InvalidProgramError) Error() string {
	return fmt.Sprintf("invalid program at %04d: %s", e.Index, e.Reason)
}

// Validate checks that every opcode is known, every run count is positive,
// and that JUMP_IF_ZERO / JUMP_IF_NONZERO pairs nest and point at each other
// the way the parser emits them. A valid program has every jump target in
// bounds.
func (p *Program) Validate() error {
	var open []int
	for i, in := range p.Code {
		if !in.Op.Valid() {
			return &InvalidProgramError{Index: i, Reason: fmt.Sprintf("unknown opcode 0x%02X", byte(in.Op))}
		}
		switch in.Op {
		case OpJumpIfZero:
			open = append(open, i)
		case OpJumpIfNonZero:
			if len(open) == 0 {
				return &InvalidProgramError{Index: i, Reason: "loop end without loop start"}
			}
			start := open[len(open)-1]
			open = open[:len(open)-1]
			if target := p.Code[start].Operand; target != i {
				return &InvalidProgramError{Index: start, Reason: fmt.Sprintf("forward jump to %04d, want %04d", target, i)}
			}
			if in.Operand != start+1 {
				return &InvalidProgramError{Index: i, Reason: fmt.Sprintf("backward jump to %04d, want %04d", in.Operand, start+1)}
			}
		default:
			if in.Operand < 1 {
				return &InvalidProgramError{Index: i, Reason: fmt.Sprintf("run count %d is not positive", in.Operand)}
			}
		}
	}
	if len(open) > 0 {
		return &InvalidProgramError{Index: open[len(open)-1], Reason: "loop start without loop end"}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction formats the instruction at index i.
func DisassembleInstruction(p *Program, i int) string {
	return fmt.Sprintf("%04d  %s", i, p.Code[i])
}

// Disassemble returns a full disassembly of the program, one instruction
// per line.
func Disassemble(p *Program) string {
	var b strings.Builder
	for i := range p.Code {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(DisassembleInstruction(p, i))
	}
	return b.String()
}
