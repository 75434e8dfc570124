package compiler

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/chazu/tape/vm"
)

// ---------------------------------------------------------------------------
// Parse errors
// ---------------------------------------------------------------------------

// UnmatchedCloseError reports a ']' with no open loop to close.
type UnmatchedCloseError struct {
	Pos Position
}

func (e *UnmatchedCloseError) Error() string {
	return fmt.Sprintf("line %d, column %d: unmatched ']'", e.Pos.Line, e.Pos.Column)
}

// UnmatchedOpenError reports every '[' still open at end of input, in
// source order.
type UnmatchedOpenError struct {
	Positions []Position
}

func (e *UnmatchedOpenError) Error() string {
	locs := make([]string, len(e.Positions))
	for i, p := range e.Positions {
		locs[i] = fmt.Sprintf("line %d, column %d", p.Line, p.Column)
	}
	return fmt.Sprintf("unmatched '[' at %s", strings.Join(locs, "; "))
}

// ---------------------------------------------------------------------------
// Parser: tokens to a flat instruction sequence
// ---------------------------------------------------------------------------

var runOps = map[Symbol]vm.Opcode{
	MoveRight: vm.OpMoveRight,
	MoveLeft:  vm.OpMoveLeft,
	Increment: vm.OpIncrement,
	Decrement: vm.OpDecrement,
	Output:    vm.OpOutput,
	Input:     vm.OpInput,
}

// pendingJump is a JUMP_IF_ZERO waiting for its loop end.
type pendingJump struct {
	index int
	pos   Position
}

// Parse consumes l completely and returns the compiled program. Runs of the
// same movement, arithmetic or I/O symbol become one counted instruction.
// Loop starts are emitted as placeholders and backpatched when the matching
// ']' arrives.
func Parse(l *Lexer) (*vm.Program, error) {
	var code []vm.Instruction
	var pending []pendingJump

	for {
		tok, err := l.NextToken()
		if err != nil {
			return nil, err
		}

		switch tok.Symbol {
		case EOF:
			if len(pending) > 0 {
				positions := make([]Position, len(pending))
				for i, pj := range pending {
					positions[i] = pj.pos
				}
				return nil, &UnmatchedOpenError{Positions: positions}
			}
			return vm.NewProgram(code), nil

		case LoopStart:
			pending = append(pending, pendingJump{index: len(code), pos: tok.Pos})
			code = append(code, vm.Instruction{Op: vm.OpJumpIfZero, Operand: -1})

		case LoopEnd:
			if len(pending) == 0 {
				return nil, &UnmatchedCloseError{Pos: tok.Pos}
			}
			open := pending[len(pending)-1]
			pending = pending[:len(pending)-1]

			// The forward jump lands on the backward jump about to be
			// emitted; with a zero cell that falls straight through.
			code[open.index].Operand = len(code)
			code = append(code, vm.Instruction{Op: vm.OpJumpIfNonZero, Operand: open.index + 1})

		default:
			op, ok := runOps[tok.Symbol]
			if !ok {
				return nil, fmt.Errorf("%s: unexpected symbol %s", tok.Pos, tok.Symbol)
			}
			n, err := l.CountRun(tok.Symbol)
			if err != nil {
				return nil, err
			}
			code = append(code, vm.Instruction{Op: op, Operand: n})
		}
	}
}

// ParseReader parses a program read from r.
func ParseReader(r io.Reader) (*vm.Program, error) {
	return Parse(NewLexer(r))
}

// ParseBytes parses a program held in memory.
func ParseBytes(src []byte) (*vm.Program, error) {
	return Parse(NewLexer(bytes.NewReader(src)))
}

// ParseString parses a program held in a string.
func ParseString(src string) (*vm.Program, error) {
	return Parse(NewLexer(strings.NewReader(src)))
}
