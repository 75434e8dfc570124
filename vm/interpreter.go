package vm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("tape.vm")

// ---------------------------------------------------------------------------
// Interpreter: executes a Program over a Tape
// ---------------------------------------------------------------------------

// ErrStepLimit is returned by Run when Options.MaxSteps instructions have
// executed and the program has not halted.
var ErrStepLimit = errors.New("step limit exceeded")

// cancelCheckInterval is how many instructions run between context checks.
const cancelCheckInterval = 4096

// Options configures an Interpreter.
type Options struct {
	TapeSize int    // cells; <= 0 selects DefaultTapeSize
	MaxSteps uint64 // 0 means unlimited
}

// Flusher is implemented by buffered writers. Output is flushed after every
// OUTPUT instruction when the writer supports it.
type Flusher interface {
	Flush() error
}

// Interpreter owns a program, its tape and the two registers. It is not safe
// for concurrent use.
type Interpreter struct {
	program *Program
	tape    *Tape
	dp      int // data pointer
	ip      int // instruction pointer
	steps   uint64

	maxSteps uint64
	in       io.ByteReader
	out      io.Writer
	outBuf   []byte
}

// NewInterpreter creates an interpreter for p reading from in and writing to
// out. A nil in behaves as an empty stream; a nil out discards output.
func NewInterpreter(p *Program, in io.Reader, out io.Writer, opts Options) *Interpreter {
	if in == nil {
		in = eofReader{}
	}
	if out == nil {
		out = io.Discard
	}
	br, ok := in.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(in)
	}
	return &Interpreter{
		program:  p,
		tape:     NewTape(opts.TapeSize),
		maxSteps: opts.MaxSteps,
		in:       br,
		out:      out,
	}
}

// IP returns the instruction pointer.
func (i *Interpreter) IP() int { return i.ip }

// DP returns the data pointer.
func (i *Interpreter) DP() int { return i.dp }

// Steps returns the number of instructions executed so far.
func (i *Interpreter) Steps() uint64 { return i.steps }

// Tape returns the interpreter's tape.
func (i *Interpreter) Tape() *Tape { return i.tape }

// Cell returns the value at addr, or 0 when addr is off the tape.
func (i *Interpreter) Cell(addr int) byte {
	if !i.tape.InBounds(addr) {
		return 0
	}
	return i.tape.Get(addr)
}

// Halted reports whether the instruction pointer has run off the program.
func (i *Interpreter) Halted() bool {
	return i.ip >= i.program.Len()
}

// Run executes until the program halts, an instruction fails, the step
// limit is reached, or ctx is cancelled.
func (i *Interpreter) Run(ctx context.Context) error {
	for !i.Halted() {
		if i.steps%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if i.maxSteps > 0 && i.steps >= i.maxSteps {
			return fmt.Errorf("%w after %d instructions", ErrStepLimit, i.steps)
		}
		if _, err := i.Step(); err != nil {
			return err
		}
	}
	log.Debugf("halted after %d steps, ip=%d dp=%d", i.steps, i.ip, i.dp)
	return nil
}

// Step executes one instruction. It returns false without doing anything
// once the program has halted. Programs that skip Validate can jump before
// the first instruction; that is reported as an InvalidProgramError.
func (i *Interpreter) Step() (bool, error) {
	if i.Halted() {
		return false, nil
	}
	if i.ip < 0 {
		return false, &InvalidProgramError{Index: i.ip, Reason: "instruction pointer before program start"}
	}
	in := i.program.Code[i.ip]
	i.steps++

	switch in.Op {
	case OpMoveRight:
		if err := i.move(in.Operand); err != nil {
			return false, err
		}
		i.ip++

	case OpMoveLeft:
		if err := i.move(-in.Operand); err != nil {
			return false, err
		}
		i.ip++

	case OpIncrement:
		i.tape.Add(i.dp, in.Operand)
		i.ip++

	case OpDecrement:
		i.tape.Sub(i.dp, in.Operand)
		i.ip++

	case OpOutput:
		if err := i.output(in.Operand); err != nil {
			return false, err
		}
		i.ip++

	case OpInput:
		if err := i.input(in.Operand); err != nil {
			return false, err
		}
		i.ip++

	case OpJumpIfZero:
		if i.tape.Get(i.dp) == 0 {
			i.ip = in.Operand
		} else {
			i.ip++
		}

	case OpJumpIfNonZero:
		if i.tape.Get(i.dp) != 0 {
			i.ip = in.Operand
		} else {
			i.ip++
		}

	default:
		return false, fmt.Errorf("unknown opcode %s at %04d", in.Op, i.ip)
	}
	return true, nil
}

// move shifts the data pointer by delta, refusing to leave the tape.
func (i *Interpreter) move(delta int) error {
	next := i.dp + delta
	if !i.tape.InBounds(next) {
		return &TapeOutOfBoundsError{Address: next, Size: i.tape.Len(), IP: i.ip}
	}
	i.dp = next
	return nil
}

func (i *Interpreter) output(n int) error {
	if cap(i.outBuf) < n {
		i.outBuf = make([]byte, n)
	}
	buf := i.outBuf[:n]
	v := i.tape.Get(i.dp)
	for k := range buf {
		buf[k] = v
	}
	if _, err := i.out.Write(buf); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	if f, ok := i.out.(Flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flush output: %w", err)
		}
	}
	return nil
}

// input reads n bytes into the current cell, the last one winning. At end
// of input the cell keeps its value.
func (i *Interpreter) input(n int) error {
	for k := 0; k < n; k++ {
		b, err := i.in.ReadByte()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		i.tape.Set(i.dp, b)
	}
	return nil
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
