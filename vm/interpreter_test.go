package vm

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func run(t *testing.T, code []Instruction, input string, opts Options) (*Interpreter, string, error) {
	t.Helper()
	var out bytes.Buffer
	interp := NewInterpreter(NewProgram(code), strings.NewReader(input), &out, opts)
	err := interp.Run(context.Background())
	return interp, out.String(), err
}

func TestIncrementWrapsAt256(t *testing.T) {
	interp, _, err := run(t, []Instruction{{OpIncrement, 256}}, "", Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := interp.Cell(0); got != 0 {
		t.Errorf("cell after 256 increments = %d, want 0", got)
	}

	interp, _, err = run(t, []Instruction{{OpIncrement, 7}, {OpIncrement, 256}}, "", Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := interp.Cell(0); got != 7 {
		t.Errorf("cell = %d, want 7", got)
	}
}

func TestArithmeticWraparound(t *testing.T) {
	tests := []struct {
		name string
		code []Instruction
		want byte
	}{
		{"decrement below zero", []Instruction{{OpDecrement, 1}}, 255},
		{"increment past 255", []Instruction{{OpIncrement, 255}, {OpIncrement, 2}}, 1},
		{"large run", []Instruction{{OpIncrement, 300}}, 44},
		{"large decrement", []Instruction{{OpDecrement, 513}}, 255},
	}

	for _, tc := range tests {
		interp, _, err := run(t, tc.code, "", Options{})
		if err != nil {
			t.Fatalf("%s: Run: %v", tc.name, err)
		}
		if got := interp.Cell(0); got != tc.want {
			t.Errorf("%s: cell = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestClearLoopHalts(t *testing.T) {
	// +[-]
	code := []Instruction{
		{OpIncrement, 1},
		{OpJumpIfZero, 3},
		{OpDecrement, 1},
		{OpJumpIfNonZero, 2},
	}
	interp, _, err := run(t, code, "", Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !interp.Halted() {
		t.Error("interpreter did not halt")
	}
	if got := interp.Cell(0); got != 0 {
		t.Errorf("cell = %d, want 0", got)
	}
}

func TestLoopSkippedWhenCellIsZero(t *testing.T) {
	// [+.]>+
	code := []Instruction{
		{OpJumpIfZero, 3},
		{OpIncrement, 1},
		{OpOutput, 1},
		{OpJumpIfNonZero, 1},
		{OpMoveRight, 1},
		{OpIncrement, 1},
	}
	interp, out, err := run(t, code, "", Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "" {
		t.Errorf("loop body ran, output %q", out)
	}
	if interp.Cell(0) != 0 || interp.Cell(1) != 1 {
		t.Errorf("cells = %d, %d; want 0, 1", interp.Cell(0), interp.Cell(1))
	}
	if interp.Steps() != 4 {
		t.Errorf("steps = %d, want 4", interp.Steps())
	}
}

func TestMoveCellsAndOutput(t *testing.T) {
	// 65 '+' . > 66 '+' . < .
	code := []Instruction{
		{OpIncrement, 65},
		{OpOutput, 1},
		{OpMoveRight, 1},
		{OpIncrement, 66},
		{OpOutput, 2},
		{OpMoveLeft, 1},
		{OpOutput, 1},
	}
	interp, out, err := run(t, code, "", Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "ABBA" {
		t.Errorf("output = %q, want %q", out, "ABBA")
	}
	if interp.DP() != 0 {
		t.Errorf("data pointer = %d, want 0", interp.DP())
	}
}

func TestInput(t *testing.T) {
	tests := []struct {
		name  string
		code  []Instruction
		input string
		want  byte
	}{
		{"single byte", []Instruction{{OpInput, 1}}, "x", 'x'},
		{"last byte wins", []Instruction{{OpInput, 3}}, "abc", 'c'},
		{"eof leaves cell", []Instruction{{OpIncrement, 9}, {OpInput, 1}}, "", 9},
		{"partial run then eof", []Instruction{{OpInput, 4}}, "ab", 'b'},
	}

	for _, tc := range tests {
		interp, _, err := run(t, tc.code, tc.input, Options{})
		if err != nil {
			t.Fatalf("%s: Run: %v", tc.name, err)
		}
		if got := interp.Cell(0); got != tc.want {
			t.Errorf("%s: cell = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestNilStreams(t *testing.T) {
	code := []Instruction{{OpIncrement, 5}, {OpInput, 1}, {OpOutput, 1}}
	interp := NewInterpreter(NewProgram(code), nil, nil, Options{})
	if err := interp.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := interp.Cell(0); got != 5 {
		t.Errorf("cell = %d, want 5", got)
	}
}

func TestTapeOutOfBounds(t *testing.T) {
	tests := []struct {
		name string
		code []Instruction
		addr int
		ip   int
	}{
		{"left of origin", []Instruction{{OpIncrement, 1}, {OpMoveLeft, 1}}, -1, 1},
		{"past the end", []Instruction{{OpMoveRight, 3}, {OpMoveRight, 2}}, 5, 1},
	}

	for _, tc := range tests {
		interp, _, err := run(t, tc.code, "", Options{TapeSize: 4})
		var oob *TapeOutOfBoundsError
		if !errors.As(err, &oob) {
			t.Fatalf("%s: error = %v, want TapeOutOfBoundsError", tc.name, err)
		}
		if oob.Address != tc.addr || oob.IP != tc.ip || oob.Size != 4 {
			t.Errorf("%s: error = %+v, want address %d at %d on 4 cells", tc.name, oob, tc.addr, tc.ip)
		}
		if interp.DP() < 0 || interp.DP() >= 4 {
			t.Errorf("%s: data pointer left the tape: %d", tc.name, interp.DP())
		}
	}
}

func TestLastCellIsAddressable(t *testing.T) {
	interp, _, err := run(t, []Instruction{{OpMoveRight, 3}, {OpIncrement, 1}}, "", Options{TapeSize: 4})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := interp.Cell(3); got != 1 {
		t.Errorf("last cell = %d, want 1", got)
	}
}

func TestStepLimit(t *testing.T) {
	// +[]
	code := []Instruction{
		{OpIncrement, 1},
		{OpJumpIfZero, 2},
		{OpJumpIfNonZero, 2},
	}
	interp, _, err := run(t, code, "", Options{MaxSteps: 1000})
	if !errors.Is(err, ErrStepLimit) {
		t.Fatalf("error = %v, want ErrStepLimit", err)
	}
	if interp.Steps() != 1000 {
		t.Errorf("steps = %d, want 1000", interp.Steps())
	}
}

func TestRunCancelled(t *testing.T) {
	code := []Instruction{
		{OpIncrement, 1},
		{OpJumpIfZero, 2},
		{OpJumpIfNonZero, 2},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	interp := NewInterpreter(NewProgram(code), nil, nil, Options{})
	if err := interp.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

type flushRecorder struct {
	bytes.Buffer
	flushes int
}

func (f *flushRecorder) Flush() error {
	f.flushes++
	return nil
}

func TestOutputFlushedPerInstruction(t *testing.T) {
	code := []Instruction{
		{OpIncrement, 33},
		{OpOutput, 3},
		{OpIncrement, 1},
		{OpOutput, 1},
	}
	var out flushRecorder
	interp := NewInterpreter(NewProgram(code), nil, &out, Options{})
	if err := interp.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.String() != `!!!"` {
		t.Errorf("output = %q, want %q", out.String(), `!!!"`)
	}
	if out.flushes != 2 {
		t.Errorf("flushes = %d, want 2", out.flushes)
	}
}

type brokenWriter struct{}

var errBroken = errors.New("broken pipe")

func (brokenWriter) Write([]byte) (int, error) { return 0, errBroken }

func TestOutputWriteError(t *testing.T) {
	interp := NewInterpreter(NewProgram([]Instruction{{OpOutput, 1}}), nil, brokenWriter{}, Options{})
	if err := interp.Run(context.Background()); !errors.Is(err, errBroken) {
		t.Errorf("error = %v, want wrapped %v", err, errBroken)
	}
}

func TestStepAfterHalt(t *testing.T) {
	interp := NewInterpreter(NewProgram(nil), nil, nil, Options{})
	if !interp.Halted() {
		t.Fatal("empty program should start halted")
	}
	ok, err := interp.Step()
	if ok || err != nil {
		t.Errorf("Step() = %v, %v; want false, nil", ok, err)
	}
}

func TestDefaultTapeSize(t *testing.T) {
	interp := NewInterpreter(NewProgram(nil), nil, nil, Options{})
	if got := interp.Tape().Len(); got != DefaultTapeSize {
		t.Errorf("tape size = %d, want %d", got, DefaultTapeSize)
	}
}

func TestNegativeJumpTarget(t *testing.T) {
	// Unvalidated code whose backward jump points before the program.
	code := []Instruction{
		{OpIncrement, 1},
		{OpJumpIfNonZero, -3},
		{OpOutput, 1},
	}
	interp, out, err := run(t, code, "", Options{})
	var invalid *InvalidProgramError
	if !errors.As(err, &invalid) {
		t.Fatalf("error = %v, want InvalidProgramError", err)
	}
	if invalid.Index != -3 {
		t.Errorf("index = %d, want -3", invalid.Index)
	}
	if out != "" {
		t.Errorf("output = %q, want none", out)
	}
	if interp.Halted() {
		t.Error("Halted() = true for a pointer before the program")
	}
}
