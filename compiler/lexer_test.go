package compiler

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestLexerBasicTokens(t *testing.T) {
	input := `<>+-.,[]`
	expected := []Symbol{
		MoveLeft, MoveRight, Increment, Decrement,
		Output, Input, LoopStart, LoopEnd, EOF,
	}

	l := NewLexer(strings.NewReader(input))
	for i, exp := range expected {
		tok, err := l.NextToken()
		if err != nil {
			t.Fatalf("token[%d]: unexpected error: %v", i, err)
		}
		if tok.Symbol != exp {
			t.Errorf("token[%d] symbol = %v, want %v", i, tok.Symbol, exp)
		}
	}
}

func TestLexerSkipsCommentary(t *testing.T) {
	input := "add two: ++ then print it. done"
	l := NewLexer(strings.NewReader(input))

	var got []Symbol
	for {
		tok, err := l.NextToken()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tok.Symbol == EOF {
			break
		}
		got = append(got, tok.Symbol)
	}

	want := []Symbol{Increment, Increment, Output}
	if len(got) != len(want) {
		t.Fatalf("got %d tokens %v, want %v", len(got), got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLexerPositions(t *testing.T) {
	input := "+ x\n ab-\n\n]"
	tests := []struct {
		sym    Symbol
		line   int
		column int
		offset int
	}{
		{Increment, 1, 1, 0},
		{Decrement, 2, 4, 7},
		{LoopEnd, 4, 1, 10},
	}

	l := NewLexer(strings.NewReader(input))
	for i, tc := range tests {
		tok, err := l.NextToken()
		if err != nil {
			t.Fatalf("token[%d]: unexpected error: %v", i, err)
		}
		if tok.Symbol != tc.sym {
			t.Errorf("token[%d] symbol = %v, want %v", i, tok.Symbol, tc.sym)
		}
		if tok.Pos.Line != tc.line || tok.Pos.Column != tc.column {
			t.Errorf("token[%d] pos = %s, want %d:%d", i, tok.Pos, tc.line, tc.column)
		}
		if tok.Pos.Offset != tc.offset {
			t.Errorf("token[%d] offset = %d, want %d", i, tok.Pos.Offset, tc.offset)
		}
	}
}

func TestLexerPeekIsIdempotent(t *testing.T) {
	l := NewLexer(strings.NewReader("+-"))

	first, err := l.PeekToken()
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	second, err := l.PeekToken()
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if first != second {
		t.Errorf("repeated peek = %v then %v, want identical tokens", first, second)
	}

	next, err := l.NextToken()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next != first {
		t.Errorf("NextToken after peek = %v, want %v", next, first)
	}

	next, err = l.NextToken()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next.Symbol != Decrement {
		t.Errorf("second token = %v, want DECREMENT", next.Symbol)
	}
}

func TestLexerEOFRepeats(t *testing.T) {
	l := NewLexer(strings.NewReader("no symbols here"))
	for i := 0; i < 3; i++ {
		tok, err := l.NextToken()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tok.Symbol != EOF {
			t.Errorf("call %d: symbol = %v, want EOF", i, tok.Symbol)
		}
	}
	tok, err := l.PeekToken()
	if err != nil || tok.Symbol != EOF {
		t.Errorf("PeekToken at end = %v, %v; want EOF, nil", tok, err)
	}
}

func TestLexerCountRun(t *testing.T) {
	tests := []struct {
		input string
		sym   Symbol
		want  int
		next  Symbol
	}{
		{"+", Increment, 1, EOF},
		{"+++", Increment, 3, EOF},
		{"++ +\n+-", Increment, 4, Decrement},
		{">>>><", MoveRight, 4, MoveLeft},
		{"..[", Output, 2, LoopStart},
	}

	for _, tc := range tests {
		l := NewLexer(strings.NewReader(tc.input))
		if _, err := l.NextToken(); err != nil {
			t.Fatalf("%q: %v", tc.input, err)
		}
		n, err := l.CountRun(tc.sym)
		if err != nil {
			t.Fatalf("%q: CountRun error: %v", tc.input, err)
		}
		if n != tc.want {
			t.Errorf("CountRun(%q) = %d, want %d", tc.input, n, tc.want)
		}
		tok, err := l.NextToken()
		if err != nil {
			t.Fatalf("%q: %v", tc.input, err)
		}
		if tok.Symbol != tc.next {
			t.Errorf("after CountRun(%q) next = %v, want %v", tc.input, tok.Symbol, tc.next)
		}
	}
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestLexerReadError(t *testing.T) {
	boom := errors.New("disk on fire")
	l := NewLexer(&failingReader{data: []byte("+"), err: boom})

	tok, err := l.NextToken()
	if err != nil {
		t.Fatalf("first token: %v", err)
	}
	if tok.Symbol != Increment {
		t.Errorf("first token = %v, want INCREMENT", tok.Symbol)
	}

	_, err = l.NextToken()
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want wrapped %v", err, boom)
	}
	if errors.Is(err, io.EOF) {
		t.Error("read failure must not look like end of input")
	}
}

func TestIsSymbol(t *testing.T) {
	for _, b := range []byte("<>+-.,[]") {
		if !IsSymbol(b) {
			t.Errorf("IsSymbol(%q) = false, want true", b)
		}
	}
	for _, b := range []byte("abc 019\n\t#!{}()") {
		if IsSymbol(b) {
			t.Errorf("IsSymbol(%q) = true, want false", b)
		}
	}
}
