package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Symbols and tokens
// ---------------------------------------------------------------------------

// Symbol is one of the eight characters of the language, or EOF.
type Symbol byte

const (
	EOF       Symbol = 0
	MoveRight Symbol = '>'
	MoveLeft  Symbol = '<'
	Increment Symbol = '+'
	Decrement Symbol = '-'
	Output    Symbol = '.'
	Input     Symbol = ','
	LoopStart Symbol = '['
	LoopEnd   Symbol = ']'
)

var symbolNames = map[Symbol]string{
	EOF:       "EOF",
	MoveRight: "MOVE_RIGHT",
	MoveLeft:  "MOVE_LEFT",
	Increment: "INCREMENT",
	Decrement: "DECREMENT",
	Output:    "OUTPUT",
	Input:     "INPUT",
	LoopStart: "LOOP_START",
	LoopEnd:   "LOOP_END",
}

func (s Symbol) String() string {
	if name, ok := symbolNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Symbol(%d)", byte(s))
}

// IsSymbol reports whether b is part of the language alphabet. Every other
// byte is commentary.
func IsSymbol(b byte) bool {
	switch b {
	case '<', '>', '+', '-', '.', ',', '[', ']':
		return true
	}
	return false
}

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Token is a recognized symbol and where it was read.
type Token struct {
	Symbol Symbol
	Pos    Position
}

func (t Token) String() string {
	if t.Symbol == EOF {
		return "EOF"
	}
	return fmt.Sprintf("%q@%s", byte(t.Symbol), t.Pos)
}
