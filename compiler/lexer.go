package compiler

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// ---------------------------------------------------------------------------
// Lexer: byte stream to symbol tokens
// ---------------------------------------------------------------------------

// Lexer reads a byte source one byte at a time and yields the language
// symbols in it, dropping everything else.
type Lexer struct {
	src    io.ByteReader
	offset int // offset of the next byte to read
	line   int // line of the next byte (1-based)
	col    int // column of the next byte (1-based)
	peeked *Token
}

// NewLexer creates a lexer over r. Readers that are not io.ByteReaders are
// buffered.
func NewLexer(r io.Reader) *Lexer {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Lexer{
		src:  br,
		line: 1,
		col:  1,
	}
}

// readToken scans forward to the next symbol. At end of input it returns an
// EOF token positioned just past the last byte.
func (l *Lexer) readToken() (Token, error) {
	for {
		pos := Position{Offset: l.offset, Line: l.line, Column: l.col}
		b, err := l.src.ReadByte()
		if errors.Is(err, io.EOF) {
			return Token{Symbol: EOF, Pos: pos}, nil
		}
		if err != nil {
			return Token{}, fmt.Errorf("read next byte from source at %s: %w", pos, err)
		}

		l.offset++
		if b == '\n' {
			l.line++
			l.col = 1
		} else {
			l.col++
		}

		if IsSymbol(b) {
			return Token{Symbol: Symbol(b), Pos: pos}, nil
		}
	}
}

// PeekToken returns the next token without consuming it. Repeated calls
// return the same token.
func (l *Lexer) PeekToken() (Token, error) {
	if l.peeked != nil {
		return *l.peeked, nil
	}
	tok, err := l.readToken()
	if err != nil {
		return Token{}, fmt.Errorf("reading next token to peek at it: %w", err)
	}
	l.peeked = &tok
	return tok, nil
}

// NextToken returns and consumes the next token.
func (l *Lexer) NextToken() (Token, error) {
	if l.peeked != nil {
		tok := *l.peeked
		l.peeked = nil
		return tok, nil
	}
	return l.readToken()
}

// CountRun is called after the caller has consumed one sym. It consumes any
// further sym tokens that follow and returns the total including the one
// already taken. A token of another symbol is left in place.
func (l *Lexer) CountRun(sym Symbol) (int, error) {
	n := 1
	for {
		tok, err := l.PeekToken()
		if err != nil {
			return n, err
		}
		if tok.Symbol != sym {
			return n, nil
		}
		l.peeked = nil
		n++
	}
}
