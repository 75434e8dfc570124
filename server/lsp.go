package server

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf16"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/tape/compiler"
	"github.com/chazu/tape/vm"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "tape-lsp"

var log = commonlog.GetLogger("tape.lsp")

// LspServer publishes bracket diagnostics and instruction hovers for
// program files.
type LspServer struct {
	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new language server.
func NewLSP(version string) *LspServer {
	s := &LspServer{
		docs:    make(map[string]string),
		version: version,
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentHover: s.textDocumentHover,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Info("initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}
	capabilities.HoverProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	log.Info("shutting down")
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	s.mu.Lock()
	text, ok := s.docs[string(params.TextDocument.URI)]
	s.mu.Unlock()

	if !ok {
		return nil, nil
	}
	return hoverAt(text, params.Position), nil
}

// publishDiagnostics notifies in the handler goroutine, so diagnostics
// reach the client in the order the edits arrived.
func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	diagnostics := diagnose(text)
	log.Debugf("%s: %d diagnostics", uri, len(diagnostics))

	ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// --- Analysis ---

// diagnose parses text and converts bracket errors into diagnostics.
func diagnose(text string) []protocol.Diagnostic {
	_, err := compiler.ParseString(text)
	if err == nil {
		return []protocol.Diagnostic{}
	}

	lines := strings.Split(text, "\n")
	var diagnostics []protocol.Diagnostic

	var closeErr *compiler.UnmatchedCloseError
	var openErr *compiler.UnmatchedOpenError
	switch {
	case errors.As(err, &closeErr):
		diagnostics = append(diagnostics, symbolDiagnostic(lines, closeErr.Pos, "unmatched ']': no open loop to close"))
	case errors.As(err, &openErr):
		for _, pos := range openErr.Positions {
			diagnostics = append(diagnostics, symbolDiagnostic(lines, pos, "unmatched '[': loop is never closed"))
		}
	default:
		diagnostics = append(diagnostics, newDiagnostic(protocol.Range{}, err.Error()))
	}
	return diagnostics
}

func symbolDiagnostic(lines []string, pos compiler.Position, msg string) protocol.Diagnostic {
	start := toLSP(lines, pos)
	end := start
	end.Character++
	return newDiagnostic(protocol.Range{Start: start, End: end}, msg)
}

func newDiagnostic(r protocol.Range, msg string) protocol.Diagnostic {
	severity := protocol.DiagnosticSeverityError
	source := lspName
	return protocol.Diagnostic{
		Range:    r,
		Severity: &severity,
		Source:   &source,
		Message:  msg,
	}
}

// symbolInfo is what hover knows about one source symbol.
type symbolInfo struct {
	tok   compiler.Token
	index int                // instruction index the symbol compiles into
	match *compiler.Position // matching bracket, for '[' and ']'
}

// analysis mirrors the parser's grouping so hovers agree with disassembly.
type analysis struct {
	symbols []symbolInfo
	runs    []int // run length per instruction index
}

// analyze lexes text and groups its symbols into instructions. Unmatched
// brackets get a nil match.
func analyze(text string) (*analysis, error) {
	l := compiler.NewLexer(strings.NewReader(text))

	a := &analysis{}
	var open []int // indices into a.symbols
	for {
		tok, err := l.NextToken()
		if err != nil {
			return nil, err
		}
		if tok.Symbol == compiler.EOF {
			return a, nil
		}

		switch tok.Symbol {
		case compiler.LoopStart:
			open = append(open, len(a.symbols))
			a.symbols = append(a.symbols, symbolInfo{tok: tok, index: len(a.runs)})
			a.runs = append(a.runs, 1)
		case compiler.LoopEnd:
			info := symbolInfo{tok: tok, index: len(a.runs)}
			if len(open) > 0 {
				start := open[len(open)-1]
				open = open[:len(open)-1]
				startPos := a.symbols[start].tok.Pos
				endPos := tok.Pos
				info.match = &startPos
				a.symbols[start].match = &endPos
			}
			a.symbols = append(a.symbols, info)
			a.runs = append(a.runs, 1)
		default:
			if n := len(a.symbols); n > 0 && a.symbols[n-1].tok.Symbol == tok.Symbol {
				index := a.symbols[n-1].index
				a.runs[index]++
				a.symbols = append(a.symbols, symbolInfo{tok: tok, index: index})
				continue
			}
			a.symbols = append(a.symbols, symbolInfo{tok: tok, index: len(a.runs)})
			a.runs = append(a.runs, 1)
		}
	}
}

var symbolOps = map[compiler.Symbol]vm.Opcode{
	compiler.MoveRight: vm.OpMoveRight,
	compiler.MoveLeft:  vm.OpMoveLeft,
	compiler.Increment: vm.OpIncrement,
	compiler.Decrement: vm.OpDecrement,
	compiler.Output:    vm.OpOutput,
	compiler.Input:     vm.OpInput,
	compiler.LoopStart: vm.OpJumpIfZero,
	compiler.LoopEnd:   vm.OpJumpIfNonZero,
}

var symbolDocs = map[compiler.Symbol]string{
	compiler.MoveRight: "Move the data pointer right.",
	compiler.MoveLeft:  "Move the data pointer left.",
	compiler.Increment: "Add to the current cell, wrapping at 256.",
	compiler.Decrement: "Subtract from the current cell, wrapping at 256.",
	compiler.Output:    "Write the current cell as a byte.",
	compiler.Input:     "Read a byte into the current cell; at end of input the cell is unchanged.",
	compiler.LoopStart: "Skip past the matching `]` when the current cell is zero.",
	compiler.LoopEnd:   "Jump back into the loop body when the current cell is non-zero.",
}

// hoverAt describes the symbol under pos, or returns nil.
func hoverAt(text string, pos protocol.Position) *protocol.Hover {
	lines := strings.Split(text, "\n")
	target, ok := fromLSP(lines, pos)
	if !ok {
		return nil
	}

	a, err := analyze(text)
	if err != nil {
		return nil
	}

	for _, info := range a.symbols {
		if info.tok.Pos.Line != target.Line || info.tok.Pos.Column != target.Column {
			continue
		}

		op := symbolOps[info.tok.Symbol]
		var b strings.Builder
		fmt.Fprintf(&b, "**%s**", op.Name())
		if op.IsJump() {
			if info.match != nil {
				fmt.Fprintf(&b, " matches `%c` at %s", otherBracket(info.tok.Symbol), info.match)
			} else {
				b.WriteString(" (unmatched)")
			}
		} else {
			fmt.Fprintf(&b, " ×%d", a.runs[info.index])
		}
		fmt.Fprintf(&b, "\n\ninstruction %04d\n\n%s", info.index, symbolDocs[info.tok.Symbol])

		start := toLSP(lines, info.tok.Pos)
		end := start
		end.Character++
		return &protocol.Hover{
			Contents: protocol.MarkupContent{
				Kind:  protocol.MarkupKindMarkdown,
				Value: b.String(),
			},
			Range: &protocol.Range{Start: start, End: end},
		}
	}
	return nil
}

func otherBracket(s compiler.Symbol) byte {
	if s == compiler.LoopStart {
		return ']'
	}
	return '['
}

// --- Position conversion ---
//
// compiler.Position columns count bytes; LSP characters count UTF-16 code
// units. Only comment text can contain multi-byte characters, but those
// shift every symbol after them on the line.

func toLSP(lines []string, pos compiler.Position) protocol.Position {
	line := pos.Line - 1
	if line < 0 || line >= len(lines) {
		return protocol.Position{Line: protocol.UInteger(max(line, 0)), Character: protocol.UInteger(max(pos.Column-1, 0))}
	}
	text := lines[line]
	byteCol := min(pos.Column-1, len(text))
	units := 0
	for _, r := range text[:byteCol] {
		units += utf16.RuneLen(r)
	}
	return protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(units)}
}

func fromLSP(lines []string, pos protocol.Position) (compiler.Position, bool) {
	line := int(pos.Line)
	if line >= len(lines) {
		return compiler.Position{}, false
	}
	text := lines[line]
	units := 0
	for i, r := range text {
		if units == int(pos.Character) {
			return compiler.Position{Line: line + 1, Column: i + 1}, true
		}
		units += utf16.RuneLen(r)
	}
	return compiler.Position{}, false
}

func boolPtr(b bool) *bool {
	return &b
}
