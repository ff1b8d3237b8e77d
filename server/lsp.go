package server

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/ember/compiler"
	"github.com/chazu/ember/pkg/errcode"
	"github.com/chazu/ember/vm"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "ember-lsp"

// LspServer provides editor features for ember source files. Each open
// document is tokenized and compiled when it changes; requests answer from
// that analysis.
type LspServer struct {
	natives vm.Resolver

	mu   sync.Mutex
	docs map[protocol.DocumentUri]*document

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// document is the analysis of one open file.
type document struct {
	text   string
	tokens []compiler.Token
	decls  []symbol
	diags  []protocol.Diagnostic
}

// NewLSP creates a language server. natives are the host functions scripts
// may call in addition to the core natives.
func NewLSP(natives []vm.Native) *LspServer {
	s := &LspServer{
		natives: newNativeTable(natives),
		docs:    make(map[protocol.DocumentUri]*document),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize: s.initialize,
		Initialized: func(*glsp.Context, *protocol.InitializedParams) error {
			return nil
		},
		Shutdown: func(*glsp.Context) error { return nil },
		SetTrace: func(*glsp.Context, *protocol.SetTraceParams) error {
			return nil
		},

		TextDocumentDidOpen: func(ctx *glsp.Context, p *protocol.DidOpenTextDocumentParams) error {
			s.update(ctx, p.TextDocument.URI, p.TextDocument.Text)
			return nil
		},
		TextDocumentDidChange: s.didChange,
		TextDocumentDidClose:  s.didClose,

		TextDocumentCompletion: s.completion,
		TextDocumentHover:      s.hoverAt,
		TextDocumentDefinition: s.definitionAt,
		TextDocumentReferences: s.referencesAt,
	}
	s.server = glspserver.NewServer(&s.handler, lspName, false)
	return s
}

// Run serves the protocol on stdio until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	commonlog.NewInfoMessage(0, "ember language server starting")

	caps := s.handler.CreateServerCapabilities()
	openClose := true
	full := protocol.TextDocumentSyncKindFull
	caps.TextDocumentSync = &protocol.TextDocumentSyncOptions{OpenClose: &openClose, Change: &full}
	caps.CompletionProvider = &protocol.CompletionOptions{TriggerCharacters: []string{"."}}
	caps.HoverProvider = true
	caps.DefinitionProvider = true
	caps.ReferencesProvider = true

	return protocol.InitializeResult{
		Capabilities: caps,
		ServerInfo:   &protocol.InitializeResultServerInfo{Name: lspName, Version: &s.version},
	}, nil
}

// --- Document synchronization ---

// update analyzes text, stores it for uri and publishes its diagnostics.
func (s *LspServer) update(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	doc := s.analyze(text)
	s.mu.Lock()
	s.docs[uri] = doc
	s.mu.Unlock()
	s.publish(ctx, uri, doc.diags)
}

func (s *LspServer) didChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	// Sync is full, so only the last change matters.
	if n := len(params.ContentChanges); n > 0 {
		if whole, ok := params.ContentChanges[n-1].(protocol.TextDocumentContentChangeEventWhole); ok {
			s.update(ctx, params.TextDocument.URI, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) didClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	s.mu.Lock()
	delete(s.docs, params.TextDocument.URI)
	s.mu.Unlock()
	s.publish(ctx, params.TextDocument.URI, nil)
	return nil
}

func (s *LspServer) publish(ctx *glsp.Context, uri protocol.DocumentUri, diags []protocol.Diagnostic) {
	if diags == nil {
		diags = []protocol.Diagnostic{}
	}
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diags,
	})
}

func (s *LspServer) document(uri protocol.DocumentUri) (*document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[uri]
	return doc, ok
}

// at returns the open document and the identifier around pos. prefix is
// the part of the identifier before pos.
func (s *LspServer) at(uri protocol.DocumentUri, pos protocol.Position) (doc *document, prefix, word string) {
	doc, ok := s.document(uri)
	if !ok {
		return nil, "", ""
	}
	prefix, word = wordAt(doc.text, pos)
	return doc, prefix, word
}

// --- Language features ---

func (s *LspServer) completion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	doc, prefix, _ := s.at(params.TextDocument.URI, params.Position)
	if doc == nil || prefix == "" {
		return nil, nil
	}
	return s.complete(doc, prefix), nil
}

func (s *LspServer) hoverAt(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	doc, _, word := s.at(params.TextDocument.URI, params.Position)
	if doc == nil || word == "" {
		return nil, nil
	}
	return s.hover(doc, word), nil
}

func (s *LspServer) definitionAt(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	doc, _, word := s.at(params.TextDocument.URI, params.Position)
	if doc == nil || word == "" {
		return nil, nil
	}
	if locs := definition(params.TextDocument.URI, doc, word); len(locs) > 0 {
		return locs, nil
	}
	return nil, nil
}

func (s *LspServer) referencesAt(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	doc, _, word := s.at(params.TextDocument.URI, params.Position)
	if doc == nil || word == "" {
		return nil, nil
	}
	return references(params.TextDocument.URI, doc, word), nil
}

// symbol is a name a document declares with var or def.
type symbol struct {
	Name   string
	Kind   compiler.TokenType // TokenVar or TokenDef
	Pos    compiler.Position
	Params []string
}

func (sym symbol) signature() string {
	if sym.Kind == compiler.TokenDef {
		return fmt.Sprintf("def %s(%s)", sym.Name, strings.Join(sym.Params, ", "))
	}
	return "var " + sym.Name
}

// analyze tokenizes and compiles text. Tokens stop at the first lexical
// error, so declarations after it are not found.
func (s *LspServer) analyze(text string) *document {
	doc := &document{text: text, tokens: compiler.Tokenize(text)}
	toks := doc.tokens
	for i := 0; i+1 < len(toks); i++ {
		kind := toks[i].Type
		if (kind != compiler.TokenVar && kind != compiler.TokenDef) || toks[i+1].Type != compiler.TokenIdentifier {
			continue
		}
		sym := symbol{Name: toks[i+1].Literal, Kind: kind, Pos: toks[i+1].Pos}
		if kind == compiler.TokenDef && i+2 < len(toks) && toks[i+2].Type == compiler.TokenLParen {
			for j := i + 3; j < len(toks) && toks[j].Type != compiler.TokenRParen; j++ {
				if toks[j].Type == compiler.TokenIdentifier {
					sym.Params = append(sym.Params, toks[j].Literal)
				}
			}
		}
		doc.decls = append(doc.decls, sym)
	}
	doc.diags = s.diagnose(text)
	return doc
}

func (doc *document) lookup(name string) (symbol, bool) {
	for _, sym := range doc.decls {
		if sym.Name == name {
			return sym, true
		}
	}
	return symbol{}, false
}

func isKeyword(word string) bool {
	for _, k := range compiler.Keywords() {
		if k == word {
			return true
		}
	}
	return false
}

// maxCompletions caps the completion list.
const maxCompletions = 100

func (s *LspServer) complete(doc *document, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	seen := map[string]bool{}
	add := func(label string, kind protocol.CompletionItemKind, detail string) {
		if seen[label] || !strings.HasPrefix(label, prefix) {
			return
		}
		seen[label] = true
		items = append(items, protocol.CompletionItem{Label: label, Kind: &kind, Detail: &detail})
	}

	for _, sym := range doc.decls {
		if sym.Kind == compiler.TokenDef {
			add(sym.Name, protocol.CompletionItemKindFunction, sym.signature())
		} else {
			add(sym.Name, protocol.CompletionItemKindVariable, "var")
		}
	}
	for _, name := range s.natives.Names() {
		add(name, protocol.CompletionItemKindFunction, "native")
	}
	for _, k := range compiler.Keywords() {
		add(k, protocol.CompletionItemKindKeyword, "keyword")
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Label < items[j].Label })
	if len(items) > maxCompletions {
		items = items[:maxCompletions]
	}
	return items
}

func (s *LspServer) hover(doc *document, word string) *protocol.Hover {
	var text string
	if sym, ok := doc.lookup(word); ok {
		text = fmt.Sprintf("```ember\n%s\n```\n\nDeclared at line %d.", sym.signature(), sym.Pos.Line)
	} else if _, ok := s.natives.LookupNative(word); ok {
		text = fmt.Sprintf("**%s** (native function)", word)
	} else if isKeyword(word) {
		text = fmt.Sprintf("**%s** (keyword)", word)
	} else {
		return nil
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{Kind: protocol.MarkupKindMarkdown, Value: text},
	}
}

func definition(uri protocol.DocumentUri, doc *document, word string) []protocol.Location {
	sym, ok := doc.lookup(word)
	if !ok {
		return nil
	}
	return []protocol.Location{{URI: uri, Range: wordRange(sym.Pos, len(sym.Name))}}
}

// references lists every identifier token spelled word. Scoping is not
// considered.
func references(uri protocol.DocumentUri, doc *document, word string) []protocol.Location {
	var locs []protocol.Location
	for _, tok := range doc.tokens {
		if tok.Type == compiler.TokenIdentifier && tok.Literal == word {
			locs = append(locs, protocol.Location{URI: uri, Range: wordRange(tok.Pos, len(word))})
		}
	}
	return locs
}

// wordRange converts a 1-based source position into an LSP range n bytes
// wide.
func wordRange(pos compiler.Position, n int) protocol.Range {
	line := protocol.UInteger(max(pos.Line-1, 0))
	col := protocol.UInteger(max(pos.Column-1, 0))
	return protocol.Range{
		Start: protocol.Position{Line: line, Character: col},
		End:   protocol.Position{Line: line, Character: col + protocol.UInteger(n)},
	}
}

// diagnose compiles text and describes the first error, if any.
func (s *LspServer) diagnose(text string) []protocol.Diagnostic {
	_, err := compiler.Compile(text, compiler.Options{Natives: s.natives})
	if err == nil {
		return nil
	}

	var rng protocol.Range
	var ee *errcode.Error
	if errors.As(err, &ee) && ee.Line > 0 {
		rng = wordRange(compiler.Position{Line: ee.Line, Column: ee.Col}, 1)
	}
	severity := protocol.DiagnosticSeverityError
	source := lspName
	code := protocol.IntegerOrString{Value: errcode.CodeOf(err).String()}
	return []protocol.Diagnostic{{
		Range:    rng,
		Severity: &severity,
		Code:     &code,
		Source:   &source,
		Message:  err.Error(),
	}}
}

// wordAt finds the identifier touching pos on its line. prefix ends at
// pos; word extends past it.
func wordAt(text string, pos protocol.Position) (prefix, word string) {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return "", ""
	}
	line := lines[pos.Line]
	col := min(int(pos.Character), len(line))

	start, end := col, col
	for start > 0 && isIdentChar(rune(line[start-1])) {
		start--
	}
	for end < len(line) && isIdentChar(rune(line[end])) {
		end++
	}
	return line[start:col], line[start:end]
}

func isIdentChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '$'
}
