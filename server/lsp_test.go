package server

import (
	"strings"
	"testing"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/chazu/ember/vm"
)

// ---------------------------------------------------------------------------
// LSP text extraction helpers
// ---------------------------------------------------------------------------

func TestWordAt(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		pos    protocol.Position
		prefix string
		word   string
	}{
		{"end of word", "var count = cou", protocol.Position{Line: 0, Character: 15}, "cou", "cou"},
		{"middle of word", "hello world", protocol.Position{Line: 0, Character: 3}, "hel", "hello"},
		{"second word", "hello world", protocol.Position{Line: 0, Character: 8}, "wo", "world"},
		{"empty line", "", protocol.Position{Line: 0, Character: 0}, "", ""},
		{"multi line", "first line\nsecond\nwhi", protocol.Position{Line: 2, Character: 3}, "whi", "whi"},
		{"after dot", "a.pu", protocol.Position{Line: 0, Character: 4}, "pu", "pu"},
		{"dollar", "$tm", protocol.Position{Line: 0, Character: 3}, "$tm", "$tm"},
		{"underscore", "my_var", protocol.Position{Line: 0, Character: 3}, "my_", "my_var"},
		{"call", "f(x)", protocol.Position{Line: 0, Character: 1}, "f", "f"},
		{"cursor at beginning", "hello", protocol.Position{Line: 0, Character: 0}, "", "hello"},
		{"past end of line", "abc", protocol.Position{Line: 0, Character: 9}, "abc", "abc"},
		{"line beyond document", "single line", protocol.Position{Line: 5, Character: 0}, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefix, word := wordAt(tt.text, tt.pos)
			if prefix != tt.prefix || word != tt.word {
				t.Errorf("wordAt = %q, %q, want %q, %q", prefix, word, tt.prefix, tt.word)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Language features
// ---------------------------------------------------------------------------

const lspDoc = `var total = 0
def addAll(list, start) {
  var sum = start
  list.foreach(def(i, v) { sum += v })
  return sum
}
total = addAll([1, 2], twice(1))
`

func newTestLSP() *LspServer {
	return NewLSP(testEnvConfig().Natives)
}

func TestLSP_Declarations(t *testing.T) {
	syms := newTestLSP().analyze(lspDoc).decls
	var got []string
	for _, s := range syms {
		got = append(got, s.signature())
	}
	want := "var total|def addAll(list, start)|var sum"
	if strings.Join(got, "|") != want {
		t.Errorf("symbols = %q, want %q", strings.Join(got, "|"), want)
	}
	if syms[1].Pos.Line != 2 || syms[1].Pos.Column != 5 {
		t.Errorf("addAll declared at %v, want 2:5", syms[1].Pos)
	}
}

func TestLSP_Complete(t *testing.T) {
	lsp := newTestLSP()

	tests := []struct {
		prefix string
		want   []string
	}{
		{"add", []string{"addAll"}},
		{"tw", []string{"twice"}},
		{"pr", []string{"print"}},
		{"wh", []string{"while"}},
		{"t", []string{"throw", "total", "true", "try", "twice"}},
		{"zzz", nil},
	}
	for _, tt := range tests {
		items := lsp.complete(lsp.analyze(lspDoc), tt.prefix)
		var labels []string
		for _, item := range items {
			labels = append(labels, item.Label)
		}
		if strings.Join(labels, ",") != strings.Join(tt.want, ",") {
			t.Errorf("complete(%q) = %v, want %v", tt.prefix, labels, tt.want)
		}
	}
}

func TestLSP_Hover(t *testing.T) {
	lsp := newTestLSP()
	doc := lsp.analyze(lspDoc)

	tests := []struct {
		word string
		want string // substring; empty means no hover
	}{
		{"addAll", "def addAll(list, start)"},
		{"total", "Declared at line 1."},
		{"twice", "native function"},
		{"while", "keyword"},
		{"nothing", ""},
	}
	for _, tt := range tests {
		h := lsp.hover(doc, tt.word)
		if tt.want == "" {
			if h != nil {
				t.Errorf("hover(%q) should be nil", tt.word)
			}
			continue
		}
		if h == nil {
			t.Errorf("hover(%q) returned nil", tt.word)
			continue
		}
		content := h.Contents.(protocol.MarkupContent)
		if !strings.Contains(content.Value, tt.want) {
			t.Errorf("hover(%q) = %q, want it to contain %q", tt.word, content.Value, tt.want)
		}
	}
}

func TestLSP_Definition(t *testing.T) {
	doc := newTestLSP().analyze(lspDoc)
	uri := protocol.DocumentUri("file:///test.em")

	locs := definition(uri, doc, "sum")
	if len(locs) != 1 {
		t.Fatalf("definition(sum) = %v", locs)
	}
	want := protocol.Range{
		Start: protocol.Position{Line: 2, Character: 6},
		End:   protocol.Position{Line: 2, Character: 9},
	}
	if locs[0].URI != uri || locs[0].Range != want {
		t.Errorf("definition(sum) = %+v, want %+v", locs[0], want)
	}

	if locs := definition(uri, doc, "twice"); locs != nil {
		t.Errorf("definition of a native = %v, want none", locs)
	}
}

func TestLSP_References(t *testing.T) {
	doc := newTestLSP().analyze(lspDoc)
	uri := protocol.DocumentUri("file:///test.em")

	if got := len(references(uri, doc, "sum")); got != 3 {
		t.Errorf("references(sum) = %d, want 3", got)
	}
	if got := len(references(uri, doc, "total")); got != 2 {
		t.Errorf("references(total) = %d, want 2", got)
	}
	if got := references(uri, doc, "nothing"); got != nil {
		t.Errorf("references(nothing) = %v", got)
	}
}

func TestLSP_Diagnose(t *testing.T) {
	lsp := newTestLSP()

	if d := lsp.diagnose(lspDoc); d != nil {
		t.Fatalf("clean document has diagnostics: %v", d[0].Message)
	}

	tests := []struct {
		text string
		line protocol.UInteger
		char protocol.UInteger
		code string
	}{
		{"var x = 1\nx + y", 1, 4, "not defined identifier"},
		{"var = 1", 0, 4, "invalid syntax"},
	}
	for _, tt := range tests {
		d := lsp.diagnose(tt.text)
		if len(d) != 1 {
			t.Errorf("diagnose(%q) = %d diagnostics, want 1", tt.text, len(d))
			continue
		}
		if d[0].Range.Start.Line != tt.line || d[0].Range.Start.Character != tt.char {
			t.Errorf("diagnose(%q) at %+v, want %d:%d", tt.text, d[0].Range.Start, tt.line, tt.char)
		}
		if d[0].Code == nil || d[0].Code.Value != tt.code {
			t.Errorf("diagnose(%q) code = %v, want %q", tt.text, d[0].Code, tt.code)
		}
		if *d[0].Severity != protocol.DiagnosticSeverityError {
			t.Errorf("diagnose(%q) severity = %v", tt.text, *d[0].Severity)
		}
	}
}

func TestLSP_NativesFollowCoreNatives(t *testing.T) {
	lsp := NewLSP([]vm.Native{{Name: "extra"}})
	names := lsp.natives.Names()
	if names[0] != "print" || names[len(names)-1] != "extra" {
		t.Errorf("native order = %v", names)
	}
}

// ---------------------------------------------------------------------------
// LSP document synchronization state
// ---------------------------------------------------------------------------

func TestLSP_DocumentStore(t *testing.T) {
	lsp := newTestLSP()
	uri := protocol.DocumentUri("file:///test.em")

	doc := lsp.analyze("var a = 1\nb")
	if len(doc.diags) != 1 {
		t.Errorf("diagnostics = %d, want 1", len(doc.diags))
	}
	lsp.mu.Lock()
	lsp.docs[uri] = doc
	lsp.mu.Unlock()

	got, prefix, word := lsp.at(uri, protocol.Position{Line: 0, Character: 5})
	if got != doc || prefix != "a" || word != "a" {
		t.Errorf("at = %p %q %q", got, prefix, word)
	}

	lsp.mu.Lock()
	delete(lsp.docs, uri)
	lsp.mu.Unlock()

	if got, _, _ := lsp.at(uri, protocol.Position{}); got != nil {
		t.Error("document should be removed after close")
	}
}
