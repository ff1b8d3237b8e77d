package vm

import (
	"io"
	"strings"
	"testing"
)

func TestResolver(t *testing.T) {
	r := NewResolver([]Native{{Name: "a"}, {Name: "b"}, {Name: "a"}, {Name: "c"}})

	tests := []struct {
		name  string
		index int
		ok    bool
	}{
		{"a", 0, true},
		{"b", 1, true},
		{"c", 2, true},
		{"d", 0, false},
	}
	for _, tt := range tests {
		i, ok := r.LookupNative(tt.name)
		if ok != tt.ok || (ok && i != tt.index) {
			t.Errorf("LookupNative(%q) = %d, %v, want %d, %v", tt.name, i, ok, tt.index, tt.ok)
		}
	}
	if got := strings.Join(r.Names(), ","); got != "a,b,c" {
		t.Errorf("Names = %s, want a,b,c", got)
	}
}

func TestResolverMatchesEnv(t *testing.T) {
	natives := append(CoreNatives(io.Discard), Native{Name: "print"}, Native{Name: "extra"})
	r := NewResolver(natives)
	names := r.Names()
	if names[0] != "print" || names[len(names)-1] != "extra" || len(names) != len(CoreNatives(io.Discard))+1 {
		t.Errorf("Names = %v", names)
	}
}
