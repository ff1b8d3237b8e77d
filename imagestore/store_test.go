package imagestore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/chazu/ember/compiler"
	"github.com/chazu/ember/vm"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache", "images.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDigest(t *testing.T) {
	a := Digest("1 + 1", binary.LittleEndian)
	if a != Digest("1 + 1", binary.LittleEndian) {
		t.Error("digest is not stable")
	}
	if a == Digest("1 + 2", binary.LittleEndian) {
		t.Error("different sources share a digest")
	}
	if a == Digest("1 + 1", binary.BigEndian) {
		t.Error("byte order does not change the digest")
	}
	if a == Digest("1 + 1", binary.LittleEndian, "print") {
		t.Error("natives do not change the digest")
	}
	if Digest("1", binary.LittleEndian, "a", "b") == Digest("1", binary.LittleEndian, "b", "a") {
		t.Error("native order does not change the digest")
	}
	if len(a) != 64 {
		t.Errorf("digest length = %d, want 64", len(a))
	}
}

func TestPutGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) = %v, want ErrNotFound", err)
	}
	if err := s.Put(ctx, "d1", []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "d1", []byte{4, 5}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{4, 5}) {
		t.Errorf("Get(d1) = %v, want the replacement", got)
	}
}

func TestCompileCaches(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	src := "def sq(x) { return x * x }; sq(9)"

	img, hit, err := s.Compile(ctx, src, compiler.Options{}, binary.LittleEndian)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if hit {
		t.Error("first compile reported a cache hit")
	}
	again, hit, err := s.Compile(ctx, src, compiler.Options{}, binary.LittleEndian)
	if err != nil {
		t.Fatal(err)
	}
	if !hit || !bytes.Equal(img, again) {
		t.Errorf("second compile: hit=%v, same=%v", hit, bytes.Equal(img, again))
	}

	e, err := vm.New(vm.ModeImage, vm.Config{Image: again})
	if err != nil {
		t.Fatalf("vm.New: %v", err)
	}
	v, err := e.Run()
	if err != nil || v.Num() != 81 {
		t.Errorf("cached image ran to %v, %v; want 81", e.Format(v), err)
	}
}

func TestCompileErrorNotCached(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	if _, _, err := s.Compile(ctx, "var = 1", compiler.Options{}, binary.LittleEndian); err == nil {
		t.Fatal("Compile accepted bad source")
	}
	entries, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("failed compile left %d entries", len(entries))
	}
}

func TestListAndPrune(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	for _, d := range []string{"a", "b"} {
		if err := s.Put(ctx, d, []byte(d+d)); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Size != 2 {
		t.Fatalf("entries = %+v", entries)
	}

	n, err := s.Prune(ctx, time.Now().Add(-time.Hour))
	if err != nil || n != 0 {
		t.Errorf("Prune(old cutoff) = %d, %v", n, err)
	}
	n, err = s.Prune(ctx, time.Now().Add(time.Hour))
	if err != nil || n != 2 {
		t.Errorf("Prune(future cutoff) = %d, %v", n, err)
	}
}
