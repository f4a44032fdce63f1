package checksum

import (
	"bytes"
	"testing"
)

func TestForName(t *testing.T) {
	for _, name := range []string{Blake3, SHA256} {
		h, err := ForName(name)
		if err != nil {
			t.Fatalf("ForName(%q): %v", name, err)
		}
		if h.Name() != name {
			t.Errorf("Name() = %q, want %q", h.Name(), name)
		}
		if h.Size() != 32 {
			t.Errorf("%s Size() = %d, want 32", name, h.Size())
		}
	}
}

func TestForNameUnknown(t *testing.T) {
	if _, err := ForName("md5"); err == nil {
		t.Error("expected error for unknown hash name")
	}
}

func TestSumDeterministic(t *testing.T) {
	h, err := ForName(Blake3)
	if err != nil {
		t.Fatalf("ForName: %v", err)
	}
	a := Sum(h, []byte("payload"))
	b := Sum(h, []byte("payload"))
	if !bytes.Equal(a, b) {
		t.Error("same input produced different digests")
	}
	if len(a) != h.Size() {
		t.Errorf("digest length = %d, want %d", len(a), h.Size())
	}
	c := Sum(h, []byte("other"))
	if bytes.Equal(a, c) {
		t.Error("different inputs produced the same digest")
	}
}

func TestHashesDisagree(t *testing.T) {
	b3, _ := ForName(Blake3)
	sh, _ := ForName(SHA256)
	if bytes.Equal(Sum(b3, []byte("x")), Sum(sh, []byte("x"))) {
		t.Error("blake3 and sha256 produced the same digest")
	}
}
