package pty

import (
	"strings"
	"testing"
)

func TestWrapperGetBufferReturnsCopy(t *testing.T) {
	w := New()

	w.retain([]byte("abc"))

	snapshot := w.GetBuffer()
	if got := string(snapshot); got != "abc" {
		t.Fatalf("expected snapshot \"abc\", got %q", got)
	}

	w.retain([]byte("def"))

	if got := string(snapshot); got != "abc" {
		t.Fatalf("expected cached snapshot to remain \"abc\", got %q", got)
	}

	snapshot[0] = 'X'
	if got := string(w.GetBuffer()); got != "abcdef" {
		t.Fatalf("expected live buffer to remain \"abcdef\", got %q", got)
	}
}

func TestWrapperBufferDropsOldestWhenFull(t *testing.T) {
	w := New()
	w.retainLimit = 8

	for _, chunk := range []string{"aaaa", "bbbb", "cccc"} {
		w.retain([]byte(chunk))
	}

	got := string(w.GetBuffer())
	if len(got) != 8 {
		t.Fatalf("expected buffer capped at 8 bytes, got %d", len(got))
	}
	if strings.Contains(got, "a") {
		t.Fatalf("expected oldest chunk to be evicted, got %q", got)
	}
	if !strings.HasSuffix(got, "cccc") {
		t.Fatalf("expected newest chunk retained, got %q", got)
	}
}
