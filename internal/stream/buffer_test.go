package stream

import (
	"strings"
	"testing"
)

func TestAppendAndString(t *testing.T) {
	b := New()
	b.Append([]byte("hello "))
	b.Append([]byte("world"))
	if got := b.String(); got != "hello world" {
		t.Errorf("String() = %q, want %q", got, "hello world")
	}
}

func TestAppendReturnsDecodedChunk(t *testing.T) {
	b := New()
	got := b.Append([]byte("line\r\n"))
	if got != "line\r\n" {
		t.Errorf("Append returned %q", got)
	}
}

func TestAppendSplitMultiByteRune(t *testing.T) {
	b := New()
	raw := []byte("读取软件包") // chinese apt output, 3 bytes per rune
	// Split in the middle of a rune.
	b.Append(raw[:4])
	b.Append(raw[4:])
	if got := b.String(); got != string(raw) {
		t.Errorf("split rune decoded to %q, want %q", got, string(raw))
	}
}

func TestAppendInvalidBytesReplaced(t *testing.T) {
	b := New()
	b.Append([]byte{'o', 'k', 0xff, 0xfe, '!'})
	got := b.String()
	if !strings.HasPrefix(got, "ok") || !strings.HasSuffix(got, "!") {
		t.Fatalf("unexpected decode: %q", got)
	}
	if !strings.Contains(got, string(replacementChar)) {
		t.Errorf("invalid bytes should decode to replacement char, got %q", got)
	}
}

func TestTrimToMaxNeverExceedsNAndKeepsWholeLines(t *testing.T) {
	b := New()
	var lines []string
	for i := 0; i < 50; i++ {
		lines = append(lines, strings.Repeat("x", i%7+1))
	}
	b.Append([]byte(strings.Join(lines, "\n")))

	b.TrimToMax(10)
	got := strings.Split(b.String(), "\n")
	if len(got) > 10 {
		t.Fatalf("TrimToMax(10) left %d lines", len(got))
	}
	for i, line := range got {
		if line != lines[len(lines)-10+i] {
			t.Errorf("line %d = %q, want %q (line split or reordered)", i, line, lines[len(lines)-10+i])
		}
	}
}

func TestTrimToMaxNoopWhenUnderCap(t *testing.T) {
	b := New()
	b.Append([]byte("a\nb\nc"))
	b.TrimToMax(10)
	if b.String() != "a\nb\nc" {
		t.Errorf("TrimToMax under cap altered buffer: %q", b.String())
	}
	b.TrimToMax(0)
	if b.String() != "a\nb\nc" {
		t.Errorf("TrimToMax(0) must be a no-op, got %q", b.String())
	}
}

func TestTail(t *testing.T) {
	b := New()
	b.Append([]byte("1\n2\n3\n4\n5"))

	if got := b.Tail(2); got != "4\n5" {
		t.Errorf("Tail(2) = %q", got)
	}
	if got := b.Tail(0); got != "1\n2\n3\n4\n5" {
		t.Errorf("Tail(0) must return everything, got %q", got)
	}
	if got := b.Tail(100); got != "1\n2\n3\n4\n5" {
		t.Errorf("Tail(100) = %q", got)
	}
}

func TestTailNormalizesCRLFCounting(t *testing.T) {
	if got := Tail("a\r\nb\r\nc", 2); got != "b\nc" {
		t.Errorf("Tail over CRLF = %q", got)
	}
}

func TestLastLine(t *testing.T) {
	if got := LastLine("foo\r\nuser@host:~$ "); got != "user@host:~$ " {
		t.Errorf("LastLine = %q", got)
	}
	if got := LastLine(""); got != "" {
		t.Errorf("LastLine(\"\") = %q", got)
	}
}

func TestIncompleteTail(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want int
	}{
		{"ascii", []byte("abc"), 3},
		{"complete 3-byte rune", []byte("读"), 3},
		{"partial 3-byte rune (1 of 3)", []byte{0xE8}, 0},
		{"partial 3-byte rune (2 of 3)", []byte{0xE8, 0xAF}, 0},
		{"ascii then partial", append([]byte("ab"), 0xE8), 2},
		{"bare continuation bytes", []byte{0xAF, 0xBB}, 2},
	}
	for _, tt := range tests {
		if got := incompleteTail(tt.data); got != tt.want {
			t.Errorf("%s: incompleteTail = %d, want %d", tt.name, got, tt.want)
		}
	}
}
