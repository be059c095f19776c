// Package stream accumulates decoded shell output for one in-flight command.
package stream

import (
	"strings"
	"unicode/utf8"
)

// replacementChar substitutes undecodable bytes, matching the lossy decode
// applied to raw channel reads.
const replacementChar = '�'

// Buffer collects command output. It decodes incoming bytes before anything
// else touches them, so a UTF-8 sequence split across two reads is never
// mangled by trimming, and exposes a line-capped working view for detection.
type Buffer struct {
	text    strings.Builder
	partial []byte // undecoded tail carried to the next Append
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// Append decodes a raw chunk into the buffer and returns the decoded text
// that was added. A trailing incomplete rune is held back until more bytes
// arrive.
func (b *Buffer) Append(chunk []byte) string {
	if len(chunk) == 0 {
		return ""
	}

	data := chunk
	if len(b.partial) > 0 {
		data = append(b.partial, chunk...)
		b.partial = nil
	}

	// Hold back an incomplete rune at the end of the read so the next
	// Append can complete it.
	if p := incompleteTail(data); p < len(data) {
		b.partial = append([]byte(nil), data[p:]...)
		data = data[:p]
	}

	decoded := decode(data)
	b.text.WriteString(decoded)
	return decoded
}

// incompleteTail returns the index where a trailing incomplete multi-byte
// sequence begins, or len(data) if the data ends on a rune boundary. Only a
// genuinely unfinished sequence is reported; invalid bytes are left in place
// for decode to replace.
func incompleteTail(data []byte) int {
	n := len(data)
	// A multi-byte sequence start can be at most UTFMax-1 bytes back.
	for back := 1; back <= utf8.UTFMax-1 && back <= n; back++ {
		c := data[n-back]
		if c < 0x80 {
			return n // ASCII tail, nothing pending
		}
		if !utf8.RuneStart(c) {
			continue // continuation byte, keep scanning back
		}
		// Found the leading byte; how long should the sequence be?
		var want int
		switch {
		case c&0xE0 == 0xC0:
			want = 2
		case c&0xF0 == 0xE0:
			want = 3
		case c&0xF8 == 0xF0:
			want = 4
		default:
			return n // invalid leading byte, decode as-is
		}
		if back < want {
			return n - back // sequence is still arriving
		}
		return n // complete (or invalid) sequence, decode as-is
	}
	return n
}

// decode converts bytes to a string, replacing invalid sequences.
func decode(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	var sb strings.Builder
	sb.Grow(len(data))
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			sb.WriteRune(replacementChar)
		} else {
			sb.WriteRune(r)
		}
		data = data[size:]
	}
	return sb.String()
}

// String returns the accumulated decoded output.
func (b *Buffer) String() string {
	return b.text.String()
}

// Len returns the accumulated length in bytes.
func (b *Buffer) Len() int {
	return b.text.Len()
}

// Lines returns the number of lines currently held.
func (b *Buffer) Lines() int {
	s := b.text.String()
	if s == "" {
		return 0
	}
	return len(splitLines(s))
}

// TrimToMax drops the oldest lines so that at most maxLines remain. Whole
// lines only; maxLines <= 0 is a no-op.
func (b *Buffer) TrimToMax(maxLines int) {
	if maxLines <= 0 {
		return
	}
	s := b.text.String()
	lines := splitLines(s)
	if len(lines) <= maxLines {
		return
	}
	trimmed := strings.Join(lines[len(lines)-maxLines:], "\n")
	b.text.Reset()
	b.text.WriteString(trimmed)
}

// Tail returns the last n lines of the buffer; n <= 0 returns everything.
func Tail(s string, n int) string {
	if n <= 0 || s == "" {
		return s
	}
	lines := splitLines(s)
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

// Tail returns the last n lines of the accumulated output.
func (b *Buffer) Tail(n int) string {
	return Tail(b.text.String(), n)
}

// LastLine returns the final line of s, or "" for an empty string.
func LastLine(s string) string {
	if s == "" {
		return ""
	}
	lines := splitLines(s)
	return lines[len(lines)-1]
}

// LastLines returns up to the final n lines of s joined by newlines.
func LastLines(s string, n int) string {
	return Tail(s, n)
}

// splitLines splits on \n after normalizing \r\n, mirroring how terminal
// output is logged and returned.
func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(s, "\n")
}
