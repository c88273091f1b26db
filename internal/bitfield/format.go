// Package bitfield renders the raw bit layout of 16-bit and 32-bit
// floating-point encodings as sign/exponent/mantissa strings.
//
// Formatting is pure: every call builds its line in a call-local buffer and
// returns it. Printer is the only place that touches an io.Writer.
package bitfield

import (
	"io"
	"sync"
	"unicode/utf8"
)

// NoTrailing disables the trailing character.
const NoTrailing rune = 0

const (
	// Header16 is printed above a spaced 16-bit line. The text is fixed and
	// does not line up with the spaced groups below it.
	Header16 = "seeeee   ffffffffff"

	// Header32 is printed above a 32-bit line. It documents the 1/8/23
	// layout of Single even though the line itself is two 16-bit halves.
	Header32 = "seeeeeeeefffffffffffffffffffffff"
)

const (
	// 16 bits, 2 gaps, trailing rune.
	line16Cap = 16 + 2 + utf8.UTFMax
	// 32 bits, trailing rune.
	line32Cap = 32 + utf8.UTFMax
)

var halfGaps = Half.gaps()

// appendHalf appends the bits of v MSB first, with a space at each Half field
// boundary when spacing is set.
func appendHalf(dst []byte, v uint16, spacing bool) []byte {
	for i := 15; i >= 0; i-- {
		if v&(1<<uint(i)) != 0 {
			dst = append(dst, '1')
		} else {
			dst = append(dst, '0')
		}
		if spacing && halfGaps&(1<<uint(16-i)) != 0 {
			dst = append(dst, ' ')
		}
	}
	return dst
}

func appendTrailing(dst []byte, trailing rune) []byte {
	if trailing == NoTrailing {
		return dst
	}
	return utf8.AppendRune(dst, trailing)
}

// Format16 renders v as 16 '0'/'1' characters, MSB first. With spacing the
// groups read "s eeeee ffffffffff". A trailing rune other than NoTrailing is
// appended directly after the last bit.
func Format16(v uint16, trailing rune, spacing bool) string {
	var buf [line16Cap]byte
	b := appendHalf(buf[:0], v, spacing)
	b = appendTrailing(b, trailing)
	return string(b)
}

// Format32 renders v as its high half followed by its low half, each
// formatted like Format16 without spacing. The trailing rune follows the low
// half.
func Format32(v uint32, trailing rune) string {
	var buf [line32Cap]byte
	b := appendHalf(buf[:0], uint16(v>>16&0xFFFF), false)
	b = appendHalf(b, uint16(v&0xFFFF), false)
	b = appendTrailing(b, trailing)
	return string(b)
}

// Render16 returns Header16, a newline, and the spaced line for v.
func Render16(v uint16, trailing rune) string {
	return Header16 + "\n" + Format16(v, trailing, true)
}

// Render32 returns Header32, a newline, and the line for v.
func Render32(v uint32, trailing rune) string {
	return Header32 + "\n" + Format32(v, trailing)
}

// Printer writes rendered values to a sink. Each call issues a single Write
// so output from concurrent callers never interleaves within a value.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewPrinter returns a Printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Print16 writes Render16(v, trailing).
func (p *Printer) Print16(v uint16, trailing rune) error {
	return p.write(Render16(v, trailing))
}

// Print32 writes Render32(v, trailing).
func (p *Printer) Print32(v uint32, trailing rune) error {
	return p.write(Render32(v, trailing))
}

// Print writes the rendering of v for width w.
func (p *Printer) Print(w Width, v uint32, trailing rune) error {
	return p.write(w.Render(v, trailing))
}

// PrintLine writes only the data line for v, without a header.
func (p *Printer) PrintLine(w Width, v uint32, trailing rune) error {
	return p.write(w.Format(v, trailing))
}

func (p *Printer) write(s string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := io.WriteString(p.w, s)
	return err
}
