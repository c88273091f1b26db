package bitfield

import (
	"fmt"
	"strings"
)

// Field is a contiguous run of bits with a conventional role in a
// floating-point encoding.
type Field struct {
	Name  string
	Glyph byte
	Width int
}

// Layout partitions a bit pattern into fields, most significant first.
type Layout struct {
	Name   string
	Fields []Field
}

var (
	// Half is the binary16 layout: 1 sign, 5 exponent, 10 mantissa bits.
	Half = Layout{
		Name: "binary16",
		Fields: []Field{
			{Name: "sign", Glyph: 's', Width: 1},
			{Name: "exponent", Glyph: 'e', Width: 5},
			{Name: "mantissa", Glyph: 'f', Width: 10},
		},
	}

	// Single is the binary32 layout: 1 sign, 8 exponent, 23 mantissa bits.
	Single = Layout{
		Name: "binary32",
		Fields: []Field{
			{Name: "sign", Glyph: 's', Width: 1},
			{Name: "exponent", Glyph: 'e', Width: 8},
			{Name: "mantissa", Glyph: 'f', Width: 23},
		},
	}
)

// Width returns the total number of bits covered by the layout.
func (l Layout) Width() int {
	n := 0
	for _, f := range l.Fields {
		n += f.Width
	}
	return n
}

// Glyphs returns one glyph per bit, e.g. "seeeeeffffffffff" for Half.
func (l Layout) Glyphs() string {
	var sb strings.Builder
	sb.Grow(l.Width())
	for _, f := range l.Fields {
		for i := 0; i < f.Width; i++ {
			sb.WriteByte(f.Glyph)
		}
	}
	return sb.String()
}

// Decompose splits v into per-field values in layout order.
func (l Layout) Decompose(v uint32) []uint32 {
	out := make([]uint32, len(l.Fields))
	shift := l.Width()
	for i, f := range l.Fields {
		shift -= f.Width
		out[i] = (v >> uint(shift)) & (1<<uint(f.Width) - 1)
	}
	return out
}

// gaps reports, for a count of bits already emitted (MSB first), whether a
// field boundary falls right after it. The final boundary is never a gap.
func (l Layout) gaps() uint64 {
	var mask uint64
	n := 0
	for _, f := range l.Fields[:len(l.Fields)-1] {
		n += f.Width
		mask |= 1 << uint(n)
	}
	return mask
}

// Width selects one of the two supported encodings.
type Width int

const (
	Width16 Width = 16
	Width32 Width = 32
)

// ParseWidth accepts "16", "32", "fp16", "fp32", "half" and "single".
func ParseWidth(s string) (Width, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "16", "fp16", "half", "binary16":
		return Width16, nil
	case "32", "fp32", "single", "binary32":
		return Width32, nil
	}
	return 0, fmt.Errorf("unsupported width %q (want 16 or 32)", s)
}

// Valid reports whether w is one of the supported widths.
func (w Width) Valid() bool {
	return w == Width16 || w == Width32
}

// Layout returns the field layout documented for w.
func (w Width) Layout() Layout {
	if w == Width16 {
		return Half
	}
	return Single
}

// Mask returns the all-ones pattern for w.
func (w Width) Mask() uint32 {
	if w == Width16 {
		return 0xFFFF
	}
	return 0xFFFFFFFF
}

// Header returns the header line printed above values of width w.
func (w Width) Header() string {
	if w == Width16 {
		return Header16
	}
	return Header32
}

// Format returns the data line for v: spaced fields for 16 bits, the
// undecorated high/low halves for 32 bits. Bits above w are ignored.
func (w Width) Format(v uint32, trailing rune) string {
	if w == Width16 {
		return Format16(uint16(v), trailing, true)
	}
	return Format32(v, trailing)
}

// Render returns the header line and the data line for v.
func (w Width) Render(v uint32, trailing rune) string {
	if w == Width16 {
		return Render16(uint16(v), trailing)
	}
	return Render32(v, trailing)
}

func (w Width) String() string {
	return fmt.Sprintf("fp%d", int(w))
}
