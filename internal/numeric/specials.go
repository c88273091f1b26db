package numeric

import "github.com/23skdu/longbow-bitview/internal/bitfield"

// Special is a named encoding worth recognising on sight.
type Special struct {
	Name string
	Bits uint32
}

var specials16 = []Special{
	{"+0", 0x0000},
	{"-0", 0x8000},
	{"1", 0x3C00},
	{"-2", 0xC000},
	{"max normal", 0x7BFF},
	{"min normal", 0x0400},
	{"min subnormal", 0x0001},
	{"+inf", 0x7C00},
	{"-inf", 0xFC00},
	{"quiet nan", 0x7E00},
}

var specials32 = []Special{
	{"+0", 0x00000000},
	{"-0", 0x80000000},
	{"1", 0x3F800000},
	{"-2", 0xC0000000},
	{"max normal", 0x7F7FFFFF},
	{"min normal", 0x00800000},
	{"min subnormal", 0x00000001},
	{"+inf", 0x7F800000},
	{"-inf", 0xFF800000},
	{"quiet nan", 0x7FC00000},
}

// Specials returns the catalogue of notable encodings for w.
func Specials(w bitfield.Width) []Special {
	src := specials32
	if w == bitfield.Width16 {
		src = specials16
	}
	out := make([]Special, len(src))
	copy(out, src)
	return out
}
