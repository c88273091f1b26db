package numeric

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/23skdu/longbow-bitview/internal/bitfield"
)

var (
	// ErrSyntax is returned for tokens that are neither a bit pattern nor a
	// float literal.
	ErrSyntax = errors.New("invalid value")
	// ErrRange is returned when a token does not fit the requested width.
	ErrRange = errors.New("value out of range")
)

// normalize folds compatibility forms (fullwidth digits, superscripts),
// drops combining marks and maps the unicode minus sign to '-'.
func normalize(tok string) string {
	tform := transform.Chain(
		norm.NFKD,
		runes.Remove(runes.In(unicode.Mn)),
		runes.Map(func(r rune) rune {
			if r == '−' {
				return '-'
			}
			return r
		}),
		norm.NFKC,
	)
	out, _, err := transform.String(tform, tok)
	if err != nil {
		return tok
	}
	return strings.TrimSpace(out)
}

func isPattern(tok string) bool {
	if len(tok) < 3 || tok[0] != '0' {
		return false
	}
	switch tok[1] {
	case 'x', 'X':
		// 0x1p-2 is a hex float, not a pattern
		return !strings.ContainsAny(tok, "pP")
	case 'b', 'B', 'o', 'O':
		return true
	}
	return false
}

// ParseToken turns a command-line or request token into a bit pattern of
// width w.
//
// Tokens prefixed with 0x, 0b or 0o are taken as raw patterns and must fit
// the width. Everything else is parsed as a float literal (inf and nan
// included) and encoded. A finite literal that overflows the width is
// ErrRange unless saturate is set, in which case 16-bit values are clamped
// the way the device cast does.
func ParseToken(tok string, w bitfield.Width, saturate bool) (uint32, error) {
	if !w.Valid() {
		return 0, fmt.Errorf("width %d: %w", int(w), ErrRange)
	}
	tok = normalize(tok)
	if tok == "" {
		return 0, fmt.Errorf("empty token: %w", ErrSyntax)
	}

	if isPattern(tok) {
		v, err := strconv.ParseUint(tok, 0, 64)
		if err != nil {
			if errors.Is(err, strconv.ErrRange) {
				return 0, fmt.Errorf("%q: %w", tok, ErrRange)
			}
			return 0, fmt.Errorf("%q: %w", tok, ErrSyntax)
		}
		if v > uint64(w.Mask()) {
			return 0, fmt.Errorf("%q does not fit in %d bits: %w", tok, int(w), ErrRange)
		}
		return uint32(v), nil
	}

	f, err := strconv.ParseFloat(tok, 32)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, fmt.Errorf("%q overflows float32: %w", tok, ErrRange)
		}
		return 0, fmt.Errorf("%q: %w", tok, ErrSyntax)
	}

	bits := Encode(w, float32(f), saturate)
	if !math.IsInf(f, 0) && Classify(w, bits) == Infinite {
		return 0, fmt.Errorf("%q overflows %s: %w", tok, w, ErrRange)
	}
	return bits, nil
}

// ParseTokens parses every token, stopping at the first error.
func ParseTokens(toks []string, w bitfield.Width, saturate bool) ([]uint32, error) {
	out := make([]uint32, 0, len(toks))
	for _, tok := range toks {
		v, err := ParseToken(tok, w, saturate)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
