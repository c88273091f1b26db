// Package numeric reinterprets float values as the raw bit patterns the
// bitfield formatter displays, and back.
package numeric

import (
	"math"

	"github.com/x448/float16"

	"github.com/23skdu/longbow-bitview/internal/bitfield"
)

// fp16 range limits used by the fletcher device cast.
const (
	maxHalf       = 65504.0
	minNormalHalf = 6.10351562e-5
)

// HalfBits returns the binary16 encoding of f, rounding to nearest even.
// Values beyond the half range become ±Inf.
func HalfBits(f float32) uint16 {
	return float16.Fromfloat32(f).Bits()
}

// HalfValue decodes a binary16 pattern.
func HalfValue(b uint16) float32 {
	return float16.Frombits(b).Float32()
}

// SingleBits returns the binary32 encoding of f.
func SingleBits(f float32) uint32 {
	return math.Float32bits(f)
}

// SingleValue decodes a binary32 pattern.
func SingleValue(b uint32) float32 {
	return math.Float32frombits(b)
}

// SaturatingHalfBits mirrors the fp16 cast done by the fletcher tensor
// backends: NaN becomes 0x7E00, infinities are kept, finite values are
// clamped to ±65504 and anything below the smallest normal flushes to a
// signed zero. The mantissa is truncated, not rounded.
func SaturatingHalfBits(f float32) uint16 {
	switch {
	case math.IsNaN(float64(f)):
		return 0x7E00
	case math.IsInf(float64(f), 1):
		return 0x7C00
	case math.IsInf(float64(f), -1):
		return 0xFC00
	}

	if f > maxHalf {
		f = maxHalf
	} else if f < -maxHalf {
		f = -maxHalf
	}

	bits := math.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	if abs := math.Abs(float64(f)); abs < minNormalHalf {
		return sign
	}

	exp := int(bits>>23&0xFF) - 127 + 15
	frac := uint16(bits>>13) & 0x3FF
	if exp >= 0x1F {
		return sign | 0x7BFF
	}
	if exp <= 0 {
		return sign
	}
	return sign | uint16(exp)<<10 | frac
}

// Encode returns the pattern of f for width w. With saturate set, 16-bit
// values use SaturatingHalfBits instead of IEEE rounding.
func Encode(w bitfield.Width, f float32, saturate bool) uint32 {
	if w == bitfield.Width16 {
		if saturate {
			return uint32(SaturatingHalfBits(f))
		}
		return uint32(HalfBits(f))
	}
	return SingleBits(f)
}

// Value decodes bits as a value of width w.
func Value(w bitfield.Width, bits uint32) float64 {
	if w == bitfield.Width16 {
		return float64(HalfValue(uint16(bits)))
	}
	return float64(SingleValue(bits))
}

// Class is the IEEE-754 category of an encoding.
type Class int

const (
	Zero Class = iota
	Subnormal
	Normal
	Infinite
	NaN
)

var classNames = [...]string{"zero", "subnormal", "normal", "inf", "nan"}

func (c Class) String() string {
	if c < 0 || int(c) >= len(classNames) {
		return "unknown"
	}
	return classNames[c]
}

// Classify reports the category of bits interpreted at width w.
func Classify(w bitfield.Width, bits uint32) Class {
	l := w.Layout()
	parts := l.Decompose(bits & w.Mask())
	exp, man := parts[1], parts[2]
	expMax := uint32(1)<<uint(l.Fields[1].Width) - 1
	switch {
	case exp == 0 && man == 0:
		return Zero
	case exp == 0:
		return Subnormal
	case exp == expMax && man == 0:
		return Infinite
	case exp == expMax:
		return NaN
	}
	return Normal
}
