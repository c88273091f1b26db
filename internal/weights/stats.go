package weights

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/23skdu/longbow-bitview/internal/bitfield"
	"github.com/23skdu/longbow-bitview/internal/numeric"
)

// fp16 normal range; values outside it lose precision or overflow when the
// engine runs in half precision.
const (
	maxFP16       = 65504.0
	minNormalFP16 = 6.103515625e-5
)

// Stats summarises a tensor's values.
type Stats struct {
	Width           string  `json:"width"`
	TotalElements   int     `json:"total_elements"`
	Min             float64 `json:"min"`
	Max             float64 `json:"max"`
	Mean            float64 `json:"mean"`
	StdDev          float64 `json:"std_dev"`
	AbsMax          float64 `json:"abs_max"`
	ZeroCount       int     `json:"zero_count"`
	SubnormalCount  int     `json:"subnormal_count"`
	NaNCount        int     `json:"nan_count"`
	InfCount        int     `json:"inf_count"`
	OutOfRangeCount int     `json:"out_of_range_count"`
	OutOfRangeRatio float64 `json:"out_of_range_ratio"`
}

// Summarize decodes patterns of width w and reports their distribution.
// Min, Max, Mean, StdDev and AbsMax cover finite values only.
func Summarize(w bitfield.Width, patterns []uint32) Stats {
	s := Stats{Width: w.String(), TotalElements: len(patterns)}

	finite := make([]float64, 0, len(patterns))
	for _, p := range patterns {
		switch numeric.Classify(w, p) {
		case numeric.NaN:
			s.NaNCount++
			continue
		case numeric.Infinite:
			s.InfCount++
			continue
		case numeric.Zero:
			s.ZeroCount++
		case numeric.Subnormal:
			s.SubnormalCount++
		}

		v := numeric.Value(w, p)
		if a := math.Abs(v); a > maxFP16 || (a > 0 && a < minNormalFP16) {
			s.OutOfRangeCount++
		}
		finite = append(finite, v)
	}

	if len(finite) > 0 {
		s.Min = floats.Min(finite)
		s.Max = floats.Max(finite)
		s.AbsMax = floats.Norm(finite, math.Inf(1))
		if len(finite) > 1 {
			s.Mean, s.StdDev = stat.MeanStdDev(finite, nil)
		} else {
			s.Mean = finite[0]
		}
	}
	if s.TotalElements > 0 {
		s.OutOfRangeRatio = float64(s.OutOfRangeCount) / float64(s.TotalElements)
	}
	return s
}

// Problematic reports whether the tensor would misbehave in fp16.
func (s Stats) Problematic() bool {
	return s.OutOfRangeRatio > 0.01 || s.NaNCount > 0 || s.InfCount > 0
}
