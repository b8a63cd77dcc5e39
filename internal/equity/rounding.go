package equity

import "math"

const (
	// tenths per 100%
	fullTenths = 1000
	epsilon    = 1e-9
)

// RoundShares rounds percentages that sum to 100 down to one decimal and
// hands the missing (or excess) tenths out by largest remainder so the
// rounded values sum to exactly 100.0. Ties go to the earlier entry.
//
// Work happens in integer tenths; the float result is only produced at the
// end so no drift can creep back into the total.
func RoundShares(raw []float64) []float64 {
	n := len(raw)
	if n == 0 {
		return nil
	}
	units := make([]int, n)
	rem := make([]float64, n)
	total := 0
	for i, v := range raw {
		scaled := v * 10
		units[i] = int(math.Floor(scaled + epsilon))
		rem[i] = math.Max(0, scaled-float64(units[i]))
		total += units[i]
	}

	// Each pass moves the total by one tenth, so the loop is bounded by the
	// initial deviation; with inputs summing to 100 that is at most n steps.
	for guard := 0; total != fullTenths && guard < fullTenths+n; guard++ {
		if total < fullTenths {
			i := pickLargest(rem)
			units[i]++
			rem[i] = 0
			total++
		} else {
			i := pickSmallest(rem)
			units[i]--
			rem[i] = 1
			total--
		}
	}

	out := make([]float64, n)
	for i, u := range units {
		out[i] = float64(u) / 10
	}
	return out
}

func pickLargest(rem []float64) int {
	best := 0
	for i := 1; i < len(rem); i++ {
		if rem[i] > rem[best]+epsilon {
			best = i
		}
	}
	return best
}

func pickSmallest(rem []float64) int {
	best := 0
	for i := 1; i < len(rem); i++ {
		if rem[i] < rem[best]-epsilon {
			best = i
		}
	}
	return best
}

// SumTenths adds shares in integer tenths, which is how the 100.0 invariant
// is checked.
func SumTenths(shares []Share) int {
	total := 0
	for _, s := range shares {
		total += int(math.Round(s.Share * 10))
	}
	return total
}
