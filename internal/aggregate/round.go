// Package aggregate computes the derived facts handed to the reasoning
// service. Everything here is a pure function of a dataset.Snapshot so the
// numbers can be checked against hand-computed values.
package aggregate

import (
	"math"
	"sort"
	"strconv"
)

// Round rounds half to even at the given number of decimals, matching the
// rounding used when these reports were first produced.
func Round(v float64, places int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	p := math.Pow(10, float64(places))
	return math.RoundToEven(v*p) / p
}

func round2(v float64) float64 { return Round(v, 2) }

// ratio returns a/b, or 0 when b is 0.
func ratio(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// lessID orders identifiers numerically when both parse as numbers and
// lexically otherwise, so product 9 sorts before product 34.
func lessID(a, b string) bool {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		if fa != fb {
			return fa < fb
		}
	}
	return a < b
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return lessID(keys[i], keys[j]) })
	return keys
}
