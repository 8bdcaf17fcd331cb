package aggregate

import (
	"math"
	"sort"

	"github.com/ignite/marketing-analyst/internal/dataset"
)

// MonthCount is the number of transactions in a calendar month (YYYY-MM).
type MonthCount struct {
	Month string `json:"month"`
	Count int    `json:"count"`
}

// MonthlyTransactions buckets transactions by the YYYY-MM prefix of
// purchased_at. Unparseable dates are skipped.
func MonthlyTransactions(txns []dataset.Transaction) []MonthCount {
	counts := make(map[string]int)
	for _, t := range txns {
		if len(t.PurchasedAt) < 7 || t.PurchasedAt[4] != '-' {
			continue
		}
		counts[t.PurchasedAt[:7]]++
	}
	months := make([]string, 0, len(counts))
	for m := range counts {
		months = append(months, m)
	}
	sort.Strings(months)
	out := make([]MonthCount, 0, len(months))
	for _, m := range months {
		out = append(out, MonthCount{Month: m, Count: counts[m]})
	}
	return out
}

// Bin is one histogram bucket covering [Lower, Upper).
type Bin struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int     `json:"count"`
}

// Histogram splits values into n equal-width bins between min and max. The
// maximum value lands in the last bin.
func Histogram(values []float64, n int) []Bin {
	if len(values) == 0 || n <= 0 {
		return nil
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo == hi {
		return []Bin{{Lower: lo, Upper: hi, Count: len(values)}}
	}
	width := (hi - lo) / float64(n)
	bins := make([]Bin, n)
	for i := range bins {
		bins[i].Lower = lo + float64(i)*width
		bins[i].Upper = lo + float64(i+1)*width
	}
	for _, v := range values {
		i := int((v - lo) / width)
		if i >= n {
			i = n - 1
		}
		bins[i].Count++
	}
	return bins
}

// LeadScores returns the non-null p1 values.
func LeadScores(leads []dataset.LeadScored) []float64 {
	var out []float64
	for _, l := range leads {
		if l.P1 != nil {
			out = append(out, *l.P1)
		}
	}
	return out
}

// MemberRatings returns the non-null member_rating values.
func MemberRatings(leads []dataset.LeadScored) []float64 {
	var out []float64
	for _, l := range leads {
		if l.MemberRating != nil {
			out = append(out, *l.MemberRating)
		}
	}
	return out
}
