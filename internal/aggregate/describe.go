package aggregate

import (
	"fmt"
	"math"
	"sort"

	"github.com/ignite/marketing-analyst/internal/dataset"
)

const sampleSize = 3

// ColumnInfo profiles a single column.
type ColumnInfo struct {
	Name           string  `json:"name"`
	Dtype          string  `json:"dtype"`
	NonNullCount   int     `json:"non_null_count"`
	NullCount      int     `json:"null_count"`
	NullPercentage float64 `json:"null_percentage"`
	UniqueCount    int     `json:"unique_count"`
	SampleValues   []any   `json:"sample_values"`
}

// NumericSummary is the describe() row set for a numeric column.
type NumericSummary struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Min   float64 `json:"min"`
	P25   float64 `json:"25%"`
	P50   float64 `json:"50%"`
	P75   float64 `json:"75%"`
	Max   float64 `json:"max"`
}

// TableInfo profiles a table for the data overview.
type TableInfo struct {
	Name        string                    `json:"name"`
	RowCount    int                       `json:"row_count"`
	ColumnCount int                       `json:"column_count"`
	Columns     []ColumnInfo              `json:"columns"`
	Describe    map[string]NumericSummary `json:"describe,omitempty"`
}

// Column is one column of a table in column-major form. Nil entries are
// missing values.
type Column struct {
	Name    string
	Numeric bool
	Integer bool
	Values  []any
}

// Table is a named set of equally long columns.
type Table struct {
	Name    string
	Columns []Column
	Rows    int
}

func ptrVal[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func strVal(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Tables lays out the snapshot column by column. The optional leads table is
// included only when it was loaded.
func Tables(snap *dataset.Snapshot) []Table {
	ls := Table{Name: "leads_scored", Rows: len(snap.LeadsScored), Columns: []Column{
		{Name: "user_email"},
		{Name: "p1", Numeric: true},
		{Name: "member_rating", Numeric: true},
		{Name: "purchase_frequency", Numeric: true},
		{Name: "customer_segment", Numeric: true, Integer: true},
	}}
	for _, l := range snap.LeadsScored {
		ls.Columns[0].Values = append(ls.Columns[0].Values, strVal(l.UserEmail))
		ls.Columns[1].Values = append(ls.Columns[1].Values, ptrVal(l.P1))
		ls.Columns[2].Values = append(ls.Columns[2].Values, ptrVal(l.MemberRating))
		ls.Columns[3].Values = append(ls.Columns[3].Values, ptrVal(l.PurchaseFrequency))
		ls.Columns[4].Values = append(ls.Columns[4].Values, ptrVal(l.CustomerSegment))
	}

	tx := Table{Name: "transactions", Rows: len(snap.Transactions), Columns: []Column{
		{Name: "transaction_id"},
		{Name: "purchased_at"},
		{Name: "user_full_name"},
		{Name: "user_email"},
		{Name: "charge_country"},
		{Name: "product_id"},
	}}
	for _, t := range snap.Transactions {
		for i, v := range []string{t.TransactionID, t.PurchasedAt, t.UserFullName, t.UserEmail, t.ChargeCountry, t.ProductID} {
			tx.Columns[i].Values = append(tx.Columns[i].Values, strVal(v))
		}
	}

	pr := Table{Name: "products", Rows: len(snap.Products), Columns: []Column{
		{Name: "product_id"},
		{Name: "description"},
		{Name: "suggested_price", Numeric: true},
	}}
	for _, p := range snap.Products {
		pr.Columns[0].Values = append(pr.Columns[0].Values, strVal(p.ProductID))
		pr.Columns[1].Values = append(pr.Columns[1].Values, strVal(p.Description))
		pr.Columns[2].Values = append(pr.Columns[2].Values, ptrVal(p.SuggestedPrice))
	}

	out := []Table{ls, tx, pr}
	if snap.Leads != nil {
		out = append(out, recordTable("leads", snap.Leads))
	}
	return out
}

func recordTable(name string, recs []dataset.Record) Table {
	seen := make(map[string]bool)
	var names []string
	for _, r := range recs {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	sort.Strings(names)

	t := Table{Name: name, Rows: len(recs)}
	for _, n := range names {
		c := Column{Name: n, Numeric: true, Integer: true}
		nonNull := 0
		for _, r := range recs {
			v := r[n]
			c.Values = append(c.Values, v)
			if v == nil {
				continue
			}
			nonNull++
			switch v.(type) {
			case int64, int:
			case float64:
				c.Integer = false
			default:
				c.Numeric, c.Integer = false, false
			}
		}
		if nonNull == 0 {
			c.Numeric, c.Integer = false, false
		}
		t.Columns = append(t.Columns, c)
	}
	return t
}

// Overview profiles every table in the snapshot.
func Overview(snap *dataset.Snapshot) []TableInfo {
	tables := Tables(snap)
	out := make([]TableInfo, 0, len(tables))
	for _, t := range tables {
		out = append(out, Describe(t))
	}
	return out
}

// Describe profiles one table: null counts, cardinality, samples and
// numeric summaries.
func Describe(t Table) TableInfo {
	info := TableInfo{Name: t.Name, RowCount: t.Rows, ColumnCount: len(t.Columns)}
	for _, c := range t.Columns {
		ci := ColumnInfo{Name: c.Name, Dtype: dtype(c), SampleValues: []any{}}
		unique := make(map[string]struct{})
		var nums []float64
		for _, v := range c.Values {
			if v == nil {
				ci.NullCount++
				continue
			}
			ci.NonNullCount++
			unique[fmt.Sprint(v)] = struct{}{}
			if len(ci.SampleValues) < sampleSize {
				ci.SampleValues = append(ci.SampleValues, v)
			}
			if c.Numeric {
				if f, ok := toFloat(v); ok {
					nums = append(nums, f)
				}
			}
		}
		ci.UniqueCount = len(unique)
		ci.NullPercentage = round2(ratio(float64(ci.NullCount), float64(t.Rows)) * 100)
		info.Columns = append(info.Columns, ci)

		if c.Numeric && len(nums) > 0 {
			if info.Describe == nil {
				info.Describe = make(map[string]NumericSummary)
			}
			info.Describe[c.Name] = Summary(nums)
		}
	}
	return info
}

func dtype(c Column) string {
	switch {
	case c.Integer:
		return "int64"
	case c.Numeric:
		return "float64"
	default:
		return "object"
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

// Summary computes count, mean, sample std, min, quartiles and max. A
// single value has std 0.
func Summary(values []float64) NumericSummary {
	if len(values) == 0 {
		return NumericSummary{}
	}
	v := append([]float64(nil), values...)
	sort.Float64s(v)

	var sum float64
	for _, x := range v {
		sum += x
	}
	mean := sum / float64(len(v))

	var std float64
	if len(v) > 1 {
		var ss float64
		for _, x := range v {
			ss += (x - mean) * (x - mean)
		}
		std = math.Sqrt(ss / float64(len(v)-1))
	}

	return NumericSummary{
		Count: len(v),
		Mean:  mean,
		Std:   std,
		Min:   v[0],
		P25:   Percentile(v, 0.25),
		P50:   Percentile(v, 0.50),
		P75:   Percentile(v, 0.75),
		Max:   v[len(v)-1],
	}
}

// Percentile uses linear interpolation between closest ranks. sorted must
// be in ascending order.
func Percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}
