package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ignite/marketing-analyst/internal/aggregate"
	"github.com/ignite/marketing-analyst/internal/dataset"
)

// Figure is a plotly-compatible chart document.
type Figure struct {
	Data   []map[string]any `json:"data"`
	Layout map[string]any   `json:"layout"`
}

type chart struct {
	title       string
	description string
	build       func(snap *dataset.Snapshot) Figure
}

// File returns the artifact name for a chart title.
func File(title string) string {
	return strings.ReplaceAll(strings.ToLower(title), " ", "_") + ".json"
}

func layout(title, xTitle, yTitle string) map[string]any {
	return map[string]any{
		"title":    map[string]any{"text": title},
		"xaxis":    map[string]any{"title": map[string]any{"text": xTitle}},
		"yaxis":    map[string]any{"title": map[string]any{"text": yTitle}},
		"template": "plotly_white",
	}
}

func segmentLabel(s int64) string { return fmt.Sprintf("Segment %d", s) }

// charts is the fixed catalog, in display order.
var charts = []chart{
	{
		title:       "Customer Segment Analysis",
		description: "Grouped bars comparing each customer segment's average lead score (p1), average member rating and average purchase frequency.",
		build: func(snap *dataset.Snapshot) Figure {
			profiles := aggregate.SegmentProfiles(snap)
			var x []string
			var p1, rating, freq []float64
			for _, p := range profiles {
				x = append(x, segmentLabel(p.Segment))
				p1 = append(p1, p.AvgLeadScore)
				rating = append(rating, p.AvgEngagement)
				freq = append(freq, p.AvgPurchaseFrequency)
			}
			l := layout("Customer Segment Analysis", "Segment", "Average")
			l["barmode"] = "group"
			return Figure{
				Data: []map[string]any{
					{"type": "bar", "name": "Avg lead score", "x": x, "y": p1},
					{"type": "bar", "name": "Avg member rating", "x": x, "y": rating},
					{"type": "bar", "name": "Avg purchase frequency", "x": x, "y": freq},
				},
				Layout: l,
			}
		},
	},
	{
		title:       "Customer Segment Distribution",
		description: "Number of customers in each customer segment and each segment's share of the customer base.",
		build: func(snap *dataset.Snapshot) Figure {
			var labels []string
			var values []int
			for _, p := range aggregate.SegmentProfiles(snap) {
				labels = append(labels, segmentLabel(p.Segment))
				values = append(values, p.CustomerCount)
			}
			return Figure{
				Data:   []map[string]any{{"type": "pie", "labels": labels, "values": values, "hole": 0.4}},
				Layout: map[string]any{"title": map[string]any{"text": "Customer Segment Distribution"}, "template": "plotly_white"},
			}
		},
	},
	{
		title:       "Revenue by Customer Segment",
		description: "Total revenue generated by the customers of each segment, from transactions joined to product prices.",
		build: func(snap *dataset.Snapshot) Figure {
			var x []string
			var y []float64
			var text []string
			for _, r := range aggregate.RevenueBySegment(snap) {
				x = append(x, segmentLabel(r.Segment))
				y = append(y, r.TotalRevenue)
				text = append(text, fmt.Sprintf("%d purchases", r.PurchaseCount))
			}
			return Figure{
				Data:   []map[string]any{{"type": "bar", "x": x, "y": y, "text": text}},
				Layout: layout("Revenue by Customer Segment", "Segment", "Revenue (USD)"),
			}
		},
	},
	{
		title:       "Top Products by Revenue",
		description: "The five products with the highest total revenue and their purchase counts.",
		build: func(snap *dataset.Snapshot) Figure {
			top := aggregate.Summarize(snap).TopProducts
			var x []float64
			var y []string
			for i := len(top) - 1; i >= 0; i-- {
				x = append(x, top[i].TotalRevenue)
				y = append(y, top[i].Description)
			}
			return Figure{
				Data:   []map[string]any{{"type": "bar", "orientation": "h", "x": x, "y": y}},
				Layout: layout("Top Products by Revenue", "Revenue (USD)", "Product"),
			}
		},
	},
	{
		title:       "Top Countries by Revenue",
		description: "The five charge countries with the highest total revenue.",
		build: func(snap *dataset.Snapshot) Figure {
			var x []string
			var y []float64
			for _, c := range aggregate.Summarize(snap).TopCountries {
				x = append(x, c.ChargeCountry)
				y = append(y, c.TotalRevenue)
			}
			return Figure{
				Data:   []map[string]any{{"type": "bar", "x": x, "y": y}},
				Layout: layout("Top Countries by Revenue", "Country", "Revenue (USD)"),
			}
		},
	},
	{
		title:       "Lead Score Distribution",
		description: "Histogram of customer lead scores (p1, likelihood to purchase) in ten equal-width bins.",
		build: func(snap *dataset.Snapshot) Figure {
			var x []string
			var y []int
			for _, b := range aggregate.Histogram(aggregate.LeadScores(snap.LeadsScored), 10) {
				x = append(x, fmt.Sprintf("%.2f-%.2f", b.Lower, b.Upper))
				y = append(y, b.Count)
			}
			return Figure{
				Data:   []map[string]any{{"type": "bar", "x": x, "y": y}},
				Layout: layout("Lead Score Distribution", "Lead score (p1)", "Customers"),
			}
		},
	},
	{
		title:       "Member Rating Distribution",
		description: "Number of customers at each member rating (engagement score from 1 to 5).",
		build: func(snap *dataset.Snapshot) Figure {
			counts := map[float64]int{}
			for _, r := range aggregate.MemberRatings(snap.LeadsScored) {
				counts[r]++
			}
			ratings := make([]float64, 0, len(counts))
			for r := range counts {
				ratings = append(ratings, r)
			}
			sort.Float64s(ratings)
			var y []int
			for _, r := range ratings {
				y = append(y, counts[r])
			}
			return Figure{
				Data:   []map[string]any{{"type": "bar", "x": ratings, "y": y}},
				Layout: layout("Member Rating Distribution", "Member rating", "Customers"),
			}
		},
	},
	{
		title:       "Monthly Transactions Trend",
		description: "Number of transactions per month over time, showing purchase seasonality and growth.",
		build: func(snap *dataset.Snapshot) Figure {
			var x []string
			var y []int
			for _, m := range aggregate.MonthlyTransactions(snap.Transactions) {
				x = append(x, m.Month)
				y = append(y, m.Count)
			}
			return Figure{
				Data:   []map[string]any{{"type": "scatter", "mode": "lines+markers", "x": x, "y": y}},
				Layout: layout("Monthly Transactions Trend", "Month", "Transactions"),
			}
		},
	},
}
