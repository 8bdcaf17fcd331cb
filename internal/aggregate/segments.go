package aggregate

import (
	"sort"

	"github.com/ignite/marketing-analyst/internal/dataset"
)

// SegmentProfile summarizes one customer segment.
type SegmentProfile struct {
	Segment              int64   `json:"customer_segment"`
	CustomerCount        int     `json:"customer_count"`
	AvgLeadScore         float64 `json:"avg_p1"`
	AvgEngagement        float64 `json:"avg_member_rating"`
	AvgPurchaseFrequency float64 `json:"avg_purchase_frequency"`
}

// PurchaseFrequency counts transactions per customer email. Transactions
// without an email are not attributed to anyone.
func PurchaseFrequency(txns []dataset.Transaction) map[string]int {
	out := make(map[string]int)
	for _, t := range txns {
		if t.UserEmail == "" {
			continue
		}
		out[t.UserEmail]++
	}
	return out
}

type meanAcc struct {
	sum float64
	n   int
}

func (m *meanAcc) add(v *float64) {
	if v == nil {
		return
	}
	m.sum += *v
	m.n++
}

func (m meanAcc) mean() float64 { return ratio(m.sum, float64(m.n)) }

// SegmentProfiles left-joins purchase frequency onto leads_scored (customers
// who never purchased get 0) and averages each segment. Customers without a
// segment label are left out. Results are ordered by segment.
func SegmentProfiles(snap *dataset.Snapshot) []SegmentProfile {
	freq := PurchaseFrequency(snap.Transactions)

	type acc struct {
		count              int
		p1, rating, orders meanAcc
	}
	groups := make(map[int64]*acc)
	for _, l := range snap.LeadsScored {
		if l.CustomerSegment == nil {
			continue
		}
		g, ok := groups[*l.CustomerSegment]
		if !ok {
			g = &acc{}
			groups[*l.CustomerSegment] = g
		}
		if l.UserEmail != "" {
			g.count++
		}
		g.p1.add(l.P1)
		g.rating.add(l.MemberRating)
		f := float64(freq[l.UserEmail])
		g.orders.add(&f)
	}

	out := make([]SegmentProfile, 0, len(groups))
	for seg, g := range groups {
		out = append(out, SegmentProfile{
			Segment:              seg,
			CustomerCount:        g.count,
			AvgLeadScore:         Round(g.p1.mean(), 3),
			AvgEngagement:        round2(g.rating.mean()),
			AvgPurchaseFrequency: round2(g.orders.mean()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Segment < out[j].Segment })
	return out
}

// SegmentRevenue is revenue attributed to one segment.
type SegmentRevenue struct {
	Segment       int64   `json:"customer_segment"`
	TotalRevenue  float64 `json:"total_revenue"`
	PurchaseCount int     `json:"purchase_count"`
}

// RevenueBySegment joins transactions to product prices and to the buyer's
// segment. Transactions with an unknown price or an unsegmented buyer are
// skipped.
func RevenueBySegment(snap *dataset.Snapshot) []SegmentRevenue {
	prices := priceIndex(snap.Products)
	segOf := make(map[string]int64, len(snap.LeadsScored))
	for _, l := range snap.LeadsScored {
		if l.CustomerSegment != nil {
			segOf[l.UserEmail] = *l.CustomerSegment
		}
	}

	totals := make(map[int64]*SegmentRevenue)
	for _, t := range snap.Transactions {
		p, ok := prices[t.ProductID]
		if !ok {
			continue
		}
		seg, ok := segOf[t.UserEmail]
		if !ok {
			continue
		}
		r, ok := totals[seg]
		if !ok {
			r = &SegmentRevenue{Segment: seg}
			totals[seg] = r
		}
		r.TotalRevenue += p.price
		r.PurchaseCount++
	}

	out := make([]SegmentRevenue, 0, len(totals))
	for _, r := range totals {
		r.TotalRevenue = round2(r.TotalRevenue)
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Segment < out[j].Segment })
	return out
}

// NonPurchasers returns the customers of a segment who never bought
// productID. It is the reference answer for product-exclusion targeting.
func NonPurchasers(snap *dataset.Snapshot, productID string, segment int64) []dataset.LeadScored {
	bought := make(map[string]bool)
	for _, t := range snap.Transactions {
		if t.ProductID == productID {
			bought[t.UserEmail] = true
		}
	}
	var out []dataset.LeadScored
	for _, l := range snap.LeadsScored {
		if l.CustomerSegment == nil || *l.CustomerSegment != segment {
			continue
		}
		if !bought[l.UserEmail] {
			out = append(out, l)
		}
	}
	return out
}
