package aggregate

import (
	"sort"

	"github.com/ignite/marketing-analyst/internal/dataset"
)

const topN = 5

// ProductRevenue is revenue for one product in the top-products list.
type ProductRevenue struct {
	ProductID     string  `json:"product_id"`
	Description   string  `json:"description"`
	TotalRevenue  float64 `json:"total_revenue"`
	PurchaseCount int     `json:"purchase_count"`
}

// CountryRevenue is revenue for one charge country.
type CountryRevenue struct {
	ChargeCountry string  `json:"charge_country"`
	TotalRevenue  float64 `json:"total_revenue"`
	PurchaseCount int     `json:"purchase_count"`
}

// BusinessSummary holds the headline business metrics.
type BusinessSummary struct {
	TotalCustomers      int              `json:"total_customers"`
	TotalTransactions   int              `json:"total_transactions"`
	TotalRevenue        float64          `json:"total_revenue"`
	ConversionRate      float64          `json:"conversion_rate"`
	AvgCustomerValue    float64          `json:"avg_customer_value"`
	AvgTransactionValue float64          `json:"avg_transaction_value"`
	MinTransaction      float64          `json:"min_transaction"`
	MaxTransaction      float64          `json:"max_transaction"`
	ActiveCustomers     int              `json:"active_customers"`
	DormantCustomers    int              `json:"dormant_customers"`
	TopProducts         []ProductRevenue `json:"top_products"`
	TopCountries        []CountryRevenue `json:"top_countries"`
}

type productInfo struct {
	description string
	price       float64
}

// priceIndex keeps only products with a known price.
func priceIndex(products []dataset.Product) map[string]productInfo {
	out := make(map[string]productInfo, len(products))
	for _, p := range products {
		if p.SuggestedPrice == nil {
			continue
		}
		if _, dup := out[p.ProductID]; dup {
			continue
		}
		out[p.ProductID] = productInfo{description: p.Description, price: *p.SuggestedPrice}
	}
	return out
}

func distinctEmails[T any](rows []T, email func(T) string) int {
	seen := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		if e := email(r); e != "" {
			seen[e] = struct{}{}
		}
	}
	return len(seen)
}

// Summarize computes the business summary. Transactions whose product has
// no known price contribute to counts but not to revenue. Zero divisors
// yield 0.
func Summarize(snap *dataset.Snapshot) BusinessSummary {
	prices := priceIndex(snap.Products)
	descriptions := make(map[string]string, len(snap.Products))
	for _, p := range snap.Products {
		if _, ok := descriptions[p.ProductID]; !ok {
			descriptions[p.ProductID] = p.Description
		}
	}

	s := BusinessSummary{
		TotalCustomers:    distinctEmails(snap.LeadsScored, func(l dataset.LeadScored) string { return l.UserEmail }),
		TotalTransactions: len(snap.Transactions),
		ActiveCustomers:   distinctEmails(snap.Transactions, func(t dataset.Transaction) string { return t.UserEmail }),
	}

	var (
		revenue  float64
		resolved int
		byProd   = make(map[string]*ProductRevenue)
		byCtry   = make(map[string]*CountryRevenue)
	)
	for _, t := range snap.Transactions {
		p, priced := prices[t.ProductID]
		if priced {
			revenue += p.price
			if resolved == 0 || p.price < s.MinTransaction {
				s.MinTransaction = p.price
			}
			if resolved == 0 || p.price > s.MaxTransaction {
				s.MaxTransaction = p.price
			}
			resolved++
		}

		// Transactions for products missing from the catalog have no
		// description to group by and are left out of the product ranking.
		if desc, known := descriptions[t.ProductID]; known {
			pr, ok := byProd[t.ProductID]
			if !ok {
				pr = &ProductRevenue{ProductID: t.ProductID, Description: desc}
				byProd[t.ProductID] = pr
			}
			if priced {
				pr.TotalRevenue += p.price
				pr.PurchaseCount++
			}
		}

		if t.ChargeCountry != "" {
			cr, ok := byCtry[t.ChargeCountry]
			if !ok {
				cr = &CountryRevenue{ChargeCountry: t.ChargeCountry}
				byCtry[t.ChargeCountry] = cr
			}
			if priced {
				cr.TotalRevenue += p.price
				cr.PurchaseCount++
			}
		}
	}

	s.TotalRevenue = round2(revenue)
	s.ConversionRate = round2(ratio(float64(s.ActiveCustomers), float64(s.TotalCustomers)) * 100)
	s.AvgCustomerValue = round2(ratio(revenue, float64(s.TotalCustomers)))
	s.AvgTransactionValue = round2(ratio(revenue, float64(s.TotalTransactions)))
	s.DormantCustomers = s.TotalCustomers - s.ActiveCustomers
	if s.DormantCustomers < 0 {
		s.DormantCustomers = 0
	}

	s.TopProducts = topProducts(byProd)
	s.TopCountries = topCountries(byCtry)
	return s
}

// topProducts ranks by revenue; ties keep key order.
func topProducts(m map[string]*ProductRevenue) []ProductRevenue {
	out := make([]ProductRevenue, 0, len(m))
	for _, k := range sortedKeys(m) {
		out = append(out, *m[k])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalRevenue > out[j].TotalRevenue })
	if len(out) > topN {
		out = out[:topN]
	}
	for i := range out {
		out[i].TotalRevenue = round2(out[i].TotalRevenue)
	}
	return out
}

func topCountries(m map[string]*CountryRevenue) []CountryRevenue {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]CountryRevenue, 0, len(m))
	for _, k := range keys {
		out = append(out, *m[k])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalRevenue > out[j].TotalRevenue })
	if len(out) > topN {
		out = out[:topN]
	}
	for i := range out {
		out[i].TotalRevenue = round2(out[i].TotalRevenue)
	}
	return out
}
