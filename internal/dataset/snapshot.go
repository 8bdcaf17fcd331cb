package dataset

import "time"

// LeadScored is one row of leads_scored. Numeric columns are nullable in the
// source data, so they are pointers.
type LeadScored struct {
	UserEmail         string   `json:"user_email"`
	P1                *float64 `json:"p1"`
	MemberRating      *float64 `json:"member_rating"`
	PurchaseFrequency *float64 `json:"purchase_frequency"`
	CustomerSegment   *int64   `json:"customer_segment"`
}

// Transaction is one row of transactions.
type Transaction struct {
	TransactionID string `json:"transaction_id"`
	PurchasedAt   string `json:"purchased_at"`
	UserFullName  string `json:"user_full_name"`
	UserEmail     string `json:"user_email"`
	ChargeCountry string `json:"charge_country"`
	ProductID     string `json:"product_id"`
}

// Product is one row of products.
type Product struct {
	ProductID      string   `json:"product_id"`
	Description    string   `json:"description"`
	SuggestedPrice *float64 `json:"suggested_price"`
}

// Record is a schemaless row, used for the optional raw leads table.
type Record map[string]any

// Snapshot is an immutable-per-version copy of the backing tables.
type Snapshot struct {
	Version      int64         `json:"version"`
	LoadedAt     time.Time     `json:"loaded_at"`
	LeadsScored  []LeadScored  `json:"leads_scored"`
	Transactions []Transaction `json:"transactions"`
	Products     []Product     `json:"products"`
	Leads        []Record      `json:"leads,omitempty"`
}

// Clone returns a deep copy; callers may mutate it freely.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{
		Version:      s.Version,
		LoadedAt:     s.LoadedAt,
		LeadsScored:  make([]LeadScored, len(s.LeadsScored)),
		Transactions: append([]Transaction(nil), s.Transactions...),
		Products:     make([]Product, len(s.Products)),
	}
	for i, l := range s.LeadsScored {
		out.LeadsScored[i] = LeadScored{
			UserEmail:         l.UserEmail,
			P1:                cloneFloat(l.P1),
			MemberRating:      cloneFloat(l.MemberRating),
			PurchaseFrequency: cloneFloat(l.PurchaseFrequency),
			CustomerSegment:   cloneInt(l.CustomerSegment),
		}
	}
	for i, p := range s.Products {
		out.Products[i] = Product{
			ProductID:      p.ProductID,
			Description:    p.Description,
			SuggestedPrice: cloneFloat(p.SuggestedPrice),
		}
	}
	if s.Leads != nil {
		out.Leads = make([]Record, len(s.Leads))
		for i, r := range s.Leads {
			cp := make(Record, len(r))
			for k, v := range r {
				cp[k] = v
			}
			out.Leads[i] = cp
		}
	}
	return out
}

// Empty reports whether any of the three core tables has no rows.
func (s *Snapshot) Empty() bool {
	return len(s.LeadsScored) == 0 || len(s.Transactions) == 0 || len(s.Products) == 0
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func cloneInt(i *int64) *int64 {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

// Float returns a pointer to f. Handy for fixtures.
func Float(f float64) *float64 { return &f }

// Int returns a pointer to i. Handy for fixtures.
func Int(i int64) *int64 { return &i }
