package aggregate

import (
	"testing"

	"github.com/ignite/marketing-analyst/internal/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture() *dataset.Snapshot {
	return &dataset.Snapshot{
		LeadsScored: []dataset.LeadScored{
			{UserEmail: "a@example.com", P1: dataset.Float(0.9), MemberRating: dataset.Float(5), CustomerSegment: dataset.Int(0)},
			{UserEmail: "b@example.com", P1: dataset.Float(0.5), MemberRating: dataset.Float(3), CustomerSegment: dataset.Int(0)},
			{UserEmail: "c@example.com", P1: dataset.Float(0.2), CustomerSegment: dataset.Int(1)},
			{UserEmail: "d@example.com", MemberRating: dataset.Float(2), CustomerSegment: dataset.Int(1)},
		},
		Transactions: []dataset.Transaction{
			{TransactionID: "1", PurchasedAt: "2018-01-03", UserEmail: "a@example.com", ChargeCountry: "US", ProductID: "34"},
			{TransactionID: "2", PurchasedAt: "2018-01-20", UserEmail: "a@example.com", ChargeCountry: "CA", ProductID: "7"},
			{TransactionID: "3", PurchasedAt: "2018-02-11", UserEmail: "b@example.com", ChargeCountry: "US", ProductID: "34"},
			{TransactionID: "4", PurchasedAt: "bad", UserEmail: "e@example.com", ChargeCountry: "FR", ProductID: "99"},
		},
		Products: []dataset.Product{
			{ProductID: "34", Description: "Learning Labs PRO", SuggestedPrice: dataset.Float(59)},
			{ProductID: "7", Description: "Python for Data Science", SuggestedPrice: dataset.Float(100)},
			{ProductID: "5", Description: "Free Webinar"},
		},
	}
}

func TestPurchaseFrequency(t *testing.T) {
	freq := PurchaseFrequency(fixture().Transactions)
	assert.Equal(t, map[string]int{"a@example.com": 2, "b@example.com": 1, "e@example.com": 1}, freq)
}

func TestSegmentProfiles(t *testing.T) {
	got := SegmentProfiles(fixture())
	want := []SegmentProfile{
		{Segment: 0, CustomerCount: 2, AvgLeadScore: 0.7, AvgEngagement: 4, AvgPurchaseFrequency: 1.5},
		{Segment: 1, CustomerCount: 2, AvgLeadScore: 0.2, AvgEngagement: 2, AvgPurchaseFrequency: 0},
	}
	assert.Equal(t, want, got)
}

func TestSegmentProfiles_CountsMatchCustomers(t *testing.T) {
	snap := fixture()
	total := 0
	for _, p := range SegmentProfiles(snap) {
		total += p.CustomerCount
	}
	assert.Equal(t, Summarize(snap).TotalCustomers, total)
}

func TestSummarize(t *testing.T) {
	s := Summarize(fixture())

	assert.Equal(t, 4, s.TotalCustomers)
	assert.Equal(t, 4, s.TotalTransactions)
	assert.Equal(t, 3, s.ActiveCustomers)
	assert.Equal(t, 1, s.DormantCustomers)
	assert.Equal(t, 218.0, s.TotalRevenue)
	assert.Equal(t, 75.0, s.ConversionRate)
	assert.Equal(t, 54.5, s.AvgCustomerValue)
	assert.Equal(t, 54.5, s.AvgTransactionValue)
	assert.Equal(t, 59.0, s.MinTransaction)
	assert.Equal(t, 100.0, s.MaxTransaction)

	assert.Equal(t, []ProductRevenue{
		{ProductID: "34", Description: "Learning Labs PRO", TotalRevenue: 118, PurchaseCount: 2},
		{ProductID: "7", Description: "Python for Data Science", TotalRevenue: 100, PurchaseCount: 1},
	}, s.TopProducts)
	assert.Equal(t, []CountryRevenue{
		{ChargeCountry: "US", TotalRevenue: 118, PurchaseCount: 2},
		{ChargeCountry: "CA", TotalRevenue: 100, PurchaseCount: 1},
		{ChargeCountry: "FR", TotalRevenue: 0, PurchaseCount: 0},
	}, s.TopCountries)
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(&dataset.Snapshot{})
	assert.Zero(t, s.ConversionRate)
	assert.Zero(t, s.AvgCustomerValue)
	assert.Zero(t, s.AvgTransactionValue)
	assert.Empty(t, s.TopProducts)
	assert.Empty(t, s.TopCountries)
}

func TestSummarize_TopFiveTieBreak(t *testing.T) {
	snap := &dataset.Snapshot{}
	for _, id := range []string{"12", "3", "40", "9", "100", "2"} {
		snap.Products = append(snap.Products, dataset.Product{ProductID: id, Description: "p" + id, SuggestedPrice: dataset.Float(10)})
		snap.Transactions = append(snap.Transactions, dataset.Transaction{UserEmail: "x@example.com", ProductID: id, ChargeCountry: "US"})
	}

	s := Summarize(snap)
	require.Len(t, s.TopProducts, 5)
	var ids []string
	for _, p := range s.TopProducts {
		ids = append(ids, p.ProductID)
	}
	assert.Equal(t, []string{"2", "3", "9", "12", "40"}, ids)
}

func TestNonPurchasers(t *testing.T) {
	snap := fixture()

	assert.Empty(t, NonPurchasers(snap, "34", 0))

	got := NonPurchasers(snap, "7", 0)
	require.Len(t, got, 1)
	assert.Equal(t, "b@example.com", got[0].UserEmail)

	assert.Len(t, NonPurchasers(snap, "34", 1), 2)
}

func TestRevenueBySegment(t *testing.T) {
	got := RevenueBySegment(fixture())
	assert.Equal(t, []SegmentRevenue{{Segment: 0, TotalRevenue: 218, PurchaseCount: 3}}, got)
}

func TestRound(t *testing.T) {
	tests := []struct {
		v      float64
		places int
		want   float64
	}{
		{2.5, 0, 2},
		{3.5, 0, 4},
		{0.125, 2, 0.12},
		{0.7, 3, 0.7},
		{54.5, 2, 54.5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Round(tt.v, tt.places))
	}
}

func TestSummaryAndPercentile(t *testing.T) {
	s := Summary([]float64{4, 1, 3, 2})
	assert.Equal(t, 4, s.Count)
	assert.Equal(t, 2.5, s.Mean)
	assert.InDelta(t, 1.29099, s.Std, 1e-5)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 1.75, s.P25)
	assert.Equal(t, 2.5, s.P50)
	assert.Equal(t, 3.25, s.P75)
	assert.Equal(t, 4.0, s.Max)

	single := Summary([]float64{7})
	assert.Zero(t, single.Std)
	assert.Equal(t, 7.0, single.P75)
}

func TestOverview(t *testing.T) {
	snap := fixture()
	infos := Overview(snap)
	require.Len(t, infos, 3, "leads table absent")

	ls := infos[0]
	assert.Equal(t, "leads_scored", ls.Name)
	assert.Equal(t, 4, ls.RowCount)
	assert.Equal(t, 5, ls.ColumnCount)

	byName := map[string]ColumnInfo{}
	for _, c := range ls.Columns {
		byName[c.Name] = c
	}
	assert.Equal(t, "object", byName["user_email"].Dtype)
	assert.Equal(t, 4, byName["user_email"].UniqueCount)
	assert.Len(t, byName["user_email"].SampleValues, 3)
	assert.Equal(t, "float64", byName["p1"].Dtype)
	assert.Equal(t, 1, byName["p1"].NullCount)
	assert.Equal(t, 25.0, byName["p1"].NullPercentage)
	assert.Equal(t, "int64", byName["customer_segment"].Dtype)
	assert.Equal(t, 2, byName["customer_segment"].UniqueCount)

	require.Contains(t, ls.Describe, "p1")
	assert.Equal(t, 3, ls.Describe["p1"].Count)
	assert.NotContains(t, ls.Describe, "user_email")
	assert.NotContains(t, ls.Describe, "purchase_frequency", "all-null column has no summary")

	snap.Leads = []dataset.Record{{"user_email": "a@example.com", "made_purchase": int64(1)}}
	infos = Overview(snap)
	require.Len(t, infos, 4)
	assert.Equal(t, "leads", infos[3].Name)
	assert.Equal(t, "int64", infos[3].Columns[0].Dtype)
	assert.Equal(t, "made_purchase", infos[3].Columns[0].Name)
}

func TestMonthlyTransactions(t *testing.T) {
	got := MonthlyTransactions(fixture().Transactions)
	assert.Equal(t, []MonthCount{{Month: "2018-01", Count: 2}, {Month: "2018-02", Count: 1}}, got)
}

func TestHistogram(t *testing.T) {
	var vals []float64
	for i := 0; i <= 10; i++ {
		vals = append(vals, float64(i))
	}
	bins := Histogram(vals, 5)
	require.Len(t, bins, 5)
	counts := []int{}
	for _, b := range bins {
		counts = append(counts, b.Count)
	}
	assert.Equal(t, []int{2, 2, 2, 2, 3}, counts)

	flat := Histogram([]float64{1, 1, 1}, 10)
	require.Len(t, flat, 1)
	assert.Equal(t, 3, flat[0].Count)
	assert.Nil(t, Histogram(nil, 10))
}
