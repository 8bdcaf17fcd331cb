package handler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/ignite/marketing-analyst/internal/aggregate"
	"github.com/ignite/marketing-analyst/internal/catalog"
	"github.com/ignite/marketing-analyst/internal/dataset"
	"github.com/ignite/marketing-analyst/internal/reasoning"
	"github.com/ignite/marketing-analyst/internal/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted answers each prompt by the opening words of its template.
type scripted struct {
	mu      sync.Mutex
	replies map[string]string
	errs    map[string]error
	prompts map[string]string
}

func newScripted() *scripted {
	return &scripted{replies: map[string]string{}, errs: map[string]error{}, prompts: map[string]string{}}
}

func (s *scripted) on(prefix, reply string) *scripted {
	s.replies[prefix] = reply
	return s
}

func (s *scripted) fail(prefix string, err error) *scripted {
	s.errs[prefix] = err
	return s
}

func (s *scripted) Complete(ctx context.Context, req reasoning.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for prefix, err := range s.errs {
		if strings.HasPrefix(req.Prompt, prefix) {
			s.prompts[prefix] = req.Prompt
			return "", err
		}
	}
	for prefix, reply := range s.replies {
		if strings.HasPrefix(req.Prompt, prefix) {
			s.prompts[prefix] = req.Prompt
			return reply, nil
		}
	}
	return "", errors.New("unexpected prompt")
}

func (s *scripted) called(prefix string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.prompts[prefix]
	return ok
}

func (s *scripted) prompt(prefix string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts[prefix]
}

const (
	overviewPrompt  = "You are a data analyst introducing"
	queryPrompt     = "You write one read-only SQLite query that answers"
	explorerPrompt  = "You are a data analyst explaining"
	businessPrompt  = "You are a business analyst"
	marketingPrompt = "You are a marketing strategist"
	targetingPrompt = "You write one read-only SQLite query that returns the customers"
	copyPrompt      = "You are an email marketing copywriter"
)

type stubCharts struct {
	selected []catalog.Descriptor
	calls    int
}

func (s *stubCharts) Select(ctx context.Context, question, model, credential string) []catalog.Descriptor {
	s.calls++
	return s.selected
}

func (s *stubCharts) GetByTitle(title string) (catalog.Descriptor, bool) {
	if title == SegmentChart {
		return catalog.Descriptor{Title: SegmentChart, Path: "plots/customer_segment_analysis.json"}, true
	}
	return catalog.Descriptor{}, false
}

func snapshot() *dataset.Snapshot {
	return &dataset.Snapshot{
		Version: 1,
		LeadsScored: []dataset.LeadScored{
			{UserEmail: "a@example.com", P1: dataset.Float(0.9), MemberRating: dataset.Float(5), CustomerSegment: dataset.Int(2)},
			{UserEmail: "b@example.com", P1: dataset.Float(0.4), MemberRating: dataset.Float(3), CustomerSegment: dataset.Int(2)},
			{UserEmail: "c@example.com", P1: dataset.Float(0.2), MemberRating: dataset.Float(2), CustomerSegment: dataset.Int(2)},
			{UserEmail: "d@example.com", P1: dataset.Float(0.7), MemberRating: dataset.Float(4), CustomerSegment: dataset.Int(1)},
		},
		Transactions: []dataset.Transaction{
			{TransactionID: "1", PurchasedAt: "2018-03-01", UserEmail: "a@example.com", ChargeCountry: "US", ProductID: "34"},
			{TransactionID: "2", PurchasedAt: "2018-04-01", UserEmail: "d@example.com", ChargeCountry: "CA", ProductID: "7"},
		},
		Products: []dataset.Product{
			{ProductID: "34", Description: "Learning Labs PRO", SuggestedPrice: dataset.Float(59)},
			{ProductID: "7", Description: "Python for Data Science", SuggestedPrice: dataset.Float(100)},
		},
	}
}

func input(msg string) Input {
	return Input{Message: msg, Model: "gpt-5-nano", Credential: "sk-test", Snapshot: snapshot()}
}

func newDeps(p reasoning.Provider, charts *stubCharts) Deps {
	return Deps{Provider: p, Charts: charts, Engines: NewEnginePool()}
}

var topProducts = []catalog.Descriptor{{Title: "Top Products by Revenue", Path: "plots/top_products_by_revenue.json"}}

func TestOverview(t *testing.T) {
	p := newScripted().on(overviewPrompt, "## leads_scored\nFour customers.")
	charts := &stubCharts{selected: topProducts}
	h := &Overview{newDeps(p, charts)}

	res, err := h.Run(context.Background(), input("What data do we have?"))
	require.NoError(t, err)
	require.NoError(t, res.Validate())
	assert.Equal(t, router.DataOverview, res.Route)
	assert.Equal(t, "## leads_scored\nFour customers.", res.Response)
	assert.Equal(t, topProducts, res.Charts)
	assert.Empty(t, res.SQLQuery)
	assert.Contains(t, p.prompt(overviewPrompt), `"row_count": 4`)
	assert.Contains(t, p.prompt(overviewPrompt), "### products")
}

func TestExploration_Success(t *testing.T) {
	p := newScripted().
		on(queryPrompt, "```sql\nSELECT user_email FROM leads_scored WHERE customer_segment = 2 ORDER BY user_email;\n```").
		on(explorerPrompt, "Three customers are in segment 2.")
	charts := &stubCharts{selected: topProducts}
	h := &Exploration{newDeps(p, charts)}

	res, err := h.Run(context.Background(), input("How many customers are in segment 2?"))
	require.NoError(t, err)
	assert.Equal(t, router.DataExploration, res.Route)
	assert.Equal(t, "Three customers are in segment 2.", res.Response)
	assert.Equal(t, "SELECT user_email FROM leads_scored WHERE customer_segment = 2 ORDER BY user_email", res.SQLQuery)
	assert.Equal(t, topProducts, res.Charts)
	assert.Contains(t, p.prompt(explorerPrompt), `[{"user_email":"a@example.com"},{"user_email":"b@example.com"},{"user_email":"c@example.com"}]`)
}

func TestExploration_Fallbacks(t *testing.T) {
	tests := []struct {
		name     string
		provider *scripted
	}{
		{"write statement rejected", newScripted().on(queryPrompt, "DROP TABLE leads_scored").on(explorerPrompt, "unused")},
		{"execution error", newScripted().on(queryPrompt, "SELECT nope FROM missing_table").on(explorerPrompt, "unused")},
		{"generation error", newScripted().fail(queryPrompt, errors.New("rate limited")).on(explorerPrompt, "unused")},
		{"empty generation", newScripted().on(queryPrompt, "  ").on(explorerPrompt, "unused")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			charts := &stubCharts{selected: topProducts}
			h := &Exploration{newDeps(tt.provider, charts)}

			res, err := h.Run(context.Background(), input("Delete everything"))
			require.NoError(t, err)
			require.NoError(t, res.Validate())
			assert.Equal(t, ExplorationFallback, res.Response)
			assert.Empty(t, res.SQLQuery)
			assert.Empty(t, res.Charts)
			assert.False(t, tt.provider.called(explorerPrompt))
			assert.Zero(t, charts.calls)
		})
	}
}

func TestExploration_OverflowingValue(t *testing.T) {
	p := newScripted().on(queryPrompt, "SELECT 1e999 AS x").on(explorerPrompt, "The value is too large to show.")
	res, err := (&Exploration{newDeps(p, &stubCharts{})}).Run(context.Background(), input("What is the biggest number?"))
	require.NoError(t, err)
	require.NoError(t, res.Validate())
	assert.Equal(t, "The value is too large to show.", res.Response)
	assert.Equal(t, "SELECT 1e999 AS x", res.SQLQuery)
	assert.Contains(t, p.prompt(explorerPrompt), `[{"x":null}]`)
}

func TestExploration_WriteLeavesDataIntact(t *testing.T) {
	deps := newDeps(newScripted().on(queryPrompt, "DROP TABLE leads_scored"), &stubCharts{})
	in := input("drop it")
	_, err := (&Exploration{deps}).Run(context.Background(), in)
	require.NoError(t, err)

	engine, err := deps.Engines.Get(context.Background(), in.Snapshot)
	require.NoError(t, err)
	res, err := engine.Query(context.Background(), "SELECT COUNT(*) AS n FROM leads_scored")
	require.NoError(t, err)
	assert.EqualValues(t, 4, res.Rows[0][0])
}

func TestNarrativeFailure(t *testing.T) {
	cause := context.DeadlineExceeded
	tests := []struct {
		name string
		h    Handler
	}{
		{"overview", &Overview{newDeps(newScripted().fail(overviewPrompt, cause), &stubCharts{})}},
		{"business", &Business{newDeps(newScripted().fail(businessPrompt, cause), &stubCharts{})}},
		{"marketing", &Marketing{newDeps(newScripted().fail(marketingPrompt, cause), &stubCharts{})}},
		{"exploration", &Exploration{newDeps(newScripted().on(queryPrompt, "SELECT 1 AS one").fail(explorerPrompt, cause), &stubCharts{})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.h.Run(context.Background(), input("question"))
			assert.ErrorIs(t, err, ErrNarrative)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
		})
	}
}

func TestBusiness(t *testing.T) {
	p := newScripted().on(businessPrompt, "Revenue is \\$159.")
	charts := &stubCharts{selected: topProducts}
	res, err := (&Business{newDeps(p, charts)}).Run(context.Background(), input("How is the business doing?"))
	require.NoError(t, err)

	assert.Equal(t, router.BusinessAnalysis, res.Route)
	assert.Equal(t, topProducts, res.Charts)
	summary, ok := res.SummaryTable.(aggregate.BusinessSummary)
	require.True(t, ok)
	assert.Equal(t, 159.0, summary.TotalRevenue)
	assert.Equal(t, 4, summary.TotalCustomers)
	assert.Contains(t, p.prompt(businessPrompt), `"total_revenue": 159`)
}

func TestMarketing(t *testing.T) {
	p := newScripted().on(marketingPrompt, "Segment 2 needs nurturing.")
	charts := &stubCharts{selected: topProducts}
	res, err := (&Marketing{newDeps(p, charts)}).Run(context.Background(), input("Which segments should we target?"))
	require.NoError(t, err)

	assert.Equal(t, router.MarketingAnalysis, res.Route)
	require.Len(t, res.Charts, 1)
	assert.Equal(t, SegmentChart, res.Charts[0].Title)
	assert.Zero(t, charts.calls, "marketing attaches the segment chart without selection")

	profiles, ok := res.SummaryTable.([]aggregate.SegmentProfile)
	require.True(t, ok)
	require.Len(t, profiles, 2)
	assert.Equal(t, int64(1), profiles[0].Segment)
	assert.Equal(t, 3, profiles[1].CustomerCount)
	assert.Contains(t, p.prompt(marketingPrompt), `"customer_segment": 2`)
}

const antiJoin = `SELECT ls.user_email FROM leads_scored ls
WHERE ls.customer_segment = 2
  AND ls.user_email NOT IN (SELECT t.user_email FROM transactions t WHERE t.product_id = 34)
ORDER BY ls.user_email`

func TestEmail_Success(t *testing.T) {
	p := newScripted().on(targetingPrompt, antiJoin).on(copyPrompt, "Subject: Level up with Learning Labs PRO")
	charts := &stubCharts{selected: topProducts}
	res, err := (&Email{newDeps(p, charts)}).Run(context.Background(),
		input("Write an email for segment 2 customers who have not bought Learning Labs PRO"))
	require.NoError(t, err)

	assert.Equal(t, router.EmailWriter, res.Route)
	assert.Equal(t, "Subject: Level up with Learning Labs PRO", res.Response)
	assert.Equal(t, antiJoin, res.SQLQuery)
	assert.Empty(t, res.Charts)
	assert.Zero(t, charts.calls)

	var targets []map[string]string
	require.NoError(t, json.Unmarshal(res.SummaryTable.(json.RawMessage), &targets))
	var emails []string
	for _, r := range targets {
		emails = append(emails, r["user_email"])
	}
	var want []string
	for _, l := range aggregate.NonPurchasers(snapshot(), "34", 2) {
		want = append(want, l.UserEmail)
	}
	assert.Equal(t, want, emails)
	assert.Equal(t, []string{"b@example.com", "c@example.com"}, emails)
	assert.Contains(t, p.prompt(copyPrompt), "Target customers (2 rows, JSON)")
}

func TestEmail_CopyFailure(t *testing.T) {
	p := newScripted().on(targetingPrompt, antiJoin).fail(copyPrompt, errors.New("model overloaded"))
	res, err := (&Email{newDeps(p, &stubCharts{})}).Run(context.Background(), input("email segment 2"))
	require.NoError(t, err)
	assert.Equal(t, antiJoin, res.SQLQuery)
	assert.Contains(t, res.Response, "selected 2 customers")
}

func TestEmail_TargetingFailure(t *testing.T) {
	p := newScripted().on(targetingPrompt, "DELETE FROM leads_scored").on(copyPrompt, "unused")
	res, err := (&Email{newDeps(p, &stubCharts{})}).Run(context.Background(), input("email everyone"))
	require.NoError(t, err)
	assert.Equal(t, ExplorationFallback, res.Response)
	assert.Empty(t, res.SQLQuery)
	assert.False(t, p.called(copyPrompt))
}

func TestEmail_OverflowingTargets(t *testing.T) {
	p := newScripted().on(targetingPrompt, "SELECT user_email, 1e999 AS score FROM leads_scored WHERE customer_segment = 1").
		on(copyPrompt, "Subject: Hello")
	res, err := (&Email{newDeps(p, &stubCharts{})}).Run(context.Background(), input("email segment 1"))
	require.NoError(t, err)
	assert.Equal(t, "Subject: Hello", res.Response)
	assert.JSONEq(t, `[{"user_email":"d@example.com","score":null}]`, string(res.SummaryTable.(json.RawMessage)))
}

func TestCopyFallbackFormatsCount(t *testing.T) {
	assert.Contains(t, copyFallback(12345), "12,345 customers")
}

func TestMissingSnapshot(t *testing.T) {
	for route, h := range NewSet(Deps{Provider: newScripted(), Charts: &stubCharts{}}) {
		_, err := h.Run(context.Background(), Input{Message: "hi"})
		assert.ErrorIs(t, err, ErrNoSnapshot, route)
	}
}

func TestNewSet(t *testing.T) {
	set := NewSet(Deps{Provider: newScripted(), Charts: &stubCharts{}})
	for _, r := range router.Routes {
		assert.Contains(t, set, r)
	}
}

func TestResultValidate(t *testing.T) {
	tests := []struct {
		name    string
		res     *Result
		wantErr bool
	}{
		{"ok", &Result{Route: router.EmailWriter, Response: "draft"}, false},
		{"nil", nil, true},
		{"bad route", &Result{Route: "forecast", Response: "x"}, true},
		{"blank response", &Result{Route: router.DataOverview, Response: " \n"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.res.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEnginePool(t *testing.T) {
	pool := NewEnginePool()
	ctx := context.Background()
	snap := snapshot()

	e1, err := pool.Get(ctx, snap)
	require.NoError(t, err)
	e2, err := pool.Get(ctx, snap)
	require.NoError(t, err)
	assert.Same(t, e1, e2)

	next := snapshot()
	next.Version = 2
	e3, err := pool.Get(ctx, next)
	require.NoError(t, err)
	assert.NotSame(t, e1, e3)
	assert.Equal(t, int64(2), e3.Version())

	_, err = e1.Query(ctx, "SELECT 1")
	assert.Error(t, err, "replaced engine is closed")

	require.NoError(t, pool.Close())
	require.NoError(t, pool.Close())
}
