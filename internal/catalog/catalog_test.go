package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/ignite/marketing-analyst/internal/dataset"
	"github.com/ignite/marketing-analyst/internal/reasoning"
	"github.com/ignite/marketing-analyst/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	storage.ArtifactStore
	puts atomic.Int32
	gets atomic.Int32
}

func (c *countingStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	c.puts.Add(1)
	return c.ArtifactStore.Put(ctx, name, data)
}

func (c *countingStore) Get(ctx context.Context, loc string) ([]byte, error) {
	c.gets.Add(1)
	return c.ArtifactStore.Get(ctx, loc)
}

func newStore(t *testing.T) *countingStore {
	t.Helper()
	local, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return &countingStore{ArtifactStore: local}
}

func snapshot(version int64) *dataset.Snapshot {
	return &dataset.Snapshot{
		Version: version,
		LeadsScored: []dataset.LeadScored{
			{UserEmail: "a@example.com", P1: dataset.Float(0.9), MemberRating: dataset.Float(5), CustomerSegment: dataset.Int(0)},
			{UserEmail: "b@example.com", P1: dataset.Float(0.1), MemberRating: dataset.Float(2), CustomerSegment: dataset.Int(1)},
		},
		Transactions: []dataset.Transaction{
			{TransactionID: "1", PurchasedAt: "2018-03-01", UserEmail: "a@example.com", ChargeCountry: "US", ProductID: "34"},
		},
		Products: []dataset.Product{{ProductID: "34", Description: "Learning Labs PRO", SuggestedPrice: dataset.Float(59)}},
	}
}

func reply(s string, err error) reasoning.Provider {
	return reasoning.ProviderFunc(func(ctx context.Context, req reasoning.Request) (string, error) {
		return s, err
	})
}

func TestGenerate(t *testing.T) {
	store := newStore(t)
	c := New(store, reply("", nil))
	ctx := context.Background()

	require.NoError(t, c.Generate(ctx, snapshot(1)))
	descs := c.Descriptors()
	require.Len(t, descs, 8)
	assert.Equal(t, "Customer Segment Analysis", descs[0].Title)
	assert.Equal(t, "Monthly Transactions Trend", descs[7].Title)
	assert.Equal(t, int32(8), store.puts.Load())

	require.NoError(t, c.Generate(ctx, snapshot(1)))
	assert.Equal(t, int32(8), store.puts.Load(), "same version is a no-op")

	require.NoError(t, c.Generate(ctx, snapshot(2)))
	assert.Equal(t, int32(16), store.puts.Load())
	assert.Equal(t, int64(2), c.Version())
}

func TestLoadPayload(t *testing.T) {
	store := newStore(t)
	c := New(store, reply("", nil))
	ctx := context.Background()
	require.NoError(t, c.Generate(ctx, snapshot(1)))

	d, ok := c.GetByTitle("Top Products by Revenue")
	require.True(t, ok)

	raw, err := c.LoadPayload(ctx, d)
	require.NoError(t, err)
	var fig Figure
	require.NoError(t, json.Unmarshal([]byte(raw), &fig))
	require.Len(t, fig.Data, 1)
	assert.Equal(t, []any{"Learning Labs PRO"}, fig.Data[0]["y"])

	_, err = c.LoadPayload(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, int32(1), store.gets.Load(), "payload cached per version")

	_, err = c.LoadPayload(ctx, Descriptor{Title: "gone", Path: d.Path + ".missing"})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, ok = c.GetByTitle("Sales Forecast")
	assert.False(t, ok)
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
		want  []string
	}{
		{"valid", `{"selected_plots": ["Revenue by Customer Segment"], "paths": ["whatever"]}`, nil, []string{"Revenue by Customer Segment"}},
		{"unknown titles dropped", `{"selected_plots": ["Sales Forecast", "Top Countries by Revenue"], "paths": []}`, nil, []string{"Top Countries by Revenue"}},
		{"duplicates dropped", `{"selected_plots": ["Lead Score Distribution", "Lead Score Distribution"]}`, nil, []string{"Lead Score Distribution"}},
		{"capped at three", `{"selected_plots": ["Customer Segment Analysis", "Customer Segment Distribution", "Revenue by Customer Segment", "Top Products by Revenue"]}`, nil,
			[]string{"Customer Segment Analysis", "Customer Segment Distribution", "Revenue by Customer Segment"}},
		{"fenced json", "```json\n{\"selected_plots\": [\"Monthly Transactions Trend\"]}\n```", nil, []string{"Monthly Transactions Trend"}},
		{"empty", `{"selected_plots": [], "paths": []}`, nil, nil},
		{"missing keys", `{"charts": ["Top Products by Revenue"]}`, nil, nil},
		{"not an object", `["Top Products by Revenue"]`, nil, nil},
		{"wrong types", `{"selected_plots": "Top Products by Revenue"}`, nil, nil},
		{"provider error", "", errors.New("rate limited"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(newStore(t), reply(tt.reply, tt.err))
			require.NoError(t, c.Generate(context.Background(), snapshot(1)))

			got := c.Select(context.Background(), "Which segments earn the most?", "gpt-5-nano", "sk")
			var titles []string
			for _, d := range got {
				titles = append(titles, d.Title)
				assert.NotEmpty(t, d.Path)
			}
			assert.Equal(t, tt.want, titles)
		})
	}
}

func TestSelect_EmptyCatalog(t *testing.T) {
	called := false
	c := New(newStore(t), reasoning.ProviderFunc(func(ctx context.Context, req reasoning.Request) (string, error) {
		called = true
		return "", nil
	}))
	assert.Nil(t, c.Select(context.Background(), "anything", "gpt-5-nano", ""))
	assert.False(t, called)
}

func TestFile(t *testing.T) {
	assert.Equal(t, "revenue_by_customer_segment.json", File("Revenue by Customer Segment"))
}
