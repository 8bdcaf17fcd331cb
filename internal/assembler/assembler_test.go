package assembler

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ignite/marketing-analyst/internal/catalog"
	"github.com/ignite/marketing-analyst/internal/handler"
	"github.com/ignite/marketing-analyst/internal/history"
	"github.com/ignite/marketing-analyst/internal/router"
	"github.com/ignite/marketing-analyst/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payloads map[string]string

func (p payloads) LoadPayload(ctx context.Context, d catalog.Descriptor) (string, error) {
	s, ok := p[d.Path]
	if !ok {
		return "", storage.ErrNotFound
	}
	return s, nil
}

var charts = payloads{
	"plots/segments.json": `{"data":[{"type":"bar"}],"layout":{}}`,
	"plots/revenue.json":  `{"data":[{"type":"pie"}],"layout":{}}`,
	"plots/broken.json":   `{"data":`,
}

func setup(t *testing.T) (*Assembler, *history.MemoryStore) {
	t.Helper()
	store := history.NewMemoryStore()
	require.NoError(t, history.Seed(context.Background(), store, "s1"))
	return New(store, "s1", charts), store
}

func TestParseMarker(t *testing.T) {
	tests := []struct {
		in   string
		kind MarkerKind
		idx  int
		ok   bool
	}{
		{"PLOT_INDEX:0", PlotMarkerKind, 0, true},
		{"SQL_INDEX:12", QueryMarkerKind, 12, true},
		{" PLOT_INDEX:3\n", PlotMarkerKind, 3, true},
		{"PLOT_INDEX:x", NotMarker, 0, false},
		{"see PLOT_INDEX:1", NotMarker, 0, false},
		{"How can I help you?", NotMarker, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			kind, idx, ok := ParseMarker(tt.in)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.idx, idx)
			assert.Equal(t, tt.ok, ok)
		})
	}
	assert.Equal(t, "PLOT_INDEX:4", PlotMarker(4))
	assert.Equal(t, "SQL_INDEX:0", QueryMarker(0))
}

func TestFinalize_TwoPane(t *testing.T) {
	a, store := setup(t)
	ctx := context.Background()
	require.NoError(t, a.RecordQuestion(ctx, "Who bought nothing?"))

	turn, err := a.Finalize(ctx, &handler.Result{
		Route:        router.DataExploration,
		Response:     "Two customers.",
		SQLQuery:     "SELECT user_email FROM leads_scored",
		Charts:       []catalog.Descriptor{{Title: "Segments", Path: "plots/segments.json"}},
		SummaryTable: []map[string]any{{"user_email": "a@example.com"}},
	})
	require.NoError(t, err)
	assert.Equal(t, TwoPane, turn.Layout)
	assert.Equal(t, []map[string]any{{"user_email": "a@example.com"}}, turn.SummaryTable)
	assert.Equal(t, []string{"SQL_INDEX:0", "PLOT_INDEX:0"}, turn.Markers)
	assert.Equal(t, []string{charts["plots/segments.json"]}, turn.Charts)

	q, err := store.Query(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Equal(t, history.QueryRecord{Route: "data_exploration", Query: "SELECT user_email FROM leads_scored", Response: "Two customers."}, q)

	msgs, err := store.Messages(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{history.WelcomeMessage, "Who bought nothing?", "SQL_INDEX:0", "PLOT_INDEX:0"}, contents(msgs))
}

func TestFinalize_NarrativeSkipsBadCharts(t *testing.T) {
	a, store := setup(t)
	ctx := context.Background()

	turn, err := a.Finalize(ctx, &handler.Result{
		Route:    router.BusinessAnalysis,
		Response: "Revenue grew.",
		Charts: []catalog.Descriptor{
			{Title: "Missing", Path: "plots/missing.json"},
			{Title: "Broken", Path: "plots/broken.json"},
			{Title: "Revenue", Path: "plots/revenue.json"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, Narrative, turn.Layout)
	assert.Equal(t, []string{"PLOT_INDEX:0"}, turn.Markers)
	assert.Len(t, turn.Warnings, 2)

	msgs, err := store.Messages(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{history.WelcomeMessage, "Revenue grew.", "PLOT_INDEX:0"}, contents(msgs))
}

func TestFinalize_InvalidResult(t *testing.T) {
	a, _ := setup(t)
	_, err := a.Finalize(context.Background(), &handler.Result{Route: router.DataOverview})
	assert.Error(t, err)
}

func TestReplay(t *testing.T) {
	a, store := setup(t)
	ctx := context.Background()

	require.NoError(t, a.RecordQuestion(ctx, "q1"))
	_, err := a.Finalize(ctx, &handler.Result{
		Route:    router.EmailWriter,
		Response: "Subject: hello",
		SQLQuery: "SELECT 1",
		Charts:   []catalog.Descriptor{{Title: "Segments", Path: "plots/segments.json"}},
	})
	require.NoError(t, err)
	require.NoError(t, a.RecordQuestion(ctx, "q2"))
	require.NoError(t, a.RecordFailure(ctx, "An error occurred while processing your query. Please try again."))
	_, err = store.AppendMessage(ctx, "s1", history.Message{Role: history.RoleAssistant, Content: "PLOT_INDEX:9"})
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, "s1", history.Message{Role: history.RoleUser, Content: "SQL_INDEX:0"})
	require.NoError(t, err)

	entries, err := a.Replay(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 8)

	assert.Equal(t, Entry{Role: "assistant", Kind: KindText, Content: history.WelcomeMessage}, entries[0])
	assert.Equal(t, Entry{Role: "user", Kind: KindText, Content: "q1"}, entries[1])

	assert.Equal(t, KindQuery, entries[2].Kind)
	assert.Equal(t, "Subject: hello", entries[2].Content)
	assert.Equal(t, "SELECT 1", entries[2].Query.Query)

	assert.Equal(t, KindPlot, entries[3].Kind)
	assert.JSONEq(t, charts["plots/segments.json"], string(entries[3].Plot))

	assert.Equal(t, KindText, entries[5].Kind)
	assert.Equal(t, KindWarning, entries[6].Kind)
	assert.Contains(t, entries[6].Content, "PLOT_INDEX:9")
	assert.Equal(t, Entry{Role: "user", Kind: KindText, Content: "SQL_INDEX:0"}, entries[7], "user text is never resolved")

	_, err = json.Marshal(entries)
	assert.NoError(t, err)
}

func contents(msgs []history.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}
