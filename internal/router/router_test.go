package router

import (
	"context"
	"errors"
	"testing"

	"github.com/ignite/marketing-analyst/internal/reasoning"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	reply string
	err   error
	calls int
	last  reasoning.Request
}

func (s *stubProvider) Complete(ctx context.Context, req reasoning.Request) (string, error) {
	s.calls++
	s.last = req
	return s.reply, s.err
}

func TestParseRoute(t *testing.T) {
	tests := []struct {
		in   string
		want Route
		err  bool
	}{
		{"email_writer", EmailWriter, false},
		{`"Data_Exploration"`, DataExploration, false},
		{" marketing_analysis.\n", MarketingAnalysis, false},
		{"**business_analysis**", BusinessAnalysis, false},
		{"sales_forecast", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseRoute(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
		want  Route
	}{
		{"json decision", `{"next": "data_exploration"}`, nil, DataExploration},
		{"json with prose", "Here: {\"next\": \"email_writer\"}", nil, EmailWriter},
		{"bare token", "marketing_analysis", nil, MarketingAnalysis},
		{"unknown route", `{"next": "forecasting"}`, nil, DataOverview},
		{"garbage", "I am not sure", nil, DataOverview},
		{"provider error", "", errors.New("timeout"), DataOverview},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &stubProvider{reply: tt.reply, err: tt.err}
			got := NewClassifier(p).Classify(context.Background(), "How many customers per segment?", "gpt-5-nano", "sk-1")
			assert.Equal(t, tt.want, got)
			assert.True(t, got.Valid())
			assert.Equal(t, 1, p.calls)
			assert.Equal(t, "gpt-5-nano", p.last.Model)
			assert.Equal(t, "sk-1", p.last.Credential)
			assert.True(t, p.last.JSON)
			assert.Contains(t, p.last.Prompt, "How many customers per segment?")
		})
	}
}

func TestClassify_BlankMessageSkipsModel(t *testing.T) {
	p := &stubProvider{reply: `{"next":"email_writer"}`}
	c := NewClassifier(p)
	assert.Equal(t, DataOverview, c.Classify(context.Background(), "", "gpt-5-nano", ""))
	assert.Equal(t, DataOverview, c.Classify(context.Background(), "   \n", "gpt-5-nano", ""))
	assert.Zero(t, p.calls)
}
