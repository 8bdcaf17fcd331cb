// Package router classifies a user question into one of the analysis routes.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ignite/marketing-analyst/internal/pkg/logger"
	"github.com/ignite/marketing-analyst/internal/reasoning"
	"github.com/ignite/marketing-analyst/prompts"
)

// Route names an analysis handler.
type Route string

const (
	DataOverview      Route = "data_overview"
	DataExploration   Route = "data_exploration"
	BusinessAnalysis  Route = "business_analysis"
	MarketingAnalysis Route = "marketing_analysis"
	EmailWriter       Route = "email_writer"
)

// Default is used whenever classification fails.
const Default = DataOverview

// Routes lists every route.
var Routes = []Route{DataOverview, DataExploration, BusinessAnalysis, MarketingAnalysis, EmailWriter}

// Valid reports whether r is a known route.
func (r Route) Valid() bool {
	for _, v := range Routes {
		if r == v {
			return true
		}
	}
	return false
}

func (r Route) String() string { return string(r) }

// ParseRoute normalizes a route token such as `"Email_Writer"` or
// "data_exploration." into a Route.
func ParseRoute(s string) (Route, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, "\"'`*.,: \n\t")
	r := Route(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown route %q", s)
	}
	return r, nil
}

type decision struct {
	Next string `json:"next"`
}

// Classifier asks the reasoning service which route fits a question.
type Classifier struct {
	provider reasoning.Provider
}

// NewClassifier creates a classifier.
func NewClassifier(p reasoning.Provider) *Classifier {
	return &Classifier{provider: p}
}

// Classify always returns a valid route. Blank messages go to the default
// route without a model call; model or parse failures are logged and also
// fall back to the default.
func (c *Classifier) Classify(ctx context.Context, message, model, credential string) Route {
	if strings.TrimSpace(message) == "" {
		return Default
	}

	prompt, err := prompts.Render(prompts.Router, map[string]any{"question": message})
	if err != nil {
		logger.Error("Router prompt failed", "error", err)
		return Default
	}
	out, err := c.provider.Complete(ctx, reasoning.Request{
		Model:      model,
		Credential: credential,
		Prompt:     prompt,
		JSON:       true,
	})
	if err != nil {
		logger.Error("Route classification failed", "model", model, "error", err)
		return Default
	}

	r, err := parseDecision(out)
	if err != nil {
		logger.Error("Route classification unparseable", "model", model, "error", err)
		return Default
	}
	logger.Info("Routed question", "route", r)
	return r
}

// parseDecision accepts {"next": "<route>"} or a bare route token.
func parseDecision(out string) (Route, error) {
	if js, err := reasoning.ExtractJSON(out); err == nil {
		var d decision
		if err := json.Unmarshal([]byte(js), &d); err == nil && d.Next != "" {
			return ParseRoute(d.Next)
		}
	}
	return ParseRoute(out)
}
