package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ignite/marketing-analyst/internal/aggregate"
	"github.com/ignite/marketing-analyst/internal/pkg/logger"
	"github.com/ignite/marketing-analyst/internal/router"
	"github.com/ignite/marketing-analyst/prompts"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// SegmentChart is always attached to marketing analyses.
const SegmentChart = "Customer Segment Analysis"

// maxTargetRows caps how many target customers are shown to the copywriter.
const maxTargetRows = 500

var printer = message.NewPrinter(language.English)

// Overview describes the loaded tables.
type Overview struct{ Deps }

func (h *Overview) Run(ctx context.Context, in Input) (*Result, error) {
	if err := checkInput(in); err != nil {
		return nil, err
	}
	var tables []map[string]any
	for _, t := range aggregate.Overview(in.Snapshot) {
		js, err := indentJSON(t)
		if err != nil {
			return nil, fmt.Errorf("encoding %s profile: %w", t.Name, err)
		}
		tables = append(tables, map[string]any{"name": t.Name, "json": js})
	}
	text, err := narrate(ctx, h.Provider, in, prompts.DataOverview, map[string]any{
		"question": in.Message,
		"tables":   tables,
	})
	if err != nil {
		return nil, err
	}
	return &Result{
		Route:    router.DataOverview,
		Response: text,
		Charts:   h.Charts.Select(ctx, in.Message, in.Model, in.Credential),
	}, nil
}

// Exploration answers ad-hoc questions with a generated read-only query.
type Exploration struct{ Deps }

func (h *Exploration) Run(ctx context.Context, in Input) (*Result, error) {
	if err := checkInput(in); err != nil {
		return nil, err
	}
	query, res, err := generateQuery(ctx, h.Deps, in, prompts.QueryGenerator)
	if err != nil {
		logger.Error("Exploration query failed", "query", query, "error", err)
		return &Result{Route: router.DataExploration, Response: ExplorationFallback}, nil
	}
	logger.Info("Exploration query executed", "rows", res.Len())

	rows, err := head(res, maxPromptRows).JSON()
	if err != nil {
		logger.Error("Exploration result not encodable", "query", query, "error", err)
		return &Result{Route: router.DataExploration, Response: ExplorationFallback}, nil
	}
	text, err := narrate(ctx, h.Provider, in, prompts.DataExplorer, map[string]any{
		"question":     in.Message,
		"sql_query":    query,
		"query_result": rows,
	})
	if err != nil {
		return nil, err
	}
	return &Result{
		Route:    router.DataExploration,
		Response: text,
		SQLQuery: query,
		Charts:   h.Charts.Select(ctx, in.Message, in.Model, in.Credential),
	}, nil
}

// Business reports on revenue, conversion and top performers.
type Business struct{ Deps }

func (h *Business) Run(ctx context.Context, in Input) (*Result, error) {
	if err := checkInput(in); err != nil {
		return nil, err
	}
	summary := aggregate.Summarize(in.Snapshot)
	js, err := indentJSON(summary)
	if err != nil {
		return nil, fmt.Errorf("encoding business summary: %w", err)
	}
	text, err := narrate(ctx, h.Provider, in, prompts.BusinessAnalyst, map[string]any{
		"question":         in.Message,
		"business_summary": js,
	})
	if err != nil {
		return nil, err
	}
	return &Result{
		Route:        router.BusinessAnalysis,
		Response:     text,
		Charts:       h.Charts.Select(ctx, in.Message, in.Model, in.Credential),
		SummaryTable: summary,
	}, nil
}

// Marketing profiles the customer segments.
type Marketing struct{ Deps }

func (h *Marketing) Run(ctx context.Context, in Input) (*Result, error) {
	if err := checkInput(in); err != nil {
		return nil, err
	}
	profiles := aggregate.SegmentProfiles(in.Snapshot)
	js, err := indentJSON(profiles)
	if err != nil {
		return nil, fmt.Errorf("encoding segment profiles: %w", err)
	}
	text, err := narrate(ctx, h.Provider, in, prompts.MarketingAnalyst, map[string]any{
		"question":           in.Message,
		"segment_statistics": js,
	})
	if err != nil {
		return nil, err
	}
	res := &Result{
		Route:        router.MarketingAnalysis,
		Response:     text,
		SummaryTable: profiles,
	}
	if d, ok := h.Charts.GetByTitle(SegmentChart); ok {
		res.Charts = append(res.Charts, d)
	}
	return res, nil
}

// Email selects target customers with a generated query and drafts copy
// for them.
type Email struct{ Deps }

func (h *Email) Run(ctx context.Context, in Input) (*Result, error) {
	if err := checkInput(in); err != nil {
		return nil, err
	}
	query, res, err := generateQuery(ctx, h.Deps, in, prompts.TargetingQuery)
	if err != nil {
		logger.Error("Targeting query failed", "query", query, "error", err)
		return &Result{Route: router.EmailWriter, Response: ExplorationFallback}, nil
	}
	logger.Info("Target customers selected", "rows", res.Len())

	targets, err := head(res, maxTargetRows).JSON()
	if err != nil {
		logger.Error("Targeting result not encodable", "query", query, "error", err)
		return &Result{Route: router.EmailWriter, Response: ExplorationFallback}, nil
	}
	text, err := complete(ctx, h.Provider, in, prompts.WriteEmails, map[string]any{
		"question":      in.Message,
		"target_count":  res.Len(),
		"target_emails": targets,
	})
	if err != nil {
		logger.Error("Email copy generation failed", "error", err)
		text = copyFallback(res.Len())
	}
	return &Result{
		Route:        router.EmailWriter,
		Response:     text,
		SQLQuery:     query,
		SummaryTable: json.RawMessage(targets),
	}, nil
}

func copyFallback(n int) string {
	return printer.Sprintf("The targeting query selected %d customers, but the email copy could not be generated. "+
		"Please try again, or ask for a smaller audience.", n)
}
