// Package handler implements the five analysis routes. Each handler turns a
// question plus a dataset snapshot into a narrative result, optionally with
// the SQL it ran, selected charts and a structured summary.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ignite/marketing-analyst/internal/catalog"
	"github.com/ignite/marketing-analyst/internal/dataset"
	"github.com/ignite/marketing-analyst/internal/pkg/logger"
	"github.com/ignite/marketing-analyst/internal/reasoning"
	"github.com/ignite/marketing-analyst/internal/router"
	"github.com/ignite/marketing-analyst/internal/sqlexec"
	"github.com/ignite/marketing-analyst/prompts"
)

// ErrNarrative wraps a failed narrative call. The turn cannot be answered
// but the session stays usable.
var ErrNarrative = errors.New("narrative generation failed")

// ErrNoSnapshot is returned when a handler runs without dataset access.
var ErrNoSnapshot = errors.New("no dataset snapshot")

// ExplorationFallback is returned when a generated query cannot be produced
// or executed.
const ExplorationFallback = "Please rephrase your question or try a different approach."

// maxPromptRows caps how many result rows are embedded in a prompt.
const maxPromptRows = 200

// Input is one turn as seen by a handler.
type Input struct {
	Message    string
	Model      string
	Credential string
	Snapshot   *dataset.Snapshot
}

// Result is the outcome of one handler run.
type Result struct {
	Route        router.Route         `json:"route"`
	Response     string               `json:"response"`
	SQLQuery     string               `json:"sql_query,omitempty"`
	Charts       []catalog.Descriptor `json:"charts,omitempty"`
	SummaryTable any                  `json:"summary_table,omitempty"`
}

// Validate checks the fields every result must carry.
func (r *Result) Validate() error {
	if r == nil {
		return errors.New("nil result")
	}
	if !r.Route.Valid() {
		return fmt.Errorf("invalid route %q", r.Route)
	}
	if strings.TrimSpace(r.Response) == "" {
		return errors.New("response is required")
	}
	return nil
}

// Handler answers one route.
type Handler interface {
	Run(ctx context.Context, in Input) (*Result, error)
}

// ChartSelector is the part of the chart catalog handlers need.
type ChartSelector interface {
	Select(ctx context.Context, question, model, credential string) []catalog.Descriptor
	GetByTitle(title string) (catalog.Descriptor, bool)
}

// Deps are shared by every handler of a session.
type Deps struct {
	Provider reasoning.Provider
	Charts   ChartSelector
	Engines  *EnginePool
}

// NewSet builds one handler per route.
func NewSet(d Deps) map[router.Route]Handler {
	if d.Engines == nil {
		d.Engines = NewEnginePool()
	}
	return map[router.Route]Handler{
		router.DataOverview:      &Overview{d},
		router.DataExploration:   &Exploration{d},
		router.BusinessAnalysis:  &Business{d},
		router.MarketingAnalysis: &Marketing{d},
		router.EmailWriter:       &Email{d},
	}
}

// EnginePool keeps one query engine per snapshot version. A newer snapshot
// replaces and closes the previous engine.
type EnginePool struct {
	mu     sync.Mutex
	engine *sqlexec.Engine
}

// NewEnginePool creates an empty pool.
func NewEnginePool() *EnginePool { return &EnginePool{} }

// Get returns the engine for snap, building it on first use.
func (p *EnginePool) Get(ctx context.Context, snap *dataset.Snapshot) (*sqlexec.Engine, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.engine != nil && p.engine.Version() == snap.Version {
		return p.engine, nil
	}
	e, err := sqlexec.NewEngine(ctx, snap)
	if err != nil {
		return nil, err
	}
	if p.engine != nil {
		if err := p.engine.Close(); err != nil {
			logger.Warn("Closing stale query engine", "version", p.engine.Version(), "error", err)
		}
	}
	p.engine = e
	return e, nil
}

// Close releases the current engine.
func (p *EnginePool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.engine == nil {
		return nil
	}
	err := p.engine.Close()
	p.engine = nil
	return err
}

func checkInput(in Input) error {
	if in.Snapshot == nil {
		return ErrNoSnapshot
	}
	return nil
}

// complete renders a prompt and sends it.
func complete(ctx context.Context, p reasoning.Provider, in Input, prompt string, vars map[string]any) (string, error) {
	text, err := prompts.Render(prompt, vars)
	if err != nil {
		return "", err
	}
	out, err := p.Complete(ctx, reasoning.Request{
		Model:      in.Model,
		Credential: in.Credential,
		Prompt:     text,
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "", reasoning.ErrEmptyResponse
	}
	return out, nil
}

// narrate is the single narrative call of a handler.
func narrate(ctx context.Context, p reasoning.Provider, in Input, prompt string, vars map[string]any) (string, error) {
	out, err := complete(ctx, p, in, prompt, vars)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", prompt, ErrNarrative, err)
	}
	return out, nil
}

// generateQuery asks for SQL and runs it on the snapshot's engine.
func generateQuery(ctx context.Context, d Deps, in Input, prompt string) (string, *sqlexec.Result, error) {
	out, err := complete(ctx, d.Provider, in, prompt, map[string]any{"question": in.Message})
	if err != nil {
		return "", nil, fmt.Errorf("generating query: %w", err)
	}
	query := sqlexec.StripFences(out)
	logger.Info("Generated SQL query", "route", prompt, "query", query)

	engine, err := d.Engines.Get(ctx, in.Snapshot)
	if err != nil {
		return query, nil, fmt.Errorf("building query engine: %w", err)
	}
	res, err := engine.Query(ctx, query)
	if err != nil {
		return query, nil, err
	}
	return query, res, nil
}

// head keeps the first n rows of res.
func head(res *sqlexec.Result, n int) *sqlexec.Result {
	if res.Len() <= n {
		return res
	}
	return &sqlexec.Result{Columns: res.Columns, Rows: res.Rows[:n]}
}

func indentJSON(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
