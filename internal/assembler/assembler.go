// Package assembler records finished turns in the conversation history and
// replays the history for display.
//
// Charts and query records are stored in their own lists; the chat message
// list only holds a marker such as "PLOT_INDEX:3" pointing at them.
package assembler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ignite/marketing-analyst/internal/catalog"
	"github.com/ignite/marketing-analyst/internal/handler"
	"github.com/ignite/marketing-analyst/internal/history"
	"github.com/ignite/marketing-analyst/internal/pkg/logger"
	"github.com/ignite/marketing-analyst/internal/router"
)

// Marker prefixes.
const (
	PlotPrefix  = "PLOT_INDEX:"
	QueryPrefix = "SQL_INDEX:"
)

// Layout says how a turn is displayed.
type Layout string

const (
	// TwoPane shows the narrative next to the query that produced it.
	TwoPane Layout = "two_pane"
	// Narrative shows the response text alone.
	Narrative Layout = "narrative"
)

// MarkerKind identifies what a marker points at.
type MarkerKind int

const (
	NotMarker MarkerKind = iota
	PlotMarkerKind
	QueryMarkerKind
)

// PlotMarker is the history entry for plot n.
func PlotMarker(n int) string { return PlotPrefix + strconv.Itoa(n) }

// QueryMarker is the history entry for query record n.
func QueryMarker(n int) string { return QueryPrefix + strconv.Itoa(n) }

// ParseMarker recognizes a marker message. Text that merely mentions a
// prefix is not a marker.
func ParseMarker(s string) (MarkerKind, int, bool) {
	s = strings.TrimSpace(s)
	for _, m := range []struct {
		prefix string
		kind   MarkerKind
	}{{PlotPrefix, PlotMarkerKind}, {QueryPrefix, QueryMarkerKind}} {
		if !strings.HasPrefix(s, m.prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(s, m.prefix))
		if err != nil {
			return NotMarker, 0, false
		}
		return m.kind, n, true
	}
	return NotMarker, 0, false
}

// PayloadLoader reads a chart document.
type PayloadLoader interface {
	LoadPayload(ctx context.Context, d catalog.Descriptor) (string, error)
}

// Turn is what the caller gets back for one question.
type Turn struct {
	Route    router.Route `json:"route"`
	Layout   Layout       `json:"layout"`
	Response string       `json:"response"`
	SQLQuery string       `json:"sql_query,omitempty"`
	Charts   []string     `json:"charts,omitempty"`
	Markers  []string     `json:"markers"`
	Warnings []string     `json:"warnings,omitempty"`
	// SummaryTable is the structured data behind the response, when the
	// handler produced any.
	SummaryTable any `json:"summary_table,omitempty"`
}

// Assembler writes one session's turns.
type Assembler struct {
	store     history.Store
	sessionID string
	charts    PayloadLoader
}

// New creates an assembler for a session.
func New(store history.Store, sessionID string, charts PayloadLoader) *Assembler {
	return &Assembler{store: store, sessionID: sessionID, charts: charts}
}

// RecordQuestion appends the user's message.
func (a *Assembler) RecordQuestion(ctx context.Context, text string) error {
	_, err := a.store.AppendMessage(ctx, a.sessionID, history.Message{Role: history.RoleUser, Content: text})
	return err
}

// RecordFailure appends an assistant error message for a turn that could
// not be answered.
func (a *Assembler) RecordFailure(ctx context.Context, text string) error {
	return a.say(ctx, text)
}

func (a *Assembler) say(ctx context.Context, m string) error {
	_, err := a.store.AppendMessage(ctx, a.sessionID, history.Message{Role: history.RoleAssistant, Content: m})
	return err
}

// Finalize loads the selected charts and records the turn. A chart that
// cannot be loaded is skipped with a warning.
func (a *Assembler) Finalize(ctx context.Context, res *handler.Result) (*Turn, error) {
	if err := res.Validate(); err != nil {
		return nil, err
	}
	turn := &Turn{Route: res.Route, Response: res.Response, SQLQuery: res.SQLQuery, SummaryTable: res.SummaryTable, Layout: Narrative}

	var payloads []string
	for _, d := range res.Charts {
		p, err := a.charts.LoadPayload(ctx, d)
		if err == nil && !json.Valid([]byte(p)) {
			err = errors.New("payload is not valid JSON")
		}
		if err != nil {
			logger.Warn("Could not display chart", "title", d.Title, "error", err)
			turn.Warnings = append(turn.Warnings, fmt.Sprintf("Could not display chart %q", d.Title))
			continue
		}
		payloads = append(payloads, p)
	}

	if res.SQLQuery != "" {
		turn.Layout = TwoPane
		idx, err := a.store.AppendQuery(ctx, a.sessionID, history.QueryRecord{Route: res.Route.String(), Query: res.SQLQuery, Response: res.Response})
		if err != nil {
			return nil, fmt.Errorf("recording query: %w", err)
		}
		m := QueryMarker(idx)
		if err := a.say(ctx, m); err != nil {
			return nil, fmt.Errorf("recording query marker: %w", err)
		}
		turn.Markers = append(turn.Markers, m)
	} else {
		if err := a.say(ctx, res.Response); err != nil {
			return nil, fmt.Errorf("recording response: %w", err)
		}
	}

	for _, p := range payloads {
		idx, err := a.store.AppendPlot(ctx, a.sessionID, p)
		if err != nil {
			return nil, fmt.Errorf("recording chart: %w", err)
		}
		m := PlotMarker(idx)
		if err := a.say(ctx, m); err != nil {
			return nil, fmt.Errorf("recording chart marker: %w", err)
		}
		turn.Markers = append(turn.Markers, m)
		turn.Charts = append(turn.Charts, p)
	}
	return turn, nil
}

// Entry kinds produced by Replay.
const (
	KindText    = "text"
	KindPlot    = "plot"
	KindQuery   = "query"
	KindWarning = "warning"
)

// Entry is one displayable history item.
type Entry struct {
	Role    string               `json:"role"`
	Kind    string               `json:"kind"`
	Content string               `json:"content,omitempty"`
	Plot    json.RawMessage      `json:"plot,omitempty"`
	Query   *history.QueryRecord `json:"query,omitempty"`
}

// Replay resolves every marker in the conversation. A marker pointing at a
// missing entry becomes a warning entry rather than an error.
func (a *Assembler) Replay(ctx context.Context) ([]Entry, error) {
	msgs, err := a.store.Messages(ctx, a.sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		kind, idx, ok := ParseMarker(m.Content)
		if !ok || m.Role != history.RoleAssistant {
			out = append(out, Entry{Role: m.Role, Kind: KindText, Content: m.Content})
			continue
		}
		switch kind {
		case PlotMarkerKind:
			p, err := a.store.Plot(ctx, a.sessionID, idx)
			if err != nil {
				out = append(out, a.warning(m, err))
				continue
			}
			out = append(out, Entry{Role: m.Role, Kind: KindPlot, Plot: json.RawMessage(p)})
		case QueryMarkerKind:
			q, err := a.store.Query(ctx, a.sessionID, idx)
			if err != nil {
				out = append(out, a.warning(m, err))
				continue
			}
			out = append(out, Entry{Role: m.Role, Kind: KindQuery, Content: q.Response, Query: &q})
		}
	}
	return out, nil
}

func (a *Assembler) warning(m history.Message, err error) Entry {
	if !errors.Is(err, history.ErrIndexOutOfRange) {
		logger.Warn("History entry unavailable", "marker", m.Content, "error", err)
	}
	return Entry{Role: m.Role, Kind: KindWarning, Content: fmt.Sprintf("History entry %s is no longer available.", m.Content)}
}
