// Package orchestrator runs one analysis turn: classify the question, then
// dispatch it to the matching handler. The flow is an eino graph compiled
// once per engine; no state survives between turns.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/compose"
	"github.com/ignite/marketing-analyst/internal/dataset"
	"github.com/ignite/marketing-analyst/internal/handler"
	"github.com/ignite/marketing-analyst/internal/pkg/logger"
	"github.com/ignite/marketing-analyst/internal/router"
)

// ErrorText is shown when a turn fails.
const ErrorText = "An error occurred while processing your query. Please try again."

const routerNode = "router"

// SnapshotSource provides the dataset for a turn.
type SnapshotSource interface {
	Get(ctx context.Context) (*dataset.Snapshot, error)
}

// Classifier picks the route for a question.
type Classifier interface {
	Classify(ctx context.Context, message, model, credential string) router.Route
}

// turnState flows through the graph.
type turnState struct {
	in     handler.Input
	route  router.Route
	result *handler.Result
	err    error
}

// Engine answers questions for one session model and credential.
type Engine struct {
	runnable   compose.Runnable[*turnState, *turnState]
	source     SnapshotSource
	model      string
	credential string
}

// New compiles the turn graph. Every route must have a handler.
func New(ctx context.Context, source SnapshotSource, classifier Classifier, handlers map[router.Route]handler.Handler, model, credential string) (*Engine, error) {
	g := compose.NewGraph[*turnState, *turnState]()

	err := g.AddLambdaNode(routerNode, compose.InvokableLambda(func(ctx context.Context, s *turnState) (*turnState, error) {
		s.route = classifier.Classify(ctx, s.in.Message, s.in.Model, s.in.Credential)
		if !s.route.Valid() {
			s.route = router.Default
		}
		return s, nil
	}))
	if err != nil {
		return nil, err
	}
	if err := g.AddEdge(compose.START, routerNode); err != nil {
		return nil, err
	}

	ends := make(map[string]bool, len(router.Routes))
	for _, r := range router.Routes {
		h, ok := handlers[r]
		if !ok {
			return nil, fmt.Errorf("no handler for route %s", r)
		}
		route := r
		if err := g.AddLambdaNode(route.String(), compose.InvokableLambda(func(ctx context.Context, s *turnState) (*turnState, error) {
			return run(ctx, route, h, s), nil
		})); err != nil {
			return nil, err
		}
		if err := g.AddEdge(route.String(), compose.END); err != nil {
			return nil, err
		}
		ends[route.String()] = true
	}

	err = g.AddBranch(routerNode, compose.NewGraphBranch(func(ctx context.Context, s *turnState) (string, error) {
		return s.route.String(), nil
	}, ends))
	if err != nil {
		return nil, err
	}

	runnable, err := g.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile graph: %w", err)
	}
	return &Engine{runnable: runnable, source: source, model: model, credential: credential}, nil
}

// run executes one handler. Narrative failures become the generic error
// text; any other error is kept on the state and ends the turn.
func run(ctx context.Context, route router.Route, h handler.Handler, s *turnState) *turnState {
	res, err := h.Run(ctx, s.in)
	switch {
	case errors.Is(err, handler.ErrNarrative):
		logger.Error("Analysis failed", "route", route, "error", err)
		s.result = &handler.Result{Route: route, Response: ErrorText}
	case err != nil:
		s.err = err
	default:
		if res.Route == "" {
			res.Route = route
		}
		if verr := res.Validate(); verr != nil {
			logger.Error("Handler returned an invalid result", "route", route, "error", verr)
			res = &handler.Result{Route: route, Response: ErrorText}
		}
		s.result = res
	}
	return s
}

// Model is the model this engine sends every request to.
func (e *Engine) Model() string { return e.model }

// Invoke answers one question. The returned error is reserved for failures
// that leave the turn without an answer, such as the dataset being
// unavailable.
func (e *Engine) Invoke(ctx context.Context, message string) (*handler.Result, error) {
	snap, err := e.source.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading dataset: %w", err)
	}

	out, err := e.runnable.Invoke(ctx, &turnState{in: handler.Input{
		Message:    message,
		Model:      e.model,
		Credential: e.credential,
		Snapshot:   snap,
	}})
	if err != nil {
		return nil, err
	}
	if out.err != nil {
		return nil, out.err
	}
	logger.Info("Turn completed", "route", out.route, "has_sql", out.result.SQLQuery != "", "charts", len(out.result.Charts))
	return out.result, nil
}
