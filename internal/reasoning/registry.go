package reasoning

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ignite/marketing-analyst/internal/config"
	"github.com/ignite/marketing-analyst/internal/pkg/logger"
)

// Provider kinds.
const (
	KindOpenAI     = "openai"
	KindCompatible = "compatible"
	KindBedrock    = "bedrock"
)

// BedrockModelID strips the optional "bedrock:" prefix used to route a model
// to Bedrock.
func BedrockModelID(m string) string {
	return strings.TrimPrefix(m, "bedrock:")
}

func isBedrockModel(m string) bool {
	return strings.HasPrefix(m, "bedrock:") || strings.HasPrefix(m, "anthropic.")
}

// Registry routes each request to the provider that serves its model and
// applies the per-call timeout.
type Registry struct {
	providers map[string]Provider
	models    map[string]string
	timeout   time.Duration
}

// NewRegistry creates an empty registry.
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		models:    make(map[string]string),
		timeout:   timeout,
	}
}

// Register binds a provider kind and the model names it serves.
func (r *Registry) Register(kind string, p Provider, models ...string) {
	r.providers[kind] = p
	for _, m := range models {
		r.models[m] = kind
	}
}

// NewRegistryFromConfig wires the configured providers. Bedrock is only
// set up when enabled since it needs AWS credentials at start-up.
func NewRegistryFromConfig(ctx context.Context, cfg config.ReasoningConfig) (*Registry, error) {
	r := NewRegistry(cfg.Timeout())
	r.Register(KindOpenAI, NewOpenAIProvider(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, cfg.Timeout()).WithRetries(cfg.MaxRetries), cfg.OpenAI.Models...)
	r.Register(KindCompatible, NewCompatibleProvider(cfg.Compatible.BaseURL, cfg.Compatible.APIKey, cfg.Timeout()), cfg.Compatible.Models...)
	if cfg.Bedrock.Enabled {
		bp, err := NewBedrockProvider(ctx, cfg.Bedrock.Region)
		if err != nil {
			return nil, err
		}
		r.Register(KindBedrock, bp, cfg.Bedrock.Models...)
	}
	logger.Info("Reasoning providers registered", "models", strings.Join(r.Models(), ","))
	return r, nil
}

// Lookup returns the provider kind for a model.
func (r *Registry) Lookup(model string) (string, error) {
	if kind, ok := r.models[model]; ok {
		return kind, nil
	}
	if isBedrockModel(model) {
		if _, ok := r.providers[KindBedrock]; ok {
			return KindBedrock, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownModel, model)
}

// Supports reports whether a model can be served.
func (r *Registry) Supports(model string) bool {
	_, err := r.Lookup(model)
	return err == nil
}

// Models lists the explicitly registered model names.
func (r *Registry) Models() []string {
	out := make([]string, 0, len(r.models))
	for m := range r.models {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Complete dispatches to the model's provider.
func (r *Registry) Complete(ctx context.Context, req Request) (string, error) {
	kind, err := r.Lookup(req.Model)
	if err != nil {
		return "", err
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	start := time.Now()
	out, err := r.providers[kind].Complete(ctx, req)
	logger.Debug("Reasoning call", "model", req.Model, "provider", kind, "duration_ms", time.Since(start).Milliseconds(), "error", err)
	return out, err
}
