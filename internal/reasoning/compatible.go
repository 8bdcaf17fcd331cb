package reasoning

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ChatModelFactory builds an eino chat model bound to one model name.
type ChatModelFactory func(ctx context.Context, modelName, apiKey string) (model.BaseChatModel, error)

// CompatibleProvider serves locally hosted models through any endpoint that
// speaks the OpenAI chat API (Ollama by default).
type CompatibleProvider struct {
	factory ChatModelFactory
	apiKey  string

	mu     sync.Mutex
	models map[string]model.BaseChatModel
}

// NewCompatibleProvider points the eino OpenAI chat model at baseURL.
func NewCompatibleProvider(baseURL, apiKey string, timeout time.Duration) *CompatibleProvider {
	if apiKey == "" {
		// Ollama ignores the key but the client requires one.
		apiKey = "ollama"
	}
	factory := func(ctx context.Context, modelName, key string) (model.BaseChatModel, error) {
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:  key,
			BaseURL: baseURL,
			Model:   modelName,
			Timeout: timeout,
		})
	}
	return NewCompatibleProviderWithFactory(factory, apiKey)
}

// NewCompatibleProviderWithFactory uses a custom chat model factory.
func NewCompatibleProviderWithFactory(factory ChatModelFactory, apiKey string) *CompatibleProvider {
	return &CompatibleProvider{
		factory: factory,
		apiKey:  apiKey,
		models:  make(map[string]model.BaseChatModel),
	}
}

func (c *CompatibleProvider) chatModel(ctx context.Context, name string) (model.BaseChatModel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.models[name]; ok {
		return m, nil
	}
	m, err := c.factory(ctx, name, c.apiKey)
	if err != nil {
		return nil, fmt.Errorf("creating chat model %s: %w", name, err)
	}
	c.models[name] = m
	return m, nil
}

// Complete generates one reply.
func (c *CompatibleProvider) Complete(ctx context.Context, req Request) (string, error) {
	m, err := c.chatModel(ctx, req.Model)
	if err != nil {
		return "", err
	}

	prompt := req.Prompt
	if req.JSON {
		prompt += "\n\nRespond with a single JSON object and nothing else."
	}
	msgs := make([]*schema.Message, 0, 2)
	if req.System != "" {
		msgs = append(msgs, schema.SystemMessage(req.System))
	}
	msgs = append(msgs, schema.UserMessage(prompt))

	out, err := m.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("%s: %w", req.Model, err)
	}
	if out == nil || strings.TrimSpace(out.Content) == "" {
		return "", ErrEmptyResponse
	}
	return out.Content, nil
}
