// Package reasoning talks to the language models that classify questions,
// write SQL and narrate results.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownModel is returned when no provider serves the requested model.
	ErrUnknownModel = errors.New("unknown model")
	// ErrEmptyResponse is returned when the model produced no text.
	ErrEmptyResponse = errors.New("empty response from model")
	// ErrNoJSON is returned when a JSON object was expected but not found.
	ErrNoJSON = errors.New("no JSON object in response")
)

// Request is a single prompt/response exchange.
type Request struct {
	Model      string
	Credential string
	System     string
	Prompt     string
	// JSON asks the provider for a JSON object response when it supports it.
	JSON bool
}

// Provider completes prompts. Implementations must be safe for concurrent use.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) (string, error)

// Complete calls f.
func (f ProviderFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// ExtractJSON returns the first balanced JSON object in text, skipping any
// prose or code fences around it.
func ExtractJSON(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	for start >= 0 {
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(text); i++ {
			c := text[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return text[start : i+1], nil
				}
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", fmt.Errorf("%w: %q", ErrNoJSON, truncate(text, 120))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
