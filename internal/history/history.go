// Package history stores the conversation of each session: chat messages
// plus the chart payloads and query records they reference by index.
// Every list is append-only, so an index returned by an append stays valid
// for the life of the session.
package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// WelcomeMessage opens every new conversation.
const WelcomeMessage = "How can I help you?"

// ErrIndexOutOfRange is returned for a plot or query index that was never
// appended.
var ErrIndexOutOfRange = errors.New("history index out of range")

// Roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat entry. Assistant messages may be marker strings that
// point at a plot or query record.
type Message struct {
	Role    string `json:"role" dynamodbav:"role"`
	Content string `json:"content" dynamodbav:"content"`
}

// QueryRecord pairs an executed query with the narrative shown next to it
// and the route that produced them.
type QueryRecord struct {
	Route    string `json:"route,omitempty" dynamodbav:"route,omitempty"`
	Query    string `json:"query" dynamodbav:"query"`
	Response string `json:"response" dynamodbav:"response"`
}

// Store persists conversations keyed by session id.
type Store interface {
	AppendMessage(ctx context.Context, sessionID string, m Message) (int, error)
	AppendPlot(ctx context.Context, sessionID, payload string) (int, error)
	AppendQuery(ctx context.Context, sessionID string, q QueryRecord) (int, error)
	Messages(ctx context.Context, sessionID string) ([]Message, error)
	Plot(ctx context.Context, sessionID string, idx int) (string, error)
	Query(ctx context.Context, sessionID string, idx int) (QueryRecord, error)
	Delete(ctx context.Context, sessionID string) error
}

// Seed writes the welcome message to an empty conversation.
func Seed(ctx context.Context, s Store, sessionID string) error {
	msgs, err := s.Messages(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(msgs) > 0 {
		return nil
	}
	_, err = s.AppendMessage(ctx, sessionID, Message{Role: RoleAssistant, Content: WelcomeMessage})
	return err
}

func outOfRange(kind string, idx, n int) error {
	return fmt.Errorf("%s %d of %d: %w", kind, idx, n, ErrIndexOutOfRange)
}

type conversation struct {
	messages []Message
	plots    []string
	queries  []QueryRecord
}

// MemoryStore keeps conversations in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*conversation
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string]*conversation)}
}

func (m *MemoryStore) conv(sessionID string) *conversation {
	c, ok := m.convs[sessionID]
	if !ok {
		c = &conversation{}
		m.convs[sessionID] = c
	}
	return c
}

func (m *MemoryStore) AppendMessage(ctx context.Context, sessionID string, msg Message) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.conv(sessionID)
	c.messages = append(c.messages, msg)
	return len(c.messages) - 1, nil
}

func (m *MemoryStore) AppendPlot(ctx context.Context, sessionID, payload string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.conv(sessionID)
	c.plots = append(c.plots, payload)
	return len(c.plots) - 1, nil
}

func (m *MemoryStore) AppendQuery(ctx context.Context, sessionID string, q QueryRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.conv(sessionID)
	c.queries = append(c.queries, q)
	return len(c.queries) - 1, nil
}

func (m *MemoryStore) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.convs[sessionID]
	if !ok {
		return nil, nil
	}
	return append([]Message(nil), c.messages...), nil
}

func (m *MemoryStore) Plot(ctx context.Context, sessionID string, idx int) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var plots []string
	if c, ok := m.convs[sessionID]; ok {
		plots = c.plots
	}
	if idx < 0 || idx >= len(plots) {
		return "", outOfRange("plot", idx, len(plots))
	}
	return plots[idx], nil
}

func (m *MemoryStore) Query(ctx context.Context, sessionID string, idx int) (QueryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var queries []QueryRecord
	if c, ok := m.convs[sessionID]; ok {
		queries = c.queries
	}
	if idx < 0 || idx >= len(queries) {
		return QueryRecord{}, outOfRange("query", idx, len(queries))
	}
	return queries[idx], nil
}

func (m *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.convs, sessionID)
	return nil
}
