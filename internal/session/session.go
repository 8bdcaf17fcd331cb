// Package session owns everything one analyst conversation needs: its
// dataset cache, chart catalog, query engines, orchestration engine and
// history writer. Sessions live in an in-process registry with idle expiry.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/marketing-analyst/internal/assembler"
	"github.com/ignite/marketing-analyst/internal/catalog"
	"github.com/ignite/marketing-analyst/internal/dataset"
	"github.com/ignite/marketing-analyst/internal/handler"
	"github.com/ignite/marketing-analyst/internal/history"
	"github.com/ignite/marketing-analyst/internal/orchestrator"
	"github.com/ignite/marketing-analyst/internal/pkg/distlock"
	"github.com/ignite/marketing-analyst/internal/pkg/logger"
	"github.com/ignite/marketing-analyst/internal/reasoning"
	"github.com/ignite/marketing-analyst/internal/router"
	"github.com/ignite/marketing-analyst/internal/storage"
	"github.com/patrickmn/go-cache"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrUnknownModel = errors.New("unsupported model")
)

// ModelChecker reports whether a model can be served.
type ModelChecker interface {
	Supports(model string) bool
}

// Options configure a Manager.
type Options struct {
	Loader       dataset.Loader
	// NewLock, when set, returns a fresh lock per session; reloads are then
	// serialized across processes.
	NewLock      func() distlock.DistLock
	Provider     reasoning.Provider
	Models       ModelChecker
	Artifacts    storage.ArtifactStore
	History      history.Store
	DefaultModel string
	IdleTimeout  time.Duration
}

// Manager is the session registry.
type Manager struct {
	opts     Options
	sessions *cache.Cache
}

// NewManager creates a registry. Idle sessions expire after
// opts.IdleTimeout and release their query engines.
func NewManager(opts Options) *Manager {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = time.Hour
	}
	m := &Manager{opts: opts, sessions: cache.New(opts.IdleTimeout, opts.IdleTimeout/2)}
	m.sessions.OnEvicted(func(id string, v interface{}) {
		s := v.(*Session)
		s.close()
		if err := opts.History.Delete(context.Background(), id); err != nil {
			logger.Warn("Deleting expired session history", "session", id, "error", err)
		}
		logger.Info("Session expired", "session", id)
	})
	return m
}

// Session is one conversation.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu         sync.Mutex // one turn at a time
	model      string
	credential string
	provider   reasoning.Provider
	cache      *dataset.Cache
	catalog    *catalog.Catalog
	engines    *handler.EnginePool
	engine     *orchestrator.Engine
	assembler  *assembler.Assembler
	history    history.Store
}

func (m *Manager) checkModel(model string) (string, error) {
	if model == "" {
		model = m.opts.DefaultModel
	}
	if m.opts.Models != nil && !m.opts.Models.Supports(model) {
		return "", fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	return model, nil
}

// Create starts a session: loads the dataset, generates the chart catalog
// and seeds the conversation. A first dataset load failure is returned as a
// *dataset.FatalLoadError.
func (m *Manager) Create(ctx context.Context, model, credential string) (*Session, error) {
	model, err := m.checkModel(model)
	if err != nil {
		return nil, err
	}
	id := uuid.New().String()

	var cacheOpts []dataset.Option
	if m.opts.NewLock != nil {
		if l := m.opts.NewLock(); l != nil {
			cacheOpts = append(cacheOpts, dataset.WithLock(l))
		}
	}
	s := &Session{
		ID:         id,
		CreatedAt:  time.Now(),
		model:      model,
		credential: credential,
		provider:   m.opts.Provider,
		cache:      dataset.NewCache(m.opts.Loader, cacheOpts...),
		catalog:    catalog.New(prefixed{m.opts.Artifacts, id}, m.opts.Provider),
		engines:    handler.NewEnginePool(),
		history:    m.opts.History,
	}
	s.assembler = assembler.New(m.opts.History, id, s.catalog)

	snap, err := s.cache.Load(ctx, false)
	if err != nil {
		return nil, err
	}
	if err := s.catalog.Generate(ctx, snap); err != nil {
		return nil, fmt.Errorf("generating charts: %w", err)
	}
	if err := history.Seed(ctx, m.opts.History, id); err != nil {
		return nil, fmt.Errorf("seeding history: %w", err)
	}
	if err := s.rebuild(ctx); err != nil {
		return nil, err
	}

	m.sessions.SetDefault(id, s)
	logger.Info("Session created", "session", id, "model", model, "snapshot", snap.Version)
	return s, nil
}

// Get returns a live session and extends its idle expiry.
func (m *Manager) Get(id string) (*Session, error) {
	v, ok := m.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.sessions.SetDefault(id, v)
	return v.(*Session), nil
}

// SetModel switches the session to another model. The orchestration engine
// is rebuilt; history and dataset are kept.
func (m *Manager) SetModel(ctx context.Context, id, model string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	model, err = m.checkModel(model)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == model {
		return nil
	}
	prev := s.model
	s.model = model
	if err := s.rebuild(ctx); err != nil {
		s.model = prev
		return err
	}
	logger.Info("Session model changed", "session", id, "model", model)
	return nil
}

// Refresh reloads the dataset and regenerates charts when it changed. On
// failure the session keeps answering from the previous snapshot.
func (m *Manager) Refresh(ctx context.Context, id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cache.Refresh(ctx); err != nil {
		return err
	}
	snap, err := s.cache.Get(ctx)
	if err != nil {
		return err
	}
	return s.catalog.Generate(ctx, snap)
}

// Delete ends a session now.
func (m *Manager) Delete(id string) {
	m.sessions.Delete(id)
}

// Len is the number of live sessions.
func (m *Manager) Len() int { return m.sessions.ItemCount() }

func (s *Session) rebuild(ctx context.Context) error {
	handlers := handler.NewSet(handler.Deps{Provider: s.provider, Charts: s.catalog, Engines: s.engines})
	e, err := orchestrator.New(ctx, s.cache, router.NewClassifier(s.provider), handlers, s.model, s.credential)
	if err != nil {
		return fmt.Errorf("building analyst: %w", err)
	}
	s.engine = e
	return nil
}

func (s *Session) close() {
	if err := s.engines.Close(); err != nil {
		logger.Warn("Closing query engine", "session", s.ID, "error", err)
	}
}

// Model is the model currently answering.
func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// Invoke answers a question and records the turn. When the turn fails the
// generic error text is recorded and the error returned.
func (s *Session) Invoke(ctx context.Context, text string) (*assembler.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.assembler.RecordQuestion(ctx, text); err != nil {
		return nil, fmt.Errorf("recording question: %w", err)
	}
	res, err := s.engine.Invoke(ctx, text)
	if err != nil {
		logger.Error("Error during agent invocation", "session", s.ID, "error", err)
		if rerr := s.assembler.RecordFailure(ctx, orchestrator.ErrorText); rerr != nil {
			logger.Warn("Recording failure message", "session", s.ID, "error", rerr)
		}
		return nil, err
	}
	return s.assembler.Finalize(ctx, res)
}

// History replays the conversation.
func (s *Session) History(ctx context.Context) ([]assembler.Entry, error) {
	return s.assembler.Replay(ctx)
}

// Charts lists the session's chart catalog.
func (s *Session) Charts() []catalog.Descriptor {
	return s.catalog.Descriptors()
}

// Query returns a recorded query and its narrative.
func (s *Session) Query(ctx context.Context, idx int) (history.QueryRecord, error) {
	return s.history.Query(ctx, s.ID, idx)
}

// prefixed keeps the artifacts of different sessions apart in a shared store.
type prefixed struct {
	storage.ArtifactStore
	sessionID string
}

func (p prefixed) Put(ctx context.Context, name string, data []byte) (string, error) {
	return p.ArtifactStore.Put(ctx, p.sessionID+"-"+name, data)
}
