// Package api exposes analyst sessions over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/marketing-analyst/internal/campaign"
	"github.com/ignite/marketing-analyst/internal/jobs"
	"github.com/ignite/marketing-analyst/internal/session"
)

// DraftPublisher stores email copy as a reusable template.
type DraftPublisher interface {
	Publish(ctx context.Context, name, subject, body string) (*campaign.Draft, error)
}

// JobQueue enqueues maintenance jobs.
type JobQueue interface {
	Enqueue(ctx context.Context, typ jobs.JobType, requestedBy string) (*jobs.Job, error)
}

// ModelLister reports the models sessions may use.
type ModelLister interface {
	Models() []string
}

// Options wire the server. Publisher, Queue and Health are optional.
type Options struct {
	Sessions       *session.Manager
	Models         ModelLister
	Publisher      DraftPublisher
	Queue          JobQueue
	Health         *HealthChecker
	AllowedOrigins []string
}

// Server represents the API server
type Server struct {
	opts    Options
	handler http.Handler
	server  *http.Server
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	if opts.Health == nil {
		opts.Health = NewHealthChecker(nil, nil)
	}
	s := &Server{opts: opts}
	s.handler = s.routes()
	return s
}

// ListenAndServe starts the HTTP server. Write timeouts leave room for a
// full analysis turn, which makes several model calls.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}
