package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/marketing-analyst/internal/campaign"
	"github.com/ignite/marketing-analyst/internal/dataset"
	"github.com/ignite/marketing-analyst/internal/history"
	"github.com/ignite/marketing-analyst/internal/orchestrator"
	"github.com/ignite/marketing-analyst/internal/pkg/httputil"
	"github.com/ignite/marketing-analyst/internal/router"
	"github.com/ignite/marketing-analyst/internal/session"
)

const datasetUnavailable = "The dataset could not be loaded. Please try again later."

type createSessionRequest struct {
	Model      string `json:"model"`
	Credential string `json:"credential"`
}

type sessionResponse struct {
	SessionID string    `json:"session_id"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

type invokeRequest struct {
	Text string `json:"text"`
}

type setModelRequest struct {
	Model string `json:"model"`
}

type publishRequest struct {
	TemplateName string `json:"template_name"`
	Subject      string `json:"subject"`
}

// session resolves {id} or writes a 404.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.opts.Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		httputil.NotFound(w, err.Error())
		return nil, false
	}
	return sess, true
}

//	GET /api/models
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	var models []string
	if s.opts.Models != nil {
		models = s.opts.Models.Models()
	}
	httputil.OK(w, map[string]any{"models": models})
}

//	POST /api/sessions
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	sess, err := s.opts.Sessions.Create(r.Context(), req.Model, req.Credential)
	switch {
	case errors.Is(err, session.ErrUnknownModel):
		httputil.BadRequest(w, err.Error())
		return
	case dataset.IsFatal(err):
		httputil.InternalError(w, r, err, datasetUnavailable)
		return
	case err != nil:
		httputil.InternalError(w, r, err, orchestrator.ErrorText)
		return
	}
	httputil.Created(w, sessionResponse{SessionID: sess.ID, Model: sess.Model(), CreatedAt: sess.CreatedAt})
}

//	DELETE /api/sessions/{id}
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.session(w, r); !ok {
		return
	}
	s.opts.Sessions.Delete(chi.URLParam(r, "id"))
	httputil.NoContent(w)
}

// handleInvoke runs one analysis turn. Failures answer with the same text
// the conversation history records.
//
//	POST /api/sessions/{id}/invoke
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req invokeRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	turn, err := sess.Invoke(r.Context(), req.Text)
	if err != nil {
		httputil.InternalError(w, r, err, orchestrator.ErrorText)
		return
	}
	httputil.OK(w, turn)
}

//	GET /api/sessions/{id}/history
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	entries, err := sess.History(r.Context())
	if err != nil {
		httputil.InternalError(w, r, err, "Conversation history is unavailable.")
		return
	}
	httputil.OK(w, map[string]any{"entries": entries})
}

//	PUT /api/sessions/{id}/model
func (s *Server) handleSetModel(w http.ResponseWriter, r *http.Request) {
	var req setModelRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	err := s.opts.Sessions.SetModel(r.Context(), id, req.Model)
	switch {
	case errors.Is(err, session.ErrNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, session.ErrUnknownModel):
		httputil.BadRequest(w, err.Error())
	case err != nil:
		httputil.InternalError(w, r, err, orchestrator.ErrorText)
	default:
		sess, err := s.opts.Sessions.Get(id)
		if err != nil {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.OK(w, sessionResponse{SessionID: sess.ID, Model: sess.Model(), CreatedAt: sess.CreatedAt})
	}
}

//	POST /api/sessions/{id}/refresh
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	err := s.opts.Sessions.Refresh(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, session.ErrNotFound):
		httputil.NotFound(w, err.Error())
	case err != nil:
		httputil.InternalError(w, r, err, datasetUnavailable)
	default:
		httputil.OK(w, map[string]string{"status": "refreshed"})
	}
}

//	GET /api/sessions/{id}/charts
func (s *Server) handleCharts(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	httputil.OK(w, map[string]any{"charts": sess.Charts()})
}

// handlePublish stores the email copy of a recorded email_writer query as an
// SES template. Records from other routes are rejected.
//
//	POST /api/sessions/{id}/queries/{index}/publish
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if s.opts.Publisher == nil {
		httputil.Unavailable(w, campaign.ErrDisabled.Error())
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		httputil.BadRequest(w, "index must be an integer")
		return
	}
	var req publishRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	rec, err := sess.Query(r.Context(), idx)
	if errors.Is(err, history.ErrIndexOutOfRange) {
		httputil.NotFound(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalError(w, r, err, "Conversation history is unavailable.")
		return
	}
	if rec.Route != router.EmailWriter.String() {
		httputil.BadRequest(w, "only email_writer drafts can be published")
		return
	}

	draft, err := s.opts.Publisher.Publish(r.Context(), req.TemplateName, req.Subject, rec.Response)
	switch {
	case errors.Is(err, campaign.ErrInvalidName), errors.Is(err, campaign.ErrEmptyDraft):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, campaign.ErrTemplateTaken):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, campaign.ErrDisabled):
		httputil.Unavailable(w, err.Error())
	case err != nil:
		httputil.InternalError(w, r, err, "The draft could not be published.")
	default:
		httputil.Created(w, draft)
	}
}
