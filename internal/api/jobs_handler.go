package api

import (
	"errors"
	"net/http"

	"github.com/ignite/marketing-analyst/internal/jobs"
	"github.com/ignite/marketing-analyst/internal/pkg/httputil"
)

//	POST /api/segmentation/jobs
func (s *Server) handleEnqueueSegmentation(w http.ResponseWriter, r *http.Request) {
	if s.opts.Queue == nil {
		httputil.Unavailable(w, jobs.ErrNoQueue.Error())
		return
	}
	job, err := s.opts.Queue.Enqueue(r.Context(), jobs.JobSegmentation, "api")
	if errors.Is(err, jobs.ErrNoQueue) {
		httputil.Unavailable(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalError(w, r, err, "The segmentation job could not be queued.")
		return
	}
	httputil.Accepted(w, job)
}
