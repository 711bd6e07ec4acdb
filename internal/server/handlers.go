package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Iron-Ham/foreman/internal/definition"
	"github.com/Iron-Ham/foreman/internal/errors"
	"github.com/Iron-Ham/foreman/internal/pipeline"
)

// LaunchResponse is returned by POST /api/pipelines.
type LaunchResponse struct {
	ID string `json:"id"`
}

// EscalateRequest is the body of POST /api/pipelines/{id}/escalate.
type EscalateRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleLaunch accepts a definition in JSON or YAML. Template names are
// expanded the same way definition files are.
func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, errors.NewValidationError("request body too large or unreadable").WithCause(err))
		return
	}

	def, err := definition.Parse(body)
	if err != nil {
		s.writeError(w, err)
		return
	}

	id, err := s.manager.Launch(r.Context(), def)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Location", "/api/pipelines/"+id)
	writeJSON(w, http.StatusCreated, LaunchResponse{ID: id})
}

// handleList returns summaries. ?status= accepts a comma separated list.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var statuses []pipeline.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, ok := pipeline.ParseStatus(strings.TrimSpace(part))
			if !ok {
				s.writeError(w, errors.NewValidationError("unknown status").WithField("status").WithValue(part))
				return
			}
			statuses = append(statuses, st)
		}
	}

	pipelines := s.manager.List(statuses...)
	summaries := make([]pipeline.Summary, 0, len(pipelines))
	for _, p := range pipelines {
		summaries = append(summaries, p.Summarize())
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	p, err := s.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.manager.Abort(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.respondWithPipeline(w, id)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var d pipeline.Decision
	if err := decodeBody(w, r, &d); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.manager.ResumeFromEscalation(r.Context(), id, d); err != nil {
		s.writeError(w, err)
		return
	}
	s.respondWithPipeline(w, id)
}

func (s *Server) handleEscalate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req EscalateRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.manager.Escalate(r.Context(), id, req.Reason); err != nil {
		s.writeError(w, err)
		return
	}
	s.respondWithPipeline(w, id)
}

// respondWithPipeline answers a successful command with the pipeline's
// state right after it.
func (s *Server) respondWithPipeline(w http.ResponseWriter, id string) {
	p, err := s.manager.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// decodeBody decodes an optional JSON body. An empty body leaves v unchanged.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return errors.NewValidationError("malformed request body").WithCause(err)
	}
	return nil
}
