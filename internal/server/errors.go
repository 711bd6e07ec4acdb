package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Iron-Ham/foreman/internal/errors"
)

// Error kinds reported in error responses.
const (
	KindDefinition = "definition"
	KindValidation = "validation"
	KindNotFound   = "not_found"
	KindConflict   = "conflict"
	KindWorkspace  = "workspace"
	KindInternal   = "internal"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// classify maps the error taxonomy onto HTTP status codes.
func classify(err error) (int, string) {
	var (
		defErr *errors.DefinitionError
		valErr *errors.ValidationError
		nfErr  *errors.NotFoundError
		pipErr *errors.PipelineError
		wsErr  *errors.WorkspaceError
	)
	switch {
	case errors.As(err, &defErr):
		return http.StatusBadRequest, KindDefinition
	case errors.As(err, &valErr):
		return http.StatusBadRequest, KindValidation
	case errors.As(err, &nfErr), errors.Is(err, errors.ErrPipelineNotFound):
		return http.StatusNotFound, KindNotFound
	case errors.As(err, &pipErr):
		return http.StatusConflict, KindConflict
	case errors.As(err, &wsErr):
		return http.StatusBadGateway, KindWorkspace
	default:
		return http.StatusInternalServerError, KindInternal
	}
}

// errorResponse builds the response for err. Messages of errors that are
// not safe to show operators are replaced by the status text.
func errorResponse(err error) (int, ErrorResponse) {
	status, kind := classify(err)
	msg := err.Error()
	if !errors.IsUserFacing(err) {
		msg = strings.ToLower(http.StatusText(status))
	}
	return status, ErrorResponse{Error: msg, Kind: kind}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, resp := errorResponse(err)
	sev := errors.GetSeverity(err)
	attrs := []any{"status", status, "severity", sev.String(), "error", err.Error()}
	switch sev {
	case errors.SeverityError, errors.SeverityCritical:
		s.logger.Error("request failed", attrs...)
	case errors.SeverityWarning:
		s.logger.Warn("request rejected", attrs...)
	default:
		s.logger.Debug("request rejected", attrs...)
	}
	writeJSON(w, status, resp)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
