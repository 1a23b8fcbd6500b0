package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/TimurManjosov/flagrules/internal/engine"
	"github.com/TimurManjosov/flagrules/internal/snapshot"
)

// evaluateRequest is the body of POST /v1/evaluate. Feature is optional; without it every
// feature of the snapshot is evaluated.
type evaluateRequest struct {
	Target  *engine.Target `json:"target"`
	Feature string         `json:"feature,omitempty"`
}

type evaluateResponse struct {
	Results     []engine.Result `json:"results"`
	ETag        string          `json:"etag"`
	EvaluatedAt string          `json:"evaluatedAt"`
}

// handleEvaluate evaluates against the in-memory snapshot only; it never reads the store
// for features. Segments are resolved through the evaluator's segment source.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Target == nil || strings.TrimSpace(req.Target.Identifier) == "" {
		BadRequestErrorWithFields(w, r, ErrCodeMissingField, "Missing required field", map[string]string{
			"target.identifier": "target.identifier is required",
		})
		return
	}

	snap := snapshot.Load()
	resp := evaluateResponse{
		ETag:        snap.ETag,
		EvaluatedAt: time.Now().UTC().Format(time.RFC3339),
	}

	key := strings.TrimSpace(req.Feature)
	if key == "" {
		resp.Results = s.evaluator.EvaluateAll(r.Context(), snap.List(), *req.Target)
		if resp.Results == nil {
			resp.Results = []engine.Result{}
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	f, ok := snap.Get(key)
	if !ok {
		NotFoundError(w, r, "Feature '"+key+"' not found")
		return
	}
	res, err := s.evaluator.Evaluate(r.Context(), f, *req.Target)
	if err != nil {
		var evalErr *engine.EvaluationError
		if errors.As(err, &evalErr) {
			writeErrorResponse(w, r, http.StatusUnprocessableEntity,
				NewErrorResponse(http.StatusUnprocessableEntity, ErrCodeEvaluation, err.Error()))
			return
		}
		s.log.Error().Err(err).Str("feature", key).Msg("evaluate")
		InternalError(w, r, "Evaluation failed")
		return
	}
	resp.Results = []engine.Result{res}
	writeJSON(w, http.StatusOK, resp)
}
