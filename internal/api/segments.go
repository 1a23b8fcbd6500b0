package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/TimurManjosov/flagrules/internal/audit"
	"github.com/TimurManjosov/flagrules/internal/rules"
	"github.com/TimurManjosov/flagrules/internal/store"
	"github.com/TimurManjosov/flagrules/internal/validation"
	"github.com/TimurManjosov/flagrules/internal/webhook"
)

func (s *Server) handleListSegments(w http.ResponseWriter, r *http.Request) {
	segments, err := s.store.ListSegments(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("list segments")
		InternalError(w, r, "Failed to list segments")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"segments": segments})
}

func (s *Server) handleGetSegment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	seg, err := s.store.GetSegment(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		NotFoundError(w, r, "Segment '"+id+"' not found")
		return
	case err != nil:
		s.log.Error().Err(err).Str("segment", id).Msg("get segment")
		InternalError(w, r, "Failed to load segment")
		return
	}
	writeJSON(w, http.StatusOK, seg)
}

func validateSegment(seg rules.Segment) *validation.Result {
	result := validation.ValidateKey(seg.Identifier)
	for i, c := range seg.Rules {
		result.Merge(validation.ValidateClause(fmt.Sprintf("rules[%d]", i), c))
	}
	return result
}

func (s *Server) handleUpsertSegment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var seg rules.Segment
	if !decodeJSON(w, r, &seg) {
		return
	}
	if seg.Identifier == "" {
		seg.Identifier = id
	}
	if seg.Identifier != id {
		BadRequestErrorWithFields(w, r, ErrCodeInvalidKey, "Identifier does not match the path",
			map[string]string{"identifier": "must equal " + id})
		return
	}
	if result := validateSegment(seg); !result.Valid() {
		ValidationError(w, r, "Segment is invalid", result)
		return
	}

	before, _ := s.store.GetSegment(r.Context(), id)
	if err := s.store.UpsertSegment(r.Context(), seg); err != nil {
		s.log.Error().Err(err).Str("segment", id).Msg("upsert segment")
		InternalError(w, r, "Failed to save segment")
		return
	}

	s.recordAudit(audit.NewEventBuilder(r).
		ForResource(audit.ResourceTypeSegment, id).
		WithAction(actionFor(before == nil)).
		WithStates(before, seg).
		Build())
	s.dispatch(webhook.NewEventBuilder(r).
		ForSegment(id).
		WithType(webhook.EventSegmentUpdated).
		WithStates(before, seg).
		Build())

	writeJSON(w, http.StatusOK, seg)
}
