package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/TimurManjosov/flagrules/internal/audit"
	"github.com/TimurManjosov/flagrules/internal/editor"
	"github.com/TimurManjosov/flagrules/internal/rules"
	"github.com/TimurManjosov/flagrules/internal/snapshot"
	"github.com/TimurManjosov/flagrules/internal/store"
	"github.com/TimurManjosov/flagrules/internal/telemetry"
	"github.com/TimurManjosov/flagrules/internal/validation"
	"github.com/TimurManjosov/flagrules/internal/webhook"
)

// validateResponse is returned by POST /v1/features/{key}/validate.
type validateResponse struct {
	Valid           bool               `json:"valid"`
	Issues          []validation.Issue `json:"issues"`
	IncompleteRules []int              `json:"incompleteRules"`
	States          []editor.State     `json:"states"`
}

// saveRulesResponse is returned by PUT /v1/features/{key}/rules.
type saveRulesResponse struct {
	EnvProperties rules.EnvProperties `json:"envProperties"`
	ETag          string              `json:"etag"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := snapshot.Load()
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("ETag", snap.ETag)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == snap.ETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleListFeatures(w http.ResponseWriter, r *http.Request) {
	features, err := s.store.ListFeatures(r.Context(), s.envParam(r))
	if err != nil {
		s.log.Error().Err(err).Msg("list features")
		InternalError(w, r, "Failed to list features")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"features": features})
}

func (s *Server) handleGetFeature(w http.ResponseWriter, r *http.Request) {
	f, ok := s.loadFeature(w, r, chi.URLParam(r, "key"), s.envParam(r))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// loadFeature writes 404/500 itself when the feature cannot be returned.
func (s *Server) loadFeature(w http.ResponseWriter, r *http.Request, key, env string) (*rules.Feature, bool) {
	f, err := s.store.GetFeature(r.Context(), key, env)
	switch {
	case errors.Is(err, store.ErrNotFound):
		NotFoundError(w, r, "Feature '"+key+"' not found")
		return nil, false
	case err != nil:
		s.log.Error().Err(err).Str("feature", key).Msg("get feature")
		InternalError(w, r, "Failed to load feature")
		return nil, false
	}
	return f, true
}

func (s *Server) handleUpsertFeature(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var f rules.Feature
	if !decodeJSON(w, r, &f) {
		return
	}

	if f.Identifier == "" {
		f.Identifier = key
	}
	if f.Identifier != key {
		BadRequestErrorWithFields(w, r, ErrCodeInvalidKey, "Identifier does not match the path",
			map[string]string{"identifier": "must equal " + key})
		return
	}
	if f.EnvProperties.Environment == "" {
		f.EnvProperties.Environment = s.envParam(r)
	}
	f.EnvProperties.Rules = editor.Renumber(f.EnvProperties.Rules)

	result := validation.ValidateKey(f.Identifier)
	result.Merge(validation.ValidateEnvProperties(f))
	if !result.Valid() {
		ValidationError(w, r, "Feature is invalid", result)
		return
	}

	env := f.EnvProperties.Environment
	before, _ := s.store.GetFeature(r.Context(), key, env)
	saved, err := s.store.UpsertFeature(r.Context(), f)
	if err != nil {
		s.log.Error().Err(err).Str("feature", key).Msg("upsert feature")
		InternalError(w, r, "Failed to save feature")
		return
	}
	s.afterWrite(r, env)

	s.recordAudit(audit.NewEventBuilder(r).
		ForResource(audit.ResourceTypeFeature, key).
		WithAction(actionFor(before == nil)).
		WithEnvironment(env).
		WithStates(before, saved).
		Build())
	s.dispatch(webhook.NewEventBuilder(r).
		ForFeature(key, env).
		WithType(webhook.EventFeatureUpdated).
		WithVersion(saved.EnvProperties.Version).
		WithStates(before, saved).
		Build())

	writeJSON(w, http.StatusOK, saved)
}

func actionFor(created bool) string {
	if created {
		return audit.ActionCreated
	}
	return audit.ActionUpdated
}

func (s *Server) handleDeleteFeature(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	env := s.envParam(r)

	before, _ := s.store.GetFeature(r.Context(), key, env)
	if err := s.store.DeleteFeature(r.Context(), key, env); err != nil {
		s.log.Error().Err(err).Str("feature", key).Msg("delete feature")
		InternalError(w, r, "Failed to delete feature")
		return
	}
	s.afterWrite(r, env)

	if before != nil {
		s.recordAudit(audit.NewEventBuilder(r).
			ForResource(audit.ResourceTypeFeature, key).
			WithAction(audit.ActionDeleted).
			WithEnvironment(env).
			WithStates(before, nil).
			Build())
		s.dispatch(webhook.NewEventBuilder(r).
			ForFeature(key, env).
			WithType(webhook.EventFeatureDeleted).
			WithStates(before, nil).
			Build())
	}
	w.WriteHeader(http.StatusNoContent)
}

// draftFor puts the submitted rule-set on the stored feature definition. The submitted rule
// list is the on-screen order, so priorities are renumbered from it before anything sorts
// by priority.
func draftFor(f rules.Feature, props rules.EnvProperties) rules.Feature {
	if props.Environment == "" {
		props.Environment = f.EnvProperties.Environment
	}
	props.Rules = editor.Renumber(props.Rules)
	f.EnvProperties = props
	return f
}

func (s *Server) handleValidateRules(w http.ResponseWriter, r *http.Request) {
	var props rules.EnvProperties
	if !decodeJSON(w, r, &props) {
		return
	}
	f, ok := s.loadFeature(w, r, chi.URLParam(r, "key"), s.envParam(r))
	if !ok {
		return
	}

	submitted := draftFor(*f, props)
	result := validation.ValidateEnvProperties(submitted)
	draft := editor.NewDraft(submitted)
	writeJSON(w, http.StatusOK, validateResponse{
		Valid:           result.Valid(),
		Issues:          result.Issues,
		IncompleteRules: nonNil(result.IncompleteRules()),
		States:          draft.States(),
	})
}

func nonNil(xs []int) []int {
	if xs == nil {
		return []int{}
	}
	return xs
}

// handleSaveRules replaces the whole rule-set in one step. The body's version must match the
// stored one; a stale version is a 409 and nothing is retried.
func (s *Server) handleSaveRules(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	env := s.envParam(r)

	ctx, span := s.tracer.Start(r.Context(), "SaveRules")
	defer span.End()
	span.SetAttributes(attribute.String("feature", key), attribute.String("env", env))
	r = r.WithContext(ctx)

	var props rules.EnvProperties
	if !decodeJSON(w, r, &props) {
		telemetry.RecordRuleSave("invalid")
		return
	}
	if props.Environment != "" && !strings.EqualFold(props.Environment, env) {
		telemetry.RecordRuleSave("invalid")
		BadRequestErrorWithFields(w, r, ErrCodeBadRequest, "Environment does not match the request",
			map[string]string{"environment": "must equal " + env})
		return
	}
	props.Environment = env

	current, ok := s.loadFeature(w, r, key, env)
	if !ok {
		telemetry.RecordRuleSave("error")
		return
	}

	// issue paths index the rules as submitted
	submitted := draftFor(*current, props)
	if result := validation.ValidateEnvProperties(submitted); !result.Valid() {
		telemetry.RecordRuleSave("invalid")
		span.SetStatus(codes.Error, "validation failed")
		ValidationError(w, r, "Rule-set is incomplete", result)
		return
	}

	next := editor.NewDraft(submitted).Commit()
	saved, err := s.store.SaveEnvProperties(ctx, key, env, next, props.Version)
	switch {
	case errors.Is(err, store.ErrVersionConflict):
		telemetry.RecordRuleSave("conflict")
		span.SetStatus(codes.Error, "version conflict")
		s.recordAudit(audit.NewEventBuilder(r).
			ForResource(audit.ResourceTypeFeature, key).
			WithAction(audit.ActionRulesSaved).
			WithEnvironment(env).
			Failure(err.Error()).
			Build())
		ConflictError(w, r, "Rule-set was changed by someone else; reload and retry")
		return
	case errors.Is(err, store.ErrNotFound):
		telemetry.RecordRuleSave("error")
		NotFoundError(w, r, "Feature '"+key+"' not found")
		return
	case err != nil:
		telemetry.RecordRuleSave("error")
		span.RecordError(err)
		s.log.Error().Err(err).Str("feature", key).Msg("save rules")
		InternalError(w, r, "Failed to save rule-set")
		return
	}

	telemetry.RecordRuleSave("ok")
	s.afterWrite(r, env)

	s.recordAudit(audit.NewEventBuilder(r).
		ForResource(audit.ResourceTypeFeature, key).
		WithAction(audit.ActionRulesSaved).
		WithEnvironment(env).
		WithStates(current.EnvProperties, saved).
		Build())
	s.dispatch(webhook.NewEventBuilder(r).
		ForFeature(key, env).
		WithType(webhook.EventRulesUpdated).
		WithVersion(saved.Version).
		WithStates(current.EnvProperties, saved).
		Build())

	writeJSON(w, http.StatusOK, saveRulesResponse{EnvProperties: *saved, ETag: snapshot.Load().ETag})
}
