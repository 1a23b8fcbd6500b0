package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/TimurManjosov/flagrules/internal/rollout"
	"github.com/TimurManjosov/flagrules/internal/rules"
)

// SegmentSource resolves segment identifiers referenced by segmentMatch clauses.
type SegmentSource interface {
	GetSegment(ctx context.Context, identifier string) (*rules.Segment, error)
}

// Recorder receives one call per finished evaluation.
type Recorder interface {
	RecordEvaluation(feature string, reason Reason)
}

type nopRecorder struct{}

func (nopRecorder) RecordEvaluation(string, Reason) {}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the logger used for skipped clauses and evaluation errors.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Evaluator) { e.log = l }
}

// WithTracer sets the tracer; the global provider's tracer is used otherwise.
func WithTracer(t trace.Tracer) Option {
	return func(e *Evaluator) { e.tracer = t }
}

// WithRecorder sets the evaluation metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Evaluator) { e.recorder = r }
}

// Evaluator applies a feature's rule-set to a target. Precedence is fixed:
// individual targets, then custom rules by ascending priority, then the default serve.
type Evaluator struct {
	segments SegmentSource
	log      zerolog.Logger
	tracer   trace.Tracer
	recorder Recorder
}

// NewEvaluator creates an evaluator. segments may be nil when no rule uses segmentMatch.
func NewEvaluator(segments SegmentSource, opts ...Option) *Evaluator {
	e := &Evaluator{
		segments: segments,
		log:      zerolog.Nop(),
		tracer:   otel.Tracer("github.com/TimurManjosov/flagrules/internal/engine"),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate computes the variation f serves to t.
func (e *Evaluator) Evaluate(ctx context.Context, f rules.Feature, t Target) (Result, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Evaluate", trace.WithAttributes(
		attribute.String("feature.id", f.Identifier),
		attribute.String("target.id", t.Identifier),
	))
	defer span.End()

	res, err := e.evaluate(ctx, f, t)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	span.SetAttributes(
		attribute.String("evaluation.reason", string(res.Reason)),
		attribute.String("evaluation.variation", res.Variation),
	)
	e.recorder.RecordEvaluation(f.Identifier, res.Reason)
	return res, nil
}

func (e *Evaluator) evaluate(ctx context.Context, f rules.Feature, t Target) (Result, error) {
	props := f.EnvProperties
	res := Result{Feature: f.Identifier}

	if props.State != rules.StateOn {
		off := props.OffVariation
		if off == "" {
			off = f.DefaultOffVariation
		}
		res.Reason = ReasonDisabled
		return e.finish(f, res, off)
	}

	for _, s := range props.VariationMap {
		for _, target := range s.Targets {
			if target.Identifier != "" && target.Identifier == t.Identifier {
				res.Reason = ReasonTargetMatch
				return e.finish(f, res, s.Variation)
			}
		}
	}

	for _, r := range rules.SortedRules(props.Rules) {
		if !e.matchesAll(ctx, r.Clauses, t, 0) {
			continue
		}
		res.Reason = ReasonRuleMatch
		res.RuleID = r.RuleID
		return e.serve(f, res, r.Serve, t)
	}

	res.Reason = ReasonDefault
	return e.serve(f, res, props.DefaultServe, t)
}

func (e *Evaluator) serve(f rules.Feature, res Result, s rules.Serve, t Target) (Result, error) {
	if v, ok := s.Variation(); ok {
		return e.finish(f, res, v)
	}
	d, ok := s.Distribution()
	if !ok {
		return Result{}, &EvaluationError{Feature: f.Identifier, Err: rules.ErrInvalidServe}
	}

	bucketBy := d.BucketBy
	if bucketBy == "" {
		bucketBy = rules.DefaultBucketBy
	}
	value := bucketValue(t, bucketBy)
	if value == "" {
		// Targets lacking the attribute are bucketed by identifier.
		value = t.Identifier
	}
	if v, ok := rollout.Pick(d, f.Identifier, value); ok {
		return e.finish(f, res, v)
	}

	res.Reason = ReasonUnallocated
	fallback := f.EnvProperties.DefaultOnVariation
	if fallback == "" {
		fallback = f.DefaultOnVariation
	}
	return e.finish(f, res, fallback)
}

func (e *Evaluator) finish(f rules.Feature, res Result, variation string) (Result, error) {
	v, ok := f.VariationByID(variation)
	if !ok {
		return Result{}, &EvaluationError{
			Feature: f.Identifier,
			Err:     fmt.Errorf("%w: %q", ErrUnknownVariation, variation),
		}
	}
	res.Variation = v.Identifier
	res.Value = v.Value
	return res, nil
}

// EvaluateAll evaluates every feature for t. Features that fail to evaluate are logged and left out.
func (e *Evaluator) EvaluateAll(ctx context.Context, features []rules.Feature, t Target) []Result {
	out := make([]Result, 0, len(features))
	for _, f := range features {
		res, err := e.Evaluate(ctx, f, t)
		if err != nil {
			e.log.Warn().Err(err).Str("feature", f.Identifier).Msg("evaluation failed")
			continue
		}
		out = append(out, res)
	}
	return out
}

// maxSegmentDepth bounds segment rules that themselves reference segments.
const maxSegmentDepth = 4

func (e *Evaluator) matchesAll(ctx context.Context, clauses []rules.Clause, t Target, depth int) bool {
	if len(clauses) == 0 {
		return false
	}
	for _, c := range clauses {
		if !e.matchesClause(ctx, c, t, depth) {
			return false
		}
	}
	return true
}

func (e *Evaluator) matchesClause(ctx context.Context, c rules.Clause, t Target, depth int) bool {
	var matched bool
	if c.Op == rules.OpSegmentMatch {
		matched = e.inAnySegment(ctx, c.Values, t, depth)
	} else {
		matched = e.matchesValues(c, t)
	}
	if c.Negate {
		return !matched
	}
	return matched
}

// matchesValues ORs the clause values.
func (e *Evaluator) matchesValues(c rules.Clause, t Target) bool {
	userValue, ok := attributeValue(t, c.Attribute)
	if !ok {
		return false
	}
	handler, ok := getOperatorHandler(c.Op)
	if !ok {
		e.log.Debug().Str("op", string(c.Op)).Msg("unsupported operator, clause skipped")
		return false
	}
	for _, v := range c.Values {
		if handler.Check(userValue, v) {
			return true
		}
	}
	return false
}

func (e *Evaluator) inAnySegment(ctx context.Context, ids []string, t Target, depth int) bool {
	if e.segments == nil || depth >= maxSegmentDepth {
		return false
	}
	for _, id := range ids {
		seg, err := e.segments.GetSegment(ctx, id)
		if err != nil {
			e.log.Debug().Err(err).Str("segment", id).Msg("segment lookup failed")
			continue
		}
		if e.inSegment(ctx, seg, t, depth) {
			return true
		}
	}
	return false
}

// inSegment: excluded wins over included, included wins over segment rules.
func (e *Evaluator) inSegment(ctx context.Context, seg *rules.Segment, t Target, depth int) bool {
	for _, id := range seg.Excluded {
		if id == t.Identifier {
			return false
		}
	}
	for _, id := range seg.Included {
		if id == t.Identifier {
			return true
		}
	}
	return e.matchesAll(ctx, seg.Rules, t, depth+1)
}

func attributeValue(t Target, attr string) (any, bool) {
	switch attr {
	case "identifier":
		return t.Identifier, t.Identifier != ""
	case "name":
		return t.Name, t.Name != ""
	}
	if t.Attributes == nil {
		return nil, false
	}
	v, ok := t.Attributes[attr]
	return v, ok
}

func bucketValue(t Target, attr string) string {
	v, ok := attributeValue(t, attr)
	if !ok {
		return ""
	}
	s, ok := toString(v)
	if !ok {
		return ""
	}
	return s
}
