package compliance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Aidin1998/padcheck/internal/advisory"
	"github.com/Aidin1998/padcheck/internal/instrument"
	"github.com/Aidin1998/padcheck/internal/position"
	"github.com/Aidin1998/padcheck/internal/risk"
	"github.com/Aidin1998/padcheck/internal/routing"
	"github.com/Aidin1998/padcheck/internal/rules"
	"github.com/Aidin1998/padcheck/pkg/metrics"
)

var tracer = otel.Tracer("padcheck/compliance")

// Service wires the evaluation stages together. It keeps no per-request
// state and is safe for concurrent use.
type Service struct {
	resolver Resolver
	enricher Enricher
	gate     Gate
	rules    RulesSource
	sink     Sink
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

// Deps are the collaborators of a Service. Sink may be nil.
type Deps struct {
	Resolver Resolver
	Enricher Enricher
	Gate     Gate
	Rules    RulesSource
	Sink     Sink
}

func NewService(deps Deps, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		resolver: deps.Resolver,
		enricher: deps.Enricher,
		gate:     deps.Gate,
		rules:    deps.Rules,
		sink:     deps.Sink,
		validate: validator.New(),
		logger:   logger.Named("compliance"),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// Evaluate runs one request through resolver, enricher, evaluator,
// aggregator, gate and router. The error return is reserved for malformed
// requests; any failure past validation yields a decision escalated to
// Compliance.
func (s *Service) Evaluate(ctx context.Context, req Request) (*Result, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if req.AsOf.IsZero() {
		req.AsOf = s.now().UTC()
	}

	ctx, span := tracer.Start(ctx, "compliance.Evaluate", trace.WithAttributes(
		attribute.String("request.id", req.RequestID),
		attribute.String("request.direction", string(req.Direction)),
	))
	defer span.End()

	start := time.Now()
	res := s.evaluate(ctx, req)
	metrics.EvaluationLatency.Observe(time.Since(start).Seconds())

	route := ""
	if res.Decision != nil {
		route = string(res.Decision.Route)
		span.SetAttributes(
			attribute.String("decision.route", route),
			attribute.String("decision.level", res.Decision.Level.String()),
			attribute.Bool("decision.fail_closed", res.Decision.FailClosed),
		)
		if res.Decision.FailClosed {
			span.SetStatus(codes.Error, res.Decision.Error)
		}
	}
	span.SetAttributes(attribute.String("result.status", string(res.Status)))
	metrics.EvaluationsTotal.WithLabelValues(string(res.Status), route).Inc()
	return res, nil
}

func (s *Service) evaluate(ctx context.Context, req Request) *Result {
	snap := s.snapshot(ctx)

	resolution, err := s.resolve(ctx, req.Query)
	if err != nil {
		return s.failClosed(ctx, req, snap, "resolution", err)
	}

	if req.SelectedSymbol != "" && len(resolution.Candidates) > 0 {
		narrowed, ok := resolution.Narrow(req.SelectedSymbol)
		if !ok {
			return &Result{
				Status:     StatusNeedsDisambiguation,
				Candidates: resolution.Candidates,
				Outcome:    resolution.Outcome,
				Message:    fmt.Sprintf("%q is not one of the matching instruments; choose one of the candidates", req.SelectedSymbol),
			}
		}
		resolution = narrowed
	}
	if resolution.Ambiguous() {
		return &Result{
			Status:     StatusNeedsDisambiguation,
			Candidates: resolution.Candidates,
			Outcome:    resolution.Outcome,
			Message:    fmt.Sprintf("%d instruments match; choose one", len(resolution.Candidates)),
		}
	}

	inst, resolved := resolution.Single()
	if !resolved && !req.ProceedWithoutIdentifier {
		return &Result{
			Status:  StatusNeedsIdentifier,
			Outcome: resolution.Outcome,
			Message: "no instrument matched; supply an ISIN, SEDOL or ticker, or proceed without one",
		}
	}
	var instPtr *instrument.Instrument
	if resolved {
		instPtr = &inst
	}

	baseValue := s.baseValue(req, snap)
	conflict := s.enrich(ctx, instPtr, req, snap)

	factors := risk.Evaluate(risk.Input{
		Resolution:      resolution,
		Instrument:      instPtr,
		Conflict:        conflict,
		Category:        req.EmployeeCategory,
		ConnectedPerson: req.ConnectedPerson,
		BaseValue:       baseValue,
	}, snap)
	level, err := risk.Aggregate(factors, snap.MediumFactorThreshold)
	if err != nil {
		return s.failClosed(ctx, req, snap, "aggregate", err)
	}

	flags := s.gate.Check(ctx, advisory.Input{
		Instrument:                 instPtr,
		ProceededWithoutIdentifier: !resolved && req.ProceedWithoutIdentifier,
		InsiderInformation:         req.InsiderInformation,
		Direction:                  req.Direction,
		ExistingPosition:           req.ExistingPosition,
		AcquiredAt:                 req.AcquiredAt,
		Conflict:                   conflict,
		PriorFlags:                 req.PriorFlags,
		AsOf:                       req.AsOf,
	}, snap)

	routed := routing.Decide(routing.Input{
		Level:         level,
		Outcome:       resolution.Outcome,
		LowConfidence: resolution.LowConfidence,
		// the "needs identifier" answer was the clarification round
		Clarified:         req.Clarified || (!resolved && req.ProceedWithoutIdentifier),
		Flags:             flags,
		Value:             baseValue,
		Ceiling:           snap.AutoApproveCeiling,
		AllowExternalOnly: snap.AllowAutoApproveExternalOnly,
	})
	if routed.Route == routing.Clarification {
		return &Result{
			Status:     StatusNeedsClarification,
			Candidates: resolution.Candidates,
			Outcome:    resolution.Outcome,
			Message:    clarificationMessage(resolution),
		}
	}

	d := &Decision{
		ID:         s.newID(),
		RequestID:  req.RequestID,
		EmployeeID: req.EmployeeID,
		CreatedAt:  s.now().UTC(),
		Instrument: instPtr,
		Resolution: resolution,
		Direction:  req.Direction,
		BaseValue:  baseValue,
		Conflict:   conflict,
		Level:      level,
		Route:      routed.Route,
		Status:     routing.InitialStatus(routed.Route),
		Factors:    factors,
		Flags:      flags,
		Rationale:  rationale(routed, level, factors, flags),
		Rules:      snap.Clone(),
	}
	s.record(ctx, d)
	return &Result{Status: StatusDecided, Decision: d, Outcome: resolution.Outcome}
}

func (s *Service) snapshot(ctx context.Context) *rules.Snapshot {
	if s.rules == nil {
		return rules.Defaults()
	}
	if snap := s.rules.Snapshot(ctx); snap != nil {
		return snap
	}
	return rules.Defaults()
}

func (s *Service) resolve(ctx context.Context, q instrument.Query) (instrument.Resolution, error) {
	ctx, span := tracer.Start(ctx, "compliance.resolve")
	defer span.End()
	res, err := s.resolver.Resolve(ctx, q)
	if err != nil {
		span.RecordError(err)
		return res, err
	}
	span.SetAttributes(
		attribute.String("resolution.outcome", res.Outcome.String()),
		attribute.String("resolution.tier", string(res.Tier)),
		attribute.Int("resolution.candidates", len(res.Candidates)),
	)
	return res, nil
}

func (s *Service) enrich(ctx context.Context, inst *instrument.Instrument, req Request, snap *rules.Snapshot) position.Conflict {
	if inst == nil || s.enricher == nil {
		return position.Conflict{Relation: position.RelationUnknown, PositionsUnknown: true, ActivityUnknown: true}
	}
	ctx, span := tracer.Start(ctx, "compliance.enrich")
	defer span.End()
	c := s.enricher.Enrich(ctx, inst.Symbol, position.Request{
		Direction: req.Direction,
		Desk:      req.EmployeeDesk,
		AsOf:      req.AsOf,
	}, snap)
	span.SetAttributes(attribute.String("conflict.relation", string(c.Relation)), attribute.Bool("conflict.unknown", c.Unknown()))
	return c
}

// baseValue converts the trade value; nil means unknown.
func (s *Service) baseValue(req Request, snap *rules.Snapshot) *decimal.Decimal {
	if req.Value == nil {
		return nil
	}
	v, ok := snap.ToBase(*req.Value, req.Currency)
	if !ok {
		s.logger.Warn("No FX rate for trade currency, value treated as unknown",
			zap.String("currency", req.Currency), zap.String("base", snap.BaseCurrency))
		return nil
	}
	v = v.Round(2)
	return &v
}

// failClosed escalates a request that could not be assessed. Prior block
// flags are still carried so a retry never loses them.
func (s *Service) failClosed(ctx context.Context, req Request, snap *rules.Snapshot, stage string, cause error) *Result {
	metrics.FailClosedTotal.WithLabelValues(stage).Inc()
	s.logger.Error("Evaluation failed, escalating to Compliance",
		zap.String("stage", stage),
		zap.String("request_id", req.RequestID),
		zap.String("employee_id", req.EmployeeID),
		zap.Error(cause))

	flags := advisory.Carry(nil, req.PriorFlags)
	routed := routing.Decide(routing.Input{
		Level:     risk.Medium,
		Clarified: true,
		Flags:     flags,
		Ceiling:   snap.AutoApproveCeiling,
	})
	d := &Decision{
		ID:         s.newID(),
		RequestID:  req.RequestID,
		EmployeeID: req.EmployeeID,
		CreatedAt:  s.now().UTC(),
		Direction:  req.Direction,
		Resolution: instrument.Resolution{Outcome: instrument.NoMatchAnywhere},
		Level:      risk.Medium,
		Route:      routed.Route,
		Status:     routing.InitialStatus(routed.Route),
		Factors:    []risk.Factor{},
		Flags:      flags,
		Rationale:  FailClosedRationale,
		Rules:      snap.Clone(),
		FailClosed: true,
		Error:      fmt.Sprintf("%s: %v", stage, cause),
	}
	s.record(ctx, d)
	return &Result{Status: StatusDecided, Decision: d, Message: FailClosedRationale}
}

// record hands the decision to the audit sink. A sink failure is logged;
// the decision stands.
func (s *Service) record(ctx context.Context, d *Decision) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Record(ctx, d); err != nil {
		s.logger.Error("Failed to record decision",
			zap.String("decision_id", d.ID), zap.Error(err))
	}
}

func rationale(r routing.Result, level risk.Level, factors []risk.Factor, flags []advisory.Flag) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s (risk %s)", r.Route, r.Reason, level)

	var elevated []string
	for _, f := range factors {
		if f.Level == risk.High || f.Level == risk.Medium {
			elevated = append(elevated, fmt.Sprintf("%s=%s", f.Name, f.Level))
		}
	}
	if len(elevated) > 0 {
		fmt.Fprintf(&b, "; factors: %s", strings.Join(elevated, ", "))
	}

	var triggered []string
	for _, f := range flags {
		if f.Triggered {
			triggered = append(triggered, fmt.Sprintf("%s[%s]", f.Criterion, f.Mode))
		}
	}
	if len(triggered) > 0 {
		fmt.Fprintf(&b, "; flags: %s", strings.Join(triggered, ", "))
	}
	return b.String()
}

func clarificationMessage(r instrument.Resolution) string {
	switch {
	case r.LowConfidence:
		return "the instrument was matched approximately; confirm the candidate or supply an identifier"
	case r.Outcome == instrument.ExternalOnlyNoInternalMatch:
		return "the instrument is known only to external reference data; confirm it or supply an identifier"
	}
	return "no instrument matched; supply an identifier"
}
