// Package resolver maps an instrument query onto authoritative identities
// by walking the ordered reference tiers.
package resolver

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Aidin1998/padcheck/internal/instrument"
	"github.com/Aidin1998/padcheck/internal/instrument/fuzzy"
	"github.com/Aidin1998/padcheck/pkg/metrics"
)

// Tier is one ordered internal lookup.
type Tier interface {
	Name() instrument.Tier
	Lookup(ctx context.Context, q instrument.Query) ([]instrument.Instrument, error)
}

// ExternalSource yields an optional external candidate. It must not fail.
type ExternalSource interface {
	Candidate(ctx context.Context, q instrument.Query) *instrument.Instrument
}

// Approximate is the fuzzy fallback.
type Approximate interface {
	Search(term string, n int) []fuzzy.Match
}

// Resolver runs the waterfall. It holds no per-request state and is safe
// for concurrent use.
type Resolver struct {
	external ExternalSource
	tiers    []Tier
	fuzzy    Approximate
	maxFuzzy int
	logger   *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithExternal sets the external candidate source.
func WithExternal(src ExternalSource) Option {
	return func(r *Resolver) { r.external = src }
}

// WithFuzzy sets the approximate fallback and how many hits to return.
func WithFuzzy(a Approximate, maxResults int) Option {
	return func(r *Resolver) {
		r.fuzzy = a
		r.maxFuzzy = maxResults
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New builds a resolver over tiers, queried strictly in the given order.
func New(tiers []Tier, opts ...Option) *Resolver {
	r := &Resolver{tiers: tiers, maxFuzzy: 5, logger: zap.NewNop()}
	for _, o := range opts {
		o(r)
	}
	r.logger = r.logger.Named("resolver")
	return r
}

// Resolve returns every tied candidate from the first tier that matched,
// classified against the external candidate. An internal tier error is
// returned as is; the caller decides how to fail.
func (r *Resolver) Resolve(ctx context.Context, q instrument.Query) (instrument.Resolution, error) {
	q = q.Normalize()
	if q.IsEmpty() {
		return instrument.Resolution{Outcome: instrument.NoMatchAnywhere}, nil
	}

	var ext *instrument.Instrument
	if r.external != nil {
		ext = r.external.Candidate(ctx, q)
	}

	rows, tier, err := r.internal(ctx, q)
	if err != nil {
		return instrument.Resolution{}, err
	}

	res := classify(rows, tier, ext)
	if res.Outcome == instrument.NoMatchAnywhere {
		r.fallback(q, &res)
	}

	metrics.ResolutionOutcomes.WithLabelValues(res.Outcome.String(), string(res.Tier)).Inc()
	r.logger.Debug("Instrument resolved",
		zap.String("query", q.FuzzyTerm()),
		zap.Stringer("outcome", res.Outcome),
		zap.String("tier", string(res.Tier)),
		zap.Int("candidates", len(res.Candidates)),
		zap.Bool("external_candidate", ext != nil))
	return res, nil
}

// internal runs the tiers in order and stops at the first non-empty one.
func (r *Resolver) internal(ctx context.Context, q instrument.Query) ([]instrument.Instrument, instrument.Tier, error) {
	for _, t := range r.tiers {
		rows, err := t.Lookup(ctx, q)
		if err != nil {
			return nil, t.Name(), fmt.Errorf("tier %s: %w", t.Name(), err)
		}
		if rows = dedupe(rows); len(rows) > 0 {
			return rows, t.Name(), nil
		}
	}
	return nil, instrument.TierNone, nil
}

func classify(rows []instrument.Instrument, tier instrument.Tier, ext *instrument.Instrument) instrument.Resolution {
	res := instrument.Resolution{Candidates: rows, Tier: tier, External: ext}
	switch {
	case len(rows) > 0 && ext != nil && corroborated(rows, *ext):
		res.Outcome = instrument.ExternalAndInternalMatch
	case len(rows) > 0:
		// internal rows supersede an uncorroborated external candidate
		res.Outcome = instrument.InternalOnlyMatch
	case ext != nil:
		res.Outcome = instrument.ExternalOnlyNoInternalMatch
		res.Candidates = []instrument.Instrument{*ext}
		res.Tier = instrument.TierExternal
	default:
		res.Outcome = instrument.NoMatchAnywhere
	}
	return res
}

func corroborated(rows []instrument.Instrument, ext instrument.Instrument) bool {
	for _, row := range rows {
		if row.Corroborates(ext) {
			return true
		}
	}
	return false
}

// fallback consults the approximate index. The outcome stays
// NoMatchAnywhere; hits are marked low confidence.
func (r *Resolver) fallback(q instrument.Query, res *instrument.Resolution) {
	if r.fuzzy == nil {
		return
	}
	matches := r.fuzzy.Search(q.FuzzyTerm(), r.maxFuzzy)
	if len(matches) == 0 {
		return
	}
	res.Tier = instrument.TierFuzzy
	res.LowConfidence = true
	res.Candidates = make([]instrument.Instrument, len(matches))
	res.Scores = make([]float64, len(matches))
	for i, m := range matches {
		inst := m.Instrument
		inst.Source = instrument.TierFuzzy
		res.Candidates[i] = inst
		res.Scores[i] = m.Score
	}
}

func dedupe(rows []instrument.Instrument) []instrument.Instrument {
	if len(rows) < 2 {
		return rows
	}
	seen := make(map[string]bool, len(rows))
	out := rows[:0:0]
	for _, row := range rows {
		if seen[row.Key()] {
			continue
		}
		seen[row.Key()] = true
		out = append(out, row)
	}
	return out
}
