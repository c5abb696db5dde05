package external

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/padcheck/internal/instrument"
	"github.com/Aidin1998/padcheck/pkg/metrics"
)

// Lookuper is satisfied by Client.
type Lookuper interface {
	Lookup(ctx context.Context, q instrument.Query) (*instrument.Instrument, error)
}

// Adapter wraps a Lookuper with a hard timeout and turns every failure
// into "no candidate", so the internal tiers always run.
type Adapter struct {
	lookup  Lookuper
	timeout time.Duration
	logger  *zap.Logger
}

// NewAdapter wraps lookup. A nil lookup yields an adapter that never
// produces a candidate.
func NewAdapter(lookup Lookuper, timeout time.Duration, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{lookup: lookup, timeout: timeout, logger: logger.Named("external")}
}

// Candidate returns the external candidate for q, or nil on no match,
// failure or timeout.
func (a *Adapter) Candidate(ctx context.Context, q instrument.Query) *instrument.Instrument {
	if a == nil || a.lookup == nil {
		return nil
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	start := time.Now()
	inst, err := a.lookup.Lookup(ctx, q)
	metrics.ExternalLatency.Observe(time.Since(start).Seconds())

	switch {
	case err != nil && IsTimeout(err):
		metrics.ExternalLookups.WithLabelValues("timeout").Inc()
		a.logger.Warn("External reference lookup timed out, continuing with internal tiers",
			zap.Duration("timeout", a.timeout), zap.Error(err))
		return nil
	case err != nil:
		metrics.ExternalLookups.WithLabelValues("error").Inc()
		a.logger.Warn("External reference lookup failed, continuing with internal tiers", zap.Error(err))
		return nil
	case inst == nil:
		metrics.ExternalLookups.WithLabelValues("miss").Inc()
		return nil
	}
	metrics.ExternalLookups.WithLabelValues("hit").Inc()
	return inst
}
