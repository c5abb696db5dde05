package position

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Aidin1998/padcheck/internal/rules"
	"github.com/Aidin1998/padcheck/pkg/metrics"
)

// Relation describes the firm's active positions relative to the
// employee's trade direction.
type Relation string

const (
	RelationNone     Relation = "none"
	RelationSame     Relation = "same"
	RelationOpposite Relation = "opposite"
	RelationUnknown  Relation = "unknown"
)

// Conflict is the firm-activity picture for one instrument and trade.
type Conflict struct {
	Symbol    string     `json:"symbol"`
	Positions []Position `json:"positions,omitempty"`
	// Relation is the strongest relation across desks holding an active
	// position; opposite wins over same.
	Relation Relation `json:"relation"`
	// RecentActivity is set when the firm traded within the lookback.
	RecentActivity bool       `json:"recent_activity"`
	LastTradeAt    *time.Time `json:"last_trade_at,omitempty"`
	// DeskConflict is set when the employee's own desk holds an active
	// opposite-direction position.
	DeskConflict bool `json:"desk_conflict"`

	// PositionsUnknown and ActivityUnknown mark failed lookups. Either one
	// makes the conflict picture incomplete.
	PositionsUnknown bool `json:"positions_unknown"`
	ActivityUnknown  bool `json:"activity_unknown"`
}

// Unknown reports whether any lookup failed.
func (c Conflict) Unknown() bool {
	return c.PositionsUnknown || c.ActivityUnknown
}

// Enricher fans out the position and activity lookups.
type Enricher struct {
	source  Source
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

func NewEnricher(source Source, timeout time.Duration, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{source: source, timeout: timeout, logger: logger.Named("enricher"), now: time.Now}
}

// Enrich looks up firm positions and recent firm trades in symbol. A
// failed branch is logged and marked unknown; it never fails the whole
// enrichment.
func (e *Enricher) Enrich(ctx context.Context, symbol string, req Request, snap *rules.Snapshot) Conflict {
	out := Conflict{Symbol: symbol, Relation: RelationNone}
	if e == nil || e.source == nil {
		out.PositionsUnknown, out.ActivityUnknown, out.Relation = true, true, RelationUnknown
		return out
	}

	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = e.now()
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var (
		positions []Position
		trades    []Trade
		g         errgroup.Group
	)
	g.Go(func() error {
		p, err := e.source.PositionsAsOf(ctx, symbol, asOf)
		if err != nil {
			metrics.EnrichmentDegraded.WithLabelValues("positions").Inc()
			e.logger.Warn("Firm position lookup failed, treating as unknown",
				zap.String("symbol", symbol), zap.Error(err))
			out.PositionsUnknown = true
			return nil
		}
		positions = p
		return nil
	})
	g.Go(func() error {
		from := asOf.AddDate(0, -snap.FirmActivityLookbackMonths, 0)
		t, err := e.source.TradesBetween(ctx, symbol, from, asOf)
		if err != nil {
			metrics.EnrichmentDegraded.WithLabelValues("activity").Inc()
			e.logger.Warn("Firm activity lookup failed, treating as unknown",
				zap.String("symbol", symbol), zap.Error(err))
			out.ActivityUnknown = true
			return nil
		}
		trades = t
		return nil
	})
	_ = g.Wait()

	if !out.ActivityUnknown && len(trades) > 0 {
		out.RecentActivity = true
		last := trades[0].TradedAt
		out.LastTradeAt = &last
	}

	if out.PositionsUnknown {
		out.Relation = RelationUnknown
		return out
	}
	for _, p := range positions {
		side, ok := p.Side()
		if !ok || !active(p, snap) {
			continue
		}
		out.Positions = append(out.Positions, p)
		if side == req.Direction {
			if out.Relation == RelationNone {
				out.Relation = RelationSame
			}
			continue
		}
		out.Relation = RelationOpposite
		if req.Desk != "" && p.Desk == req.Desk {
			out.DeskConflict = true
		}
	}
	return out
}

// active reports whether p is material under the snapshot threshold.
func active(p Position, snap *rules.Snapshot) bool {
	if p.Size.IsZero() {
		return false
	}
	return p.Value.Abs().GreaterThanOrEqual(snap.MaterialityThreshold)
}
