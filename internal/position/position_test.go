package position

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/padcheck/internal/rules"
	"github.com/Aidin1998/padcheck/testutil"
)

var asOf = time.Date(2024, 6, 28, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRepository(t *testing.T) {
	db := testutil.NewDB(t, Models()...)
	require.NoError(t, db.Create(&[]PositionRecord{
		{Symbol: "VOD LN", Desk: "equities", Size: d("1000"), Value: d("800"), AsOf: asOf.AddDate(0, 0, -10)},
		{Symbol: "VOD LN", Desk: "equities", Size: d("-500"), Value: d("-400"), AsOf: asOf.AddDate(0, 0, -1)},
		{Symbol: "VOD LN", Desk: "equities", Size: d("9999"), Value: d("1"), AsOf: asOf.AddDate(0, 0, 3)},
		{Symbol: "VOD LN", Desk: "macro", Size: d("200"), Value: d("160"), AsOf: asOf.AddDate(0, -2, 0)},
		{Symbol: "AAPL US", Desk: "macro", Size: d("1"), Value: d("150"), AsOf: asOf},
	}).Error)
	require.NoError(t, db.Create(&[]TradeRecord{
		{Symbol: "VOD LN", Desk: "equities", Direction: Sell, Quantity: d("1500"), TradedAt: asOf.AddDate(0, 0, -1)},
		{Symbol: "VOD LN", Desk: "macro", Direction: Buy, Quantity: d("200"), TradedAt: asOf.AddDate(0, -2, 0)},
		{Symbol: "VOD LN", Desk: "macro", Direction: Buy, Quantity: d("50"), TradedAt: asOf.AddDate(-1, 0, 0)},
	}).Error)
	repo := NewRepository(db)
	ctx := context.Background()

	positions, err := repo.PositionsAsOf(ctx, "vod ln", asOf)
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, "equities", positions[0].Desk)
	assert.True(t, positions[0].Size.Equal(d("-500")), "latest row on or before the as-of date wins")
	assert.Equal(t, "macro", positions[1].Desk)

	trades, err := repo.TradesBetween(ctx, "VOD LN", asOf.AddDate(0, -6, 0), asOf)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, Sell, trades[0].Direction, "newest first")

	none, err := repo.PositionsAsOf(ctx, "MSFT US", asOf)
	require.NoError(t, err)
	assert.Empty(t, none)
}

type stubSource struct {
	positions []Position
	trades    []Trade
	posErr    error
	tradeErr  error
	from      time.Time
}

func (s *stubSource) PositionsAsOf(context.Context, string, time.Time) ([]Position, error) {
	return s.positions, s.posErr
}

func (s *stubSource) TradesBetween(_ context.Context, _ string, from, _ time.Time) ([]Trade, error) {
	s.from = from
	return s.trades, s.tradeErr
}

func TestEnrich_NoActivity(t *testing.T) {
	e := NewEnricher(&stubSource{}, time.Second, nil)
	c := e.Enrich(context.Background(), "AAPL US", Request{Direction: Buy, AsOf: asOf}, rules.Defaults())
	assert.Equal(t, RelationNone, c.Relation)
	assert.False(t, c.RecentActivity)
	assert.False(t, c.Unknown())
}

func TestEnrich_SameAndOppositeDirection(t *testing.T) {
	snap := rules.Defaults()
	long := Position{Desk: "macro", Size: d("100"), Value: d("5000")}
	short := Position{Desk: "equities", Size: d("-100"), Value: d("-5000")}

	c := NewEnricher(&stubSource{positions: []Position{long}}, 0, nil).
		Enrich(context.Background(), "X", Request{Direction: Buy, Desk: "equities", AsOf: asOf}, snap)
	assert.Equal(t, RelationSame, c.Relation)
	assert.False(t, c.DeskConflict)

	c = NewEnricher(&stubSource{positions: []Position{long, short}}, 0, nil).
		Enrich(context.Background(), "X", Request{Direction: Buy, Desk: "equities", AsOf: asOf}, snap)
	assert.Equal(t, RelationOpposite, c.Relation, "opposite wins over same")
	assert.True(t, c.DeskConflict, "the employee's own desk is short")
	assert.Len(t, c.Positions, 2)

	c = NewEnricher(&stubSource{positions: []Position{short}}, 0, nil).
		Enrich(context.Background(), "X", Request{Direction: Buy, Desk: "macro", AsOf: asOf}, snap)
	assert.Equal(t, RelationOpposite, c.Relation)
	assert.False(t, c.DeskConflict, "another desk holds the position")
}

func TestEnrich_Materiality(t *testing.T) {
	snap := rules.Defaults()
	snap.MaterialityThreshold = d("10000")
	src := &stubSource{positions: []Position{
		{Desk: "macro", Size: d("-10"), Value: d("-9999.99")},
		{Desk: "rates", Size: d("0"), Value: d("0")},
	}}
	c := NewEnricher(src, 0, nil).Enrich(context.Background(), "X", Request{Direction: Buy, AsOf: asOf}, snap)
	assert.Equal(t, RelationNone, c.Relation)
	assert.Empty(t, c.Positions)
}

func TestEnrich_RecentActivityUsesLookback(t *testing.T) {
	snap := rules.Defaults()
	snap.FirmActivityLookbackMonths = 3
	traded := asOf.AddDate(0, 0, -5)
	src := &stubSource{trades: []Trade{{Desk: "macro", Direction: Sell, TradedAt: traded}}}

	c := NewEnricher(src, 0, nil).Enrich(context.Background(), "X", Request{Direction: Buy, AsOf: asOf}, snap)
	assert.True(t, c.RecentActivity)
	require.NotNil(t, c.LastTradeAt)
	assert.Equal(t, traded, *c.LastTradeAt)
	assert.Equal(t, asOf.AddDate(0, -3, 0), src.from)
}

func TestEnrich_BranchFailuresDegradeIndependently(t *testing.T) {
	snap := rules.Defaults()
	src := &stubSource{
		posErr: errors.New("positions db down"),
		trades: []Trade{{Desk: "macro", Direction: Buy, TradedAt: asOf}},
	}
	c := NewEnricher(src, 0, nil).Enrich(context.Background(), "X", Request{Direction: Buy, AsOf: asOf}, snap)
	assert.True(t, c.PositionsUnknown)
	assert.False(t, c.ActivityUnknown)
	assert.Equal(t, RelationUnknown, c.Relation)
	assert.True(t, c.RecentActivity, "the healthy branch still reports")
	assert.True(t, c.Unknown())

	src = &stubSource{tradeErr: errors.New("timeout"), positions: []Position{{Desk: "macro", Size: d("5"), Value: d("5")}}}
	c = NewEnricher(src, 0, nil).Enrich(context.Background(), "X", Request{Direction: Buy, AsOf: asOf}, snap)
	assert.True(t, c.ActivityUnknown)
	assert.Equal(t, RelationSame, c.Relation)
	assert.False(t, c.RecentActivity)
}

func TestEnrich_NoSource(t *testing.T) {
	c := NewEnricher(nil, 0, nil).Enrich(context.Background(), "X", Request{Direction: Buy}, rules.Defaults())
	assert.True(t, c.Unknown())
	assert.Equal(t, RelationUnknown, c.Relation)
}

func TestDirection(t *testing.T) {
	assert.True(t, Buy.Valid())
	assert.False(t, Direction("HOLD").Valid())
}
