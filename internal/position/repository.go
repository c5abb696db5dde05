package position

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Source reads firm positions and trades.
type Source interface {
	// PositionsAsOf returns, per desk, the latest position on or before
	// asOf. Flat desks may be omitted.
	PositionsAsOf(ctx context.Context, symbol string, asOf time.Time) ([]Position, error)
	// TradesBetween returns firm trades in [from, to], newest first.
	TradesBetween(ctx context.Context, symbol string, from, to time.Time) ([]Trade, error)
}

// Repository is the gorm-backed Source.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) PositionsAsOf(ctx context.Context, symbol string, asOf time.Time) ([]Position, error) {
	var rows []PositionRecord
	err := r.db.WithContext(ctx).
		Where("UPPER(symbol) = ? AND as_of <= ?", strings.ToUpper(symbol), asOf).
		Order("desk, as_of DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("firm positions: %w", err)
	}

	var out []Position
	seen := map[string]bool{}
	for _, row := range rows {
		if seen[row.Desk] {
			continue
		}
		seen[row.Desk] = true
		out = append(out, Position{Desk: row.Desk, Size: row.Size, Value: row.Value, AsOf: row.AsOf})
	}
	return out, nil
}

func (r *Repository) TradesBetween(ctx context.Context, symbol string, from, to time.Time) ([]Trade, error) {
	var rows []TradeRecord
	err := r.db.WithContext(ctx).
		Where("UPPER(symbol) = ? AND traded_at >= ? AND traded_at <= ?", strings.ToUpper(symbol), from, to).
		Order("traded_at DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("firm trades: %w", err)
	}
	out := make([]Trade, 0, len(rows))
	for _, row := range rows {
		out = append(out, Trade{Desk: row.Desk, Direction: row.Direction, Quantity: row.Quantity, TradedAt: row.TradedAt})
	}
	return out, nil
}
