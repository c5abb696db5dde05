// Package position looks up the firm's own positions and trading activity
// in an instrument and derives the conflict picture for a personal trade.
package position

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction of a trade.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// Valid reports whether d is BUY or SELL.
func (d Direction) Valid() bool {
	return d == Buy || d == Sell
}

// PositionRecord is one desk's point-in-time position in an instrument.
// Size is signed: positive long, negative short.
type PositionRecord struct {
	ID     uint            `gorm:"primaryKey"`
	Symbol string          `gorm:"size:64;index:idx_firm_pos_symbol_asof;not null"`
	Desk   string          `gorm:"size:64;not null"`
	Size   decimal.Decimal `gorm:"type:decimal(24,8);not null"`
	Value  decimal.Decimal `gorm:"type:decimal(24,2);not null"`
	AsOf   time.Time       `gorm:"index:idx_firm_pos_symbol_asof;not null"`
}

func (PositionRecord) TableName() string { return "firm_positions" }

// TradeRecord is one firm trade.
type TradeRecord struct {
	ID        uint            `gorm:"primaryKey"`
	Symbol    string          `gorm:"size:64;index:idx_firm_trade_symbol_time;not null"`
	Desk      string          `gorm:"size:64;not null"`
	Direction Direction       `gorm:"size:4;not null"`
	Quantity  decimal.Decimal `gorm:"type:decimal(24,8);not null"`
	TradedAt  time.Time       `gorm:"index:idx_firm_trade_symbol_time;not null"`
}

func (TradeRecord) TableName() string { return "firm_trades" }

// Models lists the tables owned by this package.
func Models() []any {
	return []any{&PositionRecord{}, &TradeRecord{}}
}

// Position is the firm's position for one desk as of a date.
type Position struct {
	Desk  string          `json:"desk"`
	Size  decimal.Decimal `json:"size"`
	Value decimal.Decimal `json:"value"`
	AsOf  time.Time       `json:"as_of"`
}

// Side returns the direction implied by the sign of Size, and false when
// the position is flat.
func (p Position) Side() (Direction, bool) {
	switch p.Size.Sign() {
	case 1:
		return Buy, true
	case -1:
		return Sell, true
	}
	return "", false
}

// Trade is a firm trade as seen by the enricher.
type Trade struct {
	Desk      string          `json:"desk"`
	Direction Direction       `json:"direction"`
	Quantity  decimal.Decimal `json:"quantity"`
	TradedAt  time.Time       `json:"traded_at"`
}

// Request describes the employee's proposed trade.
type Request struct {
	Direction Direction
	// Desk is the employee's own desk.
	Desk string
	// AsOf is the point in time positions are read at. Zero means now.
	AsOf time.Time
}
