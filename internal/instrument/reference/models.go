// Package reference provides the read-only reference tables that back the
// internal tiers of the resolution waterfall, plus the restricted list and
// the full-universe loader used by the fuzzy index.
package reference

import (
	"time"

	"github.com/Aidin1998/padcheck/internal/instrument"
)

// SecurityRow is one row of the canonical reference table (tier 1).
type SecurityRow struct {
	ID          uint   `gorm:"primaryKey"`
	Symbol      string `gorm:"size:64;index;not null"`
	ISIN        string `gorm:"column:isin;size:12;index"`
	SEDOL       string `gorm:"column:sedol;size:7;index"`
	Ticker      string `gorm:"size:64;index"`
	Description string `gorm:"size:255"`
	Type        string `gorm:"size:32"`
	Currency    string `gorm:"size:3"`
	Exchange    string `gorm:"size:16"`
	UpdatedAt   time.Time
}

func (SecurityRow) TableName() string { return "reference_securities" }

func (r SecurityRow) toInstrument() instrument.Instrument {
	return instrument.Instrument{
		Symbol:      r.Symbol,
		ISIN:        r.ISIN,
		SEDOL:       r.SEDOL,
		Ticker:      r.Ticker,
		Description: r.Description,
		Type:        instrument.ParseTypeTag(r.Type),
		Currency:    r.Currency,
		Exchange:    r.Exchange,
		Source:      instrument.TierReference,
	}
}

// SymbolMapping maps exchange symbols onto internal symbols (tier 2).
type SymbolMapping struct {
	ID             uint   `gorm:"primaryKey"`
	ExchangeSymbol string `gorm:"size:64;index;not null"`
	InternalSymbol string `gorm:"size:64;index;not null"`
	Exchange       string `gorm:"size:16"`
	Description    string `gorm:"size:255"`
	Type           string `gorm:"size:32"`
	Currency       string `gorm:"size:3"`
	ISIN           string `gorm:"column:isin;size:12"`
	UpdatedAt      time.Time
}

func (SymbolMapping) TableName() string { return "symbol_mappings" }

func (m SymbolMapping) toInstrument() instrument.Instrument {
	return instrument.Instrument{
		Symbol:         m.InternalSymbol,
		ISIN:           m.ISIN,
		ExchangeSymbol: m.ExchangeSymbol,
		Description:    m.Description,
		Type:           instrument.ParseTypeTag(m.Type),
		Currency:       m.Currency,
		Exchange:       m.Exchange,
		Source:         instrument.TierSymbolMap,
	}
}

// Product is a row of the product master (tier 3). Deleted products stay
// in the table but are excluded from lookups.
type Product struct {
	ID             uint   `gorm:"primaryKey"`
	InternalSymbol string `gorm:"size:64;index;not null"`
	Description    string `gorm:"size:255"`
	ISIN           string `gorm:"column:isin;size:12"`
	Type           string `gorm:"size:32"`
	Currency       string `gorm:"size:3"`
	Exchange       string `gorm:"size:16"`
	IsDeleted      bool   `gorm:"index;not null;default:false"`
	UpdatedAt      time.Time
}

func (Product) TableName() string { return "products" }

func (p Product) toInstrument() instrument.Instrument {
	return instrument.Instrument{
		Symbol:      p.InternalSymbol,
		ISIN:        p.ISIN,
		Description: p.Description,
		Type:        instrument.ParseTypeTag(p.Type),
		Currency:    p.Currency,
		Exchange:    p.Exchange,
		Deleted:     p.IsDeleted,
		Source:      instrument.TierProduct,
	}
}

// RestrictedEntry is one instrument on the firm's restricted list.
type RestrictedEntry struct {
	ID        uint   `gorm:"primaryKey"`
	Symbol    string `gorm:"size:64;index"`
	ISIN      string `gorm:"column:isin;size:12;index"`
	Reason    string `gorm:"size:255"`
	AddedAt   time.Time
	ExpiresAt *time.Time
}

func (RestrictedEntry) TableName() string { return "restricted_instruments" }

// Models lists every table owned by this package, for dev/test migrations.
func Models() []any {
	return []any{&SecurityRow{}, &SymbolMapping{}, &Product{}, &RestrictedEntry{}}
}
