package reference

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/Aidin1998/padcheck/internal/instrument"
)

// likePattern builds a case-insensitive "contains" pattern with LIKE
// metacharacters escaped.
func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(term)) + "%"
}

// substringFilter ORs together "column contains term" clauses for each
// (column, term) pair with a non-empty term. It returns nil when nothing
// would be searched.
func substringFilter(db *gorm.DB, clauses map[string][]string) *gorm.DB {
	var cond *gorm.DB
	// Iterate in a fixed order so generated SQL is stable.
	cols := make([]string, 0, len(clauses))
	for c := range clauses {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	for _, col := range cols {
		for _, term := range clauses[col] {
			if strings.TrimSpace(term) == "" {
				continue
			}
			expr := fmt.Sprintf(`LOWER(%s) LIKE ? ESCAPE '\'`, col)
			if cond == nil {
				cond = db.Where(expr, likePattern(term))
			} else {
				cond = cond.Or(expr, likePattern(term))
			}
		}
	}
	return cond
}

// SecurityTier is tier 1: the canonical reference table keyed by
// description, SEDOL, ISIN and ticker.
type SecurityTier struct {
	db *gorm.DB
}

func NewSecurityTier(db *gorm.DB) *SecurityTier {
	return &SecurityTier{db: db}
}

func (t *SecurityTier) Name() instrument.Tier { return instrument.TierReference }

// Lookup returns every row whose keyed columns contain any of the query
// terms, ignoring case.
func (t *SecurityTier) Lookup(ctx context.Context, q instrument.Query) ([]instrument.Instrument, error) {
	q = q.Normalize()
	db := t.db.WithContext(ctx)
	cond := substringFilter(db, map[string][]string{
		"description": {q.Text},
		"sedol":       {q.Text, q.SEDOL},
		"isin":        {q.Text, q.ISIN},
		"ticker":      {q.Text, q.Ticker, q.ExchangeCode},
	})
	if cond == nil {
		return nil, nil
	}
	var rows []SecurityRow
	if err := db.Model(&SecurityRow{}).Where(cond).Order("symbol, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("reference lookup: %w", err)
	}
	out := make([]instrument.Instrument, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toInstrument())
	}
	return out, nil
}

// SymbolMapTier is tier 2: exchange symbol to internal symbol mapping.
type SymbolMapTier struct {
	db *gorm.DB
}

func NewSymbolMapTier(db *gorm.DB) *SymbolMapTier {
	return &SymbolMapTier{db: db}
}

func (t *SymbolMapTier) Name() instrument.Tier { return instrument.TierSymbolMap }

func (t *SymbolMapTier) Lookup(ctx context.Context, q instrument.Query) ([]instrument.Instrument, error) {
	q = q.Normalize()
	db := t.db.WithContext(ctx)
	cond := substringFilter(db, map[string][]string{
		"exchange_symbol": {q.Text, q.ExchangeCode, q.Ticker},
		"internal_symbol": {q.Text, q.Ticker},
	})
	if cond == nil {
		return nil, nil
	}
	var rows []SymbolMapping
	if err := db.Model(&SymbolMapping{}).Where(cond).Order("internal_symbol, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("symbol mapping lookup: %w", err)
	}
	out := make([]instrument.Instrument, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toInstrument())
	}
	return out, nil
}

// ProductTier is tier 3: the product master, restricted to rows that are
// not deleted.
type ProductTier struct {
	db *gorm.DB
}

func NewProductTier(db *gorm.DB) *ProductTier {
	return &ProductTier{db: db}
}

func (t *ProductTier) Name() instrument.Tier { return instrument.TierProduct }

func (t *ProductTier) Lookup(ctx context.Context, q instrument.Query) ([]instrument.Instrument, error) {
	q = q.Normalize()
	db := t.db.WithContext(ctx)
	cond := substringFilter(db, map[string][]string{
		"description":     {q.Text},
		"internal_symbol": {q.Text, q.Ticker, q.ExchangeCode},
		"isin":            {q.ISIN},
	})
	if cond == nil {
		return nil, nil
	}
	var rows []Product
	err := db.Model(&Product{}).
		Where("is_deleted = ?", false).
		Where(cond).
		Order("internal_symbol, id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("product lookup: %w", err)
	}
	out := make([]instrument.Instrument, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toInstrument())
	}
	return out, nil
}

// UniverseLoader reads the full instrument universe for the fuzzy index:
// every reference row and every live product.
type UniverseLoader struct {
	db *gorm.DB
}

func NewUniverseLoader(db *gorm.DB) *UniverseLoader {
	return &UniverseLoader{db: db}
}

const universeBatch = 5000

func (l *UniverseLoader) LoadUniverse(ctx context.Context) ([]instrument.Instrument, error) {
	db := l.db.WithContext(ctx)
	var out []instrument.Instrument

	var secBatch []SecurityRow
	err := db.Model(&SecurityRow{}).FindInBatches(&secBatch, universeBatch, func(tx *gorm.DB, _ int) error {
		for _, r := range secBatch {
			out = append(out, r.toInstrument())
		}
		return nil
	}).Error
	if err != nil {
		return nil, fmt.Errorf("load reference universe: %w", err)
	}

	var prodBatch []Product
	err = db.Model(&Product{}).Where("is_deleted = ?", false).FindInBatches(&prodBatch, universeBatch, func(tx *gorm.DB, _ int) error {
		for _, p := range prodBatch {
			out = append(out, p.toInstrument())
		}
		return nil
	}).Error
	if err != nil {
		return nil, fmt.Errorf("load product universe: %w", err)
	}
	return out, nil
}

// RestrictedList answers restricted-list membership from the
// restricted_instruments table.
type RestrictedList struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRestrictedList(db *gorm.DB) *RestrictedList {
	return &RestrictedList{db: db, now: time.Now}
}

// IsRestricted reports whether the instrument (matched on symbol or ISIN)
// is currently restricted, and the recorded reason.
func (l *RestrictedList) IsRestricted(ctx context.Context, inst instrument.Instrument) (bool, string, error) {
	db := l.db.WithContext(ctx)
	cond := db.Where("UPPER(symbol) = ?", inst.Key())
	if isin := strings.TrimSpace(inst.ISIN); isin != "" {
		cond = cond.Or("UPPER(isin) = ?", strings.ToUpper(isin))
	}
	var entries []RestrictedEntry
	if err := db.Model(&RestrictedEntry{}).Where(cond).Order("id").Find(&entries).Error; err != nil {
		return false, "", fmt.Errorf("restricted list lookup: %w", err)
	}
	now := l.now()
	for _, e := range entries {
		if e.ExpiresAt != nil && !e.ExpiresAt.After(now) {
			continue
		}
		return true, e.Reason, nil
	}
	return false, "", nil
}
