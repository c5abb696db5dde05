package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Aidin1998/padcheck/internal/compliance"
)

// ErrNotFound is returned when no decision has the requested id.
var ErrNotFound = errors.New("decision not found")

// DecisionRecord is the durable audit row. The full decision, including
// the rule snapshot, is kept in Payload; the other columns serve lookups.
type DecisionRecord struct {
	ID           string    `gorm:"primaryKey;size:36"`
	RequestID    string    `gorm:"size:64;index"`
	EmployeeID   string    `gorm:"size:64;index;not null"`
	Symbol       string    `gorm:"size:32;index"`
	Route        string    `gorm:"size:32;not null"`
	Level        string    `gorm:"size:8;not null"`
	Status       string    `gorm:"size:32;not null"`
	RulesVersion int64
	FailClosed   bool
	Payload      string    `gorm:"type:text;not null"`
	CreatedAt    time.Time `gorm:"index"`
}

func (DecisionRecord) TableName() string { return "decision_records" }

// Models lists the tables the audit store owns.
func Models() []any {
	return []any{&DecisionRecord{}}
}

// GormSink persists decisions. Rows are insert-only.
type GormSink struct {
	db *gorm.DB
}

func NewGormSink(db *gorm.DB) *GormSink {
	return &GormSink{db: db}
}

func (s *GormSink) Migrate() error {
	return s.db.AutoMigrate(Models()...)
}

func (s *GormSink) Record(ctx context.Context, d *compliance.Decision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode decision %s: %w", d.ID, err)
	}
	rec := DecisionRecord{
		ID:         d.ID,
		RequestID:  d.RequestID,
		EmployeeID: d.EmployeeID,
		Route:      string(d.Route),
		Level:      d.Level.String(),
		Status:     string(d.Status),
		FailClosed: d.FailClosed,
		Payload:    string(payload),
		CreatedAt:  d.CreatedAt,
	}
	if d.Instrument != nil {
		rec.Symbol = d.Instrument.Symbol
	}
	if d.Rules != nil {
		rec.RulesVersion = d.Rules.Version
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("store decision %s: %w", d.ID, err)
	}
	return nil
}

// Get loads one decision by id.
func (s *GormSink) Get(ctx context.Context, id string) (*compliance.Decision, error) {
	var rec DecisionRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load decision %s: %w", id, err)
	}
	var d compliance.Decision
	if err := json.Unmarshal([]byte(rec.Payload), &d); err != nil {
		return nil, fmt.Errorf("decode decision %s: %w", id, err)
	}
	return &d, nil
}

// ListByEmployee returns an employee's decisions, newest first.
func (s *GormSink) ListByEmployee(ctx context.Context, employeeID string, limit int) ([]DecisionRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var recs []DecisionRecord
	err := s.db.WithContext(ctx).
		Where("employee_id = ?", employeeID).
		Order("created_at DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list decisions for %s: %w", employeeID, err)
	}
	return recs, nil
}
