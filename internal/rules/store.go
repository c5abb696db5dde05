package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrNotFound is returned when the store holds no rule set yet.
var ErrNotFound = errors.New("no rules snapshot stored")

// Store persists rule snapshots by version.
type Store interface {
	Latest(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, s *Snapshot, author string) error
}

// RuleSetRecord is one stored version. The payload is the JSON snapshot
// so old versions can be replayed exactly.
type RuleSetRecord struct {
	ID        uint   `gorm:"primaryKey"`
	Version   int64  `gorm:"uniqueIndex;not null"`
	Payload   string `gorm:"type:text;not null"`
	Author    string `gorm:"size:128"`
	CreatedAt time.Time
}

func (RuleSetRecord) TableName() string { return "rule_sets" }

// GormStore keeps rule sets in the rule_sets table.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates the rule_sets table.
func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(&RuleSetRecord{})
}

// Latest returns the highest stored version.
func (s *GormStore) Latest(ctx context.Context) (*Snapshot, error) {
	var rec RuleSetRecord
	err := s.db.WithContext(ctx).Order("version DESC").Limit(1).Find(&rec).Error
	if err != nil {
		return nil, fmt.Errorf("load rule set: %w", err)
	}
	if rec.ID == 0 {
		return nil, ErrNotFound
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(rec.Payload), &snap); err != nil {
		return nil, fmt.Errorf("decode rule set v%d: %w", rec.Version, err)
	}
	snap.Version = rec.Version
	snap.Source = SourceStore
	return &snap, nil
}

// Save stores s under s.Version. Versions are never overwritten.
func (s *GormStore) Save(ctx context.Context, snap *Snapshot, author string) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode rule set: %w", err)
	}
	rec := RuleSetRecord{Version: snap.Version, Payload: string(payload), Author: author}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("save rule set v%d: %w", snap.Version, err)
	}
	return nil
}
