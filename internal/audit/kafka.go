package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Aidin1998/padcheck/internal/compliance"
)

// KafkaConfig configures the decision topic writer.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers" yaml:"brokers" json:"brokers"`
	Topic        string        `mapstructure:"topic" yaml:"topic" json:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" json:"write_timeout"`
	RequiredAcks int           `mapstructure:"required_acks" yaml:"required_acks" json:"required_acks"`
	MaxAttempts  int           `mapstructure:"max_attempts" yaml:"max_attempts" json:"max_attempts"`
}

// Enabled reports whether any broker is configured.
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0 && c.Topic != ""
}

// MessageWriter is the subset of *kafka.Writer the sink needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes decisions as JSON keyed by employee id, so one
// employee's decisions stay ordered within a partition.
type KafkaSink struct {
	writer MessageWriter
	logger *zap.Logger
}

// NewKafkaWriter builds a synchronous writer for cfg.
func NewKafkaWriter(cfg KafkaConfig) *kafka.Writer {
	acks := kafka.RequireAll
	if cfg.RequiredAcks != 0 {
		acks = kafka.RequiredAcks(cfg.RequiredAcks)
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: acks,
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		Compression:  kafka.Snappy,
	}
}

func NewKafkaSink(w MessageWriter, logger *zap.Logger) *KafkaSink {
	return &KafkaSink{writer: w, logger: logger.Named("audit.kafka")}
}

func (s *KafkaSink) Record(ctx context.Context, d *compliance.Decision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode decision %s: %w", d.ID, err)
	}
	msg := kafka.Message{
		Key:   []byte(d.EmployeeID),
		Value: payload,
		Time:  d.CreatedAt,
		Headers: []kafka.Header{
			{Key: "decision_id", Value: []byte(d.ID)},
			{Key: "route", Value: []byte(d.Route)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.Error("Failed to publish decision", zap.String("decision_id", d.ID), zap.Error(err))
		return fmt.Errorf("publish decision %s: %w", d.ID, err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
