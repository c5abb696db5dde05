// Package audit hands every compliance decision, with the rule snapshot it
// was made under, to external audit destinations.
package audit

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Aidin1998/padcheck/internal/compliance"
	"github.com/Aidin1998/padcheck/pkg/metrics"
)

// LogSink writes each decision as one structured log entry.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("audit")}
}

func (s *LogSink) Record(_ context.Context, d *compliance.Decision) error {
	fields := []zap.Field{
		zap.String("decision_id", d.ID),
		zap.String("request_id", d.RequestID),
		zap.String("employee_id", d.EmployeeID),
		zap.String("route", string(d.Route)),
		zap.String("level", d.Level.String()),
		zap.String("status", string(d.Status)),
		zap.Int64("rules_version", d.Rules.Version),
		zap.String("rules_source", d.Rules.Source),
		zap.Bool("fail_closed", d.FailClosed),
		zap.String("rationale", d.Rationale),
		zap.Any("decision", d),
	}
	if d.Instrument != nil {
		fields = append(fields, zap.String("symbol", d.Instrument.Symbol))
	}
	s.logger.Info("Compliance decision", fields...)
	return nil
}

// MultiSink fans a decision out to several sinks. Every sink is tried;
// the failures are joined.
type MultiSink struct {
	sinks []named
}

type named struct {
	name string
	sink compliance.Sink
}

func NewMultiSink() *MultiSink {
	return &MultiSink{}
}

// Add registers a sink under name, used in metrics.
func (m *MultiSink) Add(name string, s compliance.Sink) *MultiSink {
	m.sinks = append(m.sinks, named{name: name, sink: s})
	return m
}

func (m *MultiSink) Record(ctx context.Context, d *compliance.Decision) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.sink.Record(ctx, d); err != nil {
			metrics.AuditFailures.WithLabelValues(s.name).Inc()
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
