// Package compliance evaluates a personal dealing request end to end:
// resolve the instrument, classify risk, run the advisory checklist and
// route the request.
package compliance

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Aidin1998/padcheck/internal/advisory"
	"github.com/Aidin1998/padcheck/internal/instrument"
	"github.com/Aidin1998/padcheck/internal/position"
	"github.com/Aidin1998/padcheck/internal/risk"
	"github.com/Aidin1998/padcheck/internal/routing"
	"github.com/Aidin1998/padcheck/internal/rules"
)

// ErrInvalidRequest wraps request validation failures.
var ErrInvalidRequest = errors.New("invalid evaluation request")

// FailClosedRationale is the user-facing text of a decision that could
// not be assessed.
const FailClosedRationale = "unable to assess — escalating to Compliance"

// Request is one personal dealing request.
type Request struct {
	RequestID string           `json:"request_id,omitempty" validate:"omitempty,max=64"`
	Query     instrument.Query `json:"query"`
	// SelectedSymbol answers an earlier disambiguation response.
	SelectedSymbol string `json:"selected_symbol,omitempty"`
	// ProceedWithoutIdentifier overrides a "needs identifier" response.
	// The decision always carries the unresolved identifier flag.
	ProceedWithoutIdentifier bool `json:"proceed_without_identifier,omitempty"`
	// Clarified records that a clarification round already took place.
	Clarified bool `json:"clarified,omitempty"`

	Direction position.Direction `json:"direction" validate:"required,oneof=BUY SELL"`
	Quantity  *decimal.Decimal   `json:"quantity,omitempty"`
	// Value is the trade value in Currency; nil when not known.
	Value    *decimal.Decimal `json:"value,omitempty"`
	Currency string           `json:"currency,omitempty" validate:"omitempty,len=3"`

	EmployeeID       string `json:"employee_id" validate:"required,max=64"`
	EmployeeCategory string `json:"employee_category,omitempty"`
	EmployeeDesk     string `json:"employee_desk,omitempty"`
	ConnectedPerson  bool   `json:"connected_person,omitempty"`
	// InsiderInformation is the answer to the inside information question;
	// nil means unanswered.
	InsiderInformation *bool      `json:"insider_information,omitempty"`
	ExistingPosition   bool       `json:"existing_position,omitempty"`
	AcquiredAt         *time.Time `json:"acquired_at,omitempty"`

	// PriorFlags are the flags recorded on earlier attempts of this
	// request.
	PriorFlags []advisory.Flag `json:"prior_flags,omitempty"`
	// AsOf pins the evaluation time. Zero means now.
	AsOf time.Time `json:"as_of,omitempty"`
}

// Status is the kind of answer Evaluate gives.
type Status string

const (
	StatusDecided             Status = "decided"
	StatusNeedsDisambiguation Status = "needs_disambiguation"
	StatusNeedsIdentifier     Status = "needs_identifier"
	StatusNeedsClarification  Status = "needs_clarification"
)

// Result is either a decision or a typed request for more input.
type Result struct {
	Status   Status    `json:"status"`
	Decision *Decision `json:"decision,omitempty"`
	// Candidates are offered back for disambiguation or clarification.
	Candidates []instrument.Instrument `json:"candidates,omitempty"`
	Outcome    instrument.Outcome      `json:"outcome,omitempty"`
	Message    string                  `json:"message,omitempty"`
}

// Decision is the immutable record of one evaluation, including the rule
// snapshot it was made under.
type Decision struct {
	ID         string                 `json:"id"`
	RequestID  string                 `json:"request_id,omitempty"`
	EmployeeID string                 `json:"employee_id"`
	CreatedAt  time.Time              `json:"created_at"`
	Instrument *instrument.Instrument `json:"instrument,omitempty"`
	Resolution instrument.Resolution  `json:"resolution"`
	Direction  position.Direction     `json:"direction"`
	BaseValue  *decimal.Decimal       `json:"base_value,omitempty"`
	Conflict   position.Conflict      `json:"conflict"`

	Level     risk.Level      `json:"level"`
	Route     routing.Route   `json:"route"`
	Status    routing.Status  `json:"status"`
	Factors   []risk.Factor   `json:"factors"`
	Flags     []advisory.Flag `json:"flags"`
	Rationale string          `json:"rationale"`

	Rules *rules.Snapshot `json:"rules"`

	// FailClosed is set when the evaluation could not complete and the
	// request was escalated instead.
	FailClosed bool   `json:"fail_closed,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Sink receives every decision for audit.
type Sink interface {
	Record(ctx context.Context, d *Decision) error
}

// Resolver is satisfied by resolver.Resolver.
type Resolver interface {
	Resolve(ctx context.Context, q instrument.Query) (instrument.Resolution, error)
}

// Enricher is satisfied by position.Enricher.
type Enricher interface {
	Enrich(ctx context.Context, symbol string, req position.Request, snap *rules.Snapshot) position.Conflict
}

// Gate is satisfied by advisory.Gate.
type Gate interface {
	Check(ctx context.Context, in advisory.Input, snap *rules.Snapshot) []advisory.Flag
}

// RulesSource is satisfied by rules.Provider.
type RulesSource interface {
	Snapshot(ctx context.Context) *rules.Snapshot
}
