// Package rules holds the versioned threshold and advisory configuration
// an evaluation runs against. A Snapshot is immutable once published; a
// new version replaces the process-wide reference atomically.
package rules

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// ErrInvalidSnapshot wraps every validation failure.
var ErrInvalidSnapshot = errors.New("invalid rules snapshot")

// Criterion names one item of the fixed advisory checklist.
type Criterion string

const (
	ProhibitedInstrument Criterion = "prohibited_instrument"
	RestrictedList       Criterion = "restricted_list"
	InsiderInformation   Criterion = "insider_information"
	HoldingPeriod        Criterion = "holding_period"
	DeskConflict         Criterion = "desk_conflict"
	UnresolvedIdentifier Criterion = "unresolved_identifier"
)

// Criteria is the checklist in evaluation order.
var Criteria = []Criterion{
	ProhibitedInstrument,
	RestrictedList,
	InsiderInformation,
	HoldingPeriod,
	DeskConflict,
	UnresolvedIdentifier,
}

// Mode decides whether a triggered criterion warns or vetoes.
type Mode string

const (
	ModeAdvise Mode = "advise"
	ModeBlock  Mode = "block"
)

// Escalation is the approval authority a blocking criterion demands.
type Escalation string

const (
	EscalateCompliance Escalation = "compliance"
	EscalateSMF16      Escalation = "smf16"
)

// CriterionConfig is the per-criterion toggle.
type CriterionConfig struct {
	Enabled    bool       `json:"enabled" yaml:"enabled"`
	Mode       Mode       `json:"mode" yaml:"mode" validate:"oneof=advise block"`
	Escalation Escalation `json:"escalation" yaml:"escalation" validate:"oneof=compliance smf16"`
}

// Source values.
const (
	SourceStore    = "store"
	SourceDefaults = "defaults"
)

// Snapshot is one version of the rule configuration. Values are shared
// between concurrent evaluations and must not be modified once served;
// use Clone to derive a new version.
type Snapshot struct {
	Version  int64     `json:"version" yaml:"version"`
	LoadedAt time.Time `json:"loaded_at" yaml:"-"`
	Source   string    `json:"source" yaml:"-"`

	BaseCurrency string                     `json:"base_currency" yaml:"base_currency" validate:"len=3"`
	FXRates      map[string]decimal.Decimal `json:"fx_rates" yaml:"fx_rates"`

	// AutoApproveCeiling is the maximum base-currency value a LOW request
	// may have and still bypass human approval.
	AutoApproveCeiling decimal.Decimal `json:"auto_approve_ceiling" yaml:"auto_approve_ceiling"`
	PositionSizeMedium decimal.Decimal `json:"position_size_medium" yaml:"position_size_medium"`
	PositionSizeHigh   decimal.Decimal `json:"position_size_high" yaml:"position_size_high"`

	FirmActivityLookbackMonths int             `json:"firm_activity_lookback_months" yaml:"firm_activity_lookback_months" validate:"gte=0,lte=120"`
	MaterialityThreshold       decimal.Decimal `json:"materiality_threshold" yaml:"materiality_threshold"`

	// MediumFactorThreshold is how many MEDIUM factors escalate the
	// aggregate to MEDIUM.
	MediumFactorThreshold int `json:"medium_factor_threshold" yaml:"medium_factor_threshold" validate:"gte=1"`

	HighRiskCategories   []string `json:"high_risk_categories" yaml:"high_risk_categories"`
	MediumRiskCategories []string `json:"medium_risk_categories" yaml:"medium_risk_categories"`

	HoldingPeriodDays int `json:"holding_period_days" yaml:"holding_period_days" validate:"gte=0"`

	// AllowAutoApproveExternalOnly lets an externally-only resolved
	// instrument reach auto-approve after clarification. Off by default.
	AllowAutoApproveExternalOnly bool `json:"allow_auto_approve_external_only" yaml:"allow_auto_approve_external_only"`

	Advisory map[Criterion]CriterionConfig `json:"advisory" yaml:"advisory" validate:"dive"`
}

// Defaults is the hardcoded fallback configuration. It is deliberately
// strict: unknown currencies have no rate, one MEDIUM factor escalates and
// every criterion is enabled.
func Defaults() *Snapshot {
	return &Snapshot{
		Version:                    0,
		LoadedAt:                   time.Now().UTC(),
		Source:                     SourceDefaults,
		BaseCurrency:               "GBP",
		FXRates:                    map[string]decimal.Decimal{"GBP": decimal.NewFromInt(1)},
		AutoApproveCeiling:         decimal.NewFromInt(10_000),
		PositionSizeMedium:         decimal.NewFromInt(50_000),
		PositionSizeHigh:           decimal.NewFromInt(250_000),
		FirmActivityLookbackMonths: 6,
		MaterialityThreshold:       decimal.Zero,
		MediumFactorThreshold:      1,
		HighRiskCategories:         []string{"senior_manager", "trader"},
		MediumRiskCategories:       []string{"investment", "research", "contractor"},
		HoldingPeriodDays:          30,
		Advisory:                   defaultAdvisory(),
	}
}

func defaultAdvisory() map[Criterion]CriterionConfig {
	return map[Criterion]CriterionConfig{
		ProhibitedInstrument: {Enabled: true, Mode: ModeBlock, Escalation: EscalateCompliance},
		RestrictedList:       {Enabled: true, Mode: ModeBlock, Escalation: EscalateCompliance},
		InsiderInformation:   {Enabled: true, Mode: ModeBlock, Escalation: EscalateSMF16},
		HoldingPeriod:        {Enabled: true, Mode: ModeAdvise, Escalation: EscalateCompliance},
		DeskConflict:         {Enabled: true, Mode: ModeAdvise, Escalation: EscalateSMF16},
		UnresolvedIdentifier: {Enabled: true, Mode: ModeBlock, Escalation: EscalateCompliance},
	}
}

var validate = validator.New()

// Normalize upper-cases currency codes and lower-cases category names.
// Criteria missing from the advisory map get their default toggle.
func (s *Snapshot) Normalize() {
	s.BaseCurrency = strings.ToUpper(strings.TrimSpace(s.BaseCurrency))
	rates := make(map[string]decimal.Decimal, len(s.FXRates)+1)
	for ccy, r := range s.FXRates {
		rates[strings.ToUpper(strings.TrimSpace(ccy))] = r
	}
	if _, ok := rates[s.BaseCurrency]; !ok && s.BaseCurrency != "" {
		rates[s.BaseCurrency] = decimal.NewFromInt(1)
	}
	s.FXRates = rates
	s.HighRiskCategories = lowerAll(s.HighRiskCategories)
	s.MediumRiskCategories = lowerAll(s.MediumRiskCategories)

	if s.Advisory == nil {
		s.Advisory = map[Criterion]CriterionConfig{}
	}
	for c, cfg := range defaultAdvisory() {
		if _, ok := s.Advisory[c]; !ok {
			s.Advisory[c] = cfg
		}
	}
}

// Validate checks the snapshot is usable.
func (s *Snapshot) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil", ErrInvalidSnapshot)
	}
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	for name, d := range map[string]decimal.Decimal{
		"auto_approve_ceiling":  s.AutoApproveCeiling,
		"position_size_medium":  s.PositionSizeMedium,
		"position_size_high":    s.PositionSizeHigh,
		"materiality_threshold": s.MaterialityThreshold,
	} {
		if d.IsNegative() {
			return fmt.Errorf("%w: %s is negative", ErrInvalidSnapshot, name)
		}
	}
	if s.PositionSizeMedium.GreaterThan(s.PositionSizeHigh) {
		return fmt.Errorf("%w: position_size_medium exceeds position_size_high", ErrInvalidSnapshot)
	}
	for ccy, r := range s.FXRates {
		if !r.IsPositive() {
			return fmt.Errorf("%w: fx rate for %s must be positive", ErrInvalidSnapshot, ccy)
		}
	}
	for c := range s.Advisory {
		if !knownCriterion(c) {
			return fmt.Errorf("%w: unknown advisory criterion %q", ErrInvalidSnapshot, c)
		}
	}
	return nil
}

func knownCriterion(c Criterion) bool {
	for _, k := range Criteria {
		if k == c {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	out := *s
	out.FXRates = make(map[string]decimal.Decimal, len(s.FXRates))
	for k, v := range s.FXRates {
		out.FXRates[k] = v
	}
	out.HighRiskCategories = append([]string(nil), s.HighRiskCategories...)
	out.MediumRiskCategories = append([]string(nil), s.MediumRiskCategories...)
	out.Advisory = make(map[Criterion]CriterionConfig, len(s.Advisory))
	for k, v := range s.Advisory {
		out.Advisory[k] = v
	}
	return &out
}

// Criterion returns the toggle for c. Unknown criteria come back enabled
// in block mode.
func (s *Snapshot) Criterion(c Criterion) CriterionConfig {
	if cfg, ok := s.Advisory[c]; ok {
		return cfg
	}
	return CriterionConfig{Enabled: true, Mode: ModeBlock, Escalation: EscalateCompliance}
}

// ToBase converts amount in ccy to the base currency. ok is false when
// ccy is blank or has no configured rate.
func (s *Snapshot) ToBase(amount decimal.Decimal, ccy string) (decimal.Decimal, bool) {
	ccy = strings.ToUpper(strings.TrimSpace(ccy))
	switch {
	case ccy == "":
		return decimal.Zero, false
	case ccy == s.BaseCurrency:
		return amount, true
	}
	rate, ok := s.FXRates[ccy]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, false
	}
	return amount.Mul(rate), true
}

// Category classifies an employee category string: "high", "medium",
// "standard", or "" when the category is blank.
func (s *Snapshot) Category(category string) string {
	c := strings.ToLower(strings.TrimSpace(category))
	switch {
	case c == "":
		return ""
	case contains(s.HighRiskCategories, c):
		return "high"
	case contains(s.MediumRiskCategories, c):
		return "medium"
	}
	return "standard"
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
