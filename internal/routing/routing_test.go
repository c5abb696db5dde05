package routing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/padcheck/internal/advisory"
	"github.com/Aidin1998/padcheck/internal/instrument"
	"github.com/Aidin1998/padcheck/internal/risk"
	"github.com/Aidin1998/padcheck/internal/rules"
)

func val(n int64) *decimal.Decimal {
	v := decimal.NewFromInt(n)
	return &v
}

func base() Input {
	return Input{
		Level:   risk.Low,
		Outcome: instrument.InternalOnlyMatch,
		Value:   val(5_000),
		Ceiling: decimal.NewFromInt(10_000),
	}
}

func block(c rules.Criterion, esc rules.Escalation) advisory.Flag {
	return advisory.Flag{Criterion: c, Triggered: true, Mode: rules.ModeBlock, Escalation: esc}
}

func TestDecide_LevelRoutes(t *testing.T) {
	in := base()
	assert.Equal(t, AutoApprove, Decide(in).Route)

	in.Level = risk.Medium
	assert.Equal(t, Compliance, Decide(in).Route)

	in.Level = risk.High
	assert.Equal(t, SMF16, Decide(in).Route)

	in.Level = 0
	assert.Equal(t, Compliance, Decide(in).Route, "an undefined level fails closed")
}

func TestDecide_ValueAboveCeilingGoesToManager(t *testing.T) {
	in := base()
	in.Value = val(262_900)
	r := Decide(in)
	assert.Equal(t, Manager, r.Route)
	assert.Contains(t, r.Reason, "262900.00")

	in.Value = val(10_000)
	assert.Equal(t, AutoApprove, Decide(in).Route, "the ceiling is inclusive")

	in.Value = nil
	assert.Equal(t, Manager, Decide(in).Route, "unknown value never auto-approves")
}

func TestDecide_BlockFlagOverridesLevel(t *testing.T) {
	for _, level := range []risk.Level{risk.Low, risk.Medium, risk.High} {
		in := base()
		in.Level = level
		in.Flags = []advisory.Flag{block(rules.RestrictedList, rules.EscalateCompliance)}
		r := Decide(in)
		assert.Contains(t, []Route{Compliance, SMF16}, r.Route, level)
		assert.NotEqual(t, AutoApprove, r.Route)
	}

	in := base()
	in.Flags = []advisory.Flag{block(rules.RestrictedList, rules.EscalateCompliance)}
	assert.Equal(t, Compliance, Decide(in).Route)

	in.Flags = append(in.Flags, block(rules.InsiderInformation, rules.EscalateSMF16))
	r := Decide(in)
	assert.Equal(t, SMF16, r.Route, "the most senior demanded authority wins")
	assert.Equal(t, "blocked by restricted_list and 1 other criteria", r.Reason)

	in = base()
	in.Level = risk.High
	in.Flags = []advisory.Flag{block(rules.RestrictedList, rules.EscalateCompliance)}
	assert.Equal(t, SMF16, Decide(in).Route, "a block flag never lowers the level route")
}

func TestDecide_BlockFlagBeatsClarification(t *testing.T) {
	in := base()
	in.Outcome = instrument.NoMatchAnywhere
	in.Flags = []advisory.Flag{block(rules.UnresolvedIdentifier, rules.EscalateCompliance)}
	assert.Equal(t, Compliance, Decide(in).Route)
}

func TestDecide_Clarification(t *testing.T) {
	for _, in := range []Input{
		func() Input { i := base(); i.Outcome = instrument.NoMatchAnywhere; return i }(),
		func() Input { i := base(); i.Outcome = instrument.ExternalOnlyNoInternalMatch; return i }(),
		func() Input { i := base(); i.LowConfidence = true; return i }(),
	} {
		assert.Equal(t, Clarification, Decide(in).Route)
		in.Level = risk.High
		assert.Equal(t, Clarification, Decide(in).Route, "clarification precedes the level")
	}
}

func TestDecide_ExternalOnlyNeverAutoApprovesByDefault(t *testing.T) {
	in := base()
	in.Outcome = instrument.ExternalOnlyNoInternalMatch
	in.Clarified = true
	assert.Equal(t, Manager, Decide(in).Route)

	in.AllowExternalOnly = true
	assert.Equal(t, AutoApprove, Decide(in).Route)

	in = base()
	in.LowConfidence = true
	in.Clarified = true
	assert.Equal(t, Manager, Decide(in).Route)
}

func TestDecide_AdviseFlagBarsAutoApprove(t *testing.T) {
	in := base()
	in.Flags = []advisory.Flag{
		{Criterion: rules.HoldingPeriod, Triggered: false, Mode: rules.ModeAdvise},
		{Criterion: rules.DeskConflict, Triggered: true, Mode: rules.ModeAdvise},
	}
	r := Decide(in)
	assert.Equal(t, Manager, r.Route)
	assert.Equal(t, "advisory warning: desk_conflict", r.Reason)

	in.Level = risk.Medium
	assert.Equal(t, Compliance, Decide(in).Route, "advise flags never change a human route")
}

func TestInitialStatus(t *testing.T) {
	assert.Equal(t, StatusAutoApproved, InitialStatus(AutoApprove))
	assert.Equal(t, StatusManagerPending, InitialStatus(Manager))
	assert.Equal(t, StatusCompliancePending, InitialStatus(Compliance))
	assert.Equal(t, StatusSMF16Pending, InitialStatus(SMF16))
	assert.Equal(t, StatusNew, InitialStatus(Clarification))
}

func TestTransition(t *testing.T) {
	require.NoError(t, Transition(StatusNew, StatusCompliancePending, false))
	require.NoError(t, Transition(StatusCompliancePending, StatusApproved, true))
	require.NoError(t, Transition(StatusApproved, StatusExecuted, false))
	require.NoError(t, Transition(StatusAutoApproved, StatusExpired, false))

	err := Transition(StatusCompliancePending, StatusSMF16Pending, false)
	assert.ErrorIs(t, err, ErrInvalidTransition, "escalation to SMF16 is never automatic")
	assert.NoError(t, Transition(StatusCompliancePending, StatusSMF16Pending, true))

	assert.ErrorIs(t, Transition(StatusManagerPending, StatusExecuted, true), ErrInvalidTransition)
	assert.ErrorIs(t, Transition(StatusDeclined, StatusApproved, true), ErrInvalidTransition)

	assert.True(t, StatusExecuted.Terminal())
	assert.True(t, StatusDeclined.Terminal())
	assert.False(t, StatusCompliancePending.Terminal())
}
