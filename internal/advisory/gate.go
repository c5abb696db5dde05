// Package advisory runs the fixed compliance checklist that can veto the
// score-based route.
package advisory

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/padcheck/internal/instrument"
	"github.com/Aidin1998/padcheck/internal/position"
	"github.com/Aidin1998/padcheck/internal/rules"
)

// Flag is the result of one checklist criterion.
type Flag struct {
	Criterion   rules.Criterion  `json:"criterion"`
	Triggered   bool             `json:"triggered"`
	Mode        rules.Mode       `json:"mode"`
	Escalation  rules.Escalation `json:"escalation"`
	Explanation string           `json:"explanation"`
	// Carried marks a block flag kept from an earlier attempt of the same
	// request.
	Carried bool `json:"carried,omitempty"`
}

// Blocking reports whether the flag vetoes routing.
func (f Flag) Blocking() bool {
	return f.Triggered && f.Mode == rules.ModeBlock
}

// Warning reports whether the flag is a triggered advise-mode flag.
func (f Flag) Warning() bool {
	return f.Triggered && f.Mode == rules.ModeAdvise
}

// RestrictedChecker answers restricted-list membership.
type RestrictedChecker interface {
	IsRestricted(ctx context.Context, inst instrument.Instrument) (bool, string, error)
}

// Input carries the request facts the checklist reads.
type Input struct {
	// Instrument is the resolved instrument, nil when the requester
	// proceeded without one.
	Instrument                 *instrument.Instrument
	ProceededWithoutIdentifier bool
	// InsiderInformation is the requester's answer; nil means unanswered.
	InsiderInformation *bool
	Direction          position.Direction
	ExistingPosition   bool
	// AcquiredAt is when the existing position was acquired, if known.
	AcquiredAt *time.Time
	Conflict   position.Conflict
	// PriorFlags are the flags recorded on earlier attempts.
	PriorFlags []Flag
	AsOf       time.Time
}

// Gate evaluates the checklist.
type Gate struct {
	restricted RestrictedChecker
	logger     *zap.Logger
	now        func() time.Time
}

func NewGate(restricted RestrictedChecker, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{restricted: restricted, logger: logger.Named("advisory"), now: time.Now}
}

// Check returns one flag per enabled criterion in checklist order,
// followed by carried flags for criteria no longer evaluated. A triggered
// block flag from PriorFlags is never dropped.
func (g *Gate) Check(ctx context.Context, in Input, snap *rules.Snapshot) []Flag {
	if in.AsOf.IsZero() {
		in.AsOf = g.now()
	}
	var flags []Flag
	for _, c := range rules.Criteria {
		cfg := snap.Criterion(c)
		if !cfg.Enabled {
			continue
		}
		triggered, why := g.evaluate(ctx, c, in, snap)
		flags = append(flags, Flag{
			Criterion:   c,
			Triggered:   triggered,
			Mode:        cfg.Mode,
			Escalation:  cfg.Escalation,
			Explanation: why,
		})
	}
	return Carry(flags, in.PriorFlags)
}

func (g *Gate) evaluate(ctx context.Context, c rules.Criterion, in Input, snap *rules.Snapshot) (bool, string) {
	switch c {
	case rules.ProhibitedInstrument:
		if in.Instrument != nil && in.Instrument.Type.IsProhibited() {
			return true, fmt.Sprintf("%s instruments may not be dealt on a personal account", in.Instrument.Type)
		}
		return false, "instrument type permitted"

	case rules.RestrictedList:
		if in.Instrument == nil {
			return false, "no instrument to check"
		}
		if g.restricted == nil {
			return true, "restricted list unavailable"
		}
		restricted, reason, err := g.restricted.IsRestricted(ctx, *in.Instrument)
		if err != nil {
			g.logger.Error("Restricted list check failed, flagging", zap.String("symbol", in.Instrument.Symbol), zap.Error(err))
			return true, "restricted list could not be checked"
		}
		if restricted {
			if reason == "" {
				reason = "on the restricted list"
			}
			return true, fmt.Sprintf("%s: %s", in.Instrument.Symbol, reason)
		}
		return false, "not on the restricted list"

	case rules.InsiderInformation:
		switch {
		case in.InsiderInformation == nil:
			return true, "insider information question unanswered"
		case *in.InsiderInformation:
			return true, "requester declared possession of inside information"
		}
		return false, "no inside information declared"

	case rules.HoldingPeriod:
		if in.Direction != position.Sell || !in.ExistingPosition {
			return false, "no disposal of an existing holding"
		}
		if in.AcquiredAt == nil {
			return true, "acquisition date of the holding is unknown"
		}
		held := in.AsOf.Sub(*in.AcquiredAt)
		minHeld := time.Duration(snap.HoldingPeriodDays) * 24 * time.Hour
		if held < minHeld {
			return true, fmt.Sprintf("held %d days, minimum is %d", int(held.Hours()/24), snap.HoldingPeriodDays)
		}
		return false, "minimum holding period met"

	case rules.DeskConflict:
		switch {
		case in.Conflict.DeskConflict:
			return true, "requester's desk holds an active opposite-direction position"
		case in.Conflict.PositionsUnknown:
			return true, "desk positions could not be checked"
		}
		return false, "no conflicting desk position"

	case rules.UnresolvedIdentifier:
		if in.ProceededWithoutIdentifier {
			return true, "requester proceeded without a resolvable identifier"
		}
		return false, "instrument identified"
	}
	return true, fmt.Sprintf("unknown criterion %q", c)
}

// Carry merges prior triggered block flags into flags, marking them
// carried. A current blocking flag for the same criterion is kept.
func Carry(flags, prior []Flag) []Flag {
	for _, p := range prior {
		if !p.Blocking() {
			continue
		}
		p.Carried = true
		idx := -1
		for i, f := range flags {
			if f.Criterion == p.Criterion {
				idx = i
				break
			}
		}
		switch {
		case idx < 0:
			flags = append(flags, p)
		case !flags[idx].Blocking():
			flags[idx] = p
		}
	}
	return flags
}
