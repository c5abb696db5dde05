// Package routing maps a risk level, resolution outcome and advisory flags
// onto an approval route, and defines the request lifecycle that route
// feeds.
package routing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Aidin1998/padcheck/internal/advisory"
	"github.com/Aidin1998/padcheck/internal/instrument"
	"github.com/Aidin1998/padcheck/internal/risk"
	"github.com/Aidin1998/padcheck/internal/rules"
)

// Route is an approval authority, or a pause for clarification.
type Route string

const (
	AutoApprove   Route = "auto_approve"
	Manager       Route = "manager"
	Compliance    Route = "compliance"
	SMF16         Route = "smf16"
	Clarification Route = "clarification"
)

// severity orders the approval routes for escalate-only merging.
var severity = map[Route]int{AutoApprove: 0, Manager: 1, Compliance: 2, SMF16: 3}

func maxRoute(a, b Route) Route {
	if severity[b] > severity[a] {
		return b
	}
	return a
}

// Input is everything the router reads.
type Input struct {
	Level         risk.Level
	Outcome       instrument.Outcome
	LowConfidence bool
	// Clarified is set once the requester has answered a clarification
	// round for this request.
	Clarified bool
	Flags     []advisory.Flag
	// Value is the trade value in base currency, nil when unknown.
	Value   *decimal.Decimal
	Ceiling decimal.Decimal
	// AllowExternalOnly permits auto-approve on an externally-only
	// resolved instrument.
	AllowExternalOnly bool
}

// Result is the routing decision with its reason.
type Result struct {
	Route  Route  `json:"route"`
	Reason string `json:"reason"`
}

// Decide applies the fixed priority order. It is a pure function.
func Decide(in Input) Result {
	if r, ok := blocked(in); ok {
		return r
	}

	if !in.Clarified && needsClarification(in) {
		return Result{Route: Clarification, Reason: fmt.Sprintf("resolution %s requires clarification", describe(in))}
	}

	switch in.Level {
	case risk.High:
		return Result{Route: SMF16, Reason: "aggregate risk HIGH"}
	case risk.Medium:
		return Result{Route: Compliance, Reason: "aggregate risk MEDIUM"}
	case risk.Low:
	default:
		return Result{Route: Compliance, Reason: fmt.Sprintf("undefined risk level %s", in.Level)}
	}

	switch {
	case in.Value == nil:
		return Result{Route: Manager, Reason: "trade value unknown"}
	case in.Value.GreaterThan(in.Ceiling):
		return Result{Route: Manager, Reason: fmt.Sprintf("value %s exceeds auto-approve ceiling %s", in.Value.StringFixed(2), in.Ceiling.StringFixed(2))}
	case !autoApprovable(in):
		return Result{Route: Manager, Reason: fmt.Sprintf("resolution %s is not eligible for auto-approve", describe(in))}
	}
	for _, f := range in.Flags {
		if f.Warning() {
			return Result{Route: Manager, Reason: fmt.Sprintf("advisory warning: %s", f.Criterion)}
		}
	}
	return Result{Route: AutoApprove, Reason: "LOW risk within auto-approve ceiling"}
}

// blocked handles triggered block-mode flags: the route is the most senior
// authority any flag demands, never below what the level alone implies.
func blocked(in Input) (Result, bool) {
	var (
		route Route
		first rules.Criterion
		n     int
	)
	for _, f := range in.Flags {
		if !f.Blocking() {
			continue
		}
		if n == 0 {
			first = f.Criterion
			route = Compliance
		}
		n++
		if f.Escalation == rules.EscalateSMF16 {
			route = SMF16
		}
	}
	if n == 0 {
		return Result{}, false
	}
	if in.Level == risk.High {
		route = maxRoute(route, SMF16)
	}
	reason := fmt.Sprintf("blocked by %s", first)
	if n > 1 {
		reason = fmt.Sprintf("blocked by %s and %d other criteria", first, n-1)
	}
	return Result{Route: route, Reason: reason}, true
}

func needsClarification(in Input) bool {
	return in.LowConfidence ||
		in.Outcome == instrument.NoMatchAnywhere ||
		in.Outcome == instrument.ExternalOnlyNoInternalMatch
}

func autoApprovable(in Input) bool {
	if in.LowConfidence {
		return false
	}
	switch in.Outcome {
	case instrument.ExternalAndInternalMatch, instrument.InternalOnlyMatch:
		return true
	case instrument.ExternalOnlyNoInternalMatch:
		return in.AllowExternalOnly
	}
	return false
}

func describe(in Input) string {
	if in.LowConfidence {
		return "approximate match"
	}
	return in.Outcome.String()
}
