package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Aidin1998/padcheck/internal/instrument"
	"github.com/Aidin1998/padcheck/internal/position"
	"github.com/Aidin1998/padcheck/internal/rules"
)

// Input is everything the factors are classified from.
type Input struct {
	Resolution instrument.Resolution
	// Instrument is the chosen candidate, nil when none was resolved.
	Instrument *instrument.Instrument
	Conflict   position.Conflict
	// Category is the employee's category string.
	Category        string
	ConnectedPerson bool
	// BaseValue is the trade value in base currency, nil when unknown.
	BaseValue *decimal.Decimal
}

// Evaluate classifies every factor independently. The result is always in
// the same order.
func Evaluate(in Input, snap *rules.Snapshot) []Factor {
	return []Factor{
		resolutionFactor(in.Resolution),
		typeFactor(in.Instrument),
		firmActivityFactor(in.Conflict, snap),
		employeeFactor(in.Category, snap),
		positionSizeFactor(in.BaseValue, snap),
		connectedFactor(in.ConnectedPerson),
	}
}

func resolutionFactor(r instrument.Resolution) Factor {
	f := Factor{Name: FactorResolution}
	switch {
	case r.LowConfidence:
		f.Level, f.Reason = Medium, "instrument matched approximately"
	case r.Outcome == instrument.ExternalAndInternalMatch:
		f.Level, f.Reason = Low, "internal match corroborated by external reference data"
	case r.Outcome == instrument.InternalOnlyMatch:
		f.Level, f.Reason = Low, fmt.Sprintf("internal match in %s tier", r.Tier)
	case r.Outcome == instrument.ExternalOnlyNoInternalMatch:
		f.Level, f.Reason = Medium, "instrument known only to external reference data"
	default:
		f.Level, f.Reason = Medium, "instrument could not be resolved"
	}
	return f
}

func typeFactor(inst *instrument.Instrument) Factor {
	f := Factor{Name: FactorInstrumentType}
	switch {
	case inst == nil:
		f.Level, f.Reason = Medium, "instrument type unknown"
	case inst.Type == instrument.TypeEquity:
		f.Level, f.Reason = Low, "standard equity"
	case inst.Type == instrument.TypeUnknown || inst.Type == "":
		f.Level, f.Reason = Medium, "instrument type unknown"
	default:
		f.Level, f.Reason = Medium, fmt.Sprintf("%s is not a standard equity", inst.Type)
	}
	return f
}

func firmActivityFactor(c position.Conflict, snap *rules.Snapshot) Factor {
	f := Factor{Name: FactorFirmActivity}
	switch {
	case c.DeskConflict:
		f.Level, f.Reason = High, "employee's desk holds an active opposite-direction position"
	case c.Relation == position.RelationOpposite:
		f.Level, f.Reason = High, "firm holds an active opposite-direction position"
	case c.RecentActivity:
		f.Level, f.Reason = High, fmt.Sprintf("firm traded within the last %d months", snap.FirmActivityLookbackMonths)
	case c.Unknown():
		// an incomplete picture is never LOW
		f.Level, f.Reason = Medium, "firm activity could not be determined"
	case c.Relation == position.RelationSame:
		f.Level, f.Reason = Medium, "firm holds an active same-direction position"
	default:
		f.Level, f.Reason = Low, fmt.Sprintf("no firm activity within %d months", snap.FirmActivityLookbackMonths)
	}
	return f
}

func employeeFactor(category string, snap *rules.Snapshot) Factor {
	f := Factor{Name: FactorEmployee}
	switch snap.Category(category) {
	case "high":
		f.Level, f.Reason = High, fmt.Sprintf("category %q is high risk", category)
	case "medium":
		f.Level, f.Reason = Medium, fmt.Sprintf("category %q is medium risk", category)
	case "":
		f.Level, f.Reason = Medium, "employee category unknown"
	default:
		f.Level, f.Reason = Low, "standard employee category"
	}
	return f
}

func positionSizeFactor(value *decimal.Decimal, snap *rules.Snapshot) Factor {
	f := Factor{Name: FactorPositionSize}
	switch {
	case value == nil || value.IsNegative():
		f.Level, f.Reason = Medium, "trade value unknown"
	case value.GreaterThanOrEqual(snap.PositionSizeHigh):
		f.Level, f.Reason = High, fmt.Sprintf("value %s %s at or above %s", value.StringFixed(2), snap.BaseCurrency, snap.PositionSizeHigh)
	case value.GreaterThanOrEqual(snap.PositionSizeMedium):
		f.Level, f.Reason = Medium, fmt.Sprintf("value %s %s at or above %s", value.StringFixed(2), snap.BaseCurrency, snap.PositionSizeMedium)
	default:
		f.Level, f.Reason = Low, fmt.Sprintf("value %s %s below %s", value.StringFixed(2), snap.BaseCurrency, snap.PositionSizeMedium)
	}
	return f
}

func connectedFactor(connected bool) Factor {
	if connected {
		return Factor{Name: FactorConnected, Level: High, Reason: "trade is for a connected person"}
	}
	return Factor{Name: FactorConnected, Level: Low, Reason: "not a connected person"}
}
