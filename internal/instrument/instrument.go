// Package instrument holds the identity types shared by every stage of the
// instrument resolution waterfall.
package instrument

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Query is a free-text security description plus any identifiers the
// requester supplied explicitly.
type Query struct {
	Text         string `json:"text,omitempty"`
	ISIN         string `json:"isin,omitempty"`
	SEDOL        string `json:"sedol,omitempty"`
	ExchangeCode string `json:"exchange_code,omitempty"`
	Ticker       string `json:"ticker,omitempty"`
}

// Normalize trims every field and upper-cases the identifier fields.
func (q Query) Normalize() Query {
	return Query{
		Text:         strings.TrimSpace(q.Text),
		ISIN:         strings.ToUpper(strings.TrimSpace(q.ISIN)),
		SEDOL:        strings.ToUpper(strings.TrimSpace(q.SEDOL)),
		ExchangeCode: strings.ToUpper(strings.TrimSpace(q.ExchangeCode)),
		Ticker:       strings.ToUpper(strings.TrimSpace(q.Ticker)),
	}
}

// IsEmpty reports whether the query carries nothing to search for.
func (q Query) IsEmpty() bool {
	n := q.Normalize()
	return n.Text == "" && n.ISIN == "" && n.SEDOL == "" && n.ExchangeCode == "" && n.Ticker == ""
}

// FuzzyTerm is the string the approximate index is searched with.
func (q Query) FuzzyTerm() string {
	n := q.Normalize()
	for _, s := range []string{n.Text, n.Ticker, n.ExchangeCode, n.ISIN, n.SEDOL} {
		if s != "" {
			return s
		}
	}
	return ""
}

// TypeTag classifies an instrument for risk purposes.
type TypeTag string

const (
	TypeEquity     TypeTag = "EQUITY"
	TypeETF        TypeTag = "ETF"
	TypeBond       TypeTag = "BOND"
	TypeFund       TypeTag = "FUND"
	TypeWarrant    TypeTag = "WARRANT"
	TypeStructured TypeTag = "STRUCTURED"
	TypeDerivative TypeTag = "DERIVATIVE"
	TypeFuture     TypeTag = "FUTURE"
	TypeOption     TypeTag = "OPTION"
	TypeCFD        TypeTag = "CFD"
	TypeSpreadBet  TypeTag = "SPREAD_BET"
	TypeLeveraged  TypeTag = "LEVERAGED"
	TypeUnknown    TypeTag = "UNKNOWN"
)

var typeAliases = map[string]TypeTag{
	"EQUITY":          TypeEquity,
	"EQ":              TypeEquity,
	"COMMON STOCK":    TypeEquity,
	"ORDINARY SHARE":  TypeEquity,
	"STOCK":           TypeEquity,
	"SHARE":           TypeEquity,
	"ETF":             TypeETF,
	"ETP":             TypeETF,
	"EXCHANGE TRADED": TypeETF,
	"BOND":            TypeBond,
	"GILT":            TypeBond,
	"NOTE":            TypeBond,
	"FIXED INCOME":    TypeBond,
	"FUND":            TypeFund,
	"UNIT TRUST":      TypeFund,
	"OEIC":            TypeFund,
	"WARRANT":         TypeWarrant,
	"STRUCTURED":      TypeStructured,
	"DERIVATIVE":      TypeDerivative,
	"SWAP":            TypeDerivative,
	"FUTURE":          TypeFuture,
	"FUT":             TypeFuture,
	"OPTION":          TypeOption,
	"CE":              TypeOption,
	"PE":              TypeOption,
	"CFD":             TypeCFD,
	"SPREAD_BET":      TypeSpreadBet,
	"SPREAD BET":      TypeSpreadBet,
	"LEVERAGED":       TypeLeveraged,
}

// ParseTypeTag maps a reference-data type string onto a TypeTag. Anything
// unrecognised becomes TypeUnknown.
func ParseTypeTag(s string) TypeTag {
	key := strings.ToUpper(strings.TrimSpace(s))
	if t, ok := typeAliases[key]; ok {
		return t
	}
	return TypeUnknown
}

// IsProhibited reports whether personal dealing in this type is barred
// outright: derivatives, leveraged products, spread bets and listed
// futures or options.
func (t TypeTag) IsProhibited() bool {
	switch t {
	case TypeDerivative, TypeFuture, TypeOption, TypeCFD, TypeSpreadBet, TypeLeveraged:
		return true
	}
	return false
}

// Instrument is a resolved security identity. Values are never mutated
// after the resolver returns them.
type Instrument struct {
	Symbol         string  `json:"symbol"`
	ISIN           string  `json:"isin,omitempty"`
	SEDOL          string  `json:"sedol,omitempty"`
	Ticker         string  `json:"ticker,omitempty"`
	ExchangeSymbol string  `json:"exchange_symbol,omitempty"`
	Description    string  `json:"description"`
	Type           TypeTag `json:"type"`
	Currency       string  `json:"currency,omitempty"`
	Exchange       string  `json:"exchange,omitempty"`
	Deleted        bool    `json:"deleted"`
	Source         Tier    `json:"source"`
}

// Key is the deduplication key: the canonical internal symbol.
func (i Instrument) Key() string {
	return strings.ToUpper(strings.TrimSpace(i.Symbol))
}

// Corroborates reports whether any identifier of the external candidate
// exactly matches the same identifier on i.
func (i Instrument) Corroborates(ext Instrument) bool {
	pairs := [][2]string{
		{i.ISIN, ext.ISIN},
		{i.SEDOL, ext.SEDOL},
		{i.Symbol, ext.Symbol},
		{i.Ticker, ext.Ticker},
		{i.ExchangeSymbol, ext.ExchangeSymbol},
	}
	for _, p := range pairs {
		a := strings.TrimSpace(p[0])
		b := strings.TrimSpace(p[1])
		if a != "" && b != "" && strings.EqualFold(a, b) {
			return true
		}
	}
	return false
}

func (i Instrument) String() string {
	if i.Description == "" {
		return i.Symbol
	}
	return fmt.Sprintf("%s / %s", i.Symbol, i.Description)
}

// Tier labels the waterfall stage that produced a result.
type Tier string

const (
	TierNone      Tier = ""
	TierExternal  Tier = "external"
	TierReference Tier = "reference"
	TierSymbolMap Tier = "symbol_map"
	TierProduct   Tier = "product"
	TierFuzzy     Tier = "fuzzy"
)

// Outcome is the four-way classification of how a query was matched.
type Outcome int

const (
	ExternalAndInternalMatch Outcome = iota + 1
	ExternalOnlyNoInternalMatch
	InternalOnlyMatch
	NoMatchAnywhere
)

var outcomeNames = map[Outcome]string{
	ExternalAndInternalMatch:    "external_and_internal_match",
	ExternalOnlyNoInternalMatch: "external_only_no_internal_match",
	InternalOnlyMatch:           "internal_only_match",
	NoMatchAnywhere:             "no_match_anywhere",
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return "unknown"
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

func (o *Outcome) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for k, v := range outcomeNames {
		if v == s {
			*o = k
			return nil
		}
	}
	return fmt.Errorf("unknown resolution outcome %q", s)
}

// Resolution is what the tiered resolver hands to the rest of the pipeline.
type Resolution struct {
	Candidates []Instrument `json:"candidates"`
	Outcome    Outcome      `json:"outcome"`
	Tier       Tier         `json:"tier"`
	// External is the remote reference-data candidate, if the adapter
	// produced one. It never decides the outcome on its own.
	External *Instrument `json:"external,omitempty"`
	// LowConfidence is set for approximate (fuzzy) hits, which need an
	// extra clarification round.
	LowConfidence bool `json:"low_confidence"`
	// Scores holds the fuzzy similarity per candidate when Tier is fuzzy.
	Scores []float64 `json:"scores,omitempty"`
}

// Ambiguous reports whether more than one candidate tied.
func (r Resolution) Ambiguous() bool {
	return len(r.Candidates) > 1
}

// Single returns the sole candidate, if exactly one exists.
func (r Resolution) Single() (Instrument, bool) {
	if len(r.Candidates) != 1 {
		return Instrument{}, false
	}
	return r.Candidates[0], true
}

// RequiresClarification reports whether the outcome must pause for a
// clarification round before any routing.
func (r Resolution) RequiresClarification() bool {
	return r.Outcome == ExternalOnlyNoInternalMatch || r.Outcome == NoMatchAnywhere || r.LowConfidence
}

// Narrow returns a copy of r keeping only the candidate with the given
// symbol, and whether it was found.
func (r Resolution) Narrow(symbol string) (Resolution, bool) {
	key := strings.ToUpper(strings.TrimSpace(symbol))
	for i, c := range r.Candidates {
		if c.Key() == key {
			out := r
			out.Candidates = []Instrument{c}
			if len(r.Scores) == len(r.Candidates) {
				out.Scores = []float64{r.Scores[i]}
			}
			return out, true
		}
	}
	return r, false
}
