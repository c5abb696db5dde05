// Package risk classifies the individual risk factors of a personal
// trade and aggregates them into one level.
package risk

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidLevel is returned when a factor carries a level outside
// LOW/MEDIUM/HIGH. It is an invariant violation, never a default.
var ErrInvalidLevel = errors.New("invalid risk level")

// Level is a factor or aggregate severity. The zero value is invalid.
type Level int

const (
	Low Level = iota + 1
	Medium
	High
)

var levelNames = map[Level]string{Low: "LOW", Medium: "MEDIUM", High: "HIGH"}

func (l Level) Valid() bool {
	_, ok := levelNames[l]
	return ok
}

func (l Level) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

func (l Level) MarshalJSON() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLevel, int(l))
	}
	return json.Marshal(l.String())
}

func (l *Level) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for k, v := range levelNames {
		if v == s {
			*l = k
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrInvalidLevel, s)
}

// Name identifies a factor.
type Name string

const (
	FactorResolution     Name = "resolution_confidence"
	FactorInstrumentType Name = "instrument_type"
	FactorFirmActivity   Name = "firm_activity"
	FactorEmployee       Name = "employee_category"
	FactorPositionSize   Name = "position_size"
	FactorConnected      Name = "connected_person"
)

// Factor is one classified factor. Factors are built fresh per evaluation.
type Factor struct {
	Name   Name   `json:"name"`
	Level  Level  `json:"level"`
	Reason string `json:"reason"`
}

// Aggregate combines factors: any HIGH is HIGH; otherwise at least
// mediumThreshold MEDIUM factors is MEDIUM; otherwise LOW. An invalid
// factor level or a threshold below 1 is an error.
func Aggregate(factors []Factor, mediumThreshold int) (Level, error) {
	if mediumThreshold < 1 {
		return 0, fmt.Errorf("%w: medium threshold %d", ErrInvalidLevel, mediumThreshold)
	}
	var high bool
	var medium int
	for _, f := range factors {
		switch f.Level {
		case High:
			high = true
		case Medium:
			medium++
		case Low:
		default:
			return 0, fmt.Errorf("%w: factor %s has level %d", ErrInvalidLevel, f.Name, int(f.Level))
		}
	}
	switch {
	case high:
		return High, nil
	case medium >= mediumThreshold:
		return Medium, nil
	}
	return Low, nil
}
