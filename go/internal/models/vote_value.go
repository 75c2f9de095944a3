package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Symbol is a non-numeric estimate.
type Symbol string

const (
	SymbolUnknown    Symbol = "unknown"
	SymbolNeedsBreak Symbol = "needs-break"
	SymbolUnbounded  Symbol = "unbounded"
)

// Scale is the fixed estimation scale for numeric votes.
var Scale = []int{0, 1, 2, 3, 5, 8, 13, 21, 34, 55, 89}

// Symbols lists every accepted symbolic vote.
var Symbols = []Symbol{SymbolUnknown, SymbolNeedsBreak, SymbolUnbounded}

var symbolAliases = map[string]Symbol{
	"unknown":     SymbolUnknown,
	"?":           SymbolUnknown,
	"needs-break": SymbolNeedsBreak,
	"coffee":      SymbolNeedsBreak,
	"unbounded":   SymbolUnbounded,
	"infinity":    SymbolUnbounded,
	"∞":           SymbolUnbounded,
}

// VoteValue is either a whole number from Scale or one of Symbols.
// A zero Symbol means the value is numeric.
type VoteValue struct {
	Number int
	Symbol Symbol
}

// Points returns a numeric vote value.
func Points(n int) VoteValue {
	return VoteValue{Number: n}
}

// SymbolValue returns a symbolic vote value.
func SymbolValue(s Symbol) VoteValue {
	return VoteValue{Symbol: s}
}

// ParseVoteValue parses user input such as "5", "?" or "coffee".
// It does not check the result against the scale; use Valid for that.
func ParseVoteValue(s string) (VoteValue, error) {
	s = strings.TrimSpace(s)
	if sym, ok := symbolAliases[strings.ToLower(s)]; ok {
		return SymbolValue(sym), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return VoteValue{}, fmt.Errorf("%w: %q", ErrInvalidVote, s)
	}
	return Points(n), nil
}

// IsNumeric reports whether the value is a number rather than a symbol.
func (v VoteValue) IsNumeric() bool {
	return v.Symbol == ""
}

// Valid reports whether the value is on the estimation scale or in the symbol set.
func (v VoteValue) Valid() bool {
	if v.IsNumeric() {
		for _, n := range Scale {
			if n == v.Number {
				return true
			}
		}
		return false
	}
	if v.Number != 0 {
		return false
	}
	for _, s := range Symbols {
		if s == v.Symbol {
			return true
		}
	}
	return false
}

func (v VoteValue) String() string {
	if v.IsNumeric() {
		return strconv.Itoa(v.Number)
	}
	return string(v.Symbol)
}

// MarshalJSON encodes numbers as JSON numbers and symbols as JSON strings.
func (v VoteValue) MarshalJSON() ([]byte, error) {
	if v.IsNumeric() {
		return []byte(strconv.Itoa(v.Number)), nil
	}
	return json.Marshal(string(v.Symbol))
}

// UnmarshalJSON accepts a JSON number or a JSON string.
func (v *VoteValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if sym, ok := symbolAliases[strings.ToLower(s)]; ok {
			*v = SymbolValue(sym)
			return nil
		}
		if n, err := strconv.Atoi(s); err == nil {
			*v = Points(n)
			return nil
		}
		// keep unknown symbols so Validate can reject the state
		*v = SymbolValue(Symbol(s))
		return nil
	}

	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidVote, data)
	}
	*v = Points(n)
	return nil
}
