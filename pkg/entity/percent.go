package entity

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Percent is a percentage with two decimal places of precision, stored as
// integer hundredths: 70.25% == Percent(7025). Integer arithmetic keeps
// capacity sums exact, which matters at the 100.00% boundary.
type Percent int64

const (
	// ZeroPercent is the additive identity.
	ZeroPercent Percent = 0

	// FullAllocation is a worker's daily capacity: 100.00%.
	FullAllocation Percent = 10000
)

// PercentFromFloat converts a float percentage (e.g. 70.25) to fixed point,
// rounding to the nearest hundredth.
func PercentFromFloat(v float64) Percent {
	return Percent(math.Round(v * 100))
}

// ParsePercent parses a decimal string such as "70.25" or "100".
func ParsePercent(s string) (Percent, error) {
	s = strings.TrimSpace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid percentage %q: %w", s, err)
	}
	return PercentFromFloat(v), nil
}

// Float64 returns the percentage as a float, e.g. Percent(7025) -> 70.25.
func (p Percent) Float64() float64 {
	return float64(p) / 100
}

// String formats with exactly two decimal places: "70.25".
func (p Percent) String() string {
	return strconv.FormatFloat(p.Float64(), 'f', 2, 64)
}

// InRange reports whether p lies in [0, 100.00].
func (p Percent) InRange() bool {
	return p >= 0 && p <= FullAllocation
}

// MarshalJSON encodes as a JSON number with two decimal places.
func (p Percent) MarshalJSON() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalJSON accepts either a JSON number or a decimal string.
func (p *Percent) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*p = PercentFromFloat(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("percentage must be a number or decimal string: %s", data)
	}
	parsed, err := ParsePercent(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
