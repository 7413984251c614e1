package scoring

import (
	"fmt"
	"strconv"
	"strings"
)

// Interval is the closed integer range a rubric accepts as a score.
type Interval struct {
	Lo int `json:"lo"`
	Hi int `json:"hi"`
}

// Valid reports whether the interval is non-empty.
func (i Interval) Valid() bool {
	return i.Lo <= i.Hi
}

// Contains reports whether v lies inside the interval.
func (i Interval) Contains(v int) bool {
	return v >= i.Lo && v <= i.Hi
}

// Clamp moves v to the nearest bound when it falls outside the interval.
func (i Interval) Clamp(v int) int {
	if v < i.Lo {
		return i.Lo
	}
	if v > i.Hi {
		return i.Hi
	}
	return v
}

// Midpoint returns the integer midpoint, rounded up.
func (i Interval) Midpoint() int {
	return i.Lo + (i.Hi-i.Lo+1)/2
}

func (i Interval) String() string {
	return fmt.Sprintf("%d-%d", i.Lo, i.Hi)
}

// ParseInterval reads an interval written as "lo-hi", e.g. "1-15".
func ParseInterval(raw string) (Interval, error) {
	lo, hi, ok := strings.Cut(strings.TrimSpace(raw), "-")
	if !ok {
		return Interval{}, fmt.Errorf("invalid score interval %q: expected lo-hi", raw)
	}

	loValue, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return Interval{}, fmt.Errorf("invalid score interval %q: %w", raw, err)
	}
	hiValue, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return Interval{}, fmt.Errorf("invalid score interval %q: %w", raw, err)
	}

	interval := Interval{Lo: loValue, Hi: hiValue}
	if !interval.Valid() {
		return Interval{}, fmt.Errorf("invalid score interval %q: lower bound exceeds upper bound", raw)
	}
	return interval, nil
}
