package scoring

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Candidate is a number a matcher found in the reply, with the byte offset it starts at.
type Candidate struct {
	Value    int
	Position int
}

// Matcher finds score candidates in a grader reply. name is the student's display name and
// may be empty.
type Matcher interface {
	Find(text, name string) []Candidate
}

// Rule pairs a matcher with its priority. Lower priorities are tried first.
type Rule struct {
	Priority int
	Matcher  Matcher
}

const namePlaceholder = "{name}"

// PatternMatcher matches a regular expression whose first capture group is the score.
// A pattern containing {name} is specialised per student and matches nothing when the
// name is empty.
type PatternMatcher struct {
	pattern string
	static  *regexp.Regexp
}

// NewPatternMatcher compiles pattern eagerly when it does not depend on the student name.
func NewPatternMatcher(pattern string) *PatternMatcher {
	m := &PatternMatcher{pattern: pattern}
	if !strings.Contains(pattern, namePlaceholder) {
		m.static = regexp.MustCompile(pattern)
	}
	return m
}

// Find returns every capture of the pattern in text.
func (m *PatternMatcher) Find(text, name string) []Candidate {
	re := m.static
	if re == nil {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil
		}
		compiled, err := regexp.Compile(strings.ReplaceAll(m.pattern, namePlaceholder, regexp.QuoteMeta(name)))
		if err != nil {
			return nil
		}
		re = compiled
	}
	return captures(re, text)
}

func captures(re *regexp.Regexp, text string) []Candidate {
	var out []Candidate
	for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
		if len(loc) < 4 || loc[2] < 0 {
			continue
		}
		value, err := strconv.Atoi(text[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		out = append(out, Candidate{Value: value, Position: loc[2]})
	}
	return out
}

const (
	scoreLabels = `(?:final score|total score|overall score|score|最终得分|总得分|总分|得分|分数|成绩)`
	colon       = `[:：]`
	plus        = `[+＋]`
	number      = `(\d{1,4})`
	// a bare label must not continue a longer word such as "subscore" or 各项得分
	labelStart = `(?:^|[^A-Za-z0-9_项各小])`
)

// DefaultRules returns the labeled-pattern cascade, most specific first: patterns binding the
// student's name to a score label outrank a bare label.
func DefaultRules() []Rule {
	return []Rule{
		{Priority: 0, Matcher: NewPatternMatcher(`(?i)` + namePlaceholder + `\s*` + plus + `?\s*` + scoreLabels + `\s*` + colon + `\s*` + number)},
		{Priority: 0, Matcher: NewPatternMatcher(`(?i)` + labelStart + scoreLabels + `\s*` + plus + `?\s*` + namePlaceholder + `\s*` + colon + `\s*` + number)},
		{Priority: 1, Matcher: NewPatternMatcher(`(?i)` + labelStart + scoreLabels + `\s*` + colon + `\s*` + number)},
		{Priority: 1, Matcher: NewPatternMatcher(`(?i)` + labelStart + scoreLabels + `\s*(?:is|为|是)\s*` + number)},
	}
}

// firstInRange walks the rules by priority. Within one priority the candidate that appears
// earliest in the text wins.
func firstInRange(rules []Rule, text, name string, interval Interval) (int, bool) {
	if len(rules) == 0 {
		return 0, false
	}

	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	for start := 0; start < len(ordered); {
		end := start
		for end < len(ordered) && ordered[end].Priority == ordered[start].Priority {
			end++
		}

		var tier []Candidate
		for _, rule := range ordered[start:end] {
			if rule.Matcher == nil {
				continue
			}
			tier = append(tier, rule.Matcher.Find(text, name)...)
		}
		sort.SliceStable(tier, func(i, j int) bool { return tier[i].Position < tier[j].Position })
		for _, candidate := range tier {
			if interval.Contains(candidate.Value) {
				return candidate.Value, true
			}
		}

		start = end
	}
	return 0, false
}

// DefaultUnits are the display suffixes a reply puts after a bare score.
func DefaultUnits() []string {
	return []string{"分", "points", "point", "pts"}
}

func unitPattern(units []string) *regexp.Regexp {
	if len(units) == 0 {
		return nil
	}
	sorted := make([]string, 0, len(units))
	for _, unit := range units {
		if unit = strings.TrimSpace(unit); unit != "" {
			sorted = append(sorted, regexp.QuoteMeta(unit))
		}
	}
	if len(sorted) == 0 {
		return nil
	}
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	return regexp.MustCompile(`(?i)(?:^|[^\d.,])(\d{1,4})([.,]\d+)?\s*(?:` + strings.Join(sorted, "|") + `)`)
}

// scanUnits prefers two-digit values when the rubric goes to ten or beyond, since final
// scores in those rubrics are rarely single digit.
func scanUnits(re *regexp.Regexp, text string, interval Interval) (int, bool) {
	if re == nil {
		return 0, false
	}
	candidates := wholeNumbers(re, text)
	if interval.Hi >= 10 {
		for _, candidate := range candidates {
			if candidate.Value >= 10 && interval.Contains(candidate.Value) {
				return candidate.Value, true
			}
		}
	}
	for _, candidate := range candidates {
		if interval.Contains(candidate.Value) {
			return candidate.Value, true
		}
	}
	return 0, false
}

// wholeNumbers is captures without fractional values such as "12.5 points"; the second group
// of the unit pattern holds the fraction.
func wholeNumbers(re *regexp.Regexp, text string) []Candidate {
	var out []Candidate
	for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
		if len(loc) < 6 || loc[2] < 0 || loc[4] >= 0 {
			continue
		}
		value, err := strconv.Atoi(text[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		out = append(out, Candidate{Value: value, Position: loc[2]})
	}
	return out
}
