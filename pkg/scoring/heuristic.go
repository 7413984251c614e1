package scoring

import (
	"regexp"
	"strings"
)

var (
	headingLine     = regexp.MustCompile(`(?m)^[ \t]*#{1,6}[ \t].*$`)
	sectionHeadings = headingPattern(sectionLabels(DefaultSections()))
)

// KeywordGroup adds Weight to the estimate when any of its keywords appears in the reply.
// Negative weights pull the estimate down.
type KeywordGroup struct {
	Keywords []string
	Weight   int
}

// Heuristic estimates a score from the wording of a reply that never states one.
type Heuristic struct {
	Groups          []KeywordGroup
	ErrorKeywords   []string
	ErrorPenalty    int
	MaxErrorPenalty int
}

// DefaultHeuristic returns the keyword weights used when a reply carries no number.
func DefaultHeuristic() Heuristic {
	return Heuristic{
		Groups: []KeywordGroup{
			{Keywords: []string{"excellent", "outstanding", "impressive", "优秀", "出色", "精彩"}, Weight: 3},
			{Keywords: []string{"good", "solid", "well organized", "良好", "不错", "较好"}, Weight: 1},
			{Keywords: []string{"poor", "weak", "lacks", "较差", "不足", "欠缺"}, Weight: -2},
			{Keywords: []string{"off-topic", "off topic", "irrelevant", "偏题", "跑题", "离题"}, Weight: -4},
		},
		ErrorKeywords:   []string{"error", "mistake", "错误", "错别字", "病句", "语病"},
		ErrorPenalty:    1,
		MaxErrorPenalty: 3,
	}
}

// Estimate starts at the interval midpoint and applies every matching keyword group. It then
// subtracts the capped error penalty, counted outside heading lines, and clamps the result
// into the interval.
func (h Heuristic) Estimate(text string, interval Interval) int {
	lowered := strings.ToLower(text)
	estimate := interval.Midpoint()

	for _, group := range h.Groups {
		if containsAny(lowered, group.Keywords) {
			estimate += group.Weight
		}
	}

	// headings such as "## Error analysis" name a section, they do not report an error
	body := headingLine.ReplaceAllString(sectionHeadings.ReplaceAllString(lowered, ""), "")
	errors := 0
	for _, keyword := range h.ErrorKeywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword == "" {
			continue
		}
		errors += strings.Count(body, keyword)
	}
	penalty := errors * h.ErrorPenalty
	if h.MaxErrorPenalty > 0 && penalty > h.MaxErrorPenalty {
		penalty = h.MaxErrorPenalty
	}
	estimate -= penalty

	return interval.Clamp(estimate)
}

func containsAny(lowered string, keywords []string) bool {
	for _, keyword := range keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword != "" && strings.Contains(lowered, keyword) {
			return true
		}
	}
	return false
}

func sectionLabels(sections []Section) []string {
	var labels []string
	for _, section := range sections {
		labels = append(labels, section.Labels...)
	}
	return labels
}
