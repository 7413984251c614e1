package scoring

import (
	"regexp"
	"sort"
	"strings"
)

// Section describes a labeled block of a grader reply, e.g. an error analysis.
type Section struct {
	Key    string
	Labels []string
}

// DefaultSections lists the blocks the grading prompts ask the model to emit.
func DefaultSections() []Section {
	return []Section{
		{Key: "error_analysis", Labels: []string{"error analysis", "错别字分析", "错误分析"}},
		{Key: "logical_issues", Labels: []string{"logical issues", "logic issues", "逻辑问题"}},
		{Key: "strengths", Labels: []string{"strengths", "亮点", "优点"}},
		{Key: "suggestions", Labels: []string{"improvement suggestions", "suggestions", "修改建议"}},
		{Key: "revision", Labels: []string{"revised essay", "revision", "升格作文", "修改后作文"}},
	}
}

var markdownHeading = regexp.MustCompile(`(?m)^[ \t]*#{1,6}[ \t]+\S`)

func headingPattern(labels []string) *regexp.Regexp {
	quoted := make([]string, 0, len(labels))
	for _, label := range labels {
		if label = strings.TrimSpace(label); label != "" {
			quoted = append(quoted, regexp.QuoteMeta(label))
		}
	}
	if len(quoted) == 0 {
		return nil
	}
	sort.SliceStable(quoted, func(i, j int) bool { return len(quoted[i]) > len(quoted[j]) })

	return regexp.MustCompile(`(?im)^[ \t]*(?:#{1,6}[ \t]*)?(?:\*\*)?[ \t]*` +
		`(?:[0-9一二三四五六七八九十]+[.、)）][ \t]*)?` +
		`(?:` + strings.Join(quoted, "|") + `)` +
		`(?:[ \t]*\*\*)?[ \t]*(?:[:：][ \t]*(?:\*\*)?|\r?$)`)
}

// ExtractSections returns one entry per section key. A heading is a label that ends its line
// or is followed by a colon; prose that merely starts with a label word opens nothing. A
// section runs from its heading to the next known heading or markdown heading, and a missing
// section maps to the empty string.
func ExtractSections(text string, sections []Section) map[string]string {
	out := make(map[string]string, len(sections))

	type heading struct {
		key        string
		start, end int
	}
	var found []heading
	for _, section := range sections {
		out[section.Key] = ""
		re := headingPattern(section.Labels)
		if re == nil {
			continue
		}
		if loc := re.FindStringIndex(text); loc != nil {
			found = append(found, heading{key: section.Key, start: loc[0], end: loc[1]})
		}
	}

	boundaries := make([]int, 0, len(found)+4)
	for _, h := range found {
		boundaries = append(boundaries, h.start)
	}
	for _, loc := range markdownHeading.FindAllStringIndex(text, -1) {
		boundaries = append(boundaries, loc[0])
	}
	sort.Ints(boundaries)

	for _, h := range found {
		end := len(text)
		for _, boundary := range boundaries {
			if boundary >= h.end {
				end = boundary
				break
			}
		}
		out[h.key] = strings.TrimSpace(text[h.end:end])
	}
	return out
}
