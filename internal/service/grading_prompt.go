package service

import (
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/noah-isme/gema-grader/pkg/ai"
	"github.com/noah-isme/gema-grader/pkg/scoring"
)

// PromptBuilder renders the grading request for one submission.
type PromptBuilder interface {
	Build(submission GradingSubmission, opts GradingOptions, interval scoring.Interval) ai.Prompt
}

// RubricTemplates holds the rubric wording per mode and severity. The text itself is owned
// by the curriculum team and loaded from configuration.
type RubricTemplates map[GradingMode]map[GradingSeverity]string

// markupPolicy is safe for concurrent use once built.
var markupPolicy = bluemonday.StrictPolicy()

type rubricPromptBuilder struct {
	templates RubricTemplates
	sanitizer *bluemonday.Policy
}

// gradingName is the name the model is asked to echo next to the score, and the name the
// extractor binds its name-bound patterns to.
func gradingName(submission GradingSubmission) string {
	if name := cleanMarkup(markupPolicy, submission.DisplayName); name != "" {
		return name
	}
	return strings.TrimSpace(submission.ID)
}

func cleanMarkup(policy *bluemonday.Policy, text string) string {
	return strings.TrimSpace(html.UnescapeString(policy.Sanitize(text)))
}

// NewRubricPromptBuilder constructs the default prompt builder. Submissions often arrive as
// pasted rich text, so markup is stripped before the text reaches the model.
func NewRubricPromptBuilder(templates RubricTemplates) PromptBuilder {
	return &rubricPromptBuilder{
		templates: templates,
		sanitizer: markupPolicy,
	}
}

func (b *rubricPromptBuilder) Build(submission GradingSubmission, opts GradingOptions, interval scoring.Interval) ai.Prompt {
	name := gradingName(submission)

	system := b.rubric(opts)
	system += fmt.Sprintf("\n\nScore the essay on a scale from %d to %d. ", interval.Lo, interval.Hi)
	system += fmt.Sprintf("Report the score on its own line exactly as \"##%s + score: N\".", name)
	if opts.Mode != GradingModeScoring {
		system += " Then give a revised version of the essay under a \"## Revised essay\" heading."
	}
	system += " Add \"## Error analysis\" and \"## Logical issues\" sections when they apply."

	var user strings.Builder
	user.WriteString("Student: ")
	user.WriteString(name)
	if topic := b.clean(submission.Topic); topic != "" {
		user.WriteString("\n\nTopic:\n")
		user.WriteString(topic)
	}
	user.WriteString("\n\nEssay:\n")
	user.WriteString(b.clean(submission.Body))

	return ai.Prompt{System: system, User: user.String()}
}

func (b *rubricPromptBuilder) rubric(opts GradingOptions) string {
	if bySeverity, ok := b.templates[opts.Mode]; ok {
		if text := strings.TrimSpace(bySeverity[opts.Severity]); text != "" {
			return text
		}
	}

	standard := "a strict"
	if opts.Severity == GradingSeverityLenient {
		standard = "a moderate"
	}
	return fmt.Sprintf("You are an experienced writing teacher grading student essays with %s standard.", standard)
}

func (b *rubricPromptBuilder) clean(text string) string {
	return cleanMarkup(b.sanitizer, text)
}
