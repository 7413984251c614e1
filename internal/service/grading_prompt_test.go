package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/pkg/scoring"
)

func TestRubricPromptBuilderStripsMarkupAndNamesInterval(t *testing.T) {
	builder := NewRubricPromptBuilder(nil)

	prompt := builder.Build(GradingSubmission{
		ID:          "s-1",
		DisplayName: "<b>Alice</b>",
		Topic:       "My <i>summer</i>",
		Body:        "<p>We went to the sea &amp; swam.</p><script>alert(1)</script>",
	}, GradingOptions{Mode: GradingModeScoring, Severity: GradingSeverityStrict}, scoring.Interval{Lo: 1, Hi: 15})

	require.Contains(t, prompt.System, "from 1 to 15")
	require.Contains(t, prompt.System, `"##Alice + score: N"`)
	require.Contains(t, prompt.System, "a strict standard")
	require.NotContains(t, prompt.System, "Revised essay")
	require.Contains(t, prompt.User, "Student: Alice")
	require.Contains(t, prompt.User, "My summer")
	require.Contains(t, prompt.User, "We went to the sea & swam.")
	require.NotContains(t, prompt.User, "<script>")
}

func TestRubricPromptBuilderUsesConfiguredTemplate(t *testing.T) {
	builder := NewRubricPromptBuilder(RubricTemplates{
		GradingModeRevision: {GradingSeverityLenient: "Grade kindly."},
	})

	prompt := builder.Build(GradingSubmission{ID: "s-2", Body: "text"},
		GradingOptions{Mode: GradingModeRevision, Severity: GradingSeverityLenient}, scoring.Interval{Lo: 1, Hi: 13})

	require.Contains(t, prompt.System, "Grade kindly.")
	require.Contains(t, prompt.System, "Revised essay")
	require.Contains(t, prompt.System, `"##s-2 + score: N"`, "the ID stands in for a missing name")
}

func TestRubricPromptBuilderFallsBackToDefaultWording(t *testing.T) {
	builder := NewRubricPromptBuilder(RubricTemplates{
		GradingModeBoth: {GradingSeverityStrict: "Strict rubric."},
	})

	prompt := builder.Build(GradingSubmission{ID: "s-3", DisplayName: "Bob", Body: "text"},
		GradingOptions{Mode: GradingModeBoth, Severity: GradingSeverityLenient}, scoring.Interval{Lo: 0, Hi: 25})

	require.Contains(t, prompt.System, "a moderate standard")
	require.NotContains(t, prompt.System, "Strict rubric.")
}
