package service

import (
	"strings"
	"time"
)

// GradingMode selects the rubric a batch is graded against.
type GradingMode string

const (
	GradingModeScoring  GradingMode = "scoring"
	GradingModeRevision GradingMode = "revision"
	GradingModeBoth     GradingMode = "both"
)

// GradingSeverity toggles between the strict and the lenient rubric wording.
type GradingSeverity string

const (
	GradingSeverityStrict  GradingSeverity = "strict"
	GradingSeverityLenient GradingSeverity = "lenient"
)

// GradingOptions is the per-batch configuration shared by every submission.
type GradingOptions struct {
	Mode     GradingMode     `validate:"required,oneof=scoring revision both"`
	Severity GradingSeverity `validate:"omitempty,oneof=strict lenient"`
}

func (o GradingOptions) normalized() GradingOptions {
	o.Mode = GradingMode(strings.ToLower(strings.TrimSpace(string(o.Mode))))
	o.Severity = GradingSeverity(strings.ToLower(strings.TrimSpace(string(o.Severity))))
	if o.Severity == "" {
		o.Severity = GradingSeverityStrict
	}
	return o
}

// GradingSubmission is one student's work inside a batch.
type GradingSubmission struct {
	ID          string
	DisplayName string
	Topic       string
	Body        string
}

// OutcomeStatus is the terminal state of one submission.
type OutcomeStatus string

const (
	OutcomeCompleted OutcomeStatus = "completed"
	OutcomeFailed    OutcomeStatus = "failed"
)

// ErrorKind classifies why a submission failed.
type ErrorKind string

const (
	ErrorKindInsufficientCredits ErrorKind = "insufficient_credits"
	ErrorKindUpstreamTimeout     ErrorKind = "upstream_timeout"
	ErrorKindUpstreamHTTP        ErrorKind = "upstream_http_error"
	ErrorKindUpstreamEmptyReply  ErrorKind = "upstream_empty_reply"
	ErrorKindUpstreamTransport   ErrorKind = "upstream_transport_error"
	ErrorKindUnexpected          ErrorKind = "unexpected_error"
	ErrorKindLedgerUnavailable   ErrorKind = "ledger_unavailable"
	ErrorKindCancelled           ErrorKind = "cancelled"
)

// GradingOutcome is the immutable result for one submission.
type GradingOutcome struct {
	SubmissionID   string
	DisplayName    string
	Status         OutcomeStatus
	Score          int
	ScoreSource    string
	RawFeedback    string
	Sections       map[string]string
	ErrorKind      ErrorKind
	ErrorMessage   string
	CreditsCharged int64
	CompletedAt    time.Time
}

// Succeeded reports whether the submission was graded.
func (o GradingOutcome) Succeeded() bool {
	return o.Status == OutcomeCompleted
}

// BatchResult aggregates the outcomes of one batch. Outcomes align positionally with the
// submitted list.
type BatchResult struct {
	BatchID          string
	Mode             GradingMode
	Severity         GradingSeverity
	Outcomes         []GradingOutcome
	Total            int
	Successful       int
	Failed           int
	AverageScore     float64
	CreditsCharged   int64
	RemainingCredits *int64 // nil when the balance could not be read after the batch
	StartedAt        time.Time
	CompletedAt      time.Time
}
