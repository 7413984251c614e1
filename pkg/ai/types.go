package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// Prompt is the message pair sent to the grading model.
type Prompt struct {
	System string
	User   string
}

// ModelConfig selects the model and sampling parameters for one request.
type ModelConfig struct {
	Model       string
	MaxTokens   int
	Temperature float32
}

// Completer performs exactly one request against a text-completion endpoint and returns the
// raw reply. Implementations never retry; failures are returned as *Failure.
type Completer interface {
	Complete(ctx context.Context, prompt Prompt, model ModelConfig) (string, error)
}

// FailureKind classifies why a completion did not produce a reply.
type FailureKind string

const (
	FailureTimeout    FailureKind = "timeout"
	FailureHTTP       FailureKind = "http_error"
	FailureEmptyReply FailureKind = "empty_reply"
	FailureTransport  FailureKind = "transport_error"
)

// Failure is returned by a Completer when a request does not yield a usable reply.
type Failure struct {
	Kind       FailureKind
	StatusCode int
	Err        error
}

func (f *Failure) Error() string {
	switch {
	case f.Kind == FailureHTTP && f.Err != nil:
		return fmt.Sprintf("completion failed: %s %d: %v", f.Kind, f.StatusCode, f.Err)
	case f.Kind == FailureHTTP:
		return fmt.Sprintf("completion failed: %s %d", f.Kind, f.StatusCode)
	case f.Err != nil:
		return fmt.Sprintf("completion failed: %s: %v", f.Kind, f.Err)
	default:
		return fmt.Sprintf("completion failed: %s", f.Kind)
	}
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Retryable reports whether repeating the same request may succeed.
func (f *Failure) Retryable() bool {
	switch f.Kind {
	case FailureTimeout, FailureTransport:
		return true
	case FailureHTTP:
		return f.StatusCode == http.StatusTooManyRequests || f.StatusCode >= http.StatusInternalServerError
	default:
		return false
	}
}

// AsFailure unwraps err into a *Failure when it carries one.
func AsFailure(err error) (*Failure, bool) {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure, true
	}
	return nil, false
}

// Classify maps an arbitrary client error onto a Failure. Classification relies on error
// types only, never on message text.
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}
	if failure, ok := AsFailure(err); ok {
		return failure
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Kind: FailureTimeout, Err: err}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &Failure{Kind: FailureHTTP, StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var requestErr *openai.RequestError
	if errors.As(err, &requestErr) && requestErr.HTTPStatusCode != 0 {
		return &Failure{Kind: FailureHTTP, StatusCode: requestErr.HTTPStatusCode, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Failure{Kind: FailureTimeout, Err: err}
	}
	return &Failure{Kind: FailureTransport, Err: err}
}
