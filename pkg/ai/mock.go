package ai

import (
	"context"
	"time"
)

// MockCompleter returns a fixed reply after an optional delay. It backs the "mock" provider
// used in local development and demos, where no API key is available.
type MockCompleter struct {
	Reply   string
	Latency time.Duration
}

const defaultMockReply = "score: 10\n\n## Error analysis\nNo errors found.\n\n## Logical issues\nNone."

// Complete honours cancellation while waiting out the configured latency.
func (m MockCompleter) Complete(ctx context.Context, _ Prompt, _ ModelConfig) (string, error) {
	if m.Latency > 0 {
		timer := time.NewTimer(m.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", Classify(ctx.Err())
		case <-timer.C:
		}
	}

	if m.Reply == "" {
		return defaultMockReply, nil
	}
	return m.Reply, nil
}

var _ Completer = MockCompleter{}
