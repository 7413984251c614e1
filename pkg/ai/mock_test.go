package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMockCompleterReplies(t *testing.T) {
	reply, err := MockCompleter{}.Complete(context.Background(), Prompt{User: "essay"}, ModelConfig{})
	require.NoError(t, err)
	require.Contains(t, reply, "score: 10")

	reply, err = MockCompleter{Reply: "##Ana + score: 7"}.Complete(context.Background(), Prompt{}, ModelConfig{})
	require.NoError(t, err)
	require.Equal(t, "##Ana + score: 7", reply)
}

func TestMockCompleterHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := MockCompleter{Latency: time.Second}.Complete(ctx, Prompt{}, ModelConfig{})
	require.Error(t, err)

	failure, ok := AsFailure(err)
	require.True(t, ok)
	require.Equal(t, FailureTimeout, failure.Kind)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}
