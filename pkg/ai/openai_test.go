package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func chatCompletionBody(content string) string {
	payload := map[string]interface{}{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-4o-mini",
		"choices": []map[string]interface{}{
			{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	}
	raw, _ := json.Marshal(payload)
	return string(raw)
}

func newTestCompleter(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *OpenAICompleter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	completer, err := NewOpenAICompleter(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: server.URL + "/v1",
		Timeout: timeout,
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	return completer
}

func TestOpenAICompleterReturnsReply(t *testing.T) {
	var received map[string]interface{}
	completer := newTestCompleter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, chatCompletionBody("  ##Alice + score: 12  "))
	}, time.Second)

	reply, err := completer.Complete(context.Background(), Prompt{System: "grade", User: "essay"}, ModelConfig{Model: "gpt-4o-mini"})
	require.NoError(t, err)
	require.Equal(t, "##Alice + score: 12", reply)
	require.Equal(t, "gpt-4o-mini", received["model"])
	require.Len(t, received["messages"], 2)
}

func TestOpenAICompleterClassifiesHTTPError(t *testing.T) {
	completer := newTestCompleter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
	}, time.Second)

	_, err := completer.Complete(context.Background(), Prompt{User: "essay"}, ModelConfig{})
	failure, ok := AsFailure(err)
	require.True(t, ok)
	require.Equal(t, FailureHTTP, failure.Kind)
	require.Equal(t, http.StatusServiceUnavailable, failure.StatusCode)
	require.True(t, failure.Retryable())
}

func TestOpenAICompleterClassifiesTimeout(t *testing.T) {
	completer := newTestCompleter(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}, 20*time.Millisecond)

	_, err := completer.Complete(context.Background(), Prompt{User: "essay"}, ModelConfig{})
	failure, ok := AsFailure(err)
	require.True(t, ok)
	require.Equal(t, FailureTimeout, failure.Kind)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestOpenAICompleterClassifiesEmptyReply(t *testing.T) {
	completer := newTestCompleter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, chatCompletionBody("   "))
	}, time.Second)

	_, err := completer.Complete(context.Background(), Prompt{User: "essay"}, ModelConfig{})
	failure, ok := AsFailure(err)
	require.True(t, ok)
	require.Equal(t, FailureEmptyReply, failure.Kind)
	require.False(t, failure.Retryable())
}

func TestOpenAICompleterClassifiesTransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	completer, err := NewOpenAICompleter(OpenAIConfig{APIKey: "test-key", BaseURL: url + "/v1", Timeout: time.Second})
	require.NoError(t, err)

	_, err = completer.Complete(context.Background(), Prompt{User: "essay"}, ModelConfig{})
	failure, ok := AsFailure(err)
	require.True(t, ok)
	require.Equal(t, FailureTransport, failure.Kind)
}

func TestNewOpenAICompleterRequiresKey(t *testing.T) {
	_, err := NewOpenAICompleter(OpenAIConfig{})
	require.Error(t, err)
}

func TestFailureRetryable(t *testing.T) {
	require.True(t, (&Failure{Kind: FailureHTTP, StatusCode: http.StatusTooManyRequests}).Retryable())
	require.False(t, (&Failure{Kind: FailureHTTP, StatusCode: http.StatusBadRequest}).Retryable())
	require.True(t, (&Failure{Kind: FailureTransport}).Retryable())
	require.Equal(t, FailureTimeout, Classify(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)).Kind)
	require.Nil(t, Classify(nil))
}
