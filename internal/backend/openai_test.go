package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewClientRequiresCredential(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{Model: "deepseek-chat"}, zap.NewNop())
	require.ErrorIs(t, err, ErrNoCredential)
}

func TestNewClientRequiresModel(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{APIKey: "sk-test"}, zap.NewNop())
	require.Error(t, err)
}

func TestCompleteReturnsContent(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1",
			"model": "deepseek-chat",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"title\":\"Garden Irrigation\"}"}}]
		}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{
		APIKey:  "sk-test",
		BaseURL: srv.URL,
		Model:   "deepseek-chat",
		Timeout: 5 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)

	res, err := client.Complete(context.Background(), ChatRequest{
		System:      "You write articles.",
		Prompt:      "Write about garden irrigation.",
		MaxTokens:   1200,
		Temperature: 0.8,
	})
	require.NoError(t, err)
	require.Equal(t, `{"title":"Garden Irrigation"}`, res.Content)
	require.Equal(t, "deepseek-chat", res.Model)

	require.Equal(t, "deepseek-chat", gotBody["model"])
	require.InDelta(t, 0.8, gotBody["temperature"], 0.001)
	require.InDelta(t, 1200, gotBody["max_tokens"], 0.5)
}

func TestCompleteNoChoicesIsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "cmpl-2", "model": "deepseek-chat", "choices": []}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{
		APIKey:  "sk-test",
		BaseURL: srv.URL,
		Model:   "deepseek-chat",
	}, zap.NewNop())
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), ChatRequest{Prompt: "hi"})
	require.Error(t, err)
}

// Every Complete call lands in the backend call counters, success and error
// alike.
func TestCompleteRecordsCallMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-3",
			"model": "deepseek-chat",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "ok"}}]
		}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{
		APIKey:  "sk-test",
		BaseURL: srv.URL,
		Model:   "deepseek-chat",
	}, zap.NewNop())
	require.NoError(t, err)

	successBefore := backendCallCount(t, "success")
	_, err = client.Complete(context.Background(), ChatRequest{Prompt: "hi"})
	require.NoError(t, err)
	require.Equal(t, successBefore+1, backendCallCount(t, "success"))

	failing, err := NewClient(Config{
		APIKey:     "sk-test",
		BaseURL:    "http://127.0.0.1:1",
		Model:      "deepseek-chat",
		Timeout:    time.Second,
		MaxRetries: 1,
	}, zap.NewNop())
	require.NoError(t, err)

	errorBefore := backendCallCount(t, "error")
	_, err = failing.Complete(context.Background(), ChatRequest{Prompt: "hi"})
	require.Error(t, err)
	require.Equal(t, errorBefore+1, backendCallCount(t, "error"))
}

// backendCallCount reads pagepool_backend_calls_total for one outcome from
// the default registry.
func backendCallCount(t *testing.T, outcome string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != "pagepool_backend_calls_total" {
			continue
		}
		for _, m := range fam.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "outcome" && label.GetValue() == outcome {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
