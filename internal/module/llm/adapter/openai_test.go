package adapter

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jinford/curriculum-rag/internal/module/llm/domain"
	"github.com/jinford/curriculum-rag/internal/shared/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...OpenAIClientOption) *OpenAIClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	opts = append([]OpenAIClientOption{WithChatBaseURL(server.URL + "/")}, opts...)
	client, err := NewOpenAIClient("test-key", opts...)
	require.NoError(t, err)
	return client
}

func writeSSE(w http.ResponseWriter, payload string) {
	fmt.Fprintf(w, "data: %s\n\n", payload)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func TestNewOpenAIClient_RequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIClient("")
	assert.ErrorIs(t, err, domain.ErrAPIKeyNotSet)
}

func TestOpenAIClient_Chat(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"课程方案"}}],
			"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`)
	})

	resp, err := client.Chat(t.Context(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "课程方案", resp.Content)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.Equal(t, "gpt-4o-mini", resp.Model)
}

func TestOpenAIClient_Chat_ClassifiesRateLimit(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit"}}`)
	})

	_, err := client.Chat(t.Context(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimitExceeded)
	assert.True(t, apperr.IsRetryable(err))
}

func TestOpenAIClient_Chat_TimeoutIsDistinct(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, WithChatTimeout(50*time.Millisecond))

	_, err := client.Chat(t.Context(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLLMTimeout)
	assert.ErrorIs(t, err, apperr.ErrTimeout)
	assert.NotErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestOpenAIClient_ChatStream_AccumulatesDeltas(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, piece := range []string{"立德", "树人", "。"} {
			writeSSE(w, fmt.Sprintf(`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"content":%q}}]}`, piece))
		}
		writeSSE(w, `{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[],"usage":{"prompt_tokens":7,"completion_tokens":3,"total_tokens":10}}`)
		writeSSE(w, "[DONE]")
	})

	var deltas []string
	resp, err := client.ChatStream(t.Context(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	}, func(delta string) {
		deltas = append(deltas, delta)
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"立德", "树人", "。"}, deltas)
	assert.Equal(t, "立德树人。", resp.Content)
	assert.Equal(t, 10, resp.Usage.TotalTokens)
}

func TestOpenAIClient_ChatStream_SlowButSteadyIsNotKilled(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		// 合計時間は無通信タイムアウトを大きく超えるが、各間隔は短い
		for i := 0; i < 8; i++ {
			writeSSE(w, `{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":"x"}}]}`)
			time.Sleep(40 * time.Millisecond)
		}
		writeSSE(w, "[DONE]")
	}, WithStreamIdleTimeout(150*time.Millisecond))

	resp, err := client.ChatStream(t.Context(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 8), resp.Content)
}

func TestOpenAIClient_ChatStream_StallIsIdleTimeout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeSSE(w, `{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":"x"}}]}`)
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
	}, WithStreamIdleTimeout(100*time.Millisecond))

	_, err := client.ChatStream(t.Context(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrIdleTimeout), "got %v", err)
	assert.ErrorIs(t, err, apperr.ErrTimeout)
}
