package web_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jinford/curriculum-rag/internal/module/retrieval/adapter/web"
	"github.com/jinford/curriculum-rag/internal/module/retrieval/domain"
	"github.com/jinford/curriculum-rag/internal/shared/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerperSearch_Search(t *testing.T) {
	// Setup
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("X-API-KEY"))
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "阳光小学 课程", req["q"])
		assert.Equal(t, "zh-cn", req["hl"])
		assert.Equal(t, "cn", req["gl"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"organic":[
			{"title":"A","link":"https://a.example","snippet":"a"},
			{"title":"no link"},
			{"title":"B","link":"https://b.example","snippet":"b"},
			{"title":"C","link":"https://c.example","snippet":"c"}
		]}`))
	}))
	defer srv.Close()

	search := web.NewSerperSearch(srv.URL, "key", time.Second, nil, srv.Client())

	// Execute
	results, err := search.Search(context.Background(), "阳光小学 课程", 2, "zh-cn")

	// Assert
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "https://a.example", results[0].URL)
	assert.Equal(t, "https://b.example", results[1].URL)
}

func TestSerperSearch_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	search := web.NewSerperSearch(srv.URL, "key", time.Second, nil, srv.Client())
	_, err := search.Search(context.Background(), "q", 3, "")

	require.ErrorIs(t, err, domain.ErrWebUnavailable)
	assert.True(t, apperr.IsRetryable(err))
}

func TestSerperSearch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	search := web.NewSerperSearch(srv.URL, "key", 50*time.Millisecond, nil, srv.Client())
	_, err := search.Search(context.Background(), "q", 3, "")

	require.ErrorIs(t, err, domain.ErrWebTimeout)
	assert.ErrorIs(t, err, apperr.ErrTimeout)
}

func TestSerperSearch_MissingKey(t *testing.T) {
	search := web.NewSerperSearch("http://unused", "", time.Second, nil, nil)
	_, err := search.Search(context.Background(), "q", 3, "")
	require.ErrorIs(t, err, domain.ErrWebNotConfigured)
}

func TestFirecrawlFetcher_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer fc", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"success":true,"data":{"markdown":"# 标题\n正文"}}`))
	}))
	defer srv.Close()

	fetcher := web.NewFirecrawlFetcher(srv.URL, "fc", time.Second, nil, srv.Client())
	content, err := fetcher.Fetch(context.Background(), "https://a.example")

	require.NoError(t, err)
	assert.Equal(t, "# 标题\n正文", content)
}

func TestJinaFetcher_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/https://a.example/page", r.URL.Path)
		_, _ = w.Write([]byte("plain text"))
	}))
	defer srv.Close()

	fetcher := web.NewJinaFetcher(srv.URL+"/", "", time.Second, nil, srv.Client())
	content, err := fetcher.Fetch(context.Background(), "https://a.example/page")

	require.NoError(t, err)
	assert.Equal(t, "plain text", content)
}

type fetchFunc func(ctx context.Context, url string) (string, error)

func (f fetchFunc) Fetch(ctx context.Context, url string) (string, error) { return f(ctx, url) }

func TestFallbackFetcher(t *testing.T) {
	ctx := context.Background()
	failing := fetchFunc(func(context.Context, string) (string, error) { return "", errors.New("primary down") })
	empty := fetchFunc(func(context.Context, string) (string, error) { return "  ", nil })
	ok := fetchFunc(func(context.Context, string) (string, error) { return "fallback body", nil })

	content, err := web.NewFallbackFetcher(failing, ok).Fetch(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "fallback body", content)

	content, err = web.NewFallbackFetcher(empty, ok).Fetch(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "fallback body", content)

	_, err = web.NewFallbackFetcher(failing, failing).Fetch(ctx, "u")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary down")

	_, err = web.NewFallbackFetcher(failing, nil).Fetch(ctx, "u")
	require.Error(t, err)
}

func TestNewLimiter(t *testing.T) {
	assert.NoError(t, web.NewLimiter(0).Wait(context.Background()))
	limiter := web.NewLimiter(0.5)
	assert.Equal(t, 1, limiter.Burst())
}
