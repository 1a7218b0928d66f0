package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jinford/curriculum-rag/internal/module/retrieval/domain"
	"github.com/jinford/curriculum-rag/internal/shared/apperr"
)

// FirecrawlFetcher はFirecrawl互換のscrape APIで本文をmarkdownとして取得する
type FirecrawlFetcher struct {
	endpoint string
	apiKey   string
	caller   caller
}

// NewFirecrawlFetcher は新しいFirecrawlFetcherを作成します
func NewFirecrawlFetcher(endpoint, apiKey string, timeout time.Duration, limiter *rate.Limiter, httpClient *http.Client) *FirecrawlFetcher {
	return &FirecrawlFetcher{
		endpoint: endpoint,
		apiKey:   apiKey,
		caller:   newCaller("content fetch (primary)", httpClient, limiter, timeout),
	}
}

type firecrawlResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Markdown string `json:"markdown"`
	} `json:"data"`
	Error string `json:"error"`
}

func (f *FirecrawlFetcher) Fetch(ctx context.Context, url string) (string, error) {
	if f.apiKey == "" {
		return "", domain.ErrWebNotConfigured
	}

	reqBody, err := json.Marshal(map[string]any{
		"url":             url,
		"formats":         []string{"markdown"},
		"onlyMainContent": true,
	})
	if err != nil {
		return "", err
	}

	body, err := f.caller.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(reqBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
		return req, nil
	})
	if err != nil {
		return "", err
	}

	var resp firecrawlResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", apperr.Wrap(domain.ErrWebMalformed, "content fetch (primary)", err)
	}
	if !resp.Success {
		return "", apperr.Wrap(domain.ErrWebUnavailable, "content fetch (primary)", errors.New(resp.Error))
	}
	return resp.Data.Markdown, nil
}

// JinaFetcher はJina Reader互換のAPIで本文をテキストとして取得する
// エンドポイントの末尾に対象URLを連結してGETする
type JinaFetcher struct {
	endpoint string
	apiKey   string
	caller   caller
}

// NewJinaFetcher は新しいJinaFetcherを作成します
// APIキーは任意
func NewJinaFetcher(endpoint, apiKey string, timeout time.Duration, limiter *rate.Limiter, httpClient *http.Client) *JinaFetcher {
	return &JinaFetcher{
		endpoint: endpoint,
		apiKey:   apiKey,
		caller:   newCaller("content fetch (fallback)", httpClient, limiter, timeout),
	}
}

func (j *JinaFetcher) Fetch(ctx context.Context, url string) (string, error) {
	target := strings.TrimSuffix(j.endpoint, "/") + "/" + url

	body, err := j.caller.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/plain")
		if j.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+j.apiKey)
		}
		return req, nil
	})
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// FallbackFetcher はprimaryが失敗または空の場合にfallbackで取得する
type FallbackFetcher struct {
	primary  domain.ContentFetcher
	fallback domain.ContentFetcher
}

var _ domain.ContentFetcher = (*FallbackFetcher)(nil)

// NewFallbackFetcher は新しいFallbackFetcherを作成します
// どちらか一方が nil の場合はもう一方のみを使う
func NewFallbackFetcher(primary, fallback domain.ContentFetcher) *FallbackFetcher {
	return &FallbackFetcher{primary: primary, fallback: fallback}
}

func (f *FallbackFetcher) Fetch(ctx context.Context, url string) (string, error) {
	var primaryErr error
	if f.primary != nil {
		content, err := f.primary.Fetch(ctx, url)
		if err == nil && strings.TrimSpace(content) != "" {
			return content, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		primaryErr = err
	}
	if f.fallback == nil {
		if primaryErr == nil {
			primaryErr = domain.ErrWebNotConfigured
		}
		return "", primaryErr
	}

	content, err := f.fallback.Fetch(ctx, url)
	if err != nil {
		return "", errors.Join(primaryErr, err)
	}
	return content, nil
}
