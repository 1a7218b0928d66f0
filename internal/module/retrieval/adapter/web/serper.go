package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jinford/curriculum-rag/internal/module/retrieval/domain"
	"github.com/jinford/curriculum-rag/internal/shared/apperr"
)

// SerperSearch はSerper互換の検索APIクライアント
type SerperSearch struct {
	endpoint string
	apiKey   string
	caller   caller
}

var _ domain.SearchProvider = (*SerperSearch)(nil)

// NewSerperSearch は新しいSerperSearchを作成します
func NewSerperSearch(endpoint, apiKey string, timeout time.Duration, limiter *rate.Limiter, httpClient *http.Client) *SerperSearch {
	return &SerperSearch{
		endpoint: endpoint,
		apiKey:   apiKey,
		caller:   newCaller("web search", httpClient, limiter, timeout),
	}
}

type serperRequest struct {
	Q   string `json:"q"`
	Num int    `json:"num"`
	HL  string `json:"hl,omitempty"`
	GL  string `json:"gl,omitempty"`
}

type serperResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

// Search は上位 count 件のオーガニック検索結果を返す
func (s *SerperSearch) Search(ctx context.Context, query string, count int, locale string) ([]domain.WebResult, error) {
	if s.apiKey == "" {
		return nil, domain.ErrWebNotConfigured
	}

	payload := serperRequest{Q: query, Num: count}
	if locale != "" {
		payload.HL = locale
		if _, region, ok := strings.Cut(locale, "-"); ok {
			payload.GL = region
		}
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	body, err := s.caller.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(reqBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-KEY", s.apiKey)
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var resp serperResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperr.Wrap(domain.ErrWebMalformed, "web search", err)
	}

	results := make([]domain.WebResult, 0, len(resp.Organic))
	for _, o := range resp.Organic {
		if o.Link == "" {
			continue
		}
		results = append(results, domain.WebResult{Title: o.Title, URL: o.Link, Snippet: o.Snippet})
		if count > 0 && len(results) == count {
			break
		}
	}
	return results, nil
}
