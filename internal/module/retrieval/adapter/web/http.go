package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/jinford/curriculum-rag/internal/module/retrieval/domain"
	"github.com/jinford/curriculum-rag/internal/shared/apperr"
)

// maxBodyBytes はプロバイダ応答の読み込み上限
const maxBodyBytes = 4 << 20

// caller はレート制限とタイムアウト付きでHTTPリクエストを送る
type caller struct {
	name       string
	httpClient *http.Client
	limiter    *rate.Limiter
	timeout    time.Duration
}

func newCaller(name string, httpClient *http.Client, limiter *rate.Limiter, timeout time.Duration) caller {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return caller{name: name, httpClient: httpClient, limiter: limiter, timeout: timeout}
}

// NewLimiter は秒間リクエスト数からレートリミッタを作成する
// rps <= 0 の場合は制限しない
func NewLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// do はリクエストを送信して本文を返す。2xx 以外はエラー
func (c caller) do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) ([]byte, error) {
	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := c.limiter.Wait(callCtx); err != nil {
		return nil, c.classify(ctx, callCtx, err)
	}

	req, err := build(callCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", c.name, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classify(ctx, callCtx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, c.classify(ctx, callCtx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.Wrap(domain.ErrWebUnavailable, c.name,
			fmt.Errorf("status %d: %s", resp.StatusCode, truncateBody(body)))
	}
	return body, nil
}

// classify はタイムアウトと通信障害を区別する
func (c caller) classify(parent, callCtx context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(domain.ErrWebTimeout, c.name, err)
	}
	return apperr.Wrap(domain.ErrWebUnavailable, c.name, err)
}

func truncateBody(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
