package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jinford/curriculum-rag/internal/module/llm/domain"
	"github.com/jinford/curriculum-rag/internal/shared/apperr"
)

// NativeEmbedder は入力をプロバイダ固有のエンベロープで包むバッチ方言の実装
//
// リクエスト: {"model": ..., "input": {"texts": [...]}, "parameters": {"dimension": N}}
// レスポンス: {"output": {"embeddings": [{"text_index": i, "embedding": [...]}]}}
type NativeEmbedder struct {
	endpoint   string
	apiKey     string
	model      string
	dimension  int
	httpClient *http.Client
}

// NewNativeEmbedder は新しいNativeEmbedderを作成します
func NewNativeEmbedder(endpoint, apiKey, model string, dimension int, httpClient *http.Client) (*NativeEmbedder, error) {
	if apiKey == "" {
		return nil, domain.ErrAPIKeyNotSet
	}
	if endpoint == "" {
		return nil, fmt.Errorf("native embedding endpoint is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &NativeEmbedder{
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
		dimension:  dimension,
		httpClient: httpClient,
	}, nil
}

type nativeRequest struct {
	Model      string           `json:"model"`
	Input      nativeInput      `json:"input"`
	Parameters nativeParameters `json:"parameters"`
}

type nativeInput struct {
	Texts []string `json:"texts"`
}

type nativeParameters struct {
	Dimension int `json:"dimension,omitempty"`
}

type nativeResponse struct {
	Output struct {
		Embeddings []struct {
			TextIndex *int      `json:"text_index"`
			Embedding []float32 `json:"embedding"`
		} `json:"embeddings"`
	} `json:"output"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Dimension はEmbeddingベクトルの次元数を返す
func (e *NativeEmbedder) Dimension() int {
	return e.dimension
}

// ModelName はモデル名を取得します
func (e *NativeEmbedder) ModelName() string {
	return e.model
}

// EmbedBatch はバッチでEmbeddingを生成します
func (e *NativeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(nativeRequest{
		Model:      e.model,
		Input:      nativeInput{Texts: texts},
		Parameters: nativeParameters{Dimension: e.dimension},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("native embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, apperr.Wrap(domain.ErrRateLimitExceeded, "native embed", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 500 {
		return nil, apperr.Wrap(domain.ErrProviderUnavailable, "native embed", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("native embedding rejected: status %d: %s", resp.StatusCode, truncateBody(raw))
	}

	var parsed nativeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, apperr.Wrap(domain.ErrMalformedResponse, "native embed", err)
	}

	items := parsed.Output.Embeddings
	embeddings := make([][]float32, len(items))
	for i, item := range items {
		if item.TextIndex == nil {
			return nil, apperr.Wrap(domain.ErrMalformedResponse, "native embed",
				fmt.Errorf("missing text_index at position %d", i))
		}
		idx := *item.TextIndex
		if idx < 0 || idx >= len(items) || embeddings[idx] != nil {
			return nil, apperr.Wrap(domain.ErrMalformedResponse, "native embed",
				fmt.Errorf("invalid text_index %d at position %d", idx, i))
		}
		embeddings[idx] = item.Embedding
	}

	return embeddings, nil
}

func truncateBody(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

// インターフェース実装の確認
var _ domain.Embedder = (*NativeEmbedder)(nil)
