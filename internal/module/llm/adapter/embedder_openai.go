package adapter

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jinford/curriculum-rag/internal/module/llm/domain"
	"github.com/jinford/curriculum-rag/internal/shared/apperr"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIEmbedder はOpenAI互換のEmbeddings APIを使用したEmbedder実装
type OpenAIEmbedder struct {
	client    openai.Client
	model     string
	dimension int
}

// NewOpenAIEmbedder は新しいOpenAIEmbedderを作成します
func NewOpenAIEmbedder(apiKey, baseURL, model string, dimension int, httpClient *http.Client) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, domain.ErrAPIKeyNotSet
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}

	return &OpenAIEmbedder{
		client:    openai.NewClient(opts...),
		model:     model,
		dimension: dimension,
	}, nil
}

// Dimension はEmbeddingベクトルの次元数を返す
func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

// ModelName はモデル名を取得します
func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}

// EmbedBatch はバッチでEmbeddingを生成します
// 応答の index に従って入力順に並べ替えます
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	}

	// dimensionパラメータを追加（text-embedding-3-smallなどで有効）
	if e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		idx := int(data.Index)
		if idx < 0 || idx >= len(resp.Data) || embeddings[idx] != nil {
			return nil, apperr.Wrap(domain.ErrMalformedResponse, "openai embed",
				fmt.Errorf("invalid index %d at position %d", data.Index, i))
		}
		embeddings[idx] = toFloat32(data.Embedding)
	}

	return embeddings, nil
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

// インターフェース実装の確認
var _ domain.Embedder = (*OpenAIEmbedder)(nil)
