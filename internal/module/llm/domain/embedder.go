package domain

import "context"

// Embedder はEmbeddingプロバイダの方言ごとの実装
//
// EmbedBatch は入力と同じ順序でベクトルを返す。件数の検証は呼び出し側が行う。
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension はEmbeddingベクトルの次元数を返す
	Dimension() int

	// ModelName はモデル名を返す
	ModelName() string
}
