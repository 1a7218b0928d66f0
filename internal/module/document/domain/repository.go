package domain

import "context"

// Registry はドキュメント台帳（正本）へのアクセスを提供する
type Registry interface {
	Create(ctx context.Context, doc *Document) error
	// FindByID は見つからない場合 ErrDocumentNotFound を返す
	FindByID(ctx context.Context, id string) (*Document, error)
	FindByIDs(ctx context.Context, ids []string) ([]*Document, error)
	ListByStatus(ctx context.Context, status Status) ([]*Document, error)
	ListAllIDs(ctx context.Context) ([]string, error)

	// MarkProcessing は状態を processing にし、試行回数を1増やす
	MarkProcessing(ctx context.Context, id string) error
	MarkProcessed(ctx context.Context, id string, chunkCount int) error
	MarkFailed(ctx context.Context, id string, message string, terminal bool) error
	MarkPending(ctx context.Context, id string) error
	UpdateStageIDs(ctx context.Context, id string, stageIDs []string) error

	Delete(ctx context.Context, id string) error
}

// VectorStore はチャンクの永続化と類似検索を提供する
//
// ストアに接続できないエラーは握りつぶさずに返す。
type VectorStore interface {
	InitSchema(ctx context.Context) error
	// InsertChunks はドキュメントのチャンク 0..N-1 を1トランザクションでupsertする
	InsertChunks(ctx context.Context, documentID string, chunks []Chunk) error
	SearchSimilar(ctx context.Context, embedding []float32, topK int, filter SearchFilter) ([]SearchResult, error)
	DeleteByDocumentID(ctx context.Context, documentID string) (int64, error)
	// UpdateStageIDs はEmbeddingを再計算せずにメタデータのみ更新する
	UpdateStageIDs(ctx context.Context, documentID string, stageIDs []string) (int64, error)
	CheckHealth(ctx context.Context, documentID string, expectedCount int) (HealthStatus, error)
	FindAllDocumentIDs(ctx context.Context) ([]string, error)
}

// BlobStore はファイル本体の保存先（外部コラボレータ）
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// Extractor はファイルからテキストを抽出する
// 対応していない形式の場合は ErrUnsupportedContent を返す
type Extractor interface {
	Extract(ctx context.Context, doc *Document, data []byte) (string, error)
}

// Chunker はテキストを決定的に分割する
type Chunker interface {
	Split(text string) []TextSegment
}

// Embedder はチャンク本文をベクトル化する
// 戻り値の順序と件数は入力と一致しなければならない
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
