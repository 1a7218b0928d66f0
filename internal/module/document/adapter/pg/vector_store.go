// Package pg はPostgreSQL + pgvectorによるチャンクストアを提供する
package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jinford/curriculum-rag/internal/module/document/domain"
	"github.com/jinford/curriculum-rag/internal/platform/database"
	"github.com/jinford/curriculum-rag/internal/shared/apperr"
)

// VectorStore は domain.VectorStore を実装する PostgreSQL リポジトリ
type VectorStore struct {
	pool      *pgxpool.Pool
	dimension int
}

// NewVectorStore は新しい VectorStore を返す
func NewVectorStore(pool *pgxpool.Pool, dimension int) *VectorStore {
	if dimension <= 0 {
		dimension = domain.EmbeddingDimension
	}
	return &VectorStore{pool: pool, dimension: dimension}
}

var _ domain.VectorStore = (*VectorStore)(nil)

// InitSchema はチャンクテーブルとインデックスを冪等に作成する
//
// HNSWインデックスは学習済みコードブックを必要としないため、空のテーブルでも作成できる。
func (s *VectorStore) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS document_chunks (
			id          BIGSERIAL PRIMARY KEY,
			document_id TEXT        NOT NULL,
			chunk_index INTEGER     NOT NULL CHECK (chunk_index >= 0),
			content     TEXT        NOT NULL,
			embedding   vector(%d)  NOT NULL,
			metadata    JSONB       NOT NULL DEFAULT '{}'::jsonb,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			CONSTRAINT document_chunks_document_chunk_key UNIQUE (document_id, chunk_index)
		)`, s.dimension),
		`CREATE INDEX IF NOT EXISTS document_chunks_document_id_idx ON document_chunks (document_id)`,
		`CREATE INDEX IF NOT EXISTS document_chunks_embedding_hnsw_idx
			ON document_chunks USING hnsw (embedding vector_cosine_ops)`,
	}

	_, err := database.Transact(ctx, s.pool, func(tx pgx.Tx) (struct{}, error) {
		for _, stmt := range statements {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return struct{}{}, fmt.Errorf("failed to init schema: %w", err)
			}
		}
		return struct{}{}, nil
	})
	return classify("init schema", err)
}

const upsertChunkSQL = `
INSERT INTO document_chunks (document_id, chunk_index, content, embedding, metadata)
VALUES ($1, $2, $3, $4::vector, $5::jsonb)
ON CONFLICT (document_id, chunk_index) DO UPDATE
SET content    = EXCLUDED.content,
    embedding  = EXCLUDED.embedding,
    metadata   = EXCLUDED.metadata,
    updated_at = now()`

// InsertChunks はチャンク 0..N-1 を1トランザクションでupsertし、N以上の古いチャンクを削除する
//
// 同じドキュメントへの並行書き込みはアドバイザリロックで直列化される。
func (s *VectorStore) InsertChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error {
	if documentID == "" {
		return apperr.New(apperr.KindValidation, "insert chunks", errors.New("document ID is required"))
	}
	for i, c := range chunks {
		if c.Index != i {
			return apperr.New(apperr.KindValidation, "insert chunks",
				fmt.Errorf("chunk at position %d has index %d", i, c.Index))
		}
		if len(c.Embedding) != s.dimension {
			return apperr.New(apperr.KindDataIntegrity, "insert chunks",
				fmt.Errorf("chunk %d has dimension %d, expected %d", i, len(c.Embedding), s.dimension))
		}
	}

	_, err := database.Transact(ctx, s.pool, func(tx pgx.Tx) (struct{}, error) {
		if err := database.AcquireXactLock(ctx, tx, database.GenerateLockID("document_chunks", documentID)); err != nil {
			return struct{}{}, err
		}

		if len(chunks) > 0 {
			batch := &pgx.Batch{}
			for _, c := range chunks {
				meta, err := json.Marshal(c.Metadata)
				if err != nil {
					return struct{}{}, fmt.Errorf("failed to encode metadata: %w", err)
				}
				batch.Queue(upsertChunkSQL, documentID, c.Index, c.Content, pgvector.NewVector(c.Embedding), meta)
			}

			br := tx.SendBatch(ctx, batch)
			for i := range chunks {
				if _, err := br.Exec(); err != nil {
					br.Close()
					return struct{}{}, fmt.Errorf("failed to upsert chunk %d: %w", i, err)
				}
			}
			if err := br.Close(); err != nil {
				return struct{}{}, fmt.Errorf("failed to close batch: %w", err)
			}
		}

		// 再処理でチャンク数が減った場合の残骸を削除する
		if _, err := tx.Exec(ctx,
			`DELETE FROM document_chunks WHERE document_id = $1 AND chunk_index >= $2`,
			documentID, len(chunks),
		); err != nil {
			return struct{}{}, fmt.Errorf("failed to delete stale chunks: %w", err)
		}
		return struct{}{}, nil
	})
	return classify("insert chunks", err)
}

const searchSimilarSQL = `
SELECT document_id, chunk_index, content, metadata, 1 - (embedding <=> $1::vector) AS score
FROM document_chunks
WHERE ($2::text[] IS NULL OR document_id = ANY($2::text[]))
  AND (
    $3::text = ''
    OR CASE jsonb_typeof(metadata->'stage_ids')
         WHEN 'array' THEN jsonb_array_length(metadata->'stage_ids') = 0
                        OR (metadata->'stage_ids') ? $3::text
         ELSE TRUE
       END
  )
ORDER BY embedding <=> $1::vector
LIMIT $4`

// SearchSimilar はコサイン距離の昇順でチャンクを返す
func (s *VectorStore) SearchSimilar(ctx context.Context, embedding []float32, topK int, filter domain.SearchFilter) ([]domain.SearchResult, error) {
	if topK <= 0 {
		return []domain.SearchResult{}, nil
	}
	if len(embedding) != s.dimension {
		return nil, apperr.New(apperr.KindValidation, "search similar",
			fmt.Errorf("query has dimension %d, expected %d", len(embedding), s.dimension))
	}

	var docIDs []string
	if filter.DocumentIDs != nil {
		docIDs = filter.DocumentIDs
	}

	rows, err := s.pool.Query(ctx, searchSimilarSQL, pgvector.NewVector(embedding), docIDs, filter.StageID, topK)
	if err != nil {
		return nil, classify("search similar", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.SearchResult, error) {
		var (
			r    domain.SearchResult
			meta []byte
		)
		if err := row.Scan(&r.DocumentID, &r.ChunkIndex, &r.Content, &meta, &r.Score); err != nil {
			return r, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &r.Metadata); err != nil {
				return r, fmt.Errorf("failed to decode metadata: %w", err)
			}
		}
		return r, nil
	})
	if err != nil {
		return nil, classify("search similar", err)
	}
	return results, nil
}

// DeleteByDocumentID はドキュメントの全チャンクを削除し、削除件数を返す
func (s *VectorStore) DeleteByDocumentID(ctx context.Context, documentID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return 0, classify("delete chunks", err)
	}
	return tag.RowsAffected(), nil
}

// UpdateStageIDs はEmbeddingを再計算せずにメタデータの stage_ids だけを書き換える
func (s *VectorStore) UpdateStageIDs(ctx context.Context, documentID string, stageIDs []string) (int64, error) {
	if stageIDs == nil {
		stageIDs = []string{}
	}
	payload, err := json.Marshal(stageIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to encode stage ids: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE document_chunks
		SET metadata   = jsonb_set(COALESCE(metadata, '{}'::jsonb), '{stage_ids}', $2::jsonb, true),
		    updated_at = now()
		WHERE document_id = $1`,
		documentID, payload,
	)
	if err != nil {
		return 0, classify("update stage ids", err)
	}
	return tag.RowsAffected(), nil
}

// CheckHealth は保存されているチャンク数と台帳上の期待値を比較する
func (s *VectorStore) CheckHealth(ctx context.Context, documentID string, expectedCount int) (domain.HealthStatus, error) {
	var actual int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM document_chunks WHERE document_id = $1`, documentID,
	).Scan(&actual); err != nil {
		return domain.HealthStatus{}, classify("check health", err)
	}
	return domain.NewHealthStatus(documentID, expectedCount, actual), nil
}

// FindAllDocumentIDs はチャンクストアに存在するドキュメントIDを列挙する
func (s *VectorStore) FindAllDocumentIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT document_id FROM document_chunks ORDER BY document_id`)
	if err != nil {
		return nil, classify("find document ids", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, classify("find document ids", err)
	}
	return ids, nil
}

// classify はサーバーが返したSQLエラーはそのまま、接続系の障害は一時障害として返す
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if apperr.KindOf(err) != "" {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return apperr.Wrap(domain.ErrStoreUnavailable, op, err)
}
