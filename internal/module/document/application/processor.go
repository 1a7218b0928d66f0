package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jinford/curriculum-rag/internal/module/document/domain"
)

// ProcessResult は1ドキュメントの処理結果
type ProcessResult struct {
	DocumentID string
	ChunkCount int
}

// BatchResult は未処理ドキュメント一括処理の結果
type BatchResult struct {
	Processed int
	Failed    int
}

// RetryResult は失敗ドキュメント再処理の結果
type RetryResult struct {
	Retried     int
	Succeeded   int
	StillFailed int
	// Skipped は試行回数の上限到達、または再試行不可の失敗で対象外になった件数
	Skipped int
}

// Processor はアップロードされたドキュメントをチャンク化し、チャンクストアに登録する
type Processor struct {
	registry  domain.Registry
	blobs     domain.BlobStore
	extractor domain.Extractor
	chunker   domain.Chunker
	embedder  domain.Embedder
	store     domain.VectorStore

	// 同一ドキュメントの同時処理を1回にまとめる
	inflight singleflight.Group
	timeout  time.Duration
	logger   *slog.Logger
}

// DefaultProcessTimeout は1ドキュメントの処理時間の上限
const DefaultProcessTimeout = 10 * time.Minute

// ProcessorOption は Processor のオプション
type ProcessorOption func(*Processor)

// WithProcessorLogger はロガーを差し替える
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = logger }
}

// WithProcessTimeout は1ドキュメントの処理時間の上限を設定する
func WithProcessTimeout(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewProcessor は新しいProcessorを作成します
func NewProcessor(
	registry domain.Registry,
	blobs domain.BlobStore,
	extractor domain.Extractor,
	chunker domain.Chunker,
	embedder domain.Embedder,
	store domain.VectorStore,
	opts ...ProcessorOption,
) *Processor {
	p := &Processor{
		registry:  registry,
		blobs:     blobs,
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		store:     store,
		timeout:   DefaultProcessTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// ProcessDocument はドキュメントを処理して状態を processed にします
//
// 失敗した場合は状態を error にし、エラーを返します。
// チャンクの書き込みは1トランザクションのため、失敗時に一部だけ残ることはありません。
//
// 同じドキュメントへの同時呼び出しは1回の処理を共有します。共有される処理は呼び出し元の
// キャンセルから切り離され、WithProcessTimeout の上限まで続行します。ctx が先に終了した
// 呼び出し元には ctx のエラーを返します。
func (p *Processor) ProcessDocument(ctx context.Context, id string) (*ProcessResult, error) {
	ch := p.inflight.DoChan(id, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		return p.process(runCtx, id)
	})

	select {
	case res := <-ch:
		if res.Shared {
			p.logger.Debug("処理中の同一ドキュメントの結果を共有しました", "documentID", id)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ProcessResult), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Processor) process(ctx context.Context, id string) (*ProcessResult, error) {
	doc, err := p.registry.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}

	if err := p.registry.MarkProcessing(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to mark document as processing: %w", err)
	}

	p.logger.Info("ドキュメントの処理を開始します",
		"documentID", id,
		"filename", doc.Filename,
		"attempt", doc.Attempts+1,
	)

	count, err := p.chunkAndStore(ctx, doc)
	if err != nil {
		p.markFailed(ctx, id, err, domain.IsTerminal(err))
		return nil, fmt.Errorf("failed to process document %s: %w", id, err)
	}

	if err := p.registry.MarkProcessed(ctx, id, count); err != nil {
		// チャンクは登録済みだが processing のまま残さず、再処理の対象にする
		p.markFailed(ctx, id, err, false)
		return nil, fmt.Errorf("failed to mark document as processed: %w", err)
	}

	p.logger.Info("ドキュメントの処理が完了しました", "documentID", id, "chunks", count)

	return &ProcessResult{DocumentID: id, ChunkCount: count}, nil
}

// markFailed は失敗状態を記録する。呼び出し元がキャンセルされても記録する
func (p *Processor) markFailed(ctx context.Context, id string, cause error, terminal bool) {
	if markErr := p.registry.MarkFailed(context.WithoutCancel(ctx), id, cause.Error(), terminal); markErr != nil {
		p.logger.Error("失敗状態の記録に失敗しました", "documentID", id, "error", markErr)
	}
	p.logger.Warn("ドキュメントの処理に失敗しました",
		"documentID", id,
		"terminal", terminal,
		"error", cause,
	)
}

func (p *Processor) chunkAndStore(ctx context.Context, doc *domain.Document) (int, error) {
	data, err := p.blobs.Get(ctx, doc.StorageKey)
	if err != nil {
		return 0, fmt.Errorf("failed to read blob: %w", err)
	}

	text, err := p.extractor.Extract(ctx, doc, data)
	if err != nil {
		return 0, err
	}

	segments := p.chunker.Split(text)
	if len(segments) == 0 {
		return 0, domain.ErrEmptyContent
	}

	contents := make([]string, len(segments))
	for i, seg := range segments {
		contents[i] = seg.Content
	}

	vectors, err := p.embedder.Embed(ctx, contents)
	if err != nil {
		return 0, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(vectors) != len(segments) {
		return 0, fmt.Errorf("%w: got %d, want %d", domain.ErrEmbeddingCountMismatch, len(vectors), len(segments))
	}

	chunks := make([]domain.Chunk, len(segments))
	for i, seg := range segments {
		chunks[i] = domain.Chunk{
			DocumentID: doc.ID,
			Index:      i,
			Content:    seg.Content,
			Embedding:  vectors[i],
			Metadata: domain.ChunkMetadata{
				StageIDs:  doc.StageIDs,
				Filename:  doc.DisplayTitle(),
				MimeType:  doc.MimeType,
				StartRune: seg.StartRune,
				EndRune:   seg.EndRune,
			},
		}
	}

	if err := p.store.InsertChunks(ctx, doc.ID, chunks); err != nil {
		return 0, fmt.Errorf("failed to store chunks: %w", err)
	}
	return len(chunks), nil
}

// ProcessPending は pending 状態の全ドキュメントを処理します
//
// 1件の失敗で全体を中断せず、件数を集計して返します。
func (p *Processor) ProcessPending(ctx context.Context) (BatchResult, error) {
	docs, err := p.registry.ListByStatus(ctx, domain.StatusPending)
	if err != nil {
		return BatchResult{}, fmt.Errorf("failed to list pending documents: %w", err)
	}

	var result BatchResult
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if _, err := p.ProcessDocument(ctx, doc.ID); err != nil {
			result.Failed++
			continue
		}
		result.Processed++
	}

	p.logger.Info("未処理ドキュメントの一括処理が完了しました",
		"processed", result.Processed,
		"failed", result.Failed,
	)
	return result, nil
}

// RetryFailed は error 状態のドキュメントを再処理します
//
// 累計試行回数が maxAttempts に達したもの、再試行しても解決しない失敗は対象外です。
func (p *Processor) RetryFailed(ctx context.Context, maxAttempts int) (RetryResult, error) {
	if maxAttempts <= 0 {
		return RetryResult{}, errors.New("maxAttempts must be positive")
	}

	docs, err := p.registry.ListByStatus(ctx, domain.StatusError)
	if err != nil {
		return RetryResult{}, fmt.Errorf("failed to list failed documents: %w", err)
	}

	var result RetryResult
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !doc.CanRetry(maxAttempts) {
			result.Skipped++
			continue
		}

		result.Retried++
		if _, err := p.ProcessDocument(ctx, doc.ID); err != nil {
			result.StillFailed++
			continue
		}
		result.Succeeded++
	}

	p.logger.Info("失敗ドキュメントの再処理が完了しました",
		"retried", result.Retried,
		"succeeded", result.Succeeded,
		"stillFailed", result.StillFailed,
		"skipped", result.Skipped,
	)
	return result, nil
}
