package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jinford/curriculum-rag/internal/module/llm/domain"
	"github.com/jinford/curriculum-rag/internal/shared/apperr"
	"github.com/jinford/curriculum-rag/internal/shared/textutil"
)

const (
	// DefaultEmbeddingTimeout は1回のプロバイダ呼び出しのタイムアウト
	DefaultEmbeddingTimeout = 30 * time.Second

	// DefaultMaxInputChars はプロバイダへ送る1テキストあたりの最大文字数
	DefaultMaxInputChars = 8000

	// DefaultEmbeddingBatchSize は1回の呼び出しに含めるテキスト数の上限
	DefaultEmbeddingBatchSize = 25
)

// EmbeddingClient はテキストを固定次元のベクトルに変換する
//
// strict モードではプロバイダ障害をそのまま返す。lenient モードでは正しい次元の
// ゼロベクトルで代替し、警告ログを出す。件数不一致や応答の破損はどちらのモードでもエラー。
type EmbeddingClient struct {
	embedder  domain.Embedder
	strict    bool
	timeout   time.Duration
	maxChars  int
	batchSize int
	logger    *slog.Logger
}

// EmbeddingClientOption は EmbeddingClient のオプション
type EmbeddingClientOption func(*EmbeddingClient)

// WithStrict は strict / lenient モードを切り替える
func WithStrict(strict bool) EmbeddingClientOption {
	return func(c *EmbeddingClient) { c.strict = strict }
}

// WithEmbeddingTimeout は呼び出しごとのタイムアウトを指定する
func WithEmbeddingTimeout(d time.Duration) EmbeddingClientOption {
	return func(c *EmbeddingClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxInputChars は1テキストあたりの最大文字数を指定する
func WithMaxInputChars(n int) EmbeddingClientOption {
	return func(c *EmbeddingClient) {
		if n > 0 {
			c.maxChars = n
		}
	}
}

// WithBatchSize は1回の呼び出しに含めるテキスト数の上限を指定する
func WithBatchSize(n int) EmbeddingClientOption {
	return func(c *EmbeddingClient) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithEmbeddingLogger はロガーを差し替える
func WithEmbeddingLogger(logger *slog.Logger) EmbeddingClientOption {
	return func(c *EmbeddingClient) { c.logger = logger }
}

// NewEmbeddingClient は新しいEmbeddingClientを作成する
// デフォルトは strict モード
func NewEmbeddingClient(embedder domain.Embedder, opts ...EmbeddingClientOption) *EmbeddingClient {
	c := &EmbeddingClient{
		embedder:  embedder,
		strict:    true,
		timeout:   DefaultEmbeddingTimeout,
		maxChars:  DefaultMaxInputChars,
		batchSize: DefaultEmbeddingBatchSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Dimension はベクトルの次元数を返す
func (c *EmbeddingClient) Dimension() int {
	return c.embedder.Dimension()
}

// Strict は strict モードかどうかを返す
func (c *EmbeddingClient) Strict() bool {
	return c.strict
}

// Embed は入力と同じ順序でベクトルを返す
func (c *EmbeddingClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	prepared := make([]string, len(texts))
	for i, text := range texts {
		prepared[i] = textutil.TruncateRunes(text, c.maxChars)
	}

	result := make([][]float32, 0, len(texts))
	for start := 0; start < len(prepared); start += c.batchSize {
		end := min(start+c.batchSize, len(prepared))
		vectors, err := c.embedBatch(ctx, prepared[start:end])
		if err != nil {
			return nil, err
		}
		result = append(result, vectors...)
	}

	return result, nil
}

// EmbedOne は1件のテキストをベクトル化する
func (c *EmbeddingClient) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *EmbeddingClient) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	vectors, err := c.embedder.EmbedBatch(callCtx, batch)
	if err != nil {
		classified := c.classify(ctx, callCtx, err)
		// データ破損はモードに関わらず致命的
		if errors.Is(classified, apperr.ErrDataIntegrity) || c.strict || ctx.Err() != nil {
			return nil, classified
		}
		c.logger.Warn("Embedding生成に失敗したためゼロベクトルで代替します",
			"count", len(batch),
			"model", c.embedder.ModelName(),
			"error", classified,
		)
		return c.zeroVectors(len(batch)), nil
	}

	if len(vectors) != len(batch) {
		return nil, apperr.Wrap(domain.ErrCountMismatch, "embed",
			fmt.Errorf("expected %d vectors, got %d", len(batch), len(vectors)))
	}

	dim := c.embedder.Dimension()
	for i, v := range vectors {
		if dim > 0 && len(v) != dim {
			return nil, apperr.Wrap(domain.ErrDimensionMismatch, "embed",
				fmt.Errorf("vector %d has dimension %d, expected %d", i, len(v), dim))
		}
	}

	return vectors, nil
}

// classify はプロバイダのエラーをタイムアウト・一時障害・データ破損に分類する
func (c *EmbeddingClient) classify(parent, callCtx context.Context, err error) error {
	if apperr.KindOf(err) == apperr.KindDataIntegrity {
		return err
	}
	if parent.Err() == nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded)) {
		return apperr.Wrap(domain.ErrEmbeddingTimeout, "embed", err)
	}
	if parent.Err() != nil {
		return fmt.Errorf("embed: %w", parent.Err())
	}
	if apperr.KindOf(err) != "" {
		return err
	}
	return apperr.Wrap(domain.ErrProviderUnavailable, "embed", err)
}

func (c *EmbeddingClient) zeroVectors(n int) [][]float32 {
	dim := c.embedder.Dimension()
	vectors := make([][]float32, n)
	for i := range vectors {
		vectors[i] = make([]float32, dim)
	}
	return vectors
}
