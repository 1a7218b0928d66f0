package template

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jinford/curriculum-rag/internal/module/generation/domain"
)

// ChainStore は複数のテンプレートストアを順に参照する
//
// 先頭のストアが見つからない、または利用できない場合は次のストアを使う。
type ChainStore struct {
	stores []domain.TemplateStore
	logger *slog.Logger
}

var _ domain.TemplateStore = (*ChainStore)(nil)

// NewChainStore は新しいChainStoreを作成します
func NewChainStore(logger *slog.Logger, stores ...domain.TemplateStore) *ChainStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChainStore{stores: stores, logger: logger}
}

func (c *ChainStore) GetTemplate(ctx context.Context, key string) (*domain.Template, error) {
	var errs []error
	for i, store := range c.stores {
		t, err := store.GetTemplate(ctx, key)
		if err == nil {
			return t, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, domain.ErrTemplateNotFound) {
			c.logger.Warn("テンプレートストアの参照に失敗したため次のストアを使います", "key", key, "store", i, "error", err)
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, domain.ErrTemplateNotFound
	}
	return nil, errors.Join(errs...)
}

func (c *ChainStore) GetVersionSnapshot(ctx context.Context, key string, version int) (string, error) {
	var errs []error
	for _, store := range c.stores {
		content, err := store.GetVersionSnapshot(ctx, key, version)
		if err == nil {
			return content, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", domain.ErrTemplateVersionNotFound
	}
	return "", errors.Join(errs...)
}
