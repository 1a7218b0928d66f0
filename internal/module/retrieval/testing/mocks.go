package testing

import (
	"context"

	docdomain "github.com/jinford/curriculum-rag/internal/module/document/domain"
	"github.com/jinford/curriculum-rag/internal/module/retrieval/domain"
)

// MockQueryEmbedder はテスト用のモックです
type MockQueryEmbedder struct {
	EmbedOneFunc func(ctx context.Context, text string) ([]float32, error)
}

func (m *MockQueryEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedOneFunc != nil {
		return m.EmbedOneFunc(ctx, text)
	}
	return []float32{1, 0, 0}, nil
}

// MockChunkSearcher はテスト用のモックです
type MockChunkSearcher struct {
	SearchSimilarFunc func(ctx context.Context, embedding []float32, topK int, filter docdomain.SearchFilter) ([]docdomain.SearchResult, error)
}

func (m *MockChunkSearcher) SearchSimilar(ctx context.Context, embedding []float32, topK int, filter docdomain.SearchFilter) ([]docdomain.SearchResult, error) {
	if m.SearchSimilarFunc != nil {
		return m.SearchSimilarFunc(ctx, embedding, topK, filter)
	}
	return nil, nil
}

// MockDocumentLookup はテスト用のモックです
type MockDocumentLookup struct {
	FindByIDsFunc func(ctx context.Context, ids []string) ([]*docdomain.Document, error)
}

func (m *MockDocumentLookup) FindByIDs(ctx context.Context, ids []string) ([]*docdomain.Document, error) {
	if m.FindByIDsFunc != nil {
		return m.FindByIDsFunc(ctx, ids)
	}
	return nil, nil
}

// MockSearchProvider はテスト用のモックです
type MockSearchProvider struct {
	SearchFunc func(ctx context.Context, query string, count int, locale string) ([]domain.WebResult, error)
}

func (m *MockSearchProvider) Search(ctx context.Context, query string, count int, locale string) ([]domain.WebResult, error) {
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, query, count, locale)
	}
	return nil, nil
}

// MockContentFetcher はテスト用のモックです
type MockContentFetcher struct {
	FetchFunc func(ctx context.Context, url string) (string, error)
}

func (m *MockContentFetcher) Fetch(ctx context.Context, url string) (string, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, url)
	}
	return "", nil
}
