package testing

import (
	"context"
	"fmt"
	"sync"

	"github.com/jinford/curriculum-rag/internal/module/document/domain"
)

// MemoryBlobStore はインメモリのBlobストアです
type MemoryBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte

	// DeleteErr が設定されている場合、Delete はこのエラーを返す
	DeleteErr error
}

var _ domain.BlobStore = (*MemoryBlobStore)(nil)

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (s *MemoryBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrBlobNotFound, key)
	}
	return data, nil
}

func (s *MemoryBlobStore) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; ok {
		return fmt.Errorf("%w: %s", domain.ErrBlobExists, key)
	}
	s.blobs[key] = data
	return nil
}

func (s *MemoryBlobStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	if _, ok := s.blobs[key]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrBlobNotFound, key)
	}
	delete(s.blobs, key)
	return nil
}

// Has はキーが存在するかを返す
func (s *MemoryBlobStore) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blobs[key]
	return ok
}

// MockEmbedder はテスト用のモックEmbedderです
type MockEmbedder struct {
	EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)
	Dim       int
}

func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, texts)
	}
	dim := m.Dim
	if dim == 0 {
		dim = 3
	}
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		v := make([]float32, dim)
		v[0] = 1
		vectors[i] = v
	}
	return vectors, nil
}

// MockExtractor はテスト用のモックExtractorです
type MockExtractor struct {
	ExtractFunc func(ctx context.Context, doc *domain.Document, data []byte) (string, error)
}

func (m *MockExtractor) Extract(ctx context.Context, doc *domain.Document, data []byte) (string, error) {
	if m.ExtractFunc != nil {
		return m.ExtractFunc(ctx, doc, data)
	}
	return string(data), nil
}
