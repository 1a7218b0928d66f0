package testing

import (
	"context"
	"fmt"

	"github.com/jinford/curriculum-rag/internal/module/generation/domain"
	retrieval "github.com/jinford/curriculum-rag/internal/module/retrieval/domain"
)

// MockTemplateStore はテスト用のテンプレートストアです
type MockTemplateStore struct {
	Templates map[string]*domain.Template
	// Snapshots は "key@version" をキーとする
	Snapshots map[string]string
	Err       error
}

func (m *MockTemplateStore) GetTemplate(_ context.Context, key string) (*domain.Template, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	t, ok := m.Templates[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTemplateNotFound, key)
	}
	c := *t
	return &c, nil
}

func (m *MockTemplateStore) GetVersionSnapshot(_ context.Context, key string, version int) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	content, ok := m.Snapshots[fmt.Sprintf("%s@%d", key, version)]
	if !ok {
		return "", fmt.Errorf("%w: %s v%d", domain.ErrTemplateVersionNotFound, key, version)
	}
	return content, nil
}

// MockRetriever はテスト用のモックです
type MockRetriever struct {
	RetrieveFunc func(ctx context.Context, req retrieval.Request) (*retrieval.Result, error)
	Requests     []retrieval.Request
}

func (m *MockRetriever) Retrieve(ctx context.Context, req retrieval.Request) (*retrieval.Result, error) {
	m.Requests = append(m.Requests, req)
	if m.RetrieveFunc != nil {
		return m.RetrieveFunc(ctx, req)
	}
	return &retrieval.Result{}, nil
}
