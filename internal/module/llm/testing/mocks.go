package testing

import (
	"context"

	"github.com/jinford/curriculum-rag/internal/module/llm/domain"
)

// MockEmbedder はテスト用のモックEmbedderです
type MockEmbedder struct {
	EmbedBatchFunc func(ctx context.Context, texts []string) ([][]float32, error)
	Dim            int
	Model          string
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if m.EmbedBatchFunc != nil {
		return m.EmbedBatchFunc(ctx, texts)
	}
	return ConstantVectors(len(texts), m.Dim, 0.1), nil
}

func (m *MockEmbedder) Dimension() int {
	return m.Dim
}

func (m *MockEmbedder) ModelName() string {
	if m.Model == "" {
		return "mock-embedding"
	}
	return m.Model
}

// MockClient はテスト用のモックLLMクライアントです
type MockClient struct {
	ChatFunc       func(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error)
	ChatStreamFunc func(ctx context.Context, req domain.ChatRequest, onDelta domain.DeltaFunc) (domain.ChatResponse, error)
}

func (m *MockClient) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	return domain.ChatResponse{}, nil
}

func (m *MockClient) ChatStream(ctx context.Context, req domain.ChatRequest, onDelta domain.DeltaFunc) (domain.ChatResponse, error) {
	if m.ChatStreamFunc != nil {
		return m.ChatStreamFunc(ctx, req, onDelta)
	}
	return domain.ChatResponse{}, nil
}

// StreamingReply は content を pieces 個の断片に分けて onDelta に渡すモック応答を返す
func StreamingReply(content string, pieces int) func(ctx context.Context, req domain.ChatRequest, onDelta domain.DeltaFunc) (domain.ChatResponse, error) {
	return func(ctx context.Context, req domain.ChatRequest, onDelta domain.DeltaFunc) (domain.ChatResponse, error) {
		runes := []rune(content)
		if pieces <= 0 {
			pieces = 1
		}
		size := (len(runes) + pieces - 1) / pieces
		if size == 0 {
			size = 1
		}
		for start := 0; start < len(runes); start += size {
			end := min(start+size, len(runes))
			if onDelta != nil {
				onDelta(string(runes[start:end]))
			}
		}
		return domain.ChatResponse{Content: content, Model: "mock-llm"}, nil
	}
}

// ConstantVectors は全要素が value のベクトルを n 件作成する
func ConstantVectors(n, dim int, value float32) [][]float32 {
	vectors := make([][]float32, n)
	for i := range vectors {
		v := make([]float32, dim)
		for j := range v {
			v[j] = value
		}
		vectors[i] = v
	}
	return vectors
}
