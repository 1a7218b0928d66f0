package domain

import (
	"time"

	retrieval "github.com/jinford/curriculum-rag/internal/module/retrieval/domain"
)

// Author はバージョンの作成者
type Author struct {
	UserID string
	Name   string
}

// TokenUsage はLLMのトークン使用量
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	// Estimated はプロバイダが使用量を返さず推定した場合 true
	Estimated bool
}

// GenerationMetadata はAI生成時の記録
type GenerationMetadata struct {
	Prompt          string
	TemplateKey     string
	TemplateVersion int
	Variant         int
	Model           string
	RAGResults      []retrieval.RetrievedChunk
	WebResults      []retrieval.WebResult
	Usage           TokenUsage
	Suggestions     []string
}

// StageVersion はステージ出力の不変なスナップショット
type StageVersion struct {
	ID            string
	ProjectID     string
	Stage         ID
	Version       int
	Content       Payload
	Author        Author
	IsAIGenerated bool
	Metadata      *GenerationMetadata
	ChangeNote    string
	CreatedAt     time.Time
}
