package domain

import (
	"context"
	"strings"
)

// WebResult はWeb検索の1件（永続化しない）
type WebResult struct {
	Title   string `json:"title" bson:"title"`
	URL     string `json:"url" bson:"url"`
	Snippet string `json:"snippet" bson:"snippet"`
	// Content は本文取得に成功した場合のみ設定される
	Content string `json:"content,omitempty" bson:"content,omitempty"`
}

// Text はプロンプトに使う本文を返す。本文がなければスニペット
func (r WebResult) Text() string {
	if strings.TrimSpace(r.Content) != "" {
		return r.Content
	}
	return r.Snippet
}

// RetrievedChunk はRAG検索の1件（永続化しない）
type RetrievedChunk struct {
	DocumentID    string  `json:"document_id" bson:"document_id"`
	DocumentTitle string  `json:"document_title" bson:"document_title"`
	ChunkIndex    int     `json:"chunk_index" bson:"chunk_index"`
	Content       string  `json:"content" bson:"content"`
	Score         float64 `json:"score" bson:"score"`
}

// Request は検索条件
type Request struct {
	StageID string
	// Query が空の場合、ステージ既定のトピックで検索する
	Query string
	// DefaultTopic はステージ既定のWeb検索トピック
	DefaultTopic string
	SchoolName   string
	Region       string
	UseRAG       bool
	UseWeb       bool
}

// Result は検索結果
type Result struct {
	RAG []RetrievedChunk `json:"rag_results"`
	Web []WebResult      `json:"web_results"`
	// Degraded は失敗して空の結果で代替した経路（"rag" / "web"）
	Degraded []string `json:"degraded,omitempty"`
}

// Count は検索結果の合計件数を返す
func (r Result) Count() int {
	return len(r.RAG) + len(r.Web)
}

// SearchProvider はWeb検索プロバイダ
type SearchProvider interface {
	Search(ctx context.Context, query string, count int, locale string) ([]WebResult, error)
}

// ContentFetcher はURLの本文（markdownまたはテキスト）を取得する
type ContentFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}
