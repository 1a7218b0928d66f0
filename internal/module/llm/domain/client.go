package domain

import "context"

// Role はチャットメッセージの話者
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message はチャットの1メッセージ
type Message struct {
	Role    Role   `json:"role" bson:"role"`
	Content string `json:"content" bson:"content"`
}

// ChatRequest はLLM呼び出しのリクエスト
type ChatRequest struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
	Model       string // 空の場合はクライアントのデフォルト
}

// Usage はトークン使用量
type Usage struct {
	PromptTokens     int  `json:"promptTokens" bson:"prompt_tokens"`
	CompletionTokens int  `json:"completionTokens" bson:"completion_tokens"`
	TotalTokens      int  `json:"totalTokens" bson:"total_tokens"`
	Estimated        bool `json:"estimated,omitempty" bson:"estimated,omitempty"`
}

// IsZero は使用量が報告されていないかを判定する
func (u Usage) IsZero() bool {
	return u.TotalTokens == 0 && u.PromptTokens == 0 && u.CompletionTokens == 0
}

// ChatResponse はLLM呼び出しの結果
type ChatResponse struct {
	Content string
	Usage   Usage
	Model   string
}

// DeltaFunc はストリーミング時に受信したテキスト断片を受け取るコールバック
type DeltaFunc func(delta string)

// Client はチャットLLMのインターフェース
type Client interface {
	// Chat は完了したテキストを一括で返す
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)

	// ChatStream は受信した断片を onDelta に渡しつつ、全文を蓄積して返す
	// 無通信タイムアウトはトークン受信ごとにリセットされる
	ChatStream(ctx context.Context, req ChatRequest, onDelta DeltaFunc) (ChatResponse, error)
}

// TokenCounter はテキストのトークン数を数える
type TokenCounter interface {
	CountTokens(text string) int
}
