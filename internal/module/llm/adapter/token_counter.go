package adapter

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/jinford/curriculum-rag/internal/module/llm/domain"
)

// TokenCounter はトークン数をカウントする機能を提供する
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTokenCounter は新しいTokenCounterを作成する
// cl100k_baseエンコーディングを使用する
func NewTokenCounter() (*TokenCounter, error) {
	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
	}

	return &TokenCounter{
		encoding: encoding,
	}, nil
}

// CountTokens はテキストのトークン数をカウントする
// エンコーディングが使えない場合は推定値を返す
func (tc *TokenCounter) CountTokens(text string) int {
	if tc == nil || tc.encoding == nil {
		return EstimateTokens(text)
	}
	tokens := tc.encoding.Encode(text, nil, nil)
	return len(tokens)
}

// EstimateTokens はテキストの推定トークン数を返す
// 正確にカウントせず、大まかな推定値を返す（文字数を基準）
func EstimateTokens(text string) int {
	// ここでは平均的な値として3文字で1トークンとする
	n := len([]rune(text))
	if n == 0 {
		return 0
	}
	return max(n/3, 1)
}

// EstimatingCounter はエンコーディングを読み込めない環境向けの推定カウンタ
type EstimatingCounter struct{}

// CountTokens は推定トークン数を返す
func (EstimatingCounter) CountTokens(text string) int {
	return EstimateTokens(text)
}

var (
	_ domain.TokenCounter = (*TokenCounter)(nil)
	_ domain.TokenCounter = EstimatingCounter{}
)
