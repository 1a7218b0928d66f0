package domain

import (
	"errors"

	"github.com/jinford/curriculum-rag/internal/shared/apperr"
)

var (
	// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
	ErrAPIKeyNotSet = errors.New("API key not set")

	// ErrRateLimitExceeded はレート制限を超えた場合のエラー
	ErrRateLimitExceeded = apperr.Define(apperr.KindTransient, "rate limit exceeded")

	// ErrProviderUnavailable はプロバイダとの通信に失敗した場合のエラー
	ErrProviderUnavailable = apperr.Define(apperr.KindTransient, "provider unavailable")

	// ErrLLMTimeout はLLM呼び出しが制限時間内に終わらなかった場合のエラー
	ErrLLMTimeout = apperr.Define(apperr.KindTimeout, "llm request timed out")

	// ErrIdleTimeout はストリーミング中にトークンが途絶えた場合のエラー
	ErrIdleTimeout = apperr.Define(apperr.KindTimeout, "llm stream idle timeout")

	// ErrEmbeddingTimeout はEmbedding呼び出しのタイムアウト
	ErrEmbeddingTimeout = apperr.Define(apperr.KindTimeout, "embedding request timed out")

	// ErrMalformedResponse はプロバイダ応答が解釈できない場合のエラー
	ErrMalformedResponse = apperr.Define(apperr.KindDataIntegrity, "malformed provider response")

	// ErrCountMismatch はEmbedding件数が入力件数と一致しない場合のエラー
	ErrCountMismatch = apperr.Define(apperr.KindDataIntegrity, "embedding count mismatch")

	// ErrDimensionMismatch はベクトル次元数が設定と一致しない場合のエラー
	ErrDimensionMismatch = apperr.Define(apperr.KindDataIntegrity, "embedding dimension mismatch")

	// ErrEmptyCompletion はLLMが選択肢を返さなかった場合のエラー
	ErrEmptyCompletion = apperr.Define(apperr.KindTransient, "no completion choices returned")
)
