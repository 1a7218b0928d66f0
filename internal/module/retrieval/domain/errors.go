package domain

import "github.com/jinford/curriculum-rag/internal/shared/apperr"

var (
	// ErrSchoolNameRequired はWeb検索に必要な学校名が未入力の場合のエラー
	ErrSchoolNameRequired = apperr.Define(apperr.KindValidation, "school name is required for web search")

	// ErrWebTimeout はWeb検索・本文取得のタイムアウト
	ErrWebTimeout = apperr.Define(apperr.KindTimeout, "web provider timed out")

	// ErrWebUnavailable はWeb検索・本文取得プロバイダの障害
	ErrWebUnavailable = apperr.Define(apperr.KindTransient, "web provider unavailable")

	// ErrWebMalformed はプロバイダの応答が解釈できない場合のエラー
	ErrWebMalformed = apperr.Define(apperr.KindDataIntegrity, "malformed web provider response")

	// ErrWebNotConfigured はAPIキーなどが未設定の場合のエラー
	ErrWebNotConfigured = apperr.Define(apperr.KindValidation, "web provider is not configured")
)
