package domain

import "github.com/jinford/curriculum-rag/internal/shared/apperr"

var (
	// ErrTemplateNotFound はテンプレートが登録されていない場合のエラー
	ErrTemplateNotFound = apperr.Define(apperr.KindNotFound, "prompt template not found")

	// ErrTemplateVersionNotFound はテンプレートのバージョンが存在しない場合のエラー
	ErrTemplateVersionNotFound = apperr.Define(apperr.KindNotFound, "prompt template version not found")

	// ErrEmptyGeneration はLLMが空の本文を返した場合のエラー
	ErrEmptyGeneration = apperr.Define(apperr.KindTransient, "llm returned empty content")
)
