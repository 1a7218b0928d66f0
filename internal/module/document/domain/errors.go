package domain

import "github.com/jinford/curriculum-rag/internal/shared/apperr"

var (
	// ErrDocumentNotFound はドキュメントが見つからない場合のエラー
	ErrDocumentNotFound = apperr.Define(apperr.KindNotFound, "document not found")

	// ErrUnsupportedContent は抽出できない形式のファイル（再試行しない）
	ErrUnsupportedContent = apperr.Define(apperr.KindValidation, "unsupported document content")

	// ErrEmptyContent は本文が抽出できなかったファイル（再試行しない）
	ErrEmptyContent = apperr.Define(apperr.KindValidation, "document has no extractable text")

	// ErrAlreadyProcessing は同じドキュメントが処理中の場合のエラー
	ErrAlreadyProcessing = apperr.Define(apperr.KindConflict, "document is already being processed")

	// ErrStoreUnavailable はチャンクストアに接続できない場合のエラー
	ErrStoreUnavailable = apperr.Define(apperr.KindTransient, "chunk store unavailable")
)

// Blob store のエラーは以下の4種類に正規化される
var (
	ErrBlobExists     = apperr.Define(apperr.KindConflict, "blob already exists")
	ErrBlobForbidden  = apperr.Define(apperr.KindValidation, "blob access forbidden")
	ErrBlobNotFound   = apperr.Define(apperr.KindNotFound, "blob not found")
	ErrBlobConnection = apperr.Define(apperr.KindTransient, "blob store connection error")
)

// ErrEmbeddingCountMismatch はEmbedding件数がチャンク数と一致しない場合のエラー
var ErrEmbeddingCountMismatch = apperr.Define(apperr.KindDataIntegrity, "embedding count does not match chunk count")

// IsTerminal は再処理しても解決しない失敗かを判定する
func IsTerminal(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindNotFound:
		return true
	default:
		return false
	}
}
