package domain

import "github.com/jinford/curriculum-rag/internal/shared/apperr"

var (
	// ErrInvalidStage はQ1..Q10以外のステージIDが指定された場合のエラー
	ErrInvalidStage = apperr.Define(apperr.KindValidation, "invalid stage")

	// ErrMissingRequiredField は生成に必要な入力が不足している場合のエラー
	ErrMissingRequiredField = apperr.Define(apperr.KindValidation, "missing required field")

	// ErrEmptyOutput は出力のないステージを完了しようとした場合のエラー
	ErrEmptyOutput = apperr.Define(apperr.KindValidation, "stage output is empty")

	// ErrProjectNotFound はプロジェクトが見つからない場合のエラー
	ErrProjectNotFound = apperr.Define(apperr.KindNotFound, "project not found")

	// ErrVersionNotFound はバージョンが見つからない場合のエラー
	ErrVersionNotFound = apperr.Define(apperr.KindNotFound, "stage version not found")

	// ErrVersionInUse は現在のバージョンを削除しようとした場合のエラー
	ErrVersionInUse = apperr.Define(apperr.KindConflict, "stage version is the current version")

	// ErrVersionConflict はバージョン番号の採番が競合し続けた場合のエラー
	ErrVersionConflict = apperr.Define(apperr.KindTransient, "stage version number conflict")
)
