// Package extractor はアップロードされたファイルからプレーンテキストを抽出する
package extractor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jinford/curriculum-rag/internal/module/document/domain"
	"github.com/jinford/curriculum-rag/internal/shared/apperr"
)

// Format は抽出器の種類
type Format string

const (
	FormatPDF      Format = "pdf"
	FormatDOCX     Format = "docx"
	FormatXLSX     Format = "xlsx"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatText     Format = "text"
)

// ExtractFunc は1形式分の抽出処理
type ExtractFunc func(data []byte) (string, error)

// Registry はMIMEタイプと拡張子から抽出処理を選択する
type Registry struct {
	byFormat map[Format]ExtractFunc
}

// NewRegistry は標準の抽出処理を登録した Registry を作成する
func NewRegistry() *Registry {
	return &Registry{
		byFormat: map[Format]ExtractFunc{
			FormatPDF:      extractPDF,
			FormatDOCX:     extractDOCX,
			FormatXLSX:     extractXLSX,
			FormatMarkdown: extractMarkdown,
			FormatHTML:     extractHTML,
			FormatText:     extractText,
		},
	}
}

// Register は抽出処理を追加・差し替える
func (r *Registry) Register(format Format, fn ExtractFunc) {
	r.byFormat[format] = fn
}

var mimeFormats = map[string]Format{
	"application/pdf": FormatPDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": FormatDOCX,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       FormatXLSX,
	"text/markdown":   FormatMarkdown,
	"text/x-markdown": FormatMarkdown,
	"text/html":       FormatHTML,
	"text/plain":      FormatText,
}

var extFormats = map[string]Format{
	".pdf":      FormatPDF,
	".docx":     FormatDOCX,
	".xlsx":     FormatXLSX,
	".md":       FormatMarkdown,
	".markdown": FormatMarkdown,
	".html":     FormatHTML,
	".htm":      FormatHTML,
	".txt":      FormatText,
	".csv":      FormatText,
}

// DetectFormat はMIMEタイプ、次に拡張子から形式を判定する
func DetectFormat(mimeType, filename string) (Format, bool) {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if f, ok := mimeFormats[mt]; ok {
		return f, true
	}
	if f, ok := extFormats[strings.ToLower(filepath.Ext(filename))]; ok {
		return f, true
	}
	return "", false
}

// Extract はドキュメントの形式に応じてテキストを抽出する
//
// 未対応の形式や壊れたファイルは ErrUnsupportedContent として返し、再試行の対象外とする。
func (r *Registry) Extract(ctx context.Context, doc *domain.Document, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := doc.OriginalName
	if name == "" {
		name = doc.Filename
	}

	format, ok := DetectFormat(doc.MimeType, name)
	if !ok {
		return "", apperr.Wrap(domain.ErrUnsupportedContent, "extract",
			fmt.Errorf("mime type %q / file %q", doc.MimeType, name))
	}
	fn, ok := r.byFormat[format]
	if !ok {
		return "", apperr.Wrap(domain.ErrUnsupportedContent, "extract", fmt.Errorf("no extractor for %s", format))
	}

	text, err := fn(data)
	if err != nil {
		return "", apperr.Wrap(domain.ErrUnsupportedContent, "extract "+string(format), err)
	}
	if strings.TrimSpace(text) == "" {
		return "", apperr.Wrap(domain.ErrEmptyContent, "extract "+string(format), nil)
	}
	return text, nil
}

var _ domain.Extractor = (*Registry)(nil)
