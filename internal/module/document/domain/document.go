package domain

import (
	"strings"
	"time"
)

// Status はドキュメントの処理状態
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusError      Status = "error"
)

// Document はアップロードされたソースファイル
type Document struct {
	ID           string
	Filename     string
	OriginalName string
	MimeType     string
	Size         int64
	StorageKey   string
	Status       Status
	ChunkCount   int
	// StageIDs が空の場合、全ステージから検索対象になる
	StageIDs     []string
	ErrorMessage string
	// Attempts は処理を試行した累計回数
	Attempts int
	// Terminal は再試行しても成功しない失敗（未対応形式など）を示す
	Terminal    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ProcessedAt *time.Time
}

// DisplayTitle は検索結果に表示するタイトルを返す
func (d *Document) DisplayTitle() string {
	if name := strings.TrimSpace(d.OriginalName); name != "" {
		return name
	}
	return d.Filename
}

// CanRetry は maxAttempts の範囲で再試行できるかを判定する
func (d *Document) CanRetry(maxAttempts int) bool {
	return d.Status == StatusError && !d.Terminal && d.Attempts < maxAttempts
}
