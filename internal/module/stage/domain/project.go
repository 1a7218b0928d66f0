package domain

import (
	"math"
	"time"
)

// Status はステージの状態
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// ConversationLimit は会話セッションに保持するメッセージ数
const ConversationLimit = 10

// DiagnosticScore はステージ固有の診断スコア
type DiagnosticScore struct {
	Overall    float64            `json:"overall"`
	Dimensions map[string]float64 `json:"dimensions,omitempty"`
}

// StageData はプロジェクト内の1ステージの状態
type StageData struct {
	Status           Status
	Input            Payload
	Output           Payload
	CurrentVersionID string
	CompletedAt      *time.Time
	Score            *DiagnosticScore
	UpdatedAt        time.Time
}

// NewStageData は未着手のステージを作成する
func NewStageData() *StageData {
	return &StageData{Status: StatusNotStarted, Input: Payload{}, Output: Payload{}}
}

// HasOutput は出力に本文があるかを返す
func (s *StageData) HasOutput() bool {
	return s != nil && s.Output.Report() != ""
}

// Message は会話セッションの1メッセージ
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Project はカリキュラム設計のワークスペース
type Project struct {
	ID              string
	Name            string
	TenantID        string
	SchoolName      string
	Region          string
	ConfigVersion   int
	CurrentStage    ID
	OverallProgress int
	Stages          map[ID]*StageData
	Conversations   map[string][]Message
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Stage はステージの状態を返す。未作成の場合は未着手の状態を返す
func (p *Project) Stage(id ID) *StageData {
	if s, ok := p.Stages[id]; ok && s != nil {
		return s
	}
	return NewStageData()
}

// CalculateProgress は完了ステージ数から全体進捗（0..100）を計算する
func CalculateProgress(stages map[ID]*StageData) int {
	completed := 0
	for id, s := range stages {
		if _, ok := Lookup(id); !ok || s == nil {
			continue
		}
		if s.Status == StatusCompleted {
			completed++
		}
	}
	return int(math.Round(100 * float64(completed) / StageCount))
}
