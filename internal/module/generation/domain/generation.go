package domain

import (
	retrieval "github.com/jinford/curriculum-rag/internal/module/retrieval/domain"
	stage "github.com/jinford/curriculum-rag/internal/module/stage/domain"
)

// Phase は1回の生成の進行段階
//
// PENDING → (スロット取得) → STREAMING|AWAITING → VALIDATING → PERSISTING → DONE
// いずれの待機点でも FAILED に遷移しうる。FAILED では出力を保存しない。
type Phase string

const (
	PhasePending    Phase = "pending"
	PhaseStreaming  Phase = "streaming"
	PhaseAwaiting   Phase = "awaiting"
	PhaseValidating Phase = "validating"
	PhasePersisting Phase = "persisting"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

// Request は1ステージの生成リクエスト
type Request struct {
	ProjectID string
	Stage     string
	// Input が nil の場合、保存済みの入力を使う
	Input stage.Payload
	// Query はRAG/Web検索の明示的なクエリ。空ならステージ既定のトピック
	Query            string
	UseRAG           bool
	UseWeb           bool
	IncludeCitations bool
	// SessionKey が設定されている場合、会話履歴を読み込み、今回のやり取りを追記する
	SessionKey string
	Author     stage.Author
}

// Result は生成結果
type Result struct {
	ProjectID  string
	Stage      stage.ID
	Report     string
	Output     stage.Payload
	Score      stage.DiagnosticScore
	Validation ValidationResult
	RAGResults []retrieval.RetrievedChunk
	WebResults []retrieval.WebResult
	// Degraded は失敗して空の結果で代替した検索経路
	Degraded []string
	Usage    stage.TokenUsage
	Model    string
	Prompt   string
	// Version は新しく作成されたバージョン番号（本文が変わらなかった場合は 0）
	Version int
	// Completed はステージを完了にできたか。false でも出力とバージョンは保存済み
	Completed bool
}

// EventType はストリームイベントの種類
type EventType string

const (
	EventPhase EventType = "phase"
	EventDelta EventType = "delta"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// Event はストリーミング生成で配信するイベント
type Event struct {
	Type   EventType
	Phase  Phase
	Delta  string
	Result *Result
	Err    error
}
