package domain

// EmbeddingDimension はチャンクストアのベクトル次元数
const EmbeddingDimension = 1536

// Chunk はドキュメント本文の断片とそのEmbedding
type Chunk struct {
	DocumentID string
	Index      int
	Content    string
	Embedding  []float32
	Metadata   ChunkMetadata
}

// ChunkMetadata はチャンクに付与するメタデータ（JSONBとして保存される）
type ChunkMetadata struct {
	// StageIDs が nil または空の場合、チャンクは全ステージ共通として扱われる
	StageIDs  []string `json:"stage_ids,omitempty"`
	Filename  string   `json:"filename,omitempty"`
	MimeType  string   `json:"mime_type,omitempty"`
	StartRune int      `json:"start_rune"`
	EndRune   int      `json:"end_rune"`
}

// MatchesStage はステージ絞り込みの条件に一致するかを判定する
func (m ChunkMetadata) MatchesStage(stageID string) bool {
	if stageID == "" || len(m.StageIDs) == 0 {
		return true
	}
	for _, id := range m.StageIDs {
		if id == stageID {
			return true
		}
	}
	return false
}

// TextSegment はチャンク分割の結果
type TextSegment struct {
	Content   string
	StartRune int
	EndRune   int
}

// SearchFilter は類似検索の絞り込み条件
type SearchFilter struct {
	DocumentIDs []string
	StageID     string
}

// SearchResult は類似検索の1件
type SearchResult struct {
	DocumentID string
	ChunkIndex int
	Content    string
	Metadata   ChunkMetadata
	// Score は 1 - コサイン距離
	Score float64
}

// HealthStatus はチャンク件数の整合性チェック結果
type HealthStatus struct {
	DocumentID string
	Expected   int
	Actual     int
	Healthy    bool
}

// NewHealthStatus は期待件数と実件数から HealthStatus を作成する
func NewHealthStatus(documentID string, expected, actual int) HealthStatus {
	return HealthStatus{
		DocumentID: documentID,
		Expected:   expected,
		Actual:     actual,
		Healthy:    expected == actual,
	}
}
