package domain

import "context"

// ProjectRepository はプロジェクトの永続化を提供する
type ProjectRepository interface {
	Create(ctx context.Context, p *Project) error
	// FindByID は見つからない場合 ErrProjectNotFound を返す
	FindByID(ctx context.Context, id string) (*Project, error)
	// SaveStage は1ステージ分の状態のみを置き換える
	SaveStage(ctx context.Context, projectID string, stage ID, data *StageData) error
	// UpdateProgress は全体進捗と現在のステージを更新する
	UpdateProgress(ctx context.Context, projectID string, progress int, current ID) error
	// AppendConversation は末尾に追加し、直近 ConversationLimit 件のみ保持する
	AppendConversation(ctx context.Context, projectID, key string, msgs ...Message) error
	Conversation(ctx context.Context, projectID, key string) ([]Message, error)
}

// VersionRepository はステージバージョンの永続化を提供する
type VersionRepository interface {
	// Create は (project, stage) ごとの最大バージョン+1 を採番して保存する
	Create(ctx context.Context, v *StageVersion) error
	FindByID(ctx context.Context, id string) (*StageVersion, error)
	// FindByVersion は見つからない場合 ErrVersionNotFound を返す
	FindByVersion(ctx context.Context, projectID string, stage ID, version int) (*StageVersion, error)
	// List はバージョンの降順で返す
	List(ctx context.Context, projectID string, stage ID) ([]*StageVersion, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}
