package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jinford/curriculum-rag/internal/module/stage/domain"
	"github.com/jinford/curriculum-rag/internal/shared/apperr"
)

// CreateProjectParams はプロジェクト作成のパラメータ
type CreateProjectParams struct {
	Name       string
	TenantID   string
	SchoolName string
	Region     string
}

// SaveOutputParams はステージ出力保存のパラメータ
type SaveOutputParams struct {
	ProjectID string
	Stage     string
	Output    domain.Payload
	// Score が nil の場合、既存のスコアを保持する
	Score         *domain.DiagnosticScore
	Author        domain.Author
	IsAIGenerated bool
	Metadata      *domain.GenerationMetadata
	ChangeNote    string
}

// SaveOutputResult はステージ出力保存の結果
type SaveOutputResult struct {
	Stage *domain.StageData
	// Version は本文が変わった場合のみ作成される
	Version *domain.StageVersion
}

// StageContext は後続ステージの生成に渡す前段ステージの出力
type StageContext struct {
	Stage  domain.ID
	Title  string
	Status domain.Status
	Output domain.Payload
}

// StageService はプロジェクトごとのステージ状態を管理します
//
// 状態遷移: not_started → in_progress（入力の保存）→ completed（完了の明示）
type StageService struct {
	projects domain.ProjectRepository
	versions *VersionManager
	now      func() time.Time
	logger   *slog.Logger
}

// StageServiceOption は StageService のオプション
type StageServiceOption func(*StageService)

// WithStageLogger はロガーを差し替える
func WithStageLogger(logger *slog.Logger) StageServiceOption {
	return func(s *StageService) { s.logger = logger }
}

// WithStageClock は現在時刻の取得関数を差し替える
func WithStageClock(now func() time.Time) StageServiceOption {
	return func(s *StageService) { s.now = now }
}

// NewStageService は新しいStageServiceを作成します
func NewStageService(projects domain.ProjectRepository, versions *VersionManager, opts ...StageServiceOption) *StageService {
	s := &StageService{projects: projects, versions: versions, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// CreateProject は最初のステージを未着手で用意したプロジェクトを作成します
func (s *StageService) CreateProject(ctx context.Context, params CreateProjectParams) (*domain.Project, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, apperr.Wrap(domain.ErrMissingRequiredField, "create project", errors.New("name"))
	}

	now := s.now().UTC()
	first := domain.First()
	p := &domain.Project{
		Name:            name,
		TenantID:        params.TenantID,
		SchoolName:      strings.TrimSpace(params.SchoolName),
		Region:          strings.TrimSpace(params.Region),
		ConfigVersion:   1,
		CurrentStage:    first,
		OverallProgress: 0,
		Stages:          map[domain.ID]*domain.StageData{first: domain.NewStageData()},
		Conversations:   map[string][]domain.Message{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.projects.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	s.logger.Info("プロジェクトを作成しました", "projectID", p.ID, "name", p.Name)
	return p, nil
}

// GetProject はプロジェクトを返します
func (s *StageService) GetProject(ctx context.Context, projectID string) (*domain.Project, error) {
	return s.projects.FindByID(ctx, projectID)
}

// SaveStageInput はステージの入力を保存し、未着手なら作業中にします
//
// 必須フィールドはここでは検証しません（生成時に検証）。
func (s *StageService) SaveStageInput(ctx context.Context, projectID, stage string, input domain.Payload) (*domain.StageData, error) {
	id, err := domain.ParseID(stage)
	if err != nil {
		return nil, err
	}

	p, err := s.projects.FindByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	data := p.Stage(id)
	data.Input = input.Clone()
	if data.Status == domain.StatusNotStarted || data.Status == "" {
		data.Status = domain.StatusInProgress
		s.logger.Info("ステージを開始しました", "projectID", projectID, "stage", id)
	}
	data.UpdatedAt = s.now().UTC()

	if err := s.projects.SaveStage(ctx, projectID, id, data); err != nil {
		return nil, fmt.Errorf("failed to save stage input: %w", err)
	}
	return data, nil
}

// SaveStageOutput はステージの出力を既存の出力にマージして保存します
//
// 状態は変更しません。本文（前後の空白を除いた report）が変わった場合のみ新しいバージョンを作成します。
func (s *StageService) SaveStageOutput(ctx context.Context, params SaveOutputParams) (*SaveOutputResult, error) {
	id, err := domain.ParseID(params.Stage)
	if err != nil {
		return nil, err
	}

	p, err := s.projects.FindByID(ctx, params.ProjectID)
	if err != nil {
		return nil, err
	}

	data := p.Stage(id)
	previous := data.Output.Report()
	data.Output = data.Output.Merge(params.Output)
	if params.Score != nil {
		data.Score = params.Score
	}
	data.UpdatedAt = s.now().UTC()

	var version *domain.StageVersion
	if report := data.Output.Report(); report != "" && report != previous {
		version, err = s.versions.Create(ctx, CreateVersionParams{
			ProjectID:     params.ProjectID,
			Stage:         id,
			Content:       data.Output,
			Author:        params.Author,
			IsAIGenerated: params.IsAIGenerated,
			Metadata:      params.Metadata,
			ChangeNote:    params.ChangeNote,
		})
		if err != nil {
			return nil, err
		}
		data.CurrentVersionID = version.ID
	}

	if err := s.projects.SaveStage(ctx, params.ProjectID, id, data); err != nil {
		if version != nil {
			// 出力が保存できなかったバージョンは履歴に残さない
			if delErr := s.versions.discard(context.WithoutCancel(ctx), version); delErr != nil {
				s.logger.Warn("保存に失敗したバージョンの取り消しに失敗しました",
					"projectID", params.ProjectID,
					"stage", id,
					"versionID", version.ID,
					"error", delErr,
				)
			} else {
				s.logger.Warn("出力の保存に失敗したためバージョンを取り消しました",
					"projectID", params.ProjectID,
					"stage", id,
					"version", version.Version,
				)
			}
		}
		return nil, fmt.Errorf("failed to save stage output: %w", err)
	}

	return &SaveOutputResult{Stage: data, Version: version}, nil
}

// CompleteStage はステージを完了にし、全体進捗を再計算します
//
// 次のステージがあれば現在のステージを進め、未作成なら未着手で用意します。
func (s *StageService) CompleteStage(ctx context.Context, projectID, stage string) (*domain.Project, error) {
	id, err := domain.ParseID(stage)
	if err != nil {
		return nil, err
	}

	p, err := s.projects.FindByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	data := p.Stage(id)
	if !data.HasOutput() {
		return nil, apperr.Wrap(domain.ErrEmptyOutput, "complete stage", fmt.Errorf("%s", id))
	}

	now := s.now().UTC()
	data.Status = domain.StatusCompleted
	data.CompletedAt = &now
	data.UpdatedAt = now
	if err := s.projects.SaveStage(ctx, projectID, id, data); err != nil {
		return nil, fmt.Errorf("failed to complete stage: %w", err)
	}
	p.Stages[id] = data

	var current domain.ID
	if next, ok := domain.Next(id); ok {
		if _, exists := p.Stages[next]; !exists {
			seeded := domain.NewStageData()
			if err := s.projects.SaveStage(ctx, projectID, next, seeded); err != nil {
				return nil, fmt.Errorf("failed to seed next stage: %w", err)
			}
			p.Stages[next] = seeded
		}
		if isAfter(next, p.CurrentStage) {
			current = next
		}
	}

	progress, err := refreshProgress(ctx, s.projects, p, current)
	if err != nil {
		return nil, err
	}

	s.logger.Info("ステージを完了しました",
		"projectID", projectID,
		"stage", id,
		"progress", progress,
		"currentStage", p.CurrentStage,
	)
	return p, nil
}

// isAfter は a が b より後のステージかを返す。b が未設定なら true
func isAfter(a, b domain.ID) bool {
	da, ok := domain.Lookup(a)
	if !ok {
		return false
	}
	db, ok := domain.Lookup(b)
	if !ok {
		return true
	}
	return da.Order > db.Order
}

// UpdateProgress は全体進捗をステージの状態から再計算します
func (s *StageService) UpdateProgress(ctx context.Context, projectID string) (int, error) {
	p, err := s.projects.FindByID(ctx, projectID)
	if err != nil {
		return 0, err
	}
	return refreshProgress(ctx, s.projects, p, "")
}

// GetPreviousStagesContext は指定ステージより前のステージの出力を順に返します
// 出力のないステージは含みません
func (s *StageService) GetPreviousStagesContext(ctx context.Context, projectID, stage string) ([]StageContext, error) {
	id, err := domain.ParseID(stage)
	if err != nil {
		return nil, err
	}

	p, err := s.projects.FindByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var contexts []StageContext
	for _, prev := range domain.Before(id) {
		data, ok := p.Stages[prev]
		if !ok || !data.HasOutput() {
			continue
		}
		def, _ := domain.Lookup(prev)
		contexts = append(contexts, StageContext{
			Stage:  prev,
			Title:  def.Title,
			Status: data.Status,
			Output: data.Output.Clone(),
		})
	}
	return contexts, nil
}

// AppendConversation は会話セッションにメッセージを追加します（直近10件を保持）
func (s *StageService) AppendConversation(ctx context.Context, projectID, key string, msgs ...domain.Message) error {
	if key == "" || len(msgs) == 0 {
		return nil
	}
	now := s.now().UTC()
	for i := range msgs {
		if msgs[i].At.IsZero() {
			msgs[i].At = now
		}
	}
	return s.projects.AppendConversation(ctx, projectID, key, msgs...)
}

// Conversation は会話セッションの履歴を返します
func (s *StageService) Conversation(ctx context.Context, projectID, key string) ([]domain.Message, error) {
	if key == "" {
		return nil, nil
	}
	return s.projects.Conversation(ctx, projectID, key)
}
