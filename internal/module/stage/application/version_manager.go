package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jinford/curriculum-rag/internal/module/stage/domain"
	"github.com/jinford/curriculum-rag/internal/shared/apperr"
)

// CreateVersionParams はバージョン作成のパラメータ
type CreateVersionParams struct {
	ProjectID     string
	Stage         domain.ID
	Content       domain.Payload
	Author        domain.Author
	IsAIGenerated bool
	Metadata      *domain.GenerationMetadata
	ChangeNote    string
}

// CleanupResult はバージョン整理の結果
type CleanupResult struct {
	Deleted int64
	Kept    int
}

// VersionManager はステージ出力のバージョン履歴を管理します
//
// バージョン番号は (project, stage) ごとに1から単調増加し、削除しても振り直さない。
type VersionManager struct {
	versions domain.VersionRepository
	projects domain.ProjectRepository
	now      func() time.Time
	logger   *slog.Logger
}

// VersionManagerOption は VersionManager のオプション
type VersionManagerOption func(*VersionManager)

// WithVersionLogger はロガーを差し替える
func WithVersionLogger(logger *slog.Logger) VersionManagerOption {
	return func(m *VersionManager) { m.logger = logger }
}

// WithVersionClock は現在時刻の取得関数を差し替える
func WithVersionClock(now func() time.Time) VersionManagerOption {
	return func(m *VersionManager) { m.now = now }
}

// NewVersionManager は新しいVersionManagerを作成します
func NewVersionManager(versions domain.VersionRepository, projects domain.ProjectRepository, opts ...VersionManagerOption) *VersionManager {
	m := &VersionManager{versions: versions, projects: projects, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// Create は新しいバージョンを追加します
func (m *VersionManager) Create(ctx context.Context, params CreateVersionParams) (*domain.StageVersion, error) {
	if _, ok := domain.Lookup(params.Stage); !ok {
		return nil, apperr.Wrap(domain.ErrInvalidStage, "create version", fmt.Errorf("%q", params.Stage))
	}

	v := &domain.StageVersion{
		ProjectID:     params.ProjectID,
		Stage:         params.Stage,
		Content:       params.Content.Clone(),
		Author:        params.Author,
		IsAIGenerated: params.IsAIGenerated,
		Metadata:      params.Metadata,
		ChangeNote:    params.ChangeNote,
		CreatedAt:     m.now().UTC(),
	}
	if err := m.versions.Create(ctx, v); err != nil {
		return nil, fmt.Errorf("failed to create stage version: %w", err)
	}

	m.logger.Info("ステージのバージョンを作成しました",
		"projectID", v.ProjectID,
		"stage", v.Stage,
		"version", v.Version,
		"ai", v.IsAIGenerated,
	)
	return v, nil
}

// Rollback はステージの出力を過去のバージョンの内容で置き換えます
//
// バージョン履歴は変更せず、新しいバージョンも作成しません。
func (m *VersionManager) Rollback(ctx context.Context, projectID, stage string, version int) (*domain.StageData, error) {
	id, err := domain.ParseID(stage)
	if err != nil {
		return nil, err
	}

	v, err := m.versions.FindByVersion(ctx, projectID, id, version)
	if err != nil {
		return nil, err
	}

	p, err := m.projects.FindByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	data := p.Stage(id)
	data.Output = v.Content.Clone()
	data.Status = domain.StatusCompleted
	if data.CompletedAt == nil {
		data.CompletedAt = &now
	}
	data.CurrentVersionID = v.ID
	data.UpdatedAt = now

	if err := m.projects.SaveStage(ctx, projectID, id, data); err != nil {
		return nil, fmt.Errorf("failed to save rolled back stage: %w", err)
	}

	p.Stages[id] = data
	if _, err := refreshProgress(ctx, m.projects, p, ""); err != nil {
		return nil, err
	}

	m.logger.Info("ステージをロールバックしました", "projectID", projectID, "stage", id, "version", version)
	return data, nil
}

// List はバージョンを新しい順に返します
func (m *VersionManager) List(ctx context.Context, projectID, stage string) ([]*domain.StageVersion, error) {
	id, err := domain.ParseID(stage)
	if err != nil {
		return nil, err
	}
	return m.versions.List(ctx, projectID, id)
}

// Cleanup は新しい keep 件を残して古いバージョンを削除します
//
// 現在のバージョンは keep の範囲外でも削除しません。
func (m *VersionManager) Cleanup(ctx context.Context, projectID, stage string, keep int) (CleanupResult, error) {
	if keep < 1 {
		return CleanupResult{}, apperr.New(apperr.KindValidation, "cleanup versions", fmt.Errorf("keep must be at least 1: %d", keep))
	}

	id, err := domain.ParseID(stage)
	if err != nil {
		return CleanupResult{}, err
	}

	current, err := m.currentVersionID(ctx, projectID, id)
	if err != nil {
		return CleanupResult{}, err
	}

	versions, err := m.versions.List(ctx, projectID, id)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("failed to list versions: %w", err)
	}
	if len(versions) <= keep {
		return CleanupResult{Kept: len(versions)}, nil
	}

	var ids []string
	for _, v := range versions[keep:] {
		if v.ID == current {
			continue
		}
		ids = append(ids, v.ID)
	}

	deleted, err := m.versions.DeleteByIDs(ctx, ids)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("failed to delete versions: %w", err)
	}

	m.logger.Info("古いバージョンを削除しました", "projectID", projectID, "stage", id, "deleted", deleted)
	return CleanupResult{Deleted: deleted, Kept: len(versions) - int(deleted)}, nil
}

// Delete は1つのバージョンを削除します
// 現在のバージョンは削除できません（ErrVersionInUse）
func (m *VersionManager) Delete(ctx context.Context, projectID, stage string, version int) error {
	id, err := domain.ParseID(stage)
	if err != nil {
		return err
	}

	v, err := m.versions.FindByVersion(ctx, projectID, id, version)
	if err != nil {
		return err
	}

	current, err := m.currentVersionID(ctx, projectID, id)
	if err != nil {
		return err
	}
	if v.ID == current {
		return apperr.Wrap(domain.ErrVersionInUse, "delete version", fmt.Errorf("%s v%d", id, version))
	}

	if _, err := m.versions.DeleteByIDs(ctx, []string{v.ID}); err != nil {
		return fmt.Errorf("failed to delete version: %w", err)
	}
	return nil
}

// discard は直前に作成したバージョンを取り消す
func (m *VersionManager) discard(ctx context.Context, v *domain.StageVersion) error {
	_, err := m.versions.DeleteByIDs(ctx, []string{v.ID})
	return err
}

func (m *VersionManager) currentVersionID(ctx context.Context, projectID string, id domain.ID) (string, error) {
	p, err := m.projects.FindByID(ctx, projectID)
	if err != nil {
		return "", err
	}
	return p.Stage(id).CurrentVersionID, nil
}

// refreshProgress はステージの状態から全体進捗を再計算して保存する
func refreshProgress(ctx context.Context, projects domain.ProjectRepository, p *domain.Project, current domain.ID) (int, error) {
	progress := domain.CalculateProgress(p.Stages)
	if err := projects.UpdateProgress(ctx, p.ID, progress, current); err != nil {
		return 0, fmt.Errorf("failed to update progress: %w", err)
	}
	p.OverallProgress = progress
	if current != "" {
		p.CurrentStage = current
	}
	return progress, nil
}
