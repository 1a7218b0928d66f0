package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/jinford/curriculum-rag/internal/module/document/domain"
	"github.com/jinford/curriculum-rag/internal/shared/apperr"
)

// ErrInvalidStageTag はステージIDとして認められないタグ
var ErrInvalidStageTag = apperr.Define(apperr.KindValidation, "invalid stage id")

// 削除処理のステップ名
const (
	StepChunks   = "chunks"
	StepBlob     = "blob"
	StepRegistry = "registry"
)

// StepResult は削除処理の1ステップの結果
type StepResult struct {
	Step  string
	OK    bool
	Error string
	// Deleted はチャンク削除の件数（chunks ステップのみ）
	Deleted int64
}

// DeleteResult はドキュメント削除の結果
//
// 台帳の削除が成功していれば、他のステップが失敗しても Partial=true で成功扱いとする。
type DeleteResult struct {
	DocumentID string
	Partial    bool
	Steps      []StepResult
}

// HealthReport は台帳とチャンクストアの整合性チェック結果
type HealthReport struct {
	Checked    int
	Mismatched []domain.HealthStatus
	Orphans    []string
	Repaired   int
}

// Healthy は不整合がないかを返す
func (r HealthReport) Healthy() bool {
	return len(r.Mismatched) == 0 && len(r.Orphans) == 0
}

// DocumentService はドキュメントの削除、タグ付け、整合性チェックを提供します
type DocumentService struct {
	registry domain.Registry
	blobs    domain.BlobStore
	store    domain.VectorStore
	validTag func(string) bool
	logger   *slog.Logger
}

// DocumentServiceOption は DocumentService のオプション
type DocumentServiceOption func(*DocumentService)

// WithStageValidator はステージIDの検証関数を指定する
func WithStageValidator(fn func(stageID string) bool) DocumentServiceOption {
	return func(s *DocumentService) { s.validTag = fn }
}

// WithDocumentServiceLogger はロガーを差し替える
func WithDocumentServiceLogger(logger *slog.Logger) DocumentServiceOption {
	return func(s *DocumentService) { s.logger = logger }
}

// NewDocumentService は新しいDocumentServiceを作成します
func NewDocumentService(registry domain.Registry, blobs domain.BlobStore, store domain.VectorStore, opts ...DocumentServiceOption) *DocumentService {
	s := &DocumentService{
		registry: registry,
		blobs:    blobs,
		store:    store,
		validTag: func(string) bool { return true },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// RegisterParams はドキュメント登録のパラメータ
type RegisterParams struct {
	OriginalName string
	MimeType     string
	Data         []byte
	StageIDs     []string
}

// Register はファイル本体をBlobに保存し、pending 状態で台帳に登録します
//
// 台帳への登録に失敗した場合は保存したBlobを削除します。
func (s *DocumentService) Register(ctx context.Context, params RegisterParams) (*domain.Document, error) {
	if strings.TrimSpace(params.OriginalName) == "" {
		return nil, apperr.New(apperr.KindValidation, "register document", errors.New("file name is required"))
	}
	stageIDs, err := s.normalizeTags(params.StageIDs)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	filename := id + strings.ToLower(filepath.Ext(params.OriginalName))
	doc := &domain.Document{
		ID:           id,
		Filename:     filename,
		OriginalName: params.OriginalName,
		MimeType:     params.MimeType,
		Size:         int64(len(params.Data)),
		StorageKey:   "uploads/" + filename,
		Status:       domain.StatusPending,
		StageIDs:     stageIDs,
	}

	if err := s.blobs.Put(ctx, doc.StorageKey, params.Data); err != nil {
		return nil, fmt.Errorf("failed to store document blob: %w", err)
	}
	if err := s.registry.Create(ctx, doc); err != nil {
		if delErr := s.blobs.Delete(ctx, doc.StorageKey); delErr != nil {
			s.logger.Warn("登録に失敗したドキュメントのBlobを削除できませんでした", "storageKey", doc.StorageKey, "error", delErr)
		}
		return nil, fmt.Errorf("failed to register document: %w", err)
	}

	s.logger.Info("ドキュメントを登録しました", "documentID", doc.ID, "name", doc.OriginalName, "size", doc.Size)
	return doc, nil
}

// Delete はチャンク、Blob、台帳の順にドキュメントを削除します
//
// 台帳（正本）の削除失敗のみをエラーとして返します。
func (s *DocumentService) Delete(ctx context.Context, id string) (*DeleteResult, error) {
	doc, err := s.registry.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	result := &DeleteResult{DocumentID: id}

	deleted, err := s.store.DeleteByDocumentID(ctx, id)
	result.add(StepChunks, err)
	result.Steps[len(result.Steps)-1].Deleted = deleted

	if doc.StorageKey != "" {
		err := s.blobs.Delete(ctx, doc.StorageKey)
		// 既に存在しないBlobは削除済みとして扱う
		if errors.Is(err, domain.ErrBlobNotFound) {
			err = nil
		}
		result.add(StepBlob, err)
	}

	if err := s.registry.Delete(ctx, id); err != nil {
		result.add(StepRegistry, err)
		return result, fmt.Errorf("failed to delete document from registry: %w", err)
	}
	result.add(StepRegistry, nil)

	if result.Partial {
		s.logger.Warn("ドキュメントを削除しましたが一部のステップが失敗しました",
			"documentID", id,
			"steps", result.Steps,
		)
	} else {
		s.logger.Info("ドキュメントを削除しました", "documentID", id, "chunks", deleted)
	}
	return result, nil
}

func (r *DeleteResult) add(step string, err error) {
	sr := StepResult{Step: step, OK: err == nil}
	if err != nil {
		sr.Error = err.Error()
		r.Partial = true
	}
	r.Steps = append(r.Steps, sr)
}

// UpdateStageIDs はドキュメントの検索対象ステージを付け替えます
//
// Embeddingは再計算せず、台帳とチャンクのメタデータのみ更新します。
func (s *DocumentService) UpdateStageIDs(ctx context.Context, id string, stageIDs []string) (int64, error) {
	normalized, err := s.normalizeTags(stageIDs)
	if err != nil {
		return 0, err
	}

	if err := s.registry.UpdateStageIDs(ctx, id, normalized); err != nil {
		return 0, fmt.Errorf("failed to update registry stage ids: %w", err)
	}

	n, err := s.store.UpdateStageIDs(ctx, id, normalized)
	if err != nil {
		return 0, fmt.Errorf("failed to update chunk stage ids: %w", err)
	}

	s.logger.Info("ステージタグを更新しました", "documentID", id, "stages", normalized, "chunks", n)
	return n, nil
}

// normalizeTags はステージIDを検証し、重複を除く
func (s *DocumentService) normalizeTags(stageIDs []string) ([]string, error) {
	normalized := make([]string, 0, len(stageIDs))
	for _, sid := range stageIDs {
		sid = strings.TrimSpace(sid)
		if !s.validTag(sid) {
			return nil, apperr.Wrap(ErrInvalidStageTag, "stage ids", fmt.Errorf("%q", sid))
		}
		if !slices.Contains(normalized, sid) {
			normalized = append(normalized, sid)
		}
	}
	return normalized, nil
}

// CheckHealth は1ドキュメントのチャンク件数を台帳と照合します
func (s *DocumentService) CheckHealth(ctx context.Context, id string) (domain.HealthStatus, error) {
	doc, err := s.registry.FindByID(ctx, id)
	if err != nil {
		return domain.HealthStatus{}, err
	}
	return s.store.CheckHealth(ctx, id, doc.ChunkCount)
}

// FindOrphans は台帳に存在しないドキュメントのチャンクを列挙します
func (s *DocumentService) FindOrphans(ctx context.Context) ([]string, error) {
	storeIDs, err := s.store.FindAllDocumentIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunk store documents: %w", err)
	}
	if len(storeIDs) == 0 {
		return nil, nil
	}

	known, err := s.registry.ListAllIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list registry documents: %w", err)
	}
	knownSet := make(map[string]struct{}, len(known))
	for _, id := range known {
		knownSet[id] = struct{}{}
	}

	var orphans []string
	for _, id := range storeIDs {
		if _, ok := knownSet[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	return orphans, nil
}

// RunHealthCheck は processed 状態の全ドキュメントと孤立チャンクを検査します
//
// repair=true の場合、件数不一致のドキュメントを pending に戻し、孤立チャンクを削除します。
func (s *DocumentService) RunHealthCheck(ctx context.Context, repair bool) (*HealthReport, error) {
	docs, err := s.registry.ListByStatus(ctx, domain.StatusProcessed)
	if err != nil {
		return nil, fmt.Errorf("failed to list processed documents: %w", err)
	}

	report := &HealthReport{}
	for _, doc := range docs {
		status, err := s.store.CheckHealth(ctx, doc.ID, doc.ChunkCount)
		if err != nil {
			return nil, fmt.Errorf("failed to check document %s: %w", doc.ID, err)
		}
		report.Checked++
		if status.Healthy {
			continue
		}
		report.Mismatched = append(report.Mismatched, status)

		if repair {
			if err := s.registry.MarkPending(ctx, doc.ID); err != nil {
				s.logger.Warn("再処理キューへの登録に失敗しました", "documentID", doc.ID, "error", err)
				continue
			}
			report.Repaired++
		}
	}

	orphans, err := s.FindOrphans(ctx)
	if err != nil {
		return nil, err
	}
	report.Orphans = orphans

	if repair {
		for _, id := range orphans {
			n, err := s.store.DeleteByDocumentID(ctx, id)
			if err != nil {
				s.logger.Warn("孤立チャンクの削除に失敗しました", "documentID", id, "error", err)
				continue
			}
			s.logger.Info("孤立チャンクを削除しました", "documentID", id, "chunks", n)
			report.Repaired++
		}
	}

	s.logger.Info("整合性チェックが完了しました",
		"checked", report.Checked,
		"mismatched", len(report.Mismatched),
		"orphans", len(report.Orphans),
		"repaired", report.Repaired,
	)
	return report, nil
}
