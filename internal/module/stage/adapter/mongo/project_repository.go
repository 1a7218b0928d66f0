package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jinford/curriculum-rag/internal/module/stage/domain"
	"github.com/jinford/curriculum-rag/internal/shared/apperr"
)

// ProjectCollection はプロジェクトのコレクション名
const ProjectCollection = "projects"

// ProjectRepository はMongoDBをバックエンドとするプロジェクトリポジトリ
//
// ステージ状態は stages.<ID> 単位で部分更新し、他のステージを上書きしない。
type ProjectRepository struct {
	coll *mongo.Collection
	now  func() time.Time
}

var _ domain.ProjectRepository = (*ProjectRepository)(nil)

// NewProjectRepository は新しいProjectRepositoryを作成します
func NewProjectRepository(db *mongo.Database) *ProjectRepository {
	return &ProjectRepository{coll: db.Collection(ProjectCollection), now: time.Now}
}

// EnsureIndexes はテナント検索用のインデックスを作成します
func (r *ProjectRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create project indexes: %w", err)
	}
	return nil
}

func (r *ProjectRepository) Create(ctx context.Context, p *domain.Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := r.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	if _, err := r.coll.InsertOne(ctx, toProjectModel(p)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("project %s already exists: %w", p.ID, err)
		}
		return fmt.Errorf("failed to insert project: %w", err)
	}
	return nil
}

func (r *ProjectRepository) FindByID(ctx context.Context, id string) (*domain.Project, error) {
	var m projectModel
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", domain.ErrProjectNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find project: %w", err)
	}
	return m.toDomain(), nil
}

func (r *ProjectRepository) SaveStage(ctx context.Context, projectID string, stage domain.ID, data *domain.StageData) error {
	return r.update(ctx, projectID, bson.M{
		"$set": bson.M{
			"stages." + string(stage): toStageModel(data),
			"updated_at":              r.now().UTC(),
		},
	})
}

func (r *ProjectRepository) UpdateProgress(ctx context.Context, projectID string, progress int, current domain.ID) error {
	set := bson.M{"overall_progress": progress, "updated_at": r.now().UTC()}
	if current != "" {
		set["current_stage"] = string(current)
	}
	return r.update(ctx, projectID, bson.M{"$set": set})
}

// AppendConversation は $push と $slice で直近 ConversationLimit 件のみ残します
func (r *ProjectRepository) AppendConversation(ctx context.Context, projectID, key string, msgs ...domain.Message) error {
	if err := validateSessionKey(key); err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	return r.update(ctx, projectID, bson.M{
		"$push": bson.M{
			"conversation_sessions." + key: bson.M{
				"$each":  toMessageModels(msgs),
				"$slice": -domain.ConversationLimit,
			},
		},
		"$set": bson.M{"updated_at": r.now().UTC()},
	})
}

func (r *ProjectRepository) Conversation(ctx context.Context, projectID, key string) ([]domain.Message, error) {
	if err := validateSessionKey(key); err != nil {
		return nil, err
	}

	field := "conversation_sessions." + key
	opts := options.FindOne().SetProjection(bson.M{field: 1})
	var m projectModel
	err := r.coll.FindOne(ctx, bson.M{"_id": projectID}, opts).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", domain.ErrProjectNotFound, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return toMessages(m.Conversations[key]), nil
}

func (r *ProjectRepository) update(ctx context.Context, projectID string, update bson.M) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": projectID}, update)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", domain.ErrProjectNotFound, projectID)
	}
	return nil
}

// validateSessionKey はフィールドパスとして使えないキーを拒否する
func validateSessionKey(key string) error {
	if key == "" || strings.ContainsAny(key, ".$") {
		return apperr.New(apperr.KindValidation, "conversation", fmt.Errorf("invalid session key: %q", key))
	}
	return nil
}
