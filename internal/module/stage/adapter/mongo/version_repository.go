package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jinford/curriculum-rag/internal/module/stage/domain"
	"github.com/jinford/curriculum-rag/internal/shared/apperr"
)

// VersionCollection はステージバージョンのコレクション名
const VersionCollection = "stage_versions"

// maxCreateAttempts は採番が競合した場合の再試行回数
const maxCreateAttempts = 5

// VersionRepository はMongoDBをバックエンドとするバージョンリポジトリ
//
// (project_id, stage, version) の一意インデックスで採番の競合を検出する。
type VersionRepository struct {
	coll *mongo.Collection
	now  func() time.Time
}

var _ domain.VersionRepository = (*VersionRepository)(nil)

// NewVersionRepository は新しいVersionRepositoryを作成します
func NewVersionRepository(db *mongo.Database) *VersionRepository {
	return &VersionRepository{coll: db.Collection(VersionCollection), now: time.Now}
}

// EnsureIndexes は採番用の一意インデックスを作成します
func (r *VersionRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "project_id", Value: 1},
			{Key: "stage", Value: 1},
			{Key: "version", Value: -1},
		},
		Options: options.Index().SetUnique(true).SetName("project_stage_version"),
	})
	if err != nil {
		return fmt.Errorf("failed to create version indexes: %w", err)
	}
	return nil
}

func (r *VersionRepository) Create(ctx context.Context, v *domain.StageVersion) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = r.now().UTC()
	}

	var lastErr error
	for range maxCreateAttempts {
		latest, err := r.latestVersion(ctx, v.ProjectID, v.Stage)
		if err != nil {
			return err
		}
		v.Version = latest + 1

		_, err = r.coll.InsertOne(ctx, toVersionModel(v))
		if err == nil {
			return nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("failed to insert stage version: %w", err)
		}
		lastErr = err
	}
	return apperr.Wrap(domain.ErrVersionConflict, "create version", lastErr)
}

func (r *VersionRepository) latestVersion(ctx context.Context, projectID string, stage domain.ID) (int, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "version", Value: -1}}).
		SetProjection(bson.M{"version": 1})
	var row struct {
		Version int `bson:"version"`
	}
	err := r.coll.FindOne(ctx, bson.M{"project_id": projectID, "stage": string(stage)}, opts).Decode(&row)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to find latest version: %w", err)
	}
	return row.Version, nil
}

func (r *VersionRepository) FindByID(ctx context.Context, id string) (*domain.StageVersion, error) {
	return r.findOne(ctx, bson.M{"_id": id}, id)
}

func (r *VersionRepository) FindByVersion(ctx context.Context, projectID string, stage domain.ID, version int) (*domain.StageVersion, error) {
	return r.findOne(ctx,
		bson.M{"project_id": projectID, "stage": string(stage), "version": version},
		fmt.Sprintf("%s/%s v%d", projectID, stage, version),
	)
}

func (r *VersionRepository) findOne(ctx context.Context, filter bson.M, label string) (*domain.StageVersion, error) {
	var m versionModel
	err := r.coll.FindOne(ctx, filter).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", domain.ErrVersionNotFound, label)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find stage version: %w", err)
	}
	return m.toDomain(), nil
}

func (r *VersionRepository) List(ctx context.Context, projectID string, stage domain.ID) ([]*domain.StageVersion, error) {
	opts := options.Find().SetSort(bson.D{{Key: "version", Value: -1}})
	cur, err := r.coll.Find(ctx, bson.M{"project_id": projectID, "stage": string(stage)}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list stage versions: %w", err)
	}
	var models []versionModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("failed to decode stage versions: %w", err)
	}

	versions := make([]*domain.StageVersion, 0, len(models))
	for _, m := range models {
		versions = append(versions, m.toDomain())
	}
	return versions, nil
}

func (r *VersionRepository) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete stage versions: %w", err)
	}
	return res.DeletedCount, nil
}
