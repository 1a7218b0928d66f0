package template

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jinford/curriculum-rag/internal/module/generation/domain"
)

const (
	// TemplateCollection はテンプレートの現在値を保持するコレクション名
	TemplateCollection = "prompt_templates"
	// SnapshotCollection はテンプレートのバージョン履歴のコレクション名
	SnapshotCollection = "prompt_template_versions"
)

type variantModel struct {
	Version int     `bson:"version"`
	Weight  float64 `bson:"weight"`
}

type abTestingModel struct {
	Enabled  bool           `bson:"enabled"`
	Variants []variantModel `bson:"variants"`
}

type templateModel struct {
	Key            string          `bson:"_id"`
	Template       string          `bson:"template"`
	CurrentVersion int             `bson:"current_version"`
	ABTesting      *abTestingModel `bson:"ab_testing,omitempty"`
	UpdatedAt      time.Time       `bson:"updated_at"`
}

type snapshotModel struct {
	Key       string    `bson:"key"`
	Version   int       `bson:"version"`
	Template  string    `bson:"template"`
	CreatedAt time.Time `bson:"created_at"`
}

// MongoStore はMongoDBで管理されるプロンプトテンプレート
type MongoStore struct {
	templates *mongo.Collection
	snapshots *mongo.Collection
	now       func() time.Time
}

var _ domain.TemplateStore = (*MongoStore)(nil)

// NewMongoStore は新しいMongoStoreを作成します
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		templates: db.Collection(TemplateCollection),
		snapshots: db.Collection(SnapshotCollection),
		now:       time.Now,
	}
}

// EnsureIndexes はスナップショットの一意インデックスを作成します
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.snapshots.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "key", Value: 1}, {Key: "version", Value: -1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create template indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) GetTemplate(ctx context.Context, key string) (*domain.Template, error) {
	var m templateModel
	err := s.templates.FindOne(ctx, bson.M{"_id": key}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", domain.ErrTemplateNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find prompt template: %w", err)
	}

	t := &domain.Template{Key: m.Key, Content: m.Template, Version: m.CurrentVersion}
	if m.ABTesting != nil {
		ab := &domain.ABTesting{Enabled: m.ABTesting.Enabled}
		for _, v := range m.ABTesting.Variants {
			ab.Variants = append(ab.Variants, domain.Variant{Version: v.Version, Weight: v.Weight})
		}
		t.ABTesting = ab
	}
	return t, nil
}

func (s *MongoStore) GetVersionSnapshot(ctx context.Context, key string, version int) (string, error) {
	var m snapshotModel
	err := s.snapshots.FindOne(ctx, bson.M{"key": key, "version": version}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", fmt.Errorf("%w: %s v%d", domain.ErrTemplateVersionNotFound, key, version)
	}
	if err != nil {
		return "", fmt.Errorf("failed to find prompt template snapshot: %w", err)
	}
	return m.Template, nil
}

// Publish はテンプレートの新しいバージョンを登録し、現在のバージョンにします
func (s *MongoStore) Publish(ctx context.Context, key, content string) (int, error) {
	version := 1
	var current templateModel
	err := s.templates.FindOne(ctx, bson.M{"_id": key}).Decode(&current)
	switch {
	case err == nil:
		version = current.CurrentVersion + 1
	case !errors.Is(err, mongo.ErrNoDocuments):
		return 0, fmt.Errorf("failed to find prompt template: %w", err)
	}

	now := s.now().UTC()
	if _, err := s.snapshots.InsertOne(ctx, snapshotModel{Key: key, Version: version, Template: content, CreatedAt: now}); err != nil {
		return 0, fmt.Errorf("failed to insert prompt template snapshot: %w", err)
	}

	_, err = s.templates.UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$set": bson.M{"template": content, "current_version": version, "updated_at": now}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update prompt template: %w", err)
	}
	return version, nil
}

// SetABTesting はA/Bテストの配信比率を設定します
func (s *MongoStore) SetABTesting(ctx context.Context, key string, ab domain.ABTesting) error {
	variants := make([]variantModel, 0, len(ab.Variants))
	for _, v := range ab.Variants {
		variants = append(variants, variantModel{Version: v.Version, Weight: v.Weight})
	}
	res, err := s.templates.UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$set": bson.M{
			"ab_testing": abTestingModel{Enabled: ab.Enabled, Variants: variants},
			"updated_at": s.now().UTC(),
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to update ab testing: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", domain.ErrTemplateNotFound, key)
	}
	return nil
}
