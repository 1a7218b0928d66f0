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

	"github.com/jinford/curriculum-rag/internal/module/document/domain"
)

// CollectionName はドキュメント台帳のコレクション名
const CollectionName = "documents"

// documentModel はMongoDBに保存するドキュメントの形
type documentModel struct {
	ID           string     `bson:"_id"`
	Filename     string     `bson:"filename"`
	OriginalName string     `bson:"original_name"`
	MimeType     string     `bson:"mime_type"`
	Size         int64      `bson:"size"`
	StorageKey   string     `bson:"storage_key"`
	Status       string     `bson:"status"`
	ChunkCount   int        `bson:"chunk_count"`
	StageIDs     []string   `bson:"stage_ids"`
	ErrorMessage string     `bson:"error_message,omitempty"`
	Attempts     int        `bson:"attempts"`
	Terminal     bool       `bson:"terminal"`
	CreatedAt    time.Time  `bson:"created_at"`
	UpdatedAt    time.Time  `bson:"updated_at"`
	ProcessedAt  *time.Time `bson:"processed_at,omitempty"`
}

func toModel(d *domain.Document) documentModel {
	stageIDs := d.StageIDs
	if stageIDs == nil {
		stageIDs = []string{}
	}
	return documentModel{
		ID:           d.ID,
		Filename:     d.Filename,
		OriginalName: d.OriginalName,
		MimeType:     d.MimeType,
		Size:         d.Size,
		StorageKey:   d.StorageKey,
		Status:       string(d.Status),
		ChunkCount:   d.ChunkCount,
		StageIDs:     stageIDs,
		ErrorMessage: d.ErrorMessage,
		Attempts:     d.Attempts,
		Terminal:     d.Terminal,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		ProcessedAt:  d.ProcessedAt,
	}
}

func (m documentModel) toDomain() *domain.Document {
	return &domain.Document{
		ID:           m.ID,
		Filename:     m.Filename,
		OriginalName: m.OriginalName,
		MimeType:     m.MimeType,
		Size:         m.Size,
		StorageKey:   m.StorageKey,
		Status:       domain.Status(m.Status),
		ChunkCount:   m.ChunkCount,
		StageIDs:     m.StageIDs,
		ErrorMessage: m.ErrorMessage,
		Attempts:     m.Attempts,
		Terminal:     m.Terminal,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
		ProcessedAt:  m.ProcessedAt,
	}
}

// DocumentRegistry はMongoDBをバックエンドとするドキュメント台帳
type DocumentRegistry struct {
	coll *mongo.Collection
	now  func() time.Time
}

var _ domain.Registry = (*DocumentRegistry)(nil)

// NewDocumentRegistry は新しいDocumentRegistryを作成します
func NewDocumentRegistry(db *mongo.Database) *DocumentRegistry {
	return &DocumentRegistry{coll: db.Collection(CollectionName), now: time.Now}
}

// EnsureIndexes は状態検索用のインデックスを作成します
func (r *DocumentRegistry) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "storage_key", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create document indexes: %w", err)
	}
	return nil
}

func (r *DocumentRegistry) Create(ctx context.Context, doc *domain.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := r.now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = domain.StatusPending
	}

	if _, err := r.coll.InsertOne(ctx, toModel(doc)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("document %s already exists: %w", doc.ID, err)
		}
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (r *DocumentRegistry) FindByID(ctx context.Context, id string) (*domain.Document, error) {
	var m documentModel
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find document: %w", err)
	}
	return m.toDomain(), nil
}

func (r *DocumentRegistry) FindByIDs(ctx context.Context, ids []string) ([]*domain.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.find(ctx, bson.M{"_id": bson.M{"$in": ids}})
}

func (r *DocumentRegistry) ListByStatus(ctx context.Context, status domain.Status) ([]*domain.Document, error) {
	return r.find(ctx, bson.M{"status": string(status)})
}

func (r *DocumentRegistry) ListAllIDs(ctx context.Context) ([]string, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1})
	cur, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list document ids: %w", err)
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var row struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode document id: %w", err)
		}
		ids = append(ids, row.ID)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate document ids: %w", err)
	}
	return ids, nil
}

func (r *DocumentRegistry) find(ctx context.Context, filter bson.M) ([]*domain.Document, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find documents: %w", err)
	}
	var models []documentModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("failed to decode documents: %w", err)
	}

	docs := make([]*domain.Document, 0, len(models))
	for _, m := range models {
		docs = append(docs, m.toDomain())
	}
	return docs, nil
}

func (r *DocumentRegistry) MarkProcessing(ctx context.Context, id string) error {
	return r.update(ctx, id, bson.M{
		"$set": bson.M{"status": string(domain.StatusProcessing), "updated_at": r.now().UTC()},
		"$inc": bson.M{"attempts": 1},
	})
}

func (r *DocumentRegistry) MarkProcessed(ctx context.Context, id string, chunkCount int) error {
	now := r.now().UTC()
	return r.update(ctx, id, bson.M{
		"$set": bson.M{
			"status":       string(domain.StatusProcessed),
			"chunk_count":  chunkCount,
			"terminal":     false,
			"updated_at":   now,
			"processed_at": now,
		},
		"$unset": bson.M{"error_message": ""},
	})
}

func (r *DocumentRegistry) MarkFailed(ctx context.Context, id string, message string, terminal bool) error {
	return r.update(ctx, id, bson.M{
		"$set": bson.M{
			"status":        string(domain.StatusError),
			"error_message": message,
			"terminal":      terminal,
			"updated_at":    r.now().UTC(),
		},
	})
}

func (r *DocumentRegistry) MarkPending(ctx context.Context, id string) error {
	return r.update(ctx, id, bson.M{
		"$set": bson.M{"status": string(domain.StatusPending), "updated_at": r.now().UTC()},
	})
}

func (r *DocumentRegistry) UpdateStageIDs(ctx context.Context, id string, stageIDs []string) error {
	if stageIDs == nil {
		stageIDs = []string{}
	}
	return r.update(ctx, id, bson.M{
		"$set": bson.M{"stage_ids": stageIDs, "updated_at": r.now().UTC()},
	})
}

func (r *DocumentRegistry) Delete(ctx context.Context, id string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
	}
	return nil
}

func (r *DocumentRegistry) update(ctx context.Context, id string, update bson.M) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
	}
	return nil
}
