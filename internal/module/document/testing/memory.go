package testing

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jinford/curriculum-rag/internal/module/document/domain"
)

// MemoryRegistry はインメモリのドキュメント台帳です
type MemoryRegistry struct {
	mu   sync.Mutex
	docs map[string]*domain.Document

	// DeleteErr が設定されている場合、Delete はこのエラーを返す
	DeleteErr error
	// MarkProcessedErr が設定されている場合、次の MarkProcessed が一度だけこのエラーを返す
	MarkProcessedErr error
}

var _ domain.Registry = (*MemoryRegistry)(nil)

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{docs: make(map[string]*domain.Document)}
}

func (r *MemoryRegistry) Create(_ context.Context, doc *domain.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if _, ok := r.docs[doc.ID]; ok {
		return fmt.Errorf("document %s already exists", doc.ID)
	}
	if doc.Status == "" {
		doc.Status = domain.StatusPending
	}
	now := time.Now()
	doc.CreatedAt, doc.UpdatedAt = now, now
	r.docs[doc.ID] = clone(doc)
	return nil
}

func (r *MemoryRegistry) FindByID(_ context.Context, id string) (*domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
	}
	return clone(doc), nil
}

func (r *MemoryRegistry) FindByIDs(_ context.Context, ids []string) ([]*domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var docs []*domain.Document
	for _, id := range ids {
		if doc, ok := r.docs[id]; ok {
			docs = append(docs, clone(doc))
		}
	}
	return docs, nil
}

func (r *MemoryRegistry) ListByStatus(_ context.Context, status domain.Status) ([]*domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var docs []*domain.Document
	for _, doc := range r.docs {
		if doc.Status == status {
			docs = append(docs, clone(doc))
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].CreatedAt.Before(docs[j].CreatedAt) })
	return docs, nil
}

func (r *MemoryRegistry) ListAllIDs(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.docs)), nil
}

func (r *MemoryRegistry) MarkProcessing(_ context.Context, id string) error {
	return r.mutate(id, func(d *domain.Document) {
		d.Status = domain.StatusProcessing
		d.Attempts++
	})
}

func (r *MemoryRegistry) MarkProcessed(_ context.Context, id string, chunkCount int) error {
	r.mu.Lock()
	if err := r.MarkProcessedErr; err != nil {
		r.MarkProcessedErr = nil
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()
	return r.mutate(id, func(d *domain.Document) {
		now := time.Now()
		d.Status = domain.StatusProcessed
		d.ChunkCount = chunkCount
		d.ErrorMessage = ""
		d.Terminal = false
		d.ProcessedAt = &now
	})
}

func (r *MemoryRegistry) MarkFailed(_ context.Context, id string, message string, terminal bool) error {
	return r.mutate(id, func(d *domain.Document) {
		d.Status = domain.StatusError
		d.ErrorMessage = message
		d.Terminal = terminal
	})
}

func (r *MemoryRegistry) MarkPending(_ context.Context, id string) error {
	return r.mutate(id, func(d *domain.Document) {
		d.Status = domain.StatusPending
	})
}

func (r *MemoryRegistry) UpdateStageIDs(_ context.Context, id string, stageIDs []string) error {
	return r.mutate(id, func(d *domain.Document) {
		d.StageIDs = slices.Clone(stageIDs)
	})
}

func (r *MemoryRegistry) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.DeleteErr != nil {
		return r.DeleteErr
	}
	if _, ok := r.docs[id]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
	}
	delete(r.docs, id)
	return nil
}

// Count は登録件数を返す
func (r *MemoryRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.docs)
}

func (r *MemoryRegistry) mutate(id string, fn func(d *domain.Document)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
	}
	fn(doc)
	doc.UpdatedAt = time.Now()
	return nil
}

func clone(d *domain.Document) *domain.Document {
	c := *d
	c.StageIDs = slices.Clone(d.StageIDs)
	return &c
}

// MemoryVectorStore はインメモリのチャンクストアです
//
// 類似度はコサイン類似度で計算する。
type MemoryVectorStore struct {
	mu     sync.Mutex
	chunks map[string][]domain.Chunk

	// Err が設定されている場合、全ての操作がこのエラーを返す
	Err error
	// InsertErr が設定されている場合、InsertChunks のみこのエラーを返す
	InsertErr error
	// InsertCalls は InsertChunks の呼び出し回数
	InsertCalls int
}

var _ domain.VectorStore = (*MemoryVectorStore)(nil)

func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{chunks: make(map[string][]domain.Chunk)}
}

func (s *MemoryVectorStore) InitSchema(context.Context) error {
	return s.Err
}

func (s *MemoryVectorStore) InsertChunks(_ context.Context, documentID string, chunks []domain.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InsertCalls++
	if s.Err != nil {
		return s.Err
	}
	if s.InsertErr != nil {
		return s.InsertErr
	}
	for i, c := range chunks {
		if c.Index != i {
			return fmt.Errorf("chunk index %d out of sequence", c.Index)
		}
	}
	s.chunks[documentID] = slices.Clone(chunks)
	return nil
}

func (s *MemoryVectorStore) SearchSimilar(_ context.Context, embedding []float32, topK int, filter domain.SearchFilter) ([]domain.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	var results []domain.SearchResult
	for docID, chunks := range s.chunks {
		if len(filter.DocumentIDs) > 0 && !slices.Contains(filter.DocumentIDs, docID) {
			continue
		}
		for _, c := range chunks {
			if !c.Metadata.MatchesStage(filter.StageID) {
				continue
			}
			results = append(results, domain.SearchResult{
				DocumentID: docID,
				ChunkIndex: c.Index,
				Content:    c.Content,
				Metadata:   c.Metadata,
				Score:      cosine(embedding, c.Embedding),
			})
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].DocumentID != results[j].DocumentID {
			return results[i].DocumentID < results[j].DocumentID
		}
		return results[i].ChunkIndex < results[j].ChunkIndex
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *MemoryVectorStore) DeleteByDocumentID(_ context.Context, documentID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	n := len(s.chunks[documentID])
	delete(s.chunks, documentID)
	return int64(n), nil
}

func (s *MemoryVectorStore) UpdateStageIDs(_ context.Context, documentID string, stageIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	chunks := s.chunks[documentID]
	for i := range chunks {
		chunks[i].Metadata.StageIDs = slices.Clone(stageIDs)
	}
	return int64(len(chunks)), nil
}

func (s *MemoryVectorStore) CheckHealth(_ context.Context, documentID string, expectedCount int) (domain.HealthStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return domain.HealthStatus{}, s.Err
	}
	return domain.NewHealthStatus(documentID, expectedCount, len(s.chunks[documentID])), nil
}

func (s *MemoryVectorStore) FindAllDocumentIDs(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return slices.Sorted(maps.Keys(s.chunks)), nil
}

// Chunks は保存されているチャンクのコピーを返す
func (s *MemoryVectorStore) Chunks(documentID string) []domain.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.chunks[documentID])
}

// Seed はドキュメント台帳を経由せずにチャンクを直接登録する（孤立チャンクの再現用）
func (s *MemoryVectorStore) Seed(documentID string, chunks []domain.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[documentID] = slices.Clone(chunks)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
