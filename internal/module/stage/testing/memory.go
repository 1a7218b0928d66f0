package testing

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jinford/curriculum-rag/internal/module/stage/domain"
)

// MemoryProjectRepository はインメモリのプロジェクトリポジトリです
type MemoryProjectRepository struct {
	mu       sync.Mutex
	projects map[string]*domain.Project

	// SaveStageErr が設定されている場合、SaveStage はこのエラーを返す
	SaveStageErr error
}

var _ domain.ProjectRepository = (*MemoryProjectRepository)(nil)

func NewMemoryProjectRepository() *MemoryProjectRepository {
	return &MemoryProjectRepository{projects: make(map[string]*domain.Project)}
}

func (r *MemoryProjectRepository) Create(_ context.Context, p *domain.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, ok := r.projects[p.ID]; ok {
		return fmt.Errorf("project %s already exists", p.ID)
	}
	r.projects[p.ID] = cloneProject(p)
	return nil
}

func (r *MemoryProjectRepository) FindByID(_ context.Context, id string) (*domain.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProjectNotFound, id)
	}
	return cloneProject(p), nil
}

func (r *MemoryProjectRepository) SaveStage(_ context.Context, projectID string, stage domain.ID, data *domain.StageData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SaveStageErr != nil {
		return r.SaveStageErr
	}
	p, ok := r.projects[projectID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrProjectNotFound, projectID)
	}
	p.Stages[stage] = cloneStage(data)
	p.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryProjectRepository) UpdateProgress(_ context.Context, projectID string, progress int, current domain.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[projectID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrProjectNotFound, projectID)
	}
	p.OverallProgress = progress
	if current != "" {
		p.CurrentStage = current
	}
	return nil
}

func (r *MemoryProjectRepository) AppendConversation(_ context.Context, projectID, key string, msgs ...domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[projectID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrProjectNotFound, projectID)
	}
	history := append(p.Conversations[key], msgs...)
	if len(history) > domain.ConversationLimit {
		history = history[len(history)-domain.ConversationLimit:]
	}
	p.Conversations[key] = history
	return nil
}

func (r *MemoryProjectRepository) Conversation(_ context.Context, projectID, key string) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProjectNotFound, projectID)
	}
	return append([]domain.Message(nil), p.Conversations[key]...), nil
}

func cloneProject(p *domain.Project) *domain.Project {
	c := *p
	c.Stages = make(map[domain.ID]*domain.StageData, len(p.Stages))
	for id, s := range p.Stages {
		c.Stages[id] = cloneStage(s)
	}
	c.Conversations = make(map[string][]domain.Message, len(p.Conversations))
	for k, v := range p.Conversations {
		c.Conversations[k] = append([]domain.Message(nil), v...)
	}
	return &c
}

func cloneStage(s *domain.StageData) *domain.StageData {
	if s == nil {
		return nil
	}
	c := *s
	c.Input = s.Input.Clone()
	c.Output = s.Output.Clone()
	if s.Score != nil {
		score := *s.Score
		score.Dimensions = maps.Clone(s.Score.Dimensions)
		c.Score = &score
	}
	return &c
}

// MemoryVersionRepository はインメモリのバージョンリポジトリです
type MemoryVersionRepository struct {
	mu       sync.Mutex
	versions map[string]*domain.StageVersion
}

var _ domain.VersionRepository = (*MemoryVersionRepository)(nil)

func NewMemoryVersionRepository() *MemoryVersionRepository {
	return &MemoryVersionRepository{versions: make(map[string]*domain.StageVersion)}
}

func (r *MemoryVersionRepository) Create(_ context.Context, v *domain.StageVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	latest := 0
	for _, existing := range r.versions {
		if existing.ProjectID == v.ProjectID && existing.Stage == v.Stage && existing.Version > latest {
			latest = existing.Version
		}
	}
	v.Version = latest + 1
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	c := *v
	c.Content = v.Content.Clone()
	r.versions[v.ID] = &c
	return nil
}

func (r *MemoryVersionRepository) FindByID(_ context.Context, id string) (*domain.StageVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.versions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrVersionNotFound, id)
	}
	c := *v
	return &c, nil
}

func (r *MemoryVersionRepository) FindByVersion(_ context.Context, projectID string, stage domain.ID, version int) (*domain.StageVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.versions {
		if v.ProjectID == projectID && v.Stage == stage && v.Version == version {
			c := *v
			c.Content = v.Content.Clone()
			return &c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s v%d", domain.ErrVersionNotFound, projectID, stage, version)
}

func (r *MemoryVersionRepository) List(_ context.Context, projectID string, stage domain.ID) ([]*domain.StageVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.StageVersion
	for _, v := range r.versions {
		if v.ProjectID == projectID && v.Stage == stage {
			c := *v
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func (r *MemoryVersionRepository) DeleteByIDs(_ context.Context, ids []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := r.versions[id]; ok {
			delete(r.versions, id)
			n++
		}
	}
	return n, nil
}
