package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	retrieval "github.com/jinford/curriculum-rag/internal/module/retrieval/domain"
	"github.com/jinford/curriculum-rag/internal/module/stage/domain"
)

type scoreModel struct {
	Overall    float64            `bson:"overall"`
	Dimensions map[string]float64 `bson:"dimensions,omitempty"`
}

type stageModel struct {
	Status           string      `bson:"status"`
	Input            bson.M      `bson:"input"`
	Output           bson.M      `bson:"output"`
	CurrentVersionID string      `bson:"current_version_id,omitempty"`
	CompletedAt      *time.Time  `bson:"completed_at,omitempty"`
	Score            *scoreModel `bson:"diagnostic_score,omitempty"`
	UpdatedAt        time.Time   `bson:"updated_at"`
}

type messageModel struct {
	Role    string    `bson:"role"`
	Content string    `bson:"content"`
	At      time.Time `bson:"at"`
}

type projectModel struct {
	ID              string                    `bson:"_id"`
	Name            string                    `bson:"name"`
	TenantID        string                    `bson:"tenant_id,omitempty"`
	SchoolName      string                    `bson:"school_name,omitempty"`
	Region          string                    `bson:"region,omitempty"`
	ConfigVersion   int                       `bson:"config_version"`
	CurrentStage    string                    `bson:"current_stage"`
	OverallProgress int                       `bson:"overall_progress"`
	Stages          map[string]stageModel     `bson:"stages"`
	Conversations   map[string][]messageModel `bson:"conversation_sessions"`
	CreatedAt       time.Time                 `bson:"created_at"`
	UpdatedAt       time.Time                 `bson:"updated_at"`
}

type usageModel struct {
	PromptTokens     int  `bson:"prompt_tokens"`
	CompletionTokens int  `bson:"completion_tokens"`
	TotalTokens      int  `bson:"total_tokens"`
	Estimated        bool `bson:"estimated,omitempty"`
}

type metadataModel struct {
	Prompt          string                     `bson:"prompt"`
	TemplateKey     string                     `bson:"template_key,omitempty"`
	TemplateVersion int                        `bson:"template_version,omitempty"`
	Variant         int                        `bson:"variant"`
	Model           string                     `bson:"model,omitempty"`
	RAGResults      []retrieval.RetrievedChunk `bson:"rag_results"`
	WebResults      []retrieval.WebResult      `bson:"web_results"`
	Usage           usageModel                 `bson:"token_usage"`
	Suggestions     []string                   `bson:"suggestions,omitempty"`
}

type authorModel struct {
	UserID string `bson:"user_id,omitempty"`
	Name   string `bson:"name,omitempty"`
}

type versionModel struct {
	ID            string         `bson:"_id"`
	ProjectID     string         `bson:"project_id"`
	Stage         string         `bson:"stage"`
	Version       int            `bson:"version"`
	Content       bson.M         `bson:"content"`
	Author        authorModel    `bson:"author"`
	IsAIGenerated bool           `bson:"is_ai_generated"`
	Metadata      *metadataModel `bson:"generation_metadata,omitempty"`
	ChangeNote    string         `bson:"change_note,omitempty"`
	CreatedAt     time.Time      `bson:"created_at"`
}

func toStageModel(s *domain.StageData) stageModel {
	m := stageModel{
		Status:           string(s.Status),
		Input:            toBSON(s.Input),
		Output:           toBSON(s.Output),
		CurrentVersionID: s.CurrentVersionID,
		CompletedAt:      s.CompletedAt,
		UpdatedAt:        s.UpdatedAt,
	}
	if s.Score != nil {
		m.Score = &scoreModel{Overall: s.Score.Overall, Dimensions: s.Score.Dimensions}
	}
	return m
}

func (m stageModel) toDomain() *domain.StageData {
	s := &domain.StageData{
		Status:           domain.Status(m.Status),
		Input:            toPayload(m.Input),
		Output:           toPayload(m.Output),
		CurrentVersionID: m.CurrentVersionID,
		CompletedAt:      m.CompletedAt,
		UpdatedAt:        m.UpdatedAt,
	}
	if m.Score != nil {
		s.Score = &domain.DiagnosticScore{Overall: m.Score.Overall, Dimensions: m.Score.Dimensions}
	}
	return s
}

func toMessageModels(msgs []domain.Message) []messageModel {
	out := make([]messageModel, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, messageModel{Role: msg.Role, Content: msg.Content, At: msg.At})
	}
	return out
}

func toMessages(models []messageModel) []domain.Message {
	out := make([]domain.Message, 0, len(models))
	for _, m := range models {
		out = append(out, domain.Message{Role: m.Role, Content: m.Content, At: m.At})
	}
	return out
}

func toProjectModel(p *domain.Project) projectModel {
	m := projectModel{
		ID:              p.ID,
		Name:            p.Name,
		TenantID:        p.TenantID,
		SchoolName:      p.SchoolName,
		Region:          p.Region,
		ConfigVersion:   p.ConfigVersion,
		CurrentStage:    string(p.CurrentStage),
		OverallProgress: p.OverallProgress,
		Stages:          make(map[string]stageModel, len(p.Stages)),
		Conversations:   make(map[string][]messageModel, len(p.Conversations)),
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
	for id, s := range p.Stages {
		if s != nil {
			m.Stages[string(id)] = toStageModel(s)
		}
	}
	for key, msgs := range p.Conversations {
		m.Conversations[key] = toMessageModels(msgs)
	}
	return m
}

func (m projectModel) toDomain() *domain.Project {
	p := &domain.Project{
		ID:              m.ID,
		Name:            m.Name,
		TenantID:        m.TenantID,
		SchoolName:      m.SchoolName,
		Region:          m.Region,
		ConfigVersion:   m.ConfigVersion,
		CurrentStage:    domain.ID(m.CurrentStage),
		OverallProgress: m.OverallProgress,
		Stages:          make(map[domain.ID]*domain.StageData, len(m.Stages)),
		Conversations:   make(map[string][]domain.Message, len(m.Conversations)),
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	for id, s := range m.Stages {
		p.Stages[domain.ID(id)] = s.toDomain()
	}
	for key, msgs := range m.Conversations {
		p.Conversations[key] = toMessages(msgs)
	}
	return p
}

func toVersionModel(v *domain.StageVersion) versionModel {
	m := versionModel{
		ID:            v.ID,
		ProjectID:     v.ProjectID,
		Stage:         string(v.Stage),
		Version:       v.Version,
		Content:       toBSON(v.Content),
		Author:        authorModel{UserID: v.Author.UserID, Name: v.Author.Name},
		IsAIGenerated: v.IsAIGenerated,
		ChangeNote:    v.ChangeNote,
		CreatedAt:     v.CreatedAt,
	}
	if md := v.Metadata; md != nil {
		m.Metadata = &metadataModel{
			Prompt:          md.Prompt,
			TemplateKey:     md.TemplateKey,
			TemplateVersion: md.TemplateVersion,
			Variant:         md.Variant,
			Model:           md.Model,
			RAGResults:      nonNil(md.RAGResults),
			WebResults:      nonNil(md.WebResults),
			Usage: usageModel{
				PromptTokens:     md.Usage.PromptTokens,
				CompletionTokens: md.Usage.CompletionTokens,
				TotalTokens:      md.Usage.TotalTokens,
				Estimated:        md.Usage.Estimated,
			},
			Suggestions: md.Suggestions,
		}
	}
	return m
}

func (m versionModel) toDomain() *domain.StageVersion {
	v := &domain.StageVersion{
		ID:            m.ID,
		ProjectID:     m.ProjectID,
		Stage:         domain.ID(m.Stage),
		Version:       m.Version,
		Content:       toPayload(m.Content),
		Author:        domain.Author{UserID: m.Author.UserID, Name: m.Author.Name},
		IsAIGenerated: m.IsAIGenerated,
		ChangeNote:    m.ChangeNote,
		CreatedAt:     m.CreatedAt,
	}
	if md := m.Metadata; md != nil {
		v.Metadata = &domain.GenerationMetadata{
			Prompt:          md.Prompt,
			TemplateKey:     md.TemplateKey,
			TemplateVersion: md.TemplateVersion,
			Variant:         md.Variant,
			Model:           md.Model,
			RAGResults:      md.RAGResults,
			WebResults:      md.WebResults,
			Usage: domain.TokenUsage{
				PromptTokens:     md.Usage.PromptTokens,
				CompletionTokens: md.Usage.CompletionTokens,
				TotalTokens:      md.Usage.TotalTokens,
				Estimated:        md.Usage.Estimated,
			},
			Suggestions: md.Suggestions,
		}
	}
	return v
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func toBSON(p domain.Payload) bson.M {
	if p == nil {
		return bson.M{}
	}
	return bson.M(p)
}

// toPayload はデコード結果のBSON固有型を map[string]any / []any に揃える
func toPayload(m bson.M) domain.Payload {
	p := make(domain.Payload, len(m))
	for k, v := range m {
		p[k] = normalize(v)
	}
	return p
}

func normalize(v any) any {
	switch x := v.(type) {
	case bson.M:
		return normalizeMap(x)
	case map[string]any:
		return normalizeMap(x)
	case domain.Payload:
		return normalizeMap(x)
	case bson.D:
		out := make(map[string]any, len(x))
		for _, e := range x {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case bson.A:
		return normalizeSlice(x)
	case []any:
		return normalizeSlice(x)
	case primitive.DateTime:
		return x.Time().UTC()
	}
	return v
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalize(v)
	}
	return out
}

func normalizeSlice(s []any) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = normalize(v)
	}
	return out
}
