package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jinford/curriculum-rag/internal/module/generation/domain"
	llmapp "github.com/jinford/curriculum-rag/internal/module/llm/application"
	llm "github.com/jinford/curriculum-rag/internal/module/llm/domain"
	retrieval "github.com/jinford/curriculum-rag/internal/module/retrieval/domain"
	stageapp "github.com/jinford/curriculum-rag/internal/module/stage/application"
	stage "github.com/jinford/curriculum-rag/internal/module/stage/domain"
	"github.com/jinford/curriculum-rag/internal/shared/apperr"
	"github.com/jinford/curriculum-rag/internal/shared/textutil"
)

const systemPrompt = "你是一名熟悉国家课程方案与课程标准的中小学课程规划专家，回答需专业、具体、可落地。"

// StageStore はステージ状態の読み書き
type StageStore interface {
	GetProject(ctx context.Context, projectID string) (*stage.Project, error)
	GetPreviousStagesContext(ctx context.Context, projectID, stageID string) ([]stageapp.StageContext, error)
	SaveStageInput(ctx context.Context, projectID, stageID string, input stage.Payload) (*stage.StageData, error)
	SaveStageOutput(ctx context.Context, params stageapp.SaveOutputParams) (*stageapp.SaveOutputResult, error)
	CompleteStage(ctx context.Context, projectID, stageID string) (*stage.Project, error)
	AppendConversation(ctx context.Context, projectID, key string, msgs ...stage.Message) error
	Conversation(ctx context.Context, projectID, key string) ([]stage.Message, error)
}

// Retriever はRAG/Web検索
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) (*retrieval.Result, error)
}

// GenerationService は1ステージ分の生成を組み立てます
type GenerationService struct {
	stages    StageStore
	templates domain.TemplateStore
	client    llm.Client
	queue     *llmapp.RequestQueue
	validator *domain.ContentValidator

	retriever   Retriever
	prompts     *PromptBuilder
	counter     llm.TokenCounter
	temperature float64
	maxTokens   int
	bufferSize  int
	logger      *slog.Logger
}

// Option は GenerationService のオプション
type Option func(*GenerationService)

// WithRetriever は検索サービスを設定する。未設定の場合は検索しない
func WithRetriever(r Retriever) Option {
	return func(s *GenerationService) { s.retriever = r }
}

// WithTokenCounter はトークン数の計測方法を設定する
func WithTokenCounter(counter llm.TokenCounter, maxPromptTokens int) Option {
	return func(s *GenerationService) {
		s.counter = counter
		s.prompts = NewPromptBuilder(counter, maxPromptTokens)
	}
}

// WithSampling は温度と最大トークン数を設定する
func WithSampling(temperature float64, maxTokens int) Option {
	return func(s *GenerationService) {
		s.temperature = temperature
		s.maxTokens = maxTokens
	}
}

// WithEventBuffer はストリームのバッファサイズを設定する
func WithEventBuffer(n int) Option {
	return func(s *GenerationService) {
		if n >= 0 {
			s.bufferSize = n
		}
	}
}

// WithLogger はロガーを差し替える
func WithLogger(logger *slog.Logger) Option {
	return func(s *GenerationService) { s.logger = logger }
}

// NewGenerationService は新しいGenerationServiceを作成します
func NewGenerationService(
	stages StageStore,
	templates domain.TemplateStore,
	client llm.Client,
	queue *llmapp.RequestQueue,
	validator *domain.ContentValidator,
	opts ...Option,
) *GenerationService {
	s := &GenerationService{
		stages:      stages,
		templates:   templates,
		client:      client,
		queue:       queue,
		validator:   validator,
		temperature: 0.7,
		bufferSize:  64,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.counter == nil {
		s.counter = estimatingCounter{}
	}
	if s.prompts == nil {
		s.prompts = NewPromptBuilder(s.counter, DefaultMaxPromptTokens)
	}
	if s.queue == nil {
		s.queue = llmapp.NewRequestQueue(llmapp.DefaultMaxConcurrent)
	}
	if s.validator == nil {
		s.validator = domain.NewContentValidator(nil, nil)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Generate は一括モードで生成し、結果を保存して返します
func (s *GenerationService) Generate(ctx context.Context, req domain.Request) (*domain.Result, error) {
	return s.run(ctx, req, nil)
}

// Stream はストリーミングモードで生成し、イベントを順に配信します
//
// イベントは内部のキューを経由して配信されるため、受信側の読み出しが遅れても LLM からの受信は止まりません。
// 受信側の ctx が終了するとイベントは破棄されますが、生成と保存は切り離したコンテキストで最後まで続行します。
// チャネルは生成の終了後に閉じられます。
func (s *GenerationService) Stream(ctx context.Context, req domain.Request) <-chan domain.Event {
	events := make(chan domain.Event, s.bufferSize)
	queue := newEventQueue()

	go func() {
		defer queue.close()
		result, err := s.run(context.WithoutCancel(ctx), req, queue.push)
		if err != nil {
			queue.push(domain.Event{Type: domain.EventError, Phase: domain.PhaseFailed, Err: err})
			return
		}
		queue.push(domain.Event{Type: domain.EventDone, Phase: domain.PhaseDone, Result: result})
	}()

	go func() {
		defer close(events)
		queue.forward(ctx, events)
	}()
	return events
}

// run は生成の全段階を実行する。emit が nil の場合は一括モード
func (s *GenerationService) run(ctx context.Context, req domain.Request, emit func(domain.Event)) (*domain.Result, error) {
	streaming := emit != nil
	phase := func(p domain.Phase) {
		s.logger.Debug("生成の段階が進みました", "projectID", req.ProjectID, "stage", req.Stage, "phase", p)
		if emit != nil {
			emit(domain.Event{Type: domain.EventPhase, Phase: p})
		}
	}

	result, err := s.generate(ctx, req, streaming, phase, emit)
	if err != nil {
		s.logger.Warn("生成に失敗しました", "projectID", req.ProjectID, "stage", req.Stage, "error", err)
		if !streaming {
			phase(domain.PhaseFailed)
		}
		return nil, err
	}
	if !streaming {
		phase(domain.PhaseDone)
	}
	return result, nil
}

func (s *GenerationService) generate(
	ctx context.Context,
	req domain.Request,
	streaming bool,
	phase func(domain.Phase),
	emit func(domain.Event),
) (*domain.Result, error) {
	id, err := stage.ParseID(req.Stage)
	if err != nil {
		return nil, err
	}
	def, _ := stage.Lookup(id)
	phase(domain.PhasePending)

	project, err := s.stages.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}

	input := req.Input
	if input == nil {
		input = project.Stage(id).Input.Clone()
	}
	if err := def.Schema().ValidateInput(input); err != nil {
		return nil, err
	}

	previous, err := s.stages.GetPreviousStagesContext(ctx, req.ProjectID, string(id))
	if err != nil {
		return nil, err
	}

	found, err := s.retrieve(ctx, req, def, project)
	if err != nil {
		return nil, err
	}

	tmpl, err := s.resolveTemplate(ctx, def.TemplateKey, req.Author.UserID)
	if err != nil {
		return nil, err
	}

	prompt := s.prompts.Build(tmpl.content, PromptData{
		Project:  project,
		Stage:    def,
		Input:    input,
		Query:    req.Query,
		Previous: previous,
		RAG:      found.RAG,
		Web:      found.Web,
	})

	messages := []llm.Message{{Role: llm.RoleSystem, Content: systemPrompt}}
	history, err := s.history(ctx, req)
	if err != nil {
		return nil, err
	}
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt.Text})
	chatReq := llm.ChatRequest{Messages: messages, Temperature: s.temperature, MaxTokens: s.maxTokens}

	resp, err := llmapp.Run(ctx, s.queue, func(ctx context.Context) (llm.ChatResponse, error) {
		if !streaming {
			phase(domain.PhaseAwaiting)
			return s.client.Chat(ctx, chatReq)
		}
		phase(domain.PhaseStreaming)
		return s.client.ChatStream(ctx, chatReq, func(delta string) {
			emit(domain.Event{Type: domain.EventDelta, Delta: delta})
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate %s: %w", id, err)
	}

	report := strings.TrimSpace(resp.Content)
	if report == "" {
		return nil, apperr.Wrap(domain.ErrEmptyGeneration, "generate", fmt.Errorf("%s", id))
	}
	if req.IncludeCitations {
		report = appendCitations(report, prompt.RAG, prompt.Web)
	}

	phase(domain.PhaseValidating)
	validation := s.validator.Validate(report)
	scored := domain.Score(def.Scorer, domain.ScoreInput{
		Input:          input,
		Schema:         def.Schema(),
		RetrievalCount: len(prompt.RAG) + len(prompt.Web),
	})
	usage := s.usage(messages, resp)

	phase(domain.PhasePersisting)
	output := stage.Payload{
		stage.KeyReport: report,
		"suggestions":   validation.Suggestions,
		"keywords":      validation.FoundKeywords,
	}
	for k, v := range scored.Fields {
		output[k] = v
	}

	if req.Input != nil {
		if _, err := s.stages.SaveStageInput(ctx, req.ProjectID, string(id), input); err != nil {
			return nil, err
		}
	}

	saved, err := s.stages.SaveStageOutput(ctx, stageapp.SaveOutputParams{
		ProjectID:     req.ProjectID,
		Stage:         string(id),
		Output:        output,
		Score:         &scored.Score,
		Author:        req.Author,
		IsAIGenerated: true,
		Metadata: &stage.GenerationMetadata{
			Prompt:          prompt.Text,
			TemplateKey:     def.TemplateKey,
			TemplateVersion: tmpl.version,
			Variant:         tmpl.variant,
			Model:           resp.Model,
			RAGResults:      prompt.RAG,
			WebResults:      prompt.Web,
			Usage:           usage,
			Suggestions:     validation.Suggestions,
		},
		ChangeNote: "AI生成",
	})
	if err != nil {
		return nil, err
	}

	result := &domain.Result{
		ProjectID:  req.ProjectID,
		Stage:      id,
		Report:     report,
		Output:     saved.Stage.Output.Clone(),
		Score:      scored.Score,
		Validation: validation,
		RAGResults: prompt.RAG,
		WebResults: prompt.Web,
		Degraded:   found.Degraded,
		Usage:      usage,
		Model:      resp.Model,
		Prompt:     prompt.Text,
	}
	if saved.Version != nil {
		result.Version = saved.Version.Version
	}

	// 出力とバージョンは保存済みのため、完了の失敗では生成結果を破棄しない
	if _, err := s.stages.CompleteStage(ctx, req.ProjectID, string(id)); err != nil {
		s.logger.Warn("生成結果は保存しましたがステージを完了にできませんでした",
			"projectID", req.ProjectID,
			"stage", id,
			"error", err,
		)
	} else {
		result.Completed = true
	}

	s.appendConversation(ctx, req, def, report)

	s.logger.Info("ステージを生成しました",
		"projectID", req.ProjectID,
		"stage", id,
		"version", result.Version,
		"valid", validation.IsValid,
		"rag", len(prompt.RAG),
		"web", len(prompt.Web),
		"totalTokens", usage.TotalTokens,
	)
	return result, nil
}

// retrieve は参考情報を取得する。学校名の不足以外の失敗は空の結果で代替する
func (s *GenerationService) retrieve(ctx context.Context, req domain.Request, def stage.Definition, project *stage.Project) (*retrieval.Result, error) {
	empty := &retrieval.Result{RAG: []retrieval.RetrievedChunk{}, Web: []retrieval.WebResult{}}
	if s.retriever == nil || (!req.UseRAG && !req.UseWeb) {
		return empty, nil
	}

	found, err := s.retriever.Retrieve(ctx, retrieval.Request{
		StageID:      string(def.ID),
		Query:        req.Query,
		DefaultTopic: def.WebTopic,
		SchoolName:   project.SchoolName,
		Region:       project.Region,
		UseRAG:       req.UseRAG,
		UseWeb:       req.UseWeb,
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindValidation || ctx.Err() != nil {
			return nil, err
		}
		s.logger.Warn("参考情報の取得に失敗したため参考情報なしで生成します", "stage", def.ID, "error", err)
		if req.UseRAG {
			empty.Degraded = append(empty.Degraded, "rag")
		}
		if req.UseWeb {
			empty.Degraded = append(empty.Degraded, "web")
		}
		return empty, nil
	}
	if found.RAG == nil {
		found.RAG = []retrieval.RetrievedChunk{}
	}
	if found.Web == nil {
		found.Web = []retrieval.WebResult{}
	}
	return found, nil
}

type resolvedTemplate struct {
	content string
	version int
	variant int
}

// resolveTemplate はA/Bテストの設定に従ってテンプレートの版を選ぶ
func (s *GenerationService) resolveTemplate(ctx context.Context, key, userID string) (resolvedTemplate, error) {
	t, err := s.templates.GetTemplate(ctx, key)
	if err != nil {
		return resolvedTemplate{}, fmt.Errorf("failed to load prompt template %s: %w", key, err)
	}

	resolved := resolvedTemplate{content: t.Content, version: t.Version}
	if t.ABTesting == nil || !t.ABTesting.Enabled || len(t.ABTesting.Variants) == 0 {
		return resolved, nil
	}

	weights := make([]float64, len(t.ABTesting.Variants))
	for i, v := range t.ABTesting.Variants {
		weights[i] = v.Weight
	}
	idx := domain.SelectVariant(weights, domain.ResolveSeed(userID))
	chosen := t.ABTesting.Variants[idx]
	resolved.variant = idx
	if chosen.Version == t.Version {
		return resolved, nil
	}

	content, err := s.templates.GetVersionSnapshot(ctx, key, chosen.Version)
	if err != nil {
		s.logger.Warn("A/Bテストのテンプレートを取得できないため現在の版を使います",
			"key", key,
			"version", chosen.Version,
			"error", err,
		)
		return resolvedTemplate{content: t.Content, version: t.Version}, nil
	}
	resolved.content = content
	resolved.version = chosen.Version
	return resolved, nil
}

func (s *GenerationService) history(ctx context.Context, req domain.Request) ([]llm.Message, error) {
	if req.SessionKey == "" {
		return nil, nil
	}
	msgs, err := s.stages.Conversation(ctx, req.ProjectID, req.SessionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		role := llm.Role(m.Role)
		if role != llm.RoleUser && role != llm.RoleAssistant {
			continue
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out, nil
}

func (s *GenerationService) appendConversation(ctx context.Context, req domain.Request, def stage.Definition, report string) {
	if req.SessionKey == "" {
		return
	}
	ask := textutil.FirstNonEmpty(req.Query, "请生成“"+def.Title+"”")
	err := s.stages.AppendConversation(ctx, req.ProjectID, req.SessionKey,
		stage.Message{Role: string(llm.RoleUser), Content: ask},
		stage.Message{Role: string(llm.RoleAssistant), Content: report},
	)
	if err != nil {
		s.logger.Warn("会話履歴の保存に失敗しました", "projectID", req.ProjectID, "session", req.SessionKey, "error", err)
	}
}

// usage はプロバイダが使用量を返さない場合に推定する
func (s *GenerationService) usage(messages []llm.Message, resp llm.ChatResponse) stage.TokenUsage {
	if !resp.Usage.IsZero() {
		return stage.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	prompt := 0
	for _, m := range messages {
		prompt += s.counter.CountTokens(m.Content)
	}
	completion := s.counter.CountTokens(resp.Content)
	return stage.TokenUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
		Estimated:        true,
	}
}

// estimatingCounter はトークナイザ未設定時の推定（3文字で1トークン）
type estimatingCounter struct{}

func (estimatingCounter) CountTokens(text string) int {
	n := len([]rune(text))
	if n == 0 {
		return 0
	}
	return max(n/3, 1)
}
