package container

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jinford/curriculum-rag/internal/module/document/adapter/blob"
	"github.com/jinford/curriculum-rag/internal/module/document/adapter/chunker"
	"github.com/jinford/curriculum-rag/internal/module/document/adapter/extractor"
	docmongo "github.com/jinford/curriculum-rag/internal/module/document/adapter/mongo"
	docpg "github.com/jinford/curriculum-rag/internal/module/document/adapter/pg"
	docapp "github.com/jinford/curriculum-rag/internal/module/document/application"
	"github.com/jinford/curriculum-rag/internal/module/generation/adapter/template"
	genapp "github.com/jinford/curriculum-rag/internal/module/generation/application"
	gendomain "github.com/jinford/curriculum-rag/internal/module/generation/domain"
	llmadapter "github.com/jinford/curriculum-rag/internal/module/llm/adapter"
	llmapp "github.com/jinford/curriculum-rag/internal/module/llm/application"
	llmdomain "github.com/jinford/curriculum-rag/internal/module/llm/domain"
	"github.com/jinford/curriculum-rag/internal/module/retrieval/adapter/web"
	retrievalapp "github.com/jinford/curriculum-rag/internal/module/retrieval/application"
	retrievaldomain "github.com/jinford/curriculum-rag/internal/module/retrieval/domain"
	stagemongo "github.com/jinford/curriculum-rag/internal/module/stage/adapter/mongo"
	stageapp "github.com/jinford/curriculum-rag/internal/module/stage/application"
	stagedomain "github.com/jinford/curriculum-rag/internal/module/stage/domain"
	"github.com/jinford/curriculum-rag/internal/platform/config"
	"github.com/jinford/curriculum-rag/internal/platform/database"
	"github.com/jinford/curriculum-rag/internal/platform/mongodb"
)

// Container はアプリケーション全体の依存関係を保持する
type Container struct {
	Config   *config.Config
	Logger   *slog.Logger
	Database *database.DB
	Mongo    *mongodb.Client

	VectorStore *docpg.VectorStore
	Registry    *docmongo.DocumentRegistry
	Projects    *stagemongo.ProjectRepository
	Versions    *stagemongo.VersionRepository
	Templates   *template.MongoStore
	Queue       *llmapp.RequestQueue

	Processor         *docapp.Processor
	DocumentService   *docapp.DocumentService
	RetrievalService  *retrievalapp.RetrievalService
	StageService      *stageapp.StageService
	VersionManager    *stageapp.VersionManager
	GenerationService *genapp.GenerationService
}

type containerOptions struct {
	embedder   llmdomain.Embedder
	llmClient  llmdomain.Client
	httpClient *http.Client
}

// Option は Container 構築時のオプション
type Option func(*containerOptions)

// WithEmbedder はEmbeddingプロバイダを差し替える
func WithEmbedder(e llmdomain.Embedder) Option {
	return func(o *containerOptions) { o.embedder = e }
}

// WithLLMClient は生成用のLLMクライアントを差し替える
func WithLLMClient(c llmdomain.Client) Option {
	return func(o *containerOptions) { o.llmClient = c }
}

// WithHTTPClient は外部プロバイダ呼び出しに使うHTTPクライアントを差し替える
func WithHTTPClient(c *http.Client) Option {
	return func(o *containerOptions) { o.httpClient = c }
}

// New は設定から接続を確立し、全サービスを組み立てる
func New(ctx context.Context, logger *slog.Logger, cfg *config.Config, opts ...Option) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := database.New(ctx, database.ConnectionParams{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
	}

	mc, err := mongodb.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("MongoDB初期化に失敗しました: %w", err)
	}

	c, err := NewWithConnections(logger, cfg, db, mc, opts...)
	if err != nil {
		db.Close()
		_ = mc.Close(context.Background())
		return nil, err
	}
	return c, nil
}

// NewWithConnections は既存の接続を受け取りコンテナを生成する
func NewWithConnections(logger *slog.Logger, cfg *config.Config, db *database.DB, mc *mongodb.Client, opts ...Option) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o containerOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = http.DefaultClient
	}

	// Embedding
	embedder := o.embedder
	if embedder == nil {
		var err error
		embedder, err = newEmbedder(cfg.Embedding, o.httpClient)
		if err != nil {
			return nil, fmt.Errorf("Embedder 初期化に失敗しました: %w", err)
		}
	}
	embeddingClient := llmapp.NewEmbeddingClient(embedder,
		llmapp.WithStrict(cfg.Embedding.Strict),
		llmapp.WithEmbeddingTimeout(cfg.Embedding.Timeout),
		llmapp.WithMaxInputChars(cfg.Embedding.MaxChars),
		llmapp.WithBatchSize(cfg.Embedding.BatchSize),
		llmapp.WithEmbeddingLogger(logger),
	)

	// ストア
	vectorStore := docpg.NewVectorStore(db.Pool, cfg.Embedding.Dimension)
	registry := docmongo.NewDocumentRegistry(mc.Database())
	blobs, err := blob.NewLocalStore(cfg.Processing.BlobRootDir)
	if err != nil {
		return nil, fmt.Errorf("Blobストア初期化に失敗しました: %w", err)
	}
	projects := stagemongo.NewProjectRepository(mc.Database())
	versions := stagemongo.NewVersionRepository(mc.Database())
	templates := template.NewMongoStore(mc.Database())

	// ドキュメント処理
	processor := docapp.NewProcessor(
		registry,
		blobs,
		extractor.NewRegistry(),
		chunker.New(
			chunker.WithChunkSize(cfg.Processing.ChunkSize),
			chunker.WithOverlap(cfg.Processing.ChunkOverlap),
		),
		embeddingClient,
		vectorStore,
		docapp.WithProcessorLogger(logger),
	)
	documentService := docapp.NewDocumentService(registry, blobs, vectorStore,
		docapp.WithStageValidator(stagedomain.IsValidID),
		docapp.WithDocumentServiceLogger(logger),
	)

	// 検索
	retrievalOpts := []retrievalapp.Option{
		retrievalapp.WithTopK(cfg.Generation.RAGTopK, cfg.Generation.WebTopK),
		retrievalapp.WithContentMaxChars(cfg.Generation.WebContentChars),
		retrievalapp.WithLogger(logger),
	}
	if cfg.Web.Enabled {
		search, fetcher := newWebProviders(cfg.Web, o.httpClient)
		retrievalOpts = append(retrievalOpts, retrievalapp.WithWeb(search, fetcher, cfg.Web.Locale))
	}
	retrievalService := retrievalapp.NewRetrievalService(embeddingClient, vectorStore, registry, retrievalOpts...)

	// ステージとバージョン
	versionManager := stageapp.NewVersionManager(versions, projects, stageapp.WithVersionLogger(logger))
	stageService := stageapp.NewStageService(projects, versionManager, stageapp.WithStageLogger(logger))

	// 生成
	llmClient := o.llmClient
	if llmClient == nil {
		client, err := llmadapter.NewOpenAIClient(cfg.OpenAI.APIKey,
			llmadapter.WithChatBaseURL(cfg.OpenAI.BaseURL),
			llmadapter.WithChatModel(cfg.OpenAI.Model),
			llmadapter.WithChatTimeout(cfg.Generation.BatchTimeout),
			llmadapter.WithStreamIdleTimeout(cfg.Generation.StreamIdleTimeout),
			llmadapter.WithChatHTTPClient(o.httpClient),
			llmadapter.WithChatLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("OpenAI LLMクライアント初期化に失敗しました: %w", err)
		}
		llmClient = client
	}

	defaults, err := template.NewDefaultStore()
	if err != nil {
		return nil, fmt.Errorf("既定テンプレートの読み込みに失敗しました: %w", err)
	}

	var counter llmdomain.TokenCounter
	tc, err := llmadapter.NewTokenCounter()
	if err != nil {
		logger.Warn("トークナイザを読み込めないため推定値でトークン数を数えます", "error", err)
		counter = llmadapter.EstimatingCounter{}
	} else {
		counter = tc
	}

	queue := llmapp.NewRequestQueue(cfg.Generation.MaxConcurrent)
	generationService := genapp.NewGenerationService(
		stageService,
		template.NewChainStore(logger, templates, defaults),
		llmClient,
		queue,
		gendomain.NewContentValidator(cfg.Validation.RequiredKeywords, cfg.Validation.SensitiveWords),
		genapp.WithRetriever(retrievalService),
		genapp.WithTokenCounter(counter, genapp.DefaultMaxPromptTokens),
		genapp.WithSampling(cfg.OpenAI.Temperature, cfg.OpenAI.MaxTokens),
		genapp.WithLogger(logger),
	)

	return &Container{
		Config:            cfg,
		Logger:            logger,
		Database:          db,
		Mongo:             mc,
		VectorStore:       vectorStore,
		Registry:          registry,
		Projects:          projects,
		Versions:          versions,
		Templates:         templates,
		Queue:             queue,
		Processor:         processor,
		DocumentService:   documentService,
		RetrievalService:  retrievalService,
		StageService:      stageService,
		VersionManager:    versionManager,
		GenerationService: generationService,
	}, nil
}

// EnsureIndexes はMongoDBのインデックスを作成する
func (c *Container) EnsureIndexes(ctx context.Context) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"documents", c.Registry.EnsureIndexes},
		{"projects", c.Projects.EnsureIndexes},
		{"stage_versions", c.Versions.EnsureIndexes},
		{"prompt_templates", c.Templates.EnsureIndexes},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("failed to ensure %s indexes: %w", s.name, err)
		}
	}
	return nil
}

// Close は内部リソースを解放する
func (c *Container) Close() {
	if c == nil {
		return
	}
	if c.Mongo != nil {
		if err := c.Mongo.Close(context.Background()); err != nil {
			c.Logger.Warn("MongoDB接続のクローズに失敗しました", "error", err)
		}
	}
	if c.Database != nil {
		c.Database.Close()
	}
}

func newEmbedder(cfg config.EmbeddingConfig, httpClient *http.Client) (llmdomain.Embedder, error) {
	switch cfg.Dialect {
	case "native":
		return llmadapter.NewNativeEmbedder(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Dimension, httpClient)
	default:
		return llmadapter.NewOpenAIEmbedder(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dimension, httpClient)
	}
}

// newWebProviders はWeb検索と本文取得のプロバイダを組み立てる
// 本文取得が無効の場合 fetcher は nil
func newWebProviders(cfg config.WebConfig, httpClient *http.Client) (retrievaldomain.SearchProvider, retrievaldomain.ContentFetcher) {
	limiter := web.NewLimiter(cfg.RequestsPerSecond)
	search := web.NewSerperSearch(cfg.SearchEndpoint, cfg.SearchAPIKey, cfg.SearchTimeout, limiter, httpClient)
	if !cfg.FetchContent {
		return search, nil
	}

	fallback := web.NewJinaFetcher(cfg.FallbackEndpoint, cfg.FallbackAPIKey, cfg.FetchTimeout, limiter, httpClient)
	if cfg.PrimaryAPIKey == "" {
		return search, fallback
	}
	primary := web.NewFirecrawlFetcher(cfg.PrimaryEndpoint, cfg.PrimaryAPIKey, cfg.FetchTimeout, limiter, httpClient)
	return search, web.NewFallbackFetcher(primary, fallback)
}
