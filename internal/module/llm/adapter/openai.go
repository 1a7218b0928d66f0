package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jinford/curriculum-rag/internal/module/llm/domain"
	"github.com/jinford/curriculum-rag/internal/shared/apperr"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const (
	// DefaultModel はデフォルトで使用するチャットモデル
	DefaultModel = "gpt-4o-mini"

	// DefaultTimeout は一括生成のデフォルトタイムアウト
	DefaultTimeout = 120 * time.Second

	// DefaultIdleTimeout はストリーミングの無通信タイムアウト
	DefaultIdleTimeout = 45 * time.Second
)

// OpenAIClient はOpenAI互換APIを使用したLLMクライアント実装
type OpenAIClient struct {
	client      openai.Client
	model       string
	timeout     time.Duration
	idleTimeout time.Duration
	logger      *slog.Logger
}

// OpenAIClientOption は OpenAIClient のオプション
type OpenAIClientOption func(*openAIClientOptions)

type openAIClientOptions struct {
	baseURL     string
	model       string
	timeout     time.Duration
	idleTimeout time.Duration
	httpClient  *http.Client
	logger      *slog.Logger
}

// WithChatBaseURL はAPIのベースURLを差し替える
func WithChatBaseURL(baseURL string) OpenAIClientOption {
	return func(o *openAIClientOptions) { o.baseURL = baseURL }
}

// WithChatModel はデフォルトモデルを指定する
func WithChatModel(model string) OpenAIClientOption {
	return func(o *openAIClientOptions) { o.model = model }
}

// WithChatTimeout は一括生成のタイムアウトを指定する
func WithChatTimeout(d time.Duration) OpenAIClientOption {
	return func(o *openAIClientOptions) { o.timeout = d }
}

// WithStreamIdleTimeout はストリーミングの無通信タイムアウトを指定する
func WithStreamIdleTimeout(d time.Duration) OpenAIClientOption {
	return func(o *openAIClientOptions) { o.idleTimeout = d }
}

// WithChatHTTPClient はHTTPクライアントを差し替える
func WithChatHTTPClient(c *http.Client) OpenAIClientOption {
	return func(o *openAIClientOptions) { o.httpClient = c }
}

// WithChatLogger はロガーを差し替える
func WithChatLogger(logger *slog.Logger) OpenAIClientOption {
	return func(o *openAIClientOptions) { o.logger = logger }
}

// NewOpenAIClient はAPIキーを指定してOpenAIClientを作成する
func NewOpenAIClient(apiKey string, opts ...OpenAIClientOption) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, domain.ErrAPIKeyNotSet
	}

	o := openAIClientOptions{
		model:       DefaultModel,
		timeout:     DefaultTimeout,
		idleTimeout: DefaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	// リトライは呼び出し側のバッチ処理に任せる
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if o.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL))
	}
	if o.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(o.httpClient))
	}

	return &OpenAIClient{
		client:      openai.NewClient(reqOpts...),
		model:       o.model,
		timeout:     o.timeout,
		idleTimeout: o.idleTimeout,
		logger:      o.logger,
	}, nil
}

// ModelName はモデル名を返す
func (c *OpenAIClient) ModelName() string {
	return c.model
}

// Chat はテキストを一括で生成する
func (c *OpenAIClient) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	// タイムアウト付きコンテキストの作成
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	completion, err := c.client.Chat.Completions.New(callCtx, c.buildParams(req))
	if err != nil {
		return domain.ChatResponse{}, classifyError("chat", callCtx, ctx, err)
	}

	if len(completion.Choices) == 0 {
		return domain.ChatResponse{}, apperr.Wrap(domain.ErrEmptyCompletion, "chat", nil)
	}

	return domain.ChatResponse{
		Content: completion.Choices[0].Message.Content,
		Usage: domain.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
		Model: completion.Model,
	}, nil
}

// ChatStream はストリーミングでテキストを生成する
//
// 全体のタイムアウトは設けず、トークンを受信するたびに無通信タイムアウトをリセットする。
func (c *OpenAIClient) ChatStream(ctx context.Context, req domain.ChatRequest, onDelta domain.DeltaFunc) (domain.ChatResponse, error) {
	streamCtx, watchdog := newIdleWatchdog(ctx, c.idleTimeout)
	defer watchdog.Stop()

	params := c.buildParams(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	stream := c.client.Chat.Completions.NewStreaming(streamCtx, params)
	defer stream.Close()

	var (
		content strings.Builder
		usage   domain.Usage
		model   string
	)
	for stream.Next() {
		chunk := stream.Current()
		watchdog.Touch()

		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage.TotalTokens > 0 {
			usage = domain.Usage{
				PromptTokens:     int(chunk.Usage.PromptTokens),
				CompletionTokens: int(chunk.Usage.CompletionTokens),
				TotalTokens:      int(chunk.Usage.TotalTokens),
			}
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			content.WriteString(choice.Delta.Content)
			if onDelta != nil {
				onDelta(choice.Delta.Content)
			}
		}
	}

	if err := stream.Err(); err != nil {
		if errors.Is(context.Cause(streamCtx), domain.ErrIdleTimeout) {
			c.logger.Warn("ストリーミングが無通信のため中断しました", "idleTimeout", c.idleTimeout, "received", content.Len())
			return domain.ChatResponse{}, apperr.Wrap(domain.ErrIdleTimeout, "chat stream", err)
		}
		return domain.ChatResponse{}, classifyError("chat stream", streamCtx, ctx, err)
	}

	if model == "" {
		model = c.modelFor(req)
	}

	return domain.ChatResponse{
		Content: content.String(),
		Usage:   usage,
		Model:   model,
	}, nil
}

func (c *OpenAIClient) modelFor(req domain.ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return c.model
}

func (c *OpenAIClient) buildParams(req domain.ChatRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case domain.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.modelFor(req)),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	return params
}

// classifyError はSDKのエラーをタイムアウト・レート制限・一時障害に分類する
func classifyError(op string, callCtx, parentCtx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return apperr.Wrap(domain.ErrLLMTimeout, op, err)
	}
	if parentCtx.Err() != nil {
		return fmt.Errorf("%s: %w", op, parentCtx.Err())
	}
	if isRateLimitError(err) {
		return apperr.Wrap(domain.ErrRateLimitExceeded, op, err)
	}
	return apperr.Wrap(domain.ErrProviderUnavailable, op, err)
}

// isRateLimitError はエラーがレート制限エラーかどうかを判定する
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}

	// OpenAI SDKのエラー型を確認
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		// ステータスコード429はレート制限エラー
		return apiErr.StatusCode == http.StatusTooManyRequests
	}

	return false
}

// インターフェース実装の確認
var _ domain.Client = (*OpenAIClient)(nil)
