package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	docdomain "github.com/jinford/curriculum-rag/internal/module/document/domain"
	"github.com/jinford/curriculum-rag/internal/module/retrieval/domain"
	"github.com/jinford/curriculum-rag/internal/shared/textutil"
)

const (
	DefaultRAGTopK         = 5
	DefaultWebTopK         = 5
	DefaultContentMaxChars = 2000
	// defaultFetchConcurrency は本文取得の同時実行数
	defaultFetchConcurrency = 3
)

// QueryEmbedder は検索クエリをベクトル化する
type QueryEmbedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// ChunkSearcher はチャンクの類似検索を行う
type ChunkSearcher interface {
	SearchSimilar(ctx context.Context, embedding []float32, topK int, filter docdomain.SearchFilter) ([]docdomain.SearchResult, error)
}

// DocumentLookup は検索結果にタイトルを付けるためにドキュメント台帳を参照する
type DocumentLookup interface {
	FindByIDs(ctx context.Context, ids []string) ([]*docdomain.Document, error)
}

// RetrievalService はステージごとの参考情報（RAG・Web）を取得します
//
// 検索の失敗は生成を止めず、空の結果で代替します。
// ただし学校名などの前提情報が欠けている場合は入力エラーとして返します。
type RetrievalService struct {
	embedder QueryEmbedder
	chunks   ChunkSearcher
	docs     DocumentLookup

	search       domain.SearchProvider
	fetcher      domain.ContentFetcher
	webEnabled   bool
	fetchContent bool
	locale       string

	ragTopK      int
	webTopK      int
	contentChars int
	logger       *slog.Logger
}

// Option は RetrievalService のオプション
type Option func(*RetrievalService)

// WithWeb はWeb検索を有効にする。fetcher が nil の場合は本文を取得しない
func WithWeb(search domain.SearchProvider, fetcher domain.ContentFetcher, locale string) Option {
	return func(s *RetrievalService) {
		s.search = search
		s.fetcher = fetcher
		s.locale = locale
		s.webEnabled = search != nil
		s.fetchContent = fetcher != nil
	}
}

// WithTopK はRAGとWebの取得件数を指定する
func WithTopK(rag, web int) Option {
	return func(s *RetrievalService) {
		if rag > 0 {
			s.ragTopK = rag
		}
		if web > 0 {
			s.webTopK = web
		}
	}
}

// WithContentMaxChars はプロンプトに渡す本文の最大文字数を指定する
func WithContentMaxChars(n int) Option {
	return func(s *RetrievalService) {
		if n > 0 {
			s.contentChars = n
		}
	}
}

// WithLogger はロガーを差し替える
func WithLogger(logger *slog.Logger) Option {
	return func(s *RetrievalService) { s.logger = logger }
}

// NewRetrievalService は新しいRetrievalServiceを作成します
func NewRetrievalService(embedder QueryEmbedder, chunks ChunkSearcher, docs DocumentLookup, opts ...Option) *RetrievalService {
	s := &RetrievalService{
		embedder:     embedder,
		chunks:       chunks,
		docs:         docs,
		ragTopK:      DefaultRAGTopK,
		webTopK:      DefaultWebTopK,
		contentChars: DefaultContentMaxChars,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// WebEnabled はWeb検索が設定されているかを返す
func (s *RetrievalService) WebEnabled() bool {
	return s.webEnabled
}

// Retrieve はRAGとWebの検索を並行して実行します
func (s *RetrievalService) Retrieve(ctx context.Context, req domain.Request) (*domain.Result, error) {
	useWeb := req.UseWeb && s.webEnabled
	if useWeb && strings.TrimSpace(req.SchoolName) == "" {
		return nil, domain.ErrSchoolNameRequired
	}

	result := &domain.Result{RAG: []domain.RetrievedChunk{}, Web: []domain.WebResult{}}

	var (
		ragErr error
		webErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	if req.UseRAG {
		g.Go(func() error {
			result.RAG, ragErr = s.retrieveRAG(gctx, req)
			return nil
		})
	}
	if useWeb {
		g.Go(func() error {
			result.Web, webErr = s.retrieveWeb(gctx, req)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if ragErr != nil {
		s.logger.Warn("RAG検索に失敗したため参考資料なしで続行します", "stage", req.StageID, "error", ragErr)
		result.RAG = []domain.RetrievedChunk{}
		result.Degraded = append(result.Degraded, "rag")
	}
	if webErr != nil {
		s.logger.Warn("Web検索に失敗したため検索結果なしで続行します", "stage", req.StageID, "error", webErr)
		result.Web = []domain.WebResult{}
		result.Degraded = append(result.Degraded, "web")
	}

	s.logger.Debug("参考情報を取得しました",
		"stage", req.StageID,
		"rag", len(result.RAG),
		"web", len(result.Web),
	)
	return result, nil
}

func (s *RetrievalService) retrieveRAG(ctx context.Context, req domain.Request) ([]domain.RetrievedChunk, error) {
	query := strings.TrimSpace(textutil.FirstNonEmpty(req.Query, req.DefaultTopic))
	if query == "" {
		return []domain.RetrievedChunk{}, nil
	}

	embedding, err := s.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := s.chunks.SearchSimilar(ctx, embedding, s.ragTopK, docdomain.SearchFilter{StageID: req.StageID})
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	titles := s.resolveTitles(ctx, hits)

	type key struct {
		doc   string
		index int
	}
	seen := make(map[key]struct{}, len(hits))
	seenContent := make(map[string]struct{}, len(hits))
	chunks := make([]domain.RetrievedChunk, 0, len(hits))
	for _, h := range hits {
		k := key{h.DocumentID, h.ChunkIndex}
		if _, dup := seen[k]; dup {
			continue
		}
		content := strings.TrimSpace(h.Content)
		if _, dup := seenContent[content]; dup {
			continue
		}
		seen[k] = struct{}{}
		seenContent[content] = struct{}{}

		chunks = append(chunks, domain.RetrievedChunk{
			DocumentID:    h.DocumentID,
			DocumentTitle: textutil.FirstNonEmpty(titles[h.DocumentID], h.Metadata.Filename, h.DocumentID),
			ChunkIndex:    h.ChunkIndex,
			Content:       textutil.TruncateRunes(content, s.contentChars),
			Score:         h.Score,
		})
	}
	return chunks, nil
}

// resolveTitles は台帳からドキュメントの表示名を引く。失敗してもタイトルなしで続行する
func (s *RetrievalService) resolveTitles(ctx context.Context, hits []docdomain.SearchResult) map[string]string {
	titles := make(map[string]string)
	if s.docs == nil || len(hits) == 0 {
		return titles
	}

	var ids []string
	for _, h := range hits {
		if _, ok := titles[h.DocumentID]; !ok {
			titles[h.DocumentID] = ""
			ids = append(ids, h.DocumentID)
		}
	}

	docs, err := s.docs.FindByIDs(ctx, ids)
	if err != nil {
		s.logger.Warn("ドキュメント名の取得に失敗しました", "error", err)
		return titles
	}
	for _, d := range docs {
		titles[d.ID] = d.DisplayTitle()
	}
	return titles
}

func (s *RetrievalService) retrieveWeb(ctx context.Context, req domain.Request) ([]domain.WebResult, error) {
	query := BuildWebQuery(req)

	found, err := s.search.Search(ctx, query, s.webTopK, s.locale)
	if err != nil {
		return nil, fmt.Errorf("failed to search web: %w", err)
	}

	seen := make(map[string]struct{}, len(found))
	results := make([]domain.WebResult, 0, len(found))
	for _, r := range found {
		if _, dup := seen[r.URL]; dup {
			continue
		}
		seen[r.URL] = struct{}{}
		results = append(results, r)
	}

	if s.fetchContent {
		s.fetchContents(ctx, results)
	}

	for i := range results {
		results[i].Snippet = textutil.TruncateRunes(results[i].Snippet, s.contentChars)
		results[i].Content = textutil.TruncateRunes(results[i].Content, s.contentChars)
	}
	return results, nil
}

// fetchContents は各検索結果の本文を並行して取得する。失敗した結果はスニペットのみで残す
func (s *RetrievalService) fetchContents(ctx context.Context, results []domain.WebResult) {
	var g errgroup.Group
	g.SetLimit(defaultFetchConcurrency)
	for i := range results {
		g.Go(func() error {
			content, err := s.fetcher.Fetch(ctx, results[i].URL)
			if err != nil {
				s.logger.Debug("本文の取得に失敗しました", "url", results[i].URL, "error", err)
				return nil
			}
			results[i].Content = strings.TrimSpace(content)
			return nil
		})
	}
	_ = g.Wait()
}

// BuildWebQuery は学校名・地域とクエリ（またはステージ既定のトピック）から検索語を組み立てる
func BuildWebQuery(req domain.Request) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{req.SchoolName, req.Region, textutil.FirstNonEmpty(req.Query, req.DefaultTopic)} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}
