package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmadapter "github.com/jinford/curriculum-rag/internal/module/llm/adapter"
	"github.com/jinford/curriculum-rag/internal/module/retrieval/adapter/web"
	"github.com/jinford/curriculum-rag/internal/platform/config"
)

func TestNewEmbedder_Dialect(t *testing.T) {
	t.Run("openai", func(t *testing.T) {
		e, err := newEmbedder(config.EmbeddingConfig{Dialect: "openai", APIKey: "k", Model: "m", Dimension: 8}, nil)
		require.NoError(t, err)
		assert.IsType(t, &llmadapter.OpenAIEmbedder{}, e)
		assert.Equal(t, 8, e.Dimension())
	})

	t.Run("native", func(t *testing.T) {
		e, err := newEmbedder(config.EmbeddingConfig{Dialect: "native", APIKey: "k", BaseURL: "http://localhost/embed", Model: "m", Dimension: 8}, nil)
		require.NoError(t, err)
		assert.IsType(t, &llmadapter.NativeEmbedder{}, e)
	})

	t.Run("native はエンドポイント必須", func(t *testing.T) {
		_, err := newEmbedder(config.EmbeddingConfig{Dialect: "native", APIKey: "k", Dimension: 8}, nil)
		require.Error(t, err)
	})
}

func TestNewWebProviders(t *testing.T) {
	base := config.WebConfig{
		Enabled:          true,
		SearchEndpoint:   "http://localhost/search",
		FallbackEndpoint: "http://localhost/reader/",
		FetchContent:     true,
	}

	t.Run("本文取得なし", func(t *testing.T) {
		cfg := base
		cfg.FetchContent = false
		search, fetcher := newWebProviders(cfg, nil)
		assert.NotNil(t, search)
		assert.Nil(t, fetcher)
	})

	t.Run("一次プロバイダのキーがなければ代替のみ", func(t *testing.T) {
		_, fetcher := newWebProviders(base, nil)
		assert.IsType(t, &web.JinaFetcher{}, fetcher)
	})

	t.Run("一次プロバイダと代替の組み合わせ", func(t *testing.T) {
		cfg := base
		cfg.PrimaryEndpoint = "http://localhost/scrape"
		cfg.PrimaryAPIKey = "key"
		_, fetcher := newWebProviders(cfg, nil)
		assert.IsType(t, &web.FallbackFetcher{}, fetcher)
	})
}
