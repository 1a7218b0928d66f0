package application_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/jinford/curriculum-rag/internal/module/generation/application"
	retrieval "github.com/jinford/curriculum-rag/internal/module/retrieval/domain"
	stageapp "github.com/jinford/curriculum-rag/internal/module/stage/application"
	stage "github.com/jinford/curriculum-rag/internal/module/stage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runeCounter は1文字を1トークンとして数える
type runeCounter struct{}

func (runeCounter) CountTokens(text string) int {
	return utf8.RuneCountInString(text)
}

func promptData() application.PromptData {
	def, _ := stage.Lookup("Q1")
	return application.PromptData{
		Project: &stage.Project{Name: "课程规划", SchoolName: "阳光小学", Region: "杭州"},
		Stage:   def,
		Input:   stage.Payload{"strengths": "师资力量雄厚", "extra": []any{"科技", "艺术"}},
		RAG: []retrieval.RetrievedChunk{
			{DocumentTitle: "课程方案", Content: strings.Repeat("甲", 50)},
			{DocumentTitle: "课程标准", Content: strings.Repeat("乙", 50)},
		},
		Web: []retrieval.WebResult{
			{Title: "学校官网", URL: "https://example.edu", Snippet: strings.Repeat("丙", 50)},
			{Title: "新闻", URL: "https://news.example.com", Snippet: strings.Repeat("丁", 50)},
		},
	}
}

func TestPromptBuilder_Variables(t *testing.T) {
	// Setup
	b := application.NewPromptBuilder(runeCounter{}, 0)
	data := promptData()
	data.RAG = nil
	data.Web = nil

	// Execute
	got := b.Build("{{school_name}}/{{region}}/{{stage}}/{{strengths}}/{{rag_context}}/{{previous_stages}}/{{unknown}}", data)

	// Assert
	assert.Equal(t, "阳光小学/杭州/Q1/师资力量雄厚/（无）/（无）/", got.Text)
	require.NotNil(t, got.RAG)
	require.NotNil(t, got.Web)
	assert.Empty(t, got.RAG)
}

func TestPromptBuilder_InputListsDeclaredFieldsFirst(t *testing.T) {
	b := application.NewPromptBuilder(runeCounter{}, 0)

	got := b.Build("{{input}}", promptData())

	lines := strings.Split(got.Text, "\n")
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[0], "师资力量雄厚")
	assert.Contains(t, got.Text, "科技、艺术")
}

func TestPromptBuilder_TrimsWebBeforeRAG(t *testing.T) {
	const tmpl = "{{rag_context}}\n{{web_context}}"
	unlimited := application.NewPromptBuilder(runeCounter{}, 1_000_000)

	t.Run("Web結果を先に削る", func(t *testing.T) {
		// Setup
		withoutWeb := promptData()
		withoutWeb.Web = nil
		expected := unlimited.Build(tmpl, withoutWeb).Text
		b := application.NewPromptBuilder(runeCounter{}, utf8.RuneCountInString(expected))

		// Execute
		got := b.Build(tmpl, promptData())

		// Assert
		assert.Equal(t, expected, got.Text)
		assert.Len(t, got.RAG, 2)
		assert.Empty(t, got.Web)
	})

	t.Run("RAG結果は末尾から削る", func(t *testing.T) {
		// Setup
		oneChunk := promptData()
		oneChunk.Web = nil
		oneChunk.RAG = oneChunk.RAG[:1]
		expected := unlimited.Build(tmpl, oneChunk).Text
		b := application.NewPromptBuilder(runeCounter{}, utf8.RuneCountInString(expected))

		// Execute
		got := b.Build(tmpl, promptData())

		// Assert
		assert.Equal(t, expected, got.Text)
		require.Len(t, got.RAG, 1)
		assert.Equal(t, "课程方案", got.RAG[0].DocumentTitle)
	})

	t.Run("入力データは変更しない", func(t *testing.T) {
		data := promptData()
		b := application.NewPromptBuilder(runeCounter{}, 10)

		b.Build(tmpl, data)

		assert.Len(t, data.RAG, 2)
		assert.Len(t, data.Web, 2)
	})
}

func TestPromptBuilder_ShortensPreviousStages(t *testing.T) {
	// Setup
	data := promptData()
	data.RAG = nil
	data.Web = nil
	data.Previous = []stageapp.StageContext{{
		Stage:  "Q2",
		Title:  "办学理念与育人目标",
		Output: stage.Payload{"report": strings.Repeat("理", 1000)},
	}}
	b := application.NewPromptBuilder(runeCounter{}, 500)

	// Execute
	got := b.Build("{{previous_stages}}", data)

	// Assert
	assert.LessOrEqual(t, utf8.RuneCountInString(got.Text), 500)
	assert.True(t, strings.HasPrefix(got.Text, "### Q2 办学理念与育人目标\n理理理"))
	assert.True(t, strings.HasSuffix(got.Text, "…"))
}
