package application

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/jinford/curriculum-rag/internal/module/generation/domain"
	llm "github.com/jinford/curriculum-rag/internal/module/llm/domain"
	retrieval "github.com/jinford/curriculum-rag/internal/module/retrieval/domain"
	stageapp "github.com/jinford/curriculum-rag/internal/module/stage/application"
	stage "github.com/jinford/curriculum-rag/internal/module/stage/domain"
	"github.com/jinford/curriculum-rag/internal/shared/textutil"
)

const (
	// DefaultMaxPromptTokens はプロンプトのトークン上限のデフォルト値
	DefaultMaxPromptTokens = 6000

	// previousReportRunes は前段ステージの本文を切り詰める長さ
	previousReportRunes = 800

	emptySection = "（无）"
)

// PromptData はテンプレート変数の元になる情報
type PromptData struct {
	Project  *stage.Project
	Stage    stage.Definition
	Input    stage.Payload
	Query    string
	Previous []stageapp.StageContext
	RAG      []retrieval.RetrievedChunk
	Web      []retrieval.WebResult
}

// BuiltPrompt は組み立てたプロンプトと実際に使った検索結果
type BuiltPrompt struct {
	Text string
	RAG  []retrieval.RetrievedChunk
	Web  []retrieval.WebResult
}

// PromptBuilder はテンプレートに変数を埋め込み、トークン上限に収まるよう参考情報を削る
type PromptBuilder struct {
	counter   llm.TokenCounter
	maxTokens int
}

// NewPromptBuilder は新しいPromptBuilderを作成する
func NewPromptBuilder(counter llm.TokenCounter, maxTokens int) *PromptBuilder {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxPromptTokens
	}
	return &PromptBuilder{counter: counter, maxTokens: maxTokens}
}

// Build はテンプレートを展開する
//
// 上限を超える場合はWeb結果、RAG結果の順に末尾から削り、最後に前段ステージの本文を短くする。
func (b *PromptBuilder) Build(template string, data PromptData) BuiltPrompt {
	rag := slices.Clone(data.RAG)
	web := slices.Clone(data.Web)
	previousRunes := previousReportRunes

	for {
		text := domain.Interpolate(template, b.vars(data, rag, web, previousRunes))
		if b.counter == nil || b.counter.CountTokens(text) <= b.maxTokens {
			return BuiltPrompt{Text: text, RAG: nonNilChunks(rag), Web: nonNilWeb(web)}
		}
		switch {
		case len(web) > 0:
			web = web[:len(web)-1]
		case len(rag) > 0:
			rag = rag[:len(rag)-1]
		case previousRunes > 100 && len(data.Previous) > 0:
			previousRunes /= 2
		default:
			return BuiltPrompt{Text: text, RAG: nonNilChunks(rag), Web: nonNilWeb(web)}
		}
	}
}

func (b *PromptBuilder) vars(data PromptData, rag []retrieval.RetrievedChunk, web []retrieval.WebResult, previousRunes int) map[string]string {
	vars := make(map[string]string, len(data.Input)+12)
	for key, value := range data.Input {
		vars[key] = formatValue(value)
	}
	if data.Project != nil {
		vars["project_name"] = data.Project.Name
		vars["school_name"] = data.Project.SchoolName
		vars["region"] = data.Project.Region
	}
	vars["stage"] = string(data.Stage.ID)
	vars["stage_title"] = data.Stage.Title
	vars["query"] = textutil.FirstNonEmpty(data.Query, data.Stage.WebTopic)
	vars["input"] = formatInput(data.Input, data.Stage.Fields)
	vars["previous_stages"] = formatPrevious(data.Previous, previousRunes)
	vars["rag_context"] = formatRAG(rag)
	vars["web_context"] = formatWeb(web)
	return vars
}

// formatInput は宣言済みフィールドを先に、それ以外をキー順に並べる
func formatInput(input stage.Payload, fields []string) string {
	keys := slices.Clone(fields)
	extra := slices.Sorted(maps.Keys(input))
	for _, k := range extra {
		if !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}

	var lines []string
	for _, k := range keys {
		if stage.IsEmptyValue(input[k]) {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s：%s", k, formatValue(input[k])))
	}
	if len(lines) == 0 {
		return emptySection
	}
	return strings.Join(lines, "\n")
}

func formatPrevious(previous []stageapp.StageContext, maxRunes int) string {
	if len(previous) == 0 {
		return emptySection
	}
	var sections []string
	for _, p := range previous {
		sections = append(sections, fmt.Sprintf("### %s %s\n%s",
			p.Stage, p.Title, textutil.TruncateWithEllipsis(p.Output.Report(), maxRunes)))
	}
	return strings.Join(sections, "\n\n")
}

func formatRAG(chunks []retrieval.RetrievedChunk) string {
	if len(chunks) == 0 {
		return emptySection
	}
	var sections []string
	for i, c := range chunks {
		sections = append(sections, fmt.Sprintf("[%d]《%s》\n%s", i+1, c.DocumentTitle, c.Content))
	}
	return strings.Join(sections, "\n\n")
}

func formatWeb(results []retrieval.WebResult) string {
	if len(results) == 0 {
		return emptySection
	}
	var sections []string
	for i, r := range results {
		sections = append(sections, fmt.Sprintf("[%d] %s（%s）\n%s", i+1, r.Title, r.URL, r.Text()))
	}
	return strings.Join(sections, "\n\n")
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case []string:
		return strings.Join(x, "、")
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			if s := formatValue(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "、")
	case map[string]any:
		return formatMap(x)
	case stage.Payload:
		return formatMap(x)
	}
	return fmt.Sprint(v)
}

func formatMap(m map[string]any) string {
	parts := make([]string, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(m[k])))
	}
	return strings.Join(parts, "；")
}

// appendCitations は参考資料の一覧を本文の末尾に付ける
func appendCitations(report string, rag []retrieval.RetrievedChunk, web []retrieval.WebResult) string {
	var refs []string
	seen := make(map[string]bool)
	for _, c := range rag {
		title := textutil.FirstNonEmpty(c.DocumentTitle, c.DocumentID)
		if seen["doc:"+title] {
			continue
		}
		seen["doc:"+title] = true
		refs = append(refs, fmt.Sprintf("《%s》", title))
	}
	for _, w := range web {
		if w.URL == "" || seen["url:"+w.URL] {
			continue
		}
		seen["url:"+w.URL] = true
		refs = append(refs, fmt.Sprintf("[%s](%s)", textutil.FirstNonEmpty(w.Title, w.URL), w.URL))
	}
	if len(refs) == 0 {
		return report
	}

	var b strings.Builder
	b.WriteString(report)
	b.WriteString("\n\n## 参考资料\n")
	for i, ref := range refs {
		fmt.Fprintf(&b, "%d. %s\n", i+1, ref)
	}
	return strings.TrimRight(b.String(), "\n")
}

func nonNilChunks(s []retrieval.RetrievedChunk) []retrieval.RetrievedChunk {
	if s == nil {
		return []retrieval.RetrievedChunk{}
	}
	return s
}

func nonNilWeb(s []retrieval.WebResult) []retrieval.WebResult {
	if s == nil {
		return []retrieval.WebResult{}
	}
	return s
}
