package domain

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	stage "github.com/jinford/curriculum-rag/internal/module/stage/domain"
)

// スコアラーID（ステージ定義の scorer と対応）
const (
	ScorerSWOT         = "swot"
	ScorerValues       = "values"
	ScorerConcept      = "concept"
	ScorerVirtues      = "virtues"
	ScorerItems        = "items"
	ScorerCompleteness = "completeness"
)

// ScoreInput はステージ別スコア計算の入力
type ScoreInput struct {
	Input          stage.Payload
	Schema         stage.Schema
	RetrievalCount int
}

// ScoreResult はスコアと出力に追加する派生フィールド
type ScoreResult struct {
	Score  stage.DiagnosticScore
	Fields stage.Payload
}

// SWOTDimensions はQ1の評価軸
var SWOTDimensions = []string{"strengths", "weaknesses", "opportunities", "threats"}

// VirtueDimensions は五育の評価軸（徳・智・体・美・労）
var VirtueDimensions = []string{"moral", "intellectual", "physical", "aesthetic", "labor"}

// Score はスコアラーIDに対応するヒューリスティックで診断スコアを計算する
//
// 全体スコアと各次元は [0,100]、項目スコアは [1,5] に収める。
// 未知のスコアラーは完成度で評価する。
func Score(scorer string, in ScoreInput) ScoreResult {
	switch scorer {
	case ScorerSWOT:
		return scoreSWOT(in)
	case ScorerValues:
		return scoreValues(in)
	case ScorerConcept:
		return scoreConcept(in)
	case ScorerVirtues:
		return scoreVirtues(in)
	case ScorerItems:
		return scoreItems(in)
	default:
		return scoreCompleteness(in)
	}
}

func scoreSWOT(in ScoreInput) ScoreResult {
	dims := make(map[string]float64, len(SWOTDimensions))
	fields := make(map[string]any, len(SWOTDimensions))
	sum := 0.0
	for _, dim := range SWOTDimensions {
		items := in.Input.Strings(dim)
		length := utf8.RuneCountInString(strings.Join(items, ""))
		score := float64(len(items))*15 + math.Min(40, float64(length)/5)
		if in.RetrievalCount >= 3 {
			score += 10
		}
		score = Clamp(score, 0, 100)
		dims[dim] = score
		fields[dim] = score
		sum += score
	}
	overall := Clamp(math.Round(sum/float64(len(SWOTDimensions))), 0, 100)
	return ScoreResult{
		Score:  stage.DiagnosticScore{Overall: overall, Dimensions: dims},
		Fields: stage.Payload{"swot_scores": fields},
	}
}

func scoreValues(in ScoreInput) ScoreResult {
	terms := in.Input.Strings("core_values")
	philosophy := strings.ToLower(in.Input.String("philosophy"))

	consistency := 60.0
	if len(terms) > 0 {
		matched := 0
		for _, term := range terms {
			if strings.Contains(philosophy, strings.ToLower(term)) {
				matched++
			}
		}
		consistency = math.Round(100 * float64(matched) / float64(len(terms)))
	}
	consistency = Clamp(consistency, 0, 100)
	return ScoreResult{
		Score: stage.DiagnosticScore{
			Overall:    consistency,
			Dimensions: map[string]float64{"value_consistency": consistency},
		},
		Fields: stage.Payload{"value_consistency": consistency},
	}
}

func scoreConcept(in ScoreInput) ScoreResult {
	clarity := 40.0
	if strings.TrimSpace(in.Input.String("core_concept")) != "" {
		clarity += 30
	}
	clarity += math.Min(30, math.Floor(float64(utf8.RuneCountInString(in.Input.String("concept_description")))/10))
	clarity = Clamp(clarity, 0, 100)
	return ScoreResult{
		Score: stage.DiagnosticScore{
			Overall:    clarity,
			Dimensions: map[string]float64{"clarity": clarity},
		},
		Fields: stage.Payload{"clarity_score": clarity},
	}
}

func scoreVirtues(in ScoreInput) ScoreResult {
	priorities := in.Input.Map("priorities")
	weights := make([]float64, len(VirtueDimensions))
	for i, dim := range VirtueDimensions {
		if w, ok := stage.ToFloat(priorities[dim]); ok && w > 0 && !math.IsInf(w, 0) {
			weights[i] = w
		}
	}

	percentages := VirtueDistribution(weights)
	dims := make(map[string]float64, len(VirtueDimensions))
	fields := make(map[string]any, len(VirtueDimensions))
	uniform := 100.0 / float64(len(VirtueDimensions))
	deviation := 0.0
	for i, dim := range VirtueDimensions {
		p := float64(percentages[i])
		dims[dim] = p
		fields[dim] = percentages[i]
		deviation += math.Abs(p - uniform)
	}
	deviation /= float64(len(VirtueDimensions))
	overall := Clamp(math.Round(100-deviation*2.5), 0, 100)

	return ScoreResult{
		Score:  stage.DiagnosticScore{Overall: overall, Dimensions: dims},
		Fields: stage.Payload{"five_virtues": fields},
	}
}

// VirtueDistribution は重みを合計100の整数パーセントに配分する（最大剰余方式）
//
// 重みの合計が0の場合は均等に配分する。
func VirtueDistribution(weights []float64) []int {
	n := len(weights)
	out := make([]int, n)
	if n == 0 {
		return out
	}

	// 最大の重みで正規化してから合計する（極端に大きな重みでも合計が +Inf にならない）
	scaled := make([]float64, n)
	peak := 0.0
	for i, w := range weights {
		if w > 0 {
			scaled[i] = math.Min(w, math.MaxFloat64)
			peak = math.Max(peak, scaled[i])
		}
	}
	total := 0.0
	if peak > 0 {
		for i := range scaled {
			scaled[i] /= peak
			total += scaled[i]
		}
	}

	raw := make([]float64, n)
	for i, w := range scaled {
		switch {
		case total <= 0:
			raw[i] = 100 / float64(n)
		case w > 0:
			raw[i] = 100 * (w / total)
		}
	}

	assigned := 0
	order := make([]int, n)
	for i, r := range raw {
		out[i] = int(math.Floor(r))
		assigned += out[i]
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return raw[order[a]]-math.Floor(raw[order[a]]) > raw[order[b]]-math.Floor(raw[order[b]])
	})
	for k := 0; assigned < 100; k++ {
		out[order[k%n]]++
		assigned++
	}
	return out
}

func scoreItems(in ScoreInput) ScoreResult {
	courses := in.Input.Items("courses")
	scored := make([]any, 0, len(courses))
	sum := 0.0
	for _, course := range courses {
		s := ItemScore(course)
		sum += s
		name, _ := course["name"].(string)
		scored = append(scored, map[string]any{"name": name, "score": s})
	}

	overall := 0.0
	if len(courses) > 0 {
		overall = Clamp(math.Round(sum/float64(len(courses))*20), 0, 100)
	}
	return ScoreResult{
		Score: stage.DiagnosticScore{
			Overall:    overall,
			Dimensions: map[string]float64{"course_count": Clamp(float64(len(courses))*10, 0, 100)},
		},
		Fields: stage.Payload{"course_scores": scored},
	}
}

// ItemScore は1項目を [1,5] で評価する。level があればそれを、なければ記述の長さを使う
func ItemScore(item map[string]any) float64 {
	if level, ok := stage.ToFloat(item["level"]); ok && !math.IsNaN(level) {
		return Clamp(math.Round(level), 1, 5)
	}
	text := ""
	for _, key := range []string{"name", "description"} {
		if s, ok := item[key].(string); ok {
			text += s
		}
	}
	return Clamp(1+math.Floor(float64(utf8.RuneCountInString(text))/20), 1, 5)
}

func scoreCompleteness(in ScoreInput) ScoreResult {
	completeness := math.Round(in.Schema.Completeness(in.Input) * 100)
	overall := completeness
	if in.RetrievalCount > 0 {
		overall += 10
	}
	overall = Clamp(overall, 0, 100)
	return ScoreResult{
		Score: stage.DiagnosticScore{
			Overall:    overall,
			Dimensions: map[string]float64{"completeness": Clamp(completeness, 0, 100)},
		},
		Fields: stage.Payload{"completeness": overall},
	}
}

// Clamp は v を [lo, hi] に収める。NaN は lo とする
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
