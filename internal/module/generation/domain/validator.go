package domain

import (
	"fmt"
	"strings"
)

// KeywordCheck は必須キーワードの判定結果
//
// Found と Missing は必須キーワードを重複なく分割する。
type KeywordCheck struct {
	Found   []string
	Missing []string
}

// SensitiveCheck は禁止語の判定結果
type SensitiveCheck struct {
	Found        []string
	HasSensitive bool
}

// ValidationResult は生成内容の検証結果
//
// 検証に通らなくても保存は止めない。Suggestions を呼び出し元に返す。
type ValidationResult struct {
	IsValid             bool     `json:"isValid"`
	HasRequiredKeywords bool     `json:"hasRequiredKeywords"`
	HasSensitiveContent bool     `json:"hasSensitiveContent"`
	FoundKeywords       []string `json:"foundKeywords,omitempty"`
	MissingKeywords     []string `json:"missingKeywords,omitempty"`
	SensitiveWords      []string `json:"sensitiveWords,omitempty"`
	Suggestions         []string `json:"suggestions"`
}

// ContentValidator は生成テキストのポリシー検証を行う純粋関数の集まり
type ContentValidator struct {
	required  []string
	sensitive []string
}

// NewContentValidator は新しいContentValidatorを作成する
// 空白のみの語と重複は取り除く
func NewContentValidator(requiredKeywords, sensitiveWords []string) *ContentValidator {
	return &ContentValidator{
		required:  normalizeTerms(requiredKeywords),
		sensitive: normalizeTerms(sensitiveWords),
	}
}

// RequiredKeywords は判定に使う必須キーワードを返す
func (v *ContentValidator) RequiredKeywords() []string {
	return append([]string(nil), v.required...)
}

// CheckRequiredKeywords は必須キーワードを含まれるものと含まれないものに分ける
func (v *ContentValidator) CheckRequiredKeywords(content string) KeywordCheck {
	text := strings.ToLower(content)
	check := KeywordCheck{Found: []string{}, Missing: []string{}}
	for _, kw := range v.required {
		if strings.Contains(text, strings.ToLower(kw)) {
			check.Found = append(check.Found, kw)
		} else {
			check.Missing = append(check.Missing, kw)
		}
	}
	return check
}

// CheckSensitive は含まれる禁止語を返す
func (v *ContentValidator) CheckSensitive(content string) SensitiveCheck {
	text := strings.ToLower(content)
	check := SensitiveCheck{Found: []string{}}
	for _, w := range v.sensitive {
		if strings.Contains(text, strings.ToLower(w)) {
			check.Found = append(check.Found, w)
		}
	}
	check.HasSensitive = len(check.Found) > 0
	return check
}

// Validate は必須キーワードと禁止語をまとめて判定する
//
// 必須キーワードが設定されていない場合は必須キーワードありとみなす。
func (v *ContentValidator) Validate(content string) ValidationResult {
	keywords := v.CheckRequiredKeywords(content)
	sensitive := v.CheckSensitive(content)

	result := ValidationResult{
		HasRequiredKeywords: len(v.required) == 0 || len(keywords.Found) > 0,
		HasSensitiveContent: sensitive.HasSensitive,
		FoundKeywords:       keywords.Found,
		MissingKeywords:     keywords.Missing,
		SensitiveWords:      sensitive.Found,
		Suggestions:         []string{},
	}
	if !result.HasRequiredKeywords {
		result.Suggestions = append(result.Suggestions,
			fmt.Sprintf("建议在内容中体现以下政策关键词之一：%s", strings.Join(keywords.Missing, "、")))
	}
	if result.HasSensitiveContent {
		result.Suggestions = append(result.Suggestions,
			fmt.Sprintf("内容包含不宜使用的词语：%s，请修改后再发布", strings.Join(sensitive.Found, "、")))
	}
	if strings.TrimSpace(content) == "" {
		result.Suggestions = append(result.Suggestions, "生成内容为空，请补充输入后重新生成")
	}
	result.IsValid = result.HasRequiredKeywords && !result.HasSensitiveContent && strings.TrimSpace(content) != ""
	return result
}

func normalizeTerms(terms []string) []string {
	seen := make(map[string]bool, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}
