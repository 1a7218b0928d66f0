package domain_test

import (
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/jinford/curriculum-rag/internal/module/generation/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	requiredKeywords = []string{"立德树人", "五育并举", "核心素养", "课程"}
	sensitiveWords   = []string{"排名", "补课", "Cheat"}
	fillerFragments  = []string{"学校", "发展", "学生", "教师", "活动", "评价", "。", "，", "the", " "}
)

func randomContent(r *rand.Rand, vocabulary []string) string {
	var b strings.Builder
	n := r.IntN(30)
	for range n {
		if r.IntN(4) == 0 {
			b.WriteString(vocabulary[r.IntN(len(vocabulary))])
		} else {
			b.WriteString(fillerFragments[r.IntN(len(fillerFragments))])
		}
	}
	return b.String()
}

func TestContentValidator_RequiredKeywordsPartition(t *testing.T) {
	v := domain.NewContentValidator(requiredKeywords, sensitiveWords)
	r := rand.New(rand.NewPCG(1, 2))

	for range 500 {
		content := randomContent(r, append(append([]string{}, requiredKeywords...), sensitiveWords...))
		check := v.CheckRequiredKeywords(content)

		// Found と Missing で必須キーワードを過不足なく分割する
		assert.Len(t, append(append([]string{}, check.Found...), check.Missing...), len(requiredKeywords))
		assert.ElementsMatch(t, requiredKeywords, append(append([]string{}, check.Found...), check.Missing...))
		for _, kw := range check.Found {
			assert.NotContains(t, check.Missing, kw)
			assert.Contains(t, content, kw)
		}
		for _, kw := range check.Missing {
			assert.NotContains(t, content, kw)
		}

		if len(check.Found) == 0 {
			assert.Equal(t, requiredKeywords, check.Missing)
		} else {
			assert.Subset(t, requiredKeywords, check.Found)
		}
	}
}

func TestContentValidator_SensitiveWords(t *testing.T) {
	v := domain.NewContentValidator(requiredKeywords, sensitiveWords)
	r := rand.New(rand.NewPCG(3, 4))

	for range 500 {
		content := randomContent(r, sensitiveWords)
		check := v.CheckSensitive(content)
		for _, w := range sensitiveWords {
			if strings.Contains(strings.ToLower(content), strings.ToLower(w)) {
				assert.Contains(t, check.Found, w)
			}
		}
		assert.Equal(t, len(check.Found) > 0, check.HasSensitive)
	}

	clean := v.CheckSensitive("坚持立德树人，落实核心素养。")
	assert.False(t, clean.HasSensitive)
	assert.Empty(t, clean.Found)

	mixed := v.CheckSensitive("no CHEATING allowed")
	assert.Equal(t, []string{"Cheat"}, mixed.Found)
}

func TestContentValidator_Validate(t *testing.T) {
	v := domain.NewContentValidator(requiredKeywords, sensitiveWords)

	ok := v.Validate("本校坚持立德树人，构建五育并举的课程体系。")
	assert.True(t, ok.IsValid)
	assert.True(t, ok.HasRequiredKeywords)
	assert.Empty(t, ok.Suggestions)

	missing := v.Validate("学校发展规划。")
	assert.False(t, missing.IsValid)
	assert.False(t, missing.HasRequiredKeywords)
	require.Len(t, missing.Suggestions, 1)
	assert.Equal(t, requiredKeywords, missing.MissingKeywords)

	sensitive := v.Validate("以课程促发展，不搞排名。")
	assert.False(t, sensitive.IsValid)
	assert.True(t, sensitive.HasSensitiveContent)
	assert.Equal(t, []string{"排名"}, sensitive.SensitiveWords)
}

func TestContentValidator_NormalizesTerms(t *testing.T) {
	v := domain.NewContentValidator([]string{" 课程 ", "", "课程", "育人"}, nil)
	assert.Equal(t, []string{"课程", "育人"}, v.RequiredKeywords())

	empty := domain.NewContentValidator(nil, nil)
	result := empty.Validate("任意内容")
	assert.True(t, result.HasRequiredKeywords)
	assert.True(t, result.IsValid)
}
