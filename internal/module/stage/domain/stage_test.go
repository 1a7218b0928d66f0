package domain_test

import (
	"math/rand/v2"
	"testing"

	"github.com/jinford/curriculum-rag/internal/module/stage/domain"
	"github.com/jinford/curriculum-rag/internal/shared/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogue(t *testing.T) {
	all := domain.All()
	require.Len(t, all, domain.StageCount)
	assert.Equal(t, domain.ID("Q1"), domain.First())
	for i, d := range all {
		assert.Equal(t, i+1, d.Order)
		assert.NotEmpty(t, d.Title)
		assert.NotEmpty(t, d.TemplateKey)
		assert.NotEmpty(t, d.Scorer)
	}
}

func TestParseID(t *testing.T) {
	id, err := domain.ParseID(" q3 ")
	require.NoError(t, err)
	assert.Equal(t, domain.ID("Q3"), id)

	for _, bad := range []string{"", "Q0", "Q11", "stage1"} {
		_, err := domain.ParseID(bad)
		assert.ErrorIs(t, err, domain.ErrInvalidStage, bad)
		assert.ErrorIs(t, err, apperr.ErrValidation, bad)
	}
}

func TestNextAndBefore(t *testing.T) {
	next, ok := domain.Next("Q1")
	assert.True(t, ok)
	assert.Equal(t, domain.ID("Q2"), next)

	_, ok = domain.Next("Q10")
	assert.False(t, ok)

	assert.Empty(t, domain.Before("Q1"))
	assert.Equal(t, []domain.ID{"Q1", "Q2"}, domain.Before("Q3"))
	assert.Len(t, domain.Before("Q10"), 9)
}

func TestCalculateProgress(t *testing.T) {
	tests := []struct {
		name      string
		completed int
		want      int
	}{
		{"none", 0, 0},
		{"one", 1, 10},
		{"three", 3, 30},
		{"all", 10, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stages := map[domain.ID]*domain.StageData{}
			for i, d := range domain.All() {
				s := domain.NewStageData()
				if i < tt.completed {
					s.Status = domain.StatusCompleted
				} else {
					s.Status = domain.StatusInProgress
				}
				stages[d.ID] = s
			}
			assert.Equal(t, tt.want, domain.CalculateProgress(stages))
		})
	}
}

func TestCalculateProgress_IndependentOfOrder(t *testing.T) {
	ids := make([]domain.ID, 0, domain.StageCount)
	for _, d := range domain.All() {
		ids = append(ids, d.ID)
	}
	rng := rand.New(rand.NewPCG(1, 2))

	for range 20 {
		rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
		stages := map[domain.ID]*domain.StageData{}
		for k, id := range ids {
			stages[id] = &domain.StageData{Status: domain.StatusCompleted}
			assert.Equal(t, (k+1)*10, domain.CalculateProgress(stages))
		}
	}
}

func TestCalculateProgress_IgnoresUnknownStages(t *testing.T) {
	stages := map[domain.ID]*domain.StageData{
		"Q1":  {Status: domain.StatusCompleted},
		"Q99": {Status: domain.StatusCompleted},
		"Q2":  nil,
	}
	assert.Equal(t, 10, domain.CalculateProgress(stages))
}
