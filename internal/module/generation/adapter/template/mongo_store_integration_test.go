//go:build integration

package template_test

import (
	"context"
	"testing"

	"github.com/jinford/curriculum-rag/internal/module/generation/adapter/template"
	"github.com/jinford/curriculum-rag/internal/module/generation/domain"
	"github.com/jinford/curriculum-rag/internal/shared/testenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMongoStore_PublishAndSnapshot(t *testing.T) {
	ctx := context.Background()
	client := testenv.StartMongo(t)
	store := template.NewMongoStore(client.Database())
	require.NoError(t, store.EnsureIndexes(ctx))

	_, err := store.GetTemplate(ctx, "stage_q1_swot")
	require.ErrorIs(t, err, domain.ErrTemplateNotFound)

	v1, err := store.Publish(ctx, "stage_q1_swot", "版本一 {{school_name}}")
	require.NoError(t, err)
	v2, err := store.Publish(ctx, "stage_q1_swot", "版本二 {{school_name}}")
	require.NoError(t, err)
	assert.Equal(t, 1, v1)
	assert.Equal(t, 2, v2)

	require.NoError(t, store.SetABTesting(ctx, "stage_q1_swot", domain.ABTesting{
		Enabled:  true,
		Variants: []domain.Variant{{Version: 1, Weight: 50}, {Version: 2, Weight: 50}},
	}))

	got, err := store.GetTemplate(ctx, "stage_q1_swot")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, "版本二 {{school_name}}", got.Content)
	require.NotNil(t, got.ABTesting)
	assert.Len(t, got.ABTesting.Variants, 2)

	snapshot, err := store.GetVersionSnapshot(ctx, "stage_q1_swot", 1)
	require.NoError(t, err)
	assert.Equal(t, "版本一 {{school_name}}", snapshot)

	_, err = store.GetVersionSnapshot(ctx, "stage_q1_swot", 9)
	assert.ErrorIs(t, err, domain.ErrTemplateVersionNotFound)
}
