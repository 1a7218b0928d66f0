//go:build integration

package mongo_test

import (
	"context"
	"testing"

	"github.com/jinford/curriculum-rag/internal/module/document/adapter/mongo"
	"github.com/jinford/curriculum-rag/internal/module/document/domain"
	"github.com/jinford/curriculum-rag/internal/shared/testenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentRegistry_Lifecycle(t *testing.T) {
	ctx := context.Background()
	client := testenv.StartMongo(t)
	registry := mongo.NewDocumentRegistry(client.Database())
	require.NoError(t, registry.EnsureIndexes(ctx))

	doc := &domain.Document{Filename: "plan.md", OriginalName: "学校计划.md", MimeType: "text/markdown", StorageKey: "k/plan.md"}
	require.NoError(t, registry.Create(ctx, doc))
	require.NotEmpty(t, doc.ID)

	pending, err := registry.ListByStatus(ctx, domain.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, registry.MarkProcessing(ctx, doc.ID))
	require.NoError(t, registry.MarkFailed(ctx, doc.ID, "boom", false))
	require.NoError(t, registry.MarkProcessing(ctx, doc.ID))
	require.NoError(t, registry.MarkProcessed(ctx, doc.ID, 4))

	got, err := registry.FindByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessed, got.Status)
	assert.Equal(t, 4, got.ChunkCount)
	assert.Equal(t, 2, got.Attempts)
	assert.Empty(t, got.ErrorMessage)
	assert.NotNil(t, got.ProcessedAt)

	require.NoError(t, registry.UpdateStageIDs(ctx, doc.ID, []string{"Q1", "Q2"}))
	got, err = registry.FindByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Q1", "Q2"}, got.StageIDs)

	ids, err := registry.ListAllIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{doc.ID}, ids)

	require.NoError(t, registry.Delete(ctx, doc.ID))
	_, err = registry.FindByID(ctx, doc.ID)
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
	assert.ErrorIs(t, registry.Delete(ctx, doc.ID), domain.ErrDocumentNotFound)
}
