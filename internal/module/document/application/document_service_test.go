package application_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jinford/curriculum-rag/internal/module/document/application"
	"github.com/jinford/curriculum-rag/internal/module/document/domain"
	"github.com/jinford/curriculum-rag/internal/shared/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentService_UploadProcessDelete(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	doc := f.upload(t, "plan.txt", longText())

	result, err := f.processor.ProcessDocument(ctx, doc.ID)
	require.NoError(t, err)
	k := result.ChunkCount

	stored, err := f.registry.FindByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, k, stored.ChunkCount)
	chunks := f.store.Chunks(doc.ID)
	require.Len(t, chunks, k)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
	}

	// Execute
	deleted, err := f.service.Delete(ctx, doc.ID)

	// Assert
	require.NoError(t, err)
	assert.False(t, deleted.Partial)
	require.Len(t, deleted.Steps, 3)
	assert.Equal(t, int64(k), deleted.Steps[0].Deleted)
	assert.Empty(t, f.store.Chunks(doc.ID))
	assert.False(t, f.blobs.Has(doc.StorageKey))
	assert.Zero(t, f.registry.Count())
}

func TestDocumentService_Delete_BlobFailureIsPartial(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	doc := f.upload(t, "plan.txt", longText())
	f.blobs.DeleteErr = apperr.Wrap(domain.ErrBlobConnection, "delete", errors.New("timeout"))

	// Execute
	result, err := f.service.Delete(ctx, doc.ID)

	// Assert
	require.NoError(t, err)
	assert.True(t, result.Partial)
	assert.Equal(t, application.StepBlob, result.Steps[1].Step)
	assert.False(t, result.Steps[1].OK)
	assert.True(t, result.Steps[2].OK)
	assert.Zero(t, f.registry.Count())
}

func TestDocumentService_Delete_MissingBlobIsNotPartial(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	doc := &domain.Document{Filename: "lost.txt", StorageKey: "uploads/lost.txt"}
	require.NoError(t, f.registry.Create(ctx, doc))

	// Execute
	result, err := f.service.Delete(ctx, doc.ID)

	// Assert
	require.NoError(t, err)
	assert.False(t, result.Partial)
}

func TestDocumentService_Delete_RegistryFailureIsError(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	doc := f.upload(t, "plan.txt", longText())
	f.registry.DeleteErr = errors.New("mongo down")

	// Execute
	result, err := f.service.Delete(ctx, doc.ID)

	// Assert
	require.Error(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Steps[len(result.Steps)-1].OK)
}

func TestDocumentService_UpdateStageIDs(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	doc := f.upload(t, "plan.txt", longText())
	_, err := f.processor.ProcessDocument(ctx, doc.ID)
	require.NoError(t, err)

	// Execute
	n, err := f.service.UpdateStageIDs(ctx, doc.ID, []string{"Q3", "Q3", "Q4"})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, int64(len(f.store.Chunks(doc.ID))), n)
	for _, c := range f.store.Chunks(doc.ID) {
		assert.Equal(t, []string{"Q3", "Q4"}, c.Metadata.StageIDs)
	}
	stored, _ := f.registry.FindByID(ctx, doc.ID)
	assert.Equal(t, []string{"Q3", "Q4"}, stored.StageIDs)
}

func TestDocumentService_UpdateStageIDs_InvalidStage(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	doc := f.upload(t, "plan.txt", longText())

	// Execute
	_, err := f.service.UpdateStageIDs(ctx, doc.ID, []string{"X1"})

	// Assert
	require.ErrorIs(t, err, application.ErrInvalidStageTag)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestDocumentService_RunHealthCheck(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	healthy := f.upload(t, "healthy.txt", longText())
	drifted := f.upload(t, "drifted.txt", longText())
	for _, id := range []string{healthy.ID, drifted.ID} {
		_, err := f.processor.ProcessDocument(ctx, id)
		require.NoError(t, err)
	}
	// チャンクの一部が失われた状態を再現する
	f.store.Seed(drifted.ID, f.store.Chunks(drifted.ID)[:1])
	f.store.Seed("orphan-doc", []domain.Chunk{{DocumentID: "orphan-doc", Index: 0, Content: "x", Embedding: []float32{1, 0, 0}}})

	// Execute
	report, err := f.service.RunHealthCheck(ctx, false)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	require.Len(t, report.Mismatched, 1)
	assert.Equal(t, drifted.ID, report.Mismatched[0].DocumentID)
	assert.Equal(t, []string{"orphan-doc"}, report.Orphans)
	assert.Zero(t, report.Repaired)
	assert.False(t, report.Healthy())

	// Execute (repair)
	report, err = f.service.RunHealthCheck(ctx, true)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 2, report.Repaired)
	stored, _ := f.registry.FindByID(ctx, drifted.ID)
	assert.Equal(t, domain.StatusPending, stored.Status)
	orphans, err := f.service.FindOrphans(ctx)
	require.NoError(t, err)
	assert.Empty(t, orphans)

	// 再処理すると整合性が回復する
	_, err = f.processor.ProcessPending(ctx)
	require.NoError(t, err)
	report, err = f.service.RunHealthCheck(ctx, false)
	require.NoError(t, err)
	assert.True(t, report.Healthy())
}

func TestDocumentService_CheckHealth_StoreUnavailable(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	doc := f.upload(t, "plan.txt", longText())
	f.store.Err = apperr.Wrap(domain.ErrStoreUnavailable, "count", errors.New("refused"))

	// Execute
	_, err := f.service.CheckHealth(ctx, doc.ID)

	// Assert
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.True(t, apperr.IsRetryable(err))
}

func TestDocumentService_Register(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)

	// Execute
	doc, err := f.service.Register(ctx, application.RegisterParams{
		OriginalName: "课程方案.TXT",
		MimeType:     "text/plain",
		Data:         []byte(longText()),
		StageIDs:     []string{"Q1", " Q1", "Q2"},
	})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, doc.Status)
	assert.Equal(t, []string{"Q1", "Q2"}, doc.StageIDs)
	assert.Equal(t, doc.ID+".txt", doc.Filename)
	assert.True(t, f.blobs.Has(doc.StorageKey))

	result, err := f.processor.ProcessDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Positive(t, result.ChunkCount)
}

func TestDocumentService_Register_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("ファイル名は必須", func(t *testing.T) {
		_, err := f.service.Register(ctx, application.RegisterParams{Data: []byte("x")})
		require.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("不正なステージIDではBlobを保存しない", func(t *testing.T) {
		_, err := f.service.Register(ctx, application.RegisterParams{
			OriginalName: "a.txt",
			Data:         []byte("x"),
			StageIDs:     []string{"X9"},
		})
		require.ErrorIs(t, err, application.ErrInvalidStageTag)
		assert.Zero(t, f.registry.Count())
	})
}
