package application_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jinford/curriculum-rag/internal/module/document/adapter/chunker"
	"github.com/jinford/curriculum-rag/internal/module/document/application"
	"github.com/jinford/curriculum-rag/internal/module/document/domain"
	testutil "github.com/jinford/curriculum-rag/internal/module/document/testing"
	"github.com/jinford/curriculum-rag/internal/shared/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errProviderDown = apperr.Define(apperr.KindTransient, "provider down")

type fixture struct {
	registry  *testutil.MemoryRegistry
	blobs     *testutil.MemoryBlobStore
	store     *testutil.MemoryVectorStore
	embedder  *testutil.MockEmbedder
	extractor *testutil.MockExtractor
	processor *application.Processor
	service   *application.DocumentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	f := &fixture{
		registry:  testutil.NewMemoryRegistry(),
		blobs:     testutil.NewMemoryBlobStore(),
		store:     testutil.NewMemoryVectorStore(),
		embedder:  &testutil.MockEmbedder{Dim: 3},
		extractor: &testutil.MockExtractor{},
	}
	f.processor = application.NewProcessor(
		f.registry, f.blobs, f.extractor,
		chunker.New(chunker.WithChunkSize(50), chunker.WithOverlap(10)),
		f.embedder, f.store,
		application.WithProcessorLogger(log),
	)
	f.service = application.NewDocumentService(f.registry, f.blobs, f.store,
		application.WithStageValidator(func(id string) bool { return strings.HasPrefix(id, "Q") }),
		application.WithDocumentServiceLogger(log),
	)
	return f
}

func (f *fixture) upload(t *testing.T, name, body string, stageIDs ...string) *domain.Document {
	t.Helper()
	key := "uploads/" + name
	require.NoError(t, f.blobs.Put(context.Background(), key, []byte(body)))
	doc := &domain.Document{
		Filename:     name,
		OriginalName: name,
		MimeType:     "text/plain",
		Size:         int64(len(body)),
		StorageKey:   key,
		StageIDs:     stageIDs,
	}
	require.NoError(t, f.registry.Create(context.Background(), doc))
	return doc
}

func longText() string {
	return strings.Repeat("学校课程建设以核心素养为导向。", 20)
}

func TestProcessor_ProcessDocument_Success(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	doc := f.upload(t, "plan.txt", longText(), "Q1")

	// Execute
	result, err := f.processor.ProcessDocument(ctx, doc.ID)

	// Assert
	require.NoError(t, err)
	require.Greater(t, result.ChunkCount, 1)

	stored, err := f.registry.FindByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessed, stored.Status)
	assert.Equal(t, result.ChunkCount, stored.ChunkCount)
	assert.Equal(t, 1, stored.Attempts)
	assert.NotNil(t, stored.ProcessedAt)

	chunks := f.store.Chunks(doc.ID)
	require.Len(t, chunks, result.ChunkCount)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, []string{"Q1"}, c.Metadata.StageIDs)
		assert.Equal(t, "plan.txt", c.Metadata.Filename)
	}
}

func TestProcessor_ProcessDocument_IsIdempotent(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	doc := f.upload(t, "plan.txt", longText())

	// Execute
	first, err := f.processor.ProcessDocument(ctx, doc.ID)
	require.NoError(t, err)
	firstChunks := f.store.Chunks(doc.ID)

	second, err := f.processor.ProcessDocument(ctx, doc.ID)
	require.NoError(t, err)
	secondChunks := f.store.Chunks(doc.ID)

	// Assert
	assert.Equal(t, first.ChunkCount, second.ChunkCount)
	require.Len(t, secondChunks, len(firstChunks))
	for i := range firstChunks {
		assert.Equal(t, firstChunks[i].Index, secondChunks[i].Index)
		assert.Equal(t, firstChunks[i].Content, secondChunks[i].Content)
	}
}

func TestProcessor_ProcessDocument_EmbeddingFailureIsRetryable(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	doc := f.upload(t, "plan.txt", longText())
	f.embedder.EmbedFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, errProviderDown
	}

	// Execute
	_, err := f.processor.ProcessDocument(ctx, doc.ID)

	// Assert
	require.Error(t, err)
	assert.True(t, apperr.IsRetryable(err))

	stored, err := f.registry.FindByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, stored.Status)
	assert.False(t, stored.Terminal)
	assert.Contains(t, stored.ErrorMessage, "provider down")
	assert.Empty(t, f.store.Chunks(doc.ID))
}

func TestProcessor_ProcessDocument_UnsupportedContentIsTerminal(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	doc := f.upload(t, "scan.bin", "\x00\x01")
	f.extractor.ExtractFunc = func(ctx context.Context, d *domain.Document, data []byte) (string, error) {
		return "", apperr.Wrap(domain.ErrUnsupportedContent, "extract", errors.New("binary"))
	}

	// Execute
	_, err := f.processor.ProcessDocument(ctx, doc.ID)

	// Assert
	require.ErrorIs(t, err, domain.ErrUnsupportedContent)
	stored, err := f.registry.FindByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, stored.Terminal)
	assert.False(t, stored.CanRetry(10))
}

func TestProcessor_ProcessDocument_CountMismatchIsDataIntegrity(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	doc := f.upload(t, "plan.txt", longText())
	f.embedder.EmbedFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return [][]float32{{1, 0, 0}}, nil
	}

	// Execute
	_, err := f.processor.ProcessDocument(ctx, doc.ID)

	// Assert
	require.ErrorIs(t, err, apperr.ErrDataIntegrity)
	assert.Zero(t, f.store.InsertCalls)
}

func TestProcessor_ProcessDocument_StoreFailureLeavesNoChunks(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	doc := f.upload(t, "plan.txt", longText())
	f.store.InsertErr = apperr.Wrap(domain.ErrStoreUnavailable, "insert", errors.New("connection refused"))

	// Execute
	_, err := f.processor.ProcessDocument(ctx, doc.ID)

	// Assert
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Empty(t, f.store.Chunks(doc.ID))
	stored, _ := f.registry.FindByID(ctx, doc.ID)
	assert.Equal(t, domain.StatusError, stored.Status)
}

func TestProcessor_ProcessDocument_CollapsesConcurrentCalls(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	doc := f.upload(t, "plan.txt", longText())

	var calls atomic.Int32
	release := make(chan struct{})
	f.embedder.EmbedFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		calls.Add(1)
		<-release
		return (&testutil.MockEmbedder{Dim: 3}).Embed(ctx, texts)
	}

	// Execute
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.processor.ProcessDocument(ctx, doc.ID)
		}(i)
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	// 2件目の呼び出しが合流するまで待つ
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	// Assert
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, int32(1), calls.Load())
	stored, _ := f.registry.FindByID(ctx, doc.ID)
	assert.Equal(t, 1, stored.Attempts)
}

func TestProcessor_ProcessDocument_CallerCancelDoesNotAbortSharedWork(t *testing.T) {
	// Setup
	f := newFixture(t)
	doc := f.upload(t, "plan.txt", longText())

	var calls atomic.Int32
	release := make(chan struct{})
	f.embedder.EmbedFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		calls.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return (&testutil.MockEmbedder{Dim: 3}).Embed(ctx, texts)
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.processor.ProcessDocument(firstCtx, doc.ID)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	secondErr := make(chan error, 1)
	go func() {
		_, err := f.processor.ProcessDocument(context.Background(), doc.ID)
		secondErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	// Execute
	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)
	close(release)

	// Assert
	require.NoError(t, <-secondErr)
	assert.Equal(t, int32(1), calls.Load())
	stored, err := f.registry.FindByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessed, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
}

func TestProcessor_ProcessDocument_TimeoutMarksFailed(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	doc := f.upload(t, "plan.txt", longText())
	f.embedder.EmbedFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	processor := application.NewProcessor(
		f.registry, f.blobs, f.extractor,
		chunker.New(chunker.WithChunkSize(50), chunker.WithOverlap(10)),
		f.embedder, f.store,
		application.WithProcessTimeout(20*time.Millisecond),
		application.WithProcessorLogger(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))),
	)

	// Execute
	_, err := processor.ProcessDocument(ctx, doc.ID)

	// Assert
	require.ErrorIs(t, err, context.DeadlineExceeded)
	stored, err := f.registry.FindByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, stored.Status)
	assert.False(t, stored.Terminal)
}

func TestProcessor_ProcessDocument_MarkProcessedFailureIsRetryable(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	doc := f.upload(t, "plan.txt", longText())
	f.registry.MarkProcessedErr = errors.New("registry write failed")

	// Execute
	_, err := f.processor.ProcessDocument(ctx, doc.ID)

	// Assert
	require.Error(t, err)
	stored, err := f.registry.FindByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, stored.Status)
	assert.False(t, stored.Terminal)
	assert.Contains(t, stored.ErrorMessage, "registry write failed")

	// processing のまま残らないので再処理で回復する
	result, err := f.processor.RetryFailed(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, application.RetryResult{Retried: 1, Succeeded: 1}, result)
	stored, err = f.registry.FindByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessed, stored.Status)
	assert.Equal(t, 2, stored.Attempts)
}

func TestProcessor_ProcessPending_ContinuesAfterFailure(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	good := f.upload(t, "good.txt", longText())
	bad := f.upload(t, "bad.txt", longText())
	f.extractor.ExtractFunc = func(ctx context.Context, d *domain.Document, data []byte) (string, error) {
		if d.ID == bad.ID {
			return "", apperr.Wrap(domain.ErrEmptyContent, "extract", nil)
		}
		return string(data), nil
	}

	// Execute
	result, err := f.processor.ProcessPending(ctx)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, application.BatchResult{Processed: 1, Failed: 1}, result)
	stored, _ := f.registry.FindByID(ctx, good.ID)
	assert.Equal(t, domain.StatusProcessed, stored.Status)
}

func TestProcessor_RetryFailed_RespectsAttemptCap(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	flaky := f.upload(t, "flaky.txt", longText())
	broken := f.upload(t, "broken.txt", longText())
	terminal := f.upload(t, "terminal.txt", longText())

	var recovered atomic.Bool
	f.embedder.EmbedFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		if recovered.Load() {
			return (&testutil.MockEmbedder{Dim: 3}).Embed(ctx, texts)
		}
		return nil, errProviderDown
	}
	f.extractor.ExtractFunc = func(ctx context.Context, d *domain.Document, data []byte) (string, error) {
		if d.ID == terminal.ID {
			return "", apperr.Wrap(domain.ErrUnsupportedContent, "extract", nil)
		}
		return string(data), nil
	}

	_, err := f.processor.ProcessPending(ctx)
	require.NoError(t, err)
	// broken は2回目も失敗させて上限に到達させる
	_, err = f.processor.ProcessDocument(ctx, broken.ID)
	require.Error(t, err)

	recovered.Store(true)

	// Execute
	result, err := f.processor.RetryFailed(ctx, 2)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, application.RetryResult{Retried: 1, Succeeded: 1, StillFailed: 0, Skipped: 2}, result)

	stored, _ := f.registry.FindByID(ctx, flaky.ID)
	assert.Equal(t, domain.StatusProcessed, stored.Status)
	assert.Equal(t, 2, stored.Attempts)

	stored, _ = f.registry.FindByID(ctx, broken.ID)
	assert.Equal(t, domain.StatusError, stored.Status)
}

func TestProcessor_RetryFailed_InvalidMaxAttempts(t *testing.T) {
	f := newFixture(t)
	_, err := f.processor.RetryFailed(context.Background(), 0)
	require.Error(t, err)
}

func TestProcessor_ProcessDocument_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.processor.ProcessDocument(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrDocumentNotFound)
}
