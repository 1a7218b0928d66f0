package application_test

import (
	"context"
	"testing"

	"github.com/jinford/curriculum-rag/internal/module/stage/application"
	"github.com/jinford/curriculum-rag/internal/module/stage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionManager_Create_Increments(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	p := f.project(t)

	// Execute & Assert
	for want := 1; want <= 3; want++ {
		v, err := f.manager.Create(ctx, application.CreateVersionParams{
			ProjectID: p.ID, Stage: "Q1", Content: domain.Payload{"report": "r"},
		})
		require.NoError(t, err)
		assert.Equal(t, want, v.Version)
	}

	// 別ステージは1から
	v, err := f.manager.Create(ctx, application.CreateVersionParams{ProjectID: p.ID, Stage: "Q2", Content: domain.Payload{}})
	require.NoError(t, err)
	assert.Equal(t, 1, v.Version)
}

func TestVersionManager_Create_NoReuseAfterDelete(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	p := f.project(t)
	f.saveReport(t, p.ID, "Q1", "v1")
	f.saveReport(t, p.ID, "Q1", "v2")
	f.saveReport(t, p.ID, "Q1", "v3")
	require.NoError(t, f.manager.Delete(ctx, p.ID, "Q1", 2))

	// Execute
	result := f.saveReport(t, p.ID, "Q1", "v4")

	// Assert
	assert.Equal(t, 4, result.Version.Version)
}

func TestVersionManager_Rollback(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	p := f.project(t)
	_, err := f.service.SaveStageOutput(ctx, application.SaveOutputParams{
		ProjectID: p.ID, Stage: "Q1", Output: domain.Payload{"report": "第一版", "swot_score": 60.0},
	})
	require.NoError(t, err)
	first, err := f.versions.FindByVersion(ctx, p.ID, "Q1", 1)
	require.NoError(t, err)
	f.saveReport(t, p.ID, "Q1", "第二版")

	// Execute
	data, err := f.manager.Rollback(ctx, p.ID, "Q1", 1)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, first.Content, data.Output)
	assert.Equal(t, domain.StatusCompleted, data.Status)
	assert.Equal(t, first.ID, data.CurrentVersionID)

	stored, _ := f.service.GetProject(ctx, p.ID)
	assert.Equal(t, first.Content, stored.Stages["Q1"].Output)
	assert.Equal(t, 10, stored.OverallProgress)

	versions, err := f.manager.List(ctx, p.ID, "Q1")
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestVersionManager_Rollback_NotFound(t *testing.T) {
	f := newFixture(t)
	p := f.project(t)
	_, err := f.manager.Rollback(context.Background(), p.ID, "Q1", 9)
	require.ErrorIs(t, err, domain.ErrVersionNotFound)
}

func TestVersionManager_Delete_BlocksCurrentVersion(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	p := f.project(t)
	f.saveReport(t, p.ID, "Q1", "v1")
	f.saveReport(t, p.ID, "Q1", "v2")

	// Execute
	err := f.manager.Delete(ctx, p.ID, "Q1", 2)

	// Assert
	require.ErrorIs(t, err, domain.ErrVersionInUse)
	require.NoError(t, f.manager.Delete(ctx, p.ID, "Q1", 1))
	assert.ErrorIs(t, f.manager.Delete(ctx, p.ID, "Q1", 1), domain.ErrVersionNotFound)
}

func TestVersionManager_Cleanup_KeepsNewestAndCurrent(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	p := f.project(t)
	for i := 1; i <= 5; i++ {
		f.saveReport(t, p.ID, "Q1", "v"+string(rune('0'+i)))
	}
	// 現在のバージョンを v1 に戻す
	_, err := f.manager.Rollback(ctx, p.ID, "Q1", 1)
	require.NoError(t, err)

	// Execute
	result, err := f.manager.Cleanup(ctx, p.ID, "Q1", 2)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Deleted)
	assert.Equal(t, 3, result.Kept)

	versions, err := f.manager.List(ctx, p.ID, "Q1")
	require.NoError(t, err)
	var numbers []int
	for _, v := range versions {
		numbers = append(numbers, v.Version)
	}
	assert.Equal(t, []int{5, 4, 1}, numbers)
}

func TestVersionManager_Cleanup_InvalidKeep(t *testing.T) {
	f := newFixture(t)
	p := f.project(t)
	_, err := f.manager.Cleanup(context.Background(), p.ID, "Q1", 0)
	require.Error(t, err)
}
