package application_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/jinford/curriculum-rag/internal/module/stage/application"
	"github.com/jinford/curriculum-rag/internal/module/stage/domain"
	testutil "github.com/jinford/curriculum-rag/internal/module/stage/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	projects *testutil.MemoryProjectRepository
	versions *testutil.MemoryVersionRepository
	manager  *application.VersionManager
	service  *application.StageService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	f := &fixture{
		projects: testutil.NewMemoryProjectRepository(),
		versions: testutil.NewMemoryVersionRepository(),
	}
	f.manager = application.NewVersionManager(f.versions, f.projects, application.WithVersionLogger(log))
	f.service = application.NewStageService(f.projects, f.manager, application.WithStageLogger(log))
	return f
}

func (f *fixture) project(t *testing.T) *domain.Project {
	t.Helper()
	p, err := f.service.CreateProject(context.Background(), application.CreateProjectParams{
		Name:       "阳光小学课程规划",
		SchoolName: "阳光小学",
		Region:     "杭州",
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) saveReport(t *testing.T, projectID, stage, report string) *application.SaveOutputResult {
	t.Helper()
	result, err := f.service.SaveStageOutput(context.Background(), application.SaveOutputParams{
		ProjectID: projectID,
		Stage:     stage,
		Output:    domain.Payload{"report": report},
	})
	require.NoError(t, err)
	return result
}

func TestStageService_CreateProject(t *testing.T) {
	// Setup
	f := newFixture(t)

	// Execute
	p := f.project(t)

	// Assert
	stored, err := f.service.GetProject(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ID("Q1"), stored.CurrentStage)
	assert.Equal(t, 0, stored.OverallProgress)
	assert.Equal(t, 1, stored.ConfigVersion)
	require.Contains(t, stored.Stages, domain.ID("Q1"))
	assert.Equal(t, domain.StatusNotStarted, stored.Stages["Q1"].Status)
}

func TestStageService_CreateProject_NameRequired(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.CreateProject(context.Background(), application.CreateProjectParams{Name: " "})
	require.ErrorIs(t, err, domain.ErrMissingRequiredField)
}

func TestStageService_SaveStageInput(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	p := f.project(t)

	// Execute
	data, err := f.service.SaveStageInput(ctx, p.ID, "Q1", domain.Payload{"strengths": "师资稳定"})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, data.Status)
	stored, _ := f.service.GetProject(ctx, p.ID)
	assert.Equal(t, "师资稳定", stored.Stages["Q1"].Input.String("strengths"))
}

func TestStageService_SaveStageInput_InvalidStage(t *testing.T) {
	f := newFixture(t)
	p := f.project(t)
	_, err := f.service.SaveStageInput(context.Background(), p.ID, "Q11", domain.Payload{})
	require.ErrorIs(t, err, domain.ErrInvalidStage)
}

func TestStageService_SaveStageOutput_MergesFields(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	p := f.project(t)
	_, err := f.service.SaveStageOutput(ctx, application.SaveOutputParams{
		ProjectID: p.ID,
		Stage:     "Q2",
		Output:    domain.Payload{"report": "AI报告", "keywords": []any{"立德树人"}},
		Score:     &domain.DiagnosticScore{Overall: 72},
	})
	require.NoError(t, err)

	// Execute
	result := f.saveReport(t, p.ID, "Q2", "人工修改后的报告")

	// Assert
	assert.Equal(t, "人工修改后的报告", result.Stage.Output.Report())
	assert.Equal(t, []string{"立德树人"}, result.Stage.Output.Strings("keywords"))
	require.NotNil(t, result.Stage.Score)
	assert.Equal(t, 72.0, result.Stage.Score.Overall)
	assert.Equal(t, domain.StatusNotStarted, result.Stage.Status)
}

func TestStageService_SaveStageOutput_VersionOnlyWhenReportChanges(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	p := f.project(t)
	_, err := f.service.SaveStageInput(ctx, p.ID, "Q1", domain.Payload{"strengths": "x"})
	require.NoError(t, err)

	// Execute
	first := f.saveReport(t, p.ID, "Q1", "第一版报告")
	same := f.saveReport(t, p.ID, "Q1", "  第一版报告\n")
	second := f.saveReport(t, p.ID, "Q1", "第二版报告")

	// Assert
	require.NotNil(t, first.Version)
	assert.Equal(t, 1, first.Version.Version)
	assert.Nil(t, same.Version)
	require.NotNil(t, second.Version)
	assert.Equal(t, 2, second.Version.Version)
	assert.Equal(t, second.Version.ID, second.Stage.CurrentVersionID)

	versions, err := f.manager.List(ctx, p.ID, "Q1")
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestStageService_SaveStageOutput_SaveFailureDiscardsVersion(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	p := f.project(t)
	f.projects.SaveStageErr = errors.New("mongo down")

	// Execute
	_, err := f.service.SaveStageOutput(ctx, application.SaveOutputParams{
		ProjectID: p.ID, Stage: "Q1", Output: domain.Payload{"report": "报告"},
	})

	// Assert
	require.Error(t, err)
	versions, err := f.manager.List(ctx, p.ID, "Q1")
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestStageService_CompleteStage(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	p := f.project(t)
	_, err := f.service.SaveStageInput(ctx, p.ID, "Q1", domain.Payload{"strengths": "x"})
	require.NoError(t, err)
	f.saveReport(t, p.ID, "Q1", "报告")

	// Execute
	updated, err := f.service.CompleteStage(ctx, p.ID, "Q1")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, updated.Stages["Q1"].Status)
	assert.NotNil(t, updated.Stages["Q1"].CompletedAt)
	assert.Equal(t, domain.ID("Q2"), updated.CurrentStage)
	assert.Equal(t, 10, updated.OverallProgress)

	stored, _ := f.service.GetProject(ctx, p.ID)
	assert.Equal(t, domain.StatusNotStarted, stored.Stages["Q2"].Status)
	assert.Equal(t, 10, stored.OverallProgress)
	assert.Equal(t, domain.ID("Q2"), stored.CurrentStage)
}

func TestStageService_CompleteStage_RequiresOutput(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	p := f.project(t)
	_, err := f.service.SaveStageInput(ctx, p.ID, "Q1", domain.Payload{"strengths": "x"})
	require.NoError(t, err)

	// Execute
	_, err = f.service.CompleteStage(ctx, p.ID, "Q1")

	// Assert
	require.ErrorIs(t, err, domain.ErrEmptyOutput)
}

func TestStageService_CompleteStage_DoesNotMovePointerBack(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	p := f.project(t)
	for _, id := range []string{"Q1", "Q2", "Q3"} {
		f.saveReport(t, p.ID, id, "报告"+id)
		_, err := f.service.CompleteStage(ctx, p.ID, id)
		require.NoError(t, err)
	}

	// Execute
	updated, err := f.service.CompleteStage(ctx, p.ID, "Q1")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, domain.ID("Q4"), updated.CurrentStage)
	assert.Equal(t, 30, updated.OverallProgress)
}

func TestStageService_UpdateProgress_RecomputesFromStages(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	p := f.project(t)
	require.NoError(t, f.projects.UpdateProgress(ctx, p.ID, 77, ""))
	for i := 1; i <= 4; i++ {
		require.NoError(t, f.projects.SaveStage(ctx, p.ID, domain.ID(fmt.Sprintf("Q%d", i)), &domain.StageData{Status: domain.StatusCompleted}))
	}

	// Execute
	progress, err := f.service.UpdateProgress(ctx, p.ID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 40, progress)
}

func TestStageService_GetPreviousStagesContext(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	p := f.project(t)
	f.saveReport(t, p.ID, "Q2", "理念报告")
	f.saveReport(t, p.ID, "Q4", "五育报告")
	_, err := f.service.SaveStageInput(ctx, p.ID, "Q1", domain.Payload{"strengths": "x"})
	require.NoError(t, err)

	// Execute
	contexts, err := f.service.GetPreviousStagesContext(ctx, p.ID, "Q4")

	// Assert
	require.NoError(t, err)
	require.Len(t, contexts, 1)
	assert.Equal(t, domain.ID("Q2"), contexts[0].Stage)
	assert.Equal(t, "理念报告", contexts[0].Output.Report())
	assert.NotEmpty(t, contexts[0].Title)
}

func TestStageService_Conversation_KeepsLastTen(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	p := f.project(t)

	// Execute
	for i := range 12 {
		require.NoError(t, f.service.AppendConversation(ctx, p.ID, "q1-chat",
			domain.Message{Role: "user", Content: fmt.Sprintf("m%d", i)}))
	}

	// Assert
	history, err := f.service.Conversation(ctx, p.ID, "q1-chat")
	require.NoError(t, err)
	require.Len(t, history, domain.ConversationLimit)
	assert.Equal(t, "m2", history[0].Content)
	assert.Equal(t, "m11", history[9].Content)
	assert.False(t, history[0].At.IsZero())
}
