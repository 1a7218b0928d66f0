package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	gendomain "github.com/jinford/curriculum-rag/internal/module/generation/domain"
	stageapp "github.com/jinford/curriculum-rag/internal/module/stage/application"
	stage "github.com/jinford/curriculum-rag/internal/module/stage/domain"
)

// ProjectCreateAction はプロジェクトを作成するコマンドのアクション
func ProjectCreateAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	p, err := appCtx.Container.StageService.CreateProject(ctx, stageapp.CreateProjectParams{
		Name:       cmd.String("name"),
		TenantID:   cmd.String("tenant"),
		SchoolName: cmd.String("school"),
		Region:     cmd.String("region"),
	})
	if err != nil {
		return err
	}

	fmt.Printf("✓ プロジェクトを作成しました\n")
	fmt.Printf("  ID:            %s\n", p.ID)
	fmt.Printf("  Current Stage: %s\n", p.CurrentStage)
	return nil
}

// ProjectShowAction はプロジェクトの進捗を表示するコマンドのアクション
func ProjectShowAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	p, err := appCtx.Container.StageService.GetProject(ctx, cmd.String("project"))
	if err != nil {
		return err
	}

	fmt.Printf("\n=== %s ===\n\n", p.Name)
	fmt.Printf("School:        %s\n", p.SchoolName)
	fmt.Printf("Region:        %s\n", p.Region)
	fmt.Printf("Current Stage: %s\n", p.CurrentStage)
	fmt.Printf("Progress:      %d%%\n\n", p.OverallProgress)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Stage", "Title", "Status", "Score", "Completed At")
	for _, def := range stage.All() {
		s, ok := p.Stages[def.ID]
		if !ok {
			table.Append(string(def.ID), def.Title, "-", "-", "-")
			continue
		}
		score := "-"
		if s.Score != nil {
			score = strconv.FormatFloat(s.Score.Overall, 'f', 0, 64)
		}
		completed := "-"
		if s.CompletedAt != nil {
			completed = formatTime(*s.CompletedAt)
		}
		table.Append(string(def.ID), def.Title, string(s.Status), score, completed)
	}
	table.Render()
	return nil
}

// StageInputAction はステージ入力を保存するコマンドのアクション
func StageInputAction(ctx context.Context, cmd *cli.Command) error {
	input, err := parsePayload(cmd.String("data"), cmd.String("data-file"))
	if err != nil {
		return err
	}
	if input == nil {
		return fmt.Errorf("--data または --data-file を指定してください")
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	s, err := appCtx.Container.StageService.SaveStageInput(ctx, cmd.String("project"), cmd.String("stage"), input)
	if err != nil {
		return err
	}
	fmt.Printf("✓ 入力を保存しました (status: %s)\n", s.Status)
	return nil
}

// StageGenerateAction はステージの内容をAI生成するコマンドのアクション
func StageGenerateAction(ctx context.Context, cmd *cli.Command) error {
	input, err := parsePayload(cmd.String("data"), "")
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	req := gendomain.Request{
		ProjectID:        cmd.String("project"),
		Stage:            cmd.String("stage"),
		Input:            input,
		Query:            cmd.String("query"),
		UseRAG:           cmd.Bool("rag"),
		UseWeb:           cmd.Bool("web"),
		IncludeCitations: cmd.Bool("citations"),
		SessionKey:       cmd.String("session"),
		Author:           stage.Author{UserID: cmd.String("user")},
	}

	service := appCtx.Container.GenerationService
	if !cmd.Bool("stream") {
		result, err := service.Generate(ctx, req)
		if err != nil {
			return err
		}
		fmt.Println(result.Report)
		renderGenerationSummary(result)
		return nil
	}

	for ev := range service.Stream(ctx, req) {
		switch ev.Type {
		case gendomain.EventPhase:
			appCtx.Logger().Debug("生成の段階", "phase", ev.Phase)
		case gendomain.EventDelta:
			fmt.Print(ev.Delta)
		case gendomain.EventError:
			fmt.Println()
			return ev.Err
		case gendomain.EventDone:
			fmt.Println()
			renderGenerationSummary(ev.Result)
		}
	}
	return ctx.Err()
}

// StageCompleteAction はステージを完了にするコマンドのアクション
func StageCompleteAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	p, err := appCtx.Container.StageService.CompleteStage(ctx, cmd.String("project"), cmd.String("stage"))
	if err != nil {
		return err
	}
	fmt.Printf("✓ ステージを完了にしました (current: %s, progress: %d%%)\n", p.CurrentStage, p.OverallProgress)
	return nil
}

// StageProgressAction は全体の進捗を再計算するコマンドのアクション
func StageProgressAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	progress, err := appCtx.Container.StageService.UpdateProgress(ctx, cmd.String("project"))
	if err != nil {
		return err
	}
	fmt.Printf("✓ 進捗: %d%%\n", progress)
	return nil
}

func renderGenerationSummary(r *gendomain.Result) {
	if r == nil {
		return
	}
	fmt.Printf("\n=== 生成結果 (%s) ===\n\n", r.Stage)
	fmt.Printf("Version:     %s\n", versionLabel(r.Version))
	fmt.Printf("Completed:   %t\n", r.Completed)
	fmt.Printf("Score:       %.0f\n", r.Score.Overall)
	fmt.Printf("Valid:       %t\n", r.Validation.IsValid)
	fmt.Printf("References:  RAG %d / Web %d\n", len(r.RAGResults), len(r.WebResults))
	usage := fmt.Sprintf("%d (prompt %d / completion %d)", r.Usage.TotalTokens, r.Usage.PromptTokens, r.Usage.CompletionTokens)
	if r.Usage.Estimated {
		usage += " 推定"
	}
	fmt.Printf("Tokens:      %s\n", usage)
	if len(r.Degraded) > 0 {
		fmt.Printf("Degraded:    %s\n", strings.Join(r.Degraded, ", "))
	}
	for _, s := range r.Validation.Suggestions {
		fmt.Printf("  ! %s\n", s)
	}
}

func versionLabel(v int) string {
	if v == 0 {
		return "変更なし"
	}
	return strconv.Itoa(v)
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04")
}
