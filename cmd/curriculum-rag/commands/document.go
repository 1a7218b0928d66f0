package commands

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	docapp "github.com/jinford/curriculum-rag/internal/module/document/application"
)

// SchemaInitAction はチャンクテーブルとMongoDBのインデックスを作成するコマンドのアクション
func SchemaInitAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.Container.VectorStore.InitSchema(ctx); err != nil {
		return fmt.Errorf("チャンクテーブルの作成に失敗: %w", err)
	}
	if err := appCtx.Container.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("インデックスの作成に失敗: %w", err)
	}

	fmt.Println("✓ スキーマを初期化しました")
	return nil
}

// DocumentAddAction はファイルを台帳に登録するコマンドのアクション
func DocumentAddAction(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("file")

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("ファイルの読み込みに失敗: %w", err)
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	name := filepath.Base(path)
	doc, err := appCtx.Container.DocumentService.Register(ctx, docapp.RegisterParams{
		OriginalName: name,
		MimeType:     mime.TypeByExtension(filepath.Ext(name)),
		Data:         data,
		StageIDs:     splitList(cmd.String("stages")),
	})
	if err != nil {
		return err
	}
	fmt.Printf("✓ ドキュメントを登録しました\n")
	fmt.Printf("  ID:   %s\n", doc.ID)
	fmt.Printf("  Name: %s\n", doc.OriginalName)

	if !cmd.Bool("process") {
		return nil
	}
	result, err := appCtx.Container.Processor.ProcessDocument(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("ドキュメントの処理に失敗: %w", err)
	}
	fmt.Printf("✓ %d件のチャンクを登録しました\n", result.ChunkCount)
	return nil
}

// DocumentProcessAction はドキュメントを1件処理するコマンドのアクション
func DocumentProcessAction(ctx context.Context, cmd *cli.Command) error {
	id := cmd.String("id")

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	result, err := appCtx.Container.Processor.ProcessDocument(ctx, id)
	if err != nil {
		return fmt.Errorf("ドキュメントの処理に失敗: %w", err)
	}
	fmt.Printf("✓ %s: %d件のチャンクを登録しました\n", result.DocumentID, result.ChunkCount)
	return nil
}

// DocumentProcessPendingAction は未処理ドキュメントを一括処理するコマンドのアクション
func DocumentProcessPendingAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	result, err := appCtx.Container.Processor.ProcessPending(ctx)
	if err != nil {
		return fmt.Errorf("一括処理に失敗: %w", err)
	}
	fmt.Printf("✓ 処理: %d件 / 失敗: %d件\n", result.Processed, result.Failed)
	return nil
}

// DocumentRetryFailedAction は失敗したドキュメントを再処理するコマンドのアクション
func DocumentRetryFailedAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	maxAttempts := cmd.Int("max-attempts")
	if maxAttempts <= 0 {
		maxAttempts = appCtx.Config.Processing.MaxAttempts
	}

	result, err := appCtx.Container.Processor.RetryFailed(ctx, maxAttempts)
	if err != nil {
		return fmt.Errorf("再処理に失敗: %w", err)
	}
	fmt.Printf("✓ 再処理: %d件 / 成功: %d件 / 失敗: %d件 / 対象外: %d件\n",
		result.Retried, result.Succeeded, result.StillFailed, result.Skipped)
	return nil
}

// DocumentDeleteAction はドキュメントを削除するコマンドのアクション
func DocumentDeleteAction(ctx context.Context, cmd *cli.Command) error {
	id := cmd.String("id")

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	result, err := appCtx.Container.DocumentService.Delete(ctx, id)
	if result != nil {
		renderDeleteSteps(result)
	}
	if err != nil {
		return err
	}
	if result.Partial {
		slog.Warn("一部の削除処理に失敗しました", "documentID", id)
	}
	return nil
}

// DocumentRetagAction は検索対象ステージを付け替えるコマンドのアクション
func DocumentRetagAction(ctx context.Context, cmd *cli.Command) error {
	id := cmd.String("id")

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	n, err := appCtx.Container.DocumentService.UpdateStageIDs(ctx, id, splitList(cmd.String("stages")))
	if err != nil {
		return err
	}
	fmt.Printf("✓ %d件のチャンクのステージを更新しました\n", n)
	return nil
}

// HealthCheckAction は台帳とチャンクストアの整合性を検査するコマンドのアクション
func HealthCheckAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	report, err := appCtx.Container.DocumentService.RunHealthCheck(ctx, cmd.Bool("repair"))
	if err != nil {
		return fmt.Errorf("整合性チェックに失敗: %w", err)
	}

	fmt.Printf("検査: %d件 / 件数不一致: %d件 / 孤立: %d件 / 修復: %d件\n",
		report.Checked, len(report.Mismatched), len(report.Orphans), report.Repaired)

	if len(report.Mismatched) > 0 {
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Document ID", "Expected", "Actual")
		for _, m := range report.Mismatched {
			table.Append(m.DocumentID, strconv.Itoa(m.Expected), strconv.Itoa(m.Actual))
		}
		table.Render()
	}
	for _, id := range report.Orphans {
		fmt.Printf("  孤立チャンク: %s\n", id)
	}
	if report.Healthy() {
		fmt.Println("✓ 不整合はありません")
	}
	return nil
}

func renderDeleteSteps(result *docapp.DeleteResult) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Step", "OK", "Deleted", "Error")
	for _, s := range result.Steps {
		table.Append(s.Step, strconv.FormatBool(s.OK), strconv.FormatInt(s.Deleted, 10), s.Error)
	}
	table.Render()
}
