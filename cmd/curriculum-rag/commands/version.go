package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"
)

// VersionListAction はステージのバージョン履歴を一覧表示するコマンドのアクション
func VersionListAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	versions, err := appCtx.Container.VersionManager.List(ctx, cmd.String("project"), cmd.String("stage"))
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		fmt.Println("バージョンがありません")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Version", "Author", "AI", "Model", "Note", "Created At")
	for _, v := range versions {
		model := "-"
		if v.Metadata != nil && v.Metadata.Model != "" {
			model = v.Metadata.Model
		}
		author := v.Author.Name
		if author == "" {
			author = v.Author.UserID
		}
		table.Append(
			strconv.Itoa(v.Version),
			author,
			strconv.FormatBool(v.IsAIGenerated),
			model,
			truncateString(v.ChangeNote, 40),
			formatTime(v.CreatedAt),
		)
	}
	table.Render()
	return nil
}

// VersionRollbackAction は指定バージョンの内容にステージを戻すコマンドのアクション
func VersionRollbackAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	version := cmd.Int("version")
	data, err := appCtx.Container.VersionManager.Rollback(ctx, cmd.String("project"), cmd.String("stage"), version)
	if err != nil {
		return err
	}
	fmt.Printf("✓ バージョン %d にロールバックしました (status: %s)\n", version, data.Status)
	return nil
}

// VersionCleanupAction は古いバージョンを削除するコマンドのアクション
func VersionCleanupAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	result, err := appCtx.Container.VersionManager.Cleanup(ctx, cmd.String("project"), cmd.String("stage"), cmd.Int("keep"))
	if err != nil {
		return err
	}
	fmt.Printf("✓ クリーンアップ完了 (deleted: %d, kept: %d)\n", result.Deleted, result.Kept)
	return nil
}

// VersionDeleteAction は指定バージョンを削除するコマンドのアクション
func VersionDeleteAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	version := cmd.Int("version")
	if err := appCtx.Container.VersionManager.Delete(ctx, cmd.String("project"), cmd.String("stage"), version); err != nil {
		return err
	}
	fmt.Printf("✓ バージョン %d を削除しました\n", version)
	return nil
}
