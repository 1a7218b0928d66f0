package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	gendomain "github.com/jinford/curriculum-rag/internal/module/generation/domain"
)

// TemplatePublishAction はプロンプトテンプレートの新しいバージョンを公開するコマンドのアクション
func TemplatePublishAction(ctx context.Context, cmd *cli.Command) error {
	content, err := os.ReadFile(cmd.String("file"))
	if err != nil {
		return fmt.Errorf("テンプレートファイルの読み込みに失敗: %w", err)
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	key := cmd.String("key")
	version, err := appCtx.Container.Templates.Publish(ctx, key, string(content))
	if err != nil {
		return err
	}
	fmt.Printf("✓ テンプレートを公開しました (key: %s, version: %d)\n", key, version)
	return nil
}

// TemplateABAction はテンプレートのA/Bテスト設定を更新するコマンドのアクション
//
// --variants を省略するとA/Bテストを無効化する。
func TemplateABAction(ctx context.Context, cmd *cli.Command) error {
	variants, err := parseVariants(cmd.String("variants"))
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	key := cmd.String("key")
	ab := gendomain.ABTesting{Enabled: len(variants) > 0, Variants: variants}
	if err := appCtx.Container.Templates.SetABTesting(ctx, key, ab); err != nil {
		return err
	}

	if !ab.Enabled {
		fmt.Printf("✓ A/Bテストを無効化しました (key: %s)\n", key)
		return nil
	}
	fmt.Printf("✓ A/Bテストを設定しました (key: %s)\n", key)
	for _, v := range variants {
		fmt.Printf("  - version %d: weight %.2f\n", v.Version, v.Weight)
	}
	return nil
}
