package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jinford/curriculum-rag/cmd/curriculum-rag/commands"
	"github.com/urfave/cli/v3"
)

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}
}

func projectFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "project",
		Usage:    "プロジェクトID",
		Required: true,
	}
}

func stageFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "stage",
		Usage:    "ステージID (Q1..Q10)",
		Required: true,
	}
}

func documentFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "id",
		Usage:    "ドキュメントID",
		Required: true,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 設定を読み込むまでの暫定ロガー
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	app := &cli.Command{
		Name:  "curriculum-rag",
		Usage: "学校課程規画の段階的生成とRAG用ドキュメント管理",
		Commands: []*cli.Command{
			{
				Name:  "schema",
				Usage: "スキーマ管理コマンド",
				Commands: []*cli.Command{
					{
						Name:   "init",
						Usage:  "チャンクテーブルとMongoDBインデックスを作成",
						Flags:  []cli.Flag{envFlag()},
						Action: commands.SchemaInitAction,
					},
				},
			},
			{
				Name:  "document",
				Usage: "ドキュメント管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "add",
						Usage: "ファイルを登録",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:     "file",
								Usage:    "登録するファイルパス",
								Required: true,
							},
							&cli.StringFlag{
								Name:  "stages",
								Usage: "検索対象ステージ (カンマ区切り、省略時は全ステージ)",
							},
							&cli.BoolFlag{
								Name:  "process",
								Usage: "登録後にすぐ処理する",
							},
						},
						Action: commands.DocumentAddAction,
					},
					{
						Name:   "process",
						Usage:  "ドキュメントを1件処理",
						Flags:  []cli.Flag{envFlag(), documentFlag()},
						Action: commands.DocumentProcessAction,
					},
					{
						Name:   "process-pending",
						Usage:  "未処理のドキュメントを一括処理",
						Flags:  []cli.Flag{envFlag()},
						Action: commands.DocumentProcessPendingAction,
					},
					{
						Name:  "retry-failed",
						Usage: "失敗したドキュメントを再処理",
						Flags: []cli.Flag{
							envFlag(),
							&cli.IntFlag{
								Name:  "max-attempts",
								Usage: "試行回数の上限 (省略時は設定値)",
							},
						},
						Action: commands.DocumentRetryFailedAction,
					},
					{
						Name:   "delete",
						Usage:  "ドキュメントを削除",
						Flags:  []cli.Flag{envFlag(), documentFlag()},
						Action: commands.DocumentDeleteAction,
					},
					{
						Name:  "retag",
						Usage: "検索対象ステージを付け替え",
						Flags: []cli.Flag{
							envFlag(),
							documentFlag(),
							&cli.StringFlag{
								Name:  "stages",
								Usage: "ステージID (カンマ区切り、空で全ステージ)",
							},
						},
						Action: commands.DocumentRetagAction,
					},
				},
			},
			{
				Name:  "health",
				Usage: "整合性チェックコマンド",
				Commands: []*cli.Command{
					{
						Name:  "check",
						Usage: "台帳とチャンクストアの整合性を検査",
						Flags: []cli.Flag{
							envFlag(),
							&cli.BoolFlag{
								Name:  "repair",
								Usage: "不整合を修復する",
							},
						},
						Action: commands.HealthCheckAction,
					},
				},
			},
			{
				Name:  "project",
				Usage: "プロジェクト管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "create",
						Usage: "プロジェクトを作成",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:     "name",
								Usage:    "プロジェクト名",
								Required: true,
							},
							&cli.StringFlag{
								Name:  "school",
								Usage: "学校名",
							},
							&cli.StringFlag{
								Name:  "region",
								Usage: "地域",
							},
							&cli.StringFlag{
								Name:  "tenant",
								Usage: "テナントID",
							},
						},
						Action: commands.ProjectCreateAction,
					},
					{
						Name:   "show",
						Usage:  "プロジェクトの進捗を表示",
						Flags:  []cli.Flag{envFlag(), projectFlag()},
						Action: commands.ProjectShowAction,
					},
				},
			},
			{
				Name:  "stage",
				Usage: "ステージ操作コマンド",
				Commands: []*cli.Command{
					{
						Name:  "input",
						Usage: "ステージ入力を保存",
						Flags: []cli.Flag{
							envFlag(),
							projectFlag(),
							stageFlag(),
							&cli.StringFlag{
								Name:  "data",
								Usage: "入力 (JSONオブジェクト)",
							},
							&cli.StringFlag{
								Name:  "data-file",
								Usage: "入力JSONファイルパス",
							},
						},
						Action: commands.StageInputAction,
					},
					{
						Name:  "generate",
						Usage: "ステージの内容をAI生成",
						Flags: []cli.Flag{
							envFlag(),
							projectFlag(),
							stageFlag(),
							&cli.StringFlag{
								Name:  "query",
								Usage: "検索クエリ (省略時はステージ既定のトピック)",
							},
							&cli.StringFlag{
								Name:  "data",
								Usage: "生成に使う入力 (JSONオブジェクト、省略時は保存済みの入力)",
							},
							&cli.BoolFlag{
								Name:  "rag",
								Usage: "ドキュメント検索を使う",
								Value: true,
							},
							&cli.BoolFlag{
								Name:  "web",
								Usage: "Web検索を使う",
							},
							&cli.BoolFlag{
								Name:  "citations",
								Usage: "参考資料の一覧を付ける",
							},
							&cli.BoolFlag{
								Name:  "stream",
								Usage: "生成中のテキストを逐次表示する",
							},
							&cli.StringFlag{
								Name:  "session",
								Usage: "会話セッションのキー",
							},
							&cli.StringFlag{
								Name:  "user",
								Usage: "作成者のユーザーID (A/Bテストの割り当てに使う)",
							},
						},
						Action: commands.StageGenerateAction,
					},
					{
						Name:   "complete",
						Usage:  "ステージを完了にする",
						Flags:  []cli.Flag{envFlag(), projectFlag(), stageFlag()},
						Action: commands.StageCompleteAction,
					},
					{
						Name:   "progress",
						Usage:  "全体の進捗を再計算",
						Flags:  []cli.Flag{envFlag(), projectFlag()},
						Action: commands.StageProgressAction,
					},
				},
			},
			{
				Name:  "version",
				Usage: "ステージのバージョン管理コマンド",
				Commands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "バージョン一覧を表示",
						Flags:  []cli.Flag{envFlag(), projectFlag(), stageFlag()},
						Action: commands.VersionListAction,
					},
					{
						Name:  "rollback",
						Usage: "指定したバージョンに戻す",
						Flags: []cli.Flag{
							envFlag(),
							projectFlag(),
							stageFlag(),
							&cli.IntFlag{
								Name:     "version",
								Usage:    "バージョン番号",
								Required: true,
							},
						},
						Action: commands.VersionRollbackAction,
					},
					{
						Name:  "cleanup",
						Usage: "古いバージョンを削除",
						Flags: []cli.Flag{
							envFlag(),
							projectFlag(),
							stageFlag(),
							&cli.IntFlag{
								Name:  "keep",
								Usage: "残す件数",
								Value: 10,
							},
						},
						Action: commands.VersionCleanupAction,
					},
					{
						Name:  "delete",
						Usage: "バージョンを1件削除",
						Flags: []cli.Flag{
							envFlag(),
							projectFlag(),
							stageFlag(),
							&cli.IntFlag{
								Name:     "version",
								Usage:    "バージョン番号",
								Required: true,
							},
						},
						Action: commands.VersionDeleteAction,
					},
				},
			},
			{
				Name:  "template",
				Usage: "プロンプトテンプレート管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "publish",
						Usage: "テンプレートの新しい版を公開",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:     "key",
								Usage:    "テンプレートキー (例: stage_q1_swot)",
								Required: true,
							},
							&cli.StringFlag{
								Name:     "file",
								Usage:    "テンプレート本文のファイルパス",
								Required: true,
							},
						},
						Action: commands.TemplatePublishAction,
					},
					{
						Name:  "ab",
						Usage: "A/Bテストの配分を設定",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:     "key",
								Usage:    "テンプレートキー",
								Required: true,
							},
							&cli.StringFlag{
								Name:  "variants",
								Usage: "版と重みの組 (例: 1:0.5,2:0.5)。空で無効化",
							},
						},
						Action: commands.TemplateABAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
