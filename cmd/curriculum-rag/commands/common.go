package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	gendomain "github.com/jinford/curriculum-rag/internal/module/generation/domain"
	stage "github.com/jinford/curriculum-rag/internal/module/stage/domain"
	"github.com/jinford/curriculum-rag/internal/platform/config"
	"github.com/jinford/curriculum-rag/internal/platform/container"
	"github.com/jinford/curriculum-rag/internal/platform/logger"
	"github.com/jinford/curriculum-rag/internal/shared/textutil"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config    *config.Config
	Container *container.Container
}

// NewAppContext は設定ファイルを読み込み、DBに接続して AppContext を作成する
func NewAppContext(ctx context.Context, envFile string) (*AppContext, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	appLogger := logger.New(logger.Config{
		Level:  logger.ParseLevel(cfg.Logging.Level),
		Format: cfg.Logging.Format,
	})

	cont, err := container.New(ctx, appLogger, cfg)
	if err != nil {
		return nil, fmt.Errorf("コンテナの初期化に失敗: %w", err)
	}

	return &AppContext{Config: cfg, Container: cont}, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.Container != nil {
		ac.Container.Close()
	}
}

// Logger はAppContextのロガーを返す
func (ac *AppContext) Logger() *slog.Logger {
	if ac.Container != nil && ac.Container.Logger != nil {
		return ac.Container.Logger
	}
	return slog.Default()
}

// splitList はカンマ区切りの文字列を空要素を除いて分割する
func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// parsePayload はJSONオブジェクトの文字列、またはファイルの内容をステージ入力として解釈する
// どちらも空の場合は nil を返す
func parsePayload(inline, path string) (stage.Payload, error) {
	raw := strings.TrimSpace(inline)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("入力ファイルの読み込みに失敗: %w", err)
		}
		raw = strings.TrimSpace(string(data))
	}
	if raw == "" {
		return nil, nil
	}

	var payload stage.Payload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("入力はJSONオブジェクトで指定してください: %w", err)
	}
	if payload == nil {
		payload = stage.Payload{}
	}
	return payload, nil
}

// parseVariants は "1:0.5,2:0.5" 形式のA/B配分を解釈する
func parseVariants(s string) ([]gendomain.Variant, error) {
	var variants []gendomain.Variant
	for _, item := range splitList(s) {
		version, weight, ok := strings.Cut(item, ":")
		if !ok {
			return nil, fmt.Errorf("配分の形式が不正です: %q (版:重み)", item)
		}
		v, err := strconv.Atoi(strings.TrimSpace(version))
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("版の番号が不正です: %q", version)
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(weight), 64)
		if err != nil || w < 0 {
			return nil, fmt.Errorf("重みが不正です: %q", weight)
		}
		variants = append(variants, gendomain.Variant{Version: v, Weight: w})
	}
	return variants, nil
}

// truncateString は表示用に空白をまとめて切り詰める
func truncateString(s string, maxRunes int) string {
	return textutil.TruncateWithEllipsis(textutil.NormalizeSpace(s), maxRunes)
}
