package domain

import (
	"context"
	"hash/fnv"
	"math/rand/v2"
	"regexp"
	"strings"
)

// Template はステージのプロンプトテンプレート
type Template struct {
	Key     string
	Content string
	// Version は現在のバージョン
	Version   int
	ABTesting *ABTesting
}

// ABTesting はテンプレートのA/Bテスト設定
type ABTesting struct {
	Enabled  bool
	Variants []Variant
}

// Variant はA/Bテストの1候補（Version のスナップショットを Weight の比率で配信する）
type Variant struct {
	Version int
	Weight  float64
}

// TemplateStore はプロンプトテンプレートの取得元
type TemplateStore interface {
	// GetTemplate は見つからない場合 ErrTemplateNotFound を返す
	GetTemplate(ctx context.Context, key string) (*Template, error)
	// GetVersionSnapshot は指定バージョンの本文を返す
	GetVersionSnapshot(ctx context.Context, key string, version int) (string, error)
}

// seedResolution は SelectVariant が重みを区切る分解能
const seedResolution = 10000

// SelectVariant は重みに比例して候補のインデックスを選ぶ
//
// 同じ seed に対しては常に同じインデックスを返す。正の重みがない場合は 0。
func SelectVariant(weights []float64, seed uint32) int {
	total := 0.0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return 0
	}

	point := float64(seed%seedResolution) / seedResolution * total
	cumulative := 0.0
	last := 0
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		cumulative += w
		last = i
		if point < cumulative {
			return i
		}
	}
	return last
}

// SeedFromUser はユーザーIDから安定したシードを作る（FNV-1a）
func SeedFromUser(userID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return h.Sum32()
}

// RandomSeed はユーザーIDがない場合のシード
func RandomSeed() uint32 {
	return rand.Uint32()
}

// ResolveSeed はユーザーIDがあればそのハッシュ、なければ乱数を返す
func ResolveSeed(userID string) uint32 {
	if strings.TrimSpace(userID) == "" {
		return RandomSeed()
	}
	return SeedFromUser(userID)
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// Interpolate は {{name}} を vars の値で置き換える。未定義の変数は空文字になる
func Interpolate(template string, vars map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		return vars[name]
	})
}

// Placeholders はテンプレートに含まれる変数名を出現順に返す（重複なし）
func Placeholders(template string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}
