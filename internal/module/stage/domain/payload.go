package domain

import (
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/jinford/curriculum-rag/internal/shared/apperr"
)

// 出力に必ず含まれる本文のキー
const (
	KeyReport  = "report"
	KeyContent = "content"
)

// Payload はステージ入力・出力のキーと値
//
// 値はJSON互換の型（string, float64, bool, []any, map[string]any）を想定する。
type Payload map[string]any

// Clone は浅いコピーを返す
func (p Payload) Clone() Payload {
	if p == nil {
		return Payload{}
	}
	return maps.Clone(p)
}

// Merge は other のキーで上書きした新しい Payload を返す
// other に含まれないキーは保持される
func (p Payload) Merge(other Payload) Payload {
	merged := p.Clone()
	maps.Copy(merged, other)
	return merged
}

// String は文字列値を返す。数値などは文字列に変換する
func (p Payload) String(key string) string {
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []any, []string:
		return strings.Join(p.Strings(key), "、")
	default:
		return fmt.Sprint(v)
	}
}

// Strings は文字列のリストを返す
// 文字列値の場合は改行・読点・カンマで分割する
func (p Payload) Strings(key string) []string {
	var out []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	switch v := p[key].(type) {
	case []string:
		for _, s := range v {
			add(s)
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	case string:
		for _, s := range strings.FieldsFunc(v, isListSeparator) {
			add(s)
		}
	}
	return out
}

func isListSeparator(r rune) bool {
	switch r {
	case '\n', ',', '，', '、', ';', '；':
		return true
	}
	return false
}

// Float は数値を返す。数値でない場合は false
func (p Payload) Float(key string) (float64, bool) {
	return toFloat(p[key])
}

// Map はネストしたオブジェクトを返す
func (p Payload) Map(key string) map[string]any {
	switch v := p[key].(type) {
	case map[string]any:
		return v
	case Payload:
		return v
	}
	return nil
}

// Items はオブジェクトのリストを返す
func (p Payload) Items(key string) []map[string]any {
	list, ok := p[key].([]any)
	if !ok {
		return nil
	}
	var items []map[string]any
	for _, item := range list {
		switch v := item.(type) {
		case map[string]any:
			items = append(items, v)
		case Payload:
			items = append(items, v)
		case string:
			items = append(items, map[string]any{"name": v})
		}
	}
	return items
}

// Report は本文（report、なければ content）を返す
func (p Payload) Report() string {
	return strings.TrimSpace(firstNonEmpty(p.String(KeyReport), p.String(KeyContent)))
}

// IsEmptyValue は値が未入力とみなせるかを返す
func IsEmptyValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	case []string:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	case Payload:
		return len(x) == 0
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

// ToFloat はJSON互換の数値を float64 に変換する
func ToFloat(v any) (float64, bool) {
	return toFloat(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Schema はステージ入力の宣言済みフィールド
type Schema struct {
	Required []string
	Fields   []string
}

// ValidateInput は必須フィールドが入力されているかを検証する
// 入力の保存時には呼ばず、生成時にのみ検証する
func (s Schema) ValidateInput(p Payload) error {
	var missing []string
	for _, key := range s.Required {
		if IsEmptyValue(p[key]) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return apperr.Wrap(ErrMissingRequiredField, "validate input", fmt.Errorf("%s", strings.Join(missing, ", ")))
	}
	return nil
}

// Completeness は宣言済みフィールドのうち入力済みの割合（0..1）を返す
func (s Schema) Completeness(p Payload) float64 {
	if len(s.Fields) == 0 {
		return 0
	}
	filled := 0
	for _, key := range s.Fields {
		if !IsEmptyValue(p[key]) {
			filled++
		}
	}
	return float64(filled) / float64(len(s.Fields))
}
