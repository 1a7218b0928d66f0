// Package textutil はプロンプト組み立てや検索結果の整形で使う文字列ヘルパーを提供する
package textutil

import (
	"strings"
	"unicode/utf8"
)

// TruncateRunes は文字列をルーン数で切り詰める。マルチバイト文字の途中では切らない
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes])
}

// TruncateWithEllipsis は切り詰めた場合のみ末尾に省略記号を付ける
func TruncateWithEllipsis(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	return TruncateRunes(s, maxRunes) + "…"
}

// NormalizeSpace は連続する空白を1つにまとめ、前後の空白を除去する
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// FirstNonEmpty は最初の空でない文字列を返す
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
