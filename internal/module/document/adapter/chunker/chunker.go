// Package chunker は抽出済みテキストを固定長・オーバーラップ付きで分割する
package chunker

import (
	"strings"

	"github.com/jinford/curriculum-rag/internal/module/document/domain"
)

const (
	// DefaultChunkSize は1チャンクあたりの文字数（ルーン数）
	DefaultChunkSize = 1000

	// DefaultChunkOverlap は隣接チャンク間で重複させる文字数
	DefaultChunkOverlap = 200
)

// 区切り探索はウィンドウ末尾のこの割合の範囲だけで行う
const boundarySearchRatio = 5

// Chunker は決定的な固定長チャンカー
//
// 同じ入力からは常に同じ分割結果を返すため、再処理しても chunk_index が変わらない。
type Chunker struct {
	chunkSize int
	overlap   int
}

// Option は Chunker のオプション
type Option func(*Chunker)

// WithChunkSize はチャンクサイズを指定する
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap はオーバーラップを指定する
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// New は新しい Chunker を作成する
func New(opts ...Option) *Chunker {
	c := &Chunker{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}

	// オーバーラップがチャンクサイズ以上だと前に進まない
	if c.overlap >= c.chunkSize {
		c.overlap = c.chunkSize / 4
	}
	return c
}

// Split はテキストをチャンクに分割する
func (c *Chunker) Split(text string) []domain.TextSegment {
	runes := []rune(normalize(text))
	total := len(runes)
	if total == 0 {
		return nil
	}

	segments := make([]domain.TextSegment, 0, total/(c.chunkSize-c.overlap)+1)
	start := 0
	for start < total {
		end := min(start+c.chunkSize, total)
		if end < total {
			end = c.adjustEnd(runes, start, end)
		}

		content := strings.TrimSpace(string(runes[start:end]))
		if content != "" {
			segments = append(segments, domain.TextSegment{
				Content:   content,
				StartRune: start,
				EndRune:   end,
			})
		}

		if end >= total {
			break
		}

		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = next
	}

	return segments
}

// adjustEnd はウィンドウ末尾付近の文や段落の区切りで切れるように終端を調整する
func (c *Chunker) adjustEnd(runes []rune, start, end int) int {
	floor := end - (end-start)/boundarySearchRatio
	if floor <= start+c.overlap {
		return end
	}
	for i := end - 1; i >= floor; i-- {
		if isBoundary(runes[i]) {
			return i + 1
		}
	}
	return end
}

func isBoundary(r rune) bool {
	switch r {
	case '\n', '。', '！', '？', '；', '.', '!', '?', ';':
		return true
	}
	return false
}

// normalize は改行コードを統一し、3行以上の空行を1つの空行にまとめる
func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text)
}

var _ domain.Chunker = (*Chunker)(nil)
