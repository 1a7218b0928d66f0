package adapter

import (
	"context"
	"time"

	"github.com/jinford/curriculum-rag/internal/module/llm/domain"
)

// idleWatchdog は一定時間 Touch されない場合にコンテキストをキャンセルする
type idleWatchdog struct {
	timeout time.Duration
	timer   *time.Timer
	cancel  context.CancelCauseFunc
}

// newIdleWatchdog は無通信タイムアウト付きのコンテキストを作成する
// タイムアウト時の原因は domain.ErrIdleTimeout
func newIdleWatchdog(parent context.Context, timeout time.Duration) (context.Context, *idleWatchdog) {
	ctx, cancel := context.WithCancelCause(parent)
	w := &idleWatchdog{timeout: timeout, cancel: cancel}
	if timeout > 0 {
		w.timer = time.AfterFunc(timeout, func() {
			cancel(domain.ErrIdleTimeout)
		})
	}
	return ctx, w
}

// Touch はタイマーをリセットする
func (w *idleWatchdog) Touch() {
	if w.timer != nil {
		w.timer.Reset(w.timeout)
	}
}

// Stop はタイマーを止め、コンテキストを解放する
func (w *idleWatchdog) Stop() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.cancel(nil)
}
