package application

import (
	"context"
	"sync"

	"github.com/jinford/curriculum-rag/internal/module/generation/domain"
)

// eventQueue は生成側と受信側の間に置く上限なしのキュー
//
// push はブロックしない。1回の生成で積まれるイベント数は最大トークン数で抑えられる。
type eventQueue struct {
	mu     sync.Mutex
	items  []domain.Event
	closed bool
	ready  chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{ready: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev domain.Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()
	q.notify()
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notify()
}

func (q *eventQueue) notify() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// forward はキューのイベントを out に順に送る。close されるまで戻らない
//
// ctx の終了後は送信をやめ、残りのイベントは読み捨てる。
func (q *eventQueue) forward(ctx context.Context, out chan<- domain.Event) {
	discard := false
	for {
		q.mu.Lock()
		items, closed := q.items, q.closed
		q.items = nil
		q.mu.Unlock()

		for _, ev := range items {
			if discard || ctx.Err() != nil {
				discard = true
				break
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				discard = true
			}
		}
		if closed {
			return
		}
		<-q.ready
	}
}
