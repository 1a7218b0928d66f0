package application

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrent は同時に実行できるLLM呼び出しのデフォルト数
const DefaultMaxConcurrent = 3

// RequestQueue は高コストな呼び出しの同時実行数を制限するゲート
//
// 上限を超えた呼び出しは到着順に待機し、スロットが空くまでブロックする。
// スロットはタスクの成否に関わらず必ず解放される。
type RequestQueue struct {
	sem   *semaphore.Weighted
	limit int

	mu          sync.Mutex
	active      int
	waiting     int
	maxObserved int
	completed   int
}

// NewRequestQueue は新しいRequestQueueを作成する
func NewRequestQueue(maxConcurrent int) *RequestQueue {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &RequestQueue{
		sem:   semaphore.NewWeighted(int64(maxConcurrent)),
		limit: maxConcurrent,
	}
}

// Do はスロットを取得して fn を実行する
// スロット待ちの間にコンテキストが終了した場合は fn を実行せずにエラーを返す
func (q *RequestQueue) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := q.acquire(ctx); err != nil {
		return err
	}
	defer q.release()

	return fn(ctx)
}

// Run は値を返すタスクをスロット内で実行する
func Run[T any](ctx context.Context, q *RequestQueue, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := q.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}

func (q *RequestQueue) acquire(ctx context.Context) error {
	q.mu.Lock()
	q.waiting++
	q.mu.Unlock()

	err := q.sem.Acquire(ctx, 1)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.waiting--
	if err != nil {
		return fmt.Errorf("failed to acquire request slot: %w", err)
	}
	q.active++
	if q.active > q.maxObserved {
		q.maxObserved = q.active
	}
	return nil
}

func (q *RequestQueue) release() {
	q.mu.Lock()
	q.active--
	q.completed++
	q.mu.Unlock()

	q.sem.Release(1)
}

// QueueStatus はキューの状態
type QueueStatus struct {
	Limit       int
	Active      int
	Waiting     int
	MaxObserved int
	Completed   int
}

// String はステータスを文字列表現で返す
func (s QueueStatus) String() string {
	return fmt.Sprintf(
		"RequestQueue: limit=%d, active=%d, waiting=%d, maxObserved=%d, completed=%d",
		s.Limit, s.Active, s.Waiting, s.MaxObserved, s.Completed,
	)
}

// Status は現在の状態を返す（デバッグ・監視用）
func (q *RequestQueue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStatus{
		Limit:       q.limit,
		Active:      q.active,
		Waiting:     q.waiting,
		MaxObserved: q.maxObserved,
		Completed:   q.completed,
	}
}
