package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/jinford/curriculum-rag/internal/module/llm/domain"
	"github.com/stretchr/testify/assert"
)

func TestIdleWatchdog_SteadyTouchesKeepContextAlive(t *testing.T) {
	ctx, w := newIdleWatchdog(context.Background(), 100*time.Millisecond)
	defer w.Stop()

	// タイムアウトより長い時間、短い間隔でトークンを受信し続ける
	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
		w.Touch()
	}

	assert.NoError(t, ctx.Err())
}

func TestIdleWatchdog_StallCancelsWithIdleCause(t *testing.T) {
	ctx, w := newIdleWatchdog(context.Background(), 30*time.Millisecond)
	defer w.Stop()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog did not fire")
	}

	assert.ErrorIs(t, context.Cause(ctx), domain.ErrIdleTimeout)
}

func TestIdleWatchdog_StopReleasesWithoutIdleCause(t *testing.T) {
	ctx, w := newIdleWatchdog(context.Background(), time.Hour)
	w.Stop()

	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.NotErrorIs(t, context.Cause(ctx), domain.ErrIdleTimeout)
}
