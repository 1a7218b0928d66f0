package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesKindSentinel(t *testing.T) {
	err := New(KindTimeout, "embed", context.DeadlineExceeded)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrTransient)
	assert.Equal(t, "embed: context deadline exceeded", err.Error())
}

func TestWrap_MatchesSentinelAndCause(t *testing.T) {
	sentinel := Define(KindValidation, "invalid stage")
	cause := errors.New("Q11")

	err := fmt.Errorf("save input: %w", Wrap(sentinel, "stage.SaveInput", cause))

	assert.ErrorIs(t, err, sentinel)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Contains(t, err.Error(), "invalid stage: Q11")
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "transient", err: New(KindTransient, "op", errors.New("503")), want: true},
		{name: "timeout", err: New(KindTimeout, "op", errors.New("slow")), want: true},
		{name: "integrity", err: New(KindDataIntegrity, "op", errors.New("count")), want: false},
		{name: "validation", err: Define(KindValidation, "bad"), want: false},
		{name: "plain", err: errors.New("plain"), want: false},
		{name: "nil", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
