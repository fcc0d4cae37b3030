package registration

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Reverse-Call-Center/agent-phone/types"
	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: 2 * time.Second, Cap: 60 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{2, 8 * time.Second},
		{4, 32 * time.Second},
		{5, 60 * time.Second},
		{10, 60 * time.Second},
		{-3, 2 * time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.want, b.Delay(tt.attempt))
		})
	}
}

func TestBackoffMonotonicAndCapped(t *testing.T) {
	cases := []Backoff{
		{Base: time.Millisecond, Cap: time.Second},
		{Base: 3 * time.Second, Cap: 7 * time.Second},
		{Base: time.Second, Cap: time.Second},
		{Base: time.Hour, Cap: 1<<63 - 1},
	}
	for _, b := range cases {
		prev := time.Duration(0)
		for attempt := 0; attempt <= 200; attempt++ {
			d := b.Delay(attempt)
			assert.GreaterOrEqual(t, d, prev, "attempt %d of %+v", attempt, b)
			assert.LessOrEqual(t, d, b.Cap, "attempt %d of %+v", attempt, b)
			assert.Positive(t, d)
			prev = d
		}
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, FailureAuth, Classify(fmt.Errorf("register: %w", types.ErrAuthRejected)))
	assert.Equal(t, FailureTransient, Classify(errors.New("i/o timeout")))
	assert.Equal(t, "auth", FailureAuth.String())
	assert.Equal(t, "transient", FailureTransient.String())
}
