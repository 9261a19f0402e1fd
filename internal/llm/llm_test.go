package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"

	"github.com/dosco/nlsqld/internal/apperr"
)

// A limiter whose single token is already spent and that refills only
// once an hour never admits a request within a test; Wait fails as soon
// as its context is done or its deadline rules the wait out, which is
// how these tests force Complete down the timeout path without a real
// model call.
func blockingLimiter() *rate.Limiter {
	l := rate.NewLimiter(rate.Every(time.Hour), 1)
	l.Allow()
	return l
}

func TestCompleteTimesOutIndependentlyOfCallerContext(t *testing.T) {
	c := &Client{
		limiter: blockingLimiter(),
		counter: NewTokenCounter("gpt-4o"),
		timeout: 10 * time.Millisecond,
	}

	_, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	assert.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindTimeout))
	assert.Contains(t, err.Error(), "llm_rate_limit_timeout")
}

func TestCompleteRespectsCallerCancellationWhenTimeoutDisabled(t *testing.T) {
	c := &Client{
		limiter: blockingLimiter(),
		counter: NewTokenCounter("gpt-4o"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Complete(ctx, Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	assert.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindTimeout))
}
