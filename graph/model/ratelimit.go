package model

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited throttles calls to the wrapped model.
type RateLimited struct {
	next    ChatModel
	limiter *rate.Limiter
}

// WithRateLimit wraps m so at most requestsPerMinute calls start per
// minute. A non-positive rate disables limiting.
func WithRateLimit(m ChatModel, requestsPerMinute int) ChatModel {
	if requestsPerMinute <= 0 {
		return m
	}
	burst := requestsPerMinute / 5
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		next:    m,
		limiter: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst),
	}
}

// Chat implements ChatModel.
func (r *RateLimited) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return ChatOut{}, err
	}
	return r.next.Chat(ctx, messages, tools)
}
