package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TransientError marks a provider failure worth retrying.
type TransientError struct {
	Err         error
	RateLimited bool
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// ClassifyStatus wraps err as transient when status is 429 or 5xx.
// Adapters call it with the HTTP status reported by their SDK.
func ClassifyStatus(err error, status int) error {
	if err == nil {
		return nil
	}
	switch {
	case status == http.StatusTooManyRequests:
		return &TransientError{Err: err, RateLimited: true}
	case status >= 500:
		return &TransientError{Err: err}
	}
	return err
}

// IsTransient reports whether err should trigger a retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection reset", "connection refused", "temporary", "unavailable"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func isRateLimited(err error) bool {
	var te *TransientError
	return errors.As(err, &te) && te.RateLimited
}

// Retrying retries transient failures of the wrapped model.
type Retrying struct {
	next       ChatModel
	maxRetries int
	delay      time.Duration
}

// WithRetry wraps m so transient errors are retried up to maxRetries times.
// Rate-limit errors back off linearly with the attempt number.
func WithRetry(m ChatModel, maxRetries int, delay time.Duration) *Retrying {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Retrying{next: m, maxRetries: maxRetries, delay: delay}
}

// Chat implements ChatModel.
func (r *Retrying) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return ChatOut{}, err
		}

		out, err := r.next.Chat(ctx, messages, tools)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !IsTransient(err) || attempt == r.maxRetries {
			break
		}

		wait := r.delay
		if isRateLimited(err) {
			wait = r.delay * time.Duration(attempt+1)
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ChatOut{}, ctx.Err()
		}
	}

	if IsTransient(lastErr) && r.maxRetries > 0 {
		return ChatOut{}, fmt.Errorf("model failed after %d retries: %w", r.maxRetries, lastErr)
	}
	return ChatOut{}, lastErr
}
