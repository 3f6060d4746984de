package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Upstream failure classes. Adapters wrap backend errors with [Classify] so
// callers can match them with [errors.Is].
var (
	ErrRateLimited   = errors.New("llm: rate limited")
	ErrModelNotFound = errors.New("llm: model not found")
)

// rateMarkers identify throttling in backend error text. A bare "rate" would
// also match words like "generate".
var rateMarkers = []string{"429", "quota", "rate limit", "rate_limit", "ratelimit", "too many requests"}

// Classify wraps err with [ErrRateLimited] or [ErrModelNotFound] and returns
// any other error unchanged. status is the backend's HTTP status; when it is
// 0 (unknown) the error text decides.
func Classify(err error, status int) error {
	if err == nil || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrModelNotFound) {
		return err
	}
	msg := strings.ToLower(err.Error())
	if status != 0 {
		switch {
		case status == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %w", ErrRateLimited, err)
		case status == http.StatusNotFound && strings.Contains(msg, "model"):
			return fmt.Errorf("%w: %w", ErrModelNotFound, err)
		}
		return err
	}
	switch {
	case containsAny(msg, rateMarkers):
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	case strings.Contains(msg, "model") && strings.Contains(msg, "not found"):
		return fmt.Errorf("%w: %w", ErrModelNotFound, err)
	}
	return err
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
