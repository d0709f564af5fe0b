package service

import (
	"context"
	"time"
)

const rateLimitKeyPrefix = "prosody:ratelimit:"

// WindowCounter is a fixed-window counter store.
type WindowCounter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RateDecision is the outcome of one rate limit check.
type RateDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimitService enforces a fixed number of requests per identifier and
// window.
type RateLimitService struct {
	counter     WindowCounter
	maxRequests int
	window      time.Duration
	now         func() time.Time
}

// NewRateLimitService creates a new RateLimitService.
func NewRateLimitService(counter WindowCounter, maxRequests int, window time.Duration) *RateLimitService {
	return &RateLimitService{
		counter:     counter,
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
	}
}

// Allow counts one request for identifier. Store errors are returned with
// an allowing decision so callers can fail open.
func (s *RateLimitService) Allow(ctx context.Context, identifier string) (RateDecision, error) {
	now := s.now()
	count, ttl, err := s.counter.IncrWindow(ctx, rateLimitKeyPrefix+identifier, s.window)
	if err != nil {
		return RateDecision{
			Allowed:   true,
			Limit:     s.maxRequests,
			Remaining: s.maxRequests,
			ResetAt:   now.Add(s.window),
		}, err
	}

	remaining := s.maxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return RateDecision{
		Allowed:   count <= int64(s.maxRequests),
		Limit:     s.maxRequests,
		Remaining: remaining,
		ResetAt:   now.Add(ttl),
	}, nil
}
