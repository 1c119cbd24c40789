package ratelimiter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces outgoing messages per chat.
type RateLimiter struct {
	limiters map[int64]*rate.Limiter
	mu       sync.Mutex
	log      *slog.Logger
}

func New(log *slog.Logger) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[int64]*rate.Limiter),
		log:      log,
	}
}

// Wait blocks until a message may be sent to chatID or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, chatID int64) error {
	reservation := rl.limiter(chatID).Reserve()

	if delay := reservation.Delay(); delay > 0 {
		rl.log.DebugContext(ctx, "Rate limiting message",
			"chatID", chatID,
			"delay", delay)

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			reservation.Cancel()
			return fmt.Errorf("wait for chat %d: %w", chatID, ctx.Err())
		}
	}

	return nil
}

func (rl *RateLimiter) limiter(chatID int64) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, ok := rl.limiters[chatID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(getRate(chatID)), burst)
		rl.limiters[chatID] = limiter
	}

	return limiter
}

func getRate(chatID int64) time.Duration {
	if chatID < 0 {
		return groupChatRate
	}
	return privateChatRate
}
