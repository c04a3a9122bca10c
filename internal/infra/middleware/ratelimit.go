package middleware

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"assistbot/internal/domain"
)

// ChatRateLimitConfig holds configuration for the per-chat limiter.
type ChatRateLimitConfig struct {
	MessagesPerMin int // steady-state messages allowed per chat; 0 disables limiting
	BurstSize      int // messages a quiet chat may send at once
	// IdleTTL is how long an idle chat keeps its bucket.
	IdleTTL time.Duration
}

// ChatRateLimit drops inbound messages from chats that exceed a token bucket
// keyed by chat id. Dropped messages get no reply. The cleanup goroutine
// exits when ctx is cancelled.
func ChatRateLimit(ctx context.Context, cfg ChatRateLimitConfig, logger *slog.Logger) func(domain.MessageHandler) domain.MessageHandler {
	if cfg.MessagesPerMin <= 0 {
		return func(next domain.MessageHandler) domain.MessageHandler { return next }
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 3 * time.Minute
	}

	type chat struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	chats := make(map[string]*chat)
	mu := &sync.Mutex{}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				mu.Lock()
				for id, c := range chats {
					if time.Since(c.lastSeen) > cfg.IdleTTL {
						delete(chats, id)
					}
				}
				mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()

	return func(next domain.MessageHandler) domain.MessageHandler {
		return func(ctx context.Context, msg domain.InboundMessage) error {
			mu.Lock()
			c, ok := chats[msg.ChatID]
			if !ok {
				c = &chat{limiter: rate.NewLimiter(rate.Limit(cfg.MessagesPerMin)/60.0, cfg.BurstSize)}
				chats[msg.ChatID] = c
			}
			c.lastSeen = time.Now()
			allowed := c.limiter.Allow()
			mu.Unlock()

			if !allowed {
				logger.Warn("chat rate limit exceeded, message dropped",
					"chat_id", msg.ChatID, "channel", msg.ChannelName)
				return nil
			}
			return next(ctx, msg)
		}
	}
}
