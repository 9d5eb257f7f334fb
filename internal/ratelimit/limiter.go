package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/fstopclub/fstop/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const (
	keyBooking = "ratelimit:booking:%s"
	keyWebhook = "ratelimit:webhook:%s"
)

// RequestLimiter throttles the two endpoints the outside world can
// hammer: bookings per user and webhook deliveries per source address.
// Rates come from the booking policy, so they hot-reload with it.
type RequestLimiter struct {
	enabled bool
	bucket  *TokenBucket
	policy  *config.BookingPolicyHolder
}

func NewRequestLimiter(cfg config.Config, policy *config.BookingPolicyHolder) *RequestLimiter {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		// No redis, no limiting. Single-instance deployments run fine
		// without it.
		return &RequestLimiter{policy: policy}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})

	return &RequestLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		policy:  policy,
	}
}

func (l *RequestLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *RequestLimiter) AllowBooking(ctx context.Context, userID string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	p := l.policy.Get()
	return l.bucket.Allow(ctx,
		fmt.Sprintf(keyBooking, strings.TrimSpace(userID)),
		p.BookingRatePerSecond, p.BookingBurst,
	)
}

func (l *RequestLimiter) AllowWebhook(ctx context.Context, remoteAddr string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	p := l.policy.Get()
	return l.bucket.Allow(ctx,
		fmt.Sprintf(keyWebhook, strings.TrimSpace(remoteAddr)),
		p.WebhookRatePerSecond, p.WebhookBurst,
	)
}
