package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/tablemenu/internal/config"
)

const keyPaymentRestaurant = "tablemenu:ratelimit:payment:%s"

// PaymentLimiter throttles purchase and refresh calls per restaurant. A nil
// limiter allows everything.
type PaymentLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewPaymentLimiter(cfg config.Config, bucket *TokenBucket) (*PaymentLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled || bucket == nil {
		return nil, nil
	}
	if limitCfg.PaymentRate <= 0 || limitCfg.PaymentBurst <= 0 {
		return nil, errors.New("payment rate limit must be positive")
	}
	return &PaymentLimiter{
		bucket: bucket,
		rate:   limitCfg.PaymentRate,
		burst:  limitCfg.PaymentBurst,
	}, nil
}

func (l *PaymentLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *PaymentLimiter) Allow(ctx context.Context, restaurantID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyPaymentRestaurant, strings.TrimSpace(restaurantID))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}
