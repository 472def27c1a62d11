package services

import (
	"context"
	"fmt"
	"time"

	"household-planet/internal/clock"
	"household-planet/internal/config"
	"household-planet/internal/logger"
	"household-planet/internal/redis"
)

// Области лимитов.
const (
	RateScopeAPI   = "api"
	RateScopePromo = "promo"
)

// RateDecision — состояние окна клиента после запроса (или без него, для Usage).
type RateDecision struct {
	Scope     string    `json:"scope"`
	Allowed   bool      `json:"-"`
	Limit     int64     `json:"limit"`
	Used      int64     `json:"used"`
	Remaining int64     `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// RetryAfter возвращает, сколько ждать до нового окна (не меньше секунды).
func (d RateDecision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now).Round(time.Second)
	if wait < time.Second {
		return time.Second
	}
	return wait
}

type hitCounter interface {
	CountHit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	PeekHits(ctx context.Context, key string) (int64, time.Duration, error)
}

// RateLimiter считает запросы клиента в фиксированном окне. Клиент — это
// пользователь из токена или IP; ключ строит HTTP-слой.
// Проверка промокодов получает отдельную, более строгую область через Scoped.
type RateLimiter struct {
	counter hitCounter
	log     *logger.Logger
	clock   clock.Clock
	enabled bool
	scope   string
	limit   int64
	window  time.Duration
	prefix  string
}

// NewRateLimiter создаёт лимитер общей области "api". Без Redis или при выключенном
// конфиге возвращается выключенный лимитер.
func NewRateLimiter(redisClient *redis.Client, log *logger.Logger, cfg *config.RateLimitConfig, clk clock.Clock) *RateLimiter {
	if redisClient == nil || cfg == nil || !cfg.Enabled || cfg.Requests <= 0 || cfg.WindowSeconds <= 0 {
		return &RateLimiter{scope: RateScopeAPI}
	}
	return newRateLimiter(redisClient, log, clk, cfg)
}

func newRateLimiter(counter hitCounter, log *logger.Logger, clk clock.Clock, cfg *config.RateLimitConfig) *RateLimiter {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = redis.KeyPrefixRateLimit
	}
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &RateLimiter{
		counter: counter,
		log:     log,
		clock:   clk,
		enabled: true,
		scope:   RateScopeAPI,
		limit:   int64(cfg.Requests),
		window:  time.Duration(cfg.WindowSeconds) * time.Second,
		prefix:  prefix,
	}
}

// Scoped возвращает лимитер с тем же окном, но своим лимитом и пространством ключей.
// При requests <= 0 возвращается сам лимитер.
func (r *RateLimiter) Scoped(scope string, requests int) *RateLimiter {
	if !r.enabled || requests <= 0 {
		return r
	}
	scoped := *r
	scoped.scope = scope
	scoped.limit = int64(requests)
	return &scoped
}

// Allow засчитывает запрос клиента и сообщает, укладывается ли он в лимит.
func (r *RateLimiter) Allow(ctx context.Context, client string) (RateDecision, error) {
	if !r.enabled {
		return RateDecision{Scope: r.scope, Allowed: true}, nil
	}

	key := r.key(client)
	count, ttl, err := r.counter.CountHit(ctx, key, r.window)
	if err != nil {
		return RateDecision{}, fmt.Errorf("rate limiter %s: %w", r.scope, err)
	}

	decision := r.decision(count, ttl)
	if !decision.Allowed {
		r.log.WithFields(map[string]interface{}{
			"scope":  r.scope,
			"client": client,
			"count":  count,
		}).Warn("Rate limit exceeded")
	}
	return decision, nil
}

// Usage возвращает состояние окна клиента, не засчитывая запрос.
func (r *RateLimiter) Usage(ctx context.Context, client string) (RateDecision, error) {
	if !r.enabled {
		return RateDecision{Scope: r.scope, Allowed: true}, nil
	}

	count, ttl, err := r.counter.PeekHits(ctx, r.key(client))
	if err != nil {
		return RateDecision{}, fmt.Errorf("rate limiter %s: %w", r.scope, err)
	}
	if count == 0 {
		ttl = r.window
	}
	return r.decision(count, ttl), nil
}

func (r *RateLimiter) decision(count int64, ttl time.Duration) RateDecision {
	remaining := r.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return RateDecision{
		Scope:     r.scope,
		Allowed:   count <= r.limit,
		Limit:     r.limit,
		Used:      count,
		Remaining: remaining,
		ResetAt:   r.clock.Now().Add(ttl),
	}
}

func (r *RateLimiter) key(client string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, r.scope, client)
}

// Now возвращает текущее время часов лимитера.
func (r *RateLimiter) Now() time.Time {
	if r.clock == nil {
		return time.Now()
	}
	return r.clock.Now()
}

// Scope возвращает имя области.
func (r *RateLimiter) Scope() string {
	return r.scope
}

// Enabled сообщает, включён ли rate limiting.
func (r *RateLimiter) Enabled() bool {
	return r.enabled
}
