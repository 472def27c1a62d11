package handlers

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"household-planet/internal/auth"
	"household-planet/internal/logger"
	"household-planet/internal/services"
)

// Limiter считает запросы клиента в окне одной области (services.RateLimiter).
type Limiter interface {
	Allow(ctx context.Context, client string) (services.RateDecision, error)
	Usage(ctx context.Context, client string) (services.RateDecision, error)
	Enabled() bool
	Scope() string
	Now() time.Time
}

// rateLimitClient возвращает ключ клиента: пользователь из токена или IP.
// RemoteAddr к этому моменту уже заменён middleware.RealIP.
func rateLimitClient(r *http.Request) string {
	if principal := auth.FromContext(r.Context()); principal != nil {
		return "user:" + principal.UserID.String()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		host = r.RemoteAddr
	}
	return "ip:" + strings.ReplaceAll(host, ":", "_")
}

// RateLimit ограничивает запросы клиента. Ставится после Authenticator.Identify,
// иначе все клиенты считаются по IP.
func RateLimit(limiter Limiter, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || !limiter.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			client := rateLimitClient(r)
			decision, err := limiter.Allow(r.Context(), client)
			if err != nil {
				// без Redis лимит не считается, запрос пропускаем
				log.WithError(err).WithFields(map[string]interface{}{
					"scope":  limiter.Scope(),
					"client": client,
				}).Warn("Rate limiter unavailable, request allowed")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

			if !decision.Allowed {
				retry := decision.RetryAfter(limiter.Now())
				w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())))
				writeErrorResponse(w, http.StatusTooManyRequests, "Too many requests, retry in "+retry.String())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitHandler показывает клиенту состояние его окон по всем областям.
type RateLimitHandler struct {
	limiters []Limiter
	log      *logger.Logger
}

// NewRateLimitHandler создает RateLimitHandler для перечисленных областей.
func NewRateLimitHandler(log *logger.Logger, limiters ...Limiter) *RateLimitHandler {
	return &RateLimitHandler{limiters: limiters, log: log}
}

type rateLimitStatus struct {
	Enabled bool                    `json:"enabled"`
	Client  string                  `json:"client,omitempty"`
	Scopes  []services.RateDecision `json:"scopes,omitempty"`
}

// Status возвращает использование лимитов для текущего клиента.
func (h *RateLimitHandler) Status(w http.ResponseWriter, r *http.Request) {
	client := rateLimitClient(r)
	resp := rateLimitStatus{Client: client}

	seen := make(map[string]bool, len(h.limiters))
	for _, limiter := range h.limiters {
		if limiter == nil || !limiter.Enabled() || seen[limiter.Scope()] {
			continue
		}
		seen[limiter.Scope()] = true

		usage, err := limiter.Usage(r.Context(), client)
		if err != nil {
			h.log.WithError(err).WithField("scope", limiter.Scope()).Error("Failed to fetch rate limit usage")
			writeErrorResponse(w, http.StatusServiceUnavailable, "Rate limit status unavailable")
			return
		}
		resp.Scopes = append(resp.Scopes, usage)
	}
	resp.Enabled = len(resp.Scopes) > 0
	if !resp.Enabled {
		resp.Client = ""
	}

	writeJSONResponse(w, http.StatusOK, resp)
}
