package handlers

import (
	"net/http"
	"strings"
	"time"

	"household-planet/internal/auth"
	"household-planet/internal/logger"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// TokenValidator проверяет bearer-токен.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// Authenticator кладёт Principal из JWT в контекст запроса.
type Authenticator struct {
	tokens TokenValidator
	log    *logger.Logger
}

// NewAuthenticator создает middleware аутентификации.
func NewAuthenticator(tokens TokenValidator, log *logger.Logger) *Authenticator {
	return &Authenticator{tokens: tokens, log: log}
}

// RequireAuth пропускает только запросы с валидным токеном.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			writeErrorResponse(w, http.StatusUnauthorized, "Authorization token required")
			return
		}
		principal, err := a.principal(raw)
		if err != nil {
			writeErrorResponse(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

// OptionalAuth распознаёт токен, если он есть. Невалидный токен отклоняется,
// запрос без токена проходит анонимно.
func (a *Authenticator) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		principal, err := a.principal(raw)
		if err != nil {
			writeErrorResponse(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

// Identify распознаёт токен, если он валиден, и никогда не отклоняет запрос.
// Нужен перед RateLimit, чтобы клиента считать по пользователю.
func (a *Authenticator) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		principal, err := a.principal(raw)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

func (a *Authenticator) principal(raw string) (*auth.Principal, error) {
	claims, err := a.tokens.ValidateToken(raw)
	if err != nil {
		return nil, err
	}
	return &auth.Principal{UserID: claims.UserID, Role: claims.Role}, nil
}

// RequirePermission требует у вызывающего право perm. Ставится после RequireAuth.
func RequirePermission(perm auth.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := auth.FromContext(r.Context())
			if principal == nil {
				writeErrorResponse(w, http.StatusUnauthorized, "Authorization token required")
				return
			}
			if !principal.Can(perm) {
				writeErrorResponse(w, http.StatusForbidden, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// AccessLog пишет строку лога на каждый запрос.
func AccessLog(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			log.WithFields(map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
				"remote_addr": r.RemoteAddr,
			}).Info("HTTP request")
		})
	}
}

// CORSOptions строит настройки go-chi/cors из списка origin через запятую.
// "*" разрешает любой origin.
func CORSOptions(origins string) cors.Options {
	var allowed []string
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed = append(allowed, o)
		}
	}
	return cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	}
}
