package handlers

import (
	"net/http"

	"household-planet/internal/auth"
	"household-planet/internal/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Router собирает все обработчики и middleware HTTP API.
type Router struct {
	Log           *logger.Logger
	CORSOrigins   string
	Authenticator *Authenticator
	Limiter       Limiter
	PromoLimiter  Limiter

	Health    *HealthHandler
	Orders    *OrderHandler
	Payments  *PaymentHandler
	Promo     *PromoHandler
	Delivery  *DeliveryHandler
	Auth      *AuthHandler
	Analytics *AnalyticsHandler
	RateLimit *RateLimitHandler
}

// Handler строит chi-маршрутизатор.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(AccessLog(rt.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(CORSOptions(rt.CORSOrigins)))

	// Health check endpoints
	r.Get("/health", rt.Health.Health)
	r.Get("/health/readiness", rt.Health.Readiness)
	r.Get("/health/liveness", rt.Health.Liveness)

	r.Route("/api", func(r chi.Router) {
		// Вебхуки провайдеров не ограничиваются: повторы приходят пачками
		r.Post("/payments/mpesa/callback", rt.Payments.MpesaCallback)
		r.Post("/payments/card/callback", rt.Payments.CardCallback)

		r.Group(func(r chi.Router) {
			r.Use(rt.Authenticator.Identify)
			r.Use(RateLimit(rt.Limiter, rt.Log))

			r.Get("/rate-limit/status", rt.RateLimit.Status)
			r.Post("/auth/login", rt.Auth.Login)

			r.Get("/delivery/price", rt.Delivery.GetPrice)
			r.Get("/delivery/locations", rt.Delivery.ListLocations)

			r.With(rt.Authenticator.OptionalAuth, RateLimit(rt.PromoLimiter, rt.Log)).
				Post("/promo-codes/validate", rt.Promo.ValidatePromoCode)

			r.Route("/orders", func(r chi.Router) {
				r.Post("/guest", rt.Orders.CreateGuestOrder)
				r.With(rt.Authenticator.OptionalAuth).Post("/{id}/payments/mpesa", rt.Orders.InitiateMpesaPayment)

				r.Group(func(r chi.Router) {
					r.Use(rt.Authenticator.RequireAuth)
					r.With(RequirePermission(auth.PermOrdersCreate)).Post("/", rt.Orders.CreateOrder)
					r.Get("/{id}", rt.Orders.GetOrder)
				})
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(rt.Authenticator.RequireAuth)

				r.With(RequirePermission(auth.PermOrdersRead)).Get("/orders", rt.Orders.ListOrders)
				r.With(RequirePermission(auth.PermOrdersWrite)).Patch("/orders/{id}/status", rt.Orders.UpdateOrderStatus)
				r.With(RequirePermission(auth.PermOrdersRead)).Get("/orders/{id}/history", rt.Orders.GetOrderHistory)

				r.Route("/promo-codes", func(r chi.Router) {
					r.With(RequirePermission(auth.PermPromosRead)).Get("/", rt.Promo.ListPromoCodes)
					r.With(RequirePermission(auth.PermPromosWrite)).Post("/", rt.Promo.CreatePromoCode)
					r.With(RequirePermission(auth.PermPromosRead)).Get("/{code}", rt.Promo.GetPromoCode)
					r.With(RequirePermission(auth.PermPromosWrite)).Put("/{code}", rt.Promo.UpdatePromoCode)
					r.With(RequirePermission(auth.PermPromosWrite)).Delete("/{code}", rt.Promo.DeletePromoCode)
					r.With(RequirePermission(auth.PermPromosRead)).Get("/{code}/usages", rt.Promo.ListPromoCodeUsages)
				})

				r.With(RequirePermission(auth.PermAnalyticsRead)).Get("/analytics/sales", rt.Analytics.GetSalesReport)
			})
		})
	})

	return r
}
