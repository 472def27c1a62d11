package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"household-planet/internal/auth"
	"household-planet/internal/clock"
	"household-planet/internal/config"
	"household-planet/internal/logger"
	"household-planet/internal/models"
	"household-planet/internal/redis"
	"household-planet/internal/services"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func newTestLogger() *logger.Logger {
	return logger.New(&config.LoggerConfig{Level: "error", Format: "json"})
}

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := redis.Connect(&config.RedisConfig{Host: "127.0.0.1", Port: mr.Port()}, newTestLogger())
	if err != nil {
		t.Fatalf("redis connect: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

// withURLParams подставляет параметры маршрута chi при прямом вызове обработчика.
func withURLParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func withPrincipal(r *http.Request, userID uuid.UUID, role models.Role) *http.Request {
	return r.WithContext(auth.WithPrincipal(r.Context(), &auth.Principal{UserID: userID, Role: role}))
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp
}

// ----- stubs -----

type stubOrderService struct {
	mu       sync.Mutex
	order    *models.Order
	orders   []*models.Order
	history  []*models.OrderStatusHistory
	err      error
	getCalls int
	created  *models.CreateOrderRequest
	updated  *models.UpdateOrderStatusRequest
	filter   models.OrderFilter
}

func (s *stubOrderService) CreateOrder(_ context.Context, req *models.CreateOrderRequest) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = req
	if s.err != nil {
		return nil, s.err
	}
	return s.order, nil
}

func (s *stubOrderService) GetOrder(_ context.Context, _ uuid.UUID) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.err != nil {
		return nil, s.err
	}
	return s.order, nil
}

func (s *stubOrderService) GetOrders(_ context.Context, filter models.OrderFilter) ([]*models.Order, error) {
	s.filter = filter
	return s.orders, s.err
}

func (s *stubOrderService) UpdateOrderStatus(_ context.Context, _ uuid.UUID, req *models.UpdateOrderStatusRequest) error {
	s.updated = req
	return s.err
}

func (s *stubOrderService) GetOrderHistory(_ context.Context, _ uuid.UUID) ([]*models.OrderStatusHistory, error) {
	return s.history, s.err
}

type stubPaymentService struct {
	initResp    *models.InitiateMpesaResponse
	initErr     error
	initCalls   int
	callbackErr error
	payload     []byte
	verifHash   string
	payments    []*models.Payment
}

func (s *stubPaymentService) InitiateMpesa(_ context.Context, _ uuid.UUID, _ *models.InitiateMpesaRequest) (*models.InitiateMpesaResponse, error) {
	s.initCalls++
	return s.initResp, s.initErr
}

func (s *stubPaymentService) HandleMpesaCallback(_ context.Context, payload []byte) error {
	s.payload = payload
	return s.callbackErr
}

func (s *stubPaymentService) HandleCardCallback(_ context.Context, verifHash string, payload []byte) error {
	s.verifHash = verifHash
	s.payload = payload
	return s.callbackErr
}

func (s *stubPaymentService) GetPayments(_ context.Context, _ uuid.UUID) ([]*models.Payment, error) {
	return s.payments, nil
}

type stubPromoService struct {
	promo     *models.PromoCode
	list      []*models.PromoCode
	usages    []*models.PromoCodeUsage
	result    *models.ValidatePromoResult
	err       error
	getCalls  int
	validated *models.ValidatePromoRequest
}

func (s *stubPromoService) Validate(_ context.Context, req *models.ValidatePromoRequest) (*models.ValidatePromoResult, error) {
	s.validated = req
	return s.result, s.err
}

func (s *stubPromoService) CreatePromoCode(_ context.Context, _ *models.CreatePromoCodeRequest) (*models.PromoCode, error) {
	return s.promo, s.err
}

func (s *stubPromoService) GetPromoCode(_ context.Context, _ string) (*models.PromoCode, error) {
	s.getCalls++
	return s.promo, s.err
}

func (s *stubPromoService) UpdatePromoCode(_ context.Context, _ string, _ *models.UpdatePromoCodeRequest) (*models.PromoCode, error) {
	return s.promo, s.err
}

func (s *stubPromoService) DeletePromoCode(_ context.Context, _ string) error {
	return s.err
}

func (s *stubPromoService) ListPromoCodes(_ context.Context, _, _ int) ([]*models.PromoCode, error) {
	return s.list, s.err
}

func (s *stubPromoService) ListUsages(_ context.Context, _ string, _, _ int) ([]*models.PromoCodeUsage, error) {
	return s.usages, s.err
}

type stubAuthService struct {
	resp *models.LoginResponse
	err  error
}

func (s *stubAuthService) Login(_ context.Context, _ *models.LoginRequest) (*models.LoginResponse, error) {
	return s.resp, s.err
}

type stubAnalyticsService struct {
	report *models.SalesReport
	err    error
	filter *models.AnalyticsFilter
}

func (s *stubAnalyticsService) GetSalesReport(_ context.Context, filter *models.AnalyticsFilter) (*models.SalesReport, error) {
	s.filter = filter
	return s.report, s.err
}

// ----- router fixture -----

type routerFixture struct {
	handler   http.Handler
	tokens    *auth.TokenService
	orders    *stubOrderService
	payments  *stubPaymentService
	promos    *stubPromoService
	analytics *stubAnalyticsService
	mr        *miniredis.Miniredis
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	return newRouterFixtureWithLimits(t, &config.RateLimitConfig{Enabled: false})
}

func newRouterFixtureWithLimits(t *testing.T, limits *config.RateLimitConfig) *routerFixture {
	t.Helper()
	log := newTestLogger()
	rdb, mr := newTestRedis(t)

	tokens, err := auth.NewTokenService("test-secret", time.Hour, "household-planet", clock.NewRealClock())
	if err != nil {
		t.Fatalf("token service: %v", err)
	}

	f := &routerFixture{
		tokens:    tokens,
		orders:    &stubOrderService{},
		payments:  &stubPaymentService{},
		promos:    &stubPromoService{},
		analytics: &stubAnalyticsService{report: &models.SalesReport{}},
		mr:        mr,
	}

	limiter := services.NewRateLimiter(rdb, log, limits, clock.NewRealClock())
	promoLimiter := limiter.Scoped(services.RateScopePromo, limits.PromoValidateRequests)
	router := &Router{
		Log:           log,
		CORSOrigins:   "*",
		Authenticator: NewAuthenticator(tokens, log),
		Limiter:       limiter,
		PromoLimiter:  promoLimiter,
		Health:        NewHealthHandler(&stubDB{}, &stubRedisHealth{}, nil, func([]string) error { return nil }),
		Orders:        NewOrderHandler(f.orders, f.payments, rdb, log),
		Payments:      NewPaymentHandler(f.payments, log),
		Promo:         NewPromoHandler(f.promos, rdb, log),
		Delivery:      NewDeliveryHandler(services.NewDeliveryPricingService(services.DefaultDeliveryLocations()), log),
		Auth:          NewAuthHandler(&stubAuthService{}, log),
		Analytics:     NewAnalyticsHandler(f.analytics, log, &config.AnalyticsConfig{MaxRangeDays: 365}),
		RateLimit:     NewRateLimitHandler(log, limiter, promoLimiter),
	}
	f.handler = router.Handler()
	return f
}

func (f *routerFixture) token(t *testing.T, userID uuid.UUID, role models.Role) string {
	t.Helper()
	token, _, err := f.tokens.GenerateToken(userID, role)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

func (f *routerFixture) do(method, path, token string, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}
