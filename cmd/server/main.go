package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"household-planet/internal/auth"
	"household-planet/internal/clock"
	"household-planet/internal/config"
	"household-planet/internal/database"
	"household-planet/internal/handlers"
	"household-planet/internal/kafka"
	"household-planet/internal/logger"
	"household-planet/internal/models"
	"household-planet/internal/notification"
	"household-planet/internal/redis"
	"household-planet/internal/services"
)

// Фабричные функции для подключения внешних сервисов (подменяемые в тестах).
var (
	dbConnect        = database.Connect
	redisConnect     = redis.Connect
	newKafkaProducer = kafka.NewProducer
	newKafkaConsumer = kafka.NewConsumer
	kafkaHealthCheck = handlers.CheckKafkaHealth
	loadConfig       = config.Load
	newLogger        = logger.New
)

// application агрегирует собранные зависимости.
type application struct {
	cfg        *config.Config
	log        *logger.Logger
	db         *database.DB
	redis      *redis.Client
	producer   *kafka.Producer
	consumer   *kafka.Consumer
	localBus   *kafka.LocalBus
	reconciler *services.PaymentReconciler
	server     *http.Server
}

func main() {
	app, err := buildApplication()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build app: %v\n", err)
		os.Exit(1)
	}
	app.log.Info("Starting Household Planet server...")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if app.reconciler != nil {
		app.reconciler.Start(ctx)
	}

	go func() {
		app.log.WithField("address", app.server.Addr).Info("HTTP server starting")
		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	app.log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.server.Shutdown(shutdownCtx); err != nil {
		app.log.WithError(err).Error("Server forced to shutdown")
	}
	app.close()
	app.log.Info("Server exited")
}

// close освобождает ресурсы в обратном порядке создания.
func (a *application) close() {
	if a.reconciler != nil {
		a.reconciler.Stop()
	}
	if a.localBus != nil {
		_ = a.localBus.Close()
	}
	if a.consumer != nil {
		_ = a.consumer.Stop()
	}
	if a.producer != nil {
		_ = a.producer.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

// buildApplication создает все зависимости (подменяемые в тестах).
func buildApplication() (*application, error) {
	cfg := loadConfig()
	log := newLogger(&cfg.Logger)
	app := &application{cfg: cfg, log: log}

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.Issuer, clock.NewRealClock())
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}

	db, err := dbConnect(&cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	app.db = db

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(context.Background()); err != nil {
			app.close()
			return nil, fmt.Errorf("db migrate: %w", err)
		}
	}

	redisClient, err := redisConnect(&cfg.Redis, log)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	app.redis = redisClient

	// Без Kafka события раздаются тем же обработчикам внутри процесса
	var (
		events   services.EventPublisher
		registry eventRegistry
	)
	if producer, consumer, ok := connectKafka(cfg, log); ok {
		app.producer, app.consumer = producer, consumer
		events, registry = producer, consumer
	} else {
		app.localBus = kafka.NewLocalBus(log)
		events, registry = app.localBus, app.localBus
	}

	deliveryPricing, err := services.LoadDeliveryPricing(context.Background(), db, log)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("delivery pricing: %w", err)
	}

	realClock := clock.NewRealClock()
	mpesaClient := services.NewMpesaClient(redisClient, log, &cfg.Mpesa)
	promoService := services.NewPromoService(db, log, realClock)
	orderService := services.NewOrderService(db, log, deliveryPricing, promoService, events, realClock)
	paymentService := services.NewPaymentService(db, log, mpesaClient, events, cfg.Card.WebhookHash, realClock)
	authService := services.NewAuthService(db, tokens, log)
	analyticsService := services.NewAnalyticsService(db, redisClient, log, &cfg.Analytics)
	rateLimiter := services.NewRateLimiter(redisClient, log, &cfg.RateLimit, realClock)
	promoLimiter := rateLimiter.Scoped(services.RateScopePromo, cfg.RateLimit.PromoValidateRequests)

	if cfg.Reconciler.Enabled {
		app.reconciler = services.NewPaymentReconciler(paymentService, log, cfg.Reconciler)
	}

	orderHandler := handlers.NewOrderHandler(orderService, paymentService, redisClient, log)
	promoHandler := handlers.NewPromoHandler(promoService, redisClient, log)

	dispatcher := notification.NewDispatcher(log, time.Duration(cfg.Notification.DedupeTTLHours)*time.Hour,
		notification.Channels(&cfg.Notification, log)...).
		WithDedupe(redisClient)
	if app.producer != nil {
		dispatcher.WithPublisher(app.producer)
	}
	registerEventHandlers(registry, dispatcher, orderHandler, promoHandler, log)

	if app.consumer != nil {
		if err := app.consumer.Start(); err != nil {
			app.close()
			return nil, fmt.Errorf("kafka consumer start: %w", err)
		}
	}

	router := &handlers.Router{
		Log:           log,
		CORSOrigins:   cfg.Server.CORSOrigins,
		Authenticator: handlers.NewAuthenticator(tokens, log),
		Limiter:       rateLimiter,
		PromoLimiter:  promoLimiter,
		Health:        handlers.NewHealthHandler(db, redisClient, cfg.Kafka.Brokers, kafkaHealthCheck),
		Orders:        orderHandler,
		Payments:      handlers.NewPaymentHandler(paymentService, log),
		Promo:         promoHandler,
		Delivery:      handlers.NewDeliveryHandler(deliveryPricing, log),
		Auth:          handlers.NewAuthHandler(authService, log),
		Analytics:     handlers.NewAnalyticsHandler(analyticsService, log, &cfg.Analytics),
		RateLimit:     handlers.NewRateLimitHandler(log, rateLimiter, promoLimiter),
	}

	app.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	return app, nil
}

// connectKafka создает продюсера и консьюмера. Если брокер недоступен хотя бы
// для одного из них, ok == false и созданное закрывается.
func connectKafka(cfg *config.Config, log *logger.Logger) (producer *kafka.Producer, consumer *kafka.Consumer, ok bool) {
	producer, err := newKafkaProducer(&cfg.Kafka, log)
	if err != nil {
		log.WithError(err).Warn("Kafka producer unavailable, events handled in-process")
		return nil, nil, false
	}
	consumer, err = newKafkaConsumer(&cfg.Kafka, log)
	if err != nil {
		log.WithError(err).Warn("Kafka consumer unavailable, events handled in-process")
		_ = producer.Close()
		return nil, nil, false
	}
	return producer, consumer, true
}

// eventRegistry — Consumer или LocalBus.
type eventRegistry interface {
	RegisterHandler(eventType models.EventType, handler kafka.EventHandler)
}

// chain вызывает обработчики по очереди; первая ошибка прерывает цепочку.
// Consumer держит один обработчик на тип события.
func chain(steps ...kafka.EventHandler) kafka.EventHandler {
	return func(ctx context.Context, event *models.Event) error {
		for _, step := range steps {
			if err := step(ctx, event); err != nil {
				return err
			}
		}
		return nil
	}
}

// registerEventHandlers регистрирует обработчики событий Kafka.
func registerEventHandlers(consumer eventRegistry, dispatcher *notification.Dispatcher, orders *handlers.OrderHandler, promos *handlers.PromoHandler, log *logger.Logger) {
	consumer.RegisterHandler(models.EventTypeOrderCreated, func(ctx context.Context, event *models.Event) error {
		log.WithField("event_id", event.ID).Debug("Processing order created event")
		return nil
	})

	consumer.RegisterHandler(models.EventTypeOrderStatusChanged, orders.HandleOrderEvent)

	// Кеш сбрасывается первым: повтор доставки после сбоя рассылки снимается дедупликацией
	consumer.RegisterHandler(models.EventTypePaymentStatusChanged,
		chain(orders.HandleOrderEvent, dispatcher.HandlePaymentStatusChanged))

	consumer.RegisterHandler(models.EventTypePromoRedeemed, promos.HandlePromoRedeemed)
}
